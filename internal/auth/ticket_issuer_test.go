package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func newTestIssuer(t *testing.T, clock func() time.Time) *TicketIssuer {
	t.Helper()
	issuer, err := NewTicketIssuer(TicketIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "watergrow-api",
		Audience:      "watergrow-rooms",
		TicketTTL:     30 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return issuer
}

func TestTicketIssuerIssuesRoomTickets(t *testing.T) {
	issuer := newTestIssuer(t, nil)

	tokenString, expiresIn, err := issuer.IssueRoomTicket("love-123")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry seconds %d", expiresIn)
	}

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated ticket: %v", err)
	}
	if claims.Subject != "love-123" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Issuer != "watergrow-api" {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != "watergrow-rooms" {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
	parsedID, err := uuid.Parse(claims.ID)
	if err != nil || parsedID.Version() != 7 {
		t.Fatalf("expected a v7 ticket id, got %q", claims.ID)
	}
}

func TestNewTicketIssuerValidatesConfig(t *testing.T) {
	testCases := []struct {
		name string
		cfg  TicketIssuerConfig
	}{
		{name: "missing secret", cfg: TicketIssuerConfig{Issuer: "a", Audience: "b", TicketTTL: time.Minute}},
		{name: "missing issuer", cfg: TicketIssuerConfig{SigningSecret: []byte("s"), Audience: "b", TicketTTL: time.Minute}},
		{name: "blank audience", cfg: TicketIssuerConfig{SigningSecret: []byte("s"), Issuer: "a", Audience: " ", TicketTTL: time.Minute}},
		{name: "zero ttl", cfg: TicketIssuerConfig{SigningSecret: []byte("s"), Issuer: "a", Audience: "b"}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := NewTicketIssuer(testCase.cfg); err == nil {
				t.Fatalf("expected constructor error")
			}
		})
	}
}

func TestTicketIssuerValidatesIssuedTickets(t *testing.T) {
	issuer := newTestIssuer(t, nil)

	tokenString, _, err := issuer.IssueRoomTicket("love-123")
	if err != nil {
		t.Fatalf("unexpected error issuing ticket: %v", err)
	}

	subject, err := issuer.ValidateTicket(tokenString)
	if err != nil {
		t.Fatalf("expected validation success: %v", err)
	}
	if subject != "love-123" {
		t.Fatalf("unexpected subject %s", subject)
	}

	if _, err := issuer.ValidateTicket("invalid.token"); err == nil {
		t.Fatalf("expected validation to fail for malformed ticket")
	}
}

func TestAuthorizeRoomRejectsOtherRooms(t *testing.T) {
	issuer := newTestIssuer(t, nil)
	tokenString, _, err := issuer.IssueRoomTicket("love-123")
	if err != nil {
		t.Fatalf("unexpected error issuing ticket: %v", err)
	}
	if err := issuer.AuthorizeRoom(tokenString, "love-123"); err != nil {
		t.Fatalf("expected ticket to cover its room: %v", err)
	}
	if err := issuer.AuthorizeRoom(tokenString, "other-room"); !errors.Is(err, ErrRoomMismatch) {
		t.Fatalf("expected ErrRoomMismatch, got %v", err)
	}
}

func TestTicketIssuerRejectsExpiredTickets(t *testing.T) {
	issuedAt := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	now := issuedAt
	issuer := newTestIssuer(t, func() time.Time { return now })

	tokenString, _, err := issuer.IssueRoomTicket("love-123")
	if err != nil {
		t.Fatalf("unexpected error issuing ticket: %v", err)
	}

	now = issuedAt.Add(31 * time.Minute)
	if _, err := issuer.ValidateTicket(tokenString); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected expired ticket error, got %v", err)
	}
}

func TestTicketIssuerRejectsForeignSecret(t *testing.T) {
	issuer := newTestIssuer(t, nil)
	foreign, err := NewTicketIssuer(TicketIssuerConfig{
		SigningSecret: []byte("other-secret"),
		Issuer:        "watergrow-api",
		Audience:      "watergrow-rooms",
		TicketTTL:     time.Minute,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	tokenString, _, err := foreign.IssueRoomTicket("love-123")
	if err != nil {
		t.Fatalf("unexpected error issuing ticket: %v", err)
	}
	if _, err := issuer.ValidateTicket(tokenString); err == nil {
		t.Fatalf("expected signature validation failure")
	}
}
