package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingIssuer        = errors.New("issuer must be provided")
	errMissingAudience      = errors.New("audience must be provided")
	errInvalidTTL           = errors.New("ticket ttl must be positive")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")

	// ErrRoomMismatch indicates a valid ticket presented for a different room.
	ErrRoomMismatch = errors.New("auth: ticket does not cover this room")
)

// TicketIssuerConfig configures the room ticket issuer.
type TicketIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TicketTTL     time.Duration
	Clock         func() time.Time
}

// TicketIssuer signs short-lived HS256 tickets scoped to one room.
type TicketIssuer struct {
	config TicketIssuerConfig
	clock  func() time.Time
}

// NewTicketIssuer validates the configuration and constructs a TicketIssuer.
func NewTicketIssuer(cfg TicketIssuerConfig) (*TicketIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errMissingIssuer
	}
	if strings.TrimSpace(cfg.Audience) == "" {
		return nil, errMissingAudience
	}
	if cfg.TicketTTL <= 0 {
		return nil, errInvalidTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	cfg.Clock = clock
	return &TicketIssuer{config: cfg, clock: clock}, nil
}

// IssueRoomTicket produces a signed ticket and its lifetime in seconds.
func (i *TicketIssuer) IssueRoomTicket(roomID string) (string, int64, error) {
	if roomID == "" {
		return "", 0, errMissingSubjectClaim
	}
	ticketID, err := uuid.NewV7()
	if err != nil {
		return "", 0, fmt.Errorf("generate ticket id: %w", err)
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.config.TicketTTL).UTC()

	registered := jwt.RegisteredClaims{
		ID:        ticketID.String(),
		Subject:   roomID,
		Issuer:    i.config.Issuer,
		Audience:  []string{i.config.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	signed, err := token.SignedString(i.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateTicket checks signature, issuer, audience and expiry, and returns
// the room the ticket was issued for.
func (i *TicketIssuer) ValidateTicket(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithAudience(i.config.Audience),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingSubjectClaim
	}
	return claims.Subject, nil
}

// AuthorizeRoom validates the ticket and confirms it was issued for roomID.
func (i *TicketIssuer) AuthorizeRoom(tokenString, roomID string) error {
	subject, err := i.ValidateTicket(tokenString)
	if err != nil {
		return err
	}
	if subject != roomID {
		return ErrRoomMismatch
	}
	return nil
}
