package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/watergrow/internal/auth"
	"github.com/MarcoPoloResearchLab/watergrow/internal/rooms"
	githubsqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testHarness struct {
	handler    http.Handler
	service    *rooms.Service
	tickets    *auth.TicketIssuer
	dispatcher *RealtimeDispatcher
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(githubsqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&rooms.RoomModel{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	dispatcher := NewRealtimeDispatcher(0)
	service, err := rooms.NewService(rooms.ServiceConfig{Database: db, Publisher: dispatcher})
	if err != nil {
		t.Fatalf("failed to create room service: %v", err)
	}
	tickets, err := auth.NewTicketIssuer(auth.TicketIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "watergrow-api",
		Audience:      "watergrow-rooms",
		TicketTTL:     time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to create ticket issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Rooms:             service,
		Tickets:           tickets,
		Realtime:          dispatcher,
		Logger:            zap.NewNop(),
		HeartbeatInterval: time.Second,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return &testHarness{handler: handler, service: service, tickets: tickets, dispatcher: dispatcher}
}

func (h *testHarness) serve(request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}
