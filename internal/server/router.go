package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/watergrow/internal/rooms"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	roomIDContextKey         = "watergrow_room_id"
	roomIDParam              = "room_id"
	accessTokenQueryKey      = "access_token"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingRoomService   = errors.New("room service dependency required")
	errMissingTicketManager = errors.New("ticket manager dependency required")
	errMissingRealtime      = errors.New("realtime dispatcher dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// RoomService is the Room Store surface exposed over HTTP.
type RoomService interface {
	Get(ctx context.Context, roomID rooms.RoomID) (rooms.Room, error)
	Insert(ctx context.Context, roomID rooms.RoomID) (rooms.Room, error)
	ApplyWater(ctx context.Context, change rooms.WaterChange) (rooms.Room, error)
}

// TicketManager issues and checks room-scoped tickets.
type TicketManager interface {
	IssueRoomTicket(roomID string) (string, int64, error)
	AuthorizeRoom(token, roomID string) error
}

type Dependencies struct {
	Rooms             RoomService
	Tickets           TicketManager
	Realtime          *RealtimeDispatcher
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Rooms == nil {
		return nil, errMissingRoomService
	}
	if deps.Tickets == nil {
		return nil, errMissingTicketManager
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	// Room ids may contain '/'; route on the escaped path and unescape params.
	router.UseRawPath = true
	router.UnescapePathValues = true
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		rooms:     deps.Rooms,
		tickets:   deps.Tickets,
		realtime:  deps.Realtime,
		logger:    logger,
		heartbeat: heartbeat,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/rooms/:room_id", handler.handleGetRoom)
	router.POST("/rooms", handler.handleInsertRoom)

	protected := router.Group("/rooms/:room_id")
	protected.Use(handler.authorizeRoom)
	protected.PATCH("/water", handler.handleWater)
	protected.GET("/stream", handler.handleStream)
	protected.GET("/ws", handler.handleWebSocket)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders:    []string{"Authorization", "Content-Type"},
		MaxAge:          12 * time.Hour,
	})
}

type httpHandler struct {
	rooms     RoomService
	tickets   TicketManager
	realtime  *RealtimeDispatcher
	logger    *zap.Logger
	heartbeat time.Duration
}

type roomEnvelope struct {
	Room      rooms.Room `json:"room"`
	Ticket    string     `json:"ticket,omitempty"`
	ExpiresIn int64      `json:"expires_in,omitempty"`
}

type insertRequestPayload struct {
	RoomID string `json:"room_id"`
}

type waterRequestPayload struct {
	Role        string     `json:"role"`
	Count       *int64     `json:"count"`
	LastWatered *time.Time `json:"last_watered"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleGetRoom(c *gin.Context) {
	roomID, err := rooms.NewRoomID(c.Param(roomIDParam))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_room_id", err)
		return
	}

	room, err := h.rooms.Get(c.Request.Context(), roomID)
	switch {
	case errors.Is(err, rooms.ErrRoomNotFound):
		respondError(c, http.StatusNotFound, "room_not_found", err)
		return
	case err != nil:
		h.logger.Error("room read failed", zap.String("room_id", roomID.String()), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "query_failed", err)
		return
	}
	h.respondWithTicket(c, http.StatusOK, room)
}

func (h *httpHandler) handleInsertRoom(c *gin.Context) {
	var request insertRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	roomID, err := rooms.NewRoomID(request.RoomID)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_room_id", err)
		return
	}

	room, err := h.rooms.Insert(c.Request.Context(), roomID)
	switch {
	case errors.Is(err, rooms.ErrRoomExists):
		respondError(c, http.StatusConflict, "room_exists", err)
		return
	case err != nil:
		h.logger.Error("room insert failed", zap.String("room_id", roomID.String()), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "insert_failed", err)
		return
	}
	h.respondWithTicket(c, http.StatusCreated, room)
}

func (h *httpHandler) handleWater(c *gin.Context) {
	roomID := rooms.RoomID(c.GetString(roomIDContextKey))

	var request waterRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Count == nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	role, err := rooms.ParseRole(request.Role)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_role", err)
		return
	}
	change := rooms.WaterChange{RoomID: roomID, Role: role, Count: *request.Count}
	if request.LastWatered != nil {
		change.WateredAt = *request.LastWatered
	}

	room, err := h.rooms.ApplyWater(c.Request.Context(), change)
	switch {
	case errors.Is(err, rooms.ErrInvalidCount), errors.Is(err, rooms.ErrInvalidRole):
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	case errors.Is(err, rooms.ErrRoomNotFound):
		respondError(c, http.StatusNotFound, "room_not_found", err)
		return
	case err != nil:
		respondError(c, http.StatusInternalServerError, "update_failed", err)
		return
	}
	c.JSON(http.StatusOK, roomEnvelope{Room: room})
}

func (h *httpHandler) respondWithTicket(c *gin.Context, status int, room rooms.Room) {
	ticket, expiresIn, err := h.tickets.IssueRoomTicket(room.RoomID.String())
	if err != nil {
		h.logger.Error("failed to issue room ticket", zap.String("room_id", room.RoomID.String()), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "ticket_issue_failed", err)
		return
	}
	c.JSON(status, roomEnvelope{Room: room, Ticket: ticket, ExpiresIn: expiresIn})
}

func (h *httpHandler) authorizeRoom(c *gin.Context) {
	roomID, err := rooms.NewRoomID(c.Param(roomIDParam))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_room_id"})
		return
	}
	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" {
		token = strings.TrimSpace(c.Query(accessTokenQueryKey))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	if err := h.tickets.AuthorizeRoom(token, roomID.String()); err != nil {
		h.logger.Warn("ticket validation failed", zap.String("room_id", roomID.String()), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(roomIDContextKey, roomID.String())
	c.Next()
}

func bearerToken(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func respondError(c *gin.Context, status int, reason string, err error) {
	body := gin.H{"error": reason}
	var serviceErr *rooms.ServiceError
	if errors.As(err, &serviceErr) {
		body["code"] = serviceErr.Code()
	}
	c.JSON(status, body)
}
