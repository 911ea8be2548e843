package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/watergrow/internal/rooms"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const websocketWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame is the JSON message written to websocket subscribers.
type Frame struct {
	Type      string      `json:"type"`
	Room      *rooms.Room `json:"room,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func (h *httpHandler) handleStream(c *gin.Context) {
	roomID := c.GetString(roomIDContextKey)
	ctx := c.Request.Context()

	stream, cleanup := h.realtime.Subscribe(ctx, roomID)
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	h.logger.Debug("room stream opened", zap.String("room_id", roomID))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case update, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(RealtimeEventRoomUpdated, update.Room)
			return true
		case tick := <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": tick.UTC().Unix()})
			return true
		}
	})

	h.logger.Debug("room stream closed", zap.String("room_id", roomID))
}

func (h *httpHandler) handleWebSocket(c *gin.Context) {
	roomID := c.GetString(roomIDContextKey)
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	stream, cleanup := h.realtime.Subscribe(ctx, roomID)
	defer cleanup()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	defer conn.Close()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Debug("room websocket opened", zap.String("room_id", roomID))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-stream:
			if !ok {
				return
			}
			room := update.Room
			frame := Frame{Type: RealtimeEventRoomUpdated, Room: &room, Timestamp: update.Timestamp.Unix()}
			_ = conn.SetWriteDeadline(time.Now().Add(websocketWriteTimeout))
			if err := conn.WriteJSON(frame); err != nil {
				h.logger.Debug("websocket write failed", zap.String("room_id", roomID), zap.Error(err))
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(websocketWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
