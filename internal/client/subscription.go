package client

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/MarcoPoloResearchLab/watergrow/internal/rooms"
	"github.com/MarcoPoloResearchLab/watergrow/internal/session"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	frameTypeRoomUpdated = "room-updated"
	subscriptionBuffer   = 16
)

type frame struct {
	Type string      `json:"type"`
	Room *rooms.Room `json:"room"`
}

// Subscription streams room records from the websocket feed.
type Subscription struct {
	conn    *websocket.Conn
	updates chan rooms.Room
	done    chan struct{}
	once    sync.Once
	logger  *zap.Logger

	mu  sync.Mutex
	err error
}

// Subscribe opens the room's websocket feed. The room must have been read or
// created through this client first so a ticket is available. A handshake
// rejected as unauthorized is retried once with a refreshed ticket.
func (c *Client) Subscribe(ctx context.Context, roomID rooms.RoomID) (session.Subscription, error) {
	ticket, err := c.ticket(roomID)
	if err != nil {
		return nil, err
	}

	conn, status, err := c.dialFeed(ctx, roomID, ticket)
	if err != nil && status == http.StatusUnauthorized {
		ticket, err = c.refreshTicket(ctx, roomID)
		if err != nil {
			return nil, err
		}
		conn, _, err = c.dialFeed(ctx, roomID, ticket)
	}
	if err != nil {
		return nil, err
	}

	subscription := &Subscription{
		conn:    conn,
		updates: make(chan rooms.Room, subscriptionBuffer),
		done:    make(chan struct{}),
		logger:  c.logger.With(zap.String("room_id", roomID.String())),
	}
	go subscription.read()
	return subscription, nil
}

func (c *Client) dialFeed(ctx context.Context, roomID rooms.RoomID, ticket string) (*websocket.Conn, int, error) {
	endpoint := *c.baseURL
	switch endpoint.Scheme {
	case "https":
		endpoint.Scheme = "wss"
	default:
		endpoint.Scheme = "ws"
	}
	basePath := endpoint.EscapedPath()
	endpoint.Path = endpoint.Path + "/rooms/" + roomID.String() + "/ws"
	endpoint.RawPath = basePath + "/rooms/" + escapeRoomID(roomID) + "/ws"
	endpoint.RawQuery = url.Values{"access_token": []string{ticket}}.Encode()

	conn, response, err := c.dialer.DialContext(ctx, endpoint.String(), nil)
	status := 0
	if response != nil {
		status = response.StatusCode
		if response.Body != nil {
			_ = response.Body.Close()
		}
	}
	return conn, status, err
}

// Updates closes when the connection drops or Close is called.
func (s *Subscription) Updates() <-chan rooms.Room {
	return s.updates
}

// Err returns the read error that ended the subscription, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *Subscription) read() {
	defer close(s.updates)
	for {
		var message frame
		if err := s.conn.ReadJSON(&message); err != nil {
			select {
			case <-s.done:
			default:
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
				s.logger.Debug("room feed read ended", zap.Error(err))
			}
			return
		}
		if message.Type != frameTypeRoomUpdated || message.Room == nil {
			continue
		}
		select {
		case s.updates <- *message.Room:
		case <-s.done:
			return
		}
	}
}
