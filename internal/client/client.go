// Package client talks to the watergrow API: it implements session.Backend
// over HTTP for reads and writes and over a websocket for the change feed.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/watergrow/internal/rooms"
	"github.com/MarcoPoloResearchLab/watergrow/internal/session"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxErrorBodyBytes     = 4096
	reasonRoomNotFound    = "room_not_found"
	reasonRoomExists      = "room_exists"
)

var (
	errMissingBaseURL = errors.New("client: base url is required")
	// ErrMissingTicket indicates a write or subscription for a room that was
	// never read or created through this client.
	ErrMissingTicket = errors.New("client: no ticket for room")
)

// StatusError reports an unexpected API response.
type StatusError struct {
	StatusCode int
	Reason     string
	Code       string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api status %d: %s (%s)", e.StatusCode, e.Reason, e.Code)
	}
	return fmt.Sprintf("api status %d: %s", e.StatusCode, e.Reason)
}

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *zap.Logger
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *zap.Logger

	mu      sync.Mutex
	tickets map[rooms.RoomID]string
}

var _ session.Backend = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errMissingBaseURL
	}
	baseURL, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("client: unsupported scheme %q", baseURL.Scheme)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		dialer:     dialer,
		logger:     logger,
		tickets:    make(map[rooms.RoomID]string),
	}, nil
}

type roomEnvelope struct {
	Room   rooms.Room `json:"room"`
	Ticket string     `json:"ticket"`
}

type errorEnvelope struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type waterRequest struct {
	Role        string    `json:"role"`
	Count       int64     `json:"count"`
	LastWatered time.Time `json:"last_watered"`
}

// Get reads a room. Only the API's room_not_found response matches
// rooms.ErrRoomNotFound; any other 404 is reported as a StatusError.
func (c *Client) Get(ctx context.Context, roomID rooms.RoomID) (rooms.Room, error) {
	var envelope roomEnvelope
	status, err := c.do(ctx, http.MethodGet, c.roomPath(roomID), nil, "", &envelope)
	if status == http.StatusNotFound && reasonOf(err) == reasonRoomNotFound {
		return rooms.Room{}, fmt.Errorf("%w: %v", rooms.ErrRoomNotFound, err)
	}
	if err != nil {
		return rooms.Room{}, err
	}
	c.storeTicket(envelope.Room.RoomID, envelope.Ticket)
	return envelope.Room, nil
}

// Insert creates a room. A 409 response matches rooms.ErrRoomExists.
func (c *Client) Insert(ctx context.Context, roomID rooms.RoomID) (rooms.Room, error) {
	body, err := json.Marshal(map[string]string{"room_id": roomID.String()})
	if err != nil {
		return rooms.Room{}, err
	}
	var envelope roomEnvelope
	status, err := c.do(ctx, http.MethodPost, "/rooms", body, "", &envelope)
	if status == http.StatusConflict && reasonOf(err) == reasonRoomExists {
		return rooms.Room{}, fmt.Errorf("%w: %v", rooms.ErrRoomExists, err)
	}
	if err != nil {
		return rooms.Room{}, err
	}
	c.storeTicket(envelope.Room.RoomID, envelope.Ticket)
	return envelope.Room, nil
}

// UpdateWater writes role's counter for roomID. A rejected ticket is
// refreshed through Get and the write is retried once.
func (c *Client) UpdateWater(ctx context.Context, roomID rooms.RoomID, role rooms.Role, count int64, wateredAt time.Time) error {
	ticket, err := c.ticket(roomID)
	if err != nil {
		return err
	}
	body, err := json.Marshal(waterRequest{Role: role.String(), Count: count, LastWatered: wateredAt.UTC()})
	if err != nil {
		return err
	}
	path := c.roomPath(roomID) + "/water"
	status, err := c.do(ctx, http.MethodPatch, path, body, ticket, nil)
	if status != http.StatusUnauthorized {
		return err
	}

	ticket, err = c.refreshTicket(ctx, roomID)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPatch, path, body, ticket, nil)
	return err
}

func (c *Client) refreshTicket(ctx context.Context, roomID rooms.RoomID) (string, error) {
	c.logger.Debug("room ticket rejected, refreshing", zap.String("room_id", roomID.String()))
	if _, err := c.Get(ctx, roomID); err != nil {
		return "", fmt.Errorf("client: refresh ticket: %w", err)
	}
	return c.ticket(roomID)
}

func (c *Client) roomPath(roomID rooms.RoomID) string {
	return "/rooms/" + escapeRoomID(roomID)
}

// escapeRoomID escapes a room id as one path segment. The API unescapes
// path values with query rules, so '+' must be escaped as well.
func escapeRoomID(roomID rooms.RoomID) string {
	return strings.ReplaceAll(url.PathEscape(roomID.String()), "+", "%2B")
}

func reasonOf(err error) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Reason
	}
	return ""
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, ticket string, target interface{}) (int, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if ticket != "" {
		request.Header.Set("Authorization", "Bearer "+ticket)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return 0, err
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		var envelope errorEnvelope
		payload, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		_ = json.Unmarshal(payload, &envelope)
		statusErr := &StatusError{StatusCode: response.StatusCode, Reason: envelope.Error, Code: envelope.Code}
		c.logger.Debug("api request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", response.StatusCode),
			zap.String("reason", envelope.Error))
		return response.StatusCode, statusErr
	}
	if target == nil {
		return response.StatusCode, nil
	}
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		return response.StatusCode, fmt.Errorf("client: decode response: %w", err)
	}
	return response.StatusCode, nil
}

func (c *Client) storeTicket(roomID rooms.RoomID, ticket string) {
	if roomID == "" || ticket == "" {
		return
	}
	c.mu.Lock()
	c.tickets[roomID] = ticket
	c.mu.Unlock()
}

func (c *Client) ticket(roomID rooms.RoomID) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ticket, ok := c.tickets[roomID]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrMissingTicket, roomID)
	}
	return ticket, nil
}
