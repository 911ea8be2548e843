package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/watergrow/internal/rooms"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	relayChannelPrefix  = "watergrow:room:"
	relayChannelPattern = relayChannelPrefix + "*"
	relayPingTimeout    = 3 * time.Second
)

var (
	errMissingRedisClient = errors.New("redis client dependency required")
	errRelayRoomMismatch  = errors.New("relay payload room does not match channel")
)

// RedisRelay publishes committed rooms to Redis and feeds every instance's
// local dispatcher from a pattern subscription, so streams on any API
// instance observe writes handled by another.
type RedisRelay struct {
	client     redis.UniversalClient
	dispatcher *RealtimeDispatcher
	logger     *zap.Logger
}

// RedisConfig mirrors the redis.* configuration keys.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// NewRedisClient opens a client and verifies the connection with PING.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, relayPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Address, err)
	}
	return client, nil
}

func NewRedisRelay(client redis.UniversalClient, dispatcher *RealtimeDispatcher, logger *zap.Logger) (*RedisRelay, error) {
	if client == nil {
		return nil, errMissingRedisClient
	}
	if dispatcher == nil {
		return nil, errMissingRealtime
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{client: client, dispatcher: dispatcher, logger: logger}, nil
}

// PublishRoom satisfies rooms.Publisher.
func (r *RedisRelay) PublishRoom(ctx context.Context, room rooms.Room) error {
	payload, err := encodeRelayPayload(room)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, relayChannel(room.RoomID.String()), payload).Err()
}

// Run consumes the pattern subscription until ctx ends.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, relayChannelPattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	r.logger.Info("redis relay subscribed", zap.String("pattern", relayChannelPattern))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-messages:
			if !ok {
				return nil
			}
			update, err := decodeRelayMessage(message.Channel, message.Payload)
			if err != nil {
				r.logger.Warn("dropping relay message", zap.String("channel", message.Channel), zap.Error(err))
				continue
			}
			r.dispatcher.Publish(update)
		}
	}
}

func relayChannel(roomID string) string {
	return relayChannelPrefix + roomID
}

type relayPayload struct {
	Room        rooms.Room `json:"room"`
	PublishedAt int64      `json:"published_at"`
}

func encodeRelayPayload(room rooms.Room) ([]byte, error) {
	return json.Marshal(relayPayload{Room: room, PublishedAt: time.Now().UTC().UnixMilli()})
}

func decodeRelayMessage(channel, payload string) (RoomUpdate, error) {
	var decoded relayPayload
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return RoomUpdate{}, err
	}
	if !strings.HasPrefix(channel, relayChannelPrefix) || decoded.Room.RoomID.String() != strings.TrimPrefix(channel, relayChannelPrefix) {
		return RoomUpdate{}, errRelayRoomMismatch
	}
	return RoomUpdate{Room: decoded.Room, Timestamp: time.UnixMilli(decoded.PublishedAt).UTC()}, nil
}
