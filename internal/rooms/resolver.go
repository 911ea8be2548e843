package rooms

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Store is the read-by-key and insert-if-absent surface of the Room Store.
type Store interface {
	Get(ctx context.Context, roomID RoomID) (Room, error)
	Insert(ctx context.Context, roomID RoomID) (Room, error)
}

// Resolver finds or creates the record for a room identifier.
type Resolver struct {
	store  Store
	logger *zap.Logger
}

// NewResolver constructs a Resolver over the provided store.
func NewResolver(store Store, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = noOpLogger
	}
	return &Resolver{store: store, logger: logger}
}

// Resolve normalizes rawRoomID and returns its record, creating it with both
// counters at zero when absent. An insert that loses a creation race falls
// back to a single re-read. Every store failure other than "not found" is
// reported as ErrConnectionFailed.
func (r *Resolver) Resolve(ctx context.Context, rawRoomID string) (Room, error) {
	roomID, err := NewRoomID(rawRoomID)
	if err != nil {
		return Room{}, err
	}

	room, err := r.store.Get(ctx, roomID)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, ErrRoomNotFound) {
		r.logger.Warn("room lookup failed", zap.String(fieldRoomID, roomID.String()), zap.Error(err))
		return Room{}, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	room, err = r.store.Insert(ctx, roomID)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, ErrRoomExists) {
		r.logger.Warn("room insert failed", zap.String(fieldRoomID, roomID.String()), zap.Error(err))
		return Room{}, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	r.logger.Debug("room creation race lost, re-reading", zap.String(fieldRoomID, roomID.String()))
	room, err = r.store.Get(ctx, roomID)
	if err != nil {
		r.logger.Warn("room re-read failed", zap.String(fieldRoomID, roomID.String()), zap.Error(err))
		return Room{}, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return room, nil
}
