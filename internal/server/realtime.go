package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/watergrow/internal/rooms"
)

const (
	RealtimeEventRoomUpdated = "room-updated"
	realtimeEventHeartbeat   = "heartbeat"
	defaultRealtimeBuffer    = 16
)

// RoomUpdate carries one committed room record to stream subscribers.
type RoomUpdate struct {
	Room      rooms.Room
	Timestamp time.Time
}

// RealtimeDispatcher fans committed room records out to subscribers of that
// room. While a room has subscribers it remembers the newest record, and a new
// subscriber receives that record before any later publication.
type RealtimeDispatcher struct {
	mu          sync.Mutex
	subscribers map[string]map[int64]*realtimeSubscriber
	latest      map[string]RoomUpdate
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RoomUpdate
}

// NewRealtimeDispatcher constructs a dispatcher whose subscribers buffer up
// to bufferSize updates. Non-positive sizes fall back to 16.
func NewRealtimeDispatcher(bufferSize int) *RealtimeDispatcher {
	if bufferSize <= 0 {
		bufferSize = defaultRealtimeBuffer
	}
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		latest:      make(map[string]RoomUpdate),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a subscriber for roomID until ctx ends or cleanup runs.
// The stream starts with the room's newest known record, if any.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, roomID string) (<-chan RoomUpdate, func()) {
	if roomID == "" {
		ch := make(chan RoomUpdate)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{stream: make(chan RoomUpdate, d.bufferSize)}
	d.registerSubscriber(roomID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(roomID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the update to every current subscriber of its room.
// A subscriber whose buffer is full misses the update. Rooms without
// subscribers are not remembered.
func (d *RealtimeDispatcher) Publish(update RoomUpdate) {
	roomID := update.Room.RoomID.String()
	if roomID == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	subscribers := d.subscribers[roomID]
	if len(subscribers) == 0 {
		return
	}
	d.latest[roomID] = update
	for _, subscriber := range subscribers {
		select {
		case subscriber.stream <- update:
		default:
		}
	}
}

// PublishRoom satisfies rooms.Publisher for single-instance deployments.
func (d *RealtimeDispatcher) PublishRoom(_ context.Context, room rooms.Room) error {
	d.Publish(RoomUpdate{Room: room, Timestamp: time.Now().UTC()})
	return nil
}

// SubscriberCount reports the number of live subscribers for roomID.
func (d *RealtimeDispatcher) SubscriberCount(roomID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subscribers[roomID])
}

func (d *RealtimeDispatcher) registerSubscriber(roomID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	subscriber.id = d.nextID
	if _, ok := d.subscribers[roomID]; !ok {
		d.subscribers[roomID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[roomID][subscriber.id] = subscriber
	if update, ok := d.latest[roomID]; ok {
		subscriber.stream <- update
	}
}

func (d *RealtimeDispatcher) unregisterSubscriber(roomID string, subscriberID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subscribers := d.subscribers[roomID]
	if subscribers == nil {
		return
	}
	delete(subscribers, subscriberID)
	if len(subscribers) == 0 {
		delete(d.subscribers, roomID)
		delete(d.latest, roomID)
	}
}
