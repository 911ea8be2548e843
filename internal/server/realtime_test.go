package server

import (
	"context"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/watergrow/internal/rooms"
)

func TestRealtimeDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewRealtimeDispatcher(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "love-123")
	defer cleanup()

	if err := dispatcher.PublishRoom(ctx, rooms.Room{RoomID: "love-123", P1Water: 2}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case received := <-stream:
		if received.Room.P1Water != 2 {
			t.Fatalf("expected p1_water 2, got %d", received.Room.P1Water)
		}
		if received.Timestamp.IsZero() {
			t.Fatalf("expected a publication timestamp")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected room update within deadline")
	}
}

func TestRealtimeDispatcherIsolatedByRoom(t *testing.T) {
	dispatcher := NewRealtimeDispatcher(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	roomStream, cleanup := dispatcher.Subscribe(ctx, "room-a")
	defer cleanup()
	otherStream, otherCleanup := dispatcher.Subscribe(ctx, "room-b")
	defer otherCleanup()

	dispatcher.Publish(RoomUpdate{Room: rooms.Room{RoomID: "room-b", P2Water: 1}, Timestamp: time.Now().UTC()})

	select {
	case <-roomStream:
		t.Fatal("did not expect an update for an unrelated room")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case update := <-otherStream:
		if update.Room.RoomID != "room-b" {
			t.Fatalf("expected room-b, received %s", update.Room.RoomID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected an update for the subscribed room")
	}
}

func TestRealtimeDispatcherPreservesPublishOrder(t *testing.T) {
	dispatcher := NewRealtimeDispatcher(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "love-123")
	defer cleanup()

	for count := int64(1); count <= 5; count++ {
		dispatcher.Publish(RoomUpdate{Room: rooms.Room{RoomID: "love-123", P1Water: count}})
	}
	for expected := int64(1); expected <= 5; expected++ {
		update := <-stream
		if update.Room.P1Water != expected {
			t.Fatalf("expected update %d, got %d", expected, update.Room.P1Water)
		}
	}
}

func TestRealtimeDispatcherDropsWhenBufferFull(t *testing.T) {
	dispatcher := NewRealtimeDispatcher(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "love-123")
	defer cleanup()

	dispatcher.Publish(RoomUpdate{Room: rooms.Room{RoomID: "love-123", P1Water: 1}})
	dispatcher.Publish(RoomUpdate{Room: rooms.Room{RoomID: "love-123", P1Water: 2}})

	if update := <-stream; update.Room.P1Water != 1 {
		t.Fatalf("expected the buffered update, got %d", update.Room.P1Water)
	}
	select {
	case update := <-stream:
		t.Fatalf("expected overflow to be dropped, got %+v", update)
	default:
	}
}

func TestRealtimeDispatcherUnregistersOnCancel(t *testing.T) {
	dispatcher := NewRealtimeDispatcher(0)
	ctx, cancel := context.WithCancel(context.Background())

	_, _ = dispatcher.Subscribe(ctx, "love-123")
	if dispatcher.SubscriberCount("love-123") != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for dispatcher.SubscriberCount("love-123") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected subscriber removal after cancellation")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRealtimeDispatcherEmptyRoomReturnsClosedStream(t *testing.T) {
	dispatcher := NewRealtimeDispatcher(0)
	stream, cleanup := dispatcher.Subscribe(context.Background(), "")
	defer cleanup()
	if _, ok := <-stream; ok {
		t.Fatal("expected closed stream for empty room id")
	}
}

func TestRealtimeDispatcherReplaysNewestRecordToLateSubscriber(t *testing.T) {
	dispatcher := NewRealtimeDispatcher(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, cleanup := dispatcher.Subscribe(ctx, "love-123")
	defer cleanup()
	dispatcher.Publish(RoomUpdate{Room: rooms.Room{RoomID: "love-123", P1Water: 1}})
	dispatcher.Publish(RoomUpdate{Room: rooms.Room{RoomID: "love-123", P1Water: 2}})

	late, lateCleanup := dispatcher.Subscribe(ctx, "love-123")
	defer lateCleanup()
	dispatcher.Publish(RoomUpdate{Room: rooms.Room{RoomID: "love-123", P1Water: 3}})

	for _, expected := range []int64{2, 3} {
		select {
		case update := <-late:
			if update.Room.P1Water != expected {
				t.Fatalf("expected p1_water %d, got %d", expected, update.Room.P1Water)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("expected update %d within deadline", expected)
		}
	}
}

func TestRealtimeDispatcherForgetsRoomWithoutSubscribers(t *testing.T) {
	dispatcher := NewRealtimeDispatcher(4)
	ctx := context.Background()

	_, cleanup := dispatcher.Subscribe(ctx, "love-123")
	dispatcher.Publish(RoomUpdate{Room: rooms.Room{RoomID: "love-123", P1Water: 1}})
	cleanup()

	dispatcher.Publish(RoomUpdate{Room: rooms.Room{RoomID: "love-123", P1Water: 2}})

	stream, streamCleanup := dispatcher.Subscribe(ctx, "love-123")
	defer streamCleanup()
	select {
	case update := <-stream:
		t.Fatalf("expected no replay after the room emptied, got %+v", update)
	case <-time.After(100 * time.Millisecond):
	}
}
