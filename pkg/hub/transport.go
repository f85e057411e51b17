package hub

import (
	"context"
	"log/slog"
	"sync"
)

// Transport carries events between processes serving the same room.
type Transport interface {
	Publish(ctx context.Context, roomID string, e Event) error
	// Subscribe delivers every event of roomID to handler until the returned
	// function is called.
	Subscribe(ctx context.Context, roomID string, handler func(Event)) (func(), error)
}

const memorySubscriberBuffer = 64

type memorySubscriber struct {
	ch   chan Event
	done chan struct{}
}

// MemoryTransport delivers events inside one process. Each subscriber gets
// its own ordered queue; a subscriber that falls behind loses events.
type MemoryTransport struct {
	mu     sync.Mutex
	rooms  map[string]map[*memorySubscriber]struct{}
	closed bool
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{rooms: make(map[string]map[*memorySubscriber]struct{})}
}

func (t *MemoryTransport) Publish(_ context.Context, roomID string, e Event) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errTransportClosed
	}
	subs := make([]*memorySubscriber, 0, len(t.rooms[roomID]))
	for sub := range t.rooms[roomID] {
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- e:
		case <-sub.done:
		default:
			slog.Warn("hub: subscriber queue full, dropping event", "room_id", roomID, "event_id", e.ID, "type", e.Type)
		}
	}
	return nil
}

func (t *MemoryTransport) Subscribe(_ context.Context, roomID string, handler func(Event)) (func(), error) {
	sub := &memorySubscriber{
		ch:   make(chan Event, memorySubscriberBuffer),
		done: make(chan struct{}),
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errTransportClosed
	}
	if t.rooms[roomID] == nil {
		t.rooms[roomID] = make(map[*memorySubscriber]struct{})
	}
	t.rooms[roomID][sub] = struct{}{}
	t.mu.Unlock()

	go func() {
		for {
			select {
			case e := <-sub.ch:
				handler(e)
			case <-sub.done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.rooms[roomID], sub)
			if len(t.rooms[roomID]) == 0 {
				delete(t.rooms, roomID)
			}
			t.mu.Unlock()
			close(sub.done)
		})
	}, nil
}

// Close rejects further publishes and subscriptions.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}
