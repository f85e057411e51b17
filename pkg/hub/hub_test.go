package hub

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"tripvote/pkg/domain"
)

type failingTransport struct{}

func (failingTransport) Publish(context.Context, string, Event) error {
	return errors.New("connection refused")
}

func (failingTransport) Subscribe(context.Context, string, func(Event)) (func(), error) {
	return nil, errors.New("connection refused")
}

// countingTransport records how many transport subscriptions are open.
type countingTransport struct {
	*MemoryTransport
	open atomic.Int32
}

func (c *countingTransport) Subscribe(ctx context.Context, roomID string, handler func(Event)) (func(), error) {
	unsubscribe, err := c.MemoryTransport.Subscribe(ctx, roomID, handler)
	if err != nil {
		return nil, err
	}
	c.open.Add(1)
	return func() {
		c.open.Add(-1)
		unsubscribe()
	}, nil
}

func waitFor(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return Event{}
	}
}

func TestHubBroadcastReachesSubscriber(t *testing.T) {
	ctx := context.Background()
	h := New(NewMemoryTransport(), nil)
	got := make(chan Event, 4)
	if err := h.Subscribe(ctx, "room-1", EventVoteChanged, func(e Event) { got <- e }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sent, err := h.Broadcast(ctx, "room-1", EventVoteChanged, "m1", map[string]int{"likes": 1})
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	e := waitFor(t, got)
	if e.ID != sent.ID || e.OriginMemberID != "m1" {
		t.Fatalf("unexpected event: %+v", e)
	}
	var payload map[string]int
	if err := e.Decode(&payload); err != nil || payload["likes"] != 1 {
		t.Fatalf("decode payload: %v %+v", err, payload)
	}
}

func TestHubDuplicateSubscribeIsNoop(t *testing.T) {
	ctx := context.Background()
	h := New(NewMemoryTransport(), nil)
	var first, second int32
	if err := h.Subscribe(ctx, "room-1", EventTyping, func(Event) { atomic.AddInt32(&first, 1) }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := h.Subscribe(ctx, "room-1", EventTyping, func(Event) { atomic.AddInt32(&second, 1) }); err != nil {
		t.Fatalf("subscribe again: %v", err)
	}
	done := make(chan Event, 1)
	unwatch, err := h.Watch(ctx, "room-1", func(e Event) { done <- e })
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer unwatch()
	if _, err := h.Broadcast(ctx, "room-1", EventTyping, "m1", nil); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	waitFor(t, done)
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&first) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if atomic.LoadInt32(&first) != 1 || atomic.LoadInt32(&second) != 0 {
		t.Fatalf("expected only the first handler, got first=%d second=%d", atomic.LoadInt32(&first), atomic.LoadInt32(&second))
	}
}

func TestHubLeaveStopsDelivery(t *testing.T) {
	ctx := context.Background()
	h := New(NewMemoryTransport(), nil)
	got := make(chan Event, 1)
	if err := h.Subscribe(ctx, "room-1", EventRoomClosed, func(e Event) { got <- e }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	h.Leave("room-1")
	if _, err := h.Broadcast(ctx, "room-1", EventRoomClosed, "", nil); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	select {
	case e := <-got:
		t.Fatalf("unexpected delivery after leave: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubWatchersShareRoomSubscription(t *testing.T) {
	ctx := context.Background()
	transport := &countingTransport{MemoryTransport: NewMemoryTransport()}
	h := New(transport, nil)

	if err := h.Subscribe(ctx, "room-1", EventRoomClosed, func(Event) {}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	first, second := make(chan Event, 1), make(chan Event, 1)
	stopFirst, err := h.Watch(ctx, "room-1", func(e Event) { first <- e })
	if err != nil {
		t.Fatalf("watch first: %v", err)
	}
	stopSecond, err := h.Watch(ctx, "room-1", func(e Event) { second <- e })
	if err != nil {
		t.Fatalf("watch second: %v", err)
	}
	if got := transport.open.Load(); got != 1 {
		t.Fatalf("expected one transport subscription for the room, got %d", got)
	}

	sent, err := h.Broadcast(ctx, "room-1", EventChatPosted, "m1", map[string]string{"text": "hi"})
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if e := waitFor(t, first); e.ID != sent.ID {
		t.Fatalf("first watcher got %+v", e)
	}
	if e := waitFor(t, second); e.ID != sent.ID {
		t.Fatalf("second watcher got %+v", e)
	}

	stopFirst()
	h.Leave("room-1")
	if got := transport.open.Load(); got != 1 {
		t.Fatalf("subscription released while a watcher is attached, open=%d", got)
	}
	stopSecond()
	stopSecond()
	if got := transport.open.Load(); got != 0 || h.Subscriptions() != 0 {
		t.Fatalf("expected subscription released after last detach, open=%d rooms=%d", got, h.Subscriptions())
	}
}

func TestHubBroadcastTransportFailure(t *testing.T) {
	h := New(failingTransport{}, nil)
	if _, err := h.Broadcast(context.Background(), "room-1", EventTyping, "m1", nil); !errors.Is(err, domain.ErrTransportUnavailable) {
		t.Fatalf("expected transport unavailable, got %v", err)
	}
	if err := h.Subscribe(context.Background(), "room-1", EventTyping, func(Event) {}); !errors.Is(err, domain.ErrTransportUnavailable) {
		t.Fatalf("expected transport unavailable on subscribe, got %v", err)
	}
}

func TestRedisTransportSharesRoomsAcrossHubs(t *testing.T) {
	redis := miniredis.RunT(t)
	ctx := context.Background()

	pubTransport, err := NewRedisTransport(redis.Addr(), "", "test")
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	defer pubTransport.Close()
	subTransport, err := NewRedisTransport(redis.Addr(), "", "test")
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	defer subTransport.Close()

	publisher := New(pubTransport, nil)
	subscriber := New(subTransport, nil)
	got := make(chan Event, 1)
	if err := subscriber.Subscribe(ctx, "room-9", EventChatPosted, func(e Event) { got <- e }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer subscriber.Leave("room-9")

	sent, err := publisher.Broadcast(ctx, "room-9", EventChatPosted, "m2", map[string]string{"content": "hi"})
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	e := waitFor(t, got)
	if e.ID != sent.ID || e.RoomID != "room-9" {
		t.Fatalf("unexpected event: %+v", e)
	}
}

func TestNewRedisTransportRequiresAddr(t *testing.T) {
	if _, err := NewRedisTransport(" ", "", ""); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
