package hub

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"tripvote/pkg/domain"
)

// Handler consumes one event.
type Handler func(Event)

const watcherBuffer = 64

type watcher struct {
	ch   chan Event
	done chan struct{}
}

// roomChannel is the single transport subscription of one room. Typed
// handlers and watchers are fanned out from it locally.
type roomChannel struct {
	handlers    map[EventType]Handler
	watchers    map[*watcher]struct{}
	unsubscribe func()
}

func (ch *roomChannel) idle() bool {
	return len(ch.handlers) == 0 && len(ch.watchers) == 0
}

// Hub keeps at most one transport subscription per room and at most one
// handler per (room, event type) on top of it.
type Hub struct {
	transport Transport
	logger    *slog.Logger
	node      string

	mu    sync.Mutex
	rooms map[string]*roomChannel
}

// New builds a hub over transport.
func New(transport Transport, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		transport: transport,
		logger:    logger,
		node:      uuid.NewString(),
		rooms:     make(map[string]*roomChannel),
	}
}

// Broadcast publishes an event on the room channel. A transport failure is
// returned wrapped in domain.ErrTransportUnavailable.
func (h *Hub) Broadcast(ctx context.Context, roomID string, typ EventType, origin string, payload any) (Event, error) {
	e, err := NewEvent(roomID, typ, origin, payload)
	if err != nil {
		return Event{}, err
	}
	e.Node = h.node
	if err := h.transport.Publish(ctx, roomID, e); err != nil {
		return e, fmt.Errorf("%w: %v", domain.ErrTransportUnavailable, err)
	}
	return e, nil
}

// Node returns the id stamped on events this hub publishes.
func (h *Hub) Node() string {
	return h.node
}

// IsRemote reports whether e was published by another hub instance.
func (h *Hub) IsRemote(e Event) bool {
	return e.Node != "" && e.Node != h.node
}

// Subscribe registers handler for typ on roomID. A second registration for
// the same pair is ignored.
func (h *Hub) Subscribe(ctx context.Context, roomID string, typ EventType, handler Handler) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" || handler == nil {
		return fmt.Errorf("%w: room id and handler required", domain.ErrInvalidInput)
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, err := h.channelLocked(ctx, roomID)
	if err != nil {
		return err
	}
	if _, dup := ch.handlers[typ]; !dup {
		ch.handlers[typ] = handler
	}
	return nil
}

// Watch streams every event of roomID to fn, independent of the per-type
// registrations. Watchers share the room's transport subscription; each has
// its own queue, and one that falls behind loses events. The returned
// function detaches fn.
func (h *Hub) Watch(ctx context.Context, roomID string, fn Handler) (func(), error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" || fn == nil {
		return nil, fmt.Errorf("%w: room id and handler required", domain.ErrInvalidInput)
	}
	h.mu.Lock()
	ch, err := h.channelLocked(ctx, roomID)
	if err != nil {
		h.mu.Unlock()
		return nil, err
	}
	w := &watcher{ch: make(chan Event, watcherBuffer), done: make(chan struct{})}
	ch.watchers[w] = struct{}{}
	h.mu.Unlock()

	go func() {
		for {
			select {
			case e := <-w.ch:
				h.deliver(roomID, e, fn)
			case <-w.done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(w.done)
			h.mu.Lock()
			var release func()
			if cur, ok := h.rooms[roomID]; ok {
				delete(cur.watchers, w)
				if cur.idle() {
					delete(h.rooms, roomID)
					release = cur.unsubscribe
				}
			}
			h.mu.Unlock()
			if release != nil {
				release()
			}
		})
	}, nil
}

// Leave drops every handler of roomID. The transport subscription is released
// once no watcher remains on it either.
func (h *Hub) Leave(roomID string) {
	h.mu.Lock()
	var release func()
	if ch, ok := h.rooms[roomID]; ok {
		ch.handlers = make(map[EventType]Handler)
		if ch.idle() {
			delete(h.rooms, roomID)
			release = ch.unsubscribe
		}
	}
	h.mu.Unlock()
	if release != nil {
		release()
	}
}

// Subscriptions returns the number of rooms holding a transport subscription.
func (h *Hub) Subscriptions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// channelLocked returns the room channel, subscribing on first use. h.mu must
// be held.
func (h *Hub) channelLocked(ctx context.Context, roomID string) (*roomChannel, error) {
	if ch, ok := h.rooms[roomID]; ok {
		return ch, nil
	}
	unsubscribe, err := h.transport.Subscribe(ctx, roomID, func(e Event) { h.dispatch(roomID, e) })
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransportUnavailable, err)
	}
	ch := &roomChannel{
		handlers:    make(map[EventType]Handler),
		watchers:    make(map[*watcher]struct{}),
		unsubscribe: unsubscribe,
	}
	h.rooms[roomID] = ch
	return ch, nil
}

func (h *Hub) dispatch(roomID string, e Event) {
	h.mu.Lock()
	var handler Handler
	var watchers []*watcher
	if ch, ok := h.rooms[roomID]; ok {
		handler = ch.handlers[e.Type]
		watchers = make([]*watcher, 0, len(ch.watchers))
		for w := range ch.watchers {
			watchers = append(watchers, w)
		}
	}
	h.mu.Unlock()

	for _, w := range watchers {
		select {
		case w.ch <- e:
		case <-w.done:
		default:
			h.logger.Warn("hub: watcher queue full, dropping event", "room_id", roomID, "event_id", e.ID, "type", e.Type)
		}
	}
	if handler != nil {
		h.deliver(roomID, e, handler)
	}
}

func (h *Hub) deliver(roomID string, e Event, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("hub: handler panicked", "room_id", roomID, "type", e.Type, "panic", r)
		}
	}()
	handler(e)
}
