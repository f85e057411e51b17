package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	maxFollowerLog  = 1024
	maxSeenEventIDs = 4096
	// defaultPendingTTL is how long an optimistic mutation waits for its echo.
	defaultPendingTTL = time.Minute
)

type pendingKey struct {
	typ EventType
	key string
}

// Follower is the consumer side of a room channel. It applies remote events
// once each, hides echoes of the local member's optimistic mutations and
// periodically replaces its state from an authoritative snapshot.
type Follower[S any] struct {
	self  string
	apply func(Event)
	reset func(S)
	keyOf func(Event) string

	pendingTTL time.Duration
	now        func() time.Time

	mu        sync.Mutex
	log       []Event
	seen      map[string]struct{}
	seenOrder []string
	// pending holds the expiry of each echo still owed, oldest first.
	pending map[pendingKey][]time.Time
}

// NewFollower builds a follower for the local member self. apply mutates the
// local state for a remote event; reset replaces it with a snapshot.
func NewFollower[S any](self string, apply func(Event), reset func(S)) *Follower[S] {
	return &Follower[S]{
		self:    self,
		apply:   apply,
		reset:   reset,
		keyOf:      func(Event) string { return "" },
		pendingTTL: defaultPendingTTL,
		now:        time.Now,
		seen:       make(map[string]struct{}),
		pending:    make(map[pendingKey][]time.Time),
	}
}

// WithEchoKey sets how an event is matched against pending local mutations.
func (f *Follower[S]) WithEchoKey(fn func(Event) string) *Follower[S] {
	if fn != nil {
		f.keyOf = fn
	}
	return f
}

// Handle processes one delivered event. It reports whether the event
// changed local state.
func (f *Follower[S]) Handle(e Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.seen[e.ID]; dup {
		return false
	}
	f.remember(e)
	if e.OriginMemberID != "" && e.OriginMemberID == f.self {
		if f.takePending(pendingKey{typ: e.Type, key: f.keyOf(e)}) {
			return false
		}
	}
	if f.apply != nil {
		f.apply(e)
	}
	return true
}

// ApplyLocal runs an optimistic mutation now and expects its echo (typ, key)
// from the channel later.
func (f *Follower[S]) ApplyLocal(typ EventType, key string, mutate func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := pendingKey{typ: typ, key: key}
	f.pending[k] = append(f.pending[k], f.now().Add(f.pendingTTL))
	if mutate != nil {
		mutate()
	}
}

// Reconcile replaces derived state with snap. Pending echoes survive it, so
// an echo arriving after the snapshot is still suppressed; unanswered ones
// expire after the pending TTL.
func (f *Follower[S]) Reconcile(snap S) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expirePending()
	if f.reset != nil {
		f.reset(snap)
	}
}

// Run reconciles from fetch every interval until ctx is done.
func (f *Follower[S]) Run(ctx context.Context, interval time.Duration, fetch func(context.Context) (S, error)) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("hub: reconcile fetch failed", "member_id", f.self, "err", err)
				continue
			}
			f.Reconcile(snap)
		}
	}
}

func (f *Follower[S]) takePending(k pendingKey) bool {
	now := f.now()
	deadlines := f.pending[k]
	for len(deadlines) > 0 && !now.Before(deadlines[0]) {
		deadlines = deadlines[1:]
	}
	if len(deadlines) == 0 {
		delete(f.pending, k)
		return false
	}
	if len(deadlines) == 1 {
		delete(f.pending, k)
	} else {
		f.pending[k] = deadlines[1:]
	}
	return true
}

func (f *Follower[S]) expirePending() {
	now := f.now()
	for k, deadlines := range f.pending {
		for len(deadlines) > 0 && !now.Before(deadlines[0]) {
			deadlines = deadlines[1:]
		}
		if len(deadlines) == 0 {
			delete(f.pending, k)
		} else {
			f.pending[k] = deadlines
		}
	}
}

// Log returns a copy of the events seen so far, oldest first.
func (f *Follower[S]) Log() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.log...)
}

func (f *Follower[S]) remember(e Event) {
	f.log = append(f.log, e)
	if len(f.log) > maxFollowerLog {
		f.log = f.log[len(f.log)-maxFollowerLog:]
	}
	f.seen[e.ID] = struct{}{}
	f.seenOrder = append(f.seenOrder, e.ID)
	if len(f.seenOrder) > maxSeenEventIDs {
		evict := f.seenOrder[0]
		f.seenOrder = f.seenOrder[1:]
		delete(f.seen, evict)
	}
}
