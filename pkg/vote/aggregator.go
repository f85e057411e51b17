// Package vote applies like/dislike votes on routes and places and keeps
// per-subject tallies.
package vote

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tripvote/pkg/domain"
)

const defaultCacheTTL = 30 * time.Second

// Store is the persistence the aggregator needs.
type Store interface {
	GetVote(ctx context.Context, kind domain.SubjectKind, subjectID, memberID string) (domain.Vote, bool, error)
	UpsertVote(ctx context.Context, v domain.Vote) error
	DeleteVote(ctx context.Context, kind domain.SubjectKind, subjectID, memberID string) error
	ListVotes(ctx context.Context, kind domain.SubjectKind, subjectID string) ([]domain.Vote, error)
	GetPlace(ctx context.Context, roomID, id string) (domain.PlaceRef, bool, error)
	GetRoute(ctx context.Context, roomID, routeID string) (domain.Route, bool, error)
}

// Result is the outcome of one Apply call.
type Result struct {
	SubjectID   string             `json:"subjectId"`
	SubjectKind domain.SubjectKind `json:"subjectKind"`
	MemberID    string             `json:"memberId"`
	Likes       int                `json:"likes"`
	Dislikes    int                `json:"dislikes"`
	// Resolved is nil when the call removed the member's vote.
	Resolved *domain.VoteValue `json:"resolved"`
}

// Tally converts the result into a domain tally.
func (r Result) Tally() domain.Tally {
	return domain.Tally{SubjectID: r.SubjectID, SubjectKind: r.SubjectKind, Likes: r.Likes, Dislikes: r.Dislikes}
}

type subjectKey struct {
	kind domain.SubjectKind
	id   string
}

type subjectState struct {
	mu sync.Mutex
	// evicted is set once the state left the subjects map; holders must
	// look the subject up again.
	evicted  atomic.Bool
	loadedAt time.Time
	values   map[string]domain.VoteValue // member ID -> value
	likes    int
	dislikes int
}

func (s *subjectState) add(v domain.VoteValue, delta int) {
	switch v {
	case domain.VoteUp:
		s.likes += delta
	case domain.VoteDown:
		s.dislikes += delta
	}
}

// Aggregator serializes votes per subject and maintains tallies
// incrementally. Recount derives the same tally from the store.
type Aggregator struct {
	store    Store
	cacheTTL time.Duration
	now      func() time.Time

	mu       sync.Mutex
	subjects map[subjectKey]*subjectState
	rooms    map[string]map[subjectKey]struct{}
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithCacheTTL bounds how long a tally is trusted before reloading it from the store.
func WithCacheTTL(ttl time.Duration) Option {
	return func(a *Aggregator) {
		if ttl > 0 {
			a.cacheTTL = ttl
		}
	}
}

// NewAggregator builds an aggregator over store.
func NewAggregator(store Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:    store,
		cacheTTL: defaultCacheTTL,
		now:      func() time.Time { return time.Now().UTC() },
		subjects: make(map[subjectKey]*subjectState),
		rooms:    make(map[string]map[subjectKey]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Apply casts requested for memberID on the subject. Casting the value the
// member already holds removes the vote; any other value replaces it.
func (a *Aggregator) Apply(ctx context.Context, roomID, subjectID string, kind domain.SubjectKind, memberID string, requested domain.VoteValue) (Result, error) {
	subjectID = strings.TrimSpace(subjectID)
	memberID = strings.TrimSpace(memberID)
	if !kind.Valid() {
		return Result{}, fmt.Errorf("%w: subject kind %q", domain.ErrInvalidInput, kind)
	}
	if !requested.Valid() {
		return Result{}, fmt.Errorf("%w: vote value %q", domain.ErrInvalidInput, requested)
	}
	if memberID == "" {
		return Result{}, fmt.Errorf("%w: member id required", domain.ErrInvalidInput)
	}
	if err := a.resolveSubject(ctx, roomID, subjectID, kind); err != nil {
		return Result{}, err
	}

	a.track(roomID, kind, subjectID)
	state := a.lockState(kind, subjectID)
	defer state.mu.Unlock()

	stored, hasStored, err := a.store.GetVote(ctx, kind, subjectID, memberID)
	if err != nil {
		return Result{}, fmt.Errorf("load vote: %w", err)
	}
	if err := a.ensureFresh(ctx, kind, subjectID, state, memberID, stored, hasStored); err != nil {
		return Result{}, err
	}

	res := Result{SubjectID: subjectID, SubjectKind: kind, MemberID: memberID}
	if hasStored && stored.Value == requested {
		if err := a.store.DeleteVote(ctx, kind, subjectID, memberID); err != nil {
			return Result{}, fmt.Errorf("delete vote: %w", err)
		}
		state.add(stored.Value, -1)
		delete(state.values, memberID)
	} else {
		if err := a.store.UpsertVote(ctx, domain.Vote{
			SubjectID:   subjectID,
			SubjectKind: kind,
			RoomID:      roomID,
			MemberID:    memberID,
			Value:       requested,
			UpdatedAt:   a.now(),
		}); err != nil {
			return Result{}, fmt.Errorf("save vote: %w", err)
		}
		if hasStored {
			state.add(stored.Value, -1)
		}
		state.add(requested, 1)
		state.values[memberID] = requested
		resolved := requested
		res.Resolved = &resolved
	}
	res.Likes = state.likes
	res.Dislikes = state.dislikes
	return res, nil
}

// Tally returns the maintained tally for a subject.
func (a *Aggregator) Tally(ctx context.Context, kind domain.SubjectKind, subjectID string) (domain.Tally, error) {
	state := a.lockState(kind, subjectID)
	defer state.mu.Unlock()
	if state.values == nil || a.now().Sub(state.loadedAt) > a.cacheTTL {
		if err := a.load(ctx, kind, subjectID, state); err != nil {
			return domain.Tally{}, err
		}
	}
	return domain.Tally{SubjectID: subjectID, SubjectKind: kind, Likes: state.likes, Dislikes: state.dislikes}, nil
}

// Recount derives the tally from the stored votes without touching the cache.
func (a *Aggregator) Recount(ctx context.Context, kind domain.SubjectKind, subjectID string) (domain.Tally, error) {
	votes, err := a.store.ListVotes(ctx, kind, subjectID)
	if err != nil {
		return domain.Tally{}, fmt.Errorf("list votes: %w", err)
	}
	return Count(kind, subjectID, votes), nil
}

// Forget drops cached state for a subject.
func (a *Aggregator) Forget(kind domain.SubjectKind, subjectID string) {
	a.mu.Lock()
	a.evictLocked(subjectKey{kind: kind, id: subjectID})
	a.mu.Unlock()
}

// ForgetRoom drops cached state for every subject voted on in roomID.
func (a *Aggregator) ForgetRoom(roomID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key := range a.rooms[roomID] {
		a.evictLocked(key)
	}
	delete(a.rooms, roomID)
}

// Cached returns the number of subjects with cached state.
func (a *Aggregator) Cached() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subjects)
}

func (a *Aggregator) evictLocked(key subjectKey) {
	if st, ok := a.subjects[key]; ok {
		st.evicted.Store(true)
		delete(a.subjects, key)
	}
}

func (a *Aggregator) track(roomID string, kind domain.SubjectKind, subjectID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys, ok := a.rooms[roomID]
	if !ok {
		keys = make(map[subjectKey]struct{})
		a.rooms[roomID] = keys
	}
	keys[subjectKey{kind: kind, id: subjectID}] = struct{}{}
}

// Invalidate marks the cached tally stale so the next access reloads it.
// Used when another process changed the subject.
func (a *Aggregator) Invalidate(kind domain.SubjectKind, subjectID string) {
	state := a.lockState(kind, subjectID)
	state.values = nil
	state.mu.Unlock()
}

// Count sums votes into a tally.
func Count(kind domain.SubjectKind, subjectID string, votes []domain.Vote) domain.Tally {
	t := domain.Tally{SubjectID: subjectID, SubjectKind: kind}
	for _, v := range votes {
		switch v.Value {
		case domain.VoteUp:
			t.Likes++
		case domain.VoteDown:
			t.Dislikes++
		}
	}
	return t
}

// Tallies groups a room's votes into per-subject tallies.
func Tallies(votes []domain.Vote) []domain.Tally {
	index := make(map[subjectKey]int)
	out := make([]domain.Tally, 0)
	for _, v := range votes {
		key := subjectKey{kind: v.SubjectKind, id: v.SubjectID}
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, domain.Tally{SubjectID: v.SubjectID, SubjectKind: v.SubjectKind})
		}
		switch v.Value {
		case domain.VoteUp:
			out[i].Likes++
		case domain.VoteDown:
			out[i].Dislikes++
		}
	}
	return out
}

func (a *Aggregator) resolveSubject(ctx context.Context, roomID, subjectID string, kind domain.SubjectKind) error {
	if subjectID == "" {
		return fmt.Errorf("%w: subject id required", domain.ErrInvalidSubject)
	}
	var (
		ok  bool
		err error
	)
	switch kind {
	case domain.SubjectPlace:
		_, ok, err = a.store.GetPlace(ctx, roomID, subjectID)
	case domain.SubjectRoute:
		_, ok, err = a.store.GetRoute(ctx, roomID, subjectID)
	}
	if err != nil {
		return fmt.Errorf("resolve subject: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s %s", domain.ErrInvalidSubject, kind, subjectID)
	}
	return nil
}

func (a *Aggregator) state(kind domain.SubjectKind, subjectID string) *subjectState {
	key := subjectKey{kind: kind, id: subjectID}
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.subjects[key]
	if !ok {
		st = &subjectState{}
		a.subjects[key] = st
	}
	return st
}

// lockState returns the subject's state with its lock held.
func (a *Aggregator) lockState(kind domain.SubjectKind, subjectID string) *subjectState {
	for {
		st := a.state(kind, subjectID)
		st.mu.Lock()
		if !st.evicted.Load() {
			return st
		}
		st.mu.Unlock()
	}
}

// ensureFresh reloads the cached tally when it is missing, expired, or
// disagrees with the member's stored vote (written by another process).
func (a *Aggregator) ensureFresh(ctx context.Context, kind domain.SubjectKind, subjectID string, state *subjectState, memberID string, stored domain.Vote, hasStored bool) error {
	stale := state.values == nil || a.now().Sub(state.loadedAt) > a.cacheTTL
	if !stale {
		cached, hasCached := state.values[memberID]
		stale = hasCached != hasStored || (hasStored && cached != stored.Value)
	}
	if !stale {
		return nil
	}
	return a.load(ctx, kind, subjectID, state)
}

func (a *Aggregator) load(ctx context.Context, kind domain.SubjectKind, subjectID string, state *subjectState) error {
	votes, err := a.store.ListVotes(ctx, kind, subjectID)
	if err != nil {
		return fmt.Errorf("list votes: %w", err)
	}
	state.values = make(map[string]domain.VoteValue, len(votes))
	state.likes, state.dislikes = 0, 0
	for _, v := range votes {
		state.values[v.MemberID] = v.Value
		state.add(v.Value, 1)
	}
	state.loadedAt = a.now()
	return nil
}
