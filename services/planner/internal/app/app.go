package app

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tripvote/pkg/ai"
	"tripvote/pkg/domain"
	"tripvote/pkg/hub"
	"tripvote/pkg/route"
	"tripvote/pkg/store"
	"tripvote/pkg/vote"
)

const roomLockStripes = 64

// Config holds runtime configuration for the planner application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Hub         *hub.Hub
	Logger      *slog.Logger

	// Provider configures the generative service. An empty provider runs
	// every generation on the catalog fallback.
	Provider ai.ProviderConfig
	// TextGenerator, when set, is used instead of building one from Provider.
	TextGenerator   ai.TextGenerator
	StageTimeout    time.Duration
	CandidateRoutes int
	JSONRetries     int
	Catalog         *route.Catalog

	AssistantReplyDisabled bool
}

// App is the room state machine. Every mutation is written to the store
// first and then broadcast on the room's hub channel.
type App struct {
	store     store.Store
	hub       *hub.Hub
	votes     *vote.Aggregator
	generator *route.Generator
	coord     route.Coordinator
	assistant ai.TextGenerator
	replyWait time.Duration
	logger    *slog.Logger
	locks     roomLocks
	now       func() time.Time
}

// New constructs the application, falling back to a postgres store when no
// store is injected.
func New(cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	roomHub := cfg.Hub
	if roomHub == nil {
		roomHub = hub.New(hub.NewMemoryTransport(), logger)
	}

	gen, chat := cfg.TextGenerator, cfg.TextGenerator
	if gen == nil && strings.TrimSpace(cfg.Provider.Provider) != "" {
		var err error
		if gen, err = ai.NewGenerator(cfg.Provider); err != nil {
			return nil, fmt.Errorf("init generation provider: %w", err)
		}
		plain := cfg.Provider
		plain.JSONMode = false
		if chat, err = ai.NewGenerator(plain); err != nil {
			return nil, fmt.Errorf("init assistant provider: %w", err)
		}
	}
	candidates := cfg.CandidateRoutes
	if candidates <= 0 {
		candidates = 3
	}
	retries := cfg.JSONRetries
	if retries < 0 {
		retries = 0
	}
	var pipeline *route.Pipeline
	if gen != nil {
		pipeline = route.NewPipeline(cfg.StageTimeout, logger, route.NewLLMStages(gen, candidates, retries)...)
	}
	replyWait := cfg.StageTimeout
	if replyWait <= 0 {
		replyWait = 30 * time.Second
	}
	var assistant ai.TextGenerator
	if !cfg.AssistantReplyDisabled {
		assistant = chat
	}

	return &App{
		store:     dataStore,
		hub:       roomHub,
		votes:     vote.NewAggregator(dataStore),
		generator: route.NewGenerator(pipeline, route.NewFallback(cfg.Catalog), dataStore, logger),
		assistant: assistant,
		replyWait: replyWait,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Hub returns the hub the app broadcasts on.
func (a *App) Hub() *hub.Hub {
	return a.hub
}

// roomLocks serializes writes per room over a fixed set of stripes.
type roomLocks struct {
	stripes [roomLockStripes]sync.Mutex
}

func (l *roomLocks) lock(roomID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(roomID))
	mu := &l.stripes[h.Sum32()%roomLockStripes]
	mu.Lock()
	return mu.Unlock
}

func (a *App) loadRoom(ctx context.Context, roomID string) (domain.Room, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return domain.Room{}, fmt.Errorf("%w: room id required", domain.ErrInvalidInput)
	}
	room, ok, err := a.store.GetRoom(ctx, roomID)
	if err != nil {
		return domain.Room{}, fmt.Errorf("load room: %w", err)
	}
	if !ok {
		return domain.Room{}, fmt.Errorf("%w: room %s", domain.ErrNotFound, roomID)
	}
	return room, nil
}

// authorize loads the room and the acting member. Closed rooms reject every
// mutation with ErrRoomClosed.
func (a *App) authorize(ctx context.Context, roomID, memberID string, ownerOnly bool) (domain.Room, domain.Member, error) {
	room, err := a.loadRoom(ctx, roomID)
	if err != nil {
		return domain.Room{}, domain.Member{}, err
	}
	if room.Status == domain.StatusClosed {
		return room, domain.Member{}, domain.ErrRoomClosed
	}
	member, err := a.member(ctx, room.ID, memberID)
	if err != nil {
		return room, domain.Member{}, err
	}
	if ownerOnly && !room.IsOwner(member.ID) {
		return room, member, fmt.Errorf("%w: owner only", domain.ErrForbidden)
	}
	return room, member, nil
}

func (a *App) member(ctx context.Context, roomID, memberID string) (domain.Member, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return domain.Member{}, fmt.Errorf("%w: not a member", domain.ErrForbidden)
	}
	member, ok, err := a.store.GetMember(ctx, roomID, memberID)
	if err != nil {
		return domain.Member{}, fmt.Errorf("load member: %w", err)
	}
	if !ok {
		return domain.Member{}, fmt.Errorf("%w: not a member", domain.ErrForbidden)
	}
	return member, nil
}

// ResolveMember finds the member row of identity in roomID.
func (a *App) ResolveMember(ctx context.Context, roomID string, identity domain.Identity) (domain.Member, error) {
	key := identity.Key()
	if key == "" {
		return domain.Member{}, fmt.Errorf("%w: identity required", domain.ErrForbidden)
	}
	if _, err := a.loadRoom(ctx, roomID); err != nil {
		return domain.Member{}, err
	}
	members, err := a.store.ListMembers(ctx, roomID)
	if err != nil {
		return domain.Member{}, fmt.Errorf("list members: %w", err)
	}
	for _, m := range members {
		if m.IdentityKey() == key {
			return m, nil
		}
	}
	return domain.Member{}, fmt.Errorf("%w: not a member", domain.ErrForbidden)
}

// broadcast publishes after a successful store write. Delivery is best
// effort; clients recover missed events through snapshots.
func (a *App) broadcast(ctx context.Context, roomID string, typ hub.EventType, origin string, payload any) {
	if _, err := a.hub.Broadcast(ctx, roomID, typ, origin, payload); err != nil {
		a.logger.Warn("room broadcast failed", "room_id", roomID, "type", typ, "err", err)
	}
}

// follow registers the app's own handlers on the room channel. Duplicate
// registrations are ignored by the hub.
func (a *App) follow(ctx context.Context, roomID string) {
	ctx = context.WithoutCancel(ctx)
	if err := a.hub.Subscribe(ctx, roomID, hub.EventVoteChanged, a.onVoteChanged); err != nil {
		a.logger.Warn("room subscribe failed", "room_id", roomID, "err", err)
		return
	}
	if err := a.hub.Subscribe(ctx, roomID, hub.EventRoomClosed, a.onRoomClosed); err != nil {
		a.logger.Warn("room subscribe failed", "room_id", roomID, "err", err)
	}
	if err := a.hub.Subscribe(ctx, roomID, hub.EventMemberLeft, a.onMemberLeft); err != nil {
		a.logger.Warn("room subscribe failed", "room_id", roomID, "err", err)
	}
}

// release drops the room's hub handlers and cached tallies.
func (a *App) release(roomID string) {
	a.hub.Leave(roomID)
	a.votes.ForgetRoom(roomID)
}

func (a *App) onVoteChanged(e hub.Event) {
	if !a.hub.IsRemote(e) {
		return
	}
	var payload hub.VotePayload
	if err := e.Decode(&payload); err != nil {
		a.logger.Warn("decode vote event", "room_id", e.RoomID, "event_id", e.ID, "err", err)
		return
	}
	a.votes.Invalidate(payload.SubjectKind, payload.SubjectID)
}

func (a *App) onRoomClosed(e hub.Event) {
	// Leave unsubscribes from the transport; run it off the delivery goroutine.
	go a.release(e.RoomID)
}

// onMemberLeft releases the room once its last active member is gone.
// Joining again follows the room anew.
func (a *App) onMemberLeft(e hub.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		members, err := a.store.ListMembers(ctx, e.RoomID)
		if err != nil {
			a.logger.Warn("list members after leave", "room_id", e.RoomID, "err", err)
			return
		}
		for _, m := range members {
			if m.Active {
				return
			}
		}
		a.release(e.RoomID)
	}()
}

func mapConflict(err error) error {
	if errors.Is(err, domain.ErrConflict) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidState, err)
	}
	return err
}
