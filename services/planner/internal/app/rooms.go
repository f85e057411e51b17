package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"tripvote/internal/util"
	"tripvote/pkg/domain"
	"tripvote/pkg/hub"
	"tripvote/pkg/placeref"
)

const (
	maxTitleRunes    = 100
	maxNicknameRunes = 40
	inviteCodeLength = 8
	inviteAttempts   = 3
	defaultNickname  = "traveler"
)

// CreateRoomParams describes a new room.
type CreateRoomParams struct {
	Title     string         `json:"title"`
	TripDate  string         `json:"tripDate"`
	StartTime string         `json:"startTime"`
	EndTime   string         `json:"endTime"`
	BudgetMin int            `json:"budgetMin"`
	BudgetMax int            `json:"budgetMax"`
	Districts []string       `json:"districts"`
	MustVisit []placeref.Raw `json:"mustVisit"`
}

func (p CreateRoomParams) validate() error {
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return fmt.Errorf("%w: title required", domain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		return fmt.Errorf("%w: title too long", domain.ErrInvalidInput)
	}
	if p.BudgetMin < 0 || p.BudgetMax < 0 {
		return fmt.Errorf("%w: budget must be >= 0", domain.ErrInvalidInput)
	}
	if p.BudgetMax > 0 && p.BudgetMin > p.BudgetMax {
		return fmt.Errorf("%w: budgetMin exceeds budgetMax", domain.ErrInvalidInput)
	}
	if d := strings.TrimSpace(p.TripDate); d != "" {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("%w: tripDate must be YYYY-MM-DD", domain.ErrInvalidInput)
		}
	}
	var start, end time.Time
	var err error
	if s := strings.TrimSpace(p.StartTime); s != "" {
		if start, err = time.Parse("15:04", s); err != nil {
			return fmt.Errorf("%w: startTime must be HH:MM", domain.ErrInvalidInput)
		}
	}
	if s := strings.TrimSpace(p.EndTime); s != "" {
		if end, err = time.Parse("15:04", s); err != nil {
			return fmt.Errorf("%w: endTime must be HH:MM", domain.ErrInvalidInput)
		}
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		return fmt.Errorf("%w: endTime must be after startTime", domain.ErrInvalidInput)
	}
	return nil
}

// CreateRoom creates a room in status active together with the owner member.
func (a *App) CreateRoom(ctx context.Context, owner domain.Identity, params CreateRoomParams) (domain.Room, domain.Member, error) {
	owner, err := normalizeIdentity(owner)
	if err != nil {
		return domain.Room{}, domain.Member{}, err
	}
	if err := params.validate(); err != nil {
		return domain.Room{}, domain.Member{}, err
	}
	now := a.now()
	room := domain.Room{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(params.Title),
		Status:      domain.StatusActive,
		OwnerUserID: owner.UserID,
		TripDate:    strings.TrimSpace(params.TripDate),
		StartTime:   strings.TrimSpace(params.StartTime),
		EndTime:     strings.TrimSpace(params.EndTime),
		BudgetMin:   params.BudgetMin,
		BudgetMax:   params.BudgetMax,
		Districts:   cleanList(params.Districts),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, raw := range params.MustVisit {
		id, err := placeref.Normalize(room.ID, raw)
		if err != nil {
			return domain.Room{}, domain.Member{}, fmt.Errorf("%w: must-visit place: %v", domain.ErrInvalidInput, err)
		}
		room.MustVisit = append(room.MustVisit, id)
	}
	member := newMember(room.ID, owner, now)
	room.OwnerMember = member.ID

	for attempt := 0; ; attempt++ {
		room.InviteCode = util.NewInviteCode(inviteCodeLength)
		err = a.store.CreateRoom(ctx, room, member)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrConflict) || attempt+1 >= inviteAttempts {
			return domain.Room{}, domain.Member{}, fmt.Errorf("create room: %w", err)
		}
	}
	for _, raw := range params.MustVisit {
		if strings.TrimSpace(raw.Name) == "" {
			continue
		}
		if raw.Source == "" {
			raw.Source = domain.PlaceFromManual
		}
		if _, err := placeref.Ensure(ctx, a.store, room.ID, raw); err != nil {
			return domain.Room{}, domain.Member{}, fmt.Errorf("register must-visit place: %w", err)
		}
	}
	a.follow(ctx, room.ID)
	a.logger.Info("room created", "room_id", room.ID, "owner_member_id", member.ID)
	return room, member, nil
}

// JoinRoom returns the identity's member row, creating it on first join.
// A member who left is reactivated.
func (a *App) JoinRoom(ctx context.Context, roomID string, identity domain.Identity) (domain.Member, bool, error) {
	identity, err := normalizeIdentity(identity)
	if err != nil {
		return domain.Member{}, false, err
	}
	room, err := a.loadRoom(ctx, roomID)
	if err != nil {
		return domain.Member{}, false, err
	}
	if room.Status == domain.StatusClosed {
		return domain.Member{}, false, domain.ErrRoomClosed
	}
	member, created, err := a.store.InsertMemberIfAbsent(ctx, newMember(room.ID, identity, a.now()))
	if err != nil {
		return domain.Member{}, false, fmt.Errorf("join room: %w", err)
	}
	if !created && !member.Active {
		member.Active = true
		if err := a.store.UpdateMember(ctx, member); err != nil {
			return domain.Member{}, false, fmt.Errorf("rejoin room: %w", err)
		}
	}
	a.follow(ctx, room.ID)
	if created {
		a.broadcast(ctx, room.ID, hub.EventMemberJoined, member.ID, hub.MemberPayload{Member: member})
	}
	return member, created, nil
}

// JoinByInvite resolves an invite code and joins its room.
func (a *App) JoinByInvite(ctx context.Context, inviteCode string, identity domain.Identity) (domain.Room, domain.Member, bool, error) {
	code := strings.ToUpper(strings.TrimSpace(inviteCode))
	if code == "" {
		return domain.Room{}, domain.Member{}, false, fmt.Errorf("%w: invite code required", domain.ErrInvalidInput)
	}
	room, ok, err := a.store.GetRoomByInvite(ctx, code)
	if err != nil {
		return domain.Room{}, domain.Member{}, false, fmt.Errorf("resolve invite: %w", err)
	}
	if !ok {
		return domain.Room{}, domain.Member{}, false, fmt.Errorf("%w: invite %s", domain.ErrNotFound, code)
	}
	member, created, err := a.JoinRoom(ctx, room.ID, identity)
	if err != nil {
		return domain.Room{}, domain.Member{}, false, err
	}
	return room, member, created, nil
}

// LeaveRoom marks the member inactive. The row is kept so votes and chat
// stay attributed.
func (a *App) LeaveRoom(ctx context.Context, roomID, memberID string) error {
	room, err := a.loadRoom(ctx, roomID)
	if err != nil {
		return err
	}
	member, err := a.member(ctx, room.ID, memberID)
	if err != nil {
		return err
	}
	if !member.Active {
		return nil
	}
	member.Active = false
	if err := a.store.UpdateMember(ctx, member); err != nil {
		return fmt.Errorf("leave room: %w", err)
	}
	a.broadcast(ctx, room.ID, hub.EventMemberLeft, member.ID, hub.MemberPayload{Member: member})
	return nil
}

// CloseRoom moves the room to the terminal closed status.
func (a *App) CloseRoom(ctx context.Context, roomID, by string) (domain.Room, error) {
	room, _, err := a.authorize(ctx, roomID, by, true)
	if err != nil {
		return domain.Room{}, err
	}
	unlock := a.locks.lock(room.ID)
	defer unlock()
	err = a.store.UpdateRoomStatus(ctx, room.ID, []domain.RoomStatus{
		domain.StatusActive, domain.StatusRoutesGenerated, domain.StatusCompleted,
	}, domain.StatusClosed)
	if errors.Is(err, domain.ErrConflict) {
		return domain.Room{}, domain.ErrRoomClosed
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("close room: %w", err)
	}
	room.Status = domain.StatusClosed
	a.broadcast(ctx, room.ID, hub.EventRoomClosed, by, hub.RoomClosedPayload{ClosedBy: by})
	a.logger.Info("room closed", "room_id", room.ID, "member_id", by)
	return room, nil
}

// SubmitPreferences stores the member's preferences and marks them done.
func (a *App) SubmitPreferences(ctx context.Context, roomID, memberID string, prefs domain.Preferences) (domain.Member, error) {
	room, member, err := a.authorize(ctx, roomID, memberID, false)
	if err != nil {
		return domain.Member{}, err
	}
	prefs, err = normalizePreferences(prefs)
	if err != nil {
		return domain.Member{}, err
	}
	member.Preferences = prefs
	member.PreferencesDone = true
	if err := a.store.UpdateMember(ctx, member); err != nil {
		return domain.Member{}, fmt.Errorf("save preferences: %w", err)
	}
	members, err := a.store.ListMembers(ctx, room.ID)
	if err != nil {
		return domain.Member{}, fmt.Errorf("list members: %w", err)
	}
	payload := hub.PreferencesPayload{MemberID: member.ID}
	for _, m := range members {
		if !m.Active {
			continue
		}
		payload.Total++
		if m.PreferencesDone {
			payload.Done++
		}
	}
	a.broadcast(ctx, room.ID, hub.EventPreferencesCompleted, member.ID, payload)
	return member, nil
}

// Typing broadcasts a typing indicator. Nothing is stored.
func (a *App) Typing(ctx context.Context, roomID, memberID string) error {
	room, member, err := a.authorize(ctx, roomID, memberID, false)
	if err != nil {
		return err
	}
	_, err = a.hub.Broadcast(ctx, room.ID, hub.EventTyping, member.ID, hub.TypingPayload{MemberID: member.ID, Nickname: member.Nickname})
	return err
}

var (
	paces      = map[string]bool{"": true, "relaxed": true, "moderate": true, "packed": true}
	tolerances = map[string]bool{"": true, "strict": true, "flexible": true, "generous": true}
)

func normalizePreferences(p domain.Preferences) (domain.Preferences, error) {
	p.Pace = strings.ToLower(strings.TrimSpace(p.Pace))
	p.BudgetTolerance = strings.ToLower(strings.TrimSpace(p.BudgetTolerance))
	if !paces[p.Pace] {
		return p, fmt.Errorf("%w: pace %q", domain.ErrInvalidInput, p.Pace)
	}
	if !tolerances[p.BudgetTolerance] {
		return p, fmt.Errorf("%w: budgetTolerance %q", domain.ErrInvalidInput, p.BudgetTolerance)
	}
	p.Categories = cleanList(p.Categories)
	p.Notes = strings.TrimSpace(p.Notes)
	if utf8.RuneCountInString(p.Notes) > maxMessageRunes {
		return p, fmt.Errorf("%w: notes too long", domain.ErrInvalidInput)
	}
	return p, nil
}

func normalizeIdentity(id domain.Identity) (domain.Identity, error) {
	id.UserID = strings.TrimSpace(id.UserID)
	id.AnonymousID = strings.TrimSpace(id.AnonymousID)
	if id.UserID != "" {
		id.AnonymousID = ""
	}
	if id.Key() == "" {
		return id, fmt.Errorf("%w: identity required", domain.ErrInvalidInput)
	}
	nick := strings.Join(strings.Fields(id.Nickname), " ")
	if nick == "" {
		nick = defaultNickname
	}
	if utf8.RuneCountInString(nick) > maxNicknameRunes {
		nick = string([]rune(nick)[:maxNicknameRunes])
	}
	id.Nickname = nick
	return id, nil
}

func newMember(roomID string, id domain.Identity, now time.Time) domain.Member {
	return domain.Member{
		ID:          uuid.NewString(),
		RoomID:      roomID,
		UserID:      id.UserID,
		AnonymousID: id.AnonymousID,
		Nickname:    id.Nickname,
		Active:      true,
		JoinedAt:    now,
	}
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}
