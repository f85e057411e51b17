package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tripvote/pkg/domain"
)

type voteKey struct {
	kind      domain.SubjectKind
	subjectID string
	memberID  string
}

type placeKey struct {
	roomID string
	id     string
}

// MemoryStore keeps room state in-process. It backs tests and single-node
// deployments without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	rooms    map[string]domain.Room
	invites  map[string]string // invite code -> room ID
	members  map[string]domain.Member
	identity map[string]string // roomID|identity key -> member ID
	places   map[placeKey]domain.PlaceRef
	routes   map[string]domain.Route
	order    []string // route IDs in insertion order
	votes    map[voteKey]domain.Vote
	chats    map[string][]domain.ChatMessage
	keep     map[string][]domain.KeepListEntry
	seq      int64
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:    make(map[string]domain.Room),
		invites:  make(map[string]string),
		members:  make(map[string]domain.Member),
		identity: make(map[string]string),
		places:   make(map[placeKey]domain.PlaceRef),
		routes:   make(map[string]domain.Route),
		votes:    make(map[voteKey]domain.Vote),
		chats:    make(map[string][]domain.ChatMessage),
		keep:     make(map[string][]domain.KeepListEntry),
	}
}

func identitySlot(roomID, key string) string {
	return roomID + "|" + key
}

// CreateRoom stores a room together with its owner member.
func (m *MemoryStore) CreateRoom(_ context.Context, room domain.Room, owner domain.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rooms[room.ID]; exists {
		return fmt.Errorf("%w: room %s exists", domain.ErrConflict, room.ID)
	}
	if _, exists := m.invites[room.InviteCode]; exists {
		return fmt.Errorf("%w: invite code in use", domain.ErrConflict)
	}
	m.rooms[room.ID] = cloneRoom(room)
	m.invites[room.InviteCode] = room.ID
	m.members[owner.ID] = owner
	m.identity[identitySlot(room.ID, owner.IdentityKey())] = owner.ID
	return nil
}

// GetRoom retrieves a room by ID.
func (m *MemoryStore) GetRoom(_ context.Context, id string) (domain.Room, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	return cloneRoom(r), ok, nil
}

// GetRoomByInvite resolves an invite code.
func (m *MemoryStore) GetRoomByInvite(_ context.Context, code string) (domain.Room, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.invites[strings.TrimSpace(code)]
	if !ok {
		return domain.Room{}, false, nil
	}
	r, ok := m.rooms[id]
	return cloneRoom(r), ok, nil
}

// UpdateRoomStatus is a conditional status update.
func (m *MemoryStore) UpdateRoomStatus(_ context.Context, id string, from []domain.RoomStatus, to domain.RoomStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !statusIn(r.Status, from) {
		return fmt.Errorf("%w: room status %s", domain.ErrConflict, r.Status)
	}
	r.Status = to
	r.UpdatedAt = time.Now().UTC()
	m.rooms[id] = r
	return nil
}

// InsertMemberIfAbsent returns the existing member for the identity or stores mem.
func (m *MemoryStore) InsertMemberIfAbsent(_ context.Context, mem domain.Member) (domain.Member, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[mem.RoomID]; !ok {
		return domain.Member{}, false, domain.ErrNotFound
	}
	slot := identitySlot(mem.RoomID, mem.IdentityKey())
	if id, ok := m.identity[slot]; ok {
		return m.members[id], false, nil
	}
	m.members[mem.ID] = mem
	m.identity[slot] = mem.ID
	return mem, true, nil
}

// GetMember returns a member of a room.
func (m *MemoryStore) GetMember(_ context.Context, roomID, memberID string) (domain.Member, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.members[memberID]
	if !ok || mem.RoomID != roomID {
		return domain.Member{}, false, nil
	}
	return mem, true, nil
}

// ListMembers returns members ordered by join time.
func (m *MemoryStore) ListMembers(_ context.Context, roomID string) ([]domain.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Member, 0)
	for _, mem := range m.members {
		if mem.RoomID == roomID {
			res = append(res, mem)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].JoinedAt.Equal(res[j].JoinedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].JoinedAt.Before(res[j].JoinedAt)
	})
	return res, nil
}

// UpdateMember replaces the mutable member fields.
func (m *MemoryStore) UpdateMember(_ context.Context, mem domain.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.members[mem.ID]
	if !ok || existing.RoomID != mem.RoomID {
		return domain.ErrNotFound
	}
	existing.Nickname = mem.Nickname
	existing.Preferences = mem.Preferences
	existing.PreferencesDone = mem.PreferencesDone
	existing.Active = mem.Active
	m.members[mem.ID] = existing
	return nil
}

// InsertPlaceIfAbsent stores p unless a place with the same ID exists in the room.
func (m *MemoryStore) InsertPlaceIfAbsent(_ context.Context, p domain.PlaceRef) (domain.PlaceRef, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := placeKey{roomID: p.RoomID, id: p.ID}
	if existing, ok := m.places[key]; ok {
		return existing, false, nil
	}
	m.places[key] = p
	return p, true, nil
}

// GetPlace returns a place of a room.
func (m *MemoryStore) GetPlace(_ context.Context, roomID, id string) (domain.PlaceRef, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.places[placeKey{roomID: roomID, id: id}]
	return p, ok, nil
}

// ListPlaces returns the places for ids in the given order, skipping unknown IDs.
func (m *MemoryStore) ListPlaces(_ context.Context, roomID string, ids []string) ([]domain.PlaceRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.PlaceRef, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.places[placeKey{roomID: roomID, id: id}]; ok {
			res = append(res, p)
		}
	}
	return res, nil
}

// SaveGeneration stores routes and marks the room routes_generated.
func (m *MemoryStore) SaveGeneration(_ context.Context, roomID string, routes []domain.Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return domain.ErrNotFound
	}
	if r.Status != domain.StatusActive {
		return fmt.Errorf("%w: room status %s", domain.ErrConflict, r.Status)
	}
	if len(routes) == 0 {
		return fmt.Errorf("%w: generation without routes", domain.ErrInvalidInput)
	}
	for _, route := range routes {
		route.RoomID = roomID
		route.IsSelected = false
		route.Places = nil
		route.PlaceIDs = append([]string(nil), route.PlaceIDs...)
		m.routes[route.ID] = route
		m.order = append(m.order, route.ID)
	}
	r.Status = domain.StatusRoutesGenerated
	r.UpdatedAt = time.Now().UTC()
	m.rooms[roomID] = r
	return nil
}

// ListRoutes returns routes of a room in insertion order.
func (m *MemoryStore) ListRoutes(_ context.Context, roomID string) ([]domain.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Route, 0)
	for _, id := range m.order {
		if r, ok := m.routes[id]; ok && r.RoomID == roomID {
			res = append(res, cloneRoute(r))
		}
	}
	return res, nil
}

// GetRoute returns a route of a room.
func (m *MemoryStore) GetRoute(_ context.Context, roomID, routeID string) (domain.Route, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.routes[routeID]
	if !ok || r.RoomID != roomID {
		return domain.Route{}, false, nil
	}
	return cloneRoute(r), true, nil
}

// SelectRoute swaps the selected route of a room in one step.
func (m *MemoryStore) SelectRoute(_ context.Context, roomID, routeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return false, domain.ErrNotFound
	}
	target, ok := m.routes[routeID]
	if !ok || target.RoomID != roomID {
		return false, domain.ErrNotFound
	}
	if room.Status != domain.StatusRoutesGenerated && room.Status != domain.StatusCompleted {
		return false, fmt.Errorf("%w: room status %s", domain.ErrConflict, room.Status)
	}
	if target.IsSelected {
		return false, nil
	}
	for id, r := range m.routes {
		if r.RoomID == roomID && r.IsSelected {
			r.IsSelected = false
			m.routes[id] = r
		}
	}
	target.IsSelected = true
	m.routes[routeID] = target
	room.Status = domain.StatusCompleted
	room.UpdatedAt = time.Now().UTC()
	m.rooms[roomID] = room
	return true, nil
}

// UpdateRoutePlaces replaces the ordered place list of a route.
func (m *MemoryStore) UpdateRoutePlaces(_ context.Context, roomID, routeID string, placeIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[routeID]
	if !ok || r.RoomID != roomID {
		return domain.ErrNotFound
	}
	r.PlaceIDs = append([]string(nil), placeIDs...)
	m.routes[routeID] = r
	return nil
}

// GetVote returns the member's vote on a subject.
func (m *MemoryStore) GetVote(_ context.Context, kind domain.SubjectKind, subjectID, memberID string) (domain.Vote, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.votes[voteKey{kind: kind, subjectID: subjectID, memberID: memberID}]
	return v, ok, nil
}

// UpsertVote writes the member's vote, replacing any previous value.
func (m *MemoryStore) UpsertVote(_ context.Context, v domain.Vote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.votes[voteKey{kind: v.SubjectKind, subjectID: v.SubjectID, memberID: v.MemberID}] = v
	return nil
}

// DeleteVote removes the member's vote on a subject.
func (m *MemoryStore) DeleteVote(_ context.Context, kind domain.SubjectKind, subjectID, memberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.votes, voteKey{kind: kind, subjectID: subjectID, memberID: memberID})
	return nil
}

// ListVotes returns all votes on a subject.
func (m *MemoryStore) ListVotes(_ context.Context, kind domain.SubjectKind, subjectID string) ([]domain.Vote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Vote, 0)
	for k, v := range m.votes {
		if k.kind == kind && k.subjectID == subjectID {
			res = append(res, v)
		}
	}
	sortVotes(res)
	return res, nil
}

// ListRoomVotes returns all votes cast in a room.
func (m *MemoryStore) ListRoomVotes(_ context.Context, roomID string) ([]domain.Vote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Vote, 0)
	for _, v := range m.votes {
		if v.RoomID == roomID {
			res = append(res, v)
		}
	}
	sortVotes(res)
	return res, nil
}

// AppendChatMessage records a message and assigns its insertion sequence.
func (m *MemoryStore) AppendChatMessage(_ context.Context, msg domain.ChatMessage) (domain.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[msg.RoomID]; !ok {
		return domain.ChatMessage{}, domain.ErrNotFound
	}
	m.seq++
	msg.Seq = m.seq
	m.chats[msg.RoomID] = append(m.chats[msg.RoomID], msg)
	return msg, nil
}

// ListChatMessages returns the most recent messages in chronological order.
func (m *MemoryStore) ListChatMessages(_ context.Context, roomID string, channel domain.Channel, threadID string, limit int) ([]domain.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ChatMessage, 0)
	for _, msg := range m.chats[roomID] {
		if msg.Channel != channel {
			continue
		}
		if threadID != "" && msg.ThreadID != threadID {
			continue
		}
		res = append(res, msg)
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].Seq < res[j].Seq
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	if limit > 0 && len(res) > limit {
		res = res[len(res)-limit:]
	}
	return res, nil
}

// AddKeep adds a place to the keep list unless it is already kept.
func (m *MemoryStore) AddKeep(_ context.Context, entry domain.KeepListEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.placeInRouteLocked(entry.RoomID, entry.PlaceID) {
		return false, fmt.Errorf("%w: place %s is part of a route", domain.ErrConflict, entry.PlaceID)
	}
	if m.keptLocked(entry.RoomID, entry.PlaceID) {
		return false, nil
	}
	m.keep[entry.RoomID] = append(m.keep[entry.RoomID], entry)
	return true, nil
}

// ListKeep returns the keep list in insertion order.
func (m *MemoryStore) ListKeep(_ context.Context, roomID string) ([]domain.KeepListEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.KeepListEntry(nil), m.keep[roomID]...), nil
}

// MovePlaceToKeep moves a place from the room's routes to the keep list.
// It fails with domain.ErrConflict when a route would end up empty.
func (m *MemoryStore) MovePlaceToKeep(_ context.Context, roomID, routeID, placeID, by string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	source, ok := m.routes[routeID]
	if !ok || source.RoomID != roomID {
		return domain.ErrNotFound
	}
	if !source.HasPlace(placeID) {
		return fmt.Errorf("%w: place %s not in route", domain.ErrInvalidSubject, placeID)
	}
	for _, r := range m.routes {
		if r.RoomID == roomID && r.HasPlace(placeID) && len(r.PlaceIDs) <= 1 {
			return fmt.Errorf("%w: route %s would be left without places", domain.ErrConflict, r.ID)
		}
	}
	for id, r := range m.routes {
		if r.RoomID != roomID {
			continue
		}
		if ids, removed := without(r.PlaceIDs, placeID); removed {
			r.PlaceIDs = ids
			m.routes[id] = r
		}
	}
	if !m.keptLocked(roomID, placeID) {
		m.keep[roomID] = append(m.keep[roomID], domain.KeepListEntry{
			RoomID:    roomID,
			PlaceID:   placeID,
			AddedBy:   by,
			CreatedAt: time.Now().UTC(),
		})
	}
	return nil
}

// MovePlaceToRoute moves a kept place into a route.
func (m *MemoryStore) MovePlaceToRoute(_ context.Context, roomID, routeID, placeID string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.routes[routeID]
	if !ok || target.RoomID != roomID {
		return domain.ErrNotFound
	}
	entries := m.keep[roomID]
	pos := -1
	for i, e := range entries {
		if e.PlaceID == placeID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return fmt.Errorf("%w: place %s not in keep list", domain.ErrInvalidSubject, placeID)
	}
	m.keep[roomID] = append(entries[:pos:pos], entries[pos+1:]...)
	target.PlaceIDs = insertAt(target.PlaceIDs, placeID, index)
	m.routes[routeID] = target
	return nil
}

func (m *MemoryStore) placeInRouteLocked(roomID, placeID string) bool {
	for _, r := range m.routes {
		if r.RoomID == roomID && r.HasPlace(placeID) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) keptLocked(roomID, placeID string) bool {
	for _, e := range m.keep[roomID] {
		if e.PlaceID == placeID {
			return true
		}
	}
	return false
}

func cloneRoom(r domain.Room) domain.Room {
	r.Districts = append([]string(nil), r.Districts...)
	r.MustVisit = append([]string(nil), r.MustVisit...)
	return r
}

func cloneRoute(r domain.Route) domain.Route {
	r.PlaceIDs = append([]string(nil), r.PlaceIDs...)
	return r
}

func sortVotes(votes []domain.Vote) {
	sort.Slice(votes, func(i, j int) bool {
		if votes[i].SubjectID == votes[j].SubjectID {
			return votes[i].MemberID < votes[j].MemberID
		}
		return votes[i].SubjectID < votes[j].SubjectID
	})
}
