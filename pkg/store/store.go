package store

import (
	"context"

	"tripvote/pkg/domain"
)

// Store defines persistence operations for rooms and everything a room owns.
// Conditional operations return domain.ErrConflict when their predicate does
// not hold and domain.ErrNotFound when the addressed row is missing.
type Store interface {
	// rooms
	CreateRoom(ctx context.Context, room domain.Room, owner domain.Member) error
	GetRoom(ctx context.Context, id string) (domain.Room, bool, error)
	GetRoomByInvite(ctx context.Context, code string) (domain.Room, bool, error)
	// UpdateRoomStatus sets status to `to` only when the current status is one of `from`.
	UpdateRoomStatus(ctx context.Context, id string, from []domain.RoomStatus, to domain.RoomStatus) error

	// members
	InsertMemberIfAbsent(ctx context.Context, m domain.Member) (domain.Member, bool, error)
	GetMember(ctx context.Context, roomID, memberID string) (domain.Member, bool, error)
	ListMembers(ctx context.Context, roomID string) ([]domain.Member, error)
	UpdateMember(ctx context.Context, m domain.Member) error

	// places
	InsertPlaceIfAbsent(ctx context.Context, p domain.PlaceRef) (domain.PlaceRef, bool, error)
	GetPlace(ctx context.Context, roomID, id string) (domain.PlaceRef, bool, error)
	ListPlaces(ctx context.Context, roomID string, ids []string) ([]domain.PlaceRef, error)

	// routes
	// SaveGeneration persists routes and moves the room from active to
	// routes_generated in one write.
	SaveGeneration(ctx context.Context, roomID string, routes []domain.Route) error
	ListRoutes(ctx context.Context, roomID string) ([]domain.Route, error)
	GetRoute(ctx context.Context, roomID, routeID string) (domain.Route, bool, error)
	// SelectRoute un-marks any other selected route of the room, marks routeID
	// and moves the room to completed. changed is false when routeID was
	// already the selected route.
	SelectRoute(ctx context.Context, roomID, routeID string) (changed bool, err error)
	UpdateRoutePlaces(ctx context.Context, roomID, routeID string, placeIDs []string) error

	// votes
	GetVote(ctx context.Context, kind domain.SubjectKind, subjectID, memberID string) (domain.Vote, bool, error)
	UpsertVote(ctx context.Context, v domain.Vote) error
	DeleteVote(ctx context.Context, kind domain.SubjectKind, subjectID, memberID string) error
	ListVotes(ctx context.Context, kind domain.SubjectKind, subjectID string) ([]domain.Vote, error)
	ListRoomVotes(ctx context.Context, roomID string) ([]domain.Vote, error)

	// chat
	AppendChatMessage(ctx context.Context, msg domain.ChatMessage) (domain.ChatMessage, error)
	// ListChatMessages returns messages in (created_at, seq) order. An empty
	// threadID returns every thread of the channel.
	ListChatMessages(ctx context.Context, roomID string, channel domain.Channel, threadID string, limit int) ([]domain.ChatMessage, error)

	// keep list
	AddKeep(ctx context.Context, entry domain.KeepListEntry) (bool, error)
	ListKeep(ctx context.Context, roomID string) ([]domain.KeepListEntry, error)
	// MovePlaceToKeep removes placeID from every route of the room and adds it
	// to the keep list. routeID must currently contain the place, and no
	// route may be left empty (domain.ErrConflict).
	MovePlaceToKeep(ctx context.Context, roomID, routeID, placeID, by string) error
	// MovePlaceToRoute removes placeID from the keep list and inserts it into
	// routeID at index (clamped).
	MovePlaceToRoute(ctx context.Context, roomID, routeID, placeID string, index int) error
}

func statusIn(status domain.RoomStatus, allowed []domain.RoomStatus) bool {
	for _, s := range allowed {
		if s == status {
			return true
		}
	}
	return false
}

func insertAt(ids []string, id string, index int) []string {
	if index < 0 || index > len(ids) {
		index = len(ids)
	}
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:index]...)
	out = append(out, id)
	out = append(out, ids[index:]...)
	return out
}

func without(ids []string, id string) ([]string, bool) {
	out := make([]string, 0, len(ids))
	removed := false
	for _, item := range ids {
		if item == id {
			removed = true
			continue
		}
		out = append(out, item)
	}
	return out, removed
}
