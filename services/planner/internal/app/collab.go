package app

import (
	"context"
	"fmt"

	"tripvote/pkg/domain"
	"tripvote/pkg/hub"
	"tripvote/pkg/placeref"
	"tripvote/pkg/vote"
)

// ApplyVote records memberID's vote on a route or place of the room.
func (a *App) ApplyVote(ctx context.Context, roomID, subjectID string, kind domain.SubjectKind, memberID string, value domain.VoteValue) (vote.Result, error) {
	room, member, err := a.authorize(ctx, roomID, memberID, false)
	if err != nil {
		return vote.Result{}, err
	}
	unlock := a.locks.lock(room.ID)
	res, err := a.votes.Apply(ctx, room.ID, subjectID, kind, member.ID, value)
	unlock()
	if err != nil {
		return vote.Result{}, err
	}
	a.follow(ctx, room.ID)
	payload := hub.VotePayload{
		SubjectID:   res.SubjectID,
		SubjectKind: res.SubjectKind,
		MemberID:    member.ID,
		Likes:       res.Likes,
		Dislikes:    res.Dislikes,
	}
	if res.Resolved != nil {
		payload.Value = res.Resolved.APIString()
	}
	a.broadcast(ctx, room.ID, hub.EventVoteChanged, member.ID, payload)
	return res, nil
}

// KeptPlace is a keep-list entry with its place resolved.
type KeptPlace struct {
	domain.KeepListEntry
	Place domain.PlaceRef `json:"place"`
}

// MoveToKeep takes a place out of the room's routes and onto the keep list.
func (a *App) MoveToKeep(ctx context.Context, roomID, routeID string, raw placeref.Raw, by string) (domain.PlaceRef, error) {
	room, member, err := a.authorize(ctx, roomID, by, false)
	if err != nil {
		return domain.PlaceRef{}, err
	}
	place, err := placeref.Ensure(ctx, a.store, room.ID, raw)
	if err != nil {
		return domain.PlaceRef{}, err
	}
	unlock := a.locks.lock(room.ID)
	defer unlock()
	if err := a.store.MovePlaceToKeep(ctx, room.ID, routeID, place.ID, member.ID); err != nil {
		return domain.PlaceRef{}, fmt.Errorf("move to keep: %w", mapConflict(err))
	}
	a.broadcast(ctx, room.ID, hub.EventKeepListChanged, member.ID, hub.KeepPayload{
		Action:  hub.KeepActionKept,
		PlaceID: place.ID,
		RouteID: routeID,
	})
	return place, nil
}

// MoveToRoute takes a kept place and inserts it into routeID at index.
// An out-of-range index appends.
func (a *App) MoveToRoute(ctx context.Context, roomID, routeID, placeID string, index int, by string) (domain.Route, error) {
	room, member, err := a.authorize(ctx, roomID, by, false)
	if err != nil {
		return domain.Route{}, err
	}
	place, err := placeref.Ensure(ctx, a.store, room.ID, placeref.Raw{ID: placeID})
	if err != nil {
		return domain.Route{}, err
	}
	unlock := a.locks.lock(room.ID)
	defer unlock()
	if err := a.store.MovePlaceToRoute(ctx, room.ID, routeID, place.ID, index); err != nil {
		return domain.Route{}, fmt.Errorf("move to route: %w", err)
	}
	updated, ok, err := a.store.GetRoute(ctx, room.ID, routeID)
	if err != nil {
		return domain.Route{}, fmt.Errorf("load route: %w", err)
	}
	if !ok {
		return domain.Route{}, fmt.Errorf("%w: route %s", domain.ErrNotFound, routeID)
	}
	a.broadcast(ctx, room.ID, hub.EventKeepListChanged, member.ID, hub.KeepPayload{
		Action:   hub.KeepActionRouted,
		PlaceID:  place.ID,
		RouteID:  routeID,
		PlaceIDs: updated.PlaceIDs,
	})
	return a.resolveRoute(ctx, updated)
}

// AddToKeep keeps a place that is not part of any route, such as an
// assistant suggestion. Keeping an already kept place is a no-op.
func (a *App) AddToKeep(ctx context.Context, roomID string, raw placeref.Raw, by string) (KeptPlace, error) {
	room, member, err := a.authorize(ctx, roomID, by, false)
	if err != nil {
		return KeptPlace{}, err
	}
	if raw.Source == "" {
		raw.Source = domain.PlaceFromManual
	}
	place, err := placeref.Ensure(ctx, a.store, room.ID, raw)
	if err != nil {
		return KeptPlace{}, err
	}
	unlock := a.locks.lock(room.ID)
	defer unlock()
	entry := domain.KeepListEntry{RoomID: room.ID, PlaceID: place.ID, AddedBy: member.ID, CreatedAt: a.now()}
	added, err := a.store.AddKeep(ctx, entry)
	if err != nil {
		return KeptPlace{}, fmt.Errorf("add to keep: %w", mapConflict(err))
	}
	if added {
		a.broadcast(ctx, room.ID, hub.EventKeepListChanged, member.ID, hub.KeepPayload{
			Action:  hub.KeepActionAdded,
			PlaceID: place.ID,
		})
	}
	return KeptPlace{KeepListEntry: entry, Place: place}, nil
}

// ListKeep returns the keep list with places resolved.
func (a *App) ListKeep(ctx context.Context, roomID string) ([]KeptPlace, error) {
	entries, err := a.store.ListKeep(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list keep: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.PlaceID)
	}
	places, err := a.store.ListPlaces(ctx, roomID, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve kept places: %w", err)
	}
	byID := make(map[string]domain.PlaceRef, len(places))
	for _, p := range places {
		byID[p.ID] = p
	}
	out := make([]KeptPlace, 0, len(entries))
	for _, e := range entries {
		out = append(out, KeptPlace{KeepListEntry: e, Place: byID[e.PlaceID]})
	}
	return out, nil
}

func (a *App) keptPlaces(ctx context.Context, roomID string) ([]domain.PlaceRef, error) {
	kept, err := a.ListKeep(ctx, roomID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PlaceRef, 0, len(kept))
	for _, k := range kept {
		if k.Place.ID != "" {
			out = append(out, k.Place)
		}
	}
	return out, nil
}
