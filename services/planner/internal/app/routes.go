package app

import (
	"context"
	"errors"
	"fmt"

	"tripvote/pkg/domain"
	"tripvote/pkg/hub"
	"tripvote/pkg/route"
)

// GenerationResult is what a generation request returns. Shared is true
// when the result came from a run started by a concurrent request.
type GenerationResult struct {
	route.Outcome
	Shared bool `json:"shared"`
}

// RequestRouteGeneration runs route generation for an active room. Only
// the owner may request it. Concurrent requests for one room share a
// single run and its result.
func (a *App) RequestRouteGeneration(ctx context.Context, roomID, by string) (GenerationResult, error) {
	room, _, err := a.authorize(ctx, roomID, by, true)
	if err != nil {
		return GenerationResult{}, err
	}
	if room.Status != domain.StatusActive {
		return GenerationResult{}, fmt.Errorf("%w: room is %s", domain.ErrInvalidState, room.Status)
	}
	out, shared, err := a.coord.Do(ctx, room.ID, func(runCtx context.Context) (route.Outcome, error) {
		return a.generate(runCtx, room.ID, by)
	})
	if err != nil {
		return GenerationResult{}, err
	}
	return GenerationResult{Outcome: out, Shared: shared}, nil
}

// generate is the body of one coalesced run: collect context, produce
// routes (pipeline or fallback), persist them with the status change, then
// announce them.
func (a *App) generate(ctx context.Context, roomID, by string) (route.Outcome, error) {
	room, err := a.loadRoom(ctx, roomID)
	if err != nil {
		return route.Outcome{}, err
	}
	if room.Status != domain.StatusActive {
		return route.Outcome{}, fmt.Errorf("%w: room is %s", domain.ErrInvalidState, room.Status)
	}
	members, err := a.store.ListMembers(ctx, room.ID)
	if err != nil {
		return route.Outcome{}, fmt.Errorf("list members: %w", err)
	}
	kept, err := a.keptPlaces(ctx, room.ID)
	if err != nil {
		return route.Outcome{}, err
	}
	mustVisit, err := a.mustVisitPlaces(ctx, room)
	if err != nil {
		return route.Outcome{}, err
	}
	rc := route.NewRoomContext(room, members, mustVisit, kept)
	logger := a.logger.With("room_id", room.ID)
	logger.Info("route generation started", "members", len(rc.Members), "must_visit", len(mustVisit), "kept", len(kept))

	out, err := a.generator.Generate(ctx, rc)
	if err != nil {
		return route.Outcome{}, fmt.Errorf("generate routes: %w", err)
	}
	if err := a.store.SaveGeneration(ctx, room.ID, out.Routes); err != nil {
		return route.Outcome{}, fmt.Errorf("save generation: %w", mapConflict(err))
	}
	logger.Info("route generation finished", "generation_id", out.GenerationID, "routes", len(out.Routes), "fallback", out.Fallback, "stage", out.Stage)
	a.broadcast(ctx, room.ID, hub.EventRoutesReady, by, hub.RoutesReadyPayload{
		GenerationID: out.GenerationID,
		Fallback:     out.Fallback,
		Routes:       out.Routes,
	})
	return out, nil
}

// mustVisitPlaces resolves the room's must-visit ids to places.
func (a *App) mustVisitPlaces(ctx context.Context, room domain.Room) ([]domain.PlaceRef, error) {
	out := make([]domain.PlaceRef, 0, len(room.MustVisit))
	for _, id := range room.MustVisit {
		p, ok, err := a.store.GetPlace(ctx, room.ID, id)
		if err != nil {
			return nil, fmt.Errorf("load must-visit place: %w", err)
		}
		if !ok {
			a.logger.Warn("must-visit place missing", "room_id", room.ID, "place_id", id)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// SelectFinalRoute marks routeID as the room's final route and completes
// the room. Selecting the current final route again changes nothing.
func (a *App) SelectFinalRoute(ctx context.Context, roomID, routeID, by string) (domain.Route, error) {
	room, _, err := a.authorize(ctx, roomID, by, true)
	if err != nil {
		return domain.Route{}, err
	}
	unlock := a.locks.lock(room.ID)
	defer unlock()

	changed, err := a.store.SelectRoute(ctx, room.ID, routeID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Route{}, fmt.Errorf("%w: route %s", domain.ErrNotFound, routeID)
		}
		return domain.Route{}, fmt.Errorf("select route: %w", mapConflict(err))
	}
	selected, ok, err := a.store.GetRoute(ctx, room.ID, routeID)
	if err != nil {
		return domain.Route{}, fmt.Errorf("load route: %w", err)
	}
	if !ok {
		return domain.Route{}, fmt.Errorf("%w: route %s", domain.ErrNotFound, routeID)
	}
	if changed {
		a.broadcast(ctx, room.ID, hub.EventRouteSelected, by, hub.RouteSelectedPayload{RouteID: routeID})
	}
	return a.resolveRoute(ctx, selected)
}

// ReorderRoute replaces a route's place order. placeIDs must be a
// permutation of the current places.
func (a *App) ReorderRoute(ctx context.Context, roomID, routeID string, placeIDs []string, by string) (domain.Route, error) {
	room, _, err := a.authorize(ctx, roomID, by, false)
	if err != nil {
		return domain.Route{}, err
	}
	unlock := a.locks.lock(room.ID)
	defer unlock()

	current, ok, err := a.store.GetRoute(ctx, room.ID, routeID)
	if err != nil {
		return domain.Route{}, fmt.Errorf("load route: %w", err)
	}
	if !ok {
		return domain.Route{}, fmt.Errorf("%w: route %s", domain.ErrNotFound, routeID)
	}
	if !isPermutation(current.PlaceIDs, placeIDs) {
		return domain.Route{}, fmt.Errorf("%w: order must contain exactly the route's places", domain.ErrInvalidInput)
	}
	if err := a.store.UpdateRoutePlaces(ctx, room.ID, routeID, placeIDs); err != nil {
		return domain.Route{}, fmt.Errorf("reorder route: %w", err)
	}
	current.PlaceIDs = append([]string(nil), placeIDs...)
	a.broadcast(ctx, room.ID, hub.EventKeepListChanged, by, hub.KeepPayload{
		Action:   hub.KeepActionReorder,
		RouteID:  routeID,
		PlaceIDs: current.PlaceIDs,
	})
	return a.resolveRoute(ctx, current)
}

// ListRoutes returns the room's routes with their places resolved.
func (a *App) ListRoutes(ctx context.Context, roomID string) ([]domain.Route, error) {
	routes, err := a.store.ListRoutes(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	for i := range routes {
		if routes[i], err = a.resolveRoute(ctx, routes[i]); err != nil {
			return nil, err
		}
	}
	return routes, nil
}

func (a *App) resolveRoute(ctx context.Context, r domain.Route) (domain.Route, error) {
	places, err := a.store.ListPlaces(ctx, r.RoomID, r.PlaceIDs)
	if err != nil {
		return domain.Route{}, fmt.Errorf("resolve route places: %w", err)
	}
	byID := make(map[string]domain.PlaceRef, len(places))
	for _, p := range places {
		byID[p.ID] = p
	}
	r.Places = make([]domain.PlaceRef, 0, len(r.PlaceIDs))
	for _, id := range r.PlaceIDs {
		if p, ok := byID[id]; ok {
			r.Places = append(r.Places, p)
		}
	}
	return r, nil
}

func isPermutation(current, proposed []string) bool {
	if len(current) != len(proposed) {
		return false
	}
	counts := make(map[string]int, len(current))
	for _, id := range current {
		counts[id]++
	}
	for _, id := range proposed {
		counts[id]--
		if counts[id] < 0 {
			return false
		}
	}
	return true
}
