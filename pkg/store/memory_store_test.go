package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tripvote/pkg/domain"
)

func seedRoom(t *testing.T, s *MemoryStore, roomID string) domain.Member {
	t.Helper()
	owner := domain.Member{ID: roomID + "-owner", RoomID: roomID, AnonymousID: "anon-owner", Nickname: "owner", Active: true, JoinedAt: time.Now()}
	room := domain.Room{ID: roomID, Title: "trip", Status: domain.StatusActive, OwnerMember: owner.ID, InviteCode: "inv-" + roomID}
	if err := s.CreateRoom(context.Background(), room, owner); err != nil {
		t.Fatalf("create room: %v", err)
	}
	return owner
}

func seedRoutes(t *testing.T, s *MemoryStore, roomID string) {
	t.Helper()
	routes := []domain.Route{
		{ID: "r1", Title: "A", PlaceIDs: []string{"p1", "p2", "p3"}, Source: domain.RouteFromPipeline},
		{ID: "r2", Title: "B", PlaceIDs: []string{"p2", "p4", "p5"}, Source: domain.RouteFromPipeline},
	}
	if err := s.SaveGeneration(context.Background(), roomID, routes); err != nil {
		t.Fatalf("save generation: %v", err)
	}
}

func TestMemoryStoreMemberUniquePerIdentity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedRoom(t, s, "room-1")

	var wg sync.WaitGroup
	ids := make(chan string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, _, err := s.InsertMemberIfAbsent(ctx, domain.Member{
				ID: "m-" + string(rune('a'+i)), RoomID: "room-1", UserID: "user-7", Nickname: "n", Active: true,
			})
			if err != nil {
				t.Errorf("insert member: %v", err)
				return
			}
			ids <- m.ID
		}(i)
	}
	wg.Wait()
	close(ids)
	first := ""
	for id := range ids {
		if first == "" {
			first = id
		}
		if id != first {
			t.Fatalf("identity mapped to two members: %s and %s", first, id)
		}
	}
	members, _ := s.ListMembers(ctx, "room-1")
	if len(members) != 2 {
		t.Fatalf("expected owner plus one member, got %d", len(members))
	}
}

func TestMemoryStoreGenerationAndSelection(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedRoom(t, s, "room-1")

	if _, err := s.SelectRoute(ctx, "room-1", "r1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found before generation, got %v", err)
	}
	seedRoutes(t, s, "room-1")
	if err := s.SaveGeneration(ctx, "room-1", []domain.Route{{ID: "r9"}}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on second generation, got %v", err)
	}

	changed, err := s.SelectRoute(ctx, "room-1", "r1")
	if err != nil || !changed {
		t.Fatalf("select r1: changed=%v err=%v", changed, err)
	}
	changed, err = s.SelectRoute(ctx, "room-1", "r1")
	if err != nil || changed {
		t.Fatalf("reselect r1 should be a no-op: changed=%v err=%v", changed, err)
	}
	if _, err := s.SelectRoute(ctx, "room-1", "r2"); err != nil {
		t.Fatalf("select r2: %v", err)
	}
	routes, _ := s.ListRoutes(ctx, "room-1")
	selected := 0
	for _, r := range routes {
		if r.IsSelected {
			selected++
			if r.ID != "r2" {
				t.Fatalf("unexpected selected route %s", r.ID)
			}
		}
	}
	if selected != 1 {
		t.Fatalf("expected exactly one selected route, got %d", selected)
	}
	room, _, _ := s.GetRoom(ctx, "room-1")
	if room.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", room.Status)
	}
}

func TestMemoryStoreKeepListExclusivity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedRoom(t, s, "room-1")
	seedRoutes(t, s, "room-1")

	if _, err := s.AddKeep(ctx, domain.KeepListEntry{RoomID: "room-1", PlaceID: "p2"}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict adding a routed place, got %v", err)
	}
	if err := s.MovePlaceToKeep(ctx, "room-1", "r1", "p4", "m1"); !errors.Is(err, domain.ErrInvalidSubject) {
		t.Fatalf("expected invalid subject for place outside route, got %v", err)
	}
	if err := s.MovePlaceToKeep(ctx, "room-1", "r1", "p2", "m1"); err != nil {
		t.Fatalf("move to keep: %v", err)
	}
	routes, _ := s.ListRoutes(ctx, "room-1")
	for _, r := range routes {
		if r.HasPlace("p2") {
			t.Fatalf("route %s still holds kept place", r.ID)
		}
	}
	keep, _ := s.ListKeep(ctx, "room-1")
	if len(keep) != 1 || keep[0].PlaceID != "p2" {
		t.Fatalf("unexpected keep list: %+v", keep)
	}

	if err := s.MovePlaceToRoute(ctx, "room-1", "r2", "p2", 0); err != nil {
		t.Fatalf("move to route: %v", err)
	}
	r2, _, _ := s.GetRoute(ctx, "room-1", "r2")
	if r2.PlaceIDs[0] != "p2" {
		t.Fatalf("expected p2 first, got %v", r2.PlaceIDs)
	}
	keep, _ = s.ListKeep(ctx, "room-1")
	if len(keep) != 0 {
		t.Fatalf("keep list should be empty, got %+v", keep)
	}
	if err := s.MovePlaceToRoute(ctx, "room-1", "r2", "p2", 0); !errors.Is(err, domain.ErrInvalidSubject) {
		t.Fatalf("expected invalid subject for place not kept, got %v", err)
	}
}

func TestMemoryStoreMoveToKeepKeepsRoutesNonEmpty(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedRoom(t, s, "room-1")
	if err := s.SaveGeneration(ctx, "room-1", []domain.Route{
		{ID: "r1", Title: "A", PlaceIDs: []string{"p1", "p2"}, Source: domain.RouteFromFallback},
		{ID: "r2", Title: "B", PlaceIDs: []string{"p2"}, Source: domain.RouteFromFallback},
	}); err != nil {
		t.Fatalf("save generation: %v", err)
	}

	if err := s.MovePlaceToKeep(ctx, "room-1", "r1", "p2", "m1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict emptying r2, got %v", err)
	}
	r1, _, _ := s.GetRoute(ctx, "room-1", "r1")
	r2, _, _ := s.GetRoute(ctx, "room-1", "r2")
	if len(r1.PlaceIDs) != 2 || len(r2.PlaceIDs) != 1 {
		t.Fatalf("refused move changed routes: r1=%v r2=%v", r1.PlaceIDs, r2.PlaceIDs)
	}
	if keep, _ := s.ListKeep(ctx, "room-1"); len(keep) != 0 {
		t.Fatalf("refused move touched keep list: %+v", keep)
	}
	if err := s.MovePlaceToKeep(ctx, "room-1", "r1", "p1", "m1"); err != nil {
		t.Fatalf("move p1: %v", err)
	}
	if err := s.MovePlaceToKeep(ctx, "room-1", "r1", "p2", "m1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on last place of r1, got %v", err)
	}
}

func TestMemoryStoreChatOrderingAndLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedRoom(t, s, "room-1")
	at := time.Now().UTC()
	for i, content := range []string{"one", "two", "three"} {
		if _, err := s.AppendChatMessage(ctx, domain.ChatMessage{
			ID: content, RoomID: "room-1", Channel: domain.ChannelTeam, Content: content, CreatedAt: at,
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if _, err := s.AppendChatMessage(ctx, domain.ChatMessage{ID: "x", RoomID: "room-1", Channel: domain.ChannelAssistant, Content: "x", CreatedAt: at}); err != nil {
		t.Fatalf("append assistant: %v", err)
	}
	msgs, err := s.ListChatMessages(ctx, "room-1", domain.ChannelTeam, "", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "two" || msgs[1].Content != "three" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestMemoryStoreConditionalStatusUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedRoom(t, s, "room-1")
	if err := s.UpdateRoomStatus(ctx, "room-1", []domain.RoomStatus{domain.StatusCompleted}, domain.StatusClosed); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := s.UpdateRoomStatus(ctx, "missing", []domain.RoomStatus{domain.StatusActive}, domain.StatusClosed); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
