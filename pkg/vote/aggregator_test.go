package vote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tripvote/pkg/domain"
	"tripvote/pkg/store"
)

func newRoomWithPlace(t *testing.T) (*store.MemoryStore, string) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	owner := domain.Member{ID: "owner", RoomID: "room-1", AnonymousID: "a0", Nickname: "owner", Active: true, JoinedAt: time.Now()}
	if err := s.CreateRoom(ctx, domain.Room{ID: "room-1", Status: domain.StatusActive, OwnerMember: owner.ID, InviteCode: "code"}, owner); err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, _, err := s.InsertPlaceIfAbsent(ctx, domain.PlaceRef{ID: "place-1", RoomID: "room-1", Name: "Pier"}); err != nil {
		t.Fatalf("insert place: %v", err)
	}
	return s, "place-1"
}

func TestApplyToggleRemovesVote(t *testing.T) {
	ctx := context.Background()
	s, place := newRoomWithPlace(t)
	agg := NewAggregator(s)

	res, err := agg.Apply(ctx, "room-1", place, domain.SubjectPlace, "m1", domain.VoteUp)
	if err != nil {
		t.Fatalf("first vote: %v", err)
	}
	if res.Likes != 1 || res.Resolved == nil || *res.Resolved != domain.VoteUp {
		t.Fatalf("unexpected first result: %+v", res)
	}
	res, err = agg.Apply(ctx, "room-1", place, domain.SubjectPlace, "m1", domain.VoteUp)
	if err != nil {
		t.Fatalf("toggle vote: %v", err)
	}
	if res.Likes != 0 || res.Dislikes != 0 || res.Resolved != nil {
		t.Fatalf("expected vote removed, got %+v", res)
	}
	if _, ok, _ := s.GetVote(ctx, domain.SubjectPlace, place, "m1"); ok {
		t.Fatalf("vote row still stored after toggle")
	}
}

func TestApplyTwoMembersSwitching(t *testing.T) {
	ctx := context.Background()
	s, place := newRoomWithPlace(t)
	agg := NewAggregator(s)

	if _, err := agg.Apply(ctx, "room-1", place, domain.SubjectPlace, "a", domain.VoteUp); err != nil {
		t.Fatalf("a up: %v", err)
	}
	if _, err := agg.Apply(ctx, "room-1", place, domain.SubjectPlace, "b", domain.VoteUp); err != nil {
		t.Fatalf("b up: %v", err)
	}
	res, err := agg.Apply(ctx, "room-1", place, domain.SubjectPlace, "a", domain.VoteDown)
	if err != nil {
		t.Fatalf("a down: %v", err)
	}
	if res.Likes != 1 || res.Dislikes != 1 {
		t.Fatalf("expected 1/1, got %d/%d", res.Likes, res.Dislikes)
	}
}

func TestApplyRejectsUnknownSubject(t *testing.T) {
	ctx := context.Background()
	s, _ := newRoomWithPlace(t)
	agg := NewAggregator(s)

	if _, err := agg.Apply(ctx, "room-1", "nope", domain.SubjectPlace, "m1", domain.VoteUp); !errors.Is(err, domain.ErrInvalidSubject) {
		t.Fatalf("expected invalid subject, got %v", err)
	}
	if _, err := agg.Apply(ctx, "room-1", "place-1", domain.SubjectRoute, "m1", domain.VoteUp); !errors.Is(err, domain.ErrInvalidSubject) {
		t.Fatalf("place id used as route should be rejected, got %v", err)
	}
	if _, err := agg.Apply(ctx, "room-1", "place-1", domain.SubjectPlace, "m1", domain.VoteValue("like")); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for api encoding, got %v", err)
	}
}

func TestConcurrentVotesMatchRecount(t *testing.T) {
	ctx := context.Background()
	s, place := newRoomWithPlace(t)
	agg := NewAggregator(s)

	const members = 20
	const rounds = 15
	var applied int64
	var wg sync.WaitGroup
	for i := 0; i < members; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			member := fmt.Sprintf("m-%d", i)
			for r := 0; r < rounds; r++ {
				value := domain.VoteUp
				if (i+r)%3 == 0 {
					value = domain.VoteDown
				}
				if _, err := agg.Apply(ctx, "room-1", place, domain.SubjectPlace, member, value); err != nil {
					t.Errorf("apply: %v", err)
					return
				}
				atomic.AddInt64(&applied, 1)
			}
		}(i)
	}
	wg.Wait()
	if applied != members*rounds {
		t.Fatalf("expected %d applied votes, got %d", members*rounds, applied)
	}

	maintained, err := agg.Tally(ctx, domain.SubjectPlace, place)
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	recounted, err := agg.Recount(ctx, domain.SubjectPlace, place)
	if err != nil {
		t.Fatalf("recount: %v", err)
	}
	if maintained != recounted {
		t.Fatalf("maintained tally %+v differs from recount %+v", maintained, recounted)
	}
	if maintained.Likes+maintained.Dislikes > members {
		t.Fatalf("more votes than members: %+v", maintained)
	}
}

func TestApplyReloadsAfterExternalWrite(t *testing.T) {
	ctx := context.Background()
	s, place := newRoomWithPlace(t)
	agg := NewAggregator(s)

	if _, err := agg.Apply(ctx, "room-1", place, domain.SubjectPlace, "m1", domain.VoteUp); err != nil {
		t.Fatalf("apply: %v", err)
	}
	// Another process removed the vote directly in the store.
	if err := s.DeleteVote(ctx, domain.SubjectPlace, place, "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	res, err := agg.Apply(ctx, "room-1", place, domain.SubjectPlace, "m1", domain.VoteUp)
	if err != nil {
		t.Fatalf("apply again: %v", err)
	}
	if res.Likes != 1 || res.Resolved == nil {
		t.Fatalf("expected a fresh like, got %+v", res)
	}
}

func TestTalliesGroupsBySubject(t *testing.T) {
	got := Tallies([]domain.Vote{
		{SubjectID: "r1", SubjectKind: domain.SubjectRoute, Value: domain.VoteUp},
		{SubjectID: "p1", SubjectKind: domain.SubjectPlace, Value: domain.VoteDown},
		{SubjectID: "r1", SubjectKind: domain.SubjectRoute, Value: domain.VoteDown},
	})
	if len(got) != 2 || got[0].Likes != 1 || got[0].Dislikes != 1 || got[1].Dislikes != 1 {
		t.Fatalf("unexpected tallies: %+v", got)
	}
}

func TestForgetRoomDropsCachedSubjects(t *testing.T) {
	ctx := context.Background()
	s, place := newRoomWithPlace(t)
	agg := NewAggregator(s)

	if _, err := agg.Apply(ctx, "room-1", place, domain.SubjectPlace, "m1", domain.VoteUp); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if agg.Cached() != 1 {
		t.Fatalf("expected one cached subject, got %d", agg.Cached())
	}
	agg.ForgetRoom("room-1")
	if agg.Cached() != 0 {
		t.Fatalf("expected cache emptied, got %d", agg.Cached())
	}
	tally, err := agg.Tally(ctx, domain.SubjectPlace, place)
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if tally.Likes != 1 {
		t.Fatalf("tally after forget should reload from store, got %+v", tally)
	}
}
