package app

import (
	"context"
	"fmt"
	"time"

	"tripvote/pkg/domain"
	"tripvote/pkg/vote"
)

const snapshotMessages = 50

// Snapshot is the authoritative state of a room as one viewer sees it.
// Clients replace their derived state with it when reconciling.
type Snapshot struct {
	Room     domain.Room          `json:"room"`
	Viewer   domain.Member        `json:"viewer"`
	Members  []domain.Member      `json:"members"`
	Routes   []domain.Route       `json:"routes"`
	Tallies  []domain.Tally       `json:"tallies"`
	MyVotes  []domain.Vote        `json:"myVotes"`
	Keep     []KeptPlace          `json:"keep"`
	Messages []domain.ChatMessage `json:"messages"`
	TakenAt  time.Time            `json:"takenAt"`
}

// Snapshot reads the room straight from the store. Closed rooms can still
// be read by their members.
func (a *App) Snapshot(ctx context.Context, roomID, viewer string) (Snapshot, error) {
	room, err := a.loadRoom(ctx, roomID)
	if err != nil {
		return Snapshot{}, err
	}
	member, err := a.member(ctx, room.ID, viewer)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Room: room, Viewer: member, TakenAt: a.now()}
	if snap.Members, err = a.store.ListMembers(ctx, room.ID); err != nil {
		return Snapshot{}, fmt.Errorf("list members: %w", err)
	}
	if snap.Routes, err = a.ListRoutes(ctx, room.ID); err != nil {
		return Snapshot{}, err
	}
	votes, err := a.store.ListRoomVotes(ctx, room.ID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list votes: %w", err)
	}
	snap.Tallies = vote.Tallies(votes)
	snap.MyVotes = make([]domain.Vote, 0)
	for _, v := range votes {
		if v.MemberID == member.ID {
			snap.MyVotes = append(snap.MyVotes, v)
		}
	}
	if snap.Keep, err = a.ListKeep(ctx, room.ID); err != nil {
		return Snapshot{}, err
	}
	if snap.Messages, err = a.store.ListChatMessages(ctx, room.ID, domain.ChannelTeam, "", snapshotMessages); err != nil {
		return Snapshot{}, fmt.Errorf("list messages: %w", err)
	}
	return snap, nil
}
