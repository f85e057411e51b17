package app

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"tripvote/pkg/domain"
	"tripvote/pkg/hub"
)

const (
	maxMessageRunes     = 2000
	defaultChatLimit    = 200
	maxChatLimit        = 500
	assistantHistory    = 20
	cannedAssistantText = "I can't reach the planning assistant right now. Try again in a moment, or keep voting on the routes you have."
	assistantSystem     = "You are a friendly trip-planning assistant for a group planning a one-day trip. Answer briefly and concretely. Suggest specific places with their district when asked."
)

// ChatResult is a posted message and, for assistant-channel posts, the
// assistant's reply.
type ChatResult struct {
	Message domain.ChatMessage  `json:"message"`
	Reply   *domain.ChatMessage `json:"reply,omitempty"`
}

// PostChatMessage stores a message and broadcasts it. An empty memberID
// posts a system message on the team channel. Assistant-channel messages
// live in the author's private thread and get a reply in the same thread.
func (a *App) PostChatMessage(ctx context.Context, roomID string, channel domain.Channel, memberID, content string) (ChatResult, error) {
	if !channel.Valid() {
		return ChatResult{}, fmt.Errorf("%w: channel %q", domain.ErrInvalidInput, channel)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return ChatResult{}, fmt.Errorf("%w: content required", domain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(content) > maxMessageRunes {
		return ChatResult{}, fmt.Errorf("%w: message too long", domain.ErrInvalidInput)
	}

	var room domain.Room
	var err error
	if memberID == "" {
		if channel != domain.ChannelTeam {
			return ChatResult{}, fmt.Errorf("%w: assistant messages need an author", domain.ErrInvalidInput)
		}
		if room, err = a.loadRoom(ctx, roomID); err != nil {
			return ChatResult{}, err
		}
		if room.Status == domain.StatusClosed {
			return ChatResult{}, domain.ErrRoomClosed
		}
	} else {
		var member domain.Member
		if room, member, err = a.authorize(ctx, roomID, memberID, false); err != nil {
			return ChatResult{}, err
		}
		memberID = member.ID
	}

	msg := domain.ChatMessage{
		ID:        uuid.NewString(),
		RoomID:    room.ID,
		Channel:   channel,
		AuthorID:  memberID,
		Content:   content,
		CreatedAt: a.now(),
	}
	if channel == domain.ChannelAssistant {
		msg.ThreadID = memberID
	}
	unlock := a.locks.lock(room.ID)
	msg, err = a.store.AppendChatMessage(ctx, msg)
	unlock()
	if err != nil {
		return ChatResult{}, fmt.Errorf("save message: %w", err)
	}
	a.broadcast(ctx, room.ID, hub.EventChatPosted, memberID, hub.ChatPayload{Message: msg})

	res := ChatResult{Message: msg}
	if channel == domain.ChannelAssistant {
		reply, err := a.replyInThread(ctx, room, memberID)
		if err != nil {
			return ChatResult{}, err
		}
		res.Reply = &reply
	}
	return res, nil
}

// replyInThread answers the latest message of memberID's assistant thread.
// A failed generation is answered with a canned reply.
func (a *App) replyInThread(ctx context.Context, room domain.Room, memberID string) (domain.ChatMessage, error) {
	history, err := a.store.ListChatMessages(ctx, room.ID, domain.ChannelAssistant, memberID, assistantHistory)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("load thread: %w", err)
	}
	text := cannedAssistantText
	if a.assistant != nil {
		genCtx, cancel := context.WithTimeout(ctx, a.replyWait)
		answer, err := a.assistant.GenerateText(genCtx, assistantSystem, a.assistantPrompt(ctx, room, history))
		cancel()
		switch {
		case err != nil:
			a.logger.Warn("assistant reply failed", "room_id", room.ID, "member_id", memberID, "err", err)
		case strings.TrimSpace(answer) != "":
			text = strings.TrimSpace(answer)
		}
	}
	reply := domain.ChatMessage{
		ID:        uuid.NewString(),
		RoomID:    room.ID,
		Channel:   domain.ChannelAssistant,
		ThreadID:  memberID,
		Content:   text,
		CreatedAt: a.now(),
	}
	unlock := a.locks.lock(room.ID)
	reply, err = a.store.AppendChatMessage(ctx, reply)
	unlock()
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("save reply: %w", err)
	}
	a.broadcast(ctx, room.ID, hub.EventChatPosted, "", hub.ChatPayload{Message: reply})
	return reply, nil
}

func (a *App) assistantPrompt(ctx context.Context, room domain.Room, history []domain.ChatMessage) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Trip: %s\n", room.Title)
	if room.TripDate != "" {
		fmt.Fprintf(&sb, "Date: %s %s-%s\n", room.TripDate, room.StartTime, room.EndTime)
	}
	if len(room.Districts) > 0 {
		fmt.Fprintf(&sb, "Districts: %s\n", strings.Join(room.Districts, ", "))
	}
	if room.BudgetMax > 0 {
		fmt.Fprintf(&sb, "Budget per person: %d-%d\n", room.BudgetMin, room.BudgetMax)
	}
	if routes, err := a.ListRoutes(ctx, room.ID); err == nil && len(routes) > 0 {
		sb.WriteString("Current routes:\n")
		for _, r := range routes {
			names := make([]string, 0, len(r.Places))
			for _, p := range r.Places {
				names = append(names, p.Name)
			}
			fmt.Fprintf(&sb, "- %s: %s\n", r.Title, strings.Join(names, " -> "))
		}
	}
	sb.WriteString("\nConversation:\n")
	sb.WriteString(buildHistory(history))
	return sb.String()
}

func buildHistory(messages []domain.ChatMessage) string {
	var sb strings.Builder
	for _, msg := range messages {
		role := "assistant"
		if msg.AuthorID != "" {
			role = "user"
		}
		sb.WriteString(role)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

// ListChatMessages lists a channel in chronological order. On the assistant
// channel the viewer only sees their own thread.
func (a *App) ListChatMessages(ctx context.Context, roomID string, channel domain.Channel, viewer string, limit int) ([]domain.ChatMessage, error) {
	if !channel.Valid() {
		return nil, fmt.Errorf("%w: channel %q", domain.ErrInvalidInput, channel)
	}
	room, err := a.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	member, err := a.member(ctx, room.ID, viewer)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxChatLimit {
		limit = defaultChatLimit
	}
	thread := ""
	if channel == domain.ChannelAssistant {
		thread = member.ID
	}
	items, err := a.store.ListChatMessages(ctx, room.ID, channel, thread, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return items, nil
}
