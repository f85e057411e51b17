// Package hub fans room events out to every connected participant.
package hub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventMemberJoined         EventType = "memberJoined"
	EventMemberLeft           EventType = "memberLeft"
	EventTyping               EventType = "typing"
	EventVoteChanged          EventType = "voteChanged"
	EventRouteSelected        EventType = "routeSelected"
	EventRoutesReady          EventType = "routesReady"
	EventChatPosted           EventType = "chatPosted"
	EventPreferencesCompleted EventType = "preferencesCompleted"
	EventKeepListChanged      EventType = "keepListChanged"
	EventRoomClosed           EventType = "roomClosed"
)

// Event is one broadcast on a room channel.
type Event struct {
	ID             string    `json:"id"`
	RoomID         string    `json:"roomId"`
	Type           EventType `json:"type"`
	OriginMemberID string    `json:"originMemberId,omitempty"`
	// Node identifies the hub instance that published the event.
	Node      string          `json:"node,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event with a fresh id. payload is JSON-encoded.
func NewEvent(roomID string, typ EventType, origin string, payload any) (Event, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		raw = data
	}
	return Event{
		ID:             uuid.NewString(),
		RoomID:         roomID,
		Type:           typ,
		OriginMemberID: origin,
		CreatedAt:      time.Now().UTC(),
		Payload:        raw,
	}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.ID)
	}
	return json.Unmarshal(e.Payload, v)
}
