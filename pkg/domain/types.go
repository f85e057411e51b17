package domain

import (
	"fmt"
	"strings"
	"time"
)

type RoomStatus string

const (
	StatusActive          RoomStatus = "active"
	StatusRoutesGenerated RoomStatus = "routes_generated"
	StatusCompleted       RoomStatus = "completed"
	StatusClosed          RoomStatus = "closed"
)

// rank orders the non-terminal statuses; closed is handled separately.
func (s RoomStatus) rank() int {
	switch s {
	case StatusActive:
		return 0
	case StatusRoutesGenerated:
		return 1
	case StatusCompleted:
		return 2
	case StatusClosed:
		return 3
	default:
		return -1
	}
}

// Valid reports whether s is one of the persisted status values.
func (s RoomStatus) Valid() bool {
	return s.rank() >= 0
}

// CanTransition reports whether a room may move from s to next.
// Statuses only move forward; closed is reachable from any non-terminal
// status and nothing leaves closed.
func (s RoomStatus) CanTransition(next RoomStatus) bool {
	if !s.Valid() || !next.Valid() || s == StatusClosed {
		return false
	}
	if next == StatusClosed {
		return true
	}
	return next.rank() > s.rank()
}

type Channel string

const (
	ChannelTeam      Channel = "team"
	ChannelAssistant Channel = "assistant"
)

func (c Channel) Valid() bool {
	return c == ChannelTeam || c == ChannelAssistant
}

type SubjectKind string

const (
	SubjectRoute SubjectKind = "route"
	SubjectPlace SubjectKind = "place"
)

func (k SubjectKind) Valid() bool {
	return k == SubjectRoute || k == SubjectPlace
}

// VoteValue is the stored vote encoding. The HTTP API speaks like/dislike;
// ParseAPIVote and APIString are the only translation points.
type VoteValue string

const (
	VoteUp   VoteValue = "up"
	VoteDown VoteValue = "down"
)

func (v VoteValue) Valid() bool {
	return v == VoteUp || v == VoteDown
}

// APIString returns the API encoding of v.
func (v VoteValue) APIString() string {
	switch v {
	case VoteUp:
		return "like"
	case VoteDown:
		return "dislike"
	default:
		return ""
	}
}

// ParseAPIVote converts an API vote value into the stored encoding.
func ParseAPIVote(raw string) (VoteValue, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "like":
		return VoteUp, nil
	case "dislike":
		return VoteDown, nil
	default:
		return "", fmt.Errorf("%w: vote value %q", ErrInvalidInput, raw)
	}
}

type RouteSource string

const (
	RouteFromPipeline RouteSource = "pipeline"
	RouteFromFallback RouteSource = "fallback"
)

type PlaceSource string

const (
	PlaceFromAI      PlaceSource = "ai"
	PlaceFromManual  PlaceSource = "manual"
	PlaceFromCatalog PlaceSource = "catalog"
)

// Identity is who is acting: either a verified user or an anonymous visitor.
type Identity struct {
	UserID      string `json:"userId,omitempty"`
	AnonymousID string `json:"anonymousId,omitempty"`
	Nickname    string `json:"nickname,omitempty"`
}

// Key returns the identity key used for the (room, identity) uniqueness rule.
func (i Identity) Key() string {
	if id := strings.TrimSpace(i.UserID); id != "" {
		return "user:" + id
	}
	if id := strings.TrimSpace(i.AnonymousID); id != "" {
		return "anon:" + id
	}
	return ""
}

type Room struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Status      RoomStatus `json:"status"`
	OwnerUserID string     `json:"ownerUserId,omitempty"`
	OwnerMember string     `json:"ownerMemberId"`
	InviteCode  string     `json:"inviteCode"`
	TripDate    string     `json:"tripDate,omitempty"`
	StartTime   string     `json:"startTime,omitempty"`
	EndTime     string     `json:"endTime,omitempty"`
	BudgetMin   int        `json:"budgetMin"`
	BudgetMax   int        `json:"budgetMax"`
	Districts   []string   `json:"districts"`
	MustVisit   []string   `json:"mustVisit,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// IsOwner reports whether memberID owns the room.
func (r Room) IsOwner(memberID string) bool {
	return memberID != "" && r.OwnerMember == memberID
}

type Preferences struct {
	Categories      []string `json:"categories,omitempty"`
	Pace            string   `json:"pace,omitempty"`
	BudgetTolerance string   `json:"budgetTolerance,omitempty"`
	Notes           string   `json:"notes,omitempty"`
}

type Member struct {
	ID              string      `json:"id"`
	RoomID          string      `json:"roomId"`
	UserID          string      `json:"userId,omitempty"`
	AnonymousID     string      `json:"anonymousId,omitempty"`
	Nickname        string      `json:"nickname"`
	Preferences     Preferences `json:"preferences"`
	PreferencesDone bool        `json:"preferencesDone"`
	Active          bool        `json:"active"`
	JoinedAt        time.Time   `json:"joinedAt"`
}

// IdentityKey mirrors Identity.Key for a stored member.
func (m Member) IdentityKey() string {
	return Identity{UserID: m.UserID, AnonymousID: m.AnonymousID}.Key()
}

type PlaceRef struct {
	ID       string      `json:"id"`
	RoomID   string      `json:"roomId"`
	Name     string      `json:"name"`
	Category string      `json:"category,omitempty"`
	Address  string      `json:"address,omitempty"`
	Lat      float64     `json:"lat,omitempty"`
	Lng      float64     `json:"lng,omitempty"`
	Source   PlaceSource `json:"source,omitempty"`
}

type Route struct {
	ID            string      `json:"id"`
	RoomID        string      `json:"roomId"`
	Title         string      `json:"title"`
	Summary       string      `json:"summary,omitempty"`
	PlaceIDs      []string    `json:"placeIds"`
	Places        []PlaceRef  `json:"places,omitempty"`
	TravelMinutes int         `json:"travelMinutes"`
	Cost          int         `json:"cost"`
	IsSelected    bool        `json:"isSelected"`
	Source        RouteSource `json:"source"`
	GenerationID  string      `json:"generationId"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// HasPlace reports whether placeID is part of the route.
func (r Route) HasPlace(placeID string) bool {
	for _, id := range r.PlaceIDs {
		if id == placeID {
			return true
		}
	}
	return false
}

type Vote struct {
	SubjectID   string      `json:"subjectId"`
	SubjectKind SubjectKind `json:"subjectKind"`
	RoomID      string      `json:"roomId"`
	MemberID    string      `json:"memberId"`
	Value       VoteValue   `json:"value"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

type Tally struct {
	SubjectID   string      `json:"subjectId"`
	SubjectKind SubjectKind `json:"subjectKind"`
	Likes       int         `json:"likes"`
	Dislikes    int         `json:"dislikes"`
}

// Score is likes minus dislikes.
func (t Tally) Score() int {
	return t.Likes - t.Dislikes
}

type ChatMessage struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	Channel   Channel   `json:"channel"`
	AuthorID  string    `json:"authorId,omitempty"`
	ThreadID  string    `json:"threadId,omitempty"`
	Content   string    `json:"content"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"createdAt"`
}

type KeepListEntry struct {
	RoomID    string    `json:"roomId"`
	PlaceID   string    `json:"placeId"`
	AddedBy   string    `json:"addedBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
