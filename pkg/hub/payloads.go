package hub

import "tripvote/pkg/domain"

// Payloads carried by room events. Clients decode them with Event.Decode.

type MemberPayload struct {
	Member domain.Member `json:"member"`
}

type TypingPayload struct {
	MemberID string `json:"memberId"`
	Nickname string `json:"nickname"`
}

// VotePayload reports a subject's tally after one vote. Value is the API
// encoding (like/dislike) or empty when the vote was removed.
type VotePayload struct {
	SubjectID   string             `json:"subjectId"`
	SubjectKind domain.SubjectKind `json:"subjectKind"`
	MemberID    string             `json:"memberId"`
	Value       string             `json:"value,omitempty"`
	Likes       int                `json:"likes"`
	Dislikes    int                `json:"dislikes"`
}

type RouteSelectedPayload struct {
	RouteID string `json:"routeId"`
}

type RoutesReadyPayload struct {
	GenerationID string         `json:"generationId"`
	Fallback     bool           `json:"fallback"`
	Routes       []domain.Route `json:"routes"`
}

type ChatPayload struct {
	Message domain.ChatMessage `json:"message"`
}

type PreferencesPayload struct {
	MemberID string `json:"memberId"`
	Done     int    `json:"done"`
	Total    int    `json:"total"`
}

// Keep-list change actions.
const (
	KeepActionKept    = "kept"
	KeepActionAdded   = "added"
	KeepActionRouted  = "routed"
	KeepActionReorder = "reordered"
)

// KeepPayload describes a change to the keep list or to a route's place order.
type KeepPayload struct {
	Action   string   `json:"action"`
	PlaceID  string   `json:"placeId,omitempty"`
	RouteID  string   `json:"routeId,omitempty"`
	PlaceIDs []string `json:"placeIds,omitempty"`
}

type RoomClosedPayload struct {
	ClosedBy string `json:"closedBy"`
}
