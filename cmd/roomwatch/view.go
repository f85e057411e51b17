package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"tripvote/pkg/domain"
	"tripvote/pkg/hub"
)

// view is the locally derived room state.
type view struct {
	out     io.Writer
	verbose bool

	mu      sync.Mutex
	room    domain.Room
	self    string
	members map[string]domain.Member
	routes  []domain.Route
	tallies map[string]domain.Tally
	closed  bool
}

func newView(out io.Writer, verbose bool) *view {
	return &view{
		out:     out,
		verbose: verbose,
		members: make(map[string]domain.Member),
		tallies: make(map[string]domain.Tally),
	}
}

// reset replaces derived state with snap.
func (v *view) reset(snap snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.room = snap.Room
	v.self = snap.Viewer.ID
	v.closed = snap.Room.Status == domain.StatusClosed
	v.members = make(map[string]domain.Member, len(snap.Members))
	for _, m := range snap.Members {
		v.members[m.ID] = m
	}
	v.routes = append([]domain.Route(nil), snap.Routes...)
	v.tallies = make(map[string]domain.Tally, len(snap.Tallies))
	for _, t := range snap.Tallies {
		v.tallies[t.SubjectID] = t
	}
	if v.verbose {
		fmt.Fprintf(v.out, "~ reconciled: %s [%s] %d members, %d routes\n", v.room.Title, v.room.Status, v.activeCount(), len(v.routes))
	}
}

// apply folds one remote event into the view and prints it.
func (v *view) apply(e hub.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch e.Type {
	case hub.EventMemberJoined:
		var p hub.MemberPayload
		if e.Decode(&p) == nil {
			p.Member.Active = true
			v.members[p.Member.ID] = p.Member
			fmt.Fprintf(v.out, "+ %s joined (%d here)\n", p.Member.Nickname, v.activeCount())
		}
	case hub.EventMemberLeft:
		var p hub.MemberPayload
		if e.Decode(&p) == nil {
			m := v.members[p.Member.ID]
			m.Active = false
			v.members[p.Member.ID] = m
			fmt.Fprintf(v.out, "- %s left\n", v.name(p.Member.ID))
		}
	case hub.EventTyping:
		if v.verbose {
			fmt.Fprintf(v.out, "  %s is typing...\n", v.name(e.OriginMemberID))
		}
	case hub.EventVoteChanged:
		var p hub.VotePayload
		if e.Decode(&p) == nil {
			v.tallies[p.SubjectID] = domain.Tally{SubjectID: p.SubjectID, SubjectKind: p.SubjectKind, Likes: p.Likes, Dislikes: p.Dislikes}
			fmt.Fprintf(v.out, "* %s voted on %s: %d like / %d dislike\n", v.name(p.MemberID), v.subjectName(p.SubjectID), p.Likes, p.Dislikes)
		}
	case hub.EventRoutesReady:
		var p hub.RoutesReadyPayload
		if e.Decode(&p) == nil {
			v.routes = append([]domain.Route(nil), p.Routes...)
			v.room.Status = domain.StatusRoutesGenerated
			source := "generated"
			if p.Fallback {
				source = "fallback"
			}
			fmt.Fprintf(v.out, "# %d routes ready (%s)\n", len(p.Routes), source)
			v.printRoutes()
		}
	case hub.EventRouteSelected:
		var p hub.RouteSelectedPayload
		if e.Decode(&p) == nil {
			for i := range v.routes {
				v.routes[i].IsSelected = v.routes[i].ID == p.RouteID
			}
			v.room.Status = domain.StatusCompleted
			fmt.Fprintf(v.out, "! final route: %s\n", v.subjectName(p.RouteID))
		}
	case hub.EventChatPosted:
		var p hub.ChatPayload
		if e.Decode(&p) == nil {
			author := "assistant"
			if p.Message.AuthorID != "" {
				author = v.name(p.Message.AuthorID)
			} else if p.Message.Channel == domain.ChannelTeam {
				author = "system"
			}
			fmt.Fprintf(v.out, "[%s] %s: %s\n", p.Message.Channel, author, p.Message.Content)
		}
	case hub.EventPreferencesCompleted:
		var p hub.PreferencesPayload
		if e.Decode(&p) == nil {
			fmt.Fprintf(v.out, "  preferences %d/%d done\n", p.Done, p.Total)
		}
	case hub.EventKeepListChanged:
		var p hub.KeepPayload
		if e.Decode(&p) == nil {
			fmt.Fprintf(v.out, "  keep list %s by %s\n", p.Action, v.name(e.OriginMemberID))
		}
	case hub.EventRoomClosed:
		v.closed = true
		v.room.Status = domain.StatusClosed
		fmt.Fprintln(v.out, "x room closed")
	default:
		if v.verbose {
			fmt.Fprintf(v.out, "? %s\n", e.Type)
		}
	}
}

// routeAt returns the 1-based nth route in display order.
func (v *view) routeAt(n int) (domain.Route, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if n < 1 || n > len(v.routes) {
		return domain.Route{}, false
	}
	return v.routes[n-1], true
}

func (v *view) setTally(t domain.Tally) {
	v.mu.Lock()
	v.tallies[t.SubjectID] = t
	v.mu.Unlock()
}

func (v *view) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

func (v *view) print() {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "%s [%s] invite %s\n", v.room.Title, v.room.Status, v.room.InviteCode)
	names := make([]string, 0, len(v.members))
	for _, m := range v.members {
		if m.Active {
			names = append(names, m.Nickname)
		}
	}
	sort.Strings(names)
	fmt.Fprintf(v.out, "members: %s\n", strings.Join(names, ", "))
	v.printRoutes()
}

func (v *view) printRoutes() {
	for i, r := range v.routes {
		mark := " "
		if r.IsSelected {
			mark = "*"
		}
		t := v.tallies[r.ID]
		fmt.Fprintf(v.out, "%s %d. %s (%d places, %d min) +%d/-%d\n", mark, i+1, r.Title, len(r.PlaceIDs), r.TravelMinutes, t.Likes, t.Dislikes)
	}
}

func (v *view) activeCount() int {
	n := 0
	for _, m := range v.members {
		if m.Active {
			n++
		}
	}
	return n
}

func (v *view) name(memberID string) string {
	if memberID == v.self && memberID != "" {
		return "you"
	}
	if m, ok := v.members[memberID]; ok && m.Nickname != "" {
		return m.Nickname
	}
	if memberID == "" {
		return "someone"
	}
	return memberID
}

func (v *view) subjectName(id string) string {
	for _, r := range v.routes {
		if r.ID == id {
			return r.Title
		}
		for _, p := range r.Places {
			if p.ID == id {
				return p.Name
			}
		}
	}
	return id
}
