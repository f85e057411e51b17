// Package route turns room context into candidate itineraries, through a
// staged generative pipeline or a deterministic catalog fallback.
package route

import (
	"fmt"
	"strings"

	"tripvote/pkg/domain"
	"tripvote/pkg/placeref"
)

const (
	MinPlaces = 3
	MaxPlaces = 5
)

// MemberPreferences is what one member told the room about themselves.
type MemberPreferences struct {
	Nickname    string             `json:"nickname"`
	Preferences domain.Preferences `json:"preferences"`
}

// RoomContext is the read-only input of a generation run.
type RoomContext struct {
	RoomID    string              `json:"roomId"`
	Title     string              `json:"title"`
	TripDate  string              `json:"tripDate,omitempty"`
	StartTime string              `json:"startTime,omitempty"`
	EndTime   string              `json:"endTime,omitempty"`
	BudgetMin int                 `json:"budgetMin"`
	BudgetMax int                 `json:"budgetMax"`
	Districts []string            `json:"districts"`
	MustVisit []Place             `json:"mustVisit,omitempty"`
	Members   []MemberPreferences `json:"members"`
	Kept      []string            `json:"kept,omitempty"`
}

// NewRoomContext collects the generation input for a room. mustVisit holds
// the resolved places behind room.MustVisit.
func NewRoomContext(room domain.Room, members []domain.Member, mustVisit, kept []domain.PlaceRef) RoomContext {
	rc := RoomContext{
		RoomID:    room.ID,
		Title:     room.Title,
		TripDate:  room.TripDate,
		StartTime: room.StartTime,
		EndTime:   room.EndTime,
		BudgetMin: room.BudgetMin,
		BudgetMax: room.BudgetMax,
		Districts: append([]string(nil), room.Districts...),
	}
	for _, p := range mustVisit {
		rc.MustVisit = append(rc.MustVisit, Place{Name: p.Name, Address: p.Address, Category: p.Category, Lat: p.Lat, Lng: p.Lng})
	}
	for _, m := range members {
		if !m.Active {
			continue
		}
		rc.Members = append(rc.Members, MemberPreferences{Nickname: m.Nickname, Preferences: m.Preferences})
	}
	for _, p := range kept {
		rc.Kept = append(rc.Kept, p.Name)
	}
	return rc
}

// Analysis is the structured preference summary.
type Analysis struct {
	Summary         string   `json:"summary"`
	Themes          []string `json:"themes"`
	Pace            string   `json:"pace"`
	AvoidCategories []string `json:"avoidCategories"`
	BudgetPerPerson int      `json:"budgetPerPerson"`
}

// Place is a place as produced by a stage, before normalization.
type Place struct {
	Name     string  `json:"name"`
	Address  string  `json:"address"`
	Category string  `json:"category"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

func (p Place) key() string {
	return placeref.Canonical(p.Name)
}

func (p Place) label() string {
	if a := strings.TrimSpace(p.Address); a != "" {
		return p.Name + " (" + a + ")"
	}
	return p.Name
}

// Candidate is one proposed itinerary.
type Candidate struct {
	Title         string  `json:"title"`
	Summary       string  `json:"summary"`
	Places        []Place `json:"places"`
	TravelMinutes int     `json:"travelMinutes"`
	Cost          int     `json:"cost"`
}

// Draft is the value threaded through the stages.
type Draft struct {
	Analysis   *Analysis
	Candidates []Candidate
	// Excluded holds canonical names that a substitution may not introduce.
	Excluded map[string]struct{}
}

// NewDraft seeds the exclusion set with the must-visit and kept places.
func NewDraft(rc RoomContext) Draft {
	d := Draft{Excluded: make(map[string]struct{})}
	for _, p := range rc.MustVisit {
		d.exclude(p.Name)
	}
	for _, name := range rc.Kept {
		d.exclude(name)
	}
	return d
}

func (d *Draft) exclude(name string) {
	if k := placeref.Canonical(name); k != "" {
		d.Excluded[k] = struct{}{}
	}
}

// IsExcluded reports whether name is in the exclusion set.
func (d Draft) IsExcluded(name string) bool {
	_, ok := d.Excluded[placeref.Canonical(name)]
	return ok
}

func (d Draft) clone() Draft {
	out := Draft{Excluded: make(map[string]struct{}, len(d.Excluded))}
	if d.Analysis != nil {
		a := *d.Analysis
		out.Analysis = &a
	}
	for k := range d.Excluded {
		out.Excluded[k] = struct{}{}
	}
	out.Candidates = make([]Candidate, len(d.Candidates))
	for i, c := range d.Candidates {
		c.Places = append([]Place(nil), c.Places...)
		out.Candidates[i] = c
	}
	return out
}

// ValidateCandidates enforces the output contract shared by the pipeline
// and the fallback: at least one route, each with 3 to 5 distinct named
// places and non-negative travel time and cost.
func ValidateCandidates(cands []Candidate) error {
	if len(cands) == 0 {
		return fmt.Errorf("no candidate routes")
	}
	for i, c := range cands {
		if strings.TrimSpace(c.Title) == "" {
			return fmt.Errorf("route %d: title required", i)
		}
		if n := len(c.Places); n < MinPlaces || n > MaxPlaces {
			return fmt.Errorf("route %d: %d places, want %d-%d", i, n, MinPlaces, MaxPlaces)
		}
		if c.TravelMinutes < 0 || c.Cost < 0 {
			return fmt.Errorf("route %d: negative travel time or cost", i)
		}
		seen := make(map[string]struct{}, len(c.Places))
		for _, p := range c.Places {
			k := p.key()
			if k == "" {
				return fmt.Errorf("route %d: unnamed place", i)
			}
			if _, dup := seen[k]; dup {
				return fmt.Errorf("route %d: duplicate place %q", i, p.Name)
			}
			seen[k] = struct{}{}
		}
	}
	return nil
}
