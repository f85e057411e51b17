package route

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"tripvote/pkg/ai"
)

const (
	StageAnalyze  = "analyze_preferences"
	StageGenerate = "generate_candidates"
	StageOptimize = "optimize_candidates"
)

const plannerSystemPrompt = `You plan one-day group trips. Answer with a single JSON document and nothing else.
Travel time is in whole minutes. Cost is per person in the smallest local currency unit, as an integer.`

// NewLLMStages returns the three generative stages in pipeline order.
func NewLLMStages(gen ai.TextGenerator, candidates, jsonRetries int) []Stage {
	return []Stage{
		&AnalyzePreferences{gen: gen, retries: jsonRetries},
		&GenerateCandidates{gen: gen, retries: jsonRetries, count: candidates},
		&OptimizeCandidates{gen: gen, retries: jsonRetries},
	}
}

// AnalyzePreferences condenses member preferences into an Analysis.
type AnalyzePreferences struct {
	gen     ai.TextGenerator
	retries int
}

func (s *AnalyzePreferences) Name() string { return StageAnalyze }

func (s *AnalyzePreferences) Run(ctx context.Context, rc RoomContext, in Draft) (Draft, error) {
	var b strings.Builder
	b.WriteString("Summarize the group's preferences for this trip.\n")
	writeRoom(&b, rc)
	b.WriteString(`Reply as {"summary": string, "themes": [string], "pace": "relaxed"|"normal"|"packed", "avoidCategories": [string], "budgetPerPerson": int}.`)

	var analysis Analysis
	if err := ai.CompleteJSON(ctx, s.gen, plannerSystemPrompt, b.String(), s.retries, &analysis); err != nil {
		return Draft{}, err
	}
	if strings.TrimSpace(analysis.Summary) == "" {
		return Draft{}, fmt.Errorf("analysis summary is empty")
	}
	if analysis.BudgetPerPerson < 0 {
		return Draft{}, fmt.Errorf("negative budget in analysis")
	}
	in.Analysis = &analysis
	return in, nil
}

type routesReply struct {
	Routes []Candidate `json:"routes"`
}

// GenerateCandidates asks for N candidate itineraries.
type GenerateCandidates struct {
	gen     ai.TextGenerator
	retries int
	count   int
}

func (s *GenerateCandidates) Name() string { return StageGenerate }

func (s *GenerateCandidates) Run(ctx context.Context, rc RoomContext, in Draft) (Draft, error) {
	count := s.count
	if count <= 0 {
		count = 3
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Propose %d different one-day routes.\n", count)
	writeRoom(&b, rc)
	if in.Analysis != nil {
		data, _ := json.Marshal(in.Analysis)
		fmt.Fprintf(&b, "Group analysis: %s\n", data)
	}
	if len(rc.MustVisit) > 0 {
		labels := make([]string, 0, len(rc.MustVisit))
		for _, p := range rc.MustVisit {
			labels = append(labels, p.label())
		}
		fmt.Fprintf(&b, "Every route should include: %s\n", strings.Join(labels, ", "))
	}
	if len(rc.Kept) > 0 {
		fmt.Fprintf(&b, "Do not use these places, the group set them aside: %s\n", strings.Join(rc.Kept, ", "))
	}
	fmt.Fprintf(&b, "Each route has %d to %d places in visiting order.\n", MinPlaces, MaxPlaces)
	b.WriteString(`Reply as {"routes": [{"title": string, "summary": string, "places": [{"name": string, "address": string, "category": string, "lat": number, "lng": number}], "travelMinutes": int, "cost": int}]}.`)

	var reply routesReply
	if err := ai.CompleteJSON(ctx, s.gen, plannerSystemPrompt, b.String(), s.retries, &reply); err != nil {
		return Draft{}, err
	}
	kept := make(map[string]struct{}, len(rc.Kept))
	for _, name := range rc.Kept {
		kept[Place{Name: name}.key()] = struct{}{}
	}
	cands := make([]Candidate, 0, len(reply.Routes))
	for _, c := range reply.Routes {
		c.Title = strings.TrimSpace(c.Title)
		c.Places = filterPlaces(c.Places, kept)
		cands = append(cands, c)
		if len(cands) == count {
			break
		}
	}
	if err := ValidateCandidates(cands); err != nil {
		return Draft{}, err
	}
	for _, c := range cands {
		for _, p := range c.Places {
			in.exclude(p.Name)
		}
	}
	in.Candidates = cands
	return in, nil
}

// OptimizeCandidates re-checks ordering and cost. It may reorder, trim or
// substitute places; a substitute must not already be in the exclusion set.
type OptimizeCandidates struct {
	gen     ai.TextGenerator
	retries int
}

func (s *OptimizeCandidates) Name() string { return StageOptimize }

func (s *OptimizeCandidates) Run(ctx context.Context, rc RoomContext, in Draft) (Draft, error) {
	if len(in.Candidates) == 0 {
		return Draft{}, fmt.Errorf("nothing to optimize")
	}
	current, _ := json.Marshal(routesReply{Routes: in.Candidates})
	var b strings.Builder
	b.WriteString("Check these routes. Fix the visiting order so travel is geographically sensible, ")
	b.WriteString("correct implausible travel times and costs, and replace a place only when it clearly does not fit.\n")
	writeRoom(&b, rc)
	fmt.Fprintf(&b, "Routes: %s\n", current)
	fmt.Fprintf(&b, "Keep the same number of routes in the same order, each with %d to %d places.\n", MinPlaces, MaxPlaces)
	b.WriteString("Reply with the same JSON shape.")

	var reply routesReply
	if err := ai.CompleteJSON(ctx, s.gen, plannerSystemPrompt, b.String(), s.retries, &reply); err != nil {
		return Draft{}, err
	}

	out := make([]Candidate, len(in.Candidates))
	var added []string
	for i, original := range in.Candidates {
		if i >= len(reply.Routes) {
			out[i] = original
			continue
		}
		merged, subs := mergeOptimized(original, reply.Routes[i], in)
		out[i] = merged
		added = append(added, subs...)
	}
	if err := ValidateCandidates(out); err != nil {
		return Draft{}, err
	}
	for _, name := range added {
		in.exclude(name)
	}
	in.Candidates = out
	return in, nil
}

// mergeOptimized keeps the optimized order of the original places and admits
// substitutes that are not excluded. If the result breaks the route
// contract the original candidate is kept.
func mergeOptimized(original, optimized Candidate, d Draft) (Candidate, []string) {
	own := make(map[string]struct{}, len(original.Places))
	for _, p := range original.Places {
		own[p.key()] = struct{}{}
	}
	places := make([]Place, 0, len(optimized.Places))
	seen := make(map[string]struct{}, len(optimized.Places))
	var subs []string
	for _, p := range optimized.Places {
		k := p.key()
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		if _, ok := own[k]; !ok {
			if d.IsExcluded(p.Name) {
				continue
			}
			subs = append(subs, p.Name)
		}
		seen[k] = struct{}{}
		places = append(places, p)
	}
	merged := Candidate{
		Title:         strings.TrimSpace(optimized.Title),
		Summary:       optimized.Summary,
		Places:        places,
		TravelMinutes: optimized.TravelMinutes,
		Cost:          optimized.Cost,
	}
	if merged.Title == "" {
		merged.Title = original.Title
	}
	if merged.Summary == "" {
		merged.Summary = original.Summary
	}
	if ValidateCandidates([]Candidate{merged}) != nil {
		return original, nil
	}
	return merged, subs
}

func filterPlaces(places []Place, drop map[string]struct{}) []Place {
	out := make([]Place, 0, len(places))
	for _, p := range places {
		p.Name = strings.TrimSpace(p.Name)
		p.Address = strings.TrimSpace(p.Address)
		if _, ok := drop[p.key()]; ok {
			continue
		}
		out = append(out, p)
	}
	return out
}

func writeRoom(b *strings.Builder, rc RoomContext) {
	fmt.Fprintf(b, "Trip: %s\n", rc.Title)
	if len(rc.Districts) > 0 {
		fmt.Fprintf(b, "Area: %s\n", strings.Join(rc.Districts, ", "))
	}
	if rc.TripDate != "" {
		fmt.Fprintf(b, "Date: %s\n", rc.TripDate)
	}
	if rc.StartTime != "" || rc.EndTime != "" {
		fmt.Fprintf(b, "Time window: %s - %s\n", rc.StartTime, rc.EndTime)
	}
	if rc.BudgetMax > 0 {
		fmt.Fprintf(b, "Budget per person: %d - %d\n", rc.BudgetMin, rc.BudgetMax)
	}
	for _, m := range rc.Members {
		p := m.Preferences
		fmt.Fprintf(b, "Member %s: categories=%s pace=%s budget=%s notes=%s\n",
			m.Nickname, strings.Join(p.Categories, "/"), p.Pace, p.BudgetTolerance, p.Notes)
	}
}
