package route

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// routedGenerator answers by stage, recognised from the prompt text.
type routedGenerator struct {
	mu      sync.Mutex
	analyze string
	gen     string
	opt     string
	err     error
	calls   int
	prompts []string
}

func (g *routedGenerator) GenerateText(_ context.Context, _, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	switch {
	case strings.HasPrefix(prompt, "Summarize"):
		return g.analyze, nil
	case strings.HasPrefix(prompt, "Propose"):
		return g.gen, nil
	default:
		return g.opt, nil
	}
}

const analyzeReply = `{"summary":"seafood and beaches","themes":["sea"],"pace":"normal","budgetPerPerson":40000}`

const generateReply = "```json\n" + `{"routes":[
 {"title":"Coast","places":[{"name":"Haeundae Beach","address":"A"},{"name":"Dongbaekseom Island","address":"B"},{"name":"The Bay 101","address":"C"},{"name":"Kept Cafe","address":"K"}],"travelMinutes":200,"cost":20000},
 {"title":"Old town","places":[{"name":"Jagalchi Fish Market","address":"D"},{"name":"Gukje Market","address":"E"},{"name":"Busan Tower","address":"F"}],"travelMinutes":180,"cost":30000}
]}` + "\n```"

func testRoom() RoomContext {
	return RoomContext{RoomID: "room-1", Title: "Busan day", Districts: []string{"Haeundae"}, Kept: []string{"Kept Cafe"}}
}

func TestLLMStagesProduceValidDraft(t *testing.T) {
	gen := &routedGenerator{
		analyze: analyzeReply,
		gen:     generateReply,
		opt: `{"routes":[
 {"title":"Coast","places":[{"name":"Dongbaekseom Island"},{"name":"Haeundae Beach"},{"name":"Busan Tower"},{"name":"Blueline Park"}],"travelMinutes":190,"cost":25000},
 {"title":"Old town","places":[{"name":"Jagalchi Fish Market"},{"name":"Gukje Market"},{"name":"Busan Tower"}],"travelMinutes":170,"cost":30000}
]}`,
	}
	p := NewPipeline(time.Second, nil, NewLLMStages(gen, 3, 1)...)
	draft, err := p.Run(context.Background(), testRoom())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if draft.Analysis == nil || draft.Analysis.Summary == "" {
		t.Fatalf("analysis missing")
	}
	coast := draft.Candidates[0]
	names := make([]string, 0, len(coast.Places))
	for _, p := range coast.Places {
		names = append(names, p.Name)
	}
	joined := strings.Join(names, ",")
	// Busan Tower belongs to the other candidate, so it is excluded as a substitute.
	if strings.Contains(joined, "Busan Tower") {
		t.Fatalf("excluded place admitted as substitute: %s", joined)
	}
	if !strings.Contains(joined, "Blueline Park") {
		t.Fatalf("fresh substitute dropped: %s", joined)
	}
	if strings.Contains(joined, "Kept Cafe") {
		t.Fatalf("kept place used in a route: %s", joined)
	}
	if !draft.IsExcluded("blueline park") {
		t.Fatalf("substitute not added to exclusion set")
	}
}

func TestGenerateStageRejectsShortRoutes(t *testing.T) {
	gen := &routedGenerator{
		analyze: analyzeReply,
		gen:     `{"routes":[{"title":"x","places":[{"name":"a"},{"name":"Kept Cafe"},{"name":"b"}],"travelMinutes":10,"cost":0}]}`,
	}
	_, err := NewPipeline(time.Second, nil, NewLLMStages(gen, 3, 0)...).Run(context.Background(), testRoom())
	var failed *FailedError
	if !errors.As(err, &failed) || failed.Stage != StageGenerate {
		t.Fatalf("expected generate stage failure, got %v", err)
	}
}

func TestOptimizeKeepsOriginalWhenReplyBreaksContract(t *testing.T) {
	gen := &routedGenerator{
		analyze: analyzeReply,
		gen:     generateReply,
		opt:     `{"routes":[{"title":"Coast","places":[{"name":"Haeundae Beach"}],"travelMinutes":10,"cost":0}]}`,
	}
	draft, err := NewPipeline(time.Second, nil, NewLLMStages(gen, 3, 0)...).Run(context.Background(), testRoom())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(draft.Candidates) != 2 || len(draft.Candidates[0].Places) != 3 {
		t.Fatalf("expected original candidates, got %+v", draft.Candidates)
	}
}

func TestGenerateStageNamesMustVisitPlaces(t *testing.T) {
	gen := &routedGenerator{analyze: analyzeReply, gen: generateReply}
	rc := testRoom()
	rc.MustVisit = []Place{{Name: "Lotte World Tower", Address: "Songpa-gu"}}
	if _, err := NewPipeline(time.Second, nil, NewLLMStages(gen, 3, 0)...).Run(context.Background(), rc); err != nil {
		t.Fatalf("run: %v", err)
	}
	var propose string
	for _, p := range gen.prompts {
		if strings.HasPrefix(p, "Propose") {
			propose = p
		}
	}
	if !strings.Contains(propose, "Every route should include: Lotte World Tower (Songpa-gu)") {
		t.Fatalf("must-visit place not named in prompt:\n%s", propose)
	}
	if !NewDraft(rc).IsExcluded("  lotte world TOWER ") {
		t.Fatalf("must-visit place missing from exclusion set")
	}
}
