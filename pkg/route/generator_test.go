package route

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tripvote/pkg/ai"
	"tripvote/pkg/domain"
	"tripvote/pkg/store"
)

func TestFallbackIsDeterministicAndRegional(t *testing.T) {
	f := NewFallback(nil)
	rc := RoomContext{RoomID: "room-42", Districts: []string{"Jung-gu"}}
	a := f.Generate(rc)
	b := f.Generate(rc)
	if fmt.Sprint(a) != fmt.Sprint(b) {
		t.Fatalf("fallback not deterministic")
	}
	if err := ValidateCandidates(a); err != nil {
		t.Fatalf("fallback output invalid: %v", err)
	}
	region := DefaultCatalog().Resolve([]string{"jung-gu"})
	inRegion := make(map[string]bool)
	for _, p := range region.Places {
		inRegion[p.Name] = true
	}
	for _, c := range a {
		for _, p := range c.Places {
			if !inRegion[p.Name] {
				t.Fatalf("place %q is not from the requested region", p.Name)
			}
		}
	}
}

func TestFallbackResolvesAliasesAndDefault(t *testing.T) {
	c := DefaultCatalog()
	if r := c.Resolve([]string{"Gwangalli"}); r.Name != "suyeong-gu" {
		t.Fatalf("alias resolved to %q", r.Name)
	}
	if r := c.Resolve([]string{"Atlantis"}); r.Name != c.Default {
		t.Fatalf("unknown district resolved to %q", r.Name)
	}
}

func TestFallbackSkipsKeptPlaces(t *testing.T) {
	rc := RoomContext{RoomID: "r", Districts: []string{"haeundae"}, Kept: []string{"Haeundae Beach"}}
	for _, c := range NewFallback(nil).Generate(rc) {
		for _, p := range c.Places {
			if p.Name == "Haeundae Beach" {
				t.Fatalf("kept place used in fallback route")
			}
		}
	}
}

func TestFallbackStartsWithMustVisitPlaces(t *testing.T) {
	rc := RoomContext{
		RoomID:    "room-7",
		Districts: []string{"haeundae"},
		MustVisit: []Place{{Name: "Lotte World Tower", Address: "Songpa-gu"}, {Name: "lotte world tower"}},
	}
	out := NewFallback(nil).Generate(rc)
	if len(out) == 0 {
		t.Fatalf("expected fallback routes")
	}
	for _, c := range out {
		if len(c.Places) < MinPlaces || len(c.Places) > MaxPlaces {
			t.Fatalf("route %q has %d places", c.Title, len(c.Places))
		}
		if c.Places[0].Name != "Lotte World Tower" || c.Places[0].Address != "Songpa-gu" {
			t.Fatalf("route %q does not open with the must-visit place: %+v", c.Title, c.Places[0])
		}
		for _, p := range c.Places[1:] {
			if p.key() == "lotte world tower" {
				t.Fatalf("must-visit place repeated in %q", c.Title)
			}
		}
	}
}

func TestLoadCatalogRejectsThinRegions(t *testing.T) {
	_, err := LoadCatalog([]byte("default: a\nregions:\n  - name: a\n    places:\n      - {name: x}\n"))
	if err == nil {
		t.Fatalf("expected error for region without enough places")
	}
}

func TestGeneratorFallsBackWhenProviderUnreachable(t *testing.T) {
	ctx := context.Background()
	places := store.NewMemoryStore()
	unreachable := ai.NewOpenAICompatGenerator(ai.ProviderConfig{BaseURL: "http://127.0.0.1:1/v1", Model: "m", Timeout: time.Second})
	pipeline := NewPipeline(2*time.Second, nil, NewLLMStages(unreachable, 3, 1)...)
	g := NewGenerator(pipeline, nil, places, nil)

	out, err := g.Generate(ctx, RoomContext{RoomID: "room-1", Districts: []string{"Haeundae"}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !out.Fallback || out.Stage != StageAnalyze {
		t.Fatalf("expected fallback after analyze failure, got %+v", out)
	}
	if len(out.Routes) == 0 {
		t.Fatalf("no routes")
	}
	for _, r := range out.Routes {
		if r.Source != domain.RouteFromFallback || len(r.PlaceIDs) < MinPlaces {
			t.Fatalf("unexpected route %+v", r)
		}
		for _, id := range r.PlaceIDs {
			p, ok, _ := places.GetPlace(ctx, "room-1", id)
			if !ok || p.Source != domain.PlaceFromCatalog {
				t.Fatalf("place %s not registered from catalog", id)
			}
		}
	}
}

func TestGeneratorUsesPipelineOutput(t *testing.T) {
	gen := &routedGenerator{analyze: analyzeReply, gen: generateReply, opt: "not json"}
	pipeline := NewPipeline(time.Second, nil, NewLLMStages(gen, 3, 0)[:2]...)
	g := NewGenerator(pipeline, nil, store.NewMemoryStore(), nil)
	out, err := g.Generate(context.Background(), testRoom())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out.Fallback || len(out.Routes) != 2 || out.Routes[0].Source != domain.RouteFromPipeline {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Routes[0].GenerationID != out.GenerationID {
		t.Fatalf("route not tagged with generation id")
	}
}

func TestGeneratorWithoutPipelineUsesFallback(t *testing.T) {
	out, err := NewGenerator(nil, nil, store.NewMemoryStore(), nil).Generate(context.Background(), RoomContext{RoomID: "x"})
	if err != nil || !out.Fallback || len(out.Routes) == 0 {
		t.Fatalf("expected fallback outcome, got %+v %v", out, err)
	}
}

func TestCoordinatorCoalescesConcurrentRuns(t *testing.T) {
	var c Coordinator
	var runs int32
	release := make(chan struct{})
	fn := func(context.Context) (Outcome, error) {
		atomic.AddInt32(&runs, 1)
		<-release
		return Outcome{GenerationID: "gen-1"}, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, _, err := c.Do(context.Background(), "room-1", fn)
			if err != nil {
				t.Errorf("do: %v", err)
				return
			}
			results <- out.GenerationID
		}()
	}
	// Let every caller join the in-flight run before it completes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	if n := atomic.LoadInt32(&runs); n != 1 {
		t.Fatalf("expected one run, got %d", n)
	}
	for id := range results {
		if id != "gen-1" {
			t.Fatalf("caller saw a different result %q", id)
		}
	}

	// The key is released after completion.
	if _, _, err := c.Do(context.Background(), "room-1", func(context.Context) (Outcome, error) {
		atomic.AddInt32(&runs, 1)
		return Outcome{}, nil
	}); err != nil {
		t.Fatalf("second do: %v", err)
	}
	if n := atomic.LoadInt32(&runs); n != 2 {
		t.Fatalf("expected a new run after completion, got %d runs", n)
	}
}

func TestCoordinatorCallerCancelDoesNotCancelRun(t *testing.T) {
	var c Coordinator
	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_, _, err := c.Do(ctx, "room-1", func(runCtx context.Context) (Outcome, error) {
			time.Sleep(30 * time.Millisecond)
			done <- runCtx.Err()
			return Outcome{}, nil
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected canceled wait, got %v", err)
		}
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("shared run was cancelled: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not finish")
	}
}
