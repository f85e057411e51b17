package ai

import (
	"context"
	"errors"
	"testing"
)

type scriptedGenerator struct {
	replies []string
	calls   int
	prompts []string
}

func (s *scriptedGenerator) GenerateText(_ context.Context, _, userPrompt string) (string, error) {
	s.prompts = append(s.prompts, userPrompt)
	reply := s.replies[len(s.replies)-1]
	if s.calls < len(s.replies) {
		reply = s.replies[s.calls]
	}
	s.calls++
	return reply, nil
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```":         `{"a":1}`,
		"Sure! Here it is: {\"a\":1} bye": `{"a":1}`,
		"[1,2,3]":                         `[1,2,3]`,
	}
	for in, want := range cases {
		got, ok := ExtractJSON(in)
		if !ok || got != want {
			t.Fatalf("ExtractJSON(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := ExtractJSON("no json here"); ok {
		t.Fatalf("expected no json")
	}
}

func TestCompleteJSONRetriesMalformed(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"oops", `{"name":"ok"}`}}
	var out struct {
		Name string `json:"name"`
	}
	if err := CompleteJSON(context.Background(), gen, "sys", "give json", 2, &out); err != nil {
		t.Fatalf("complete json: %v", err)
	}
	if out.Name != "ok" || gen.calls != 2 {
		t.Fatalf("unexpected result %+v after %d calls", out, gen.calls)
	}
	if gen.prompts[1] == "give json" {
		t.Fatalf("retry prompt should mention the failure")
	}
}

func TestCompleteJSONGivesUp(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"{broken"}}
	var out map[string]any
	err := CompleteJSON(context.Background(), gen, "", "x", 1, &out)
	if !errors.Is(err, ErrMalformedJSON) {
		t.Fatalf("expected malformed json, got %v", err)
	}
	if gen.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", gen.calls)
	}
}

func TestCompleteJSONDiscardsFailedAttempt(t *testing.T) {
	// The first reply decodes "name" before failing on the type of "count".
	gen := &scriptedGenerator{replies: []string{`{"name":"stale","count":"many"}`, `{"count":2}`}}
	var out struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	if err := CompleteJSON(context.Background(), gen, "", "x", 1, &out); err != nil {
		t.Fatalf("complete json: %v", err)
	}
	if out.Name != "" || out.Count != 2 {
		t.Fatalf("fields leaked from the failed attempt: %+v", out)
	}
}

func TestCompleteJSONRequiresPointer(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{`{}`}}
	var out struct{}
	if err := CompleteJSON(context.Background(), gen, "", "x", 0, out); err == nil {
		t.Fatalf("expected error for non-pointer out")
	}
	if gen.calls != 0 {
		t.Fatalf("generator called with invalid out")
	}
}
