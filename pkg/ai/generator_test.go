package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAICompatGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req oaiChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Errorf("expected json response format")
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" {\"ok\":true} "}}]}`))
	}))
	defer srv.Close()

	gen, err := NewGenerator(ProviderConfig{Provider: "openai-compat", BaseURL: srv.URL + "/v1", APIKey: "secret", Model: "m", JSONMode: true})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	text, err := gen.GenerateText(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != `{"ok":true}` {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestOllamaGeneratorAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer srv.Close()

	gen := NewOllamaGenerator(ProviderConfig{BaseURL: srv.URL, Model: "llama"})
	_, err := gen.GenerateText(context.Background(), "", "hi")
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestGeminiGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-test:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "k" {
			t.Errorf("missing api key")
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hello "},{"text":"world"}]}}]}`))
	}))
	defer srv.Close()

	gen, err := NewGeminiGenerator(ProviderConfig{BaseURL: srv.URL, APIKey: "k", Model: "models/gemini-test"})
	if err != nil {
		t.Fatalf("new gemini: %v", err)
	}
	text, err := gen.GenerateText(context.Background(), "sys", "hi")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestNewGeneratorUnknownProvider(t *testing.T) {
	if _, err := NewGenerator(ProviderConfig{Provider: "nope"}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := NewGenerator(ProviderConfig{Provider: "gemini"}); err == nil {
		t.Fatalf("expected missing key error")
	}
}
