package util

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLoggerFromContextFallsBackToDefault(t *testing.T) {
	if got := LoggerFromContext(context.Background()); got != slog.Default() {
		t.Fatalf("expected default logger")
	}
	logger := slog.Default().With("room_id", "r1")
	ctx := ContextWithLogger(context.Background(), logger)
	if got := LoggerFromContext(ctx); got != logger {
		t.Fatalf("expected stored logger")
	}
}

func TestNewInviteCodeAlphabet(t *testing.T) {
	code := NewInviteCode(10)
	if len(code) != 10 {
		t.Fatalf("unexpected length %d", len(code))
	}
	for _, c := range code {
		found := false
		for _, a := range inviteAlphabet {
			if a == c {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("unexpected character %q in %q", c, code)
		}
	}
	if NewInviteCode(10) == code {
		t.Fatalf("expected distinct codes")
	}
}

func TestWithCORSPreflight(t *testing.T) {
	called := false
	handler := WithCORS(nil, http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	req := httptest.NewRequest(http.MethodOptions, "/rooms", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if called {
		t.Fatalf("preflight should not reach the handler")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard origin, got %q", got)
	}
	if rec.Header().Get("Access-Control-Expose-Headers") == "" {
		t.Fatalf("expected exposed headers")
	}
}

func TestWithCORSAllowlist(t *testing.T) {
	origins := CORSOrigins{"https://trip.example.com/"}
	handler := WithCORS(origins, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for origin, want := range map[string]string{
		"https://trip.example.com": "https://trip.example.com",
		"https://evil.example.com": "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/rooms/r1", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != want {
			t.Fatalf("origin %s: allow-origin = %q, want %q", origin, got, want)
		}
	}
	if !origins.Allows("") {
		t.Fatalf("same-origin requests must pass")
	}
}
