package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func securityHeadersFor(t *testing.T, header, value string) http.Header {
	t.Helper()
	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/rooms/r1", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Header()
}

func TestWithSecurityHeaders(t *testing.T) {
	got := securityHeadersFor(t, "", "")
	for _, kv := range apiSecurityHeaders {
		if got.Get(kv[0]) != kv[1] {
			t.Fatalf("%s = %q, want %q", kv[0], got.Get(kv[0]), kv[1])
		}
	}
	if hsts := got.Get("Strict-Transport-Security"); hsts != "" {
		t.Fatalf("did not expect HSTS for plain http, got %q", hsts)
	}
}

func TestWithSecurityHeadersSetsHSTSBehindTLSProxy(t *testing.T) {
	for _, tc := range [][2]string{{"X-Forwarded-Proto", "https"}, {"Forwarded", "for=10.0.0.1;proto=https"}} {
		if got := securityHeadersFor(t, tc[0], tc[1]).Get("Strict-Transport-Security"); got == "" {
			t.Fatalf("expected HSTS with %s: %s", tc[0], tc[1])
		}
	}
}
