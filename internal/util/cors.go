package util

import (
	"net/http"
	"strings"
)

// CORSOrigins is a browser origin allowlist; empty allows any origin.
type CORSOrigins []string

// Allows reports whether origin may call the API. Requests without an Origin
// header are not cross-origin and always pass.
func (o CORSOrigins) Allows(origin string) bool {
	origin = strings.TrimSpace(origin)
	if len(o) == 0 || origin == "" {
		return true
	}
	for _, allowed := range o {
		allowed = strings.TrimRight(strings.TrimSpace(allowed), "/")
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// WithCORS answers preflights and sets CORS headers for allowed origins.
// Retry-After is exposed so browsers can back off from 429s.
func WithCORS(origins CORSOrigins, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		h := w.Header()
		if origin != "" && origins.Allows(origin) {
			if len(origins) == 0 {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Anonymous-Id, X-Nickname, X-Request-Id")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			h.Set("Access-Control-Expose-Headers", "Retry-After, X-Request-Id")
			h.Set("Access-Control-Max-Age", "600")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
