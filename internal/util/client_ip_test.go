package util

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.10", "fd00::/8"})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		xff        string
		xrip       string
		trusted    *TrustedProxies
		want       string
	}{
		{
			name:       "untrusted peer ignores forwarding headers",
			remoteAddr: "198.51.100.10:1234",
			forwarded:  "for=203.0.113.4",
			xff:        "203.0.113.5",
			want:       "198.51.100.10",
		},
		{
			name:       "forwarded header wins over x-forwarded-for",
			remoteAddr: "10.0.0.20:1234",
			forwarded:  `for="[2001:db8::7]:4711";proto=https, for=10.0.0.9`,
			xff:        "203.0.113.5",
			trusted:    trusted,
			want:       "2001:db8::7",
		},
		{
			name:       "obfuscated forwarded nodes fall back to x-forwarded-for",
			remoteAddr: "10.0.0.20:1234",
			forwarded:  "for=unknown",
			xff:        "203.0.113.5, 10.0.0.10",
			trusted:    trusted,
			want:       "203.0.113.5",
		},
		{
			name:       "x-real-ip when no usable chain",
			remoteAddr: "[fd00::1]:8080",
			xff:        "invalid",
			xrip:       "203.0.113.7",
			trusted:    trusted,
			want:       "203.0.113.7",
		},
		{
			name:       "all hops trusted returns leftmost",
			remoteAddr: "10.0.0.20:1234",
			xff:        "10.0.0.5, 192.168.1.10",
			trusted:    trusted,
			want:       "10.0.0.5",
		},
		{
			name:       "mapped v4 peer matches v4 range",
			remoteAddr: "[::ffff:10.1.2.3]:9000",
			xff:        "198.51.100.77",
			trusted:    trusted,
			want:       "198.51.100.77",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://planner.local/rooms", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.forwarded != "" {
				req.Header.Set("Forwarded", tc.forwarded)
			}
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xrip != "" {
				req.Header.Set("X-Real-IP", tc.xrip)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{" 10.0.0.0/8", "", "192.168.1.1"})
	if err != nil {
		t.Fatalf("expected valid entries, got err: %v", err)
	}
	if !trusted.Contains(netip.MustParseAddr("192.168.1.1")) || trusted.Contains(netip.MustParseAddr("192.168.1.2")) {
		t.Fatalf("bare ip should match exactly one address")
	}
	if _, err := NewTrustedProxies([]string{"bad-cidr"}); err == nil {
		t.Fatalf("expected parse error for invalid entry")
	}
	empty, err := NewTrustedProxies([]string{" "})
	if err != nil || empty != nil {
		t.Fatalf("expected nil allowlist for blank input, got %v %v", empty, err)
	}
}

func TestIsHTTPS(t *testing.T) {
	cases := []struct {
		header, value string
		want          bool
	}{
		{"", "", false},
		{"X-Forwarded-Proto", "HTTPS", true},
		{"Forwarded", "for=10.0.0.1;proto=https", true},
		{"Forwarded", "proto=http", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set(tc.header, tc.value)
		}
		if got := IsHTTPS(req); got != tc.want {
			t.Fatalf("IsHTTPS(%s: %s) = %v, want %v", tc.header, tc.value, got, tc.want)
		}
	}
}
