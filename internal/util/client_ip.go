package util

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"
)

// TrustedProxies is the set of peers whose forwarding headers are believed.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// NewTrustedProxies parses CIDR or bare IP entries. No entries yields nil,
// which trusts nobody.
func NewTrustedProxies(entries []string) (*TrustedProxies, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	if len(prefixes) == 0 {
		return nil, nil
	}
	return &TrustedProxies{prefixes: prefixes}, nil
}

// Contains reports whether addr falls inside a trusted range.
func (t *TrustedProxies) Contains(addr netip.Addr) bool {
	if t == nil || !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, p := range t.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP resolves the caller address used in audit logs. Forwarding headers
// count only when the direct peer is trusted; the RFC 7239 Forwarded header
// wins over X-Forwarded-For, and X-Real-IP is the last resort.
func ClientIP(r *http.Request, trusted *TrustedProxies) string {
	peer, ok := parseHostAddr(r.RemoteAddr)
	if !ok {
		return strings.TrimSpace(r.RemoteAddr)
	}
	if !trusted.Contains(peer) {
		return peer.String()
	}

	hops := forwardedFor(r.Header.Values("Forwarded"))
	if len(hops) == 0 {
		hops = xForwardedFor(r.Header.Get("X-Forwarded-For"))
	}
	if len(hops) > 0 {
		chain := append(hops, peer)
		for i := len(chain) - 1; i >= 0; i-- {
			if !trusted.Contains(chain[i]) {
				return chain[i].String()
			}
		}
		return chain[0].String()
	}

	if realIP, ok := parseHostAddr(r.Header.Get("X-Real-IP")); ok {
		return realIP.String()
	}
	return peer.String()
}

// IsHTTPS reports whether the request reached the edge over TLS, directly or
// per a proxy's Forwarded / X-Forwarded-Proto header.
func IsHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	for _, value := range r.Header.Values("Forwarded") {
		for _, elem := range strings.Split(value, ",") {
			if proto, ok := forwardedParam(elem, "proto"); ok {
				return strings.EqualFold(proto, "https")
			}
		}
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https")
}

func xForwardedFor(raw string) []netip.Addr {
	var out []netip.Addr
	for _, part := range strings.Split(raw, ",") {
		if addr, ok := parseHostAddr(part); ok {
			out = append(out, addr)
		}
	}
	return out
}

// forwardedFor collects the for= nodes of every Forwarded element in order.
// Obfuscated identifiers ("unknown", "_hidden") are skipped.
func forwardedFor(values []string) []netip.Addr {
	var out []netip.Addr
	for _, value := range values {
		for _, elem := range strings.Split(value, ",") {
			node, ok := forwardedParam(elem, "for")
			if !ok {
				continue
			}
			if addr, ok := parseHostAddr(node); ok {
				out = append(out, addr)
			}
		}
	}
	return out
}

func forwardedParam(elem, name string) (string, bool) {
	for _, pair := range strings.Split(elem, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), name) {
			continue
		}
		return strings.Trim(strings.TrimSpace(value), `"`), true
	}
	return "", false
}

// parseHostAddr accepts "ip", "ip:port", "[v6]" and "[v6]:port".
func parseHostAddr(raw string) (netip.Addr, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return netip.Addr{}, false
	}
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap.Addr().Unmap(), true
	}
	addr, err := netip.ParseAddr(strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
