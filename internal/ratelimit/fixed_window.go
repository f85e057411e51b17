package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	// Remaining is the quota left in the current window after this call.
	Remaining int
	// RetryAfter is the time until the current window ends.
	RetryAfter time.Duration
}

// FixedWindowLimiter counts calls per key in fixed windows shared through
// Redis, so every planner instance sees the same quota.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration
	prefix string

	client     redis.UniversalClient
	ownsClient bool
	now        func() time.Time
}

// NewFixedWindowLimiter builds a limiter on a shared client. Close does not
// close client.
func NewFixedWindowLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if limit <= 0 || window < time.Millisecond {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	if client == nil {
		return nil, errors.New("rate limiter requires a redis client")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "tripvote:ratelimit"
	}
	return &FixedWindowLimiter{
		limit:  limit,
		window: window,
		prefix: prefix,
		client: client,
		now:    time.Now,
	}, nil
}

// NewRedisFixedWindowLimiter dials its own client at addr.
func NewRedisFixedWindowLimiter(addr, password, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	l, err := NewFixedWindowLimiter(client, prefix, limit, window)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	l.ownsClient = true
	return l, nil
}

// Allow counts one call for key. Redis failures deny the call.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) Decision {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := l.window.Milliseconds()
	nowMs := l.now().UTC().UnixMilli()
	slot := nowMs / windowMs
	retryAfter := time.Duration((slot+1)*windowMs-nowMs) * time.Millisecond

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)
	count, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64()
	if err != nil {
		return Decision{RetryAfter: retryAfter}
	}
	if count > int64(l.limit) {
		return Decision{RetryAfter: retryAfter}
	}
	return Decision{Allowed: true, Remaining: l.limit - int(count), RetryAfter: retryAfter}
}

// Limit is the per-window quota.
func (l *FixedWindowLimiter) Limit() int {
	return l.limit
}

// Close releases the client when the limiter dialed it.
func (l *FixedWindowLimiter) Close() error {
	if l == nil || !l.ownsClient {
		return nil
	}
	return l.client.Close()
}
