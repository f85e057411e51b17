package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

var errTransportClosed = errors.New("transport closed")

// RedisTransport shares room channels between processes through Redis
// PUBLISH/SUBSCRIBE.
type RedisTransport struct {
	client *redis.Client
	prefix string
}

// NewRedisTransport connects to addr. Channels are named <prefix>:room:<id>.
func NewRedisTransport(addr, password, prefix string) (*RedisTransport, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("hub redis addr is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "tripvote:hub"
	}
	return &RedisTransport{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		prefix: prefix,
	}, nil
}

func (t *RedisTransport) channel(roomID string) string {
	return t.prefix + ":room:" + roomID
}

func (t *RedisTransport) Publish(ctx context.Context, roomID string, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := t.client.Publish(ctx, t.channel(roomID), data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (t *RedisTransport) Subscribe(ctx context.Context, roomID string, handler func(Event)) (func(), error) {
	ps := t.client.Subscribe(ctx, t.channel(roomID))
	// Wait for the subscription confirmation so no publish is missed after return.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	messages := ps.Channel()
	go func() {
		for msg := range messages {
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				slog.Warn("hub: drop malformed event", "room_id", roomID, "err", err)
				continue
			}
			handler(e)
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			if err := ps.Close(); err != nil {
				slog.Warn("hub: close subscription failed", "room_id", roomID, "err", err)
			}
		})
	}, nil
}

// Ping checks connectivity.
func (t *RedisTransport) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

func (t *RedisTransport) Close() error {
	return t.client.Close()
}
