package server

import (
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestGenerateRateLimit(t *testing.T) {
	redis := miniredis.RunT(t)
	ts := newTestServer(t, Config{
		RedisAddr:                  redis.Addr(),
		GenerateRateLimitPerMinute: 1,
	})
	owner := caller{t: t, base: ts.URL, anonID: "owner"}
	created := createTestRoom(t, owner)

	owner.expect(http.MethodPost, "/rooms/"+created.Room.ID+"/routes/generate", nil, http.StatusOK, nil)
	status, _ := owner.do(http.MethodPost, "/rooms/"+created.Room.ID+"/routes/generate", nil)
	if status != http.StatusTooManyRequests {
		t.Fatalf("second generate expected 429, got %d", status)
	}
}

func TestAssistantRateLimitIsPerMember(t *testing.T) {
	redis := miniredis.RunT(t)
	ts := newTestServer(t, Config{
		RedisAddr:              redis.Addr(),
		ChatRateLimitPerMinute: 1,
	})
	owner := caller{t: t, base: ts.URL, anonID: "owner"}
	guest := caller{t: t, base: ts.URL, anonID: "guest"}
	created := createTestRoom(t, owner)
	roomPath := "/rooms/" + created.Room.ID
	guest.expect(http.MethodPost, roomPath+"/join", nil, http.StatusCreated, nil)

	body := map[string]string{"content": "Where should we eat?"}
	owner.expect(http.MethodPost, roomPath+"/messages?channel=assistant", body, http.StatusCreated, nil)
	status, _ := owner.do(http.MethodPost, roomPath+"/messages?channel=assistant", body)
	if status != http.StatusTooManyRequests {
		t.Fatalf("second assistant message expected 429, got %d", status)
	}
	guest.expect(http.MethodPost, roomPath+"/messages?channel=assistant", body, http.StatusCreated, nil)
	// Team chat is not limited.
	owner.expect(http.MethodPost, roomPath+"/messages", body, http.StatusCreated, nil)
}

func TestPlannerServerRequiresRedisForRateLimits(t *testing.T) {
	_, err := New(Config{App: newBareApp(t), GenerateRateLimitPerMinute: 1})
	if err == nil {
		t.Fatalf("expected limiter initialization to fail without redis addr")
	}
}
