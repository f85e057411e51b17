package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"
	"tripvote/pkg/hub"
)

// wsFrame decodes both control frames and room events.
type wsFrame struct {
	Type    string          `json:"type"`
	Code    string          `json:"code"`
	Payload json.RawMessage `json:"payload"`
}

func dialRoom(t *testing.T, baseURL, roomID, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/rooms/" + roomID + "/ws?" + query
	conn, err := websocket.Dial(url, "", "http://localhost")
	if err != nil {
		t.Fatalf("dial room socket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, decoder *json.Decoder) wsFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame wsFrame
	if err := decoder.Decode(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func TestRoomSocketStreamsVisibleEvents(t *testing.T) {
	ts := newTestServer(t, Config{})
	owner := caller{t: t, base: ts.URL, anonID: "owner"}
	guest := caller{t: t, base: ts.URL, anonID: "guest"}
	created := createTestRoom(t, owner)
	roomPath := "/rooms/" + created.Room.ID
	guest.expect(http.MethodPost, roomPath+"/join", nil, http.StatusCreated, nil)

	conn := dialRoom(t, ts.URL, created.Room.ID, "anonymousId=guest")
	decoder := json.NewDecoder(conn)
	if welcome := readFrame(t, conn, decoder); welcome.Type != "welcome" {
		t.Fatalf("expected welcome frame, got %q", welcome.Type)
	}

	// The owner's assistant thread must not reach the guest.
	owner.expect(http.MethodPost, roomPath+"/messages?channel=assistant", map[string]string{"content": "secret plan"}, http.StatusCreated, nil)
	owner.expect(http.MethodPost, roomPath+"/messages", map[string]string{"content": "Meet at 9"}, http.StatusCreated, nil)

	for {
		frame := readFrame(t, conn, decoder)
		if frame.Type != string(hub.EventChatPosted) {
			continue
		}
		var payload hub.ChatPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			t.Fatalf("decode chat payload: %v", err)
		}
		if payload.Message.Content != "Meet at 9" {
			t.Fatalf("guest received %q from another member's thread", payload.Message.Content)
		}
		break
	}

	if err := websocket.JSON.Send(conn, map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("send ping: %v", err)
	}
	for {
		if frame := readFrame(t, conn, decoder); frame.Type == "pong" {
			break
		}
	}

	owner.expect(http.MethodPost, roomPath+"/close", nil, http.StatusOK, nil)
	for {
		if frame := readFrame(t, conn, decoder); frame.Type == string(hub.EventRoomClosed) {
			break
		}
	}
}

func TestRoomSocketRequiresMembership(t *testing.T) {
	ts := newTestServer(t, Config{})
	owner := caller{t: t, base: ts.URL, anonID: "owner"}
	created := createTestRoom(t, owner)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/rooms/" + created.Room.ID + "/ws?anonymousId=stranger"
	if _, err := websocket.Dial(url, "", "http://localhost"); err == nil {
		t.Fatalf("expected non-member dial to fail")
	}
	url = "ws" + strings.TrimPrefix(ts.URL, "http") + "/rooms/" + created.Room.ID + "/ws"
	if _, err := websocket.Dial(url, "", "http://localhost"); err == nil {
		t.Fatalf("expected anonymous dial to fail")
	}
}

func TestRoomSocketFrameRateLimit(t *testing.T) {
	ts := newTestServer(t, Config{WSFramesPerSecond: 0.01, WSFrameBurst: 1})
	owner := caller{t: t, base: ts.URL, anonID: "owner"}
	created := createTestRoom(t, owner)

	conn := dialRoom(t, ts.URL, created.Room.ID, "anonymousId=owner")
	decoder := json.NewDecoder(conn)
	if welcome := readFrame(t, conn, decoder); welcome.Type != "welcome" {
		t.Fatalf("expected welcome frame, got %q", welcome.Type)
	}
	for i := 0; i < 2; i++ {
		if err := websocket.JSON.Send(conn, map[string]string{"type": "ping"}); err != nil {
			t.Fatalf("send ping %d: %v", i, err)
		}
	}
	if frame := readFrame(t, conn, decoder); frame.Type != "pong" {
		t.Fatalf("expected pong, got %q", frame.Type)
	}
	frame := readFrame(t, conn, decoder)
	if frame.Type != "error" || frame.Code != "RESOURCE_EXHAUSTED" {
		t.Fatalf("expected rate limit error, got %+v", frame)
	}
}

func TestRoomSocketChecksOrigin(t *testing.T) {
	ts := newTestServer(t, Config{CORSOrigins: []string{"https://trip.example.com"}})
	owner := caller{t: t, base: ts.URL, anonID: "owner"}
	created := createTestRoom(t, owner)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/rooms/" + created.Room.ID + "/ws?anonymousId=owner"
	if _, err := websocket.Dial(url, "", "https://evil.example.com"); err == nil {
		t.Fatalf("expected dial from a foreign origin to fail")
	}
	conn, err := websocket.Dial(url, "", "https://trip.example.com")
	if err != nil {
		t.Fatalf("dial from allowed origin: %v", err)
	}
	defer conn.Close()
	if welcome := readFrame(t, conn, json.NewDecoder(conn)); welcome.Type != "welcome" {
		t.Fatalf("expected welcome frame, got %q", welcome.Type)
	}
}
