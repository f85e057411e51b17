package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"
	"tripvote/pkg/domain"
	"tripvote/pkg/hub"
)

const maxDecodeErrorsPerConn = 3

var errForbiddenOrigin = errors.New("origin not allowed")

// clientFrame is a frame sent by a connected member.
type clientFrame struct {
	Type string `json:"type"`
}

// serverFrame is a control frame. Room events are written as hub.Event.
type serverFrame struct {
	Type   string         `json:"type"`
	Code   string         `json:"code,omitempty"`
	Error  string         `json:"error,omitempty"`
	Member *domain.Member `json:"member,omitempty"`
}

type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) write(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(v)
}

func writeWSError(peer *wsPeer, code, msg string) error {
	return peer.write(serverFrame{Type: "error", Code: code, Error: msg})
}

// roomSocket upgrades a member's connection and streams the room's events.
func (s *Server) roomSocket() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.identity(r, true)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		member, err := s.app.ResolveMember(r.Context(), r.PathValue("id"), identity)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		if !member.Active {
			writeError(w, http.StatusForbidden, "rejoin the room first")
			return
		}
		ws := websocket.Server{
			// Browser origins must pass the CORS allowlist.
			Handshake: func(cfg *websocket.Config, req *http.Request) error {
				if !s.origins.Allows(req.Header.Get("Origin")) {
					return errForbiddenOrigin
				}
				cfg.Origin, _ = websocket.Origin(cfg, req)
				return nil
			},
			Handler: func(conn *websocket.Conn) {
				s.serveRoomConn(conn, member)
			},
		}
		ws.ServeHTTP(w, r)
	})
}

func (s *Server) serveRoomConn(conn *websocket.Conn, member domain.Member) {
	// The hijacked conn keeps the http.Server read/write deadlines.
	_ = conn.SetDeadline(time.Time{})
	ctx, cancel := context.WithCancel(conn.Request().Context())
	defer cancel()
	defer func() {
		_ = conn.Close()
	}()
	logger := s.logger.With("room_id", member.RoomID, "member_id", member.ID)

	peer := newWSPeer(json.NewEncoder(conn))
	stop, err := s.app.Hub().Watch(ctx, member.RoomID, func(e hub.Event) {
		if !visibleTo(e, member.ID) {
			return
		}
		if err := peer.write(e); err != nil {
			cancel()
			return
		}
		if e.Type == hub.EventRoomClosed {
			cancel()
			_ = conn.Close()
		}
	})
	if err != nil {
		logger.Warn("room watch failed", "err", err)
		_ = writeWSError(peer, "UNAVAILABLE", "room channel unavailable")
		return
	}
	defer stop()
	if err := peer.write(serverFrame{Type: "welcome", Member: &member}); err != nil {
		return
	}
	logger.Info("room socket connected")
	defer logger.Info("room socket closed")

	limiter := rate.NewLimiter(s.frameRate, s.frameBurst)
	decoder := json.NewDecoder(conn)
	decodeErrors := 0
	for {
		var frame clientFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			decodeErrors++
			_ = writeWSError(peer, "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if !limiter.Allow() {
			_ = writeWSError(peer, "RESOURCE_EXHAUSTED", "rate limit exceeded")
			return
		}

		switch frame.Type {
		case "typing":
			if err := s.app.Typing(ctx, member.RoomID, member.ID); err != nil {
				if errors.Is(err, domain.ErrRoomClosed) {
					_ = writeWSError(peer, "FAILED_PRECONDITION", "room closed")
					return
				}
				logger.Warn("typing broadcast failed", "err", err)
			}
		case "ping":
			_ = peer.write(serverFrame{Type: "pong"})
		default:
			_ = writeWSError(peer, "INVALID_ARGUMENT", "unsupported frame type")
		}
	}
}

// visibleTo hides other members' assistant threads.
func visibleTo(e hub.Event, memberID string) bool {
	if e.Type != hub.EventChatPosted {
		return true
	}
	var payload hub.ChatPayload
	if err := e.Decode(&payload); err != nil {
		return false
	}
	if payload.Message.Channel != domain.ChannelAssistant {
		return true
	}
	return payload.Message.ThreadID == memberID
}
