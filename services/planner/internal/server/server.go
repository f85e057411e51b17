package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
	"tripvote/internal/ratelimit"
	"tripvote/internal/usertoken"
	"tripvote/internal/util"
	"tripvote/pkg/domain"
	"tripvote/services/planner/internal/app"
)

const maxBodyBytes = 1 << 20

var errUnauthenticated = errors.New("unauthenticated")

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	TokenVerifier  *usertoken.Verifier
	TrustedProxies *util.TrustedProxies
	CORSOrigins    util.CORSOrigins
	Logger         *slog.Logger

	RedisAddr     string
	RedisPassword string
	// A zero limit disables the limiter.
	GenerateRateLimitPerMinute int
	ChatRateLimitPerMinute     int

	WSFramesPerSecond float64
	WSFrameBurst      int
}

// Server exposes the room API and the room websocket.
type Server struct {
	app             *app.App
	tokenVerifier   *usertoken.Verifier
	trusted         *util.TrustedProxies
	origins         util.CORSOrigins
	logger          *slog.Logger
	mux             *http.ServeMux
	generateLimiter *ratelimit.FixedWindowLimiter
	chatLimiter     *ratelimit.FixedWindowLimiter
	redisClient     *redis.Client
	frameRate       rate.Limit
	frameBurst      int
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server requires an app")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var redisClient *redis.Client
	if cfg.GenerateRateLimitPerMinute > 0 || cfg.ChatRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return nil, errors.New("rate limits require a redis addr")
		}
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		if limit <= 0 {
			return nil, nil
		}
		limiter, err := ratelimit.NewFixedWindowLimiter(redisClient, "tripvote:planner:ratelimit:"+name, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	generateLimiter, err := newLimiter("generate", cfg.GenerateRateLimitPerMinute)
	if err != nil {
		return nil, err
	}
	chatLimiter, err := newLimiter("chat", cfg.ChatRateLimitPerMinute)
	if err != nil {
		return nil, err
	}
	frameRate := rate.Limit(cfg.WSFramesPerSecond)
	if cfg.WSFramesPerSecond <= 0 {
		frameRate = 5
	}
	frameBurst := cfg.WSFrameBurst
	if frameBurst <= 0 {
		frameBurst = 10
	}
	s := &Server{
		app:             cfg.App,
		tokenVerifier:   cfg.TokenVerifier,
		trusted:         cfg.TrustedProxies,
		origins:         cfg.CORSOrigins,
		logger:          logger,
		mux:             http.NewServeMux(),
		generateLimiter: generateLimiter,
		chatLimiter:     chatLimiter,
		redisClient:     redisClient,
		frameRate:       frameRate,
		frameBurst:      frameBurst,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("planner", util.WithSecurityHeaders(util.WithCORS(s.origins, s.mux))))
}

// Close releases the limiter connection pool.
func (s *Server) Close() error {
	if s.redisClient == nil {
		return nil
	}
	return s.redisClient.Close()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// rooms
	s.mux.Handle("POST /rooms", s.identified(s.handleCreateRoom))
	s.mux.Handle("GET /rooms/{id}", s.roomMember(s.handleSnapshot))
	s.mux.Handle("POST /rooms/{id}/join", s.identified(s.handleJoin))
	s.mux.Handle("POST /invites/{code}/join", s.identified(s.handleJoinInvite))
	s.mux.Handle("POST /rooms/{id}/leave", s.roomMember(s.handleLeave))
	s.mux.Handle("POST /rooms/{id}/close", s.roomMember(s.handleClose))
	s.mux.Handle("PUT /rooms/{id}/preferences", s.roomMember(s.handlePreferences))
	s.mux.Handle("POST /rooms/{id}/typing", s.roomMember(s.handleTyping))

	// routes & votes
	s.mux.Handle("POST /rooms/{id}/routes/generate", s.roomMember(s.handleGenerate))
	s.mux.Handle("POST /rooms/{id}/routes/{routeId}/select", s.roomMember(s.handleSelect))
	s.mux.Handle("PUT /rooms/{id}/routes/{routeId}/order", s.roomMember(s.handleReorder))
	s.mux.Handle("POST /rooms/{id}/votes", s.roomMember(s.handleVote))

	// keep list
	s.mux.Handle("POST /rooms/{id}/keep", s.roomMember(s.handleKeepAdd))
	s.mux.Handle("POST /rooms/{id}/keep/{placeId}/move", s.roomMember(s.handleKeepMove))
	s.mux.Handle("POST /rooms/{id}/routes/{routeId}/places/{placeId}/keep", s.roomMember(s.handleRoutePlaceKeep))

	// chat
	s.mux.Handle("GET /rooms/{id}/messages", s.roomMember(s.handleListMessages))
	s.mux.Handle("POST /rooms/{id}/messages", s.roomMember(s.handlePostMessage))

	s.mux.Handle("GET /rooms/{id}/ws", s.roomSocket())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// identity wrappers
type identityHandler func(http.ResponseWriter, *http.Request, domain.Identity)

type memberHandler func(http.ResponseWriter, *http.Request, domain.Member)

func (s *Server) identified(next identityHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.identity(r, false)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, identity)
	})
}

// roomMember resolves the caller to their member row in the {id} room.
func (s *Server) roomMember(next memberHandler) http.Handler {
	return s.identified(func(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
		member, err := s.app.ResolveMember(r.Context(), r.PathValue("id"), identity)
		if err != nil {
			if errors.Is(err, domain.ErrForbidden) {
				s.audit(r, "planner.member.resolve", "fail", "room_id", r.PathValue("id"), "identity", identity.Key())
			}
			s.writeAppError(w, r, err)
			return
		}
		next(w, r, member)
	})
}

// identity reads a verified bearer token or the anonymous identity headers.
// Browsers cannot set headers on a websocket upgrade, so sockets may pass
// the same values as query parameters.
func (s *Server) identity(r *http.Request, allowQuery bool) (domain.Identity, error) {
	token, hasToken := bearerToken(r)
	anonID := strings.TrimSpace(r.Header.Get("X-Anonymous-Id"))
	nickname := strings.TrimSpace(r.Header.Get("X-Nickname"))
	if allowQuery {
		q := r.URL.Query()
		if !hasToken {
			token = strings.TrimSpace(q.Get("access_token"))
			hasToken = token != ""
		}
		if anonID == "" {
			anonID = strings.TrimSpace(q.Get("anonymousId"))
		}
		if nickname == "" {
			nickname = strings.TrimSpace(q.Get("nickname"))
		}
	}

	if hasToken {
		if s.tokenVerifier == nil {
			s.audit(r, "planner.token.verify", "fail", "reason", "verifier_not_configured")
			return domain.Identity{}, errUnauthenticated
		}
		subject, err := s.tokenVerifier.Verify(r.Context(), token)
		if err != nil {
			s.audit(r, "planner.token.verify", "fail", "reason", "invalid_signature_or_claims")
			return domain.Identity{}, errUnauthenticated
		}
		s.audit(r, "planner.token.verify", "success", "user_id", subject.UserID)
		if nickname == "" {
			nickname = subject.Nickname
		}
		return domain.Identity{UserID: subject.UserID, Nickname: nickname}, nil
	}
	if anonID == "" {
		s.audit(r, "planner.identity", "fail", "reason", "missing_identity")
		return domain.Identity{}, errUnauthenticated
	}
	return domain.Identity{AnonymousID: anonID, Nickname: nickname}, nil
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if authHeader == "" {
		return "", false
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		slog.Warn("missing bearer prefix", "path", r.URL.Path)
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		slog.Warn("empty bearer token", "path", r.URL.Path)
		return "", false
	}
	return token, true
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid body", domain.ErrInvalidInput)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps app errors onto status codes. Internal failures are
// logged and hidden from the caller.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrInvalidSubject):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrRoomClosed):
		writeError(w, http.StatusConflict, "room closed")
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrTransportUnavailable):
		writeError(w, http.StatusServiceUnavailable, "realtime transport unavailable")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trusted),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

// allowRate spends one unit of key's quota. A nil limiter always allows.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, key, msg string) bool {
	if limiter == nil {
		return true
	}
	d := limiter.Allow(r.Context(), key)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if d.Allowed {
		return true
	}
	s.audit(r, "planner.ratelimit", "fail", "key", key)
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}
