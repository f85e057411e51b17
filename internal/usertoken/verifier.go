package usertoken

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

const (
	defaultIssuer       = "tripvote-auth"
	defaultAudience     = "tripvote-api"
	defaultLeeway       = 30 * time.Second
	defaultJWKSCacheTTL = 5 * time.Minute
	// defaultRefreshCooldown bounds JWKS fetches triggered by unknown key ids.
	defaultRefreshCooldown = 10 * time.Second
)

var errUnknownKey = errors.New("unknown token key")

// Config configures user access-token verification.
type Config struct {
	JWKSURL    string
	Issuer     string
	Audience   string
	Leeway     time.Duration
	HTTPClient *http.Client
}

// Claims are the access-token claims the planner reads.
type Claims struct {
	jwt.RegisteredClaims
	Nickname          string `json:"nickname,omitempty"`
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
}

// Subject is a verified token holder.
type Subject struct {
	UserID   string
	Nickname string
}

// Verifier checks RS256 access tokens issued by the external auth provider
// against its JWKS.
type Verifier struct {
	issuer     string
	audience   string
	leeway     time.Duration
	jwksURL    string
	httpClient *http.Client
	cooldown   time.Duration
	refreshes  singleflight.Group

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	keysExpire  time.Time
	lastRefresh time.Time
}

// NewVerifier fetches the JWKS once and returns a verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		return nil, errors.New("token verifier requires jwksURL")
	}
	v := &Verifier{
		issuer:     strings.TrimSpace(cfg.Issuer),
		audience:   strings.TrimSpace(cfg.Audience),
		leeway:     cfg.Leeway,
		jwksURL:    jwksURL,
		httpClient: cfg.HTTPClient,
		cooldown:   defaultRefreshCooldown,
	}
	if v.issuer == "" {
		v.issuer = defaultIssuer
	}
	if v.audience == "" {
		v.audience = defaultAudience
	}
	if v.leeway <= 0 {
		v.leeway = defaultLeeway
	}
	if v.httpClient == nil {
		v.httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	if err := v.refresh(context.Background()); err != nil {
		return nil, err
	}
	return v, nil
}

// Verify validates the token and returns the holder with a display name
// taken from the nickname, name or preferred_username claim.
func (v *Verifier) Verify(ctx context.Context, token string) (Subject, error) {
	claims, err := v.parse(token)
	if err != nil && (errors.Is(err, errUnknownKey) || v.keysExpired()) && v.mayRefresh() {
		if refreshErr := v.refresh(ctx); refreshErr != nil {
			return Subject{}, fmt.Errorf("refresh jwks: %w", refreshErr)
		}
		claims, err = v.parse(token)
	}
	if err != nil {
		return Subject{}, err
	}

	userID := strings.TrimSpace(claims.Subject)
	if userID == "" {
		return Subject{}, errors.New("token subject missing")
	}
	nickname := strings.TrimSpace(claims.Nickname)
	if nickname == "" {
		nickname = strings.TrimSpace(claims.Name)
	}
	if nickname == "" {
		nickname = strings.TrimSpace(claims.PreferredUsername)
	}
	return Subject{UserID: userID, Nickname: nickname}, nil
}

func (v *Verifier) parse(token string) (Claims, error) {
	var claims Claims
	v.mu.RLock()
	keys := v.keys
	v.mu.RUnlock()

	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := keys[strings.TrimSpace(kid)]
		if !ok {
			return nil, errUnknownKey
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return claims, err
	}
	if !parsed.Valid {
		return claims, errors.New("invalid token")
	}
	return claims, nil
}

func (v *Verifier) keysExpired() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return time.Now().After(v.keysExpire)
}

func (v *Verifier) mayRefresh() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return time.Since(v.lastRefresh) >= v.cooldown
}

// refresh replaces the key set. Concurrent callers share one fetch.
func (v *Verifier) refresh(ctx context.Context) error {
	_, err, _ := v.refreshes.Do("jwks", func() (any, error) {
		keys, ttl, err := v.fetch(ctx)
		v.mu.Lock()
		defer v.mu.Unlock()
		v.lastRefresh = time.Now()
		if err != nil {
			return nil, err
		}
		v.keys = keys
		v.keysExpire = v.lastRefresh.Add(ttl)
		return nil, nil
	})
	return err
}

func (v *Verifier) fetch(ctx context.Context) (map[string]*rsa.PublicKey, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}

	var payload struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, 0, fmt.Errorf("decode jwks: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(payload.Keys))
	for _, k := range payload.Keys {
		kid := strings.TrimSpace(k.Kid)
		if !strings.EqualFold(strings.TrimSpace(k.Kty), "RSA") || kid == "" {
			continue
		}
		if pub, err := parseRSAPublicKey(k.N, k.E); err == nil {
			keys[kid] = pub
		}
	}
	if len(keys) == 0 {
		return nil, 0, errors.New("jwks contains no usable rsa keys")
	}
	ttl := cacheMaxAge(resp.Header.Get("Cache-Control"))
	if ttl <= 0 {
		ttl = defaultJWKSCacheTTL
	}
	return keys, ttl, nil
}

func parseRSAPublicKey(nRaw, eRaw string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(nRaw))
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(eRaw))
	if err != nil {
		return nil, err
	}
	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	if n.Sign() <= 0 || !e.IsInt64() || e.Int64() <= 1 {
		return nil, errors.New("invalid rsa key")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// cacheMaxAge returns the max-age directive of a Cache-Control header, or 0.
func cacheMaxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		secs, err := strconv.Atoi(strings.Trim(value, `" `))
		if err != nil || secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	return 0
}
