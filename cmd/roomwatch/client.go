package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/websocket"
	"tripvote/pkg/domain"
)

// snapshot is the subset of the room snapshot roomwatch renders.
type snapshot struct {
	Room     domain.Room          `json:"room"`
	Viewer   domain.Member        `json:"viewer"`
	Members  []domain.Member      `json:"members"`
	Routes   []domain.Route       `json:"routes"`
	Tallies  []domain.Tally       `json:"tallies"`
	Messages []domain.ChatMessage `json:"messages"`
}

type voteResult struct {
	SubjectID string `json:"subjectId"`
	Likes     int    `json:"likes"`
	Dislikes  int    `json:"dislikes"`
	Value     string `json:"value"`
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("planner returned %d: %s", e.Status, e.Message)
}

// client talks to the planner HTTP API as one identity.
type client struct {
	base     string
	token    string
	anonID   string
	nickname string
	http     *http.Client
}

func newClient(base, token, anonID, nickname string) *client {
	return &client{
		base:     strings.TrimRight(base, "/"),
		token:    strings.TrimSpace(token),
		anonID:   strings.TrimSpace(anonID),
		nickname: strings.TrimSpace(nickname),
		http:     &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *client) identify(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	if c.anonID != "" {
		h.Set("X-Anonymous-Id", c.anonID)
	}
	if c.nickname != "" {
		h.Set("X-Nickname", c.nickname)
	}
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.identify(req.Header)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return &apiError{Status: resp.StatusCode, Message: payload.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *client) joinInvite(ctx context.Context, code string) (string, error) {
	var res struct {
		Room domain.Room `json:"room"`
	}
	if err := c.do(ctx, http.MethodPost, "/invites/"+url.PathEscape(code)+"/join", nil, &res); err != nil {
		return "", err
	}
	return res.Room.ID, nil
}

func (c *client) join(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/join", nil, nil)
}

func (c *client) snapshot(ctx context.Context, roomID string) (snapshot, error) {
	var snap snapshot
	err := c.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(roomID), nil, &snap)
	return snap, err
}

func (c *client) say(ctx context.Context, roomID, content string) error {
	return c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/messages", map[string]string{"content": content}, nil)
}

func (c *client) vote(ctx context.Context, roomID, routeID, value string) (voteResult, error) {
	var res voteResult
	err := c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/votes", map[string]string{
		"subjectId":   routeID,
		"subjectKind": string(domain.SubjectRoute),
		"value":       value,
	}, &res)
	return res, err
}

func (c *client) dial(roomID string) (*websocket.Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(c.base, "http") + "/rooms/" + url.PathEscape(roomID) + "/ws"
	cfg, err := websocket.NewConfig(wsURL, c.base)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	c.identify(cfg.Header)
	return websocket.DialConfig(cfg)
}

func tallyOf(res voteResult) domain.Tally {
	return domain.Tally{SubjectID: res.SubjectID, SubjectKind: domain.SubjectRoute, Likes: res.Likes, Dislikes: res.Dislikes}
}
