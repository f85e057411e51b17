package server

import (
	"net/http"
	"strconv"
	"strings"

	"tripvote/pkg/domain"
	"tripvote/pkg/placeref"
	"tripvote/pkg/vote"
	"tripvote/services/planner/internal/app"
)

type joinResponse struct {
	Room    *domain.Room  `json:"room,omitempty"`
	Member  domain.Member `json:"member"`
	Created bool          `json:"created"`
}

type createRoomResponse struct {
	Room   domain.Room   `json:"room"`
	Member domain.Member `json:"member"`
}

type reorderRequest struct {
	PlaceIDs []string `json:"placeIds"`
}

type voteRequest struct {
	SubjectID   string `json:"subjectId"`
	SubjectKind string `json:"subjectKind"`
	Value       string `json:"value"`
}

type voteResponse struct {
	SubjectID   string             `json:"subjectId"`
	SubjectKind domain.SubjectKind `json:"subjectKind"`
	Likes       int                `json:"likes"`
	Dislikes    int                `json:"dislikes"`
	// Value is empty when the vote was withdrawn.
	Value string `json:"value"`
}

type placeRequest struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Address  string  `json:"address"`
	Category string  `json:"category"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

func (p placeRequest) raw(source domain.PlaceSource) placeref.Raw {
	return placeref.Raw{
		ID:       p.ID,
		Name:     p.Name,
		Address:  p.Address,
		Category: p.Category,
		Lat:      p.Lat,
		Lng:      p.Lng,
		Source:   source,
	}
}

type createRoomRequest struct {
	Title     string         `json:"title"`
	TripDate  string         `json:"tripDate"`
	StartTime string         `json:"startTime"`
	EndTime   string         `json:"endTime"`
	BudgetMin int            `json:"budgetMin"`
	BudgetMax int            `json:"budgetMax"`
	Districts []string       `json:"districts"`
	MustVisit []placeRequest `json:"mustVisit"`
}

type keepMoveRequest struct {
	RouteID string `json:"routeId"`
	// Index is the insert position; nil appends.
	Index *int `json:"index"`
}

type messageRequest struct {
	Channel string `json:"channel"`
	Content string `json:"content"`
}

// room handlers
func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	var req createRoomRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	params := app.CreateRoomParams{
		Title:     req.Title,
		TripDate:  req.TripDate,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		BudgetMin: req.BudgetMin,
		BudgetMax: req.BudgetMax,
		Districts: req.Districts,
	}
	for _, p := range req.MustVisit {
		params.MustVisit = append(params.MustVisit, p.raw(domain.PlaceFromManual))
	}
	room, owner, err := s.app.CreateRoom(r.Context(), identity, params)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createRoomResponse{Room: room, Member: owner})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request, member domain.Member) {
	snap, err := s.app.Snapshot(r.Context(), member.RoomID, member.ID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	member, created, err := s.app.JoinRoom(r.Context(), r.PathValue("id"), identity)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, joinStatus(created), joinResponse{Member: member, Created: created})
}

func (s *Server) handleJoinInvite(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	room, member, created, err := s.app.JoinByInvite(r.Context(), r.PathValue("code"), identity)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, joinStatus(created), joinResponse{Room: &room, Member: member, Created: created})
}

func joinStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request, member domain.Member) {
	if err := s.app.LeaveRoom(r.Context(), member.RoomID, member.ID); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request, member domain.Member) {
	room, err := s.app.CloseRoom(r.Context(), member.RoomID, member.ID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "planner.room.close", "success", "room_id", room.ID, "member_id", member.ID)
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handlePreferences(w http.ResponseWriter, r *http.Request, member domain.Member) {
	var prefs domain.Preferences
	if err := decodeBody(r, &prefs); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	updated, err := s.app.SubmitPreferences(r.Context(), member.RoomID, member.ID, prefs)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleTyping(w http.ResponseWriter, r *http.Request, member domain.Member) {
	if err := s.app.Typing(r.Context(), member.RoomID, member.ID); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// route handlers
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, member domain.Member) {
	if !s.allowRate(w, r, s.generateLimiter, "generate|"+member.RoomID, "too many generation requests") {
		return
	}
	res, err := s.app.RequestRouteGeneration(r.Context(), member.RoomID, member.ID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request, member domain.Member) {
	selected, err := s.app.SelectFinalRoute(r.Context(), member.RoomID, r.PathValue("routeId"), member.ID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, selected)
}

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request, member domain.Member) {
	var req reorderRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	updated, err := s.app.ReorderRoute(r.Context(), member.RoomID, r.PathValue("routeId"), req.PlaceIDs, member.ID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request, member domain.Member) {
	var req voteRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	value, err := domain.ParseAPIVote(req.Value)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	kind := domain.SubjectKind(strings.ToLower(strings.TrimSpace(req.SubjectKind)))
	res, err := s.app.ApplyVote(r.Context(), member.RoomID, req.SubjectID, kind, member.ID, value)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVoteResponse(res))
}

func toVoteResponse(res vote.Result) voteResponse {
	out := voteResponse{
		SubjectID:   res.SubjectID,
		SubjectKind: res.SubjectKind,
		Likes:       res.Likes,
		Dislikes:    res.Dislikes,
	}
	if res.Resolved != nil {
		out.Value = res.Resolved.APIString()
	}
	return out
}

// keep list handlers
func (s *Server) handleKeepAdd(w http.ResponseWriter, r *http.Request, member domain.Member) {
	var req placeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	kept, err := s.app.AddToKeep(r.Context(), member.RoomID, req.raw(domain.PlaceFromManual), member.ID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, kept)
}

func (s *Server) handleKeepMove(w http.ResponseWriter, r *http.Request, member domain.Member) {
	var req keepMoveRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	index := -1
	if req.Index != nil {
		index = *req.Index
	}
	updated, err := s.app.MoveToRoute(r.Context(), member.RoomID, req.RouteID, r.PathValue("placeId"), index, member.ID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleRoutePlaceKeep(w http.ResponseWriter, r *http.Request, member domain.Member) {
	place, err := s.app.MoveToKeep(r.Context(), member.RoomID, r.PathValue("routeId"), placeref.Raw{ID: r.PathValue("placeId")}, member.ID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, place)
}

// chat handlers
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, member domain.Member) {
	channel := channelParam(r.URL.Query().Get("channel"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.app.ListChatMessages(r.Context(), member.RoomID, channel, member.ID, limit)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request, member domain.Member) {
	var req messageRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	raw := r.URL.Query().Get("channel")
	if raw == "" {
		raw = req.Channel
	}
	channel := channelParam(raw)
	if channel == domain.ChannelAssistant {
		if !s.allowRate(w, r, s.chatLimiter, "assistant|"+member.ID, "too many assistant requests") {
			return
		}
	}
	res, err := s.app.PostChatMessage(r.Context(), member.RoomID, channel, member.ID, req.Content)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func channelParam(raw string) domain.Channel {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return domain.ChannelTeam
	}
	return domain.Channel(raw)
}
