package handler

import (
	"log/slog"
	"net/http"

	"github.com/MsAiBoWithStar/linkin-chat/internal/apperror"
	"github.com/MsAiBoWithStar/linkin-chat/internal/model"
	"github.com/MsAiBoWithStar/linkin-chat/internal/service"
)

type FriendHandler struct {
	friends *service.FriendService
	logger  *slog.Logger
}

func NewFriendHandler(friends *service.FriendService, logger *slog.Logger) *FriendHandler {
	return &FriendHandler{friends: friends, logger: logger}
}

// HandleList returns the caller's friends.
//
// HTTP: GET /api/friends
func (h *FriendHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	friends, err := h.friends.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, "list friends", err)
		return
	}
	writeJSON(w, http.StatusOK, friends)
}

// HandleSearchUsers looks people up by exact link code or nickname substring.
//
// HTTP: GET /api/users/search?link_code=12345678&nickname=ali
func (h *FriendHandler) HandleSearchUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentUser(w, r); !ok {
		return
	}

	q := r.URL.Query()
	users, err := h.friends.SearchUsers(r.Context(), q.Get("link_code"), q.Get("nickname"))
	if err != nil {
		writeServiceError(w, h.logger, "search users", err)
		return
	}

	out := make([]model.UserSummary, 0, len(users))
	for i := range users {
		out = append(out, users[i].Summary())
	}
	writeJSON(w, http.StatusOK, out)
}

type addFriendRequest struct {
	FriendID int64 `json:"friend_id"`
}

// HandleAdd creates a friendship in both directions at once.
//
// HTTP: POST /api/friends
func (h *FriendHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req addFriendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.FriendID <= 0 {
		writeError(w, apperror.ValidationFailed("friend_id", "friend_id is required"))
		return
	}

	if err := h.friends.Add(r.Context(), userID, req.FriendID); err != nil {
		writeServiceError(w, h.logger, "add friend", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"friend_id": req.FriendID})
}

// HandleRemove ends a friendship. ?clear_history=true also deletes every
// private message between the two.
//
// HTTP: DELETE /api/friends/{friendID}
func (h *FriendHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	friendID, err := pathID(r, "friendID")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.friends.Remove(r.Context(), userID, friendID, queryBool(r, "clear_history")); err != nil {
		writeServiceError(w, h.logger, "remove friend", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
