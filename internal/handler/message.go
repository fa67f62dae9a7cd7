package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MsAiBoWithStar/linkin-chat/internal/apperror"
	"github.com/MsAiBoWithStar/linkin-chat/internal/model"
	"github.com/MsAiBoWithStar/linkin-chat/internal/repository"
	"github.com/MsAiBoWithStar/linkin-chat/internal/service"
)

// MessageHandler serves sending, listing, searching and read-tracking.
// Every message leaves this handler as a model.MessageView, with the
// sender's summary attached through one batched lookup per response.
type MessageHandler struct {
	messages *service.MessageService
	reads    *service.ReadService
	accounts *service.AccountService
	logger   *slog.Logger
}

func NewMessageHandler(
	messages *service.MessageService,
	reads *service.ReadService,
	accounts *service.AccountService,
	logger *slog.Logger,
) *MessageHandler {
	return &MessageHandler{
		messages: messages,
		reads:    reads,
		accounts: accounts,
		logger:   logger,
	}
}

// sendRequest is shared by both send endpoints. FilePath and FileName come
// verbatim from a prior /api/upload response.
type sendRequest struct {
	ToUser   json.RawMessage `json:"to_user"` // user id (number) or link code (string)
	GroupID  int64           `json:"group_id"`
	Content  string          `json:"content"`
	FilePath string          `json:"file_path"`
	FileName string          `json:"file_name"`
}

func (req sendRequest) input() service.MessageInput {
	in := service.MessageInput{Content: req.Content}
	if req.FilePath != "" || req.FileName != "" {
		in.File = &model.FileRef{Path: req.FilePath, Name: req.FileName}
	}
	return in
}

// resolveRecipient turns to_user into a user id. A JSON number is an id; a
// JSON string is a link code.
func (h *MessageHandler) resolveRecipient(ctx context.Context, raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, apperror.ValidationFailed("to_user", "to_user is required")
	}

	if raw[0] == '"' {
		var code string
		if err := json.Unmarshal(raw, &code); err != nil {
			return 0, apperror.ValidationFailed("to_user", "to_user must be a user id or link code")
		}
		user, err := h.accounts.GetUserByLinkCode(ctx, strings.TrimSpace(code))
		if err != nil {
			return 0, err
		}
		return user.ID, nil
	}

	var id int64
	if err := json.Unmarshal(raw, &id); err != nil || id <= 0 {
		return 0, apperror.ValidationFailed("to_user", "to_user must be a user id or link code")
	}
	return id, nil
}

// HandleSendPrivate sends a direct message to a friend.
//
// HTTP: POST /api/messages/private
func (h *MessageHandler) HandleSendPrivate(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req sendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	receiverID, err := h.resolveRecipient(r.Context(), req.ToUser)
	if err != nil {
		writeServiceError(w, h.logger, "send private message", err)
		return
	}

	msg, err := h.messages.SendPrivate(r.Context(), userID, receiverID, req.input())
	if err != nil {
		writeServiceError(w, h.logger, "send private message", err)
		return
	}
	h.writeMessages(w, r, http.StatusCreated, []model.Message{*msg}, true)
}

// HandleSendGroup posts a message to a group the caller belongs to.
//
// HTTP: POST /api/messages/group
func (h *MessageHandler) HandleSendGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req sendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.GroupID <= 0 {
		writeError(w, apperror.ValidationFailed("group_id", "group_id is required"))
		return
	}

	msg, err := h.messages.SendGroup(r.Context(), userID, req.GroupID, req.input())
	if err != nil {
		writeServiceError(w, h.logger, "send group message", err)
		return
	}
	h.writeMessages(w, r, http.StatusCreated, []model.Message{*msg}, true)
}

// listOptions reads ?limit= and ?offset=. Out-of-range values are clamped
// by the service.
func listOptions(r *http.Request) (repository.ListOptions, error) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		return repository.ListOptions{}, err
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		return repository.ListOptions{}, err
	}
	return repository.ListOptions{Limit: limit, Offset: offset}, nil
}

// HandleListPrivate returns one page of the conversation with a peer,
// oldest first.
//
// HTTP: GET /api/messages/private/{peerID}?unread_only=true&limit=100&offset=0
func (h *MessageHandler) HandleListPrivate(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	peerID, err := pathID(r, "peerID")
	if err != nil {
		writeError(w, err)
		return
	}
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}

	msgs, err := h.messages.ListPrivate(r.Context(), userID, peerID, queryBool(r, "unread_only"), opts)
	if err != nil {
		writeServiceError(w, h.logger, "list private messages", err)
		return
	}
	h.writeMessages(w, r, http.StatusOK, msgs, false)
}

// HandleListGroup returns one page of a group's history, oldest first.
// Non-members get an empty list.
//
// HTTP: GET /api/messages/group/{groupID}?unread_only=true&limit=100&offset=0
func (h *MessageHandler) HandleListGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	groupID, err := pathID(r, "groupID")
	if err != nil {
		writeError(w, err)
		return
	}
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}

	msgs, err := h.messages.ListGroup(r.Context(), userID, groupID, queryBool(r, "unread_only"), opts)
	if err != nil {
		writeServiceError(w, h.logger, "list group messages", err)
		return
	}
	h.writeMessages(w, r, http.StatusOK, msgs, false)
}

// HandleSearch finds text messages by substring across the caller's chats.
//
// HTTP: GET /api/messages/search?q=hello&limit=50
func (h *MessageHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, err)
		return
	}

	msgs, err := h.messages.Search(r.Context(), userID, r.URL.Query().Get("q"), limit)
	if err != nil {
		writeServiceError(w, h.logger, "search messages", err)
		return
	}
	h.writeMessages(w, r, http.StatusOK, msgs, false)
}

// writeMessages attaches sender summaries and writes the views. With single
// set, the body is one object instead of a list.
func (h *MessageHandler) writeMessages(w http.ResponseWriter, r *http.Request, status int, msgs []model.Message, single bool) {
	ids := make([]int64, 0, len(msgs))
	for i := range msgs {
		ids = append(ids, msgs[i].SenderID)
	}
	senders, err := h.accounts.Summaries(r.Context(), ids)
	if err != nil {
		// The messages are still worth returning without names.
		h.logger.Warn("loading sender summaries failed", slog.String("error", err.Error()))
		senders = nil
	}

	views := make([]model.MessageView, 0, len(msgs))
	for i := range msgs {
		var sender *model.UserSummary
		if s, ok := senders[msgs[i].SenderID]; ok {
			sender = &s
		}
		views = append(views, msgs[i].View(sender))
	}

	if single && len(views) == 1 {
		writeJSON(w, status, views[0])
		return
	}
	writeJSON(w, status, views)
}

// HandleUnreadSummary lists every chat with unread messages.
//
// HTTP: GET /api/messages/unread
func (h *MessageHandler) HandleUnreadSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	summary, err := h.reads.UnreadSummary(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, "unread summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleUnreadCount returns the unread count of one chat.
//
// HTTP: GET /api/messages/unread/{chatType}/{chatID}
func (h *MessageHandler) HandleUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	chatType, err := model.ParseChatType(chi.URLParam(r, "chatType"))
	if err != nil {
		writeError(w, apperror.ValidationFailed("chat_type", "chat_type must be private or group"))
		return
	}
	chatID, err := pathID(r, "chatID")
	if err != nil {
		writeError(w, err)
		return
	}

	n, err := h.reads.UnreadCount(r.Context(), userID, chatType, chatID)
	if err != nil {
		writeServiceError(w, h.logger, "unread count", err)
		return
	}
	writeJSON(w, http.StatusOK, model.UnreadEntry{ChatType: chatType, ChatID: chatID, Unread: n})
}

type markReadRequest struct {
	ChatType string `json:"chat_type"`
	ChatID   int64  `json:"chat_id"`
}

// HandleMarkRead marks a whole chat as read for the caller.
//
// HTTP: POST /api/messages/read
func (h *MessageHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req markReadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	chatType, err := model.ParseChatType(req.ChatType)
	if err != nil {
		writeError(w, apperror.ValidationFailed("chat_type", "chat_type must be private or group"))
		return
	}
	if req.ChatID <= 0 {
		writeError(w, apperror.ValidationFailed("chat_id", "chat_id is required"))
		return
	}

	if err := h.reads.MarkRead(r.Context(), userID, chatType, req.ChatID); err != nil {
		writeServiceError(w, h.logger, "mark read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
