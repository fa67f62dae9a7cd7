package handler

import (
	"log/slog"
	"net/http"

	"github.com/MsAiBoWithStar/linkin-chat/internal/apperror"
	"github.com/MsAiBoWithStar/linkin-chat/internal/model"
	"github.com/MsAiBoWithStar/linkin-chat/internal/service"
)

type GroupHandler struct {
	groups   *service.GroupService
	accounts *service.AccountService
	logger   *slog.Logger
}

func NewGroupHandler(groups *service.GroupService, accounts *service.AccountService, logger *slog.Logger) *GroupHandler {
	return &GroupHandler{groups: groups, accounts: accounts, logger: logger}
}

// HandleList returns the groups the caller belongs to.
//
// HTTP: GET /api/groups
func (h *GroupHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	groups, err := h.groups.GroupsOf(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, "list groups", err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

type createGroupRequest struct {
	Name      string  `json:"group_name"`
	Avatar    string  `json:"group_avatar"`
	MemberIDs []int64 `json:"member_ids"`
}

// HandleCreate makes a group. Candidates who are not the caller's friends
// are skipped and reported in rejected_member_ids.
//
// HTTP: POST /api/groups
func (h *GroupHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req createGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.groups.Create(r.Context(), userID, req.Name, req.Avatar, req.MemberIDs)
	if err != nil {
		writeServiceError(w, h.logger, "create group", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// memberView is a roster row with the member's display summary.
type memberView struct {
	model.GroupMember
	User *model.UserSummary `json:"user"`
}

// HandleMembers lists a group's roster. Only members may look.
//
// HTTP: GET /api/groups/{groupID}/members
func (h *GroupHandler) HandleMembers(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	groupID, err := pathID(r, "groupID")
	if err != nil {
		writeError(w, err)
		return
	}

	members, err := h.groups.Members(r.Context(), userID, groupID)
	if err != nil {
		writeServiceError(w, h.logger, "list members", err)
		return
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	users, err := h.accounts.Summaries(r.Context(), ids)
	if err != nil {
		writeServiceError(w, h.logger, "list members", err)
		return
	}

	out := make([]memberView, 0, len(members))
	for _, m := range members {
		v := memberView{GroupMember: m}
		if u, ok := users[m.UserID]; ok {
			v.User = &u
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

type targetRequest struct {
	UserID int64 `json:"user_id"`
}

func (h *GroupHandler) decodeTarget(w http.ResponseWriter, r *http.Request) (groupID, targetID int64, ok bool) {
	groupID, err := pathID(r, "groupID")
	if err != nil {
		writeError(w, err)
		return 0, 0, false
	}
	var req targetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return 0, 0, false
	}
	if req.UserID <= 0 {
		writeError(w, apperror.ValidationFailed("user_id", "user_id is required"))
		return 0, 0, false
	}
	return groupID, req.UserID, true
}

// HandleInvite adds one of the caller's friends to the group.
//
// HTTP: POST /api/groups/{groupID}/invite
func (h *GroupHandler) HandleInvite(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	groupID, targetID, ok := h.decodeTarget(w, r)
	if !ok {
		return
	}

	if err := h.groups.Invite(r.Context(), userID, groupID, targetID); err != nil {
		writeServiceError(w, h.logger, "invite member", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleKick removes a member.
//
// HTTP: POST /api/groups/{groupID}/kick
func (h *GroupHandler) HandleKick(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	groupID, targetID, ok := h.decodeTarget(w, r)
	if !ok {
		return
	}

	if err := h.groups.Kick(r.Context(), userID, groupID, targetID); err != nil {
		writeServiceError(w, h.logger, "kick member", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDissolve deletes the group with its history and read cursors.
//
// HTTP: DELETE /api/groups/{groupID}
func (h *GroupHandler) HandleDissolve(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	groupID, err := pathID(r, "groupID")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.groups.Dissolve(r.Context(), userID, groupID); err != nil {
		writeServiceError(w, h.logger, "dissolve group", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setRoleRequest struct {
	Role model.Role `json:"role"`
}

// HandleSetRole promotes a member to admin or demotes an admin.
//
// HTTP: PUT /api/groups/{groupID}/members/{userID}/role
func (h *GroupHandler) HandleSetRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	groupID, err := pathID(r, "groupID")
	if err != nil {
		writeError(w, err)
		return
	}
	targetID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req setRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.groups.SetRole(r.Context(), userID, groupID, targetID, req.Role); err != nil {
		writeServiceError(w, h.logger, "set role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
