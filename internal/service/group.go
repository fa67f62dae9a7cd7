package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/MsAiBoWithStar/linkin-chat/internal/apperror"
	"github.com/MsAiBoWithStar/linkin-chat/internal/model"
	"github.com/MsAiBoWithStar/linkin-chat/internal/repository"
)

const MaxGroupNameLength = 128

// GroupService manages groups, their rosters and member roles.
//
// ROLE RULES:
//
//	owner  → exactly one per group; may invite, kick anyone but themselves,
//	         appoint admins and dissolve the group
//	admin  → may invite, and kick plain members
//	member → may do neither
type GroupService struct {
	store  repository.Store
	notify Notifier
	logger *slog.Logger
}

func NewGroupService(store repository.Store, notify Notifier, logger *slog.Logger) *GroupService {
	return &GroupService{store: store, notify: notify, logger: logger}
}

// CreateGroupResult reports what Create did with each candidate member.
// Candidates that are not the owner's friends are left out of the group and
// listed in RejectedMemberIDs; the call itself still succeeds.
type CreateGroupResult struct {
	Group             *model.Group `json:"group"`
	AddedMemberIDs    []int64      `json:"member_ids"`
	RejectedMemberIDs []int64      `json:"rejected_member_ids"`
}

// Create makes a new group owned by ownerID and adds every candidate who is
// a friend of the owner. The owner appearing among the candidates is ignored.
func (s *GroupService) Create(ctx context.Context, ownerID int64, name, avatar string, candidateIDs []int64) (*CreateGroupResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperror.ValidationFailed("group_name", "group name is required")
	}
	if utf8.RuneCountInString(name) > MaxGroupNameLength {
		return nil, apperror.ValidationFailed("group_name",
			fmt.Sprintf("group name must be %d characters or less", MaxGroupNameLength))
	}

	result := &CreateGroupResult{
		Group:             &model.Group{Name: name, Avatar: strings.TrimSpace(avatar), OwnerID: ownerID},
		AddedMemberIDs:    []int64{},
		RejectedMemberIDs: []int64{},
	}

	err := s.store.InTx(ctx, func(q repository.Queries) error {
		if err := q.CreateGroup(ctx, result.Group); err != nil {
			return err
		}
		owner := &model.GroupMember{GroupID: result.Group.ID, UserID: ownerID, Role: model.RoleOwner}
		if err := q.AddMember(ctx, owner); err != nil {
			return err
		}

		seen := map[int64]bool{ownerID: true}
		for _, id := range candidateIDs {
			if seen[id] {
				continue
			}
			seen[id] = true

			ok, err := q.FriendEdgeExists(ctx, ownerID, id)
			if err != nil {
				return err
			}
			if !ok {
				result.RejectedMemberIDs = append(result.RejectedMemberIDs, id)
				continue
			}
			if err := q.AddMember(ctx, &model.GroupMember{GroupID: result.Group.ID, UserID: id, Role: model.RoleMember}); err != nil {
				return err
			}
			result.AddedMemberIDs = append(result.AddedMemberIDs, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("service/group: creating group for %d: %w", ownerID, err)
	}

	s.logger.Info("group created",
		slog.Int64("groupID", result.Group.ID),
		slog.Int64("ownerID", ownerID),
		slog.Int("members", len(result.AddedMemberIDs)+1),
		slog.Int("rejected", len(result.RejectedMemberIDs)),
	)

	s.notify.GroupAdded(ctx, result.Group, append([]int64{ownerID}, result.AddedMemberIDs...))
	return result, nil
}

// Invite adds targetID to the group as a plain member.
//
// Checks, in order: the operator is a member (not_member), holds owner or
// admin (forbidden), the target is not already in (already_member), and the
// operator and target are friends (not_friend).
func (s *GroupService) Invite(ctx context.Context, operatorID, groupID, targetID int64) error {
	var group *model.Group
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		var err error
		if group, err = q.GetGroup(ctx, groupID); err != nil {
			return err
		}

		role, isMember, err := roleOf(ctx, q, groupID, operatorID)
		if err != nil {
			return err
		}
		if !isMember {
			return apperror.Forbidden(apperror.ReasonNotMember, "you are not a member of this group")
		}
		if !role.CanManage() {
			return apperror.Forbidden(apperror.ReasonForbidden, "only the owner or an admin can invite")
		}

		_, targetIn, err := roleOf(ctx, q, groupID, targetID)
		if err != nil {
			return err
		}
		if targetIn {
			return apperror.Conflict(apperror.ReasonAlreadyMember, "user is already in this group")
		}

		friends, err := isFriend(ctx, q, operatorID, targetID)
		if err != nil {
			return err
		}
		if !friends {
			return apperror.Forbidden(apperror.ReasonNotFriend, "you can only invite your friends")
		}

		return q.AddMember(ctx, &model.GroupMember{GroupID: groupID, UserID: targetID, Role: model.RoleMember})
	})
	if err != nil {
		return fmt.Errorf("service/group: %d inviting %d to %d: %w", operatorID, targetID, groupID, err)
	}

	s.logger.Info("member invited",
		slog.Int64("groupID", groupID),
		slog.Int64("operatorID", operatorID),
		slog.Int64("targetID", targetID),
	)

	s.notify.GroupAdded(ctx, group, []int64{targetID})
	return nil
}

// Kick removes targetID from the group.
//
// The operator's own standing is checked before the target is looked up, so
// a plain member always gets a permission error regardless of who they name.
// After that: the target must be in the group (target_not_member), must not
// be the owner (cannot_kick_owner), and an admin cannot kick another admin
// (peers_cannot_kick).
func (s *GroupService) Kick(ctx context.Context, operatorID, groupID, targetID int64) error {
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		if _, err := q.GetGroup(ctx, groupID); err != nil {
			return err
		}

		opRole, isMember, err := roleOf(ctx, q, groupID, operatorID)
		if err != nil {
			return err
		}
		if !isMember {
			return apperror.Forbidden(apperror.ReasonNotMember, "you are not a member of this group")
		}
		if !opRole.CanManage() {
			return apperror.Forbidden(apperror.ReasonForbidden, "only the owner or an admin can remove members")
		}

		targetRole, targetIn, err := roleOf(ctx, q, groupID, targetID)
		if err != nil {
			return err
		}
		if !targetIn {
			return apperror.NotFoundReason(apperror.ReasonTargetNotMember, "user is not in this group")
		}
		if targetRole == model.RoleOwner {
			return apperror.Forbidden(apperror.ReasonCannotKickOwner, "the owner cannot be removed")
		}
		if opRole == model.RoleAdmin && targetRole == model.RoleAdmin {
			return apperror.Forbidden(apperror.ReasonPeersCannotKick, "admins cannot remove other admins")
		}

		_, err = q.RemoveMember(ctx, groupID, targetID)
		return err
	})
	if err != nil {
		return fmt.Errorf("service/group: %d kicking %d from %d: %w", operatorID, targetID, groupID, err)
	}

	s.logger.Info("member kicked",
		slog.Int64("groupID", groupID),
		slog.Int64("operatorID", operatorID),
		slog.Int64("targetID", targetID),
	)

	s.notify.GroupRemoved(ctx, groupID, []int64{targetID})
	return nil
}

// Dissolve deletes the group with its messages, read cursors and roster.
// Only the owner may do it. Everything goes in one transaction: either the
// group is gone with nothing left behind, or nothing changed.
//
// A send racing the dissolve either commits first (and its message is
// deleted here) or runs after and finds no group.
func (s *GroupService) Dissolve(ctx context.Context, operatorID, groupID int64) error {
	var (
		memberIDs   []int64
		msgsDeleted int64
	)
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		group, err := q.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if group.OwnerID != operatorID {
			return apperror.Forbidden(apperror.ReasonNotOwner, "only the owner can dissolve the group")
		}

		// Captured before the roster is deleted: these are the users to tell.
		if memberIDs, err = q.MemberIDs(ctx, groupID); err != nil {
			return err
		}
		if msgsDeleted, err = q.DeleteGroupMessages(ctx, groupID); err != nil {
			return err
		}
		if _, err = q.DeleteGroupCursors(ctx, groupID); err != nil {
			return err
		}
		return q.DeleteGroup(ctx, groupID)
	})
	if err != nil {
		return fmt.Errorf("service/group: %d dissolving %d: %w", operatorID, groupID, err)
	}

	s.logger.Info("group dissolved",
		slog.Int64("groupID", groupID),
		slog.Int64("ownerID", operatorID),
		slog.Int("members", len(memberIDs)),
		slog.Int64("messagesDeleted", msgsDeleted),
	)

	s.notify.GroupRemoved(ctx, groupID, memberIDs)
	return nil
}

// SetRole appoints or demotes an admin. Only the owner may change roles, and
// the owner's own role is fixed.
func (s *GroupService) SetRole(ctx context.Context, operatorID, groupID, targetID int64, role model.Role) error {
	if role != model.RoleAdmin && role != model.RoleMember {
		return apperror.ValidationFailed("role", "role must be admin or member")
	}

	err := s.store.InTx(ctx, func(q repository.Queries) error {
		group, err := q.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if group.OwnerID != operatorID {
			return apperror.Forbidden(apperror.ReasonNotOwner, "only the owner can change roles")
		}

		targetRole, targetIn, err := roleOf(ctx, q, groupID, targetID)
		if err != nil {
			return err
		}
		if !targetIn {
			return apperror.NotFoundReason(apperror.ReasonTargetNotMember, "user is not in this group")
		}
		if targetRole == model.RoleOwner {
			return apperror.Forbidden(apperror.ReasonForbidden, "the owner's role cannot be changed")
		}

		_, err = q.SetMemberRole(ctx, groupID, targetID, role)
		return err
	})
	if err != nil {
		return fmt.Errorf("service/group: setting role of %d in %d: %w", targetID, groupID, err)
	}

	s.logger.Info("member role changed",
		slog.Int64("groupID", groupID),
		slog.Int64("targetID", targetID),
		slog.String("role", string(role)),
	)
	return nil
}

// Members returns the roster of groupID. Only members may see it; anyone
// else gets a permission error (not_member), including for groups that do
// not exist.
func (s *GroupService) Members(ctx context.Context, requesterID, groupID int64) ([]model.GroupMember, error) {
	_, isMember, err := roleOf(ctx, s.store, groupID, requesterID)
	if err != nil {
		return nil, fmt.Errorf("service/group: checking membership: %w", err)
	}
	if !isMember {
		return nil, apperror.Forbidden(apperror.ReasonNotMember, "you are not a member of this group")
	}

	members, err := s.store.ListMembers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("service/group: listing members of %d: %w", groupID, err)
	}
	return members, nil
}

// GroupsOf returns the groups userID currently belongs to.
func (s *GroupService) GroupsOf(ctx context.Context, userID int64) ([]model.Group, error) {
	groups, err := s.store.ListUserGroups(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/group: listing groups of %d: %w", userID, err)
	}
	return groups, nil
}

// IsMember reports whether userID belongs to groupID.
func (s *GroupService) IsMember(ctx context.Context, userID, groupID int64) (bool, error) {
	_, ok, err := roleOf(ctx, s.store, groupID, userID)
	if err != nil {
		return false, fmt.Errorf("service/group: checking membership: %w", err)
	}
	return ok, nil
}

// RoleOf returns userID's role in groupID; ok is false for non-members.
func (s *GroupService) RoleOf(ctx context.Context, userID, groupID int64) (model.Role, bool, error) {
	role, ok, err := roleOf(ctx, s.store, groupID, userID)
	if err != nil {
		return "", false, fmt.Errorf("service/group: reading role: %w", err)
	}
	return role, ok, nil
}
