// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// TRANSACTIONS:
// Every mutating operation runs its reads-then-writes through
// repository.Store.InTx. The permission checks (are they friends? is the
// operator an admin?) and the writes they guard therefore commit together, so
// two racing requests cannot both pass a check that only one of them should.
//
// DELIVERY:
// Push events are sent through a Notifier only AFTER InTx has returned nil.
// A failed push never rolls back committed state, and a rolled-back
// operation never announces anything.
package service

import (
	"context"
	"errors"

	"github.com/MsAiBoWithStar/linkin-chat/internal/apperror"
	"github.com/MsAiBoWithStar/linkin-chat/internal/model"
	"github.com/MsAiBoWithStar/linkin-chat/internal/repository"
)

// Notifier receives committed state changes and fans them out to connected
// sessions. *delivery.Router implements it. Methods do not return errors:
// delivery is best-effort.
type Notifier interface {
	Message(ctx context.Context, msg *model.Message)
	FriendAdded(ctx context.Context, a, b model.UserSummary)
	FriendRemoved(ctx context.Context, a, b int64)
	GroupAdded(ctx context.Context, group *model.Group, userIDs []int64)
	GroupRemoved(ctx context.Context, groupID int64, userIDs []int64)
	ProfileUpdated(ctx context.Context, user model.UserSummary, friendIDs []int64)
}

// isFriend reports whether a may address b privately.
//
// A user counts as their own friend, so sending a private message to
// yourself passes the check even though no self edge is ever stored.
func isFriend(ctx context.Context, q repository.FriendRepository, a, b int64) (bool, error) {
	if a == b {
		return true, nil
	}
	ok, err := q.FriendEdgeExists(ctx, a, b)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// roleOf returns userID's role in groupID; ok is false for non-members.
func roleOf(ctx context.Context, q repository.GroupRepository, groupID, userID int64) (model.Role, bool, error) {
	m, err := q.GetMember(ctx, groupID, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return m.Role, true, nil
}

// summaryOf returns the display summary for id, falling back to a bare id
// when the user cannot be loaded. Used only to build push payloads.
func summaryOf(ctx context.Context, q repository.UserRepository, id int64) model.UserSummary {
	summaries, err := q.UserSummaries(ctx, []int64{id})
	if err != nil {
		return model.UserSummary{ID: id}
	}
	if s, ok := summaries[id]; ok {
		return s
	}
	return model.UserSummary{ID: id}
}

func validationWithReason(field, reason, message string) *apperror.AppError {
	err := apperror.ValidationFailed(field, message)
	err.Reason = reason
	return err
}
