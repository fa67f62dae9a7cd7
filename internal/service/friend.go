package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MsAiBoWithStar/linkin-chat/internal/apperror"
	"github.com/MsAiBoWithStar/linkin-chat/internal/model"
	"github.com/MsAiBoWithStar/linkin-chat/internal/repository"
)

// MaxUserSearchResults caps SearchUsers.
const MaxUserSearchResults = 20

// FriendService owns the symmetric friendship relation.
type FriendService struct {
	store  repository.Store
	notify Notifier
	logger *slog.Logger
}

func NewFriendService(store repository.Store, notify Notifier, logger *slog.Logger) *FriendService {
	return &FriendService{store: store, notify: notify, logger: logger}
}

// IsFriend reports whether a and b are friends. A user is always their own
// friend.
func (s *FriendService) IsFriend(ctx context.Context, a, b int64) (bool, error) {
	ok, err := isFriend(ctx, s.store, a, b)
	if err != nil {
		return false, fmt.Errorf("service/friend: checking %d and %d: %w", a, b, err)
	}
	return ok, nil
}

// Add makes userID and friendID friends. Both directed edges are written in
// one transaction; the uniqueness constraint turns a racing duplicate into
// ErrConflict (already_friends) for the second caller.
func (s *FriendService) Add(ctx context.Context, userID, friendID int64) error {
	if userID == friendID {
		return validationWithReason("friend_id", apperror.ReasonSelfFriend, "you cannot add yourself as a friend")
	}

	err := s.store.InTx(ctx, func(q repository.Queries) error {
		if _, err := q.GetUserByID(ctx, friendID); err != nil {
			return err
		}
		exists, err := q.FriendEdgeExists(ctx, userID, friendID)
		if err != nil {
			return err
		}
		if exists {
			return apperror.Conflict(apperror.ReasonAlreadyFriends, "already friends")
		}
		return q.InsertFriendPair(ctx, userID, friendID)
	})
	if err != nil {
		return fmt.Errorf("service/friend: adding %d -> %d: %w", userID, friendID, err)
	}

	s.logger.Info("friend added",
		slog.Int64("userID", userID),
		slog.Int64("friendID", friendID),
	)

	s.notify.FriendAdded(ctx, summaryOf(ctx, s.store, userID), summaryOf(ctx, s.store, friendID))
	return nil
}

// Remove ends the friendship. With clearHistory every private message
// between the two, in both directions, is deleted in the same transaction.
func (s *FriendService) Remove(ctx context.Context, userID, friendID int64, clearHistory bool) error {
	var cleared int64
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		removed, err := q.DeleteFriendPair(ctx, userID, friendID)
		if err != nil {
			return err
		}
		if removed == 0 {
			return apperror.Forbidden(apperror.ReasonNotFriends, "you are not friends with this user")
		}
		if clearHistory {
			cleared, err = q.DeletePrivateHistory(ctx, userID, friendID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("service/friend: removing %d -> %d: %w", userID, friendID, err)
	}

	s.logger.Info("friend removed",
		slog.Int64("userID", userID),
		slog.Int64("friendID", friendID),
		slog.Bool("clearHistory", clearHistory),
		slog.Int64("messagesDeleted", cleared),
	)

	s.notify.FriendRemoved(ctx, userID, friendID)
	return nil
}

func (s *FriendService) List(ctx context.Context, userID int64) ([]model.UserSummary, error) {
	friends, err := s.store.ListFriends(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/friend: listing friends of %d: %w", userID, err)
	}
	return friends, nil
}

// SearchUsers finds users by exact link code and/or nickname substring.
// With neither filter the result is empty rather than the whole user table.
func (s *FriendService) SearchUsers(ctx context.Context, linkCode, nickname string) ([]model.User, error) {
	linkCode = strings.TrimSpace(linkCode)
	nickname = strings.TrimSpace(nickname)
	if linkCode == "" && nickname == "" {
		return []model.User{}, nil
	}

	users, err := s.store.SearchUsers(ctx, linkCode, nickname, MaxUserSearchResults)
	if err != nil {
		return nil, fmt.Errorf("service/friend: searching users: %w", err)
	}
	return users, nil
}
