package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MsAiBoWithStar/linkin-chat/internal/apperror"
	"github.com/MsAiBoWithStar/linkin-chat/internal/model"
	"github.com/MsAiBoWithStar/linkin-chat/internal/repository"
)

// ReadService tracks what each user has seen.
//
// Private chats are tracked per message with is_read. Groups are tracked
// with one cursor per (user, group): the newest message id the user has
// acknowledged. See the sqlite package for the queries behind both.
type ReadService struct {
	store  repository.Store
	logger *slog.Logger
}

func NewReadService(store repository.Store, logger *slog.Logger) *ReadService {
	return &ReadService{store: store, logger: logger}
}

// MarkRead acknowledges everything currently in the chat.
//
// For a group the cursor moves to the newest message id and never backward.
// A group with no messages, or one the user is not in, is left alone.
func (s *ReadService) MarkRead(ctx context.Context, userID int64, chatType model.ChatType, chatID int64) error {
	switch chatType {
	case model.ChatPrivate:
		n, err := s.store.MarkPrivateRead(ctx, userID, chatID)
		if err != nil {
			return fmt.Errorf("service/read: marking chat with %d read: %w", chatID, err)
		}
		s.logger.Debug("private chat marked read",
			slog.Int64("userID", userID),
			slog.Int64("peerID", chatID),
			slog.Int64("messages", n),
		)
		return nil

	case model.ChatGroup:
		err := s.store.InTx(ctx, func(q repository.Queries) error {
			_, isMember, err := roleOf(ctx, q, chatID, userID)
			if err != nil || !isMember {
				return err
			}
			latest, ok, err := q.LatestGroupMessageID(ctx, chatID)
			if err != nil || !ok {
				return err
			}
			return q.AdvanceReadCursor(ctx, userID, chatID, latest)
		})
		if err != nil {
			return fmt.Errorf("service/read: marking group %d read: %w", chatID, err)
		}
		return nil
	}
	return unknownChatType(chatType)
}

// UnreadCount returns the unread count of one chat. A group the user is
// not in counts as zero, the same way ListGroup shows it as empty.
func (s *ReadService) UnreadCount(ctx context.Context, userID int64, chatType model.ChatType, chatID int64) (int, error) {
	var (
		n   int
		err error
	)
	switch chatType {
	case model.ChatPrivate:
		n, err = s.store.CountUnreadPrivate(ctx, userID, chatID)
	case model.ChatGroup:
		var isMember bool
		_, isMember, err = roleOf(ctx, s.store, chatID, userID)
		if err == nil && isMember {
			n, err = s.store.CountUnreadGroup(ctx, userID, chatID)
		}
	default:
		return 0, unknownChatType(chatType)
	}
	if err != nil {
		return 0, fmt.Errorf("service/read: counting unread in %s %d: %w", chatType, chatID, err)
	}
	return n, nil
}

// UnreadSummary lists every friend chat and group of userID with a non-zero
// unread count, private chats first.
func (s *ReadService) UnreadSummary(ctx context.Context, userID int64) ([]model.UnreadEntry, error) {
	private, err := s.store.UnreadPrivateByFriend(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/read: summarizing private unread: %w", err)
	}
	groups, err := s.store.UnreadByGroup(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/read: summarizing group unread: %w", err)
	}
	entries := make([]model.UnreadEntry, 0, len(private)+len(groups))
	entries = append(entries, private...)
	return append(entries, groups...), nil
}

func unknownChatType(chatType model.ChatType) error {
	return apperror.ValidationFailed("chat_type", fmt.Sprintf("unknown chat type %q", chatType))
}
