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

const MaxContentLength = 4000

// MessageInput is the caller-supplied body of a message. File is the opaque
// reference returned by the upload step and is stored as given.
type MessageInput struct {
	Content string
	File    *model.FileRef
}

func (in MessageInput) validate() error {
	if in.File != nil && strings.TrimSpace(in.File.Path) == "" {
		return apperror.ValidationFailed("file_path", "file reference needs a path")
	}
	if in.File == nil && strings.TrimSpace(in.Content) == "" {
		return apperror.ValidationFailed("content", "message needs content or a file")
	}
	if utf8.RuneCountInString(in.Content) > MaxContentLength {
		return apperror.ValidationFailed("content",
			fmt.Sprintf("content must be %d characters or less", MaxContentLength))
	}
	return nil
}

// MessageService is the send/list/search orchestrator.
//
// THE SEND PATH:
//
//	eligibility check ┐
//	persist           ┘ one transaction
//	notify              after commit, best-effort
type MessageService struct {
	store  repository.Store
	notify Notifier
	logger *slog.Logger
}

func NewMessageService(store repository.Store, notify Notifier, logger *slog.Logger) *MessageService {
	return &MessageService{store: store, notify: notify, logger: logger}
}

// SendPrivate persists a private message from senderID to receiverID. The
// two must be friends; sending to yourself is allowed.
func (s *MessageService) SendPrivate(ctx context.Context, senderID, receiverID int64, in MessageInput) (*model.Message, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	msg := &model.Message{
		SenderID: senderID,
		Target:   model.PrivateTarget{ReceiverID: receiverID},
		Type:     model.TypeFor(in.File),
		Content:  in.Content,
		File:     in.File,
	}

	err := s.store.InTx(ctx, func(q repository.Queries) error {
		if _, err := q.GetUserByID(ctx, receiverID); err != nil {
			return err
		}
		ok, err := isFriend(ctx, q, senderID, receiverID)
		if err != nil {
			return err
		}
		if !ok {
			return apperror.Forbidden(apperror.ReasonNotFriends, "you can only message your friends")
		}
		return q.CreateMessage(ctx, msg)
	})
	if err != nil {
		return nil, fmt.Errorf("service/message: sending %d -> %d: %w", senderID, receiverID, err)
	}

	s.logger.Info("message sent",
		slog.Int64("messageID", msg.ID),
		slog.Int64("senderID", senderID),
		slog.Int64("receiverID", receiverID),
		slog.String("type", string(msg.Type)),
	)

	s.notify.Message(ctx, msg)
	return msg, nil
}

// SendGroup persists a message to groupID. Only current members may send;
// a group that no longer exists is NotFound.
func (s *MessageService) SendGroup(ctx context.Context, senderID, groupID int64, in MessageInput) (*model.Message, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	msg := &model.Message{
		SenderID: senderID,
		Target:   model.GroupTarget{GroupID: groupID},
		Type:     model.TypeFor(in.File),
		Content:  in.Content,
		File:     in.File,
	}

	err := s.store.InTx(ctx, func(q repository.Queries) error {
		if _, err := q.GetGroup(ctx, groupID); err != nil {
			return err
		}
		_, isMember, err := roleOf(ctx, q, groupID, senderID)
		if err != nil {
			return err
		}
		if !isMember {
			return apperror.Forbidden(apperror.ReasonNotMember, "you are not a member of this group")
		}
		return q.CreateMessage(ctx, msg)
	})
	if err != nil {
		return nil, fmt.Errorf("service/message: sending %d -> group %d: %w", senderID, groupID, err)
	}

	s.logger.Info("message sent",
		slog.Int64("messageID", msg.ID),
		slog.Int64("senderID", senderID),
		slog.Int64("groupID", groupID),
		slog.String("type", string(msg.Type)),
	)

	s.notify.Message(ctx, msg)
	return msg, nil
}

// ListPrivate returns one page of the conversation between userID and
// peerID, oldest first within the page.
func (s *MessageService) ListPrivate(ctx context.Context, userID, peerID int64, unreadOnly bool, opts repository.ListOptions) ([]model.Message, error) {
	msgs, err := s.store.ListPrivateMessages(ctx, repository.PrivateQuery{
		UserID:      userID,
		PeerID:      peerID,
		UnreadOnly:  unreadOnly,
		ListOptions: opts.Clamp(repository.DefaultPageSize, repository.MaxPageSize),
	})
	if err != nil {
		return nil, fmt.Errorf("service/message: listing %d <-> %d: %w", userID, peerID, err)
	}
	return msgs, nil
}

// ListGroup returns one page of groupID's messages. A non-member gets an
// empty page, not an error.
func (s *MessageService) ListGroup(ctx context.Context, userID, groupID int64, unreadOnly bool, opts repository.ListOptions) ([]model.Message, error) {
	_, isMember, err := roleOf(ctx, s.store, groupID, userID)
	if err != nil {
		return nil, fmt.Errorf("service/message: checking membership: %w", err)
	}
	if !isMember {
		return []model.Message{}, nil
	}

	msgs, err := s.store.ListGroupMessages(ctx, repository.GroupQuery{
		UserID:      userID,
		GroupID:     groupID,
		UnreadOnly:  unreadOnly,
		ListOptions: opts.Clamp(repository.DefaultPageSize, repository.MaxPageSize),
	})
	if err != nil {
		return nil, fmt.Errorf("service/message: listing group %d: %w", groupID, err)
	}
	return msgs, nil
}

// Search finds text messages containing keyword among the chats userID can
// currently see: private chats with friends and groups they belong to.
func (s *MessageService) Search(ctx context.Context, userID int64, keyword string, limit int) ([]model.Message, error) {
	if strings.TrimSpace(keyword) == "" {
		return []model.Message{}, nil
	}

	limit = repository.ListOptions{Limit: limit}.Clamp(repository.DefaultSearchSize, repository.MaxSearchSize).Limit
	msgs, err := s.store.SearchMessages(ctx, repository.SearchQuery{
		UserID:  userID,
		Keyword: keyword,
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("service/message: searching for %d: %w", userID, err)
	}
	return msgs, nil
}
