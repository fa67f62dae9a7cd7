// Package repository declares the storage contracts the services depend on.
//
// Queries is the full set of single-statement operations. Store adds InTx,
// which runs a function against a Queries bound to one transaction so that
// a service's reads-then-writes commit or roll back together.
package repository

import (
	"context"

	"github.com/MsAiBoWithStar/linkin-chat/internal/model"
)

// Page sizes for message listing and search. A non-positive limit means
// the default; anything above the maximum is cut down to it.
const (
	DefaultPageSize   = 100
	MaxPageSize       = 200
	DefaultSearchSize = 50
	MaxSearchSize     = 100
)

type ListOptions struct {
	Limit  int
	Offset int
}

// Clamp applies the default and maximum page size and floors the offset
// at zero.
func (o ListOptions) Clamp(def, max int) ListOptions {
	if o.Limit <= 0 {
		o.Limit = def
	}
	if o.Limit > max {
		o.Limit = max
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// PrivateQuery selects messages exchanged between UserID and PeerID.
// UnreadOnly narrows to unread messages received by UserID.
type PrivateQuery struct {
	UserID     int64
	PeerID     int64
	UnreadOnly bool
	ListOptions
}

// GroupQuery selects messages of a group as seen by UserID. UnreadOnly
// narrows to messages after UserID's read cursor sent by someone else.
type GroupQuery struct {
	UserID     int64
	GroupID    int64
	UnreadOnly bool
	ListOptions
}

// SearchQuery is a substring search over text messages visible to UserID.
type SearchQuery struct {
	UserID  int64
	Keyword string
	Limit   int
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetUserByLinkCode(ctx context.Context, code string) (*model.User, error)
	GetUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error)
	LinkCodeExists(ctx context.Context, code string) (bool, error)
	UpdateUserProfile(ctx context.Context, user *model.User) error
	SearchUsers(ctx context.Context, linkCode, nickname string, limit int) ([]model.User, error)
	UserSummaries(ctx context.Context, ids []int64) (map[int64]model.UserSummary, error)
}

// FriendRepository stores friendship as two directed edges. The pair is
// always written and removed by a single call.
type FriendRepository interface {
	FriendEdgeExists(ctx context.Context, ownerID, friendID int64) (bool, error)
	InsertFriendPair(ctx context.Context, a, b int64) error
	DeleteFriendPair(ctx context.Context, a, b int64) (int64, error)
	ListFriends(ctx context.Context, userID int64) ([]model.UserSummary, error)
	FriendIDs(ctx context.Context, userID int64) ([]int64, error)
}

type GroupRepository interface {
	CreateGroup(ctx context.Context, group *model.Group) error
	GetGroup(ctx context.Context, id int64) (*model.Group, error)
	DeleteGroup(ctx context.Context, id int64) error
	AddMember(ctx context.Context, member *model.GroupMember) error
	RemoveMember(ctx context.Context, groupID, userID int64) (int64, error)
	SetMemberRole(ctx context.Context, groupID, userID int64, role model.Role) (int64, error)
	GetMember(ctx context.Context, groupID, userID int64) (*model.GroupMember, error)
	ListMembers(ctx context.Context, groupID int64) ([]model.GroupMember, error)
	MemberIDs(ctx context.Context, groupID int64) ([]int64, error)
	ListUserGroups(ctx context.Context, userID int64) ([]model.Group, error)
}

type MessageRepository interface {
	CreateMessage(ctx context.Context, msg *model.Message) error
	ListPrivateMessages(ctx context.Context, q PrivateQuery) ([]model.Message, error)
	ListGroupMessages(ctx context.Context, q GroupQuery) ([]model.Message, error)
	SearchMessages(ctx context.Context, q SearchQuery) ([]model.Message, error)
	DeletePrivateHistory(ctx context.Context, a, b int64) (int64, error)
	DeleteGroupMessages(ctx context.Context, groupID int64) (int64, error)
	LatestGroupMessageID(ctx context.Context, groupID int64) (int64, bool, error)
}

// ReadRepository holds both read-state mechanisms: the per-message is_read
// flag for private chats and the per-(user, group) cursor for groups.
type ReadRepository interface {
	MarkPrivateRead(ctx context.Context, userID, peerID int64) (int64, error)
	CountUnreadPrivate(ctx context.Context, userID, peerID int64) (int, error)
	GetReadCursor(ctx context.Context, userID, groupID int64) (int64, error)
	AdvanceReadCursor(ctx context.Context, userID, groupID, messageID int64) error
	DeleteGroupCursors(ctx context.Context, groupID int64) (int64, error)
	CountUnreadGroup(ctx context.Context, userID, groupID int64) (int, error)
	UnreadPrivateByFriend(ctx context.Context, userID int64) ([]model.UnreadEntry, error)
	UnreadByGroup(ctx context.Context, userID int64) ([]model.UnreadEntry, error)
}

type Queries interface {
	UserRepository
	FriendRepository
	GroupRepository
	MessageRepository
	ReadRepository
}

type Store interface {
	Queries
	// InTx runs fn inside one transaction. fn's error (or a panic) rolls the
	// transaction back; a nil return commits.
	InTx(ctx context.Context, fn func(q Queries) error) error
}
