package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MsAiBoWithStar/linkin-chat/internal/auth"
	"github.com/MsAiBoWithStar/linkin-chat/internal/model"
	"github.com/MsAiBoWithStar/linkin-chat/internal/repository/sqlite"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// recordingNotifier stands in for the delivery router and remembers every
// event it was handed.
type recordingNotifier struct {
	mu             sync.Mutex
	messages       []*model.Message
	friendAdded    [][2]int64
	friendRemoved  [][2]int64
	groupAdded     map[int64][]int64
	groupRemoved   map[int64][]int64
	profileUpdates []profileUpdate
}

type profileUpdate struct {
	user      model.UserSummary
	friendIDs []int64
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		groupAdded:   map[int64][]int64{},
		groupRemoved: map[int64][]int64{},
	}
}

func (n *recordingNotifier) Message(_ context.Context, msg *model.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
}

func (n *recordingNotifier) FriendAdded(_ context.Context, a, b model.UserSummary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.friendAdded = append(n.friendAdded, [2]int64{a.ID, b.ID})
}

func (n *recordingNotifier) FriendRemoved(_ context.Context, a, b int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.friendRemoved = append(n.friendRemoved, [2]int64{a, b})
}

func (n *recordingNotifier) GroupAdded(_ context.Context, group *model.Group, userIDs []int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.groupAdded[group.ID] = append(n.groupAdded[group.ID], userIDs...)
}

func (n *recordingNotifier) GroupRemoved(_ context.Context, groupID int64, userIDs []int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.groupRemoved[groupID] = append(n.groupRemoved[groupID], userIDs...)
}

func (n *recordingNotifier) ProfileUpdated(_ context.Context, user model.UserSummary, friendIDs []int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.profileUpdates = append(n.profileUpdates, profileUpdate{user: user, friendIDs: friendIDs})
}

var _ Notifier = (*recordingNotifier)(nil)

// testEnv wires every service to one fresh in-memory database.
type testEnv struct {
	db       *sqlite.DB
	tokens   *auth.TokenService
	notify   *recordingNotifier
	accounts *AccountService
	friends  *FriendService
	groups   *GroupService
	messages *MessageService
	reads    *ReadService

	nextCode int
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvAt(t, ":memory:")
}

// newTestEnvFile is newTestEnv over a database file. An in-memory database
// is pinned to one connection, so only a file lets transactions race.
func newTestEnvFile(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvAt(t, filepath.Join(t.TempDir(), "race.db"))
}

func newTestEnvAt(t *testing.T, dbPath string) *testEnv {
	t.Helper()

	db, err := sqlite.New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!", auth.DefaultTokenTTL)
	require.NoError(t, err)

	// Cost 4 is bcrypt minimum — makes tests fast
	passwords := auth.NewPasswordServiceForTest(4)

	notify := newRecordingNotifier()
	logger := quietLogger()
	return &testEnv{
		db:       db,
		tokens:   tokens,
		notify:   notify,
		accounts: NewAccountService(db, tokens, passwords, notify, logger),
		friends:  NewFriendService(db, notify, logger),
		groups:   NewGroupService(db, notify, logger),
		messages: NewMessageService(db, notify, logger),
		reads:    NewReadService(db, logger),
	}
}

// user inserts a user directly, skipping password hashing.
func (e *testEnv) user(t *testing.T, nickname string) *model.User {
	t.Helper()
	e.nextCode++
	u := &model.User{LinkCode: fmt.Sprintf("%08d", 20000000+e.nextCode), Nickname: nickname}
	require.NoError(t, e.db.CreateUser(context.Background(), u))
	return u
}

func (e *testEnv) befriend(t *testing.T, a, b int64) {
	t.Helper()
	require.NoError(t, e.friends.Add(context.Background(), a, b))
}

// group creates a group through the service with every member befriended
// by the owner first.
func (e *testEnv) group(t *testing.T, owner int64, members ...int64) *model.Group {
	t.Helper()
	ctx := context.Background()
	for _, m := range members {
		ok, err := e.friends.IsFriend(ctx, owner, m)
		require.NoError(t, err)
		if !ok {
			e.befriend(t, owner, m)
		}
	}
	res, err := e.groups.Create(ctx, owner, "team", "", members)
	require.NoError(t, err)
	require.Len(t, res.AddedMemberIDs, len(members))
	return res.Group
}

func (e *testEnv) promote(t *testing.T, owner, groupID, userID int64) {
	t.Helper()
	require.NoError(t, e.groups.SetRole(context.Background(), owner, groupID, userID, model.RoleAdmin))
}

func text(s string) MessageInput {
	return MessageInput{Content: s}
}
