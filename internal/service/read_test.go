package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MsAiBoWithStar/linkin-chat/internal/apperror"
	"github.com/MsAiBoWithStar/linkin-chat/internal/model"
)

func TestUnreadPrivate_MarkReadAndRestore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.user(t, "user")
	peer := env.user(t, "peer")
	env.befriend(t, user.ID, peer.ID)

	for range 3 {
		_, err := env.messages.SendPrivate(ctx, peer.ID, user.ID, text("ping"))
		require.NoError(t, err)
	}

	count := func() int {
		t.Helper()
		n, err := env.reads.UnreadCount(ctx, user.ID, model.ChatPrivate, peer.ID)
		require.NoError(t, err)
		return n
	}

	assert.Equal(t, 3, count())

	require.NoError(t, env.reads.MarkRead(ctx, user.ID, model.ChatPrivate, peer.ID))
	assert.Equal(t, 0, count())

	_, err := env.messages.SendPrivate(ctx, peer.ID, user.ID, text("one more"))
	require.NoError(t, err)
	assert.Equal(t, 1, count())

	// Marking read only touches messages the user received.
	n, err := env.reads.UnreadCount(ctx, peer.ID, model.ChatPrivate, user.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGroupCursor_Monotonic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	member := env.user(t, "member")
	g := env.group(t, owner.ID, member.ID)

	cursor := func() int64 {
		t.Helper()
		c, err := env.db.GetReadCursor(ctx, member.ID, g.ID)
		require.NoError(t, err)
		return c
	}

	// No messages yet: nothing to acknowledge.
	require.NoError(t, env.reads.MarkRead(ctx, member.ID, model.ChatGroup, g.ID))
	assert.Zero(t, cursor())

	first, err := env.messages.SendGroup(ctx, owner.ID, g.ID, text("one"))
	require.NoError(t, err)
	_, err = env.messages.SendGroup(ctx, owner.ID, g.ID, text("two"))
	require.NoError(t, err)

	unread, err := env.reads.UnreadCount(ctx, member.ID, model.ChatGroup, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	require.NoError(t, env.reads.MarkRead(ctx, member.ID, model.ChatGroup, g.ID))
	after := cursor()
	assert.Greater(t, after, first.ID)

	require.NoError(t, env.reads.MarkRead(ctx, member.ID, model.ChatGroup, g.ID))
	assert.Equal(t, after, cursor(), "a second mark without new messages must not move the cursor")

	// An explicit lower watermark is ignored by the store.
	require.NoError(t, env.db.AdvanceReadCursor(ctx, member.ID, g.ID, first.ID))
	assert.Equal(t, after, cursor())

	third, err := env.messages.SendGroup(ctx, owner.ID, g.ID, text("three"))
	require.NoError(t, err)
	require.NoError(t, env.reads.MarkRead(ctx, member.ID, model.ChatGroup, g.ID))
	assert.Equal(t, third.ID, cursor())

	unread, err = env.reads.UnreadCount(ctx, member.ID, model.ChatGroup, g.ID)
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestGroupUnread_ExcludesOwnMessages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	member := env.user(t, "member")
	g := env.group(t, owner.ID, member.ID)

	_, err := env.messages.SendGroup(ctx, member.ID, g.ID, text("mine"))
	require.NoError(t, err)
	_, err = env.messages.SendGroup(ctx, owner.ID, g.ID, text("theirs"))
	require.NoError(t, err)

	n, err := env.reads.UnreadCount(ctx, member.ID, model.ChatGroup, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMarkRead_GroupNonMemberIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	outsider := env.user(t, "outsider")
	g := env.group(t, owner.ID)
	_, err := env.messages.SendGroup(ctx, owner.ID, g.ID, text("hi"))
	require.NoError(t, err)

	require.NoError(t, env.reads.MarkRead(ctx, outsider.ID, model.ChatGroup, g.ID))

	c, err := env.db.GetReadCursor(ctx, outsider.ID, g.ID)
	require.NoError(t, err)
	assert.Zero(t, c)
}

func TestMarkRead_UnknownChatType(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "user")

	err := env.reads.MarkRead(context.Background(), u.ID, model.ChatType("channel"), 1)
	assert.True(t, errors.Is(err, apperror.ErrValidation), "got %v", err)
	_, err = env.reads.UnreadCount(context.Background(), u.ID, model.ChatType("channel"), 1)
	assert.True(t, errors.Is(err, apperror.ErrValidation), "got %v", err)
}

func TestUnreadCount_GroupNonMemberSeesZero(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	outsider := env.user(t, "outsider")
	g := env.group(t, owner.ID)
	for range 3 {
		_, err := env.messages.SendGroup(ctx, owner.ID, g.ID, text("busy group"))
		require.NoError(t, err)
	}

	n, err := env.reads.UnreadCount(ctx, outsider.ID, model.ChatGroup, g.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUnreadSummary_OmitsZeroCounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.user(t, "user")
	chatty := env.user(t, "chatty")
	quiet := env.user(t, "quiet")
	env.befriend(t, user.ID, chatty.ID)
	env.befriend(t, user.ID, quiet.ID)

	busy := env.group(t, chatty.ID, user.ID)
	env.group(t, quiet.ID, user.ID)

	for range 2 {
		_, err := env.messages.SendPrivate(ctx, chatty.ID, user.ID, text("hey"))
		require.NoError(t, err)
	}
	_, err := env.messages.SendGroup(ctx, chatty.ID, busy.ID, text("group hey"))
	require.NoError(t, err)

	summary, err := env.reads.UnreadSummary(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []model.UnreadEntry{
		{ChatType: model.ChatPrivate, ChatID: chatty.ID, Unread: 2},
		{ChatType: model.ChatGroup, ChatID: busy.ID, Unread: 1},
	}, summary)

	require.NoError(t, env.reads.MarkRead(ctx, user.ID, model.ChatPrivate, chatty.ID))
	require.NoError(t, env.reads.MarkRead(ctx, user.ID, model.ChatGroup, busy.ID))

	summary, err = env.reads.UnreadSummary(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, summary)
	assert.NotNil(t, summary)
}
