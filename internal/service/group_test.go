package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MsAiBoWithStar/linkin-chat/internal/apperror"
	"github.com/MsAiBoWithStar/linkin-chat/internal/model"
	"github.com/MsAiBoWithStar/linkin-chat/internal/repository"
)

func TestGroupCreate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	friend := env.user(t, "friend")
	stranger := env.user(t, "stranger")
	env.befriend(t, owner.ID, friend.ID)

	res, err := env.groups.Create(ctx, owner.ID, "  team  ", "", []int64{friend.ID, stranger.ID, owner.ID, friend.ID})
	require.NoError(t, err)

	assert.Equal(t, "team", res.Group.Name)
	assert.Equal(t, []int64{friend.ID}, res.AddedMemberIDs)
	assert.Equal(t, []int64{stranger.ID}, res.RejectedMemberIDs)

	role, ok, err := env.groups.RoleOf(ctx, owner.ID, res.Group.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.RoleOwner, role)

	in, err := env.groups.IsMember(ctx, stranger.ID, res.Group.ID)
	require.NoError(t, err)
	assert.False(t, in)

	assert.ElementsMatch(t, []int64{owner.ID, friend.ID}, env.notify.groupAdded[res.Group.ID])
}

func TestGroupCreate_Validation(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user(t, "owner")

	_, err := env.groups.Create(context.Background(), owner.ID, "   ", "", nil)
	assert.True(t, errors.Is(err, apperror.ErrValidation))
}

func TestGroupInvite(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	admin := env.user(t, "admin")
	member := env.user(t, "member")
	target := env.user(t, "target")
	outsider := env.user(t, "outsider")
	g := env.group(t, owner.ID, admin.ID, member.ID)
	env.promote(t, owner.ID, g.ID, admin.ID)
	env.befriend(t, member.ID, target.ID)
	env.befriend(t, outsider.ID, target.ID)

	tests := []struct {
		name       string
		operator   int64
		target     int64
		wantErr    error
		wantReason string
	}{
		{"outsider", outsider.ID, target.ID, apperror.ErrForbidden, apperror.ReasonNotMember},
		{"plain member", member.ID, target.ID, apperror.ErrForbidden, apperror.ReasonForbidden},
		{"already member", owner.ID, member.ID, apperror.ErrConflict, apperror.ReasonAlreadyMember},
		{"not a friend of the admin", admin.ID, target.ID, apperror.ErrForbidden, apperror.ReasonNotFriend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.groups.Invite(ctx, tt.operator, g.ID, tt.target)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Equal(t, tt.wantReason, apperror.ReasonOf(err))
		})
	}

	env.befriend(t, admin.ID, target.ID)
	require.NoError(t, env.groups.Invite(ctx, admin.ID, g.ID, target.ID))

	role, ok, err := env.groups.RoleOf(ctx, target.ID, g.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.RoleMember, role)
	assert.Contains(t, env.notify.groupAdded[g.ID], target.ID)
}

func TestGroupInvite_UnknownGroup(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user(t, "owner")

	err := env.groups.Invite(context.Background(), owner.ID, 999, owner.ID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)
}

func TestGroupKick_Rules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	admin1 := env.user(t, "admin1")
	admin2 := env.user(t, "admin2")
	member := env.user(t, "member")
	other := env.user(t, "other")
	outsider := env.user(t, "outsider")
	g := env.group(t, owner.ID, admin1.ID, admin2.ID, member.ID, other.ID)
	env.promote(t, owner.ID, g.ID, admin1.ID)
	env.promote(t, owner.ID, g.ID, admin2.ID)

	tests := []struct {
		name       string
		operator   int64
		target     int64
		wantErr    error
		wantReason string
	}{
		{"outsider", outsider.ID, member.ID, apperror.ErrForbidden, apperror.ReasonNotMember},
		{"member kicks member", member.ID, other.ID, apperror.ErrForbidden, apperror.ReasonForbidden},
		// A plain member is refused before the target is even looked at.
		{"member kicks stranger", member.ID, outsider.ID, apperror.ErrForbidden, apperror.ReasonForbidden},
		{"admin kicks stranger", admin1.ID, outsider.ID, apperror.ErrNotFound, apperror.ReasonTargetNotMember},
		{"admin kicks owner", admin1.ID, owner.ID, apperror.ErrForbidden, apperror.ReasonCannotKickOwner},
		{"admin kicks admin", admin1.ID, admin2.ID, apperror.ErrForbidden, apperror.ReasonPeersCannotKick},
		{"owner kicks self", owner.ID, owner.ID, apperror.ErrForbidden, apperror.ReasonCannotKickOwner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.groups.Kick(ctx, tt.operator, g.ID, tt.target)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Equal(t, tt.wantReason, apperror.ReasonOf(err))
		})
	}
	assert.Empty(t, env.notify.groupRemoved, "refused kicks must not notify")
}

func TestGroupKick_Succeeds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	admin := env.user(t, "admin")
	member := env.user(t, "member")
	g := env.group(t, owner.ID, admin.ID, member.ID)
	env.promote(t, owner.ID, g.ID, admin.ID)

	require.NoError(t, env.groups.Kick(ctx, admin.ID, g.ID, member.ID))
	require.NoError(t, env.groups.Kick(ctx, owner.ID, g.ID, admin.ID))

	members, err := env.groups.Members(ctx, owner.ID, g.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, owner.ID, members[0].UserID)
	assert.Equal(t, []int64{member.ID, admin.ID}, env.notify.groupRemoved[g.ID])
}

func TestGroupSetRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	member := env.user(t, "member")
	outsider := env.user(t, "outsider")
	g := env.group(t, owner.ID, member.ID)

	err := env.groups.SetRole(ctx, member.ID, g.ID, member.ID, model.RoleAdmin)
	assert.Equal(t, apperror.ReasonNotOwner, apperror.ReasonOf(err))

	err = env.groups.SetRole(ctx, owner.ID, g.ID, member.ID, model.RoleOwner)
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	err = env.groups.SetRole(ctx, owner.ID, g.ID, outsider.ID, model.RoleAdmin)
	assert.Equal(t, apperror.ReasonTargetNotMember, apperror.ReasonOf(err))

	err = env.groups.SetRole(ctx, owner.ID, g.ID, owner.ID, model.RoleMember)
	assert.True(t, errors.Is(err, apperror.ErrForbidden))

	require.NoError(t, env.groups.SetRole(ctx, owner.ID, g.ID, member.ID, model.RoleAdmin))
	role, _, err := env.groups.RoleOf(ctx, member.ID, g.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, role)

	require.NoError(t, env.groups.SetRole(ctx, owner.ID, g.ID, member.ID, model.RoleMember))
	role, _, err = env.groups.RoleOf(ctx, member.ID, g.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleMember, role)
}

func TestGroupDissolve_NotOwner(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user(t, "owner")
	admin := env.user(t, "admin")
	g := env.group(t, owner.ID, admin.ID)
	env.promote(t, owner.ID, g.ID, admin.ID)

	err := env.groups.Dissolve(context.Background(), admin.ID, g.ID)
	assert.True(t, errors.Is(err, apperror.ErrForbidden))
	assert.Equal(t, apperror.ReasonNotOwner, apperror.ReasonOf(err))

	_, err = env.db.GetGroup(context.Background(), g.ID)
	assert.NoError(t, err, "group must survive a refused dissolve")
}

func TestGroupDissolve_Cascade(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	member := env.user(t, "member")
	g := env.group(t, owner.ID, member.ID)

	_, err := env.messages.SendGroup(ctx, owner.ID, g.ID, text("one"))
	require.NoError(t, err)
	_, err = env.messages.SendGroup(ctx, member.ID, g.ID, text("two"))
	require.NoError(t, err)
	require.NoError(t, env.reads.MarkRead(ctx, member.ID, model.ChatGroup, g.ID))

	require.NoError(t, env.groups.Dissolve(ctx, owner.ID, g.ID))

	_, err = env.db.GetGroup(ctx, g.ID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	left, err := env.db.ListGroupMessages(ctx, repository.GroupQuery{
		UserID: owner.ID, GroupID: g.ID, ListOptions: repository.ListOptions{Limit: 50},
	})
	require.NoError(t, err)
	assert.Empty(t, left)

	cursor, err := env.db.GetReadCursor(ctx, member.ID, g.ID)
	require.NoError(t, err)
	assert.Zero(t, cursor)

	groups, err := env.groups.GroupsOf(ctx, member.ID)
	require.NoError(t, err)
	assert.Empty(t, groups)

	assert.ElementsMatch(t, []int64{owner.ID, member.ID}, env.notify.groupRemoved[g.ID])

	// A send after the dissolve never succeeds.
	_, err = env.messages.SendGroup(ctx, owner.ID, g.ID, text("late"))
	assert.True(t, errors.Is(err, apperror.ErrNotFound) || errors.Is(err, apperror.ErrForbidden), "got %v", err)
}

func TestGroupMembers_NonMember(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user(t, "owner")
	outsider := env.user(t, "outsider")
	g := env.group(t, owner.ID)

	_, err := env.groups.Members(context.Background(), outsider.ID, g.ID)
	assert.True(t, errors.Is(err, apperror.ErrForbidden))
	assert.Equal(t, apperror.ReasonNotMember, apperror.ReasonOf(err))
}

func TestGroupDissolve_RacingSends(t *testing.T) {
	env := newTestEnvFile(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	member := env.user(t, "member")
	g := env.group(t, owner.ID, member.ID)

	const senders = 10
	sendErrs := make([]error, senders)
	var dissolveErr error
	var wg sync.WaitGroup
	for i := range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, sendErrs[i] = env.messages.SendGroup(ctx, member.ID, g.ID, text("racing"))
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		dissolveErr = env.groups.Dissolve(ctx, owner.ID, g.ID)
	}()
	wg.Wait()

	require.NoError(t, dissolveErr)
	for _, err := range sendErrs {
		if err != nil {
			assert.True(t, errors.Is(err, apperror.ErrNotFound) || errors.Is(err, apperror.ErrForbidden), "got %v", err)
		}
	}

	// Sends that committed first were removed by the dissolve; later ones failed.
	left, err := env.db.ListGroupMessages(ctx, repository.GroupQuery{
		UserID: owner.ID, GroupID: g.ID, ListOptions: repository.ListOptions{Limit: repository.MaxPageSize},
	})
	require.NoError(t, err)
	assert.Empty(t, left)
}
