package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MsAiBoWithStar/linkin-chat/internal/apperror"
	"github.com/MsAiBoWithStar/linkin-chat/internal/repository"
)

func TestFriendAdd_IsSymmetric(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.user(t, "alice")
	b := env.user(t, "bob")

	require.NoError(t, env.friends.Add(ctx, a.ID, b.ID))

	ab, err := env.friends.IsFriend(ctx, a.ID, b.ID)
	require.NoError(t, err)
	ba, err := env.friends.IsFriend(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, ab)
	assert.True(t, ba)

	assert.Equal(t, [][2]int64{{a.ID, b.ID}}, env.notify.friendAdded)
}

func TestFriendAdd_SecondAddConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.user(t, "alice")
	b := env.user(t, "bob")
	env.befriend(t, a.ID, b.ID)

	for _, pair := range [][2]int64{{a.ID, b.ID}, {b.ID, a.ID}} {
		err := env.friends.Add(ctx, pair[0], pair[1])
		assert.True(t, errors.Is(err, apperror.ErrConflict), "got %v", err)
		assert.Equal(t, apperror.ReasonAlreadyFriends, apperror.ReasonOf(err))
	}
	assert.Len(t, env.notify.friendAdded, 1, "failed adds must not notify")
}

func TestFriendAdd_Self(t *testing.T) {
	env := newTestEnv(t)
	a := env.user(t, "alice")

	err := env.friends.Add(context.Background(), a.ID, a.ID)
	assert.True(t, errors.Is(err, apperror.ErrValidation))
	assert.Equal(t, apperror.ReasonSelfFriend, apperror.ReasonOf(err))
}

func TestFriendAdd_UnknownUser(t *testing.T) {
	env := newTestEnv(t)
	a := env.user(t, "alice")

	err := env.friends.Add(context.Background(), a.ID, 4040)
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)
}

func TestIsFriend_SelfShortCircuit(t *testing.T) {
	env := newTestEnv(t)
	a := env.user(t, "alice")

	ok, err := env.friends.IsFriend(context.Background(), a.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFriendRemove(t *testing.T) {
	tests := []struct {
		name         string
		clearHistory bool
		wantLeft     int
	}{
		{name: "keeps history", clearHistory: false, wantLeft: 2},
		{name: "clears history", clearHistory: true, wantLeft: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			a := env.user(t, "alice")
			b := env.user(t, "bob")
			env.befriend(t, a.ID, b.ID)

			_, err := env.messages.SendPrivate(ctx, a.ID, b.ID, text("hi"))
			require.NoError(t, err)
			_, err = env.messages.SendPrivate(ctx, b.ID, a.ID, text("hey"))
			require.NoError(t, err)

			require.NoError(t, env.friends.Remove(ctx, b.ID, a.ID, tt.clearHistory))

			for _, pair := range [][2]int64{{a.ID, b.ID}, {b.ID, a.ID}} {
				ok, err := env.friends.IsFriend(ctx, pair[0], pair[1])
				require.NoError(t, err)
				assert.False(t, ok)
			}

			left, err := env.db.ListPrivateMessages(ctx, repository.PrivateQuery{
				UserID: a.ID, PeerID: b.ID, ListOptions: repository.ListOptions{Limit: 50},
			})
			require.NoError(t, err)
			assert.Len(t, left, tt.wantLeft)
			assert.Equal(t, [][2]int64{{b.ID, a.ID}}, env.notify.friendRemoved)
		})
	}
}

func TestFriendRemove_NotFriends(t *testing.T) {
	env := newTestEnv(t)
	a := env.user(t, "alice")
	b := env.user(t, "bob")

	err := env.friends.Remove(context.Background(), a.ID, b.ID, false)
	assert.True(t, errors.Is(err, apperror.ErrForbidden), "got %v", err)
	assert.Equal(t, apperror.ReasonNotFriends, apperror.ReasonOf(err))
	assert.Empty(t, env.notify.friendRemoved)
}

func TestFriendList(t *testing.T) {
	env := newTestEnv(t)
	a := env.user(t, "alice")
	b := env.user(t, "bob")
	c := env.user(t, "carol")
	env.befriend(t, a.ID, b.ID)
	env.befriend(t, c.ID, a.ID)

	friends, err := env.friends.List(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, friends, 2)

	ids := []int64{friends[0].ID, friends[1].ID}
	assert.ElementsMatch(t, []int64{b.ID, c.ID}, ids)
}

func TestSearchUsers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.user(t, "alice")
	env.user(t, "alicia")
	env.user(t, "bob")

	got, err := env.friends.SearchUsers(ctx, "", "")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)

	got, err = env.friends.SearchUsers(ctx, "  "+a.LinkCode+" ", "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)

	got, err = env.friends.SearchUsers(ctx, "", "ali")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestFriendAdd_Concurrent(t *testing.T) {
	env := newTestEnvFile(t)
	ctx := context.Background()
	a := env.user(t, "alice")
	b := env.user(t, "bob")

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Half the callers add from each side.
			if i%2 == 0 {
				errs[i] = env.friends.Add(ctx, a.ID, b.ID)
			} else {
				errs[i] = env.friends.Add(ctx, b.ID, a.ID)
			}
		}()
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperror.ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, conflicts)

	friends, err := env.friends.List(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, friends, 1)
	assert.Len(t, env.notify.friendAdded, 1)
}
