package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MsAiBoWithStar/linkin-chat/internal/apperror"
)

func TestLocalStorage_PutOpen(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStorage(root)
	require.NoError(t, err)
	ctx := context.Background()

	key, err := s.Put(ctx, KindUpload, "Report.PDF", strings.NewReader("%PDF-1.4"), 8, "application/pdf")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "uploads/"), key)
	assert.True(t, strings.HasSuffix(key, ".pdf"), key)

	_, err = os.Stat(filepath.Join(root, filepath.FromSlash(key)))
	require.NoError(t, err)

	obj, err := s.Open(ctx, key)
	require.NoError(t, err)
	defer obj.Body.Close()
	body, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(body))
	assert.EqualValues(t, 8, obj.Size)
	assert.Equal(t, "application/pdf", obj.ContentType)
}

func TestLocalStorage_KeysAreUnique(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	seen := map[string]bool{}
	for range 20 {
		key, err := s.Put(context.Background(), KindAvatar, "me.png", strings.NewReader("x"), 1, "")
		require.NoError(t, err)
		require.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	}
}

func TestLocalStorage_OpenMissing(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = s.Open(context.Background(), "uploads/nothing.txt")
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)
}

func TestCleanKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "uploads/abc.png", want: "uploads/abc.png"},
		{key: "/avatars/abc", want: "avatars/abc"},
		{key: "uploads/../secret", wantErr: true},
		{key: "uploads/a/b.png", wantErr: true},
		{key: "etc/passwd", wantErr: true},
		{key: "uploads/", wantErr: true},
		{key: `uploads\abc`, wantErr: true},
		{key: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := CleanKey(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewKey_DropsClientPath(t *testing.T) {
	key := newKey(KindUpload, `C:\Users\me\..\evil name.TXT`)
	assert.True(t, strings.HasPrefix(key, "uploads/"))
	assert.True(t, strings.HasSuffix(key, ".txt"))
	_, err := CleanKey(key)
	assert.NoError(t, err)

	assert.NotContains(t, newKey(KindUpload, "weird.a b"), " ")
}
