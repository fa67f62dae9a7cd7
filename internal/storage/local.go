package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"

	"github.com/MsAiBoWithStar/linkin-chat/internal/apperror"
)

// LocalStorage writes blobs under a directory on disk.
type LocalStorage struct {
	root string
}

var _ Storage = (*LocalStorage)(nil)

// NewLocalStorage creates root and the per-kind subdirectories if needed.
func NewLocalStorage(root string) (*LocalStorage, error) {
	for _, kind := range []Kind{KindUpload, KindAvatar} {
		if err := os.MkdirAll(filepath.Join(root, string(kind)), 0o755); err != nil {
			return nil, fmt.Errorf("storage/local: creating %s: %w", kind, err)
		}
	}
	return &LocalStorage{root: root}, nil
}

func (s *LocalStorage) Put(_ context.Context, kind Kind, filename string, body io.Reader, _ int64, _ string) (string, error) {
	key := newKey(kind, filename)
	full := filepath.Join(s.root, filepath.FromSlash(key))

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("storage/local: creating %s: %w", key, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(full)
		return "", fmt.Errorf("storage/local: writing %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(full)
		return "", fmt.Errorf("storage/local: closing %s: %w", key, err)
	}
	return key, nil
}

func (s *LocalStorage) Open(_ context.Context, key string) (*Object, error) {
	key, err := CleanKey(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperror.NotFound("file", key)
		}
		return nil, fmt.Errorf("storage/local: opening %s: %w", key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("storage/local: stat %s: %w", key, err)
	}
	return &Object{
		Body:        f,
		Size:        info.Size(),
		ContentType: mime.TypeByExtension(path.Ext(key)),
		ModTime:     info.ModTime(),
	}, nil
}
