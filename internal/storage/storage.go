// Package storage keeps uploaded blobs. Messages only ever carry the key
// returned by Put (plus the original file name); the blob itself is served
// back through Open.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/rs/xid"
)

// Kind selects the key prefix of an upload.
type Kind string

const (
	KindUpload Kind = "uploads"
	KindAvatar Kind = "avatars"
)

var ErrInvalidKey = errors.New("storage: invalid key")

// Object is an opened blob. Body supports seeking so it can be handed to
// http.ServeContent.
type Object struct {
	Body        io.ReadSeekCloser
	Size        int64
	ContentType string
	ModTime     time.Time
}

type Storage interface {
	// Put stores body and returns its key, e.g. "uploads/<id>.png".
	Put(ctx context.Context, kind Kind, filename string, body io.Reader, size int64, contentType string) (string, error)
	// Open returns the blob stored under key. A missing key wraps
	// apperror.ErrNotFound.
	Open(ctx context.Context, key string) (*Object, error)
}

// newKey builds "<kind>/<xid><ext>". Only the extension of the client's file
// name survives; the rest is never used in a path.
func newKey(kind Kind, filename string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(filename, "\\", "/"))))
	if len(ext) > 16 || strings.ContainsAny(ext, " /?#%") {
		ext = ""
	}
	return string(kind) + "/" + xid.New().String() + ext
}

// CleanKey validates a key coming back from a client. It must sit directly
// under one of the known prefixes and must not try to escape it.
func CleanKey(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" || strings.Contains(key, "..") || strings.ContainsAny(key, "\\\x00") {
		return "", ErrInvalidKey
	}
	dir, name := path.Split(key)
	switch Kind(strings.TrimSuffix(dir, "/")) {
	case KindUpload, KindAvatar:
	default:
		return "", ErrInvalidKey
	}
	if name == "" {
		return "", ErrInvalidKey
	}
	return key, nil
}
