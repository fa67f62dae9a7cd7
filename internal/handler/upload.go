package handler

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/MsAiBoWithStar/linkin-chat/internal/apperror"
	"github.com/MsAiBoWithStar/linkin-chat/internal/model"
	"github.com/MsAiBoWithStar/linkin-chat/internal/storage"
)

// UploadHandler stores files and serves them back. The key it returns is
// what messages carry as file_path.
type UploadHandler struct {
	store    storage.Storage
	maxBytes int64
	logger   *slog.Logger
}

func NewUploadHandler(store storage.Storage, maxBytes int64, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{store: store, maxBytes: maxBytes, logger: logger}
}

// HandleUpload accepts a multipart "file" field. ?kind=avatar stores it
// under the avatar prefix.
//
// HTTP: POST /api/upload
//
// STREAMING:
// r.MultipartReader hands us the parts as they arrive, so the file is
// copied straight into storage instead of being buffered to a temp file
// first. MaxBytesReader stops a client from streaming forever.
func (h *UploadHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentUser(w, r); !ok {
		return
	}

	kind := storage.KindUpload
	if r.URL.Query().Get("kind") == "avatar" {
		kind = storage.KindAvatar
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, apperror.ValidationFailed("file", "expected a multipart/form-data body"))
		return
	}

	for {
		part, err := mr.NextPart()
		if err != nil {
			writeError(w, h.uploadError(err, "a file field is required"))
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		name := part.FileName()
		if strings.TrimSpace(name) == "" {
			part.Close()
			writeError(w, apperror.ValidationFailed("file", "the file needs a name"))
			return
		}

		key, err := h.store.Put(r.Context(), kind, name, part, -1, part.Header.Get("Content-Type"))
		part.Close()
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, h.uploadError(maxErr, ""))
				return
			}
			writeServiceError(w, h.logger, "upload", err)
			return
		}

		h.logger.Info("file uploaded", slog.String("key", key))
		writeJSON(w, http.StatusCreated, model.FileRef{Path: key, Name: name})
		return
	}
}

func (h *UploadHandler) uploadError(err error, fallback string) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return apperror.ValidationFailed("file", "file is too large")
	}
	return apperror.ValidationFailed("file", fallback)
}

// HandleServe streams a stored file.
//
// HTTP: GET /files/*
//
// http.ServeContent takes care of Range requests and If-Modified-Since.
func (h *UploadHandler) HandleServe(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/files/")

	obj, err := h.store.Open(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidKey) || errors.Is(err, apperror.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.logger.Error("opening file failed", slog.String("key", key), slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer obj.Body.Close()

	// Files share the API's origin and its token cookie. Only raster images
	// render inline; everything else (html, svg, pdf, ...) is a download,
	// and the sandbox policy keeps scripts from running either way.
	hdr := w.Header()
	hdr.Set("X-Content-Type-Options", "nosniff")
	hdr.Set("Content-Security-Policy", "sandbox; default-src 'none'")
	if inlineSafe(obj.ContentType) {
		hdr.Set("Content-Type", obj.ContentType)
	} else {
		hdr.Set("Content-Type", "application/octet-stream")
		hdr.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(key)}))
	}
	http.ServeContent(w, r, key, obj.ModTime, obj.Body)
}

// inlineSafe reports whether a browser may render contentType inline
// without running anything.
func inlineSafe(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch mediaType {
	case "image/png", "image/jpeg", "image/gif", "image/webp":
		return true
	}
	return false
}
