package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wuyou/docbridge/internal/callback"
	"github.com/wuyou/docbridge/internal/document"
	"github.com/wuyou/docbridge/internal/editor"
	"github.com/wuyou/docbridge/internal/errs"
	"github.com/wuyou/docbridge/internal/journal"
	"github.com/wuyou/docbridge/internal/logger"
)

const (
	maxCallbackBytes  = 1 << 20
	multipartMemory   = 32 << 20
	healthTimeout     = 3 * time.Second
	defaultUploadSize = 100 << 20
)

// Documents is the document service as the HTTP layer uses it.
type Documents interface {
	Upload(ctx context.Context, r io.Reader, size int64, filename, declaredContentType string) (*document.Descriptor, error)
	List(ctx context.Context) ([]*document.Descriptor, error)
	Lookup(ctx context.Context, ref string) (*document.Descriptor, error)
	Delete(ctx context.Context, ref string) error
}

// Callbacks turns a raw callback into its acknowledgment.
type Callbacks interface {
	Handle(ctx context.Context, body []byte, authorization string) callback.Ack
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds the HTTP handlers for the /api/onlyoffice endpoints.
type Handler struct {
	docs           Documents
	callbacks      Callbacks
	editor         *editor.Builder
	journal        journal.Journal
	store          Pinger
	maxUploadBytes int64
}

// upload accepts a multipart "file" part and stores it as a new document.
func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			fail(w, http.StatusRequestEntityTooLarge, "file exceeds "+strconv.FormatInt(tooBig.Limit, 10)+" bytes")
			return
		}
		fail(w, http.StatusBadRequest, "expected a multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		fail(w, http.StatusBadRequest, "missing file part")
		return
	}
	defer file.Close()

	desc, err := h.docs.Upload(r.Context(), file, header.Size, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		logger.FromContext(r.Context()).ErrorWith("upload rejected", err, map[string]interface{}{
			"filename": header.Filename,
			"size":     header.Size,
		})
		failErr(w, err)
		return
	}
	ok(w, desc)
}

// callback always answers 200; the body carries the outcome.
func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBytes))
	if err != nil {
		logger.FromContext(r.Context()).ErrorWith("failed to read callback body", err, nil)
		ok(w, callback.Ack{Error: 1, Message: "unreadable callback body"})
		return
	}
	ok(w, h.callbacks.Handle(r.Context(), body, r.Header.Get("Authorization")))
}

type deleteResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "fileKey")
	if err := h.docs.Delete(r.Context(), ref); err != nil {
		logger.FromContext(r.Context()).ErrorWith("delete failed", err, map[string]interface{}{"ref": ref})
		ok(w, deleteResult{Success: false, Message: "file delete failed: " + messageOf(err)})
		return
	}
	ok(w, deleteResult{Success: true, Message: "file deleted"})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	docs, err := h.docs.List(r.Context())
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, docs)
}

// editorConfig returns what the page passes to DocsAPI.DocEditor.
// Query: mode=edit|view, userId, userName.
func (h *Handler) editorConfig(w http.ResponseWriter, r *http.Request) {
	desc, err := h.docs.Lookup(r.Context(), chi.URLParam(r, "fileKey"))
	if err != nil {
		failErr(w, err)
		return
	}

	q := r.URL.Query()
	cfg, err := h.editor.Build(desc, q.Get("mode"), editor.User{ID: q.Get("userId"), Name: q.Get("userName")})
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, cfg)
}

func (h *Handler) callbackHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			fail(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := h.journal.Recent(r.Context(), chi.URLParam(r, "fileKey"), limit)
	if err != nil {
		failErr(w, errs.Wrap(errs.ErrKindUnknown, "failed to read journal", err))
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	ok(w, entries)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		logger.FromContext(r.Context()).ErrorWith("health check failed", err, nil)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	ok(w, map[string]string{"status": "ok"})
}
