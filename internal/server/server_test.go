package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuyou/docbridge/internal/callback"
	"github.com/wuyou/docbridge/internal/document"
	"github.com/wuyou/docbridge/internal/editor"
	"github.com/wuyou/docbridge/internal/errs"
	"github.com/wuyou/docbridge/internal/filestore/memory"
	"github.com/wuyou/docbridge/internal/journal"
)

const bucket = "documents"

type memJournal struct {
	entries []journal.Entry
}

func (j *memJournal) Record(_ context.Context, e journal.Entry) error {
	j.entries = append(j.entries, e)
	return nil
}

func (j *memJournal) Recent(_ context.Context, key string, _ int) ([]journal.Entry, error) {
	var out []journal.Entry
	for _, e := range j.entries {
		if e.Key == key {
			out = append(out, e)
		}
	}
	return out, nil
}

type fixture struct {
	store   *memory.Store
	docs    *document.Service
	journal *memJournal
	handler http.Handler
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.EnsureBucket(context.Background(), bucket))

	docs := document.NewService(store, document.Options{Bucket: bucket})
	wf := callback.NewWorkflow(store, callback.WorkflowConfig{Bucket: bucket, StagingDir: t.TempDir()}, nil, nil)
	j := &memJournal{}
	proc := callback.NewProcessor(wf, callback.ProcessorOptions{Journal: j})

	handler := NewRouter(Deps{
		Documents: docs,
		Callbacks: proc,
		Editor:    editor.New("http://ds", "http://bridge/api/onlyoffice/callback", "en", nil),
		Journal:   j,
		Store:     store,
		Metrics:   http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
	}, opts)

	return &fixture{store: store, docs: docs, journal: j, handler: handler}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func multipartUpload(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/onlyoffice/upload", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestUpload(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, multipartUpload(t, "report.docx", "hello"))
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]interface{}
	decodeBody(t, rec, &got)
	assert.Equal(t, "report.docx", got["fileName"])
	assert.Equal(t, "docx", got["fileType"])
	assert.Equal(t, document.MIMEWord, got["contentType"])
	assert.Len(t, got["fileKey"], 32)
	assert.NotEmpty(t, got["fileUrl"])

	data, found := f.store.Bytes(bucket, got["fileKey"].(string)+".docx")
	require.True(t, found)
	assert.Equal(t, "hello", string(data))
}

func TestUpload_Rejects(t *testing.T) {
	f := newFixture(t, Options{MaxUploadBytes: 512})

	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/api/onlyoffice/upload", strings.NewReader("plain")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, multipartUpload(t, "big.docx", strings.Repeat("x", 4096)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, f.store.Len(bucket))
}

func TestCallback_SaveReplacesDocument(t *testing.T) {
	f := newFixture(t, Options{})
	desc, err := f.docs.Upload(context.Background(), strings.NewReader("v1"), 2, "sheet.xlsx", "")
	require.NoError(t, err)

	ds := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("v2"))
	}))
	defer ds.Close()

	body := `{"status":2,"key":"` + desc.Key + `","url":"` + ds.URL + `/out.xlsx","filetype":"xlsx"}`
	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/api/onlyoffice/callback", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"error":0}`, rec.Body.String())

	data, _ := f.store.Bytes(bucket, desc.ObjectName())
	assert.Equal(t, "v2", string(data))
	assert.Equal(t, 1, f.store.Len(bucket))

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/onlyoffice/callbacks/"+desc.Key, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []journal.Entry
	decodeBody(t, rec, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.OutcomeSaved, entries[0].Outcome)
}

func TestCallback_AlwaysHTTP200(t *testing.T) {
	f := newFixture(t, Options{})

	tests := []struct {
		name string
		body string
		want string
	}{
		{"editing", `{"status":1,"key":"abc"}`, `{"error":0}`},
		{"fetch fails", `{"status":2,"key":"abc","url":"http://127.0.0.1:1/x","filetype":"docx"}`, `{"error":0}`},
		{"malformed", `{"status":`, ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, httptest.NewRequest(http.MethodPost, "/api/onlyoffice/callback", strings.NewReader(tt.body)))

			assert.Equal(t, http.StatusOK, rec.Code)
			if tt.want != "" {
				assert.JSONEq(t, tt.want, rec.Body.String())
				return
			}
			var ack callback.Ack
			decodeBody(t, rec, &ack)
			assert.Equal(t, 1, ack.Error)
		})
	}
	assert.Zero(t, f.store.Len(bucket))
}

func TestListAndDelete(t *testing.T) {
	f := newFixture(t, Options{})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.store.Now = func() time.Time { return now }
	older, err := f.docs.Upload(context.Background(), strings.NewReader("a"), 1, "a.docx", "")
	require.NoError(t, err)
	now = now.Add(time.Hour)
	newer, err := f.docs.Upload(context.Background(), strings.NewReader("b"), 1, "b.pptx", "")
	require.NoError(t, err)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/onlyoffice/files", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []map[string]interface{}
	decodeBody(t, rec, &listed)
	require.Len(t, listed, 2)
	assert.Equal(t, newer.Key, listed[0]["fileKey"])
	assert.Equal(t, older.Key, listed[1]["fileKey"])

	rec = f.do(t, httptest.NewRequest(http.MethodDelete, "/api/onlyoffice/delete/"+older.Key, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"message":"file deleted"}`, rec.Body.String())
	assert.Equal(t, 1, f.store.Len(bucket))

	rec = f.do(t, httptest.NewRequest(http.MethodDelete, "/api/onlyoffice/delete/"+older.Key, nil))
	var res deleteResult
	decodeBody(t, rec, &res)
	assert.False(t, res.Success)
}

func TestEditorConfig(t *testing.T) {
	f := newFixture(t, Options{})
	desc, err := f.docs.Upload(context.Background(), strings.NewReader("a"), 1, "plan.docx", "")
	require.NoError(t, err)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/onlyoffice/editor/"+desc.Key+"?mode=view&userId=u1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var cfg editor.Config
	decodeBody(t, rec, &cfg)
	assert.Equal(t, editor.TypeWord, cfg.DocumentType)
	assert.Equal(t, desc.Key, cfg.Document.Key)
	assert.Equal(t, "plan.docx", cfg.Document.Title)
	assert.Equal(t, editor.ModeView, cfg.EditorConfig.Mode)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/onlyoffice/editor/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCallbackHistory_BadLimit(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/onlyoffice/callbacks/abc?limit=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/onlyoffice/callbacks/abc", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewRouter_DefaultsLoggerAndJournal(t *testing.T) {
	store := memory.New()
	handler := NewRouter(Deps{
		Documents: document.NewService(store, document.Options{Bucket: bucket}),
		Store:     store,
	}, Options{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/onlyoffice/callbacks/abc", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(errs.New(errs.ErrKindInvalidInput, "x")))
	assert.Equal(t, http.StatusNotFound, statusFor(errs.New(errs.ErrKindNotFound, "x")))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(errs.New(errs.ErrKindTimeout, "x")))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errs.New(errs.ErrKindUploadFailed, "x")))
}
