package callback

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuyou/docbridge/internal/document"
	"github.com/wuyou/docbridge/internal/errs"
	"github.com/wuyou/docbridge/internal/filestore"
	"github.com/wuyou/docbridge/internal/filestore/memory"
)

const testBucket = "documents"

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.EnsureBucket(context.Background(), testBucket))
	return store
}

func newTestWorkflow(t *testing.T, store filestore.Store, cfg WorkflowConfig) (*Workflow, string) {
	t.Helper()
	cfg.Bucket = testBucket
	if cfg.StagingDir == "" {
		cfg.StagingDir = t.TempDir()
	}
	return NewWorkflow(store, cfg, nil, nil), cfg.StagingDir
}

func editorServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func saveEvent(key, url, fileType string) *Event {
	return &Event{Status: StatusReadyToSave, Key: key, URL: url, FileType: fileType}
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staging artifacts left behind")
}

func TestWorkflow_ReplaceOverwritesObject(t *testing.T) {
	store := newTestStore(t)
	_, err := store.PutObject(context.Background(), testBucket, "abc.docx", strings.NewReader("old"), 3, filestore.PutOptions{
		ContentType: document.MIMEWord,
		Metadata:    map[string]string{"filename": "report.docx"},
	})
	require.NoError(t, err)

	srv := editorServer(t, "edited content")
	wf, dir := newTestWorkflow(t, store, WorkflowConfig{})

	res, err := wf.Replace(context.Background(), saveEvent("abc", srv.URL+"/x.docx", "docx"))
	require.NoError(t, err)

	assert.Equal(t, "abc.docx", res.ObjectName)
	assert.Equal(t, document.MIMEWord, res.ContentType)
	assert.Equal(t, int64(len("edited content")), res.Bytes)

	data, ok := store.Bytes(testBucket, "abc.docx")
	require.True(t, ok)
	assert.Equal(t, "edited content", string(data))
	assert.Equal(t, 1, store.Len(testBucket))

	info, err := store.StatObject(context.Background(), testBucket, "abc.docx")
	require.NoError(t, err)
	assert.Equal(t, "report.docx", info.Metadata["filename"])

	assertEmptyDir(t, dir)
}

func TestWorkflow_ReplaceIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	srv := editorServer(t, "same bytes")
	wf, _ := newTestWorkflow(t, store, WorkflowConfig{})
	ev := saveEvent("abc", srv.URL, "xlsx")

	_, err := wf.Replace(context.Background(), ev)
	require.NoError(t, err)
	first, _ := store.Bytes(testBucket, "abc.xlsx")

	_, err = wf.Replace(context.Background(), ev)
	require.NoError(t, err)
	second, _ := store.Bytes(testBucket, "abc.xlsx")

	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.Len(testBucket))
}

func TestWorkflow_FetchFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "gone", http.StatusNotFound)
			},
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			wf, dir := newTestWorkflow(t, store, WorkflowConfig{})

			_, err := wf.Replace(context.Background(), saveEvent("abc", srv.URL, "docx"))

			assert.True(t, errs.IsFetchFailed(err))
			assert.Zero(t, store.Len(testBucket))
			assertEmptyDir(t, dir)
		})
	}
}

func TestWorkflow_UnreachableEditor(t *testing.T) {
	store := newTestStore(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	wf, dir := newTestWorkflow(t, store, WorkflowConfig{FetchTimeout: time.Second})

	_, err := wf.Replace(context.Background(), saveEvent("abc", url, "docx"))

	assert.True(t, errs.IsFetchFailed(err))
	assertEmptyDir(t, dir)
}

func TestWorkflow_Oversize(t *testing.T) {
	tests := []struct {
		name          string
		declareLength bool
	}{
		{"declared length", true},
		{"streamed", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			payload := strings.Repeat("x", 64)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.declareLength {
					w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
				} else {
					w.(http.Flusher).Flush()
				}
				_, _ = w.Write([]byte(payload))
			}))
			defer srv.Close()

			wf, dir := newTestWorkflow(t, store, WorkflowConfig{MaxDocumentBytes: 16})

			_, err := wf.Replace(context.Background(), saveEvent("abc", srv.URL, "docx"))

			assert.True(t, errs.IsIOFailed(err))
			assert.Zero(t, store.Len(testBucket))
			assertEmptyDir(t, dir)
		})
	}
}

type brokenStore struct {
	*memory.Store
}

func (brokenStore) PutObject(context.Context, string, string, io.Reader, int64, filestore.PutOptions) (*filestore.ObjectInfo, error) {
	return nil, errs.New(errs.ErrKindConnectionFailed, "store unreachable")
}

func TestWorkflow_StoreFailure(t *testing.T) {
	store := newTestStore(t)
	srv := editorServer(t, "edited")
	wf, dir := newTestWorkflow(t, brokenStore{Store: store}, WorkflowConfig{})

	_, err := wf.Replace(context.Background(), saveEvent("abc", srv.URL, "docx"))

	assert.True(t, errs.IsStoreFailed(err))
	assertEmptyDir(t, dir)
}

func TestWorkflow_SurvivesCallerCancellation(t *testing.T) {
	store := newTestStore(t)
	srv := editorServer(t, "edited")
	wf, _ := newTestWorkflow(t, store, WorkflowConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := wf.Replace(ctx, saveEvent("abc", srv.URL, "docx"))
	require.NoError(t, err)

	data, ok := store.Bytes(testBucket, "abc.docx")
	require.True(t, ok)
	assert.Equal(t, "edited", string(data))
}

// Per-key serialization is opt-in through SerializeSaves. Without it,
// concurrent saves of one key race and the last PutObject wins.
func TestWorkflow_SerializesSameKey(t *testing.T) {
	var active, peak int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&active, 1)
		defer atomic.AddInt32(&active, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		_, _ = w.Write([]byte(r.URL.Query().Get("v")))
	}))
	defer srv.Close()

	store := newTestStore(t)
	wf, dir := newTestWorkflow(t, store, WorkflowConfig{SerializeSaves: true})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := wf.Replace(context.Background(), saveEvent("abc", srv.URL+"/?v="+strconv.Itoa(i), "docx"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak)
	assert.Zero(t, wf.locks.inFlight())
	assert.Equal(t, 1, store.Len(testBucket))
	assertEmptyDir(t, dir)
}

func TestWorkflow_LastWriteWinsWithoutSerialization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Query().Get("v")))
	}))
	defer srv.Close()

	store := newTestStore(t)
	wf, dir := newTestWorkflow(t, store, WorkflowConfig{SerializeSaves: false})

	for _, v := range []string{"one", "two", "three"} {
		_, err := wf.Replace(context.Background(), saveEvent("abc", srv.URL+"/?v="+v, "docx"))
		require.NoError(t, err)
	}
	data, ok := store.Bytes(testBucket, "abc.docx")
	require.True(t, ok)
	assert.Equal(t, "three", string(data))

	versions := map[string]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		v := "v" + strconv.Itoa(i)
		versions[v] = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := wf.Replace(context.Background(), saveEvent("abc", srv.URL+"/?v="+v, "docx"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	data, ok = store.Bytes(testBucket, "abc.docx")
	require.True(t, ok)
	assert.True(t, versions[string(data)], "stored %q is not one of the saved versions", data)
	assert.Equal(t, 1, store.Len(testBucket))
	assert.Zero(t, wf.locks.inFlight())
	assertEmptyDir(t, dir)
}

func TestWorkflow_QueueTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()

	store := newTestStore(t)
	wf, _ := newTestWorkflow(t, store, WorkflowConfig{MaxConcurrent: 1, QueueTimeout: 20 * time.Millisecond})

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		close(started)
		_, _ = wf.Replace(context.Background(), saveEvent("first", srv.URL, "docx"))
	}()
	<-started
	time.Sleep(100 * time.Millisecond)

	_, err := wf.Replace(context.Background(), saveEvent("second", srv.URL, "docx"))
	assert.True(t, errs.IsTimeout(err))

	// The first save must finish before the temp dirs and server go away.
	close(release)
	<-done
}
