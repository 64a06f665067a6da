package callback

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/wuyou/docbridge/internal/document"
	"github.com/wuyou/docbridge/internal/errs"
	"github.com/wuyou/docbridge/internal/filestore"
	"github.com/wuyou/docbridge/internal/logger"
	"github.com/wuyou/docbridge/internal/staging"
)

const (
	defaultFetchTimeout    = 8 * time.Second
	defaultDownloadTimeout = 2 * time.Minute
	defaultUploadTimeout   = 2 * time.Minute
	defaultQueueTimeout    = 30 * time.Second
	defaultMaxConcurrent   = 16
)

// WorkflowConfig tunes the fetch-and-replace workflow. Zero values fall
// back to defaults.
type WorkflowConfig struct {
	Bucket string

	// FetchTimeout bounds connecting to the editor and receiving headers.
	FetchTimeout time.Duration
	// DownloadTimeout bounds the whole transfer of the edited document.
	DownloadTimeout time.Duration
	// UploadTimeout bounds writing the staged document to the store.
	UploadTimeout time.Duration
	// QueueTimeout bounds waiting for a free save slot.
	QueueTimeout time.Duration

	// MaxDocumentBytes caps a fetched document; 0 means no cap.
	MaxDocumentBytes int64
	// MaxConcurrent caps saves running at once across all keys.
	MaxConcurrent int64
	// StagingDir holds staging artifacts; "" uses staging.DefaultDir().
	StagingDir string
	// SerializeSaves runs saves for the same key one at a time, so the
	// last save to finish wins without interleaving with another.
	SerializeSaves bool
}

// Result describes a completed replace.
type Result struct {
	ObjectName  string
	ContentType string
	Bytes       int64
	Duration    time.Duration
}

// Workflow downloads an edited document into a staging artifact and
// replaces the stored object with it.
type Workflow struct {
	store  filestore.Store
	client *http.Client
	cfg    WorkflowConfig
	slots  *semaphore.Weighted
	locks  *keyLocker
	log    *logger.Logger
}

// NewWorkflow builds a Workflow. A nil client gets one whose dial, TLS and
// response-header waits are bounded by cfg.FetchTimeout.
func NewWorkflow(store filestore.Store, cfg WorkflowConfig, client *http.Client, log *logger.Logger) *Workflow {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = defaultDownloadTimeout
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = defaultUploadTimeout
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = defaultQueueTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if client == nil {
		client = newFetchClient(cfg.FetchTimeout)
	}
	if log == nil {
		log = logger.Nop()
	}

	return &Workflow{
		store:  store,
		client: client,
		cfg:    cfg,
		slots:  semaphore.NewWeighted(cfg.MaxConcurrent),
		locks:  newKeyLocker(),
		log:    log,
	}
}

func newFetchClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// Replace runs fetch → stage → put for ev. It detaches from ctx's
// cancellation: once a save is accepted it runs to completion, bounded only
// by the workflow's own timeouts. Re-running it for the same event
// converges on the same stored bytes.
func (w *Workflow) Replace(ctx context.Context, ev *Event) (*Result, error) {
	start := time.Now()
	ctx = context.WithoutCancel(ctx)

	queueCtx, cancel := context.WithTimeout(ctx, w.cfg.QueueTimeout)
	err := w.slots.Acquire(queueCtx, 1)
	cancel()
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindTimeout, "no save slot available", err)
	}
	defer w.slots.Release(1)

	if w.cfg.SerializeSaves {
		unlock := w.locks.Lock(ev.Key)
		defer unlock()
	}

	art, err := staging.New(w.cfg.StagingDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := art.Release(); err != nil {
			w.log.ErrorWith("staging cleanup failed", err, map[string]interface{}{"path": art.Path()})
		}
	}()

	if err := w.fetch(ctx, ev.URL, art); err != nil {
		return nil, err
	}

	objectName := ev.ObjectName()
	contentType := document.ContentType(ev.FileType)

	r, err := art.Reader()
	if err != nil {
		return nil, err
	}

	putCtx, cancel := context.WithTimeout(ctx, w.cfg.UploadTimeout)
	defer cancel()

	_, err = w.store.PutObject(putCtx, w.cfg.Bucket, objectName, r, art.Size(), filestore.PutOptions{
		ContentType: contentType,
		Metadata:    w.carriedMetadata(putCtx, objectName),
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindStoreFailed, "failed to replace stored document", err)
	}

	return &Result{
		ObjectName:  objectName,
		ContentType: contentType,
		Bytes:       art.Size(),
		Duration:    time.Since(start),
	}, nil
}

// fetch streams rawURL into art. The response body is closed on every path.
func (w *Workflow) fetch(ctx context.Context, rawURL string, art *staging.Artifact) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errs.Wrap(errs.ErrKindFetchFailed, "failed to build download request", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.ErrKindFetchFailed, "failed to reach editor download URL", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errs.New(errs.ErrKindFetchFailed, fmt.Sprintf("editor download URL returned %d", resp.StatusCode))
	}
	if limit := w.cfg.MaxDocumentBytes; limit > 0 && resp.ContentLength > limit {
		return errs.Wrap(errs.ErrKindIOFailed, fmt.Sprintf("document of %d bytes exceeds limit", resp.ContentLength), staging.ErrTooLarge)
	}

	_, err = art.Fill(resp.Body, w.cfg.MaxDocumentBytes)
	return err
}

// carriedMetadata returns the user metadata of the object being replaced,
// so the original filename survives saves. Lookup failures only cost the
// metadata, never the save.
func (w *Workflow) carriedMetadata(ctx context.Context, objectName string) map[string]string {
	info, err := w.store.StatObject(ctx, w.cfg.Bucket, objectName)
	if err != nil {
		if !errs.IsNotFound(err) {
			w.log.WarnWith("could not read metadata of replaced object", map[string]interface{}{
				"object": objectName,
				"error":  err.Error(),
			})
		}
		return nil
	}
	return info.Metadata
}
