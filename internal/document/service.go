// Package document holds the document model and the user-facing operations on
// it: upload intake, listing and deletion against a filestore.Store.
package document

import (
	"context"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/wuyou/docbridge/internal/errs"
	"github.com/wuyou/docbridge/internal/filestore"
	"github.com/wuyou/docbridge/internal/logger"
)

// metaFilename is the user metadata key holding the original filename,
// query-escaped so non-ASCII names survive HTTP headers.
const metaFilename = "filename"

const (
	defaultPresignTTL    = 7 * 24 * time.Hour
	defaultUploadTimeout = 2 * time.Minute
	defaultURLCacheSize  = 1024
)

// Observer receives upload telemetry.
type Observer interface {
	RecordUpload(duration time.Duration, sizeBytes int64, err error)
}

type nopObserver struct{}

func (nopObserver) RecordUpload(time.Duration, int64, error) {}

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	Bucket        string
	PresignTTL    time.Duration
	UploadTimeout time.Duration
	URLCacheSize  int // negative disables the presign cache
	Logger        *logger.Logger
	Observer      Observer
	Now           func() time.Time
}

// Service implements upload intake, listing and deletion.
// It is safe for concurrent use; every call is independent.
type Service struct {
	store         filestore.Store
	bucket        string
	presignTTL    time.Duration
	uploadTimeout time.Duration
	urls          *urlCache
	log           *logger.Logger
	observer      Observer
	now           func() time.Time
}

// NewService wires a Service over store.
func NewService(store filestore.Store, opts Options) *Service {
	s := &Service{
		store:         store,
		bucket:        opts.Bucket,
		presignTTL:    opts.PresignTTL,
		uploadTimeout: opts.UploadTimeout,
		log:           opts.Logger,
		observer:      opts.Observer,
		now:           opts.Now,
	}
	if s.presignTTL <= 0 {
		s.presignTTL = defaultPresignTTL
	}
	if s.uploadTimeout <= 0 {
		s.uploadTimeout = defaultUploadTimeout
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.now == nil {
		s.now = time.Now
	}

	cacheSize := opts.URLCacheSize
	if cacheSize == 0 {
		cacheSize = defaultURLCacheSize
	}
	s.urls = newURLCache(cacheSize, s.presignTTL)
	return s
}

// Bucket returns the bucket all documents live in.
func (s *Service) Bucket() string {
	return s.bucket
}

// Upload stores a new document under a freshly generated key. It never
// reuses or merges with an existing object. The stored content type is
// derived from the filename's extension; declaredContentType is only logged.
// Any directory part of filename is dropped.
func (s *Service) Upload(ctx context.Context, r io.Reader, size int64, filename, declaredContentType string) (*Descriptor, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "filename is required")
	}
	filename = BaseName(filename)
	if filename == "" || filename == "." || filename == ".." {
		return nil, errs.New(errs.ErrKindInvalidInput, "filename has no base name")
	}

	ext := Extension(filename)
	desc := newDescriptor(NewKey(), filename, ext, s.now())
	objectName := desc.ObjectName()

	log := s.log.With().
		Str("document_key", desc.Key).
		Str("object", objectName).
		Logger()
	if declaredContentType != "" && declaredContentType != desc.ContentType {
		log.Debugf("declared content type %q replaced by %q", declaredContentType, desc.ContentType)
	}

	putCtx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	defer cancel()

	start := time.Now()
	info, err := s.store.PutObject(putCtx, s.bucket, objectName, r, size, filestore.PutOptions{
		ContentType: desc.ContentType,
		Metadata:    map[string]string{metaFilename: url.QueryEscape(filename)},
	})
	if err != nil {
		s.observer.RecordUpload(time.Since(start), 0, err)
		log.ErrorWith("upload failed", err, map[string]interface{}{"filename": filename})
		return nil, errs.Wrap(errs.ErrKindUploadFailed, "failed to store document", err)
	}
	s.observer.RecordUpload(time.Since(start), info.Size, nil)

	desc.URL = s.retrievalURL(ctx, objectName)
	log.Info("document uploaded")
	return desc, nil
}

// List returns every stored document, newest first. Pseudo-directory
// markers are skipped. Entries without a timestamp sort after dated ones,
// keeping their store order.
func (s *Service) List(ctx context.Context) ([]*Descriptor, error) {
	objects, err := s.store.ListObjects(ctx, s.bucket, filestore.ListOptions{WithMetadata: true})
	if err != nil {
		s.log.ErrorWith("list documents failed", err, map[string]interface{}{"bucket": s.bucket})
		return nil, errs.Wrap(errs.ErrKindStoreFailed, "failed to list documents", err)
	}

	docs := make([]*Descriptor, 0, len(objects))
	for i := range objects {
		obj := &objects[i]
		if obj.IsDir || filestore.IsDirKey(obj.Key) {
			continue
		}
		desc := s.describe(obj)
		desc.URL = s.retrievalURL(ctx, obj.Key)
		docs = append(docs, desc)
	}

	sortNewestFirst(docs)
	return docs, nil
}

// Lookup returns the descriptor for a document addressed by key or by
// object name.
func (s *Service) Lookup(ctx context.Context, ref string) (*Descriptor, error) {
	info, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	desc := s.describe(info)
	desc.URL = s.retrievalURL(ctx, info.Key)
	return desc, nil
}

// Delete removes the document addressed by key or by object name.
func (s *Service) Delete(ctx context.Context, ref string) error {
	info, err := s.resolve(ctx, ref)
	if err != nil {
		return err
	}

	if err := s.store.RemoveObject(ctx, s.bucket, info.Key); err != nil {
		s.log.ErrorWith("delete document failed", err, map[string]interface{}{"object": info.Key})
		return errs.Wrap(errs.ErrKindStoreFailed, "failed to delete document", err)
	}
	s.urls.evict(info.Key)

	s.log.With().Str("object", info.Key).Logger().Info("document deleted")
	return nil
}

// resolve finds the stored object for ref, which is either an exact object
// name ("abc.docx") or a bare document key ("abc").
func (s *Service) resolve(ctx context.Context, ref string) (*filestore.ObjectInfo, error) {
	if ref == "" || strings.Contains(ref, "/") {
		return nil, errs.New(errs.ErrKindInvalidInput, "invalid document reference")
	}

	info, err := s.store.StatObject(ctx, s.bucket, ref)
	if err == nil {
		return info, nil
	}
	if !errs.IsNotFound(err) {
		return nil, errs.Wrap(errs.ErrKindStoreFailed, "failed to stat document", err)
	}

	candidates, err := s.store.ListObjects(ctx, s.bucket, filestore.ListOptions{
		Prefix:       ref + ".",
		Recursive:    true,
		WithMetadata: true,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindStoreFailed, "failed to look up document", err)
	}
	for i := range candidates {
		if key, _ := SplitObjectName(candidates[i].Key); key == ref {
			return &candidates[i], nil
		}
	}
	return nil, errs.New(errs.ErrKindNotFound, "document not found")
}

// describe rebuilds a descriptor from a stored object. The key is recovered
// from the object name, never regenerated.
func (s *Service) describe(obj *filestore.ObjectInfo) *Descriptor {
	key, ext := SplitObjectName(obj.Key)
	display := obj.Key
	if raw, ok := obj.Metadata[metaFilename]; ok {
		if name, err := url.QueryUnescape(raw); err == nil && Extension(name) == ext {
			display = name
		}
	}
	return newDescriptor(key, display, ext, obj.LastModified)
}

// retrievalURL presigns objectName. A failure is logged and yields "" so
// one bad entry never fails a whole listing.
func (s *Service) retrievalURL(ctx context.Context, objectName string) string {
	if u, ok := s.urls.get(objectName); ok {
		return u
	}
	u, err := s.store.PresignGetURL(ctx, s.bucket, objectName, s.presignTTL)
	if err != nil {
		s.log.ErrorWith("presign failed", err, map[string]interface{}{"object": objectName})
		return ""
	}
	s.urls.put(objectName, u)
	return u
}

func sortNewestFirst(docs []*Descriptor) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i].CreatedAt, docs[j].CreatedAt
		switch {
		case a.IsZero():
			return false
		case b.IsZero():
			return true
		default:
			return a.After(b)
		}
	})
}
