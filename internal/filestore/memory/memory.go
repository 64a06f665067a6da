// Package memory provides an in-process filestore.Store.
//
// It backs the test suites and the "memory" provider for running docbridge
// without an object store. Objects live only as long as the process.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wuyou/docbridge/internal/errs"
	"github.com/wuyou/docbridge/internal/filestore"
)

var _ filestore.Store = (*Store)(nil)

type entry struct {
	data []byte
	info filestore.ObjectInfo
}

// Store keeps objects in a map per bucket. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	buckets map[string]map[string]*entry

	// Now stamps LastModified on writes. Defaults to time.Now.
	Now func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		buckets: make(map[string]map[string]*entry),
		Now:     time.Now,
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) EnsureBucket(_ context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[bucket]; !ok {
		s.buckets[bucket] = make(map[string]*entry)
	}
	return nil
}

// PutObject reads r fully before swapping the entry in, so concurrent
// readers see the old or the new bytes, never a mix.
func (s *Store) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts filestore.PutOptions) (*filestore.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindTimeout, "failed to put object", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindStoreFailed, "failed to read object body", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return nil, errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("size mismatch: declared %d, read %d", size, len(data)))
	}

	meta := make(map[string]string, len(opts.Metadata))
	for k, v := range opts.Metadata {
		meta[strings.ToLower(k)] = v
	}

	e := &entry{
		data: data,
		info: filestore.ObjectInfo{
			Key:          key,
			Size:         int64(len(data)),
			ContentType:  opts.ContentType,
			ETag:         fmt.Sprintf("%x", len(data)),
			LastModified: s.Now(),
			Metadata:     meta,
		},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	objects, ok := s.buckets[bucket]
	if !ok {
		return nil, errs.New(errs.ErrKindNotFound, "bucket does not exist")
	}
	objects[key] = e

	info := e.info
	return &info, nil
}

func (s *Store) GetObject(_ context.Context, bucket, key string) (filestore.Object, error) {
	e, err := s.lookup(bucket, key)
	if err != nil {
		return nil, err
	}
	info := e.info
	return &object{Reader: bytes.NewReader(e.data), info: &info}, nil
}

func (s *Store) StatObject(_ context.Context, bucket, key string) (*filestore.ObjectInfo, error) {
	e, err := s.lookup(bucket, key)
	if err != nil {
		return nil, err
	}
	info := e.info
	return &info, nil
}

func (s *Store) RemoveObject(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	objects, ok := s.buckets[bucket]
	if !ok {
		return errs.New(errs.ErrKindNotFound, "bucket does not exist")
	}
	delete(objects, key)
	return nil
}

func (s *Store) ListObjects(_ context.Context, bucket string, opts filestore.ListOptions) ([]filestore.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	objects, ok := s.buckets[bucket]
	if !ok {
		return nil, errs.New(errs.ErrKindNotFound, "bucket does not exist")
	}

	keys := make([]string, 0, len(objects))
	for k := range objects {
		if strings.HasPrefix(k, opts.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var results []filestore.ObjectInfo
	seenDirs := make(map[string]bool)
	for _, k := range keys {
		if !opts.Recursive {
			rest := strings.TrimPrefix(k, opts.Prefix)
			if i := strings.Index(rest, "/"); i >= 0 && i < len(rest)-1 {
				dir := opts.Prefix + rest[:i+1]
				if !seenDirs[dir] {
					seenDirs[dir] = true
					results = append(results, filestore.ObjectInfo{Key: dir, Size: -1, IsDir: true})
				}
				continue
			}
			if filestore.IsDirKey(k) {
				if seenDirs[k] {
					continue
				}
				seenDirs[k] = true
			}
		}

		info := objects[k].info
		info.IsDir = filestore.IsDirKey(k)
		if !opts.WithMetadata {
			info.Metadata = nil
		}
		results = append(results, info)

		if opts.Limit > 0 && len(results) >= opts.Limit {
			break
		}
	}
	return results, nil
}

// PresignGetURL returns a memory:// URL; it is only meaningful inside tests.
func (s *Store) PresignGetURL(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if _, err := s.lookup(bucket, key); err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("expires", s.Now().Add(ttl).UTC().Format(time.RFC3339))
	u := url.URL{Scheme: "memory", Host: bucket, Path: "/" + key, RawQuery: q.Encode()}
	return u.String(), nil
}

// Bytes returns a copy of the stored object's content. Test helper.
func (s *Store) Bytes(bucket, key string) ([]byte, bool) {
	e, err := s.lookup(bucket, key)
	if err != nil {
		return nil, false
	}
	return bytes.Clone(e.data), true
}

// Len reports how many objects bucket holds.
func (s *Store) Len(bucket string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets[bucket])
}

func (s *Store) lookup(bucket, key string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	objects, ok := s.buckets[bucket]
	if !ok {
		return nil, errs.New(errs.ErrKindNotFound, "bucket does not exist")
	}
	e, ok := objects[key]
	if !ok {
		return nil, errs.New(errs.ErrKindNotFound, "object does not exist")
	}
	return e, nil
}

type object struct {
	*bytes.Reader
	info *filestore.ObjectInfo
}

func (o *object) Close() error { return nil }

func (o *object) Info() *filestore.ObjectInfo { return o.info }
