// Package filestore defines the unified interface for object storage backends.
//
// All providers (MinIO, the in-memory store, …) implement the Store interface.
// Callers depend only on this package, never on a specific provider package.
//
// Usage:
//
//	cfg := filestore.DefaultConfig("localhost:9000", "minioadmin", "minioadmin")
//	store, err := minio.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
//
//	info, err := store.PutObject(ctx, cfg.Bucket, "abc.docx", r, size, filestore.PutOptions{})
package filestore

import (
	"context"
	"io"
	"time"
)

// Store is the single interface all object storage providers must implement.
// Writes are atomic per object: a reader never observes a partially written object.
type Store interface {
	// Ping verifies the storage backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any held resources (connections, goroutines, etc.).
	Close() error

	// EnsureBucket creates bucket if it does not exist yet.
	EnsureBucket(ctx context.Context, bucket string) error

	// PutObject writes r under key, replacing any object already stored there.
	// size is the exact byte count, or -1 when unknown.
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts PutOptions) (*ObjectInfo, error)

	// GetObject opens a streaming handle to the object at key inside bucket.
	// The caller MUST call Object.Close() after reading.
	GetObject(ctx context.Context, bucket, key string) (Object, error)

	// StatObject returns metadata for the object at key inside bucket
	// without downloading its content.
	StatObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)

	// RemoveObject deletes the object at key. Removing a missing key is not an error.
	RemoveObject(ctx context.Context, bucket, key string) error

	// ListObjects returns the objects in bucket that match opts.
	// Virtual directory entries (common prefixes) are included when opts.Recursive is false.
	ListObjects(ctx context.Context, bucket string, opts ListOptions) ([]ObjectInfo, error)

	// PresignGetURL returns a time-limited URL that allows anyone to download
	// the object at key inside bucket without credentials.
	PresignGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}
