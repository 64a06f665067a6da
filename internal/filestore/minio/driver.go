// Package minio provides a MinIO implementation of filestore.Store.
//
// Usage:
//
//	cfg := filestore.DefaultConfig("localhost:9000", "minioadmin", "minioadmin")
//	store, err := minio.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
//
//	url, err := store.PresignGetURL(ctx, cfg.Bucket, "abc.docx", 24*time.Hour)
package minio

import (
	"context"
	"io"
	"strings"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/wuyou/docbridge/internal/errs"
	"github.com/wuyou/docbridge/internal/filestore"
)

const userMetaPrefix = "x-amz-meta-"

var _ filestore.Store = (*Driver)(nil)

// Driver is a MinIO implementation of filestore.Store.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	client *miniogo.Client
	region string
}

// New connects to MinIO using the provided Config and returns a Driver.
// It calls Ping to validate the connection before returning.
func New(ctx context.Context, cfg *filestore.Config) (*Driver, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create minio client", err)
	}

	d := &Driver{client: client, region: cfg.Region}

	if err := d.Ping(ctx); err != nil {
		return nil, err
	}

	return d, nil
}

// --- filestore.Store implementation ---

// Ping verifies the MinIO server is reachable by listing buckets.
func (d *Driver) Ping(ctx context.Context) error {
	if _, err := d.client.ListBuckets(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Close is a no-op for MinIO; the SDK client holds no persistent connections.
func (d *Driver) Close() error {
	return nil
}

// EnsureBucket creates bucket if it does not already exist.
func (d *Driver) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := d.client.BucketExists(ctx, bucket)
	if err != nil {
		return mapError(err, "failed to check bucket")
	}
	if exists {
		return nil
	}
	if err := d.client.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{Region: d.region}); err != nil {
		return mapError(err, "failed to create bucket")
	}
	return nil
}

// PutObject streams r into bucket under key. S3 semantics make this a
// whole-object replace: readers see either the old or the new version.
func (d *Driver) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts filestore.PutOptions) (*filestore.ObjectInfo, error) {
	info, err := d.client.PutObject(ctx, bucket, key, r, size, miniogo.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return nil, mapError(err, "failed to put object")
	}

	return &filestore.ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ContentType:  opts.ContentType,
		ETag:         info.ETag,
		LastModified: info.LastModified,
		Metadata:     normalizeMetadata(opts.Metadata),
	}, nil
}

// GetObject opens a streaming handle to the object at key inside bucket.
// The caller MUST call Object.Close() after reading.
func (d *Driver) GetObject(ctx context.Context, bucket, key string) (filestore.Object, error) {
	obj, err := d.client.GetObject(ctx, bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err, "failed to get object")
	}

	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, mapError(err, "failed to stat object after get")
	}

	return &object{
		ReadCloser: obj,
		info:       toObjectInfo(stat),
	}, nil
}

// StatObject returns metadata for the object at key inside bucket
// without downloading its content.
func (d *Driver) StatObject(ctx context.Context, bucket, key string) (*filestore.ObjectInfo, error) {
	stat, err := d.client.StatObject(ctx, bucket, key, miniogo.StatObjectOptions{})
	if err != nil {
		return nil, mapError(err, "failed to stat object")
	}
	return toObjectInfo(stat), nil
}

// RemoveObject deletes the object at key inside bucket.
func (d *Driver) RemoveObject(ctx context.Context, bucket, key string) error {
	if err := d.client.RemoveObject(ctx, bucket, key, miniogo.RemoveObjectOptions{}); err != nil {
		return mapError(err, "failed to remove object")
	}
	return nil
}

// ListObjects returns objects in bucket that match opts.
func (d *Driver) ListObjects(ctx context.Context, bucket string, opts filestore.ListOptions) ([]filestore.ObjectInfo, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listOpts := miniogo.ListObjectsOptions{
		Prefix:       opts.Prefix,
		Recursive:    opts.Recursive,
		WithMetadata: opts.WithMetadata,
	}

	var results []filestore.ObjectInfo
	for obj := range d.client.ListObjects(ctx, bucket, listOpts) {
		if obj.Err != nil {
			return nil, mapError(obj.Err, "failed to list objects")
		}

		info := toObjectInfo(obj)
		info.IsDir = filestore.IsDirKey(obj.Key)
		results = append(results, *info)

		if opts.Limit > 0 && len(results) >= opts.Limit {
			break
		}
	}

	return results, nil
}

// PresignGetURL returns a time-limited public download URL for the object.
func (d *Driver) PresignGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	u, err := d.client.PresignedGetObject(ctx, bucket, key, ttl, nil)
	if err != nil {
		return "", mapError(err, "failed to generate presigned URL")
	}
	return u.String(), nil
}

// --- internal helpers ---

func toObjectInfo(o miniogo.ObjectInfo) *filestore.ObjectInfo {
	return &filestore.ObjectInfo{
		Key:          o.Key,
		Size:         o.Size,
		ContentType:  o.ContentType,
		ETag:         o.ETag,
		LastModified: o.LastModified,
		Metadata:     normalizeMetadata(o.UserMetadata),
	}
}

// normalizeMetadata lower-cases keys and strips the S3 user metadata prefix.
// StatObject and ListObjects report the same metadata with different casing.
func normalizeMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		k = strings.ToLower(k)
		out[strings.TrimPrefix(k, userMetaPrefix)] = v
	}
	return out
}

// object wraps a MinIO GetObject response and exposes filestore.Object.
type object struct {
	io.ReadCloser
	info *filestore.ObjectInfo
}

func (o *object) Info() *filestore.ObjectInfo {
	return o.info
}
