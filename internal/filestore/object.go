package filestore

import (
	"io"
	"strings"
	"time"
)

// ObjectInfo describes a single object stored in a bucket.
type ObjectInfo struct {
	// Key is the full object name within the bucket (e.g. "3f2a…9c.docx").
	Key string

	// Size is the byte size of the object. -1 if unknown.
	Size int64

	// ContentType is the MIME type (e.g. "application/pdf").
	ContentType string

	// ETag is the object's entity tag / hash, as returned by the backend.
	ETag string

	// LastModified is when the object was last written.
	// Zero when the backend did not report it.
	LastModified time.Time

	// Metadata holds user metadata with lower-cased keys and no
	// provider prefix (e.g. "filename", not "X-Amz-Meta-Filename").
	Metadata map[string]string

	// IsDir is true when the entry represents a virtual directory (prefix),
	// not an actual stored object.
	IsDir bool
}

// Object is a streaming handle to an object's content.
// The caller MUST call Close() after reading to avoid resource leaks.
type Object interface {
	io.ReadCloser

	// Info returns the metadata for this object.
	Info() *ObjectInfo
}

// PutOptions controls how PutObject stores an object.
type PutOptions struct {
	// ContentType is stored with the object and served back on download.
	ContentType string

	// Metadata is attached as user metadata. Keys should be lower-case ASCII.
	Metadata map[string]string
}

// ListOptions controls how ListObjects filters results.
type ListOptions struct {
	// Prefix restricts results to objects whose key starts with this string.
	// Use "" to list everything in the bucket.
	Prefix string

	// Recursive, when true, lists all objects under the prefix without
	// grouping by virtual directories. When false (default), common prefixes
	// (virtual "folders") are returned as IsDir entries.
	Recursive bool

	// WithMetadata asks the backend to include user metadata per entry.
	WithMetadata bool

	// Limit caps the number of results returned. 0 means no cap.
	Limit int
}

// IsDirKey reports whether key names a pseudo-directory marker.
func IsDirKey(key string) bool {
	return strings.HasSuffix(key, "/")
}
