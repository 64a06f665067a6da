// Package errs provides the unified error type used across all of docbridge.
//
// Every subsystem (filestore, database, callback workflow, upload intake, …)
// wraps its native errors into *errs.Error before returning them to callers.
// Callers use the Is* predicates to handle errors without importing
// driver-specific packages.
//
// Usage:
//
//	// In a driver, wrap native errors:
//	return errs.Wrap(errs.ErrKindStoreFailed, "put object failed", err)
//
//	// In a handler, check error kind:
//	if errs.IsNotFound(err) {
//	    http.Error(w, "not found", http.StatusNotFound)
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
// All backends (MinIO, Postgres, MySQL, the editor's download endpoint, …)
// map their native errors to one of these kinds.
type ErrKind int

const (
	ErrKindUnknown          ErrKind = iota
	ErrKindNotFound                 // no rows, no object, no bucket
	ErrKindConnectionFailed         // cannot reach the backend
	ErrKindTimeout                  // context deadline / cancellation
	ErrKindQueryFailed              // SQL execution error
	ErrKindInvalidInput             // bad arguments from the caller
	ErrKindPermissionDenied         // access denied / auth failure

	ErrKindFetchFailed       // editor download URL unreachable or non-2xx
	ErrKindIOFailed          // local staging read/write interrupted
	ErrKindStoreFailed       // object store put/get/delete/list failure
	ErrKindMalformedCallback // callback payload unparseable or incomplete
	ErrKindUploadFailed      // intake could not persist a new document
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindPermissionDenied:
		return "permission_denied"
	case ErrKindFetchFailed:
		return "fetch_failed"
	case ErrKindIOFailed:
		return "io_failed"
	case ErrKindStoreFailed:
		return "store_failed"
	case ErrKindMalformedCallback:
		return "malformed_callback"
	case ErrKindUploadFailed:
		return "upload_failed"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all docbridge subsystems.
// Drivers produce it; callers inspect it via the Is* predicates below.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// --- Predicates ---

// IsNotFound reports whether err represents a "not found" result
// (no rows, missing object, unknown bucket, …).
func IsNotFound(err error) bool {
	return KindOf(err) == ErrKindNotFound
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return KindOf(err) == ErrKindTimeout
}

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return KindOf(err) == ErrKindConnectionFailed
}

// IsQueryFailed reports whether err is a SQL execution failure.
func IsQueryFailed(err error) bool {
	return KindOf(err) == ErrKindQueryFailed
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return KindOf(err) == ErrKindInvalidInput
}

// IsPermissionDenied reports whether err is an access control failure.
func IsPermissionDenied(err error) bool {
	return KindOf(err) == ErrKindPermissionDenied
}

// IsFetchFailed reports whether err came from downloading an edited document.
func IsFetchFailed(err error) bool {
	return KindOf(err) == ErrKindFetchFailed
}

// IsIOFailed reports whether err is a local staging failure.
func IsIOFailed(err error) bool {
	return KindOf(err) == ErrKindIOFailed
}

// IsStoreFailed reports whether err is an object store operation failure.
func IsStoreFailed(err error) bool {
	return KindOf(err) == ErrKindStoreFailed
}

// IsMalformedCallback reports whether err rejected an inbound callback payload.
func IsMalformedCallback(err error) bool {
	return KindOf(err) == ErrKindMalformedCallback
}

// IsUploadFailed reports whether err is an intake write failure.
func IsUploadFailed(err error) bool {
	return KindOf(err) == ErrKindUploadFailed
}

// KindOf extracts the ErrKind from the outermost *Error in the chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
