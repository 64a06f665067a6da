package minio

import (
	"context"
	"errors"
	"net"
	"net/http"

	miniogo "github.com/minio/minio-go/v7"

	"github.com/wuyou/docbridge/internal/errs"
)

// mapError translates a MinIO SDK error into a *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	// MinIO SDK exposes a typed ErrorResponse for S3-protocol errors
	resp := miniogo.ToErrorResponse(err)
	if resp.Code != "" || resp.StatusCode != 0 {
		switch resp.Code {
		case "NoSuchBucket", "NoSuchKey", "NoSuchUpload":
			return errs.Wrap(errs.ErrKindNotFound, msg, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return errs.Wrap(errs.ErrKindPermissionDenied, msg, err)
		case "InvalidBucketName", "InvalidObjectName", "KeyTooLongError":
			return errs.Wrap(errs.ErrKindInvalidInput, msg, err)
		case "RequestTimeout", "SlowDown":
			return errs.Wrap(errs.ErrKindTimeout, msg, err)
		}

		switch resp.StatusCode {
		case http.StatusNotFound:
			return errs.Wrap(errs.ErrKindNotFound, msg, err)
		case http.StatusForbidden, http.StatusUnauthorized:
			return errs.Wrap(errs.ErrKindPermissionDenied, msg, err)
		case http.StatusBadRequest:
			return errs.Wrap(errs.ErrKindInvalidInput, msg, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return errs.Wrap(errs.ErrKindTimeout, msg, err)
		}
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}

	return errs.Wrap(errs.ErrKindStoreFailed, msg, err)
}
