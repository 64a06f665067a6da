package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wuyou/docbridge/internal/errs"
)

// Envelope is the error body for the upload, listing and editor endpoints.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON-encoded payload with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func ok(w http.ResponseWriter, payload interface{}) {
	writeJSON(w, http.StatusOK, payload)
}

func fail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Envelope{Success: false, Message: message})
}

// failErr picks the status from err's kind. Messages of server-side
// failures are not echoed to the client.
func failErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := http.StatusText(status)
	if status < http.StatusInternalServerError {
		msg = messageOf(err)
	}
	fail(w, status, msg)
}

func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.ErrKindInvalidInput, errs.ErrKindMalformedCallback:
		return http.StatusBadRequest
	case errs.ErrKindNotFound:
		return http.StatusNotFound
	case errs.ErrKindPermissionDenied:
		return http.StatusForbidden
	case errs.ErrKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func messageOf(err error) string {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
