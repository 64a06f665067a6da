// Package journal records every callback docbridge receives together with
// the outcome of acting on it.
//
// Entries are best-effort history for operators: a failing journal is logged
// by the callback processor and never changes the acknowledgement sent to
// the editor.
package journal

import (
	"context"
	"time"
)

// Outcome values stored in Entry.Outcome.
const (
	OutcomeIgnored   = "ignored"
	OutcomeSaved     = "saved"
	OutcomeFailed    = "failed"
	OutcomeReported  = "reported"
	OutcomeUnknown   = "unknown"
	OutcomeMalformed = "malformed"
)

// Entry is one journaled callback.
type Entry struct {
	ID         int64     `json:"id"`
	Key        string    `json:"key"`
	Status     int       `json:"status"`
	Action     string    `json:"action"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	Bytes      int64     `json:"bytes"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Journal stores and reads back callback entries.
type Journal interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, key string, limit int) ([]Entry, error)
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

func (Nop) Recent(context.Context, string, int) ([]Entry, error) { return nil, nil }
