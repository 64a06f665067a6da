package callback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuyou/docbridge/internal/errs"
	"github.com/wuyou/docbridge/internal/journal"
	"github.com/wuyou/docbridge/internal/token"
)

type fakeReplacer struct {
	mu     sync.Mutex
	events []*Event
	err    error
}

func (f *fakeReplacer) Replace(_ context.Context, ev *Event) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	if f.err != nil {
		return nil, f.err
	}
	return &Result{ObjectName: ev.ObjectName(), Bytes: 10, Duration: time.Millisecond}, nil
}

type memJournal struct {
	entries []journal.Entry
	err     error
}

func (j *memJournal) Record(_ context.Context, e journal.Entry) error {
	j.entries = append(j.entries, e)
	return j.err
}

func (j *memJournal) Recent(context.Context, string, int) ([]journal.Entry, error) {
	return j.entries, nil
}

type countingObserver struct {
	actions []Action
	saves   []error
}

func (o *countingObserver) RecordCallback(a Action) { o.actions = append(o.actions, a) }

func (o *countingObserver) RecordSave(_ time.Duration, _ int64, err error) {
	o.saves = append(o.saves, err)
}

func newTestProcessor(r Replacer, opts ProcessorOptions) (*Processor, *memJournal, *countingObserver) {
	j := &memJournal{}
	obs := &countingObserver{}
	opts.Journal = j
	opts.Observer = obs
	return NewProcessor(r, opts), j, obs
}

func TestProcessor_AcknowledgesEveryStatus(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		replaced int
		outcome  string
	}{
		{"editing", `{"status":1,"key":"abc"}`, 0, journal.OutcomeIgnored},
		{"save", `{"status":2,"key":"abc","url":"http://ds/f","filetype":"docx"}`, 1, journal.OutcomeSaved},
		{"save error", `{"status":3,"key":"abc","url":"http://ds/f"}`, 0, journal.OutcomeReported},
		{"closed", `{"status":4,"key":"abc"}`, 0, journal.OutcomeIgnored},
		{"force save", `{"status":6,"key":"abc","url":"http://ds/f","filetype":"xlsx"}`, 1, journal.OutcomeSaved},
		{"force save error", `{"status":7,"key":"abc"}`, 0, journal.OutcomeReported},
		{"unknown", `{"status":42,"key":"abc"}`, 0, journal.OutcomeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeReplacer{}
			p, j, _ := newTestProcessor(r, ProcessorOptions{})

			ack := p.Handle(context.Background(), []byte(tt.body), "")

			assert.Equal(t, Ack{Error: 0}, ack)
			assert.Len(t, r.events, tt.replaced)
			require.Len(t, j.entries, 1)
			assert.Equal(t, tt.outcome, j.entries[0].Outcome)
			assert.Equal(t, "abc", j.entries[0].Key)
		})
	}
}

func TestProcessor_SaveFailureStillAcknowledged(t *testing.T) {
	r := &fakeReplacer{err: errs.New(errs.ErrKindFetchFailed, "editor returned 404")}
	p, j, obs := newTestProcessor(r, ProcessorOptions{})

	ack := p.Handle(context.Background(), []byte(`{"status":2,"key":"abc","url":"http://ds/f","filetype":"docx"}`), "")

	assert.Equal(t, 0, ack.Error)
	require.Len(t, j.entries, 1)
	assert.Equal(t, journal.OutcomeFailed, j.entries[0].Outcome)
	assert.Contains(t, j.entries[0].Error, "editor returned 404")
	require.Len(t, obs.saves, 1)
	assert.Error(t, obs.saves[0])
}

func TestProcessor_MalformedCallback(t *testing.T) {
	bodies := []string{
		``,
		`not json`,
		`{"key":"abc"}`,
		`{"status":2}`,
		`{"status":2,"key":"abc"}`,
	}

	for _, body := range bodies {
		r := &fakeReplacer{}
		p, j, obs := newTestProcessor(r, ProcessorOptions{})

		ack := p.Handle(context.Background(), []byte(body), "")

		assert.Equal(t, 1, ack.Error, "body %q", body)
		assert.NotEmpty(t, ack.Message)
		assert.Empty(t, r.events)
		assert.Empty(t, j.entries)
		assert.Equal(t, []Action{ActionUnknown}, obs.actions)
	}
}

func TestProcessor_JournalFailureDoesNotChangeAck(t *testing.T) {
	r := &fakeReplacer{}
	j := &memJournal{err: errors.New("db down")}
	p := NewProcessor(r, ProcessorOptions{Journal: j})

	ack := p.Handle(context.Background(), []byte(`{"status":4,"key":"abc"}`), "")

	assert.Equal(t, Ack{Error: 0}, ack)
}

func TestProcessor_AllowedHosts(t *testing.T) {
	r := &fakeReplacer{}
	p, j, _ := newTestProcessor(r, ProcessorOptions{AllowedHosts: []string{"DS.example.com"}})

	ack := p.Handle(context.Background(), []byte(`{"status":2,"key":"abc","url":"http://evil.test/f","filetype":"docx"}`), "")
	assert.Equal(t, 0, ack.Error)
	assert.Empty(t, r.events)
	assert.Equal(t, journal.OutcomeFailed, j.entries[0].Outcome)

	p.Handle(context.Background(), []byte(`{"status":2,"key":"abc","url":"https://ds.example.com:8443/f","filetype":"docx"}`), "")
	assert.Len(t, r.events, 1)
}

func TestProcessor_SignedCallbacks(t *testing.T) {
	signer := token.New("s3cret")
	claims := map[string]interface{}{
		"status":   2,
		"key":      "abc",
		"url":      "http://ds/f",
		"filetype": "docx",
	}
	bodyToken, err := signer.Sign(claims)
	require.NoError(t, err)
	headerToken, err := signer.Sign(map[string]interface{}{"payload": claims})
	require.NoError(t, err)
	forged, err := token.New("other").Sign(claims)
	require.NoError(t, err)

	tests := []struct {
		name    string
		body    string
		auth    string
		wantErr int
	}{
		{"token in body", `{"token":"` + bodyToken + `"}`, "", 0},
		{"token in header", `{"status":2,"key":"abc"}`, "Bearer " + headerToken, 0},
		{"unsigned", `{"status":2,"key":"abc","url":"http://ds/f","filetype":"docx"}`, "", 1},
		{"wrong secret", `{"token":"` + forged + `"}`, "", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeReplacer{}
			p, _, _ := newTestProcessor(r, ProcessorOptions{Signer: signer})

			ack := p.Handle(context.Background(), []byte(tt.body), tt.auth)

			assert.Equal(t, tt.wantErr, ack.Error)
			if tt.wantErr == 0 {
				require.Len(t, r.events, 1)
				assert.Equal(t, "http://ds/f", r.events[0].URL)
			} else {
				assert.Empty(t, r.events)
			}
		})
	}
}
