package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/wuyou/docbridge/internal/errs"
	"github.com/wuyou/docbridge/internal/journal"
	"github.com/wuyou/docbridge/internal/logger"
	"github.com/wuyou/docbridge/internal/token"
)

// Ack is the body returned to the editor. Error 0 means "received"; only a
// callback docbridge cannot understand gets Error 1.
type Ack struct {
	Error   int    `json:"error"`
	Message string `json:"message,omitempty"`
}

// Replacer performs the fetch-and-replace for a save-class event.
type Replacer interface {
	Replace(ctx context.Context, ev *Event) (*Result, error)
}

// Observer receives callback telemetry.
type Observer interface {
	RecordCallback(action Action)
	RecordSave(duration time.Duration, sizeBytes int64, err error)
}

type nopObserver struct{}

func (nopObserver) RecordCallback(Action)                  {}
func (nopObserver) RecordSave(time.Duration, int64, error) {}

// ProcessorOptions wires optional collaborators. Nil fields are disabled.
type ProcessorOptions struct {
	// Signer verifies inbound tokens; nil or disabled accepts plain payloads.
	Signer   *token.Signer
	Journal  journal.Journal
	Observer Observer
	Logger   *logger.Logger
	// AllowedHosts restricts which hosts a save may download from.
	// Empty allows any host.
	AllowedHosts []string
	Now          func() time.Time
}

// Processor turns raw callback bodies into acknowledgments, running the
// workflow for save-class statuses.
type Processor struct {
	replacer Replacer
	signer   *token.Signer
	journal  journal.Journal
	observer Observer
	log      *logger.Logger
	allowed  map[string]bool
	now      func() time.Time
}

// NewProcessor builds a Processor around r.
func NewProcessor(r Replacer, opts ProcessorOptions) *Processor {
	p := &Processor{
		replacer: r,
		signer:   opts.Signer,
		journal:  opts.Journal,
		observer: opts.Observer,
		log:      opts.Logger,
		now:      opts.Now,
	}
	if p.journal == nil {
		p.journal = journal.Nop{}
	}
	if p.observer == nil {
		p.observer = nopObserver{}
	}
	if p.log == nil {
		p.log = logger.Nop()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if len(opts.AllowedHosts) > 0 {
		p.allowed = make(map[string]bool, len(opts.AllowedHosts))
		for _, h := range opts.AllowedHosts {
			p.allowed[strings.ToLower(h)] = true
		}
	}
	return p
}

// Handle processes one callback. It never fails: every outcome is folded
// into the returned Ack. Save failures are logged, counted and journaled,
// and still acknowledged with error 0.
func (p *Processor) Handle(ctx context.Context, body []byte, authorization string) Ack {
	received := p.now()

	ev, err := p.decode(body, authorization)
	if err != nil {
		p.log.ErrorWith("malformed callback", err, map[string]interface{}{
			"kind": errs.KindOf(err).String(),
		})
		p.observer.RecordCallback(ActionUnknown)
		return Ack{Error: 1, Message: errMessage(err)}
	}

	action := Classify(ev.Status)
	p.observer.RecordCallback(action)

	log := p.log.With().
		Str("document_key", ev.Key).
		Int("status", int(ev.Status)).
		Str("action", action.String()).
		Logger()

	entry := journal.Entry{
		Key:        ev.Key,
		Status:     int(ev.Status),
		Action:     action.String(),
		ReceivedAt: received,
	}

	switch action {
	case ActionNoOp:
		log.Debug("callback acknowledged")
		entry.Outcome = journal.OutcomeIgnored

	case ActionErrorReported:
		log.WarnWith("editor reported a save error", map[string]interface{}{"url": ev.URL})
		entry.Outcome = journal.OutcomeReported

	case ActionPersist:
		res, err := p.persist(ctx, ev)
		if err != nil {
			log.ErrorWith("save failed", err, map[string]interface{}{
				"url":  ev.URL,
				"kind": errs.KindOf(err).String(),
			})
			entry.Outcome = journal.OutcomeFailed
			entry.Error = err.Error()
			break
		}
		log.InfoWith("document saved", map[string]interface{}{
			"object":      res.ObjectName,
			"bytes":       res.Bytes,
			"duration_ms": res.Duration.Milliseconds(),
		})
		entry.Outcome = journal.OutcomeSaved
		entry.Bytes = res.Bytes

	default:
		log.Warn("unknown callback status")
		entry.Outcome = journal.OutcomeUnknown
	}

	if err := p.journal.Record(context.WithoutCancel(ctx), entry); err != nil {
		log.ErrorWith("journal write failed", err, nil)
	}
	return Ack{Error: 0}
}

func (p *Processor) persist(ctx context.Context, ev *Event) (*Result, error) {
	if err := p.checkHost(ev.URL); err != nil {
		p.observer.RecordSave(0, 0, err)
		return nil, err
	}
	res, err := p.replacer.Replace(ctx, ev)
	if err != nil {
		p.observer.RecordSave(0, 0, err)
		return nil, err
	}
	p.observer.RecordSave(res.Duration, res.Bytes, nil)
	return res, nil
}

func (p *Processor) checkHost(rawURL string) error {
	if p.allowed == nil {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil || !p.allowed[strings.ToLower(u.Hostname())] {
		return errs.New(errs.ErrKindPermissionDenied, "download host is not allowed")
	}
	return nil
}

// decode parses body into an Event. With a signer configured the payload is
// taken from a verified token: the body's "token" field, else the bearer
// header whose claims carry the body under "payload".
func (p *Processor) decode(body []byte, authorization string) (*Event, error) {
	if !p.signer.Enabled() {
		return ParseEvent(body)
	}

	var envelope struct {
		Token string `json:"token"`
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, errs.Wrap(errs.ErrKindMalformedCallback, "callback body is not valid JSON", err)
		}
	}

	raw := envelope.Token
	if raw == "" {
		raw = token.FromHeader(authorization)
	}
	if raw == "" {
		return nil, malformed("missing callback token")
	}

	claims, err := p.signer.Verify(raw)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindMalformedCallback, "callback token rejected", err)
	}

	var verified interface{} = claims
	if inner, ok := claims["payload"].(map[string]interface{}); ok {
		verified = inner
	}
	trusted, err := json.Marshal(verified)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindMalformedCallback, "callback token claims unreadable", err)
	}
	return ParseEvent(trusted)
}

func errMessage(err error) string {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
