// Package metrics exports docbridge telemetry to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"

	"github.com/wuyou/docbridge/internal/callback"
	"github.com/wuyou/docbridge/internal/document"
	"github.com/wuyou/docbridge/internal/errs"
)

const defaultNamespace = "docbridge"

var (
	_ document.Observer = (*Observer)(nil)
	_ callback.Observer = (*Observer)(nil)
)

// Observer records uploads, callbacks and saves.
type Observer struct {
	callbacks        *promclient.CounterVec
	duration         *promclient.HistogramVec
	operationErrors  *promclient.CounterVec
	transferredBytes *promclient.CounterVec
}

// NewObserver registers docbridge metrics on reg. Registering twice on the
// same registry reuses the existing collectors.
func NewObserver(namespace string, reg promclient.Registerer) (*Observer, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}

	o := &Observer{
		callbacks: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Editor callbacks received, by resulting action.",
		}, []string{"action"}),
		duration: promclient.NewHistogramVec(promclient.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of uploads and callback saves.",
			Buckets:   promclient.DefBuckets,
		}, []string{"operation"}),
		operationErrors: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Failed uploads and saves, by error kind.",
		}, []string{"operation", "kind"}),
		transferredBytes: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "transferred_bytes_total",
			Help:      "Bytes written to the object store.",
		}, []string{"operation"}),
	}

	var err error
	if o.callbacks, err = register(reg, o.callbacks); err != nil {
		return nil, err
	}
	if o.duration, err = register(reg, o.duration); err != nil {
		return nil, err
	}
	if o.operationErrors, err = register(reg, o.operationErrors); err != nil {
		return nil, err
	}
	if o.transferredBytes, err = register(reg, o.transferredBytes); err != nil {
		return nil, err
	}
	return o, nil
}

func register[C promclient.Collector](reg promclient.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are promclient.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, fmt.Errorf("register collector: %w", err)
}

// RecordUpload tracks intake duration, size and failures.
func (o *Observer) RecordUpload(duration time.Duration, sizeBytes int64, err error) {
	o.recordOperation("upload", duration, sizeBytes, err)
}

// RecordSave tracks a fetch-and-replace run.
func (o *Observer) RecordSave(duration time.Duration, sizeBytes int64, err error) {
	o.recordOperation("save", duration, sizeBytes, err)
}

func (o *Observer) RecordCallback(action callback.Action) {
	if o == nil {
		return
	}
	o.callbacks.WithLabelValues(action.String()).Inc()
}

func (o *Observer) recordOperation(op string, duration time.Duration, sizeBytes int64, err error) {
	if o == nil {
		return
	}
	if err != nil {
		o.operationErrors.WithLabelValues(op, errs.KindOf(err).String()).Inc()
		return
	}
	o.duration.WithLabelValues(op).Observe(duration.Seconds())
	o.transferredBytes.WithLabelValues(op).Add(float64(sizeBytes))
}
