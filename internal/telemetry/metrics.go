package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/wardrobeflow/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics collects pipeline and upload counters on a private registry. A CLI
// run pushes them to a Pushgateway when it finishes.
type Metrics struct {
	registry     *prometheus.Registry
	stepTotal    *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	retryTotal   *prometheus.CounterVec
	uploadTotal  *prometheus.CounterVec
	uploadBytes  *prometheus.CounterVec
}

var _ pipeline.Observer = (*Metrics)(nil)

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		stepTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wardrobeflow_pipeline_steps_total",
			Help: "Pipeline steps run, by outcome code.",
		}, []string{"step", "code"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wardrobeflow_pipeline_step_duration_seconds",
			Help:    "Pipeline step latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"step"}),
		retryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wardrobeflow_pipeline_retries_total",
			Help: "Retries scheduled after a transient step failure.",
		}, []string{"step", "code"}),
		uploadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wardrobeflow_uploads_total",
			Help: "Derived assets handed to the upload collaborator.",
		}, []string{"kind", "outcome"}),
		uploadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wardrobeflow_upload_bytes_total",
			Help: "Bytes uploaded.",
		}, []string{"kind"}),
	}
	registry.MustRegister(
		m.stepTotal,
		m.stepDuration,
		m.retryTotal,
		m.uploadTotal,
		m.uploadBytes,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveStep(step string, elapsed time.Duration, err error) {
	m.stepTotal.WithLabelValues(step, codeLabel(err)).Inc()
	m.stepDuration.WithLabelValues(step).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRetry(step string, err error, _ int) {
	m.retryTotal.WithLabelValues(step, codeLabel(err)).Inc()
}

// ObserveUpload records one upload outcome: uploaded, skipped or failed.
func (m *Metrics) ObserveUpload(kind, outcome string, bytes int64) {
	m.uploadTotal.WithLabelValues(kind, outcome).Inc()
	if bytes > 0 {
		m.uploadBytes.WithLabelValues(kind).Add(float64(bytes))
	}
}

// Push sends the registry to a Pushgateway under job. An empty url is a
// no-op.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

func codeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if code, ok := pipeline.CodeOf(err); ok {
		return string(code)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "unknown"
}
