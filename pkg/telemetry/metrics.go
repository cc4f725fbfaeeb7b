package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog/log"
)

// Metrics holds the Prometheus collectors of the CLI. A disabled Metrics
// has no registry and every recorder is a no-op.
type Metrics struct {
	cfg      MetricsConfig
	registry *prometheus.Registry
	server   *http.Server

	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	activeRuns    prometheus.Gauge

	mutations        *prometheus.CounterVec
	mutationDuration *prometheus.HistogramVec
	diffSize         *prometheus.GaugeVec

	apiCalls    *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec

	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec
}

// NewMetrics registers the collectors on a private registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	m := &Metrics{cfg: cfg}
	if !cfg.Enabled {
		return m, nil
	}

	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	ns := cfg.Namespace

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: name, Help: help, Buckets: buckets}, labels)
	}

	m.runsStarted = counter("runs_started_total", "Reconciliation runs started.", "resource_namespace")
	m.runsCompleted = counter("runs_completed_total", "Reconciliation runs completed.", "resource_namespace", "status")
	m.runDuration = histogram("run_duration_seconds", "Duration of reconciliation runs.", "status")
	m.activeRuns = prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "active_runs", Help: "Reconciliation runs in progress."})

	m.mutations = counter("mutations_total", "Remote create, update and delete calls.", "kind", "operation", "status")
	m.mutationDuration = histogram("mutation_duration_seconds", "Duration of remote mutations.", "kind", "operation")
	m.diffSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "diff_resources",
		Help:      "Resources per kind in each partition of the last diff.",
	}, []string{"kind", "partition"})

	m.apiCalls = counter("api_calls_total", "API requests by method and HTTP status.", "method", "status")
	m.apiDuration = histogram("api_call_duration_seconds", "Duration of API requests.", "method")

	m.errorsByClass = counter("errors_by_class_total", "Run errors by class.", "class")
	m.errorsByCode = counter("errors_by_code_total", "Run errors by code.", "code")

	m.registry = prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		m.runsStarted, m.runsCompleted, m.runDuration, m.activeRuns,
		m.mutations, m.mutationDuration, m.diffSize,
		m.apiCalls, m.apiDuration,
		m.errorsByClass, m.errorsByCode,
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) enabled() bool { return m.registry != nil }

// RecordRunStarted counts a started run of namespace.
func (m *Metrics) RecordRunStarted(namespace string) {
	if !m.enabled() {
		return
	}
	m.runsStarted.WithLabelValues(namespace).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted counts a finished run with its final status.
func (m *Metrics) RecordRunCompleted(namespace, status string, d time.Duration) {
	if !m.enabled() {
		return
	}
	m.runsCompleted.WithLabelValues(namespace, status).Inc()
	m.runDuration.WithLabelValues(status).Observe(d.Seconds())
	m.activeRuns.Dec()
}

// RecordMutation counts one remote mutation of a resource kind.
func (m *Metrics) RecordMutation(kind, operation, status string, d time.Duration) {
	if !m.enabled() {
		return
	}
	m.mutations.WithLabelValues(kind, operation, status).Inc()
	m.mutationDuration.WithLabelValues(kind, operation).Observe(d.Seconds())
}

// SetDiffSize sets the size of one partition (create, update, delete) of
// the diff for a kind.
func (m *Metrics) SetDiffSize(kind, partition string, count int) {
	if !m.enabled() {
		return
	}
	m.diffSize.WithLabelValues(kind, partition).Set(float64(count))
}

// RecordAPICall counts one API request. status is the HTTP status code,
// or "error" when no response was received.
func (m *Metrics) RecordAPICall(method, status string, d time.Duration) {
	if !m.enabled() {
		return
	}
	m.apiCalls.WithLabelValues(method, status).Inc()
	m.apiDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RecordError counts a classified run error. code may be empty.
func (m *Metrics) RecordError(class, code string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
	if code != "" {
		m.errorsByCode.WithLabelValues(code).Inc()
	}
}

// Handler serves the registry, or 404 when metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Serve exposes the metrics on the configured listen address until Close.
func (m *Metrics) Serve() error {
	if !m.enabled() || m.cfg.ListenAddress == "" {
		return nil
	}

	path := m.cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	m.server = &http.Server{
		Addr:              m.cfg.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", m.cfg.ListenAddress).Msg("Metrics server stopped")
		}
	}()
	return nil
}

// Push sends the registry to the configured Pushgateway, grouped by
// namespace. It is a no-op without a push URL.
func (m *Metrics) Push(ctx context.Context, namespace string) error {
	if !m.enabled() || m.cfg.PushURL == "" {
		return nil
	}

	job := m.cfg.PushJob
	if job == "" {
		job = "validio"
	}
	p := push.New(m.cfg.PushURL, job).Gatherer(m.registry)
	if namespace != "" {
		p = p.Grouping("resource_namespace", namespace)
	}
	if err := p.AddContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}

// Close stops the metrics server.
func (m *Metrics) Close(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
