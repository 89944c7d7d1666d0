package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for package orchestration.
// All Record methods are no-ops when metrics are disabled.
type Metrics struct {
	config MetricsConfig

	// Invocation metrics
	invocations        *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec

	// Package metrics
	packages *prometheus.CounterVec

	// Command metrics
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec

	// Remote index metrics
	indexRequests *prometheus.CounterVec

	// Workspace metrics
	workspacesActive   prometheus.Gauge
	workspacesReleased *prometheus.CounterVec

	// Error metrics
	errorsByKind  *prometheus.CounterVec
	policyDenials *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of engine invocations",
			},
			[]string{"operation", "mode", "status"},
		),
		invocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_seconds",
				Help:      "Duration of engine invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation", "mode"},
		),

		packages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packages_total",
				Help:      "Total number of packages reaching a terminal state",
			},
			[]string{"state", "changed"},
		),

		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Total number of helper commands executed",
			},
			[]string{"tool", "status"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Duration of helper commands in seconds",
				Buckets:   buckets,
			},
			[]string{"tool"},
		),

		indexRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "index_requests_total",
				Help:      "Total number of remote index requests",
			},
			[]string{"kind", "status"},
		),

		workspacesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workspaces_active",
				Help:      "Current number of build workspaces on disk",
			},
		),
		workspacesReleased: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workspaces_released_total",
				Help:      "Total number of build workspaces released",
			},
			[]string{"status"},
		),

		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Total number of errors by error kind",
			},
			[]string{"kind"},
		),
		policyDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_denials_total",
				Help:      "Total number of requests rejected by admission policy",
			},
			[]string{"policy"},
		),
	}

	registry.MustRegister(
		m.invocations,
		m.invocationDuration,
		m.packages,
		m.commands,
		m.commandDuration,
		m.indexRequests,
		m.workspacesActive,
		m.workspacesReleased,
		m.errorsByKind,
		m.policyDenials,
	)

	return m, nil
}

// RecordInvocation records a finished invocation.
func (m *Metrics) RecordInvocation(operation, mode, status string, duration time.Duration) {
	if m == nil || m.invocations == nil {
		return
	}
	m.invocations.WithLabelValues(operation, mode, status).Inc()
	m.invocationDuration.WithLabelValues(operation, mode).Observe(duration.Seconds())
}

// RecordPackage records a package reaching a terminal state.
func (m *Metrics) RecordPackage(state string, changed bool) {
	if m == nil || m.packages == nil {
		return
	}
	label := "false"
	if changed {
		label = "true"
	}
	m.packages.WithLabelValues(state, label).Inc()
}

// RecordCommand records a finished helper command.
func (m *Metrics) RecordCommand(tool string, exitCode int, duration time.Duration) {
	if m == nil || m.commands == nil {
		return
	}
	status := "success"
	if exitCode != 0 {
		status = "failure"
	}
	m.commands.WithLabelValues(tool, status).Inc()
	m.commandDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordIndexRequest records a remote index request.
func (m *Metrics) RecordIndexRequest(kind string, err error) {
	if m == nil || m.indexRequests == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.indexRequests.WithLabelValues(kind, status).Inc()
}

// RecordWorkspaceCreated increments the active workspace gauge.
func (m *Metrics) RecordWorkspaceCreated() {
	if m == nil || m.workspacesActive == nil {
		return
	}
	m.workspacesActive.Inc()
}

// RecordWorkspaceReleased decrements the active workspace gauge.
func (m *Metrics) RecordWorkspaceReleased(err error) {
	if m == nil || m.workspacesActive == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	} else {
		m.workspacesActive.Dec()
	}
	m.workspacesReleased.WithLabelValues(status).Inc()
}

// RecordError records an error by kind.
func (m *Metrics) RecordError(kind string) {
	if m == nil || m.errorsByKind == nil || kind == "" {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// RecordPolicyDenial records an admission rejection.
func (m *Metrics) RecordPolicyDenial(policy string) {
	if m == nil || m.policyDenials == nil {
		return
	}
	m.policyDenials.WithLabelValues(policy).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry exposes the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// StartMetricsServer serves metrics until ctx is cancelled. Serve errors are
// delivered on the returned channel.
func (m *Metrics) StartMetricsServer(ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	if m == nil || !m.config.Enabled {
		close(errCh)
		return errCh
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		defer close(errCh)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	return errCh
}
