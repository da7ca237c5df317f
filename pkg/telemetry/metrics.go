package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for stacker. A nil *Metrics or one built
// from a disabled config records nothing.
type Metrics struct {
	config MetricsConfig

	// Scheduler metrics
	taskSteps      *prometheus.CounterVec
	runnerOutcomes *prometheus.CounterVec

	// Resource metrics
	resourceOperations *prometheus.CounterVec
	resourceDuration   *prometheus.HistogramVec

	// Provider metrics
	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerErrors   *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		taskSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_steps_total",
				Help:      "Total number of task steps taken by runners",
			},
			[]string{"task"},
		),
		runnerOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runner_outcomes_total",
				Help:      "Total number of runners reaching a terminal state",
			},
			[]string{"state"},
		),

		resourceOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resource_operations_total",
				Help:      "Total number of resource lifecycle transitions",
			},
			[]string{"type", "action", "status"},
		),
		resourceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resource_operation_duration_seconds",
				Help:      "Duration of resource actions from handle to completion",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
			},
			[]string{"type", "action"},
		),

		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of cloud provider calls",
			},
			[]string{"operation"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Duration of cloud provider calls in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of cloud provider errors by kind",
			},
			[]string{"operation", "kind"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of resource failures by error class",
			},
			[]string{"class", "code"},
		),
	}

	registry.MustRegister(
		m.taskSteps,
		m.runnerOutcomes,
		m.resourceOperations,
		m.resourceDuration,
		m.providerCalls,
		m.providerDuration,
		m.providerErrors,
		m.errorsByClass,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordTaskStep counts one step of a task of the given kind.
func (m *Metrics) RecordTaskStep(task string) {
	if !m.enabled() {
		return
	}
	m.taskSteps.WithLabelValues(task).Inc()
}

// RecordRunnerOutcome counts a runner reaching a terminal state.
func (m *Metrics) RecordRunnerOutcome(state string) {
	if !m.enabled() {
		return
	}
	m.runnerOutcomes.WithLabelValues(state).Inc()
}

// RecordResourceOperation counts a lifecycle transition. A non-zero duration is
// observed as the time the action took.
func (m *Metrics) RecordResourceOperation(resourceType, action, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.resourceOperations.WithLabelValues(resourceType, action, status).Inc()
	if duration > 0 {
		m.resourceDuration.WithLabelValues(resourceType, action).Observe(duration.Seconds())
	}
}

// RecordProviderCall records a provider call with its duration.
func (m *Metrics) RecordProviderCall(operation string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.providerCalls.WithLabelValues(operation).Inc()
	m.providerDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordProviderError records a provider error of the given kind.
func (m *Metrics) RecordProviderError(operation, kind string) {
	if !m.enabled() {
		return
	}
	m.providerErrors.WithLabelValues(operation, kind).Inc()
}

// RecordError records a resource failure by class and code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass, errorCode).Inc()
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// NewServer returns the HTTP server exposing metrics, or nil when metrics are
// disabled. The caller owns its lifecycle.
func (m *Metrics) NewServer() *http.Server {
	if !m.enabled() {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	return &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
