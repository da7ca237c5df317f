package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the logger, tracer and metrics handed to components.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// Nop returns telemetry that records nothing.
func Nop() *Telemetry {
	return &Telemetry{
		Logger:  NopLogger(),
		Tracer:  NopTracer(),
		Metrics: &Metrics{},
		Config:  DefaultConfig(),
	}
}

// Shutdown flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Tracer.Shutdown(ctx)
}

// ObserveProviderCall wraps a cloud provider call with a span, a latency
// observation and an error counter. kind maps a failure to a metric label.
func (t *Telemetry) ObserveProviderCall(ctx context.Context, operation string, kind func(error) string, fn func(ctx context.Context) error) error {
	ctx, span := t.Tracer.StartProviderSpan(ctx, operation)
	defer span.End()

	timer := NewTimer()
	err := fn(ctx)
	t.Metrics.RecordProviderCall(operation, timer.Duration())

	if err != nil {
		t.Metrics.RecordProviderError(operation, kind(err))
		RecordError(span, err)
		return err
	}
	RecordSuccess(span)
	return nil
}

// EndSpan finishes a span, recording err when set.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	span.End()
}
