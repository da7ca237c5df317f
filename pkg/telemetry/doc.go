// Package telemetry provides observability instrumentation for stacker.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry) and metrics
// (Prometheus) behind a single Telemetry value that is created once at startup and
// handed to the engine, the scheduler and the cloud client.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	logger := tel.Logger.NewComponentLogger("engine").WithStack("web")
//	logger.Info("creating stack")
//
// # Logging
//
// Loggers are passed explicitly at construction time. Components constructed
// without one fall back to NopLogger so tests stay quiet.
//
// # Tracing
//
// One span covers each resource action (create, update, delete) from the
// handle call until the matching check reports completion, so a span may stay
// open across many scheduler steps. Provider calls get child spans through
// Telemetry.ObserveProviderCall.
//
// # Metrics
//
// Metrics live in a private registry exposed by Metrics.Handler:
//
//   - stacker_task_steps_total{task}
//   - stacker_runner_outcomes_total{state}
//   - stacker_resource_operations_total{type,action,status}
//   - stacker_resource_operation_duration_seconds{type,action}
//   - stacker_provider_calls_total{operation}
//   - stacker_provider_call_duration_seconds{operation}
//   - stacker_provider_errors_total{operation,kind}
//   - stacker_errors_by_class_total{class,code}
//
// A disabled or nil *Metrics silently drops every observation.
package telemetry
