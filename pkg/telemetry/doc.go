// Package telemetry provides observability for reconciliation runs.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry) and
// metrics (Prometheus). All helpers degrade to no-ops when no Telemetry
// instance is attached to the context, so library code can instrument
// itself unconditionally.
//
// # Usage
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//	ctx = telemetry.WithRunContext(ctx, runID, "default")
//	defer telemetry.EndRunContext(ctx, "succeeded", nil)
//
// # Logging
//
// The context logger carries run_id and namespace for the duration of a
// run, plus op, trace_id and span_id inside instrumented steps:
//
//	telemetry.LoggerFrom(ctx).Info().Str("kind", "source").Msg("Resource created")
//
// Secret values registered with RedactSecrets are replaced by [REDACTED]
// before a line reaches any sink.
//
// # Tracing
//
// One span covers a run, one each of its steps (StartOperation) and one
// each remote mutation (StartMutation). Exporters: otlp (gRPC), stdout
// (written to stderr) and none.
//
// # Metrics
//
//   - runs_started_total, runs_completed_total, run_duration_seconds, active_runs
//   - mutations_total{kind,operation,status}, mutation_duration_seconds
//   - diff_resources{kind,partition}
//   - api_calls_total{method,status}, api_call_duration_seconds
//   - errors_by_class_total, errors_by_code_total
//
// Metrics are served on listen_address while the process runs and, with
// push_url set, pushed to a Prometheus Pushgateway on Shutdown.
package telemetry
