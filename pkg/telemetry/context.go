package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the logger, tracer and metrics of a CLI invocation.
type Telemetry struct {
	Logger   zerolog.Logger
	Redactor *Redactor
	Tracer   *Tracer
	Metrics  *Metrics
	Config   *Config

	logCloser interface{ Close() error }
	namespace string
}

type telemetryKey struct{}

// NewTelemetry builds the telemetry of cfg.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	redactor := NewRedactor()
	logger, closer, err := NewLogger(cfg.Logging, redactor)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	return &Telemetry{
		Logger:    logger,
		Redactor:  redactor,
		Tracer:    tracer,
		Metrics:   metrics,
		Config:    cfg,
		logCloser: closer,
	}, nil
}

// WithContext attaches t and its logger to ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromContext returns the telemetry attached to ctx, or nil.
func FromContext(ctx context.Context) *Telemetry {
	t, _ := ctx.Value(telemetryKey{}).(*Telemetry)
	return t
}

// Start starts the metrics server if one is configured.
func (t *Telemetry) Start() error {
	return t.Metrics.Serve()
}

// Shutdown pushes metrics of the last run, flushes spans and closes the
// log file. All steps run; their errors are joined.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Metrics.Push(ctx, t.namespace),
		t.Metrics.Close(ctx),
		t.Tracer.Shutdown(ctx),
		t.logCloser.Close(),
	)
}

// Op is an instrumented step of a run. Without telemetry in the context
// only the elapsed time is tracked.
type Op struct {
	Ctx   context.Context
	span  trace.Span
	start time.Time
}

// StartOperation begins a pipeline step such as "engine.diff". Its span id
// and trace id are added to the context logger.
func StartOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) *Op {
	t := FromContext(ctx)
	if t == nil {
		return &Op{Ctx: ctx, start: time.Now()}
	}

	ctx, span := t.Tracer.startStep(ctx, name, attrs...)
	return &Op{Ctx: withSpanLogger(ctx, span, name), span: span, start: time.Now()}
}

// StartMutation begins a remote mutation of one resource.
func StartMutation(ctx context.Context, kind, name, operation string) *Op {
	t := FromContext(ctx)
	if t == nil {
		return &Op{Ctx: ctx, start: time.Now()}
	}

	ctx, span := t.Tracer.startMutation(ctx, kind, name, operation)
	return &Op{Ctx: withSpanLogger(ctx, span, operation+" "+kind+"/"+name), span: span, start: time.Now()}
}

func withSpanLogger(ctx context.Context, span trace.Span, op string) context.Context {
	zctx := LoggerFrom(ctx).With().Str("op", op)
	if sc := span.SpanContext(); sc.IsValid() {
		zctx = zctx.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
	}
	return zctx.Logger().WithContext(ctx)
}

// End completes the operation with err.
func (op *Op) End(err error) {
	if op.span != nil {
		endSpan(op.span, err)
	}
}

// Elapsed returns the time since the operation started.
func (op *Op) Elapsed() time.Duration {
	return time.Since(op.start)
}

type runKey struct{}

type runState struct {
	span      trace.Span
	namespace string
	start     time.Time
}

// WithRunContext starts the telemetry of a reconciliation run: the root
// span, run_id and namespace logger fields and the run counters.
func WithRunContext(ctx context.Context, runID, namespace string) context.Context {
	t := FromContext(ctx)
	if t == nil {
		return ctx
	}
	t.namespace = namespace

	ctx, span := t.Tracer.startRun(ctx, runID, namespace)
	ctx = LoggerFrom(ctx).With().
		Str("run_id", runID).
		Str("namespace", namespace).
		Logger().
		WithContext(ctx)

	t.Metrics.RecordRunStarted(namespace)
	return context.WithValue(ctx, runKey{}, &runState{span: span, namespace: namespace, start: time.Now()})
}

// EndRunContext completes the run started by WithRunContext.
func EndRunContext(ctx context.Context, status string, err error) {
	t := FromContext(ctx)
	run, ok := ctx.Value(runKey{}).(*runState)
	if t == nil || !ok {
		return
	}

	run.span.SetAttributes(AttrRunStatus.String(status))
	endSpan(run.span, err)
	t.Metrics.RecordRunCompleted(run.namespace, status, time.Since(run.start))
}

// RecordMutation counts one remote mutation.
func RecordMutation(ctx context.Context, kind, operation, status string, d time.Duration) {
	if t := FromContext(ctx); t != nil {
		t.Metrics.RecordMutation(kind, operation, status, d)
	}
}

// RecordAPICall counts one API request.
func RecordAPICall(ctx context.Context, method, status string, d time.Duration) {
	if t := FromContext(ctx); t != nil {
		t.Metrics.RecordAPICall(method, status, d)
	}
}

// RecordErrorClass counts a classified error and tags the current span.
func RecordErrorClass(ctx context.Context, class, code string) {
	t := FromContext(ctx)
	if t == nil {
		return
	}
	trace.SpanFromContext(ctx).SetAttributes(AttrErrorClass.String(class))
	t.Metrics.RecordError(class, code)
}

// SetDiffSize records the size of a diff partition.
func SetDiffSize(ctx context.Context, kind, partition string, count int) {
	if t := FromContext(ctx); t != nil {
		t.Metrics.SetDiffSize(kind, partition, count)
	}
}

// RedactSecrets registers secret values with the telemetry redactor in ctx.
func RedactSecrets(ctx context.Context, values ...string) {
	if t := FromContext(ctx); t != nil {
		t.Redactor.Add(values...)
	}
}
