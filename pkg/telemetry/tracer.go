package telemetry

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/credentials/insecure"
)

// Span attribute keys.
var (
	AttrRunID     = attribute.Key("validio.run.id")
	AttrRunStatus = attribute.Key("validio.run.status")
	AttrCommand   = attribute.Key("validio.run.command")
	AttrNamespace = attribute.Key("validio.namespace")

	AttrResourceKind = attribute.Key("validio.resource.kind")
	AttrResourceName = attribute.Key("validio.resource.name")
	AttrOperation    = attribute.Key("validio.operation")

	AttrErrorClass = attribute.Key("validio.error.class")
)

// Tracer creates the spans of reconciliation runs. A run span is the
// parent of one span per pipeline step (load, diff, apply phases), which
// in turn parent one span per remote mutation.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewTracer creates a tracer. When tracing is disabled spans are no-ops.
func NewTracer(cfg TracingConfig, svc *Config) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(svc.ServiceName)}, nil
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(svc.ServiceName),
		semconv.ServiceVersionKey.String(svc.ServiceVersion),
		semconv.DeploymentEnvironmentKey.String(svc.Environment),
	}
	for k, v := range svc.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}

	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s trace exporter: %w", cfg.Exporter, err)
	}
	if exporter != nil {
		batch := []sdktrace.BatchSpanProcessorOption{sdktrace.WithExportTimeout(cfg.ExportTimeout)}
		if cfg.MaxExportBatchSize > 0 {
			batch = append(batch, sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize))
		}
		opts = append(opts, sdktrace.WithBatcher(exporter, batch...))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{
		tracer:   provider.Tracer("github.com/validio/validio-go"),
		provider: provider,
	}, nil
}

// newExporter returns nil for the none exporter: spans are sampled and
// carried in logs but never exported.
func newExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		return otlptracegrpc.New(context.Background(), opts...)
	case "stdout":
		// stdout carries command output.
		return stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	case "none", "":
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported exporter %q", cfg.Exporter)
}

func (t *Tracer) startRun(ctx context.Context, runID, namespace string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "validio.run", trace.WithAttributes(
		AttrRunID.String(runID),
		AttrNamespace.String(namespace),
	))
}

func (t *Tracer) startStep(ctx context.Context, step string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, step, trace.WithAttributes(attrs...))
}

func (t *Tracer) startMutation(ctx context.Context, kind, name, operation string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, operation+" "+kind,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrResourceKind.String(kind),
			AttrResourceName.String(name),
			AttrOperation.String(operation),
		),
	)
}

// endSpan sets the span status from err and ends it. Errors are recorded
// by class only when they carry one, see RecordErrorClass.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Shutdown flushes pending spans and stops the exporter.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// TraceID returns the trace id of the span in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
