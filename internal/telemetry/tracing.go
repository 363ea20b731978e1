package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Tracer wraps an OpenTelemetry tracer so components take it as a
// constructor argument instead of reaching for a package-level global.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer initializes OpenTelemetry with a Jaeger exporter and returns
// both the shutdown-capable provider and the Tracer components use for
// span creation.
func NewTracer(serviceName, jaegerEndpoint string) (*sdktrace.TracerProvider, *Tracer, error) {
	exporter, err := jaeger.New(
		jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)),
	)
	if err != nil {
		return nil, nil, err
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	return tp, &Tracer{tracer: tp.Tracer(serviceName)}, nil
}

// NoopTracer returns a Tracer backed by the global no-op implementation,
// useful for tests and CLI tools that don't want a Jaeger dependency.
func NoopTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer("noop")}
}

// StartSpan starts a new span named spanName as a child of ctx.
func (t *Tracer) StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName)
}

// LoggerWithTrace enriches logger with the current span's trace/span IDs
// when ctx carries a recording span.
func LoggerWithTrace(ctx context.Context, logger *zap.Logger) *zap.Logger {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return logger
	}
	return logger.With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	)
}
