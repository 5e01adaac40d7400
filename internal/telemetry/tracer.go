package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// TracerOptions configures InitTracer.
type TracerOptions struct {
	// SampleRate is the ratio of freshly generated traces to record.
	// Requests arriving with a sampled traceparent are always recorded.
	SampleRate float64
	// SpanBufferSize caps the in-memory ring of finished spans.
	SpanBufferSize int
	// Stdout additionally exports spans to stdout, for development.
	Stdout bool
}

// InitTracer initializes OpenTelemetry tracing with parent-based ratio
// sampling and an in-memory span ring buffer. There is no external trace
// sink; the buffer exists for ad hoc inspection only. It returns the span
// buffer and a shutdown function.
func InitTracer(serviceName string, opts TracerOptions, logger *slog.Logger) (*SpanBuffer, func(context.Context) error, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	if opts.SpanBufferSize <= 0 {
		opts.SpanBufferSize = 256
	}
	buf := NewSpanBuffer(opts.SpanBufferSize)

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRate))),
		sdktrace.WithSpanProcessor(buf),
	}

	if opts.Stdout {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, err
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("OpenTelemetry initialized",
		slog.String("service", serviceName),
		slog.Float64("sample_rate", opts.SampleRate),
	)

	return buf, tp.Shutdown, nil
}
