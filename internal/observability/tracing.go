// Package observability wires the core's tracing and metrics exporters
// (go.mod carries otlptracehttp/jaeger/zipkin/prometheus; this package is
// where each actually gets instantiated). Grounded on the pack's
// agentctl/tracing no-op-by-default pattern: without an exporter
// endpoint configured, every call degrades to a zero-overhead no-op
// provider rather than failing startup.
package observability

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingConfig selects and configures the trace exporter.
type TracingConfig struct {
	ServiceName string
	// Exporter is one of "otlp", "jaeger", "zipkin", or "" (disabled).
	Exporter string
	Endpoint string
}

var (
	mu             sync.Mutex
	tracerProvider trace.TracerProvider = noop.NewTracerProvider()
	sdkProvider    *sdktrace.TracerProvider
)

// InitTracing installs the configured exporter as the global tracer
// provider. Call once at process start; safe to call with Exporter=""
// to leave tracing as a no-op.
func InitTracing(ctx context.Context, cfg TracingConfig) error {
	mu.Lock()
	defer mu.Unlock()

	if cfg.Exporter == "" {
		return nil
	}

	exporter, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return fmt.Errorf("observability: init tracing exporter %q: %w", cfg.Exporter, err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "orchestrator"
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		res = resource.Default()
	}

	sdkProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	tracerProvider = sdkProvider
	otel.SetTracerProvider(tracerProvider)
	return nil
}

func newSpanExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "otlp":
		return otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(stripScheme(cfg.Endpoint)),
			otlptracehttp.WithInsecure(),
		)
	case "jaeger":
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
	case "zipkin":
		return zipkin.New(cfg.Endpoint)
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}
}

func stripScheme(endpoint string) string {
	for _, prefix := range []string{"https://", "http://"} {
		if strings.HasPrefix(endpoint, prefix) {
			return endpoint[len(prefix):]
		}
	}
	return endpoint
}

// Tracer returns a named tracer against whatever provider is currently
// installed.
func Tracer(name string) trace.Tracer {
	mu.Lock()
	defer mu.Unlock()
	return tracerProvider.Tracer(name)
}

// ShutdownTracing flushes and closes the tracer provider, if one was
// installed; the server calls it before closing the DB pool, which closes
// last.
func ShutdownTracing(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()
	if sdkProvider == nil {
		return nil
	}
	return sdkProvider.Shutdown(ctx)
}
