// Package observability wires distributed tracing over OTLP/HTTP.
//
// Traces are exported to a local collector agent rather than a remote
// endpoint: the agent buffers, retries and authenticates, so the
// application only ever talks to localhost. Setup failures disable
// tracing instead of failing startup.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/parleyhq/parley/internal/log"
)

// DefaultEndpoint is the default local collector OTLP HTTP endpoint.
const DefaultEndpoint = "localhost:4318"

// Config for the tracer provider.
type Config struct {
	// Endpoint is the collector's OTLP HTTP endpoint (host:port).
	Endpoint string
	// Environment tags every span (dev, staging, prod).
	Environment string
	// ServiceName identifies this process in the APM backend.
	ServiceName string
}

// Setup installs the global tracer provider and returns a shutdown
// function that flushes pending spans. A broken exporter logs a warning
// and returns a no-op shutdown; tracing is never load-bearing.
func Setup(ctx context.Context, cfg Config, logger log.Logger) (func(context.Context) error, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(), // localhost collector, no TLS
	)
	if err != nil {
		logger.Warn("failed to create trace exporter, tracing disabled", "error", err)
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	logger.Debug("tracing enabled",
		"endpoint", endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	return provider.Shutdown, nil
}
