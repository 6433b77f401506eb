// Package tracing sets up OpenTelemetry tracing for the Router: one span
// per proxied request, propagated to the backend over HTTP headers. The
// teacher wired otel in main.go against a stdout exporter; chlb keeps that
// exporter (no collector is in scope here) and moves setup into its own
// package so both cmd/chlb and tests can initialize it.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "chlb"

// Init installs a global TracerProvider backed by a stdout exporter and
// returns a shutdown func to flush and release it.
func Init() (shutdown func(context.Context) error, err error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("tracing: new exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName("chlb")),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

// Tracer returns chlb's named tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
