package observability

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// ShutdownFunc flushes and stops a provider
type ShutdownFunc func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

// TracingOptions configures the trace provider
type TracingOptions struct {
	ServiceName string
	Enabled     bool
	// Writer receives exported spans; stdout when nil
	Writer io.Writer
}

// SetupTracing installs a global tracer provider exporting spans to stdout.
// When tracing is disabled the global no-op provider stays in place.
func SetupTracing(opts TracingOptions) (ShutdownFunc, error) {
	if !opts.Enabled {
		return noopShutdown, nil
	}

	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return noopShutdown, fmt.Errorf("failed to initialize stdouttrace exporter: %w", err)
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(serviceResource(opts.ServiceName)),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// SetupMeterProvider installs a global meter provider whose instruments are
// exported through the given Prometheus registry.
func SetupMeterProvider(serviceName string, reg prometheus.Registerer) (ShutdownFunc, error) {
	exp, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return noopShutdown, fmt.Errorf("failed to initialize prometheus exporter: %w", err)
	}
	mp := metric.NewMeterProvider(
		metric.WithReader(exp),
		metric.WithResource(serviceResource(serviceName)),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

func serviceResource(serviceName string) *resource.Resource {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return resource.Default()
	}
	return res
}
