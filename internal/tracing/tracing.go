// Package tracing installs the OpenTelemetry tracer provider. The scheduler
// opens one span per pass with a child per state, so a collector shows where
// a pass spent its time.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/large-farva/ground-station/internal/config"
	"github.com/large-farva/ground-station/internal/telemetry"
)

const serviceName = "stationd"

// Shutdown flushes pending spans.
type Shutdown func(context.Context) error

// Init sets the global tracer provider from cfg. Disabled tracing installs a
// no-op provider and a no-op shutdown.
func Init(ctx context.Context, cfg config.TracingConfig, log telemetry.Logger) (Shutdown, error) {
	return initWith(ctx, cfg, os.Stdout, log)
}

func initWith(ctx context.Context, cfg config.TracingConfig, stdout io.Writer, log telemetry.Logger) (Shutdown, error) {
	log = log.With("tracing")
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debugf("tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := exporter(ctx, cfg, stdout)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Infof("tracing enabled, exporter=%s ratio=%.2f", cfg.Exporter, cfg.SampleRatio)
	return tp.Shutdown, nil
}

func exporter(ctx context.Context, cfg config.TracingConfig, stdout io.Writer) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "stdout", "":
		return stdouttrace.New(
			stdouttrace.WithWriter(stdout),
			stdouttrace.WithoutTimestamps(),
		)
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
		return otlptrace.New(ctx, client)
	default:
		return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}
}

// ShutdownWithTimeout flushes with a bounded wait and only logs failure.
func ShutdownWithTimeout(ctx context.Context, shutdown Shutdown, log telemetry.Logger) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warnf("tracing shutdown failed: %v", err)
	}
}

// Tracer returns the station tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer("github.com/large-farva/ground-station")
}
