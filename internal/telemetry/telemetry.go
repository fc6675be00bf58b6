// Package telemetry wraps OpenTelemetry tracing and metrics for the server
// and host processes, grounded on the teacher framework's pkg/telemetry/otel.go.
// When disabled it degrades to no-op tracers/meters so callers never branch
// on whether telemetry is configured.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config selects the OTLP exporter target (empty endpoint -> stdout exporter,
// useful for local development without a collector).
type Config struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	Insecure    bool
}

// Telemetry exposes a tracer and a meter to the rest of the module.
type Telemetry struct {
	tracer   trace.Tracer
	meter    metric.Meter
	provider *sdktrace.TracerProvider
}

// New builds a Telemetry instance per Config. Returns a no-op instance when disabled.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{
			tracer: otel.Tracer("virtualpytest/noop"),
			meter:  otel.Meter("virtualpytest/noop"),
		}, nil
	}

	var exporter sdktrace.SpanExporter
	var err error
	if cfg.Endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, fmt.Errorf("create span exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "virtualpytest"
	}

	return &Telemetry{
		tracer:   provider.Tracer(serviceName),
		meter:    otel.Meter(serviceName),
		provider: provider,
	}, nil
}

// StartSpan begins a span named op; callers must call the returned end func.
func (t *Telemetry) StartSpan(ctx context.Context, op string) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, op)
	return ctx, func() { span.End() }
}

// Tracer exposes the raw tracer for callers that need span attributes.
func (t *Telemetry) Tracer() trace.Tracer { return t.tracer }

// Meter exposes the raw meter for counters/histograms.
func (t *Telemetry) Meter() metric.Meter { return t.meter }

// RecordDuration is a convenience for latency histograms on proxy/execution paths.
func (t *Telemetry) RecordDuration(ctx context.Context, name string, d time.Duration) {
	hist, err := t.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	hist.Record(ctx, d.Seconds())
}

// Shutdown flushes and stops the tracer provider, if one was created.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
