// Package observability provides OpenTelemetry tracing and metrics for the
// evidence store. Core packages receive a nil-safe *CoreMetrics so that
// instrumentation can be disabled without branching at every call site.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // e.g. "localhost:4317" for gRPC
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "proofvault",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
		Insecure:       true,
	}
}

// Provider manages the trace and metric providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
}

// NewProvider initializes OTLP-exporting trace and metric providers. When
// cfg.Enabled is false it returns a provider backed by no-op globals.
func NewProvider(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		return &Provider{
			tracer: otel.Tracer(cfg.ServiceName),
			meter:  otel.Meter(cfg.ServiceName),
		}, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("observability: trace exporter: %w", err)
	}
	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("observability: metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
		sdktrace.WithBatcher(traceExp, sdktrace.WithBatchTimeout(cfg.BatchTimeout)),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	return &Provider{
		tracerProvider: tp,
		meterProvider:  mp,
		tracer:         tp.Tracer(cfg.ServiceName),
		meter:          mp.Meter(cfg.ServiceName),
	}, nil
}

// Tracer returns the provider's tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Meter returns the provider's meter.
func (p *Provider) Meter() metric.Meter { return p.meter }

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			slog.Warn("tracer provider shutdown", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("observability: meter shutdown: %w", err)
		}
	}
	return nil
}

// CoreMetrics carries the counters instrumented by the core packages. A
// nil *CoreMetrics is valid and records nothing.
type CoreMetrics struct {
	recordsCreated  metric.Int64Counter
	tamperDetected  metric.Int64Counter
	bundlesExported metric.Int64Counter
	verifications   metric.Int64Counter
}

// NewCoreMetrics registers the core counters on meter.
func NewCoreMetrics(meter metric.Meter) (*CoreMetrics, error) {
	created, err := meter.Int64Counter("proofvault.records.created",
		metric.WithDescription("Evidence records created"))
	if err != nil {
		return nil, fmt.Errorf("observability: records counter: %w", err)
	}
	tampered, err := meter.Int64Counter("proofvault.tamper.detected",
		metric.WithDescription("Seal mismatches detected on read"))
	if err != nil {
		return nil, fmt.Errorf("observability: tamper counter: %w", err)
	}
	exported, err := meter.Int64Counter("proofvault.bundles.exported",
		metric.WithDescription("Proof bundles exported"))
	if err != nil {
		return nil, fmt.Errorf("observability: export counter: %w", err)
	}
	verified, err := meter.Int64Counter("proofvault.verifications",
		metric.WithDescription("Offline bundle verifications by outcome"))
	if err != nil {
		return nil, fmt.Errorf("observability: verification counter: %w", err)
	}
	return &CoreMetrics{
		recordsCreated:  created,
		tamperDetected:  tampered,
		bundlesExported: exported,
		verifications:   verified,
	}, nil
}

// RecordCreated increments the record creation counter.
func (m *CoreMetrics) RecordCreated(ctx context.Context, sourceSystem string) {
	if m == nil {
		return
	}
	m.recordsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("source_system", sourceSystem)))
}

// TamperDetected increments the tamper counter.
func (m *CoreMetrics) TamperDetected(ctx context.Context) {
	if m == nil {
		return
	}
	m.tamperDetected.Add(ctx, 1)
}

// BundleExported increments the export counter.
func (m *CoreMetrics) BundleExported(ctx context.Context) {
	if m == nil {
		return
	}
	m.bundlesExported.Add(ctx, 1)
}

// Verification increments the verification counter tagged by outcome.
func (m *CoreMetrics) Verification(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
