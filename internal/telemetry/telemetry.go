// Package telemetry provides OpenTelemetry instrumentation for saasmeter's own
// collection passes: pass and step metrics, and spans per pass and per project.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/yairfalse/saasmeter/internal/config"
)

// Provider wraps OTEL tracer and meter providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	// Metrics
	passDuration metric.Float64Histogram
	passes       metric.Int64Counter
	stepErrors   metric.Int64Counter
	entities     metric.Int64Gauge
	activeTasks  metric.Int64UpDownCounter
}

// NewProvider creates a telemetry provider. Metrics are exposed through reg
// (next to the collected gauges) and, when configured, pushed over OTLP.
func NewProvider(ctx context.Context, cfg config.OTELConfig, reg prometheus.Registerer) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{}

	if err := p.setupTracing(ctx, cfg, res); err != nil {
		return nil, err
	}

	if err := p.setupMetrics(ctx, cfg, res, reg); err != nil {
		if p.tracerProvider != nil {
			_ = p.tracerProvider.Shutdown(ctx)
		}
		return nil, err
	}

	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

// NewNoop returns a provider that records nothing.
func NewNoop() *Provider {
	p := &Provider{
		tracer: tracenoop.NewTracerProvider().Tracer("saasmeter"),
		meter:  metricnoop.NewMeterProvider().Meter("saasmeter"),
	}
	// The noop meter never fails to create instruments.
	_ = p.initMetrics()
	return p
}

func (p *Provider) setupTracing(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}

	if cfg.Traces.Enabled && cfg.Endpoint != "" {
		exp, err := createTraceExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		sampler := sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate)
		opts = append(opts, sdktrace.WithBatcher(exp), sdktrace.WithSampler(sampler))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	p.tracer = p.tracerProvider.Tracer("saasmeter")

	return nil
}

func (p *Provider) setupMetrics(ctx context.Context, cfg config.OTELConfig, res *resource.Resource, reg prometheus.Registerer) error {
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
	}

	if reg != nil {
		promExporter, err := otelprom.New(otelprom.WithRegisterer(reg), otelprom.WithoutScopeInfo())
		if err != nil {
			return fmt.Errorf("create prometheus exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(promExporter))
	}

	if cfg.Metrics.Enabled && cfg.Endpoint != "" {
		exp, err := createMetricExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	p.meter = p.meterProvider.Meter("saasmeter")

	return nil
}

func createTraceExporter(ctx context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func createMetricExporter(ctx context.Context, cfg config.OTELConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func (p *Provider) initMetrics() error {
	var err error

	p.passDuration, err = p.meter.Float64Histogram(
		"saasmeter_pass_duration_seconds",
		metric.WithDescription("Duration of collection passes"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create pass_duration: %w", err)
	}

	p.passes, err = p.meter.Int64Counter(
		"saasmeter_passes",
		metric.WithDescription("Collection passes by outcome"),
	)
	if err != nil {
		return fmt.Errorf("create passes: %w", err)
	}

	p.stepErrors, err = p.meter.Int64Counter(
		"saasmeter_step_errors",
		metric.WithDescription("Failed collection steps by step and error kind"),
	)
	if err != nil {
		return fmt.Errorf("create step_errors: %w", err)
	}

	p.entities, err = p.meter.Int64Gauge(
		"saasmeter_pass_projects",
		metric.WithDescription("Projects visited by the last pass"),
	)
	if err != nil {
		return fmt.Errorf("create pass_projects: %w", err)
	}

	p.activeTasks, err = p.meter.Int64UpDownCounter(
		"saasmeter_active_project_tasks",
		metric.WithDescription("Project tasks holding an admission slot"),
	)
	if err != nil {
		return fmt.Errorf("create active_project_tasks: %w", err)
	}

	return nil
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// StartSpan starts a new span.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordPass records the outcome and duration of a pass.
func (p *Provider) RecordPass(ctx context.Context, outcome string, d time.Duration, projects int) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	p.passes.Add(ctx, 1, attrs)
	p.passDuration.Record(ctx, d.Seconds(), attrs)
	p.entities.Record(ctx, int64(projects))
}

// RecordStepError records a failed step.
func (p *Provider) RecordStepError(ctx context.Context, step, kind string) {
	p.stepErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", step),
		attribute.String("kind", kind),
	))
}

// TaskStarted records a project task taking an admission slot.
func (p *Provider) TaskStarted(ctx context.Context) {
	p.activeTasks.Add(ctx, 1)
}

// TaskFinished records a project task releasing its admission slot.
func (p *Provider) TaskFinished(ctx context.Context) {
	p.activeTasks.Add(ctx, -1)
}

// Shutdown flushes and shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown meter: %w", err)
		}
	}
	return nil
}
