// Package otelobs wires OpenTelemetry tracing and metrics to an OTLP HTTP
// collector.
package otelobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Config selects the collector. An empty Endpoint falls back to
// OTEL_EXPORTER_OTLP_ENDPOINT; when both are empty telemetry export is off.
type Config struct {
	ServiceName    string        `mapstructure:"service_name"`
	Endpoint       string        `mapstructure:"endpoint"`
	Insecure       bool          `mapstructure:"insecure"`
	SampleRatio    float64       `mapstructure:"sample_ratio"`
	MetricInterval time.Duration `mapstructure:"metric_interval"`
}

// Shutdown flushes and stops a provider.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

func (c Config) endpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
}

// Enabled reports whether an export endpoint is configured.
func (c Config) Enabled() bool { return c.endpoint() != "" }

func (c Config) resource(ctx context.Context) (*resource.Resource, error) {
	return resource.New(ctx, resource.WithAttributes(semconv.ServiceName(c.ServiceName)))
}

// InitTracer installs a batching OTLP tracer provider and W3C propagation.
func InitTracer(ctx context.Context, c Config) (Shutdown, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	if !c.Enabled() {
		return noop, nil
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(c.endpoint())}
	if c.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return noop, fmt.Errorf("create OTLP trace exporter: %w", err)
	}
	res, err := c.resource(ctx)
	if err != nil {
		return noop, fmt.Errorf("create resource: %w", err)
	}
	ratio := c.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// InitMeter installs a periodic OTLP meter provider.
func InitMeter(ctx context.Context, c Config) (Shutdown, error) {
	if !c.Enabled() {
		return noop, nil
	}
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(c.endpoint())}
	if c.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return noop, fmt.Errorf("create OTLP metric exporter: %w", err)
	}
	res, err := c.resource(ctx)
	if err != nil {
		return noop, fmt.Errorf("create resource: %w", err)
	}
	interval := c.MetricInterval
	if interval <= 0 {
		interval = time.Minute
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// Combine runs every shutdown and joins their errors.
func Combine(fns ...Shutdown) Shutdown {
	return func(ctx context.Context) error {
		var errs []error
		for _, fn := range fns {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
