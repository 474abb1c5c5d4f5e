package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"threatlens/pkg/analytics"
)

// OTelObserver mirrors the Prometheus series onto an OpenTelemetry meter so
// they reach the OTLP collector.
type OTelObserver struct {
	duration  metric.Float64Histogram
	errors    metric.Int64Counter
	scanned   metric.Int64Counter
	anomalies metric.Int64Counter
}

func NewOTelObserver(meter metric.Meter) (*OTelObserver, error) {
	o := &OTelObserver{}
	var err error
	if o.duration, err = meter.Float64Histogram("analytics.operation.duration", metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create histogram: %w", err)
	}
	if o.errors, err = meter.Int64Counter("analytics.operation.errors"); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if o.scanned, err = meter.Int64Counter("analytics.events.scanned"); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if o.anomalies, err = meter.Int64Counter("analytics.anomalies.detected"); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	return o, nil
}

func (o *OTelObserver) ObserveOperation(op string, d time.Duration, errKind string) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("operation", op))
	o.duration.Record(ctx, d.Seconds(), attrs)
	if errKind != "" {
		o.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op), attribute.String("kind", errKind)))
	}
}

func (o *OTelObserver) EventsScanned(op string, n int) {
	o.scanned.Add(context.Background(), int64(n), metric.WithAttributes(attribute.String("operation", op)))
}

func (o *OTelObserver) AnomaliesDetected(kind string, n int) {
	if n > 0 {
		o.anomalies.Add(context.Background(), int64(n), metric.WithAttributes(attribute.String("type", kind)))
	}
}

// Fanout forwards every measurement to each observer.
type Fanout []analytics.Observer

func (f Fanout) ObserveOperation(op string, d time.Duration, errKind string) {
	for _, o := range f {
		o.ObserveOperation(op, d, errKind)
	}
}

func (f Fanout) EventsScanned(op string, n int) {
	for _, o := range f {
		o.EventsScanned(op, n)
	}
}

func (f Fanout) AnomaliesDetected(kind string, n int) {
	for _, o := range f {
		o.AnomaliesDetected(kind, n)
	}
}
