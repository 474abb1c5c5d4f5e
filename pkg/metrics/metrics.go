// Package metrics exports analytics engine measurements to Prometheus and
// OpenTelemetry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "analytics"

// Collector records engine operations as Prometheus series.
type Collector struct {
	duration  *prometheus.HistogramVec
	errors    *prometheus.CounterVec
	scanned   *prometheus.CounterVec
	anomalies *prometheus.CounterVec
}

// NewCollector creates and registers the analytics series on reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Latency of analytics operations.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"operation"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "operation_errors_total", Help: "Failed analytics operations by error kind."},
			[]string{"operation", "kind"},
		),
		scanned: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "events_scanned_total", Help: "Events materialised by analytics operations."},
			[]string{"operation"},
		),
		anomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "anomalies_detected_total", Help: "Anomalies reported by type."},
			[]string{"type"},
		),
	}
	for _, col := range []prometheus.Collector{c.duration, c.errors, c.scanned, c.anomalies} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) ObserveOperation(op string, d time.Duration, errKind string) {
	c.duration.WithLabelValues(op).Observe(d.Seconds())
	if errKind != "" {
		c.errors.WithLabelValues(op, errKind).Inc()
	}
}

func (c *Collector) EventsScanned(op string, n int) {
	c.scanned.WithLabelValues(op).Add(float64(n))
}

func (c *Collector) AnomaliesDetected(kind string, n int) {
	if n > 0 {
		c.anomalies.WithLabelValues(kind).Add(float64(n))
	}
}

// Handler serves the gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
