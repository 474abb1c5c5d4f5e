package analytics

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Observer receives per-operation measurements. pkg/metrics implements it with
// Prometheus collectors.
type Observer interface {
	ObserveOperation(op string, d time.Duration, errKind string)
	EventsScanned(op string, n int)
	AnomaliesDetected(kind string, n int)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, time.Duration, string) {}
func (nopObserver) EventsScanned(string, int) {}
func (nopObserver) AnomaliesDetected(string, int) {}

// Engine answers analytics queries over a Store. Each call acquires its own handle,
// resolves the tenant scope and releases the handle before returning.
type Engine struct {
	store      Store
	membership MembershipSource
	clock      Clock
	scorer     RiskScorer
	logger     *zap.Logger
	observer   Observer
	tracer     trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

func WithMembership(m MembershipSource) Option { return func(e *Engine) { e.membership = m } }
func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }
func WithRiskScorer(s RiskScorer) Option { return func(e *Engine) { e.scorer = s } }
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }
func WithObserver(o Observer) Option { return func(e *Engine) { e.observer = o } }
func WithTracer(t trace.Tracer) Option { return func(e *Engine) { e.tracer = t } }

// New returns an engine reading from store.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		clock:    SystemClock{},
		scorer:   HeuristicScorer{},
		logger:   zap.NewNop(),
		observer: nopObserver{},
		tracer:   otel.Tracer("threatlens/analytics"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now is the engine clock's current time.
func (e *Engine) Now() time.Time { return e.clock.Now().UTC() }

// run validates q, opens a scoped source, runs fn and records the outcome.
func run[R any](ctx context.Context, e *Engine, op string, q Query, fn func(context.Context, source, Query) (R, error)) (res R, err error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "analytics."+op, trace.WithAttributes(
		attribute.String("analytics.operation", op),
	))
	defer func() {
		kind := errorKind(err)
		e.observer.ObserveOperation(op, time.Since(start), kind)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, kind)
			fields := []zap.Field{
				zap.String("operation", op),
				zap.String("error_kind", kind),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err),
			}
			if q.TenantID != nil {
				fields = append(fields, zap.String("tenant_id", q.TenantID.String()))
			}
			if kind == "invalid_input" || kind == "cancelled" {
				e.logger.Debug("analytics operation rejected", fields...)
			} else {
				e.logger.Error("analytics operation failed", fields...)
			}
		}
		span.End()
	}()

	if q, err = q.Validate(); err != nil {
		return res, err
	}
	if q.TenantID != nil {
		span.SetAttributes(attribute.String("tenant.id", q.TenantID.String()))
	}
	src, release, err := e.open(ctx, q)
	if err != nil {
		return res, err
	}
	defer func() {
		if cerr := release(); cerr != nil && err == nil {
			e.logger.Warn("close event store handle", zap.String("operation", op), zap.Error(cerr))
		}
	}()

	res, err = fn(ctx, src, q)
	if err != nil {
		return res, upstream(ctx, op, err)
	}
	return res, nil
}

func (e *Engine) open(ctx context.Context, q Query) (source, func() error, error) {
	scope, err := ResolveScope(ctx, e.membership, q.TenantID)
	if err != nil {
		return source{}, nil, err
	}
	h, err := e.store.Acquire(ctx)
	if err != nil {
		return source{}, nil, upstream(ctx, "acquire event store handle", err)
	}
	return source{h: h, scope: scope}, h.Close, nil
}

// Events returns the scoped events of q, for use with the generic primitives.
func (e *Engine) Events(ctx context.Context, q Query) ([]Event, error) {
	return run(ctx, e, "events", q, func(ctx context.Context, src source, q Query) ([]Event, error) {
		events, err := src.events(ctx, q.filter())
		e.observer.EventsScanned("events", len(events))
		return events, err
	})
}

// TrendComparison compares the scoped event counts of two windows. The tenant and
// dimension filters of current apply to both.
func (e *Engine) TrendComparison(ctx context.Context, current Query, comparisonStart, comparisonEnd time.Time) (TrendComparisonResult, error) {
	cmpQ := current
	cmpQ.Start, cmpQ.End = comparisonStart, comparisonEnd
	if _, err := cmpQ.Validate(); err != nil {
		return TrendComparisonResult{}, err
	}
	return run(ctx, e, "trend_comparison", current, func(ctx context.Context, src source, q Query) (TrendComparisonResult, error) {
		cur, err := src.count(ctx, q.filter())
		if err != nil {
			return TrendComparisonResult{}, err
		}
		prev, err := src.count(ctx, q.window(comparisonStart.UTC(), comparisonEnd.UTC()))
		if err != nil {
			return TrendComparisonResult{}, err
		}
		return CompareTrend(cur, prev), nil
	})
}

// Timeline buckets the window by q.Interval and category.
func (e *Engine) Timeline(ctx context.Context, q Query) ([]TimelineDataPoint, error) {
	return run(ctx, e, "timeline", q, func(ctx context.Context, src source, q Query) ([]TimelineDataPoint, error) {
		return src.timeline(ctx, q.filter(), q.Interval)
	})
}

// ComparativeTimeline annotates each current point with the count of the same
// category in the comparison bucket at the same offset from its window start.
func (e *Engine) ComparativeTimeline(ctx context.Context, q Query, comparisonStart, comparisonEnd time.Time) ([]ComparativeTimelineDataPoint, error) {
	cmpQ := q
	cmpQ.Start, cmpQ.End = comparisonStart, comparisonEnd
	if _, err := cmpQ.Validate(); err != nil {
		return nil, err
	}
	return run(ctx, e, "comparative_timeline", q, func(ctx context.Context, src source, q Query) ([]ComparativeTimelineDataPoint, error) {
		current, err := src.timeline(ctx, q.filter(), q.Interval)
		if err != nil {
			return nil, err
		}
		previous, err := src.timeline(ctx, q.window(comparisonStart.UTC(), comparisonEnd.UTC()), q.Interval)
		if err != nil {
			return nil, err
		}
		return alignComparison(current, previous, q.Start.Sub(comparisonStart.UTC()), q.Interval), nil
	})
}

func alignComparison(current, previous []TimelineDataPoint, offset time.Duration, iv Interval) []ComparativeTimelineDataPoint {
	shifted := make(map[timelineKey]int, len(previous))
	for _, p := range previous {
		shifted[timelineKey{ts: BucketStart(p.Timestamp.Add(offset), iv), category: p.Category}] += p.Count
	}
	out := make([]ComparativeTimelineDataPoint, 0, len(current))
	for _, p := range current {
		prev := shifted[timelineKey{ts: p.Timestamp, category: p.Category}]
		t := CompareTrend(p.Count, prev)
		out = append(out, ComparativeTimelineDataPoint{
			TimelineDataPoint:   p,
			PreviousPeriodCount: prev,
			PercentageChange:    t.PercentChange,
			TrendDirection:      t.TrendDirection,
		})
	}
	return out
}

// MalwareTimeline counts events per bucket and malware family.
func (e *Engine) MalwareTimeline(ctx context.Context, q Query) ([]MalwareTimelineDataPoint, error) {
	return run(ctx, e, "malware_timeline", q, func(ctx context.Context, src source, q Query) ([]MalwareTimelineDataPoint, error) {
		events, err := src.events(ctx, q.filter())
		if err != nil {
			return nil, err
		}
		e.observer.EventsScanned("malware_timeline", len(events))
		return malwareTimeline(events, q.Interval), nil
	})
}

// Correlations mines co-occurring dimension values in the window.
func (e *Engine) Correlations(ctx context.Context, q Query, typ CorrelationType) ([]CorrelationPattern, error) {
	if _, err := ParseCorrelationType(string(typ)); err != nil {
		return nil, err
	}
	return run(ctx, e, "correlations", q, func(ctx context.Context, src source, q Query) ([]CorrelationPattern, error) {
		events, err := src.events(ctx, q.filter())
		if err != nil {
			return nil, err
		}
		e.observer.EventsScanned("correlations", len(events))
		return MineCorrelations(events, typ)
	})
}

// Anomalies runs the detector for typ over the window. Only volume anomalies are
// detected; the geographic and temporal detectors report nothing.
func (e *Engine) Anomalies(ctx context.Context, q Query, typ AnomalyType, threshold float64) ([]AnomalyDetectionResult, error) {
	if _, err := ParseAnomalyType(string(typ)); err != nil {
		return nil, err
	}
	if _, err := sensitivity(threshold); err != nil {
		return nil, err
	}
	return run(ctx, e, "anomalies", q, func(ctx context.Context, src source, q Query) ([]AnomalyDetectionResult, error) {
		return e.anomalies(ctx, src, q, typ, threshold)
	})
}

func (e *Engine) anomalies(ctx context.Context, src source, q Query, typ AnomalyType, threshold float64) ([]AnomalyDetectionResult, error) {
	if typ != VolumeAnomaly {
		return []AnomalyDetectionResult{}, nil
	}
	points, err := src.timeline(ctx, q.filter(), Hour)
	if err != nil {
		return nil, err
	}
	found, err := DetectVolumeAnomalies(hourlyTotals(points), threshold)
	if err != nil {
		return nil, err
	}
	e.observer.AnomaliesDetected(string(typ), len(found))
	return found, nil
}

// Landscape composes the overview of q's window. All sub-views run in order on
// a single handle.
func (e *Engine) Landscape(ctx context.Context, q Query) (ThreatLandscapeOverview, error) {
	return run(ctx, e, "landscape", q, func(ctx context.Context, src source, q Query) (ThreatLandscapeOverview, error) {
		var (
			out ThreatLandscapeOverview
			err error
		)
		top := q
		top.TopCount = q.top(landscapeTopCount)
		if out.Summary, err = e.summary(ctx, src, q); err != nil {
			return out, err
		}
		if out.TopCategories, err = e.topCategories(ctx, src, top); err != nil {
			return out, err
		}
		if out.TopSourceCountries, err = e.geographical(ctx, src, top); err != nil {
			return out, err
		}
		if out.TopMalwareFamilies, err = e.malwareFamilies(ctx, src, top); err != nil {
			return out, err
		}
		if out.TopAsns, err = e.asns(ctx, src, top); err != nil {
			return out, err
		}
		if out.HourlyTimeline, err = src.timeline(ctx, q.filter(), Hour); err != nil {
			return out, err
		}
		if out.RecentAnomalies, err = e.anomalies(ctx, src, q, VolumeAnomaly, DefaultSensitivity); err != nil {
			return out, err
		}
		out.GeneratedAt = e.Now()
		out.AnalysisPeriod = q.Period()
		return out, nil
	})
}

const landscapeTopCount = 10

// IsInvalidInput reports whether err rejects the caller's parameters.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }
