package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Operation is one named unit of a batch.
type Operation struct {
	Name string
	Run  func(ctx context.Context) (any, error)
}

// BatchOptions controls failure handling. By default the first failure stops the batch.
type BatchOptions struct {
	ContinueOnError bool
}

// BatchResult reports a batch run. QueriesExecuted counts every operation that
// was started, including a failed one.
type BatchResult struct {
	Results         map[string]any    `json:"results"`
	Failures        map[string]string `json:"failures,omitempty"`
	ExecutionTime   time.Duration     `json:"execution_time"`
	Success         bool              `json:"success"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	QueriesExecuted int               `json:"queries_executed"`
}

// RunBatch executes ops in order. Completed results are kept when a later operation
// fails. Cancellation stops the batch and is returned as an error alongside the
// partial result; other failures are only recorded in the result.
func RunBatch(ctx context.Context, ops []Operation, opts BatchOptions) (BatchResult, error) {
	start := time.Now()
	res := BatchResult{Results: make(map[string]any, len(ops)), Success: true}
	finish := func() { res.ExecutionTime = time.Since(start) }

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			res.Success = false
			res.ErrorMessage = err.Error()
			finish()
			return res, err
		}
		res.QueriesExecuted++
		out, err := op.Run(ctx)
		if err != nil {
			res.Success = false
			if IsCancelled(err) {
				res.ErrorMessage = err.Error()
				finish()
				return res, err
			}
			if res.ErrorMessage == "" {
				res.ErrorMessage = fmt.Sprintf("%s: %v", op.Name, err)
			}
			if !opts.ContinueOnError {
				break
			}
			if res.Failures == nil {
				res.Failures = make(map[string]string)
			}
			res.Failures[op.Name] = err.Error()
			continue
		}
		res.Results[op.Name] = out
	}
	finish()
	return res, nil
}

// BatchQuery is one request of a batch: its result is stored under ID.
type BatchQuery struct {
	ID     string      `json:"id"`
	Type   string      `json:"type"`
	Params BatchParams `json:"params"`
}

// BatchParams carries the union of parameters the registered query types accept.
type BatchParams struct {
	Query
	ComparisonStart time.Time   `json:"comparison_start,omitempty"`
	ComparisonEnd   time.Time   `json:"comparison_end,omitempty"`
	IsSource        *bool       `json:"is_source,omitempty"`
	CorrelationType string      `json:"correlation_type,omitempty"`
	AnomalyType     AnomalyType `json:"anomaly_type,omitempty"`
	Sensitivity     float64     `json:"sensitivity,omitempty"`
}

func (p BatchParams) source() bool { return p.IsSource == nil || *p.IsSource }

// QueryFunc runs one registered batch query type.
type QueryFunc func(ctx context.Context, e *Engine, p BatchParams) (any, error)

func adapt[R any](fn func(*Engine, context.Context, BatchParams) (R, error)) QueryFunc {
	return func(ctx context.Context, e *Engine, p BatchParams) (any, error) {
		return fn(e, ctx, p)
	}
}

// Registry maps batch query types to operations.
var Registry = map[string]QueryFunc{
	"summary": adapt(func(e *Engine, ctx context.Context, p BatchParams) (ThreatEventSummary, error) {
		return e.Summary(ctx, p.Query)
	}),
	"timeline": adapt(func(e *Engine, ctx context.Context, p BatchParams) ([]TimelineDataPoint, error) {
		return e.Timeline(ctx, p.Query)
	}),
	"comparative_timeline": adapt(func(e *Engine, ctx context.Context, p BatchParams) ([]ComparativeTimelineDataPoint, error) {
		return e.ComparativeTimeline(ctx, p.Query, p.ComparisonStart, p.ComparisonEnd)
	}),
	"malware_timeline": adapt(func(e *Engine, ctx context.Context, p BatchParams) ([]MalwareTimelineDataPoint, error) {
		return e.MalwareTimeline(ctx, p.Query)
	}),
	"top_categories": adapt(func(e *Engine, ctx context.Context, p BatchParams) ([]CategoryAnalytics, error) {
		return e.TopCategories(ctx, p.Query)
	}),
	"malware_families": adapt(func(e *Engine, ctx context.Context, p BatchParams) ([]MalwareFamilyAnalytics, error) {
		return e.MalwareFamilies(ctx, p.Query)
	}),
	"geographical": adapt(func(e *Engine, ctx context.Context, p BatchParams) ([]GeographicalAnalytics, error) {
		return e.Geographical(ctx, p.Query)
	}),
	"asns": adapt(func(e *Engine, ctx context.Context, p BatchParams) ([]AsnAnalytics, error) {
		return e.Asns(ctx, p.Query)
	}),
	"ports": adapt(func(e *Engine, ctx context.Context, p BatchParams) ([]PortAnalytics, error) {
		return e.Ports(ctx, p.Query, p.source())
	}),
	"protocols": adapt(func(e *Engine, ctx context.Context, p BatchParams) ([]ProtocolAnalytics, error) {
		return e.Protocols(ctx, p.Query)
	}),
	"ip_reputation": adapt(func(e *Engine, ctx context.Context, p BatchParams) ([]IpReputationAnalytics, error) {
		return e.IpReputation(ctx, p.Query, p.source())
	}),
	"correlations": adapt(func(e *Engine, ctx context.Context, p BatchParams) ([]CorrelationPattern, error) {
		return e.Correlations(ctx, p.Query, CorrelationType(p.CorrelationType))
	}),
	"anomalies": adapt(func(e *Engine, ctx context.Context, p BatchParams) ([]AnomalyDetectionResult, error) {
		typ := p.AnomalyType
		if typ == "" {
			typ = VolumeAnomaly
		}
		return e.Anomalies(ctx, p.Query, typ, p.Sensitivity)
	}),
	"trend_comparison": adapt(func(e *Engine, ctx context.Context, p BatchParams) (TrendComparisonResult, error) {
		return e.TrendComparison(ctx, p.Query, p.ComparisonStart, p.ComparisonEnd)
	}),
	"landscape": adapt(func(e *Engine, ctx context.Context, p BatchParams) (ThreatLandscapeOverview, error) {
		return e.Landscape(ctx, p.Query)
	}),
}

// QueryTypes lists the registered batch query types.
func QueryTypes() []string {
	out := make([]string, 0, len(Registry))
	for k := range Registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Batch runs queries in order through the registry. A non-nil tenantID overrides
// every query's tenant. Malformed batches (duplicate or empty ids, unknown types)
// are rejected before anything runs.
func (e *Engine) Batch(ctx context.Context, queries []BatchQuery, tenantID *uuid.UUID, opts BatchOptions) (BatchResult, error) {
	seen := make(map[string]struct{}, len(queries))
	ops := make([]Operation, 0, len(queries))
	for _, bq := range queries {
		if bq.ID == "" {
			return BatchResult{}, invalidf("batch query id is required")
		}
		if _, dup := seen[bq.ID]; dup {
			return BatchResult{}, invalidf("duplicate batch query id %q", bq.ID)
		}
		seen[bq.ID] = struct{}{}
		fn, ok := Registry[bq.Type]
		if !ok {
			return BatchResult{}, invalidf("unknown batch query type %q for %q", bq.Type, bq.ID)
		}
		params := bq.Params
		if tenantID != nil {
			params.TenantID = tenantID
		}
		ops = append(ops, Operation{
			Name: bq.ID,
			Run:  func(ctx context.Context) (any, error) { return fn(ctx, e, params) },
		})
	}
	start := time.Now()
	res, err := RunBatch(ctx, ops, opts)
	e.observer.ObserveOperation("batch", time.Since(start), errorKind(err))
	return res, err
}
