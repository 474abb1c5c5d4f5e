package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"threatlens/pkg/analytics"
	"threatlens/pkg/validation"
)

const maxBatchBody = 1 << 20

// request is a decoded, tenant-scoped analytics call.
type request struct {
	r *http.Request
	q analytics.Query
}

func (s *Server) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.QueryTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.QueryTimeout)
	}
	return context.WithCancel(ctx)
}

func tenantOf(r *http.Request) *uuid.UUID {
	p, _ := principalFrom(r.Context())
	return p.TenantID
}

// query wraps fn with parameter decoding, tenant binding, the per-request
// timeout and error mapping.
func query[R any](s *Server, fn func(ctx context.Context, req request) (R, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := validation.ParseQuery(r.URL.Query(), s.opts.MaxWindow)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		q.TenantID = tenantOf(r)

		ctx, cancel := s.withTimeout(r.Context())
		defer cancel()
		res, err := fn(ctx, request{r: r, q: q})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	query(s, func(ctx context.Context, req request) (analytics.ThreatEventSummary, error) {
		return s.engine.Summary(ctx, req.q)
	})(w, r)
}

func (s *Server) timeline(w http.ResponseWriter, r *http.Request) {
	query(s, func(ctx context.Context, req request) ([]analytics.TimelineDataPoint, error) {
		return s.engine.Timeline(ctx, req.q)
	})(w, r)
}

func (s *Server) comparativeTimeline(w http.ResponseWriter, r *http.Request) {
	query(s, func(ctx context.Context, req request) ([]analytics.ComparativeTimelineDataPoint, error) {
		start, end, err := validation.ParseComparison(req.r.URL.Query(), req.q)
		if err != nil {
			return nil, err
		}
		return s.engine.ComparativeTimeline(ctx, req.q, start, end)
	})(w, r)
}

func (s *Server) malwareTimeline(w http.ResponseWriter, r *http.Request) {
	query(s, func(ctx context.Context, req request) ([]analytics.MalwareTimelineDataPoint, error) {
		return s.engine.MalwareTimeline(ctx, req.q)
	})(w, r)
}

func (s *Server) trend(w http.ResponseWriter, r *http.Request) {
	query(s, func(ctx context.Context, req request) (analytics.TrendComparisonResult, error) {
		start, end, err := validation.ParseComparison(req.r.URL.Query(), req.q)
		if err != nil {
			return analytics.TrendComparisonResult{}, err
		}
		return s.engine.TrendComparison(ctx, req.q, start, end)
	})(w, r)
}

func (s *Server) topCategories(w http.ResponseWriter, r *http.Request) {
	query(s, func(ctx context.Context, req request) ([]analytics.CategoryAnalytics, error) {
		return s.engine.TopCategories(ctx, req.q)
	})(w, r)
}

func (s *Server) malwareFamilies(w http.ResponseWriter, r *http.Request) {
	query(s, func(ctx context.Context, req request) ([]analytics.MalwareFamilyAnalytics, error) {
		return s.engine.MalwareFamilies(ctx, req.q)
	})(w, r)
}

func (s *Server) countries(w http.ResponseWriter, r *http.Request) {
	query(s, func(ctx context.Context, req request) ([]analytics.GeographicalAnalytics, error) {
		return s.engine.Geographical(ctx, req.q)
	})(w, r)
}

func (s *Server) asns(w http.ResponseWriter, r *http.Request) {
	query(s, func(ctx context.Context, req request) ([]analytics.AsnAnalytics, error) {
		return s.engine.Asns(ctx, req.q)
	})(w, r)
}

func (s *Server) ports(w http.ResponseWriter, r *http.Request) {
	query(s, func(ctx context.Context, req request) ([]analytics.PortAnalytics, error) {
		isSource, err := validation.ParseBool(req.r.URL.Query(), "isSource", true)
		if err != nil {
			return nil, err
		}
		return s.engine.Ports(ctx, req.q, isSource)
	})(w, r)
}

func (s *Server) protocols(w http.ResponseWriter, r *http.Request) {
	query(s, func(ctx context.Context, req request) ([]analytics.ProtocolAnalytics, error) {
		return s.engine.Protocols(ctx, req.q)
	})(w, r)
}

func (s *Server) ipReputation(w http.ResponseWriter, r *http.Request) {
	query(s, func(ctx context.Context, req request) ([]analytics.IpReputationAnalytics, error) {
		isSource, err := validation.ParseBool(req.r.URL.Query(), "isSource", true)
		if err != nil {
			return nil, err
		}
		return s.engine.IpReputation(ctx, req.q, isSource)
	})(w, r)
}

func (s *Server) correlations(w http.ResponseWriter, r *http.Request) {
	query(s, func(ctx context.Context, req request) ([]analytics.CorrelationPattern, error) {
		typ, err := analytics.ParseCorrelationType(req.r.URL.Query().Get("type"))
		if err != nil {
			return nil, err
		}
		return s.engine.Correlations(ctx, req.q, typ)
	})(w, r)
}

func (s *Server) anomalies(w http.ResponseWriter, r *http.Request) {
	query(s, func(ctx context.Context, req request) ([]analytics.AnomalyDetectionResult, error) {
		values := req.r.URL.Query()
		tag := values.Get("type")
		if tag == "" {
			tag = string(analytics.VolumeAnomaly)
		}
		typ, err := analytics.ParseAnomalyType(tag)
		if err != nil {
			return nil, err
		}
		sensitivity, err := validation.ParseFloat(values, "sensitivity", analytics.DefaultSensitivity)
		if err != nil {
			return nil, err
		}
		return s.engine.Anomalies(ctx, req.q, typ, sensitivity)
	})(w, r)
}

func (s *Server) overview(w http.ResponseWriter, r *http.Request) {
	query(s, func(ctx context.Context, req request) (analytics.ThreatLandscapeOverview, error) {
		return s.engine.Landscape(ctx, req.q)
	})(w, r)
}

// dashboard is clock driven and takes no window.
func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()
	res, err := s.engine.DashboardMetrics(ctx, tenantOf(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// BatchRequest is the body of POST /batch.
type BatchRequest struct {
	Queries         []analytics.BatchQuery `json:"queries"`
	ContinueOnError bool                   `json:"continue_on_error"`
}

func (s *Server) batch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_input", Message: "invalid batch body: " + err.Error()})
		return
	}
	if len(req.Queries) == 0 || len(req.Queries) > s.opts.MaxBatchSize {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_input", Message: "batch must contain between 1 and the configured maximum of queries"})
		return
	}
	for _, bq := range req.Queries {
		if err := validation.ValidateTimeWindow(bq.Params.Start, bq.Params.End, s.opts.MaxWindow); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()
	// A tenant principal overrides every query's tenant_id.
	res, err := s.engine.Batch(ctx, req.Queries, tenantOf(r), analytics.BatchOptions{ContinueOnError: req.ContinueOnError})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{BatchResult: res, ExecutionTimeMs: res.ExecutionTime.Milliseconds()})
}

type batchResponse struct {
	analytics.BatchResult
	ExecutionTimeMs int64 `json:"execution_time_ms"`
}

func (s *Server) batchTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"types": analytics.QueryTypes()})
}
