// Package server exposes the analytics engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"threatlens/pkg/analytics"
	"threatlens/pkg/metrics"
	otelobs "threatlens/pkg/observability/otel"
	"threatlens/pkg/ratelimit"
	"threatlens/pkg/structlog"
)

// StatusClientClosedRequest is reported when the caller went away.
const StatusClientClosedRequest = 499

// Options bounds request work and wires the ambient endpoints.
type Options struct {
	Auth         AuthConfig
	QueryTimeout time.Duration
	MaxWindow    time.Duration
	MaxBatchSize int
	Gatherer     prometheus.Gatherer
	Health       func(ctx context.Context) error
	Logger       *zap.Logger
	ServiceName  string
	Limiter      ratelimit.Limiter
}

// Server holds the engine and exposes HTTP handlers.
type Server struct {
	engine *analytics.Engine
	opts   Options
	auth   *authenticator
	logger *zap.Logger
}

// New constructs a Server over engine.
func New(engine *analytics.Engine, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 20
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "threatlens"
	}
	return &Server{
		engine: engine,
		opts:   opts,
		auth:   newAuthenticator(opts.Auth, opts.Logger),
		logger: opts.Logger,
	}
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.HealthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler(s.opts.Gatherer)).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1/analytics").Subrouter()
	api.Use(s.auth.middleware, s.rateLimit)

	api.HandleFunc("/summary", s.summary).Methods(http.MethodGet)
	api.HandleFunc("/timeline", s.timeline).Methods(http.MethodGet)
	api.HandleFunc("/timeline/comparative", s.comparativeTimeline).Methods(http.MethodGet)
	api.HandleFunc("/timeline/malware", s.malwareTimeline).Methods(http.MethodGet)
	api.HandleFunc("/trend", s.trend).Methods(http.MethodGet)
	api.HandleFunc("/dashboard", s.dashboard).Methods(http.MethodGet)
	api.HandleFunc("/categories/top", s.topCategories).Methods(http.MethodGet)
	api.HandleFunc("/malware-families/top", s.malwareFamilies).Methods(http.MethodGet)
	api.HandleFunc("/countries/top", s.countries).Methods(http.MethodGet)
	api.HandleFunc("/asns/top", s.asns).Methods(http.MethodGet)
	api.HandleFunc("/ports/top", s.ports).Methods(http.MethodGet)
	api.HandleFunc("/protocols", s.protocols).Methods(http.MethodGet)
	api.HandleFunc("/ips/top", s.ipReputation).Methods(http.MethodGet)
	api.HandleFunc("/correlations", s.correlations).Methods(http.MethodGet)
	api.HandleFunc("/anomalies", s.anomalies).Methods(http.MethodGet)
	api.HandleFunc("/overview", s.overview).Methods(http.MethodGet)
	api.HandleFunc("/batch", s.batch).Methods(http.MethodPost)
	api.HandleFunc("/batch/types", s.batchTypes).Methods(http.MethodGet)

	var h http.Handler = r
	h = otelobs.AccessLog(s.logger)(h)
	h = structlog.Middleware(h)
	return otelobs.WrapHTTPHandler(s.opts.ServiceName, h)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Health(ctx); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the analytics error taxonomy onto HTTP statuses. Upstream
// details are logged, not returned.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, analytics.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_input", Message: err.Error()})
	case analytics.IsCancelled(err):
		writeJSON(w, StatusClientClosedRequest, errorBody{Error: "cancelled", Message: "request cancelled"})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorBody{Error: "timeout", Message: "analytics query timed out"})
	case errors.Is(err, analytics.ErrUpstream):
		structlog.FromContext(r.Context(), s.logger).Error("upstream failure", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "upstream", Message: "event store unavailable"})
	default:
		structlog.FromContext(r.Context(), s.logger).Error("unhandled error", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal error"})
	}
}
