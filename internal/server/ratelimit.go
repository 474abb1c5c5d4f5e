package server

import (
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"threatlens/pkg/structlog"
)

// rateLimit charges each call to the caller's tenant, or to the subject for
// cross-tenant principals. Limiter errors let the call through.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.opts.Limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := principalFrom(r.Context())
		key := "subject:" + p.Subject
		if p.TenantID != nil {
			key = "tenant:" + p.TenantID.String()
		}

		d, err := s.opts.Limiter.Allow(r.Context(), key)
		if err != nil {
			structlog.FromContext(r.Context(), s.logger).Warn("rate limiter failed", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
		if !d.Allowed {
			secs := int(math.Ceil(d.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited", Message: "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
