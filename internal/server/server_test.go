package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatlens/pkg/analytics"
	"threatlens/pkg/metrics"
	"threatlens/pkg/ratelimit"
)

var (
	secret  = []byte("test-secret")
	now     = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	tenantA = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	tenantB = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	asnA    = analytics.Asn{ID: uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001"), Number: "AS64500", Description: "Owned Net"}
	asnB    = analytics.Asn{ID: uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000002"), Number: "AS64501", Description: "Foreign Net"}
)

func fixtureEvents() []analytics.Event {
	mk := func(offset time.Duration, asn analytics.Asn, category string) analytics.Event {
		return analytics.Event{
			ID:            uuid.New(),
			Timestamp:     now.Add(-offset),
			Asn:           asn,
			SourceAddress: "192.0.2.10",
			Category:      category,
		}
	}
	return []analytics.Event{
		mk(30*time.Minute, asnA, "malware"),
		mk(2*time.Hour, asnA, "malware"),
		mk(3*time.Hour, asnA, "phishing"),
		mk(90*time.Minute, asnB, "scan"),
		mk(4*time.Hour, asnB, "scan"),
	}
}

type testServer struct {
	*httptest.Server
	reg *prometheus.Registry
}

func newTestServer(t *testing.T, store analytics.Store, opts Options) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg)
	require.NoError(t, err)

	engine := analytics.New(store,
		analytics.WithMembership(analytics.StaticMembership{tenantA: {asnA.ID}, tenantB: {asnB.ID}}),
		analytics.WithClock(analytics.FixedClock(now)),
		analytics.WithObserver(collector),
	)
	if opts.Auth.Secret == nil && !opts.Auth.Disabled {
		opts.Auth.Secret = secret
	}
	opts.Gatherer = reg
	if opts.MaxWindow == 0 {
		opts.MaxWindow = 31 * 24 * time.Hour
	}
	ts := httptest.NewServer(New(engine, opts).Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, reg: reg}
}

func token(t *testing.T, tenant *uuid.UUID, roles ...string) string {
	t.Helper()
	tok, err := IssueToken(AuthConfig{Secret: secret}, "analyst", tenant, roles, time.Hour)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) get(t *testing.T, path string, params url.Values, tok string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+path+"?"+params.Encode(), nil)
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func window() url.Values {
	return url.Values{
		"start": {now.Add(-24 * time.Hour).Format(time.RFC3339)},
		"end":   {now.Format(time.RFC3339)},
	}
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, analytics.NewMemoryStore(nil), Options{})
	resp := ts.get(t, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down := newTestServer(t, analytics.NewMemoryStore(nil), Options{
		Health: func(context.Context) error { return errors.New("db down") },
	})
	resp = down.get(t, "/healthz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_Authentication(t *testing.T) {
	ts := newTestServer(t, analytics.NewMemoryStore(fixtureEvents()), Options{})

	resp := ts.get(t, "/api/v1/analytics/summary", window(), "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.get(t, "/api/v1/analytics/summary", window(), token(t, nil))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "tenantless non-admin token")

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		TenantID:         tenantA.String(),
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour * 24 * 365 * 10))},
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	resp = ts.get(t, "/api/v1/analytics/summary", window(), forged)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{TenantID: tenantA.String()}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	resp = ts.get(t, "/api/v1/analytics/summary", window(), unsigned)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_SummaryIsTenantScoped(t *testing.T) {
	ts := newTestServer(t, analytics.NewMemoryStore(fixtureEvents()), Options{})

	resp := ts.get(t, "/api/v1/analytics/summary", window(), token(t, &tenantA))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decode[analytics.ThreatEventSummary](t, resp)
	assert.Equal(t, 3, summary.TotalEvents)
	assert.Equal(t, "malware", summary.MostActiveCategory)

	resp = ts.get(t, "/api/v1/analytics/summary", window(), token(t, nil, adminRole))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5, decode[analytics.ThreatEventSummary](t, resp).TotalEvents)
}

func TestServer_Rollups(t *testing.T) {
	ts := newTestServer(t, analytics.NewMemoryStore(fixtureEvents()), Options{})
	tok := token(t, &tenantB)

	resp := ts.get(t, "/api/v1/analytics/categories/top", window(), tok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cats := decode[[]analytics.CategoryAnalytics](t, resp)
	require.Len(t, cats, 1)
	assert.Equal(t, "scan", cats[0].Category)
	assert.Equal(t, 2, cats[0].Count)

	params := window()
	params.Set("interval", "hour")
	resp = ts.get(t, "/api/v1/analytics/timeline", params, tok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]analytics.TimelineDataPoint](t, resp), 2)

	params = window()
	params.Set("type", "asn_category")
	resp = ts.get(t, "/api/v1/analytics/correlations", params, tok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	patterns := decode[[]analytics.CorrelationPattern](t, resp)
	require.Len(t, patterns, 1)
	assert.Equal(t, "Foreign Net", patterns[0].PrimaryKey)

	resp = ts.get(t, "/api/v1/analytics/overview", window(), tok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	overview := decode[analytics.ThreatLandscapeOverview](t, resp)
	assert.Equal(t, 2, overview.Summary.TotalEvents)
	assert.Equal(t, now, overview.GeneratedAt)

	resp = ts.get(t, "/api/v1/analytics/anomalies", window(), tok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]analytics.AnomalyDetectionResult](t, resp))
}

func TestServer_Dashboard(t *testing.T) {
	ts := newTestServer(t, analytics.NewMemoryStore(fixtureEvents()), Options{})

	resp := ts.get(t, "/api/v1/analytics/dashboard", nil, token(t, &tenantA))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m := decode[analytics.ThreatEventDashboardMetrics](t, resp)
	assert.Equal(t, 3, m.EventsLast24Hours)
	assert.Equal(t, 1, m.EventsLastHour)
	assert.Len(t, m.RecentHighRiskEvents, 1)
}

func TestServer_InvalidInput(t *testing.T) {
	ts := newTestServer(t, analytics.NewMemoryStore(fixtureEvents()), Options{})
	tok := token(t, &tenantA)

	params := window()
	params.Set("interval", "fortnight")
	resp := ts.get(t, "/api/v1/analytics/timeline", params, tok)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", decode[errorBody](t, resp).Error)

	resp = ts.get(t, "/api/v1/analytics/summary", url.Values{"start": {"2024-05-15"}}, tok)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	params = window()
	params.Set("type", "actor_country")
	resp = ts.get(t, "/api/v1/analytics/correlations", params, tok)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	params = window()
	params.Set("start", now.Add(-90*24*time.Hour).Format(time.RFC3339))
	resp = ts.get(t, "/api/v1/analytics/summary", params, tok)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "window longer than the configured maximum")
}

type brokenStore struct{}

func (brokenStore) Acquire(context.Context) (analytics.Handle, error) {
	return nil, errors.New("dial tcp 10.0.0.5:5432: connection refused")
}

type stalledStore struct{}

func (stalledStore) Acquire(ctx context.Context) (analytics.Handle, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestServer_UpstreamErrors(t *testing.T) {
	ts := newTestServer(t, brokenStore{}, Options{})
	resp := ts.get(t, "/api/v1/analytics/summary", window(), token(t, &tenantA))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body := decode[errorBody](t, resp)
	assert.NotContains(t, body.Message, "10.0.0.5", "store details stay in the logs")

	slow := newTestServer(t, stalledStore{}, Options{QueryTimeout: 20 * time.Millisecond})
	resp = slow.get(t, "/api/v1/analytics/summary", window(), token(t, &tenantA))
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func (ts *testServer) post(t *testing.T, path string, body any, tok string) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_Batch(t *testing.T) {
	ts := newTestServer(t, analytics.NewMemoryStore(fixtureEvents()), Options{MaxBatchSize: 2})
	params := analytics.BatchParams{Query: analytics.Query{
		Start:    now.Add(-24 * time.Hour),
		End:      now,
		TenantID: &tenantB,
	}}

	resp := ts.post(t, "/api/v1/analytics/batch", BatchRequest{Queries: []analytics.BatchQuery{
		{ID: "summary", Type: "summary", Params: params},
		{ID: "asns", Type: "asns", Params: params},
	}}, token(t, &tenantA))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Success         bool `json:"success"`
		QueriesExecuted int  `json:"queries_executed"`
		Results         struct {
			Summary analytics.ThreatEventSummary `json:"summary"`
			Asns    []analytics.AsnAnalytics     `json:"asns"`
		} `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Success)
	assert.Equal(t, 2, out.QueriesExecuted)
	assert.Equal(t, 3, out.Results.Summary.TotalEvents, "token tenant wins over params")
	require.Len(t, out.Results.Asns, 1)
	assert.Equal(t, "Owned Net", out.Results.Asns[0].OrganizationName)

	resp = ts.post(t, "/api/v1/analytics/batch", BatchRequest{Queries: []analytics.BatchQuery{
		{ID: "a", Type: "summary", Params: params},
		{ID: "b", Type: "summary", Params: params},
		{ID: "c", Type: "summary", Params: params},
	}}, token(t, &tenantA))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "over the batch size limit")

	resp = ts.post(t, "/api/v1/analytics/batch", BatchRequest{Queries: []analytics.BatchQuery{
		{ID: "a", Type: "attribution", Params: params},
	}}, token(t, &tenantA))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.post(t, "/api/v1/analytics/batch", map[string]any{"queries": []any{}, "parallel": true}, token(t, &tenantA))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_BatchTypesAndMetrics(t *testing.T) {
	ts := newTestServer(t, analytics.NewMemoryStore(fixtureEvents()), Options{})

	resp := ts.get(t, "/api/v1/analytics/batch/types", nil, token(t, &tenantA))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, decode[map[string][]string](t, resp)["types"], "landscape")

	ts.get(t, "/api/v1/analytics/summary", window(), token(t, &tenantA))
	families, err := ts.reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["analytics_operation_duration_seconds"])

	resp = ts.get(t, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_AuthDisabled(t *testing.T) {
	ts := newTestServer(t, analytics.NewMemoryStore(fixtureEvents()), Options{Auth: AuthConfig{Disabled: true}})

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/analytics/summary?"+window().Encode(), nil)
	require.NoError(t, err)
	req.Header.Set("X-Tenant-ID", tenantB.String())
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decode[analytics.ThreatEventSummary](t, resp).TotalEvents)
}

func TestServer_RateLimitPerTenant(t *testing.T) {
	limiter := ratelimit.NewLocalLimiter(ratelimit.Config{Capacity: 1, Refill: 1, Interval: time.Hour})
	ts := newTestServer(t, analytics.NewMemoryStore(fixtureEvents()), Options{Limiter: limiter})

	resp := ts.get(t, "/api/v1/analytics/summary", window(), token(t, &tenantA))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))

	resp = ts.get(t, "/api/v1/analytics/summary", window(), token(t, &tenantA))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "3600", resp.Header.Get("Retry-After"))

	resp = ts.get(t, "/api/v1/analytics/summary", window(), token(t, &tenantB))
	assert.Equal(t, http.StatusOK, resp.StatusCode, "other tenants keep their own budget")

	resp = ts.get(t, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
