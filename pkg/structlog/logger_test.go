package structlog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	l, err := New("threatlens", Config{Level: "debug", File: filepath.Join(t.TempDir(), "threatlens.log")})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zap.DebugLevel))

	_, err = New("threatlens", Config{Level: "loud"})
	assert.Error(t, err)

	_, err = New("threatlens", Config{Format: "xml"})
	assert.Error(t, err)

	l, err = New("threatlens", Config{Format: "console"})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zap.DebugLevel))
}

func TestCorrelationID_Context(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetCorrelationID(ctx))

	ctx = ContextWithCorrelationID(ctx, "req-1")
	assert.Equal(t, "req-1", GetCorrelationID(ctx))

	core, logs := observer.New(zap.InfoLevel)
	FromContext(ctx, zap.New(core)).Info("hello")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "req-1", logs.All()[0].ContextMap()["correlation_id"])
}

func TestMiddleware(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationHeader, "upstream-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "upstream-42", seen)
	assert.Equal(t, "upstream-42", rec.Header().Get(CorrelationHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, rec.Header().Get(CorrelationHeader))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "MASKED", Redact("Authorization", "Bearer abc").String)
	assert.Equal(t, "MASKED", Redact("jwt_secret", "s").String)
	assert.Equal(t, "/api", Redact("path", "/api").String)
}
