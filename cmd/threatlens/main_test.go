package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatlens/internal/server"
	"threatlens/pkg/analytics"
)

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "migrate", "overview", "token"} {
		assert.True(t, names[want], want)
	}

	migrate, _, err := cmd.Find([]string{"migrate", "steps"})
	require.NoError(t, err)
	assert.Equal(t, "steps", migrate.Name())
}

func TestTokenCmd_IssuesVerifiableToken(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("THREATLENS_AUTH_JWT_SECRET", "cli-secret")
	t.Setenv("THREATLENS_AUTH_ISSUER", "threatlens-test")

	tenant := uuid.New()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--tenant", tenant.String(), "--ttl", "10m"})
	require.NoError(t, cmd.Execute())

	var claims server.Claims
	_, err := jwt.NewParser(jwt.WithIssuer("threatlens-test"), jwt.WithExpirationRequired()).
		ParseWithClaims(strings.TrimSpace(out.String()), &claims, func(*jwt.Token) (any, error) {
			return []byte("cli-secret"), nil
		})
	require.NoError(t, err)
	assert.Equal(t, tenant.String(), claims.TenantID)
	assert.Empty(t, claims.Roles)
}

func TestTokenOptions_Issue(t *testing.T) {
	auth := server.AuthConfig{Secret: []byte("s")}

	_, err := (&tokenOptions{ttl: time.Hour}).issue(auth)
	assert.Error(t, err, "neither tenant nor admin")

	_, err = (&tokenOptions{tenant: "not-a-uuid", ttl: time.Hour}).issue(auth)
	assert.ErrorIs(t, err, analytics.ErrInvalidInput)

	_, err = (&tokenOptions{admin: true}).issue(auth)
	assert.Error(t, err, "zero ttl")

	tok, err := (&tokenOptions{admin: true, ttl: time.Hour}).issue(auth)
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
}

func TestOverviewOptions_Query(t *testing.T) {
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	tenant := uuid.New()

	q, err := (&overviewOptions{top: 5, lookback: 6 * time.Hour, tenant: tenant.String()}).query(now, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-6*time.Hour), q.Start)
	assert.Equal(t, now, q.End)
	assert.Equal(t, 5, q.TopCount)
	require.NotNil(t, q.TenantID)
	assert.Equal(t, tenant, *q.TenantID)

	q, err = (&overviewOptions{start: "2024-05-01", end: "2024-05-02", top: 10}).query(now, 24*time.Hour)
	require.NoError(t, err)
	assert.Nil(t, q.TenantID)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), q.Start)

	_, err = (&overviewOptions{top: 10, lookback: 48 * time.Hour}).query(now, 24*time.Hour)
	assert.ErrorIs(t, err, analytics.ErrInvalidInput, "lookback beyond the maximum window")

	_, err = (&overviewOptions{top: -1, lookback: time.Hour}).query(now, 24*time.Hour)
	assert.ErrorIs(t, err, analytics.ErrInvalidInput, "negative ranking length")
}
