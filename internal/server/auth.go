package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"threatlens/pkg/structlog"
)

// Claims is the bearer token payload. A token without tenant_id is only
// accepted for the admin role and sees every tenant.
type Claims struct {
	TenantID string   `json:"tenant_id,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

const adminRole = "admin"

// AuthConfig configures bearer token checks.
type AuthConfig struct {
	Disabled bool
	Secret   []byte
	Issuer   string
	Audience string
}

// Principal is the authenticated caller.
type Principal struct {
	Subject  string
	TenantID *uuid.UUID
	Admin    bool
}

type principalKey struct{}

func principalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

var (
	errMissingToken = errors.New("missing bearer token")
	errNoTenant     = errors.New("token carries no tenant")
)

type authenticator struct {
	cfg    AuthConfig
	parser *jwt.Parser
	logger *zap.Logger
}

func newAuthenticator(cfg AuthConfig, logger *zap.Logger) *authenticator {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &authenticator{cfg: cfg, parser: jwt.NewParser(opts...), logger: logger}
}

func (a *authenticator) principal(r *http.Request) (Principal, error) {
	if a.cfg.Disabled {
		// Development mode: an optional X-Tenant-ID header scopes the request.
		p := Principal{Subject: "anonymous", Admin: true}
		if raw := r.Header.Get("X-Tenant-ID"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				return Principal{}, err
			}
			p.TenantID, p.Admin = &id, false
		}
		return p, nil
	}

	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return Principal{}, errMissingToken
	}
	claims := &Claims{}
	if _, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return a.cfg.Secret, nil }); err != nil {
		return Principal{}, err
	}
	p := Principal{Subject: claims.Subject, Admin: slices.Contains(claims.Roles, adminRole)}
	if claims.TenantID == "" {
		if !p.Admin {
			return Principal{}, errNoTenant
		}
		return p, nil
	}
	id, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return Principal{}, err
	}
	p.TenantID = &id
	return p, nil
}

func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.principal(r)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, errNoTenant) {
				status = http.StatusForbidden
			}
			structlog.FromContext(r.Context(), a.logger).Info("request rejected",
				zap.String("path", r.URL.Path),
				structlog.Redact("authorization", r.Header.Get("Authorization")),
				zap.Error(err),
			)
			writeJSON(w, status, errorBody{Error: "unauthorized", Message: "valid bearer token with tenant_id claim required"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

// IssueToken signs an HS256 token for tenantID that cfg accepts. A nil tenant
// with the admin role yields a cross-tenant token.
func IssueToken(cfg AuthConfig, subject string, tenantID *uuid.UUID, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	if tenantID != nil {
		claims.TenantID = tenantID.String()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Secret)
}
