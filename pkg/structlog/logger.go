// Package structlog builds the service's zap logger and carries correlation
// ids through request contexts.
package structlog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls encoding and the optional rotated log file.
type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
	File   string `mapstructure:"file"`

	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// New builds a logger tagged with service. Output always goes to stdout and
// is teed into File when set.
func New(service string, cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = lvl
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.MillisDurationEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console":
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level)}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 30),
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), level))
	}

	return zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service", service)),
	), nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

type ctxKeyCorrID struct{}

// CorrelationHeader carries the correlation id between services.
const CorrelationHeader = "X-Correlation-ID"

func NewCorrelationID() string { return uuid.NewString() }

func ContextWithCorrelationID(ctx context.Context, corrID string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrID{}, corrID)
}

// GetCorrelationID returns the id stored in ctx, or "".
func GetCorrelationID(ctx context.Context) string {
	if corrID, ok := ctx.Value(ctxKeyCorrID{}).(string); ok {
		return corrID
	}
	return ""
}

// FromContext returns l annotated with the correlation id of ctx.
func FromContext(ctx context.Context, l *zap.Logger) *zap.Logger {
	if corrID := GetCorrelationID(ctx); corrID != "" {
		return l.With(zap.String("correlation_id", corrID))
	}
	return l
}

// Middleware accepts an inbound correlation id or mints one, stores it in
// the request context and echoes it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corrID := r.Header.Get(CorrelationHeader)
		if corrID == "" || len(corrID) > 128 {
			corrID = NewCorrelationID()
		}
		w.Header().Set(CorrelationHeader, corrID)
		next.ServeHTTP(w, r.WithContext(ContextWithCorrelationID(r.Context(), corrID)))
	})
}

var sensitiveKeys = []string{"password", "secret", "token", "apikey", "authorization"}

// Redact masks the value when key names a credential.
func Redact(key, value string) zap.Field {
	lk := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lk, s) {
			return zap.String(key, "MASKED")
		}
	}
	return zap.String(key, value)
}
