// Package config loads ThreatLens settings from defaults, an optional YAML
// file and THREATLENS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"threatlens/pkg/circuitbreaker"
	"threatlens/pkg/database"
	otelobs "threatlens/pkg/observability/otel"
	"threatlens/pkg/ratelimit"
	"threatlens/pkg/structlog"
	"threatlens/pkg/tenancy"
)

type Config struct {
	HTTP       HTTPConfig          `mapstructure:"http"`
	Database   database.Config     `mapstructure:"database"`
	Store      StoreConfig         `mapstructure:"store"`
	Redis      RedisConfig         `mapstructure:"redis"`
	Membership tenancy.CacheConfig `mapstructure:"membership_cache"`
	Auth       AuthConfig          `mapstructure:"auth"`
	RateLimit  ratelimit.Config    `mapstructure:"rate_limit"`
	Log        structlog.Config    `mapstructure:"log"`
	Telemetry  otelobs.Config      `mapstructure:"telemetry"`
	Analytics  AnalyticsConfig     `mapstructure:"analytics"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StoreConfig struct {
	Timescale   bool                    `mapstructure:"timescale"` // bucket timelines with time_bucket
	AutoMigrate bool                    `mapstructure:"auto_migrate"`
	Breaker     circuitbreaker.Settings `mapstructure:"breaker"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	Disabled  bool   `mapstructure:"disabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	Audience  string `mapstructure:"audience"`
}

// AnalyticsConfig bounds the work a single request may ask for.
type AnalyticsConfig struct {
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	MaxWindow    time.Duration `mapstructure:"max_window"`
	MaxBatchSize int           `mapstructure:"max_batch_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 60*time.Second)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "threatlens")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "threatlens")
	v.SetDefault("database.sslmode", "require")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.conn_max_idle_time", time.Minute)
	v.SetDefault("database.connect_timeout", 10*time.Second)
	v.SetDefault("database.statement_timeout", 30*time.Second)
	v.SetDefault("database.slow_query", time.Second)
	v.SetDefault("database.replica_hosts", []string{})

	v.SetDefault("store.timescale", false)
	v.SetDefault("store.auto_migrate", true)
	v.SetDefault("store.breaker.enabled", true)
	v.SetDefault("store.breaker.failure_threshold", 5)
	v.SetDefault("store.breaker.success_threshold", 2)
	v.SetDefault("store.breaker.open_timeout", 30*time.Second)
	v.SetDefault("store.breaker.max_probes", 1)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("membership_cache.size", 1024)
	v.SetDefault("membership_cache.ttl", 5*time.Minute)

	v.SetDefault("auth.disabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.capacity", 120)
	v.SetDefault("rate_limit.refill", 120)
	v.SetDefault("rate_limit.interval", time.Minute)
	v.SetDefault("rate_limit.max_keys", 10000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", false)

	v.SetDefault("telemetry.service_name", "threatlens")
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.metric_interval", time.Minute)

	v.SetDefault("analytics.query_timeout", 30*time.Second)
	v.SetDefault("analytics.max_window", 366*24*time.Hour)
	v.SetDefault("analytics.max_batch_size", 20)
}

// Load reads file when given, otherwise threatlens.yaml from the usual
// locations if present. Environment variables override both, with dots
// replaced by underscores: THREATLENS_DATABASE_HOST.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("threatlens")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/threatlens/")
		v.AddConfigPath("$HOME/.threatlens")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("THREATLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if !c.Auth.Disabled && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required unless auth.disabled is set"))
	}
	if c.Analytics.MaxWindow <= 0 {
		errs = append(errs, errors.New("analytics.max_window must be positive"))
	}
	if c.Analytics.MaxBatchSize <= 0 {
		errs = append(errs, errors.New("analytics.max_batch_size must be positive"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.Capacity <= 0 || c.RateLimit.Refill <= 0 || c.RateLimit.Interval <= 0) {
		errs = append(errs, errors.New("rate_limit capacity, refill and interval must be positive when enabled"))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	return errors.Join(errs...)
}
