package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"threatlens/pkg/analytics"
	"threatlens/pkg/circuitbreaker"
	"threatlens/pkg/config"
	"threatlens/pkg/database"
	"threatlens/pkg/eventstore"
	"threatlens/pkg/metrics"
	"threatlens/pkg/ratelimit"
	"threatlens/pkg/tenancy"
)

// app is the wired dependency graph shared by serve and overview.
type app struct {
	db         *database.Database
	rdb        redis.UniversalClient
	membership *tenancy.CachedMembership
	engine     *analytics.Engine
	limiter    ratelimit.Limiter
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*app, error) {
	db, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	a := &app{db: db}

	if cfg.Store.AutoMigrate {
		if err := database.AutoMigrate(ctx, db); err != nil {
			a.Close()
			return nil, err
		}
	}

	var l2 tenancy.RemoteCache
	if cfg.Redis.Enabled {
		a.rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			// Membership lookups fall through to Postgres while redis is down.
			logger.Warn("redis unreachable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		l2 = tenancy.NewRedisCache(a.rdb)
	}
	a.membership = tenancy.NewCachedMembership(tenancy.NewPostgresMembership(db), l2, cfg.Membership, logger)

	collector, err := metrics.NewCollector(reg)
	if err != nil {
		a.Close()
		return nil, err
	}
	otelObserver, err := metrics.NewOTelObserver(otel.GetMeterProvider().Meter("threatlens/analytics"))
	if err != nil {
		a.Close()
		return nil, err
	}

	storeOpts := []eventstore.Option{eventstore.WithTimescale(cfg.Store.Timescale)}
	if cfg.Store.Breaker.Enabled {
		breaker := circuitbreaker.New("eventstore", cfg.Store.Breaker)
		breaker.OnStateChange = func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state changed", zap.String("breaker", name), zap.Stringer("from", from), zap.Stringer("to", to))
		}
		storeOpts = append(storeOpts, eventstore.WithBreaker(breaker))
	}
	a.engine = analytics.New(eventstore.New(db, storeOpts...),
		analytics.WithMembership(a.membership),
		analytics.WithLogger(logger),
		analytics.WithObserver(metrics.Fanout{collector, otelObserver}),
		analytics.WithTracer(otel.Tracer("threatlens/analytics")),
	)

	if cfg.RateLimit.Enabled {
		local := ratelimit.NewLocalLimiter(cfg.RateLimit)
		a.limiter = local
		if a.rdb != nil {
			a.limiter = ratelimit.NewFallback(ratelimit.NewRedisLimiter(a.rdb, cfg.RateLimit, "threatlens:ratelimit"), local, logger)
		}
	}
	return a, nil
}

func (a *app) health(ctx context.Context) error {
	if err := a.db.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}

func (a *app) Close() error {
	var errs []error
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	errs = append(errs, a.db.Close())
	return errors.Join(errs...)
}
