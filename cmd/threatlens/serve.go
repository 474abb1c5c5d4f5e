package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"threatlens/internal/server"
	"threatlens/pkg/config"
	otelobs "threatlens/pkg/observability/otel"
	"threatlens/pkg/structlog"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the analytics HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configFile)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	logger, err := structlog.New(cfg.Telemetry.ServiceName, cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := otelobs.InitTracer(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	shutdownMeter, err := otelobs.InitMeter(ctx, cfg.Telemetry)
	if err != nil {
		_ = shutdownTracer(context.Background())
		return err
	}
	shutdownTelemetry := otelobs.Combine(shutdownTracer, shutdownMeter)

	a, err := newApp(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		_ = shutdownTelemetry(context.Background())
		return err
	}
	defer a.Close()

	srv := server.New(a.engine, server.Options{
		Auth: server.AuthConfig{
			Disabled: cfg.Auth.Disabled,
			Secret:   []byte(cfg.Auth.JWTSecret),
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
		},
		QueryTimeout: cfg.Analytics.QueryTimeout,
		MaxWindow:    cfg.Analytics.MaxWindow,
		MaxBatchSize: cfg.Analytics.MaxBatchSize,
		Gatherer:     prometheus.DefaultGatherer,
		Health:       a.health,
		Logger:       logger,
		ServiceName:  cfg.Telemetry.ServiceName,
		Limiter:      a.limiter,
	})
	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTP.Addr), zap.Bool("auth", !cfg.Auth.Disabled), zap.Bool("timescale", cfg.Store.Timescale))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			_ = shutdownTelemetry(context.Background())
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	var errs []error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	stats := a.membership.Stats()
	logger.Info("shutdown complete",
		zap.Int64("membership_l1_hits", stats.L1Hits),
		zap.Int64("membership_l2_hits", stats.L2Hits),
		zap.Int64("membership_misses", stats.Misses),
	)
	return errors.Join(errs...)
}
