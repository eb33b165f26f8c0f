package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-queue-scheduling/internal/app"
	"github.com/hackgods/clinic-queue-scheduling/internal/config"
	"github.com/hackgods/clinic-queue-scheduling/internal/db"
	"github.com/hackgods/clinic-queue-scheduling/internal/engine"
	redisclient "github.com/hackgods/clinic-queue-scheduling/internal/redis"
	"github.com/hackgods/clinic-queue-scheduling/internal/telemetry"
	"github.com/hackgods/clinic-queue-scheduling/internal/waitlist"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := app.NewLogger("", "waitlist-worker")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := app.NewLogger(cfg.Env, "waitlist-worker")
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Strs("tenants", cfg.WorkerTenants).
		Msg("waitlist-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup("waitlist-worker", logger)

	pgCtx, cancelPg := context.WithTimeout(rootCtx, app.ConnectTimeout)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, "waitlist-worker")
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.StoreTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()

	a, err := app.Build(cfg, rdb, pgPool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build app")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := a.Close(ctx); err != nil {
			logger.Error().Err(err).Msg("event sink shutdown error")
		}
		if err := shutdownTracing(ctx); err != nil {
			logger.Error().Err(err).Msg("tracer shutdown error")
		}
	}()

	// Run once at startup
	runOnce(rootCtx, a.Engine, cfg.WorkerTenants, cfg.WorkerInterval, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping waitlist worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, a.Engine, cfg.WorkerTenants, cfg.WorkerInterval, logger)
		}
	}
}

// runOnce processes every tenant's waitlist concurrently. A failing tenant
// does not stop the others.
func runOnce(ctx context.Context, eng *engine.Engine, tenants []string, timeout time.Duration, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(4)
	for _, tenant := range tenants {
		g.Go(func() error {
			out, err := eng.Execute(gctx, tenant, engine.ProcessWaitlist{})
			if err != nil {
				logger.Error().Err(err).Str("tenant", tenant).Msg("waitlist run error")
				return nil
			}
			res, _ := out.(waitlist.ProcessResult)
			logger.Info().
				Str("tenant", tenant).
				Int("processed", res.Processed).
				Int("scheduled", res.Scheduled).
				Int("notified", res.Notified).
				Int("skipped", res.Skipped).
				Msg("waitlist processed")
			return nil
		})
	}
	_ = g.Wait()
	logger.Info().Dur("elapsed", time.Since(start)).Msg("waitlist run complete")
}
