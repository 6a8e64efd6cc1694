package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/dental-intake-scheduling/internal/appointment"
	"github.com/hackgods/dental-intake-scheduling/internal/config"
	"github.com/hackgods/dental-intake-scheduling/internal/db"
	"github.com/hackgods/dental-intake-scheduling/internal/logging"
	"github.com/hackgods/dental-intake-scheduling/internal/metrics"
	redisclient "github.com/hackgods/dental-intake-scheduling/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.Must(cfg.Env, cfg.LogLevel).Named("completion-worker")
	defer func() { _ = logger.Sync() }()

	logger.Info("completion worker starting", zap.String("env", cfg.Env), zap.Duration("interval", cfg.CompletionInterval))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg)
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	repo := appointment.NewPgRepository(pgPool, cfg.ClinicTimezone)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
	svc := appointment.NewService(repo, locker, cfg, logger, metrics.NewSchedulingMetrics(prometheus.DefaultRegisterer))

	// Run once at startup
	runOnce(rootCtx, svc, logger)

	ticker := time.NewTicker(cfg.CompletionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping completion worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, logger *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.CompletePastAppointments(runCtx)
	if err != nil {
		logger.Error("completion run error", zap.Error(err))
		return
	}
	logger.Info("completion run complete", zap.Int("completed", n), zap.Duration("took", time.Since(start)))
}
