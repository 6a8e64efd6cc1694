package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/dental-intake-scheduling/internal/api"
	"github.com/hackgods/dental-intake-scheduling/internal/appointment"
	"github.com/hackgods/dental-intake-scheduling/internal/config"
	"github.com/hackgods/dental-intake-scheduling/internal/conversation"
	"github.com/hackgods/dental-intake-scheduling/internal/db"
	"github.com/hackgods/dental-intake-scheduling/internal/llm"
	"github.com/hackgods/dental-intake-scheduling/internal/logging"
	"github.com/hackgods/dental-intake-scheduling/internal/metrics"
	redisclient "github.com/hackgods/dental-intake-scheduling/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.Must(cfg.Env, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("urgency_policy", cfg.UrgencyPolicy),
		zap.String("timezone", cfg.ClinicTimezone.String()),
	)

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

	// Connect Redis
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
	bookingLocker := redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
	svc := appointment.NewService(repo, bookingLocker, cfg, logger, metrics.NewSchedulingMetrics(prometheus.DefaultRegisterer))

	client := llmClient(rootCtx, cfg, logger)

	// A thread run spans several adapter calls, so its lock outlives a single booking lock.
	threadLocker := redisclient.NewRedisLocker(rdb, 3*cfg.AdapterTimeout+cfg.LockTTL, cfg.LockWait)
	engine := conversation.NewEngine(conversation.Dependencies{
		Scheduler:   svc,
		Classifier:  llm.NewClassifier(client),
		Responder:   llm.NewResponder(client),
		Checkpoints: conversation.NewRedisCheckpoints(rdb, cfg.CheckpointTTL),
		Locker:      threadLocker,
	}, cfg, logger, metrics.NewConversationMetrics(prometheus.DefaultRegisterer))

	router := api.NewRouter(api.RouterConfig{
		Service:  svc,
		Engine:   engine,
		Config:   cfg,
		Postgres: pgPool,
		Redis:    rdb,
		Logger:   logger,
		Env:      cfg.Env,
		Version:  version,
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return rootCtx },
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// llmClient returns a Gemini client when an API key is configured. Without one the classifier
// falls back to general queries and the responder to its apology text.
func llmClient(ctx context.Context, cfg config.Config, logger *zap.Logger) llm.Client {
	if cfg.GeminiAPIKey == "" {
		logger.Warn("GEMINI_API_KEY not set, language model disabled")
		return llm.Unconfigured{}
	}
	client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		logger.Fatal("gemini client error", zap.Error(err))
	}
	go func() {
		<-ctx.Done()
		_ = client.Close()
	}()
	return client
}
