package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/caremesh/hospital-booking/internal/api"
	"github.com/caremesh/hospital-booking/internal/auth"
	"github.com/caremesh/hospital-booking/internal/config"
	"github.com/caremesh/hospital-booking/internal/db"
	"github.com/caremesh/hospital-booking/internal/directory"
	"github.com/caremesh/hospital-booking/internal/logging"
	"github.com/caremesh/hospital-booking/internal/observability"
	redisclient "github.com/caremesh/hospital-booking/internal/redis"
	"github.com/caremesh/hospital-booking/internal/scheduling"
	"github.com/caremesh/hospital-booking/internal/triage"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer logger.Sync()

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MigrateOnStart {
		if err := db.MigrateUp(cfg.PostgresDSN); err != nil {
			logger.Fatal("migration error", zap.Error(err))
		}
		logger.Info("migrations applied")
	}

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.Connect(rootCtx, redisclient.ClientOptions{
		Addr:      cfg.RedisAddr,
		Username:  cfg.RedisUsername,
		Password:  cfg.RedisPassword,
		OpTimeout: cfg.RedisOpTimeout,
		PoolSize:  cfg.RedisPoolSize,
	})
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	metrics := observability.NewBookingMetrics(nil)

	dirStore := directory.NewPgStore(pgPool)
	coordinator := scheduling.NewCoordinator(
		scheduling.NewPgTxManager(pgPool),
		scheduling.NewPgSlotStore(pgPool),
		scheduling.NewPgAppointmentStore(pgPool),
		dirStore,
		redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL),
		logger,
		metrics,
	)

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)

	var suggester triage.Suggester
	if cfg.GeminiAPIKey != "" {
		gemini, err := triage.NewGeminiSuggester(rootCtx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
		if err != nil {
			logger.Fatal("gemini client error", zap.Error(err))
		}
		defer gemini.Close()
		suggester = gemini
		logger.Info("gemini triage enabled", zap.String("model", cfg.GeminiModel))
	} else {
		suggester = triage.NewRuleSuggester()
		logger.Info("gemini key not set, using rule-based triage")
	}

	router := api.NewRouter(api.RouterConfig{
		Coordinator: coordinator,
		Directory:   dirStore,
		Tokens:      tokens,
		Suggester:   suggester,
		PgPool:      pgPool,
		Redis:       rdb,
		Logger:      logger,
		Metrics:     metrics,
		Env:         cfg.Env,
		Version:     version,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Fatal("http server error", zap.Error(err))
	case <-rootCtx.Done():
	}

	logger.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("api-server stopped")
}
