package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/caremesh/hospital-booking/internal/config"
	"github.com/caremesh/hospital-booking/internal/db"
	"github.com/caremesh/hospital-booking/internal/logging"
	"github.com/caremesh/hospital-booking/internal/observability"
	"github.com/caremesh/hospital-booking/internal/worker"
)

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

	logger.Info("reconcile-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	metrics := observability.NewBookingMetrics(nil)
	reconciler := worker.NewReconciler(pgPool, logger, metrics)

	reconciler.Run(rootCtx, cfg.WorkerInterval)

	logger.Info("reconcile-worker stopped")
}
