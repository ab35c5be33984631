package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	billingapp "github.com/bizledger/backend/internal/application/billing"
	"github.com/bizledger/backend/internal/domain/shared"
	"github.com/bizledger/backend/internal/infrastructure/cache"
	"github.com/bizledger/backend/internal/infrastructure/config"
	"github.com/bizledger/backend/internal/infrastructure/logger"
	"github.com/bizledger/backend/internal/infrastructure/persistence"
	"github.com/bizledger/backend/internal/infrastructure/scheduler"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log := logger.New(cfg.Log)
	defer logger.Sync(log)

	log.Info("Starting billing service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
	)

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("Failed to close database", zap.Error(err))
		}
	}()

	clock := shared.SystemClock{}

	// Idempotency store: Redis when configured, otherwise in-process
	var idempotencyStore shared.IdempotencyStore
	if cfg.Redis.Enabled {
		store, err := cache.NewRedisIdempotencyStore(cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		idempotencyStore = store
		log.Info("Using Redis idempotency store", zap.String("addr", cfg.Redis.Addr()))
	} else {
		idempotencyStore = cache.NewInMemoryIdempotencyStore(clock)
		log.Info("Using in-memory idempotency store")
	}
	defer func() {
		if err := idempotencyStore.Close(); err != nil {
			log.Warn("Failed to close idempotency store", zap.Error(err))
		}
	}()

	// Repositories and services. Credit note operations attach here once a
	// transport is wired; this process runs the reconciliation worker.
	invoiceRepo := persistence.NewGormInvoiceRepository(db.DB, clock)
	invoiceService := billingapp.NewInvoiceService(invoiceRepo, idempotencyStore, clock, log)
	invoiceService.SetDefaultDueDays(cfg.Billing.DefaultDueDays)
	invoiceService.SetIdempotencyTTL(cfg.Billing.IdempotencyTTL)

	// Background overdue reconciliation
	overdueScheduler := scheduler.NewOverdueScheduler(invoiceService, cfg.Scheduler, log)
	if err := overdueScheduler.Start(context.Background()); err != nil {
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}

	log.Info("Billing service started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := overdueScheduler.Stop(ctx); err != nil {
		log.Warn("Scheduler did not stop cleanly", zap.Error(err))
	}

	log.Info("Billing service exited gracefully")
}
