package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-booking/internal/app"
	"github.com/hackgods/clinic-slot-booking/internal/config"
	"github.com/hackgods/clinic-slot-booking/internal/logger"
	"github.com/hackgods/clinic-slot-booking/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.StoreDriver != config.StoreDriverPostgres {
		log.Fatal(errors.New("expiry-worker needs STORE_DRIVER=postgres; the memory store is swept inside api-server"))
	}

	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	cfg.ReportWarnings(zl)

	zl.Info("expiry-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Duration("confirm_timeout", cfg.ConfirmTimeout),
		zap.Duration("reconcile_grace", cfg.ReconcileGrace))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openCtx, cancelOpen := context.WithTimeout(rootCtx, 15*time.Second)
	deps, err := app.Open(openCtx, cfg, zl, "booking_worker")
	cancelOpen()
	if err != nil {
		zl.Fatal("dependency init failed", zap.Error(err))
	}
	defer deps.Close()

	if deps.Redis == nil {
		zl.Warn("no redis lease; run a single expiry-worker replica")
	}

	worker.NewSweeper(deps.Appointments, deps.Leaser, zl, cfg.WorkerInterval, cfg.ReconcileGrace).Run(rootCtx)

	zl.Info("expiry-worker stopped")
}
