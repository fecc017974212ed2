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

	"github.com/hackgods/clinic-slot-booking/internal/api"
	"github.com/hackgods/clinic-slot-booking/internal/app"
	"github.com/hackgods/clinic-slot-booking/internal/auth"
	"github.com/hackgods/clinic-slot-booking/internal/config"
	"github.com/hackgods/clinic-slot-booking/internal/logger"
	"github.com/hackgods/clinic-slot-booking/internal/seed"
	"github.com/hackgods/clinic-slot-booking/internal/worker"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	cfg.ReportWarnings(zl)

	zl.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("store", cfg.StoreDriver),
		zap.String("version", version))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openCtx, cancelOpen := context.WithTimeout(rootCtx, 15*time.Second)
	deps, err := app.Open(openCtx, cfg, zl, "booking")
	cancelOpen()
	if err != nil {
		zl.Fatal("dependency init failed", zap.Error(err))
	}
	defer deps.Close()

	tokens := auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)

	// The memory store lives in this process, so nothing else can sweep or
	// seed it.
	if cfg.StoreDriver == config.StoreDriverMemory {
		seedDemo(rootCtx, deps, tokens, zl)
		sweeper := worker.NewSweeper(deps.Appointments, deps.Leaser, zl.Named("sweeper"), cfg.WorkerInterval, cfg.ReconcileGrace)
		go sweeper.Run(rootCtx)
	}

	router := api.NewRouter(api.RouterConfig{
		Appointments: deps.Appointments,
		Schedules:    deps.Schedules,
		Tokens:       tokens,
		Metrics:      deps.Metrics,
		Logger:       zl.Named("http"),
		Dependencies: deps.Dependencies(),
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		zl.Info("shutdown signal received")
	case err := <-errCh:
		zl.Error("http server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("graceful shutdown failed", zap.Error(err))
	}

	zl.Info("api-server stopped")
}

func seedDemo(ctx context.Context, deps *app.Deps, tokens *auth.Manager, zl *zap.Logger) {
	res, err := seed.New(deps.Store, deps.Schedules, zl.Named("seed")).Run(ctx, seed.DefaultOptions)
	if err != nil {
		zl.Fatal("seed demo data", zap.Error(err))
	}

	doctorToken, err := tokens.Issue(auth.Principal{ID: res.DoctorIDs[0], Role: auth.RoleDoctor})
	if err != nil {
		zl.Fatal("issue demo token", zap.Error(err))
	}
	patientToken, err := tokens.Issue(auth.Principal{ID: res.PatientIDs[0], Role: auth.RolePatient})
	if err != nil {
		zl.Fatal("issue demo token", zap.Error(err))
	}

	zl.Info("demo data ready",
		zap.Stringer("doctor_id", res.DoctorIDs[0]),
		zap.String("doctor_token", doctorToken),
		zap.Stringer("patient_id", res.PatientIDs[0]),
		zap.String("patient_token", patientToken),
		zap.Int("slots", res.SlotsGenerated))
}
