package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-booking/internal/app"
	"github.com/hackgods/clinic-slot-booking/internal/auth"
	"github.com/hackgods/clinic-slot-booking/internal/config"
	"github.com/hackgods/clinic-slot-booking/internal/logger"
	"github.com/hackgods/clinic-slot-booking/internal/seed"
)

func main() {
	opts := seed.DefaultOptions
	flag.IntVar(&opts.Clinics, "clinics", opts.Clinics, "clinics to create")
	flag.IntVar(&opts.RoomsPerClinic, "rooms", opts.RoomsPerClinic, "rooms per clinic")
	flag.IntVar(&opts.Doctors, "doctors", opts.Doctors, "doctors to create, each with a weekday schedule")
	flag.IntVar(&opts.Patients, "patients", opts.Patients, "patients to create")
	flag.IntVar(&opts.Days, "days", opts.Days, "days of slots to generate from today")
	flag.Uint64Var(&opts.Seed, "seed", 0, "fake data seed, 0 for random")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.StoreDriver != config.StoreDriverPostgres {
		log.Fatal("seed writes to postgres; the memory store seeds itself inside api-server")
	}

	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	cfg.ReportWarnings(zl)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	deps, err := app.Open(ctx, cfg, zl, "booking_seed")
	if err != nil {
		zl.Fatal("dependency init failed", zap.Error(err))
	}
	defer deps.Close()

	res, err := seed.New(deps.Store, deps.Schedules, zl).Run(ctx, opts)
	if err != nil {
		zl.Fatal("seed failed", zap.Error(err))
	}

	tokens := auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)
	doctorToken, err := tokens.Issue(auth.Principal{ID: res.DoctorIDs[0], Role: auth.RoleDoctor})
	if err != nil {
		zl.Fatal("issue token", zap.Error(err))
	}
	patientToken, err := tokens.Issue(auth.Principal{ID: res.PatientIDs[0], Role: auth.RolePatient})
	if err != nil {
		zl.Fatal("issue token", zap.Error(err))
	}

	zl.Info("seed complete", zap.Int("slots", res.SlotsGenerated))
	fmt.Printf("doctor  %s\n  token %s\n", res.DoctorIDs[0], doctorToken)
	fmt.Printf("patient %s\n  token %s\n", res.PatientIDs[0], patientToken)
}
