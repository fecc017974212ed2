// Package app wires configuration into the store, cache, lease and services
// shared by the commands.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-booking/internal/api"
	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/config"
	"github.com/hackgods/clinic-slot-booking/internal/db"
	"github.com/hackgods/clinic-slot-booking/internal/metrics"
	redisclient "github.com/hackgods/clinic-slot-booking/internal/redis"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
	"github.com/hackgods/clinic-slot-booking/internal/store"
)

// Store is everything the services and the seeder need from a backend.
type Store interface {
	appointment.Repository
	schedule.Repository
	store.Directory
}

type Deps struct {
	Config  config.Config
	Log     *zap.Logger
	Metrics *metrics.Collector

	Store  Store
	Pool   *pgxpool.Pool // nil for the memory driver
	Redis  *redis.Client // nil when Redis is disabled or unreachable
	Cache  appointment.SlotCache
	Leaser redisclient.Leaser

	Appointments *appointment.Service
	Schedules    *schedule.Service
}

// Open connects to the configured backends. Postgres is required for the
// postgres driver; Redis is optional and only degrades caching and the
// worker lease when it is missing.
func Open(ctx context.Context, cfg config.Config, log *zap.Logger, namespace string) (*Deps, error) {
	d := &Deps{
		Config:  cfg,
		Log:     log,
		Metrics: metrics.NewCollector(namespace),
		Cache:   appointment.NoopCache(),
		Leaser:  redisclient.LocalLeaser(),
	}

	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.DefaultPoolOptions)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		d.Pool = pool
		log.Info("connected to postgres")

		if cfg.AutoMigrate {
			if err := db.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			log.Info("schema applied")
		}
		d.Store = store.NewPostgres(pool)
	default:
		d.Store = store.NewMemory()
		log.Warn("using in-memory store; data is lost on exit")
	}

	if !cfg.RedisDisabled {
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Warn("redis unavailable, running without slot cache and worker lease", zap.Error(err))
		} else {
			d.Redis = rdb
			d.Cache = redisclient.NewSlotCache(rdb, cfg.SlotCacheTTL)
			d.Leaser = redisclient.NewRedisLeaser(rdb, cfg.LockTTL)
			log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
		}
	}

	d.Appointments = appointment.NewService(d.Store, d.Cache, log.Named("appointment"), d.Metrics, appointment.Options{
		ReleaseSlotOnCancel: cfg.ReleaseSlotOnCancel,
		ConfirmTimeout:      cfg.ConfirmTimeout,
	})
	d.Schedules = schedule.NewService(d.Store, d.Cache, log.Named("schedule"), d.Metrics, cfg.MaxGenerationDays)

	return d, nil
}

// Dependencies lists the readiness checks for the configured backends.
func (d *Deps) Dependencies() []api.Dependency {
	var deps []api.Dependency
	if d.Pool != nil {
		deps = append(deps, api.Dependency{Name: "postgres", Pinger: d.Pool, Required: true})
	}
	if d.Redis != nil {
		rdb := d.Redis
		deps = append(deps, api.Dependency{
			Name:   "redis",
			Pinger: api.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		})
	}
	return deps
}

func (d *Deps) Close() {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Log.Warn("close redis", zap.Error(err))
		}
	}
	if d.Pool != nil {
		d.Pool.Close()
	}
}
