// Package worker runs the periodic expiry and reconciliation sweep.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	redisclient "github.com/hackgods/clinic-slot-booking/internal/redis"
)

const leaseName = "expiry-sweep"

// Sweeps is the part of the appointment service the sweeper drives.
type Sweeps interface {
	ExpireUnconfirmed(ctx context.Context) (int, error)
	FindOrphanedSlots(ctx context.Context, grace time.Duration) ([]appointment.Slot, error)
}

type Sweeper struct {
	svc        Sweeps
	lease      redisclient.Leaser
	log        *zap.Logger
	interval   time.Duration
	grace      time.Duration
	runTimeout time.Duration
}

func NewSweeper(svc Sweeps, lease redisclient.Leaser, log *zap.Logger, interval, grace time.Duration) *Sweeper {
	if lease == nil {
		lease = redisclient.LocalLeaser()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		svc:        svc,
		lease:      lease,
		log:        log,
		interval:   interval,
		grace:      grace,
		runTimeout: 20 * time.Second,
	}
}

// Run sweeps once immediately and then every interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context) {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopping")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Result summarises one sweep.
type Result struct {
	Skipped  bool
	Expired  int
	Orphaned int
}

func (s *Sweeper) RunOnce(ctx context.Context) Result {
	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	start := time.Now()
	var res Result

	err := s.lease.WithLease(runCtx, leaseName, func(ctx context.Context) error {
		expired, err := s.svc.ExpireUnconfirmed(ctx)
		if err != nil {
			return err
		}
		res.Expired = expired

		orphans, err := s.svc.FindOrphanedSlots(ctx, s.grace)
		if err != nil {
			return err
		}
		res.Orphaned = len(orphans)
		return nil
	})

	switch {
	case errors.Is(err, redisclient.ErrLeaseNotAcquired):
		res.Skipped = true
		s.log.Debug("sweep skipped, another worker holds the lease")
	case err != nil:
		s.log.Error("sweep failed", zap.Error(err))
	default:
		s.log.Info("sweep complete",
			zap.Int("expired", res.Expired),
			zap.Int("orphaned_slots", res.Orphaned),
			zap.Duration("took", time.Since(start)))
	}
	return res
}
