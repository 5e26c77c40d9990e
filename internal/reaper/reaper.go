// Package reaper implements the three periodic sweeps spec.md §4.3 names:
// expired running jobs, expired running runs, and expired locks. Grounded
// in the teacher's scheduler.Reaper ticker loop, fanned out with
// golang.org/x/sync/errgroup since the three sweeps are independent.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scm-sync/logbook/internal/store"
)

type Config struct {
	Interval     time.Duration
	GraceSeconds int
	BatchLimit   int
}

type Reaper struct {
	jobs   store.JobStore
	runs   store.RunStore
	locks  store.LockStore
	log    *slog.Logger
	cfg    Config
}

func New(jobs store.JobStore, runs store.RunStore, locks store.LockStore, log *slog.Logger, cfg Config) *Reaper {
	if cfg.BatchLimit == 0 {
		cfg.BatchLimit = 100
	}
	return &Reaper{jobs: jobs, runs: runs, locks: locks, log: log, cfg: cfg}
}

func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.log.Info("reaper started", "interval", r.cfg.Interval, "grace_seconds", r.cfg.GraceSeconds)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper shut down")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs all three sweeps concurrently and logs each outcome. A failure
// in one sweep does not prevent the others from running.
func (r *Reaper) Sweep(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		requeued, killed, err := r.jobs.RescheduleExpired(gctx, r.cfg.GraceSeconds, r.cfg.BatchLimit)
		if err != nil {
			r.log.Error("reap jobs failed", "error", err)
			return nil
		}
		if requeued > 0 || killed > 0 {
			r.log.Info("reaped expired jobs", "requeued", requeued, "killed", killed)
		}
		return nil
	})

	g.Go(func() error {
		n, err := r.runs.RescheduleExpired(gctx, r.cfg.GraceSeconds, r.cfg.BatchLimit)
		if err != nil {
			r.log.Error("reap runs failed", "error", err)
			return nil
		}
		if n > 0 {
			r.log.Info("reaped expired runs", "count", n)
		}
		return nil
	})

	g.Go(func() error {
		n, err := r.locks.ReapExpired(gctx, r.cfg.BatchLimit)
		if err != nil {
			r.log.Error("reap locks failed", "error", err)
			return nil
		}
		if n > 0 {
			r.log.Info("reaped expired locks", "count", n)
		}
		return nil
	})

	_ = g.Wait()
}
