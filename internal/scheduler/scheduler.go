// Package scheduler runs the periodic circulation sweeps.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job is one periodic task.  Run is called once at start and then every
// Interval.  A failing run is logged; the next tick tries again.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler owns a set of jobs.
type Scheduler struct {
	jobs []Job
	log  *slog.Logger
}

// New returns a Scheduler for jobs.
func New(log *slog.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs, log: log}
}

// Run blocks until ctx is cancelled.  Runs of the same job never
// overlap.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range s.jobs {
		g.Go(func() error {
			s.loop(ctx, j)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	s.log.Info("scheduler: job started", "job", j.Name, "interval", j.Interval)

	s.runOnce(ctx, j) // Initial run
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler: job stopped", "job", j.Name)
			return
		case <-ticker.C:
			s.runOnce(ctx, j)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j Job) {
	start := time.Now()
	if err := j.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Error("scheduler: job failed", "job", j.Name, "err", err, "took", time.Since(start))
		return
	}
	s.log.Debug("scheduler: job finished", "job", j.Name, "took", time.Since(start))
}
