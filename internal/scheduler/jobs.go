package scheduler

import (
	"context"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/config"
)

// Sweeper is the part of the engine the periodic jobs drive.
type Sweeper interface {
	RunOverdueSweep(ctx context.Context) (circulation.SweepResult, error)
	ExpireOldReservations(ctx context.Context) (int, error)
}

// CirculationJobs returns the overdue sweep and the reservation expiry
// job at the intervals p configures.
func CirculationJobs(s Sweeper, p config.Policy) []Job {
	return []Job{
		{
			Name:     "overdue_sweep",
			Interval: p.OverdueSweepInterval,
			Run: func(ctx context.Context) error {
				_, err := s.RunOverdueSweep(ctx)
				return err
			},
		},
		{
			Name:     "reservation_expiry",
			Interval: p.ReservationSweepInterval,
			Run: func(ctx context.Context) error {
				_, err := s.ExpireOldReservations(ctx)
				return err
			},
		},
	}
}
