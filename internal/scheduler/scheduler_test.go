package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/config"
	"github.com/iliyamo/library-circulation/internal/logging"
)

func Test_Scheduler_RunsUntilCancelled(t *testing.T) {
	var fast, failing atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	s := New(logging.Discard(),
		Job{Name: "fast", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			fast.Add(1)
			return nil
		}},
		Job{Name: "failing", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			failing.Add(1)
			return errors.New("store unavailable")
		}},
	)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool { return fast.Load() >= 3 && failing.Load() >= 3 },
		time.Second, 5*time.Millisecond, "failures do not stop the job")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func Test_Scheduler_InitialRunIsImmediate(t *testing.T) {
	ran := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(logging.Discard(), Job{Name: "hourly", Interval: time.Hour, Run: func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}})
	go func() { _ = s.Run(ctx) }()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("job did not run on start")
	}
}

type countingSweeper struct {
	overdue, expiry atomic.Int32
}

func (s *countingSweeper) RunOverdueSweep(context.Context) (circulation.SweepResult, error) {
	s.overdue.Add(1)
	return circulation.SweepResult{}, nil
}

func (s *countingSweeper) ExpireOldReservations(context.Context) (int, error) {
	s.expiry.Add(1)
	return 0, nil
}

func Test_CirculationJobs(t *testing.T) {
	p := config.DefaultPolicy()
	p.OverdueSweepInterval = time.Hour
	p.ReservationSweepInterval = 5 * time.Millisecond

	sw := &countingSweeper{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = New(logging.Discard(), CirculationJobs(sw, p)...).Run(ctx) }()

	assert.Eventually(t, func() bool { return sw.expiry.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), sw.overdue.Load(), "hourly sweep ran once at start")
}
