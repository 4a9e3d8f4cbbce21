// Package scheduler triggers pipeline runs on a fixed schedule.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/raphaelgruber/insightdeck/internal/service"
)

// Schedule decides when the next run should occur after the given time.
// A zero time stops scheduling.
type Schedule interface {
	Next(after time.Time) time.Time
}

// Interval schedules runs at a fixed duration.
type Interval struct {
	Every time.Duration
}

// Every creates an Interval schedule.
func Every(d time.Duration) Interval {
	return Interval{Every: d}
}

// Next returns after plus the interval, or zero when the interval is not positive.
func (i Interval) Next(after time.Time) time.Time {
	if i.Every <= 0 {
		return time.Time{}
	}
	return after.Add(i.Every)
}

// Starter starts a run; *service.Pipeline implements it.
type Starter interface {
	Start(ctx context.Context, req service.Request) (service.RunResult, error)
}

// Scheduler calls Starter.Start for one project on every tick.
type Scheduler struct {
	// RunOnStart triggers a run as soon as Run is called.
	RunOnStart bool

	schedule   Schedule
	starter    Starter
	projectKey string
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a scheduler.
func New(schedule Schedule, starter Starter, projectKey string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		schedule:   schedule,
		starter:    starter,
		projectKey: projectKey,
		logger:     logger.With("component", "scheduler"),
		now:        time.Now,
	}
}

// Run blocks until ctx is cancelled or the schedule ends. A tick that finds
// a run already in progress is dropped, not queued.
func (s *Scheduler) Run(ctx context.Context) {
	if s.RunOnStart {
		s.fire(ctx)
	}

	last := s.now()
	for {
		next := s.schedule.Next(last)
		if next.IsZero() {
			s.logger.Info("schedule ended")
			return
		}
		s.logger.Debug("next scheduled run", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(max(time.Until(next), 0))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.fire(ctx)
		last = next
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	res, err := s.starter.Start(ctx, service.Request{ProjectKey: s.projectKey, Trigger: "schedule"})
	switch {
	case errors.Is(err, service.ErrAlreadyRunning):
		s.logger.Info("skipping scheduled run, previous run still in progress")
	case err != nil:
		s.logger.Error("scheduled run not started", "error", err)
	default:
		s.logger.Info("scheduled run started", "run_id", res.RunID)
	}
}
