package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Scheduler runs the periodic counter reconciliation.
type Scheduler struct {
	sched      gocron.Scheduler
	reconciler *Reconciler
	interval   time.Duration
	log        *slog.Logger
}

// NewScheduler registers the reconcile job. A zero interval disables it.
func NewScheduler(reconciler *Reconciler, interval time.Duration, log *slog.Logger) (*Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	s := &Scheduler{sched: sched, reconciler: reconciler, interval: interval, log: log}
	if interval <= 0 {
		return s, nil
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func(ctx context.Context) {
			if _, err := reconciler.Reconcile(ctx); err != nil {
				log.Error("reconcile_failed", slog.Any("error", err))
			}
		}),
		gocron.WithName("reconcile-counters"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("register reconcile job: %w", err)
	}
	return s, nil
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.sched.Start()
	if s.interval > 0 {
		s.log.Info("scheduler_started", slog.Duration("reconcile_interval", s.interval))
	}
	<-ctx.Done()
	if err := s.sched.Shutdown(); err != nil {
		return fmt.Errorf("scheduler shutdown: %w", err)
	}
	return nil
}
