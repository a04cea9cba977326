package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/floatchat-io/floatchat/internal/config"
)

// Sweeper periodically fails jobs that have been stuck running or pending
// longer than their thresholds, so a crashed worker cannot strand a job in a
// non-terminal state forever.
type Sweeper struct {
	jobs      JobStore
	scheduler gocron.Scheduler

	interval     time.Duration
	runningStale time.Duration
	pendingStale time.Duration

	logger *slog.Logger
}

// NewSweeper creates a Sweeper with env-configured thresholds.
func NewSweeper(jobs JobStore, logger *slog.Logger) (*Sweeper, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create sweep scheduler: %w", err)
	}

	return &Sweeper{
		jobs:         jobs,
		scheduler:    scheduler,
		interval:     config.GetEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		runningStale: config.GetEnvDuration("SWEEP_RUNNING_STALE_AFTER", 30*time.Minute),
		pendingStale: config.GetEnvDuration("SWEEP_PENDING_STALE_AFTER", 15*time.Minute),
		logger:       logger.With("component", "sweeper"),
	}, nil
}

// Start registers the sweep job and starts the scheduler.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.sweep, ctx),
		gocron.WithName("stale-job-sweep"),
	)
	if err != nil {
		return fmt.Errorf("failed to register sweep job: %w", err)
	}

	s.scheduler.Start()
	s.logger.Info("sweeper started",
		"interval", s.interval,
		"running_stale_after", s.runningStale,
		"pending_stale_after", s.pendingStale,
	)

	return nil
}

func (s *Sweeper) sweep(ctx context.Context) {
	swept, err := s.jobs.SweepStale(ctx, s.runningStale, s.pendingStale)
	if err != nil {
		s.logger.Error("sweep failed", "error", err)

		return
	}

	if swept > 0 {
		s.logger.Warn("stale jobs failed by sweeper", "count", swept)
	}
}

// Stop shuts the scheduler down, waiting for a running sweep to finish.
func (s *Sweeper) Stop() error {
	return s.scheduler.Shutdown()
}
