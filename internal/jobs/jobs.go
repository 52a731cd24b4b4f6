// Package jobs schedules the periodic consistency passes: payment
// reconciliation and pending-payment expiry.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/campuskitchen/dinehall/internal/metrics"
	"github.com/campuskitchen/dinehall/pkg/reserve"
)

const defaultInterval = time.Minute

// Config carries the scheduler intervals.
type Config struct {
	ReconcileInterval time.Duration
	ExpiryInterval    time.Duration
}

// Validate fills defaults.
func (config *Config) Validate() error {
	if config.ReconcileInterval <= 0 {
		config.ReconcileInterval = defaultInterval
	}
	if config.ExpiryInterval <= 0 {
		config.ExpiryInterval = defaultInterval
	}
	return nil
}

// Runner owns the gocron scheduler and the two periodic jobs.
type Runner struct {
	scheduler  gocron.Scheduler
	reconciler *reserve.Reconciler
	reaper     *reserve.ExpiryReaper
	config     Config
	logger     *zap.Logger
}

// New builds a Runner. Jobs do not start until Start is called.
func New(config Config, reconciler *reserve.Reconciler, reaper *reserve.ExpiryReaper, logger *zap.Logger) (*Runner, error) {
	if reconciler == nil || reaper == nil {
		return nil, fmt.Errorf("jobs: reconciler and reaper are required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("jobs: init scheduler: %w", err)
	}
	return &Runner{
		scheduler:  scheduler,
		reconciler: reconciler,
		reaper:     reaper,
		config:     config,
		logger:     logger,
	}, nil
}

// Start registers both jobs and starts the scheduler.
func (runner *Runner) Start(ctx context.Context) error {
	_, err := runner.scheduler.NewJob(
		gocron.DurationJob(runner.config.ReconcileInterval),
		gocron.NewTask(func() { runner.runReconcile(ctx) }),
	)
	if err != nil {
		return fmt.Errorf("jobs: schedule reconciliation: %w", err)
	}
	_, err = runner.scheduler.NewJob(
		gocron.DurationJob(runner.config.ExpiryInterval),
		gocron.NewTask(func() { runner.runExpiry(ctx) }),
	)
	if err != nil {
		return fmt.Errorf("jobs: schedule expiry: %w", err)
	}
	runner.scheduler.Start()
	runner.logger.Info("periodic jobs started",
		zap.Duration("reconcile_interval", runner.config.ReconcileInterval),
		zap.Duration("expiry_interval", runner.config.ExpiryInterval))
	return nil
}

// Stop shuts the scheduler down, waiting for running jobs.
func (runner *Runner) Stop() error {
	return runner.scheduler.Shutdown()
}

func (runner *Runner) runReconcile(ctx context.Context) {
	summary, err := runner.reconciler.Run(ctx)
	if err != nil {
		runner.logger.Error("reconciliation pass failed", zap.Error(err))
		return
	}
	metrics.AddReconcileOutcomes(summary.ReversedCount, summary.UpdatedCount, summary.FailedCount, summary.SkippedCount)
}

func (runner *Runner) runExpiry(ctx context.Context) {
	summary, err := runner.reaper.Run(ctx)
	if err != nil {
		runner.logger.Error("expiry pass failed", zap.Error(err))
		return
	}
	metrics.AddReaped(summary.Cancelled)
}
