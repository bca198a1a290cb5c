/**
 * @description
 * Scheduled job implementations for the billing-service.
 */
package jobs

import (
	"context"
	"log/slog"
	"time"
)

// PenaltySweeper refreshes cached penalty columns for unsettled bills.
type PenaltySweeper interface {
	SweepPenalties(ctx context.Context) (int, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	sweeper PenaltySweeper
	logger  *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(sweeper PenaltySweeper, logger *slog.Logger) *Jobs {
	return &Jobs{
		sweeper: sweeper,
		logger:  logger,
	}
}

// SweepPenalties refreshes the cached penalty columns of overdue bills so
// reporting queries read close-to-fresh values. Read paths recompute on their
// own and do not depend on this job running.
func (j *Jobs) SweepPenalties() {
	j.logger.Info("starting penalty sweep job")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	refreshed, err := j.sweeper.SweepPenalties(ctx)
	if err != nil {
		j.logger.Error("penalty sweep failed", "error", err)
		return
	}
	j.logger.Info("penalty sweep finished", "bills_refreshed", refreshed)
}
