package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/testforge/testforge-core/pkg/lifecycle"
)

// DefaultSweepInterval is how often the approval sweeper scans
// gate-suspended executions when no interval is configured.
const DefaultSweepInterval = 30 * time.Second

// NewApprovalSweeper builds a lifecycle worker that periodically calls
// [Orchestrator.SweepExpiredApprovals], moving executions whose approval
// window has closed to the timeout state. The worker runs until stopped;
// sweep errors are logged and do not terminate the loop, since a single
// failed scan should not take the sweeper down with it.
//
// An interval of zero or less falls back to [DefaultSweepInterval]. A nil
// logger falls back to the orchestrator's logger.
func NewApprovalSweeper(o *Orchestrator, interval time.Duration, logger *slog.Logger) (*lifecycle.Worker, error) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = o.logger
	}

	run := func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				expired, err := o.SweepExpiredApprovals(ctx)
				if err != nil {
					logger.Warn("approval sweep failed", slog.Any("error", err))
					continue
				}
				if expired > 0 {
					logger.Info("approval sweep expired executions",
						slog.Int("count", expired))
				}
			}
		}
	}

	return lifecycle.NewWorkerBuilder("approval-sweeper", run).
		WithLogger(logger).
		Build()
}
