package scheduler

import (
	"context"
	"time"

	"activation_backend/platform/logger"
)

const (
	defaultRunCleanupInterval = 6 * time.Hour
	defaultRunRetention       = 30 * 24 * time.Hour
)

// RunCleaner deletes run history older than a retention.
type RunCleaner interface {
	CleanupRuns(ctx context.Context, retention time.Duration) (int64, error)
}

// RunHistoryCleanup periodically removes old activation run records.
type RunHistoryCleanup struct {
	cleaner   RunCleaner
	log       *logger.Logger
	interval  time.Duration
	retention time.Duration
}

func NewRunHistoryCleanup(cleaner RunCleaner, log *logger.Logger, interval, retention time.Duration) *RunHistoryCleanup {
	if interval <= 0 {
		interval = defaultRunCleanupInterval
	}
	if retention <= 0 {
		retention = defaultRunRetention
	}

	return &RunHistoryCleanup{
		cleaner:   cleaner,
		log:       log,
		interval:  interval,
		retention: retention,
	}
}

func (c *RunHistoryCleanup) Run(ctx context.Context) {
	if c == nil || c.cleaner == nil {
		return
	}

	c.cleanup(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

func (c *RunHistoryCleanup) cleanup(ctx context.Context) {
	deleted, err := c.cleaner.CleanupRuns(ctx, c.retention)
	if err != nil {
		c.log.Warn("activation run cleanup failed", "error", err)
		return
	}

	if deleted > 0 {
		c.log.Info("activation run cleanup deleted old runs", "deleted", deleted)
	}
}
