// Package retention prunes old detection audit records on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// pruner is the subset of store.DetectionStore the job requires.
type pruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type Job struct {
	store  pruner
	maxAge time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewJob(store pruner, maxAge time.Duration, logger *slog.Logger) *Job {
	return &Job{
		store:  store,
		maxAge: maxAge,
		logger: logger,
		now:    time.Now,
	}
}

// Start schedules RunOnce using a standard five-field cron expression or a
// descriptor such as "@hourly". The returned func stops the scheduler and
// waits for a running prune to finish.
func (j *Job) Start(schedule string) (func(), error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() {
		if _, err := j.RunOnce(context.Background()); err != nil {
			j.logger.Error("audit prune failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}

	c.Start()
	j.logger.Info("audit retention scheduled", "schedule", schedule, "max_age", j.maxAge.String())
	return func() { <-c.Stop().Done() }, nil
}

// RunOnce deletes every record older than the configured maximum age. A
// non-positive age keeps everything.
func (j *Job) RunOnce(ctx context.Context) (int64, error) {
	if j.maxAge <= 0 {
		return 0, nil
	}
	cutoff := j.now().Add(-j.maxAge)
	n, err := j.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete detections before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if n > 0 {
		j.logger.Info("audit records pruned", "deleted", n, "cutoff", cutoff)
	}
	return n, nil
}
