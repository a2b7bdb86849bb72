package importer

// retention.go prunes old import history on a cron schedule. A failed
// prune is logged and retried at the next tick; it never stops the service.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner deletes import history older than a cutoff.
type Pruner interface {
	PruneImportRuns(ctx context.Context, before time.Time) (int64, error)
}

// RetentionJob removes import runs older than the retention window.
type RetentionJob struct {
	store     Pruner
	retention time.Duration
	schedule  string
	cron      *cron.Cron
	now       func() time.Time
}

// NewRetentionJob validates schedule (standard five-field cron or a
// descriptor such as @daily) and returns a job that is not yet running.
func NewRetentionJob(st Pruner, retention time.Duration, schedule string) (*RetentionJob, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return &RetentionJob{
		store:     st,
		retention: retention,
		schedule:  schedule,
		cron:      cron.New(),
		now:       time.Now,
	}, nil
}

// Start prunes once, schedules later runs, and stops the scheduler when
// ctx is cancelled. It returns after scheduling; it does not block.
func (j *RetentionJob) Start(ctx context.Context) error {
	slog.Info("history retention started",
		"retention", j.retention.String(),
		"schedule", j.schedule,
	)

	j.runLogged(ctx)

	if _, err := j.cron.AddFunc(j.schedule, func() { j.runLogged(ctx) }); err != nil {
		return fmt.Errorf("schedule prune: %w", err)
	}
	j.cron.Start()

	go func() {
		<-ctx.Done()
		stopCtx := j.cron.Stop()
		<-stopCtx.Done()
		slog.Info("history retention stopped")
	}()
	return nil
}

// RunOnce deletes runs older than the retention window and returns how
// many were removed.
func (j *RetentionJob) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.retention)
	n, err := j.store.PruneImportRuns(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune import runs before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return n, nil
}

func (j *RetentionJob) runLogged(ctx context.Context) {
	start := time.Now()
	n, err := j.RunOnce(ctx)
	if err != nil {
		slog.Error("history prune failed", "error", err)
		return
	}
	slog.Info("pruned import history",
		"runs_deleted", n,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
