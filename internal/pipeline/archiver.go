// Package pipeline runs the scheduled background jobs of the market service.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

const archiveLockKey = "archive:events"

// Archiver moves market events past the retention window to cold storage.
type Archiver struct {
	archiver  domain.Archiver
	retention time.Duration
	locks     domain.LockManager
	lockTTL   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewArchiver creates an Archiver. locks may be nil when only one replica
// runs the job.
func NewArchiver(archiver domain.Archiver, retention time.Duration, locks domain.LockManager, logger *slog.Logger) *Archiver {
	return &Archiver{
		archiver:  archiver,
		retention: retention,
		locks:     locks,
		lockTTL:   30 * time.Minute,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// SetClock overrides the wall clock.
func (a *Archiver) SetClock(now func() time.Time) { a.now = now }

// Run performs one archive pass. If another replica holds the archive lock
// the pass is skipped and Run returns 0 with no error.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, archiveLockKey, a.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.InfoContext(ctx, "archive pass skipped, lock held elsewhere")
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("pipeline: archive lock: %w", err)
		}
		defer unlock()
	}

	cutoff := a.now().UTC().Add(-a.retention)
	start := a.now()
	a.logger.InfoContext(ctx, "archive pass started",
		slog.Time("cutoff", cutoff),
		slog.Duration("retention", a.retention),
	)

	n, err := a.archiver.ArchiveEvents(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("pipeline: archive events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	a.logger.InfoContext(ctx, "archive pass complete",
		slog.Int64("events", n),
		slog.Duration("elapsed", a.now().Sub(start)),
	)
	return n, nil
}

// RunCron runs a pass at every time matching the five-field cron expression
// until ctx is cancelled. Failed passes are logged and retried at the next
// trigger. A trigger that fires while a pass is still running is skipped.
func (a *Archiver) RunCron(ctx context.Context, expr string) error {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(expr, func() {
		if _, err := a.Run(ctx); err != nil {
			a.logger.ErrorContext(ctx, "archive pass failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("pipeline: cron %q: %w", expr, err)
	}

	a.logger.InfoContext(ctx, "archiver scheduled", slog.String("cron", expr))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}
