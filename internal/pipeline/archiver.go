// Package pipeline runs scheduled maintenance jobs over stored scan history.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
)

// AuditPruner deletes audit rows older than a cutoff.
type AuditPruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Archiver moves opportunity history older than the retention window to
// cold storage.
type Archiver struct {
	blobArchiver  domain.Archiver
	audit         AuditPruner
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(blobArchiver domain.Archiver, audit AuditPruner, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		audit:         audit,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "archive_job")),
	}
}

// Cutoff returns the oldest timestamp kept in the primary store.
func (a *Archiver) Cutoff() time.Time {
	return a.now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
}

// Run performs one archive pass.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.Cutoff()
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	archived, err := a.blobArchiver.ArchiveOpportunities(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive opportunities before %v: %w", cutoff, err)
	}

	var pruned int64
	if a.audit != nil {
		if pruned, err = a.audit.Prune(ctx, cutoff); err != nil {
			return fmt.Errorf("pipeline: prune audit log before %v: %w", cutoff, err)
		}
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("opportunities_archived", archived),
		slog.Int64("audit_pruned", pruned),
	)
	return nil
}

// RunCron runs the archiver on a standard 5-field cron schedule until ctx is
// cancelled. A failed run is logged and retried at the next tick.
func (a *Archiver) RunCron(ctx context.Context, spec string) error {
	c := cron.New(cron.WithLogger(cronLogger{a.logger}))
	if _, err := c.AddFunc(spec, func() {
		if err := a.Run(ctx); err != nil {
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("pipeline: parse cron %q: %w: %w", spec, domain.ErrConfiguration, err)
	}

	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", spec))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	a.logger.Info("archiver cron stopped")
	return nil
}

// cronLogger adapts slog to cron.Logger; cron already passes key/value pairs.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
