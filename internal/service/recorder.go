// Package service holds the persistence and alerting side effects of scan
// cycles and executions.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
	"github.com/alanyoungcy/jupiterarb/internal/notify"
)

// Bus channels for recorded history.
const (
	OpportunitiesChannel = "opportunities:new"
	ExecutionsChannel    = "executions:new"
)

// Notifier sends filtered alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Recorder persists accepted opportunities and execution results, publishes
// them on the bus, writes the audit log and raises alerts. Every dependency
// is optional.
type Recorder struct {
	opps     domain.OpportunityStore
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier Notifier
	archiver domain.Archiver
	degraded atomic.Bool
	recorded atomic.Int64
	logger   *slog.Logger
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithOpportunityStore persists opportunities.
func WithOpportunityStore(s domain.OpportunityStore) RecorderOption {
	return func(r *Recorder) { r.opps = s }
}

// WithBus publishes opportunities and executions.
func WithBus(b domain.SignalBus) RecorderOption {
	return func(r *Recorder) { r.bus = b }
}

// WithAudit writes audit entries.
func WithAudit(a domain.AuditStore) RecorderOption {
	return func(r *Recorder) { r.audit = a }
}

// WithNotifier raises alerts.
func WithNotifier(n Notifier) RecorderOption {
	return func(r *Recorder) { r.notifier = n }
}

// WithSnapshots archives every completed scan.
func WithSnapshots(a domain.Archiver) RecorderOption {
	return func(r *Recorder) { r.archiver = a }
}

// NewRecorder creates a Recorder.
func NewRecorder(logger *slog.Logger, opts ...RecorderOption) *Recorder {
	r := &Recorder{logger: logger.With(slog.String("component", "recorder"))}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Recorded returns how many opportunities have been persisted.
func (r *Recorder) Recorded() int64 {
	return r.recorded.Load()
}

// HandleScan records the opportunities of a completed cycle. It matches the
// scanner's result handler signature.
func (r *Recorder) HandleScan(ctx context.Context, result domain.ScanResult) {
	if r.archiver != nil {
		if err := r.archiver.ArchiveScan(ctx, result); err != nil {
			r.logger.WarnContext(ctx, "scan snapshot failed",
				slog.Int64("scan_number", result.ScanNumber),
				slog.String("error", err.Error()),
			)
		}
	}

	for _, opp := range result.Opportunities {
		r.recordOpportunity(ctx, opp)
	}
}

func (r *Recorder) recordOpportunity(ctx context.Context, opp domain.ArbitrageOpportunity) {
	log := r.logger.With(slog.String("opportunity_id", opp.ID), slog.String("pair", opp.Pair()))

	if r.opps != nil {
		switch err := r.opps.Insert(ctx, opp); {
		case err == nil:
			r.recorded.Add(1)
		case errors.Is(err, domain.ErrAlreadyExists):
		default:
			log.WarnContext(ctx, "persist opportunity failed", slog.String("error", err.Error()))
		}
	}

	r.publish(ctx, OpportunitiesChannel, opp)

	if opp.Confidence == domain.ConfidenceHigh && !opp.Synthetic && r.notifier != nil {
		title, msg := notify.OpportunityMessage(opp)
		if err := r.notifier.Notify(ctx, notify.EventOpportunityHigh, title, msg); err != nil {
			log.WarnContext(ctx, "opportunity alert failed", slog.String("error", err.Error()))
		}
	}
}

// ExecutionFinished records an execution result.
func (r *Recorder) ExecutionFinished(ctx context.Context, exec domain.Execution) {
	log := r.logger.With(slog.String("execution_id", exec.ID), slog.String("pair", exec.Pair))

	if exec.Status == domain.ExecutionConfirmed && r.opps != nil && exec.OpportunityID != "" {
		if err := r.opps.MarkExecuted(ctx, exec.OpportunityID, exec.Signature); err != nil && !errors.Is(err, domain.ErrNotFound) {
			log.WarnContext(ctx, "mark executed failed", slog.String("error", err.Error()))
		}
	}

	r.publish(ctx, ExecutionsChannel, exec)

	event, title, msg := notify.ExecutionMessage(exec)
	r.auditLog(ctx, event, map[string]any{
		"execution_id":   exec.ID,
		"opportunity_id": exec.OpportunityID,
		"pair":           exec.Pair,
		"signature":      exec.Signature,
		"min_profit_usd": exec.MinProfitUSD,
		"error":          exec.Error,
	})
	if r.notifier != nil {
		if err := r.notifier.Notify(ctx, event, title, msg); err != nil {
			log.WarnContext(ctx, "execution alert failed", slog.String("error", err.Error()))
		}
	}
}

// Emit watches scanner status events and alerts once when the scanner
// falls back to synthetic data. It implements scanner.EventSink.
func (r *Recorder) Emit(ctx context.Context, ev domain.ScanEvent) {
	if ev.Type != domain.EventStatus {
		return
	}
	stats, ok := ev.Payload.(domain.ScannerStats)
	// Demo mode runs synthetic from the start with no failures; only a live
	// fallback is alerted.
	if !ok || !stats.UsingSynthetic || stats.ConsecutiveFailures == 0 {
		return
	}
	if !r.degraded.CompareAndSwap(false, true) {
		return
	}

	r.auditLog(ctx, notify.EventDegradedMode, map[string]any{
		"consecutive_failures": stats.ConsecutiveFailures,
		"scan_count":           stats.ScanCount,
	})
	if r.notifier != nil {
		msg := "Live quotes failed repeatedly; the scanner now reports synthetic data."
		if err := r.notifier.Notify(ctx, notify.EventDegradedMode, "Scanner degraded", msg); err != nil {
			r.logger.WarnContext(ctx, "degraded alert failed", slog.String("error", err.Error()))
		}
	}
}

func (r *Recorder) publish(ctx context.Context, channel string, v any) {
	if r.bus == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		r.logger.WarnContext(ctx, "marshal failed", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}
	if err := r.bus.Publish(ctx, channel, data); err != nil {
		r.logger.WarnContext(ctx, "publish failed", slog.String("channel", channel), slog.String("error", err.Error()))
	}
}

func (r *Recorder) auditLog(ctx context.Context, event string, detail map[string]any) {
	if r.audit == nil {
		return
	}
	if err := r.audit.Log(ctx, event, detail); err != nil {
		r.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}
