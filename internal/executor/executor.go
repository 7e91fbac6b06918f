package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
)

// Batcher executes opportunities.
type Batcher interface {
	AutoExecute(ctx context.Context, opps []domain.ArbitrageOpportunity) []string
}

// Runner takes scan results off the scanner's goroutine and feeds them to a
// Batcher one batch at a time, so batch delays never stall scanning.
type Runner struct {
	batcher Batcher
	queue   chan domain.ScanResult
	logger  *slog.Logger
}

// NewRunner creates a Runner that buffers up to queueSize scan results.
func NewRunner(batcher Batcher, queueSize int, logger *slog.Logger) *Runner {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Runner{
		batcher: batcher,
		queue:   make(chan domain.ScanResult, queueSize),
		logger:  logger.With(slog.String("component", "executor")),
	}
}

// HandleScan enqueues result without blocking. When the queue is full the
// result is dropped; its opportunities would be stale by the time it ran.
func (r *Runner) HandleScan(ctx context.Context, result domain.ScanResult) {
	if len(result.Opportunities) == 0 {
		return
	}
	select {
	case r.queue <- result:
	default:
		r.logger.WarnContext(ctx, "executor busy, dropping scan result",
			slog.Int64("scan_number", result.ScanNumber),
			slog.Int("opportunities", len(result.Opportunities)),
		)
	}
}

// Run processes queued results until ctx is cancelled, then drains what is
// already queued with a short deadline and returns.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("executor started")
	defer r.logger.Info("executor stopped")

	for {
		select {
		case <-ctx.Done():
			r.drain()
			return ctx.Err()
		case result := <-r.queue:
			r.process(ctx, result)
		}
	}
}

func (r *Runner) process(ctx context.Context, result domain.ScanResult) {
	sigs := r.batcher.AutoExecute(ctx, result.Opportunities)
	r.logger.InfoContext(ctx, "batch processed",
		slog.Int64("scan_number", result.ScanNumber),
		slog.Int("candidates", len(result.Opportunities)),
		slog.Int("confirmed", len(sigs)),
	)
}

// drain handles results queued before shutdown. Eligibility windows are
// short, so anything left is processed under a bounded context.
func (r *Runner) drain() {
	for {
		select {
		case result := <-r.queue:
			r.logger.Warn("draining scan result after shutdown",
				slog.Int64("scan_number", result.ScanNumber),
			)
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			r.process(drainCtx, result)
			cancel()
		default:
			return
		}
	}
}
