package scanner

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
)

// Bus channel and stream names for scanner events.
const (
	EventsChannel = "scanner:events"
	HistoryStream = "scanner:history"
)

// EventSink receives scanner events. Emit must not block the scan cycle.
type EventSink interface {
	Emit(ctx context.Context, ev domain.ScanEvent)
}

// NopSink discards every event.
type NopSink struct{}

// Emit implements EventSink.
func (NopSink) Emit(context.Context, domain.ScanEvent) {}

// BusSink publishes events as JSON on a SignalBus. Completed scans are also
// appended to the durable history stream.
type BusSink struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewBusSink creates a BusSink.
func NewBusSink(bus domain.SignalBus, logger *slog.Logger) *BusSink {
	return &BusSink{bus: bus, logger: logger.With(slog.String("component", "scanner_events"))}
}

// Emit implements EventSink.
func (s *BusSink) Emit(ctx context.Context, ev domain.ScanEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("marshal event failed", slog.String("type", string(ev.Type)), slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, EventsChannel, data); err != nil {
		s.logger.Warn("publish event failed", slog.String("type", string(ev.Type)), slog.String("error", err.Error()))
	}
	if ev.Type == domain.EventScanComplete {
		if err := s.bus.StreamAppend(ctx, HistoryStream, data); err != nil {
			s.logger.Warn("append scan history failed", slog.String("error", err.Error()))
		}
	}
}

// ResultHandler is invoked after every completed cycle, in registration order.
type ResultHandler func(ctx context.Context, result domain.ScanResult)

// MultiSink fans each event out to every sink in order.
type MultiSink []EventSink

// Emit implements EventSink.
func (m MultiSink) Emit(ctx context.Context, ev domain.ScanEvent) {
	for _, s := range m {
		s.Emit(ctx, ev)
	}
}
