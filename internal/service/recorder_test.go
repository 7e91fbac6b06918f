package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
	"github.com/alanyoungcy/jupiterarb/internal/eventbus"
	"github.com/alanyoungcy/jupiterarb/internal/notify"
)

type memOppStore struct {
	inserted []domain.ArbitrageOpportunity
	executed map[string]string
	err      error
}

func (m *memOppStore) Insert(_ context.Context, opp domain.ArbitrageOpportunity) error {
	if m.err != nil {
		return m.err
	}
	m.inserted = append(m.inserted, opp)
	return nil
}

func (m *memOppStore) MarkExecuted(_ context.Context, id, sig string) error {
	if m.executed == nil {
		m.executed = map[string]string{}
	}
	m.executed[id] = sig
	return nil
}

func (m *memOppStore) ListRecent(context.Context, int) ([]domain.ArbitrageOpportunity, error) {
	return m.inserted, nil
}

func (m *memOppStore) ListBefore(context.Context, time.Time) ([]domain.ArbitrageOpportunity, error) {
	return nil, nil
}

func (m *memOppStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type memAudit struct {
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type memNotifier struct {
	events []string
}

func (m *memNotifier) Notify(_ context.Context, event, _, _ string) error {
	m.events = append(m.events, event)
	return nil
}

type memArchiver struct {
	scans []int64
}

func (m *memArchiver) ArchiveScan(_ context.Context, r domain.ScanResult) error {
	m.scans = append(m.scans, r.ScanNumber)
	return nil
}

func (m *memArchiver) ArchiveOpportunities(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func opp(id string, conf domain.Confidence, synthetic bool) domain.ArbitrageOpportunity {
	return domain.ArbitrageOpportunity{
		ID:         id,
		TokenA:     domain.Token{Symbol: "SOL"},
		TokenB:     domain.Token{Symbol: "USDC"},
		ProfitUSD:  12,
		Confidence: conf,
		Synthetic:  synthetic,
	}
}

func TestRecorder_HandleScan(t *testing.T) {
	store := &memOppStore{}
	notifier := &memNotifier{}
	archiver := &memArchiver{}
	bus := eventbus.NewLocalBus(16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := bus.Subscribe(ctx, OpportunitiesChannel)
	require.NoError(t, err)

	r := NewRecorder(discard(),
		WithOpportunityStore(store),
		WithBus(bus),
		WithNotifier(notifier),
		WithSnapshots(archiver),
	)
	r.HandleScan(ctx, domain.ScanResult{
		ScanNumber: 7,
		Opportunities: []domain.ArbitrageOpportunity{
			opp("high", domain.ConfidenceHigh, false),
			opp("medium", domain.ConfidenceMedium, false),
			opp("synthetic-high", domain.ConfidenceHigh, true),
		},
	})

	assert.Len(t, store.inserted, 3)
	assert.Equal(t, int64(3), r.Recorded())
	assert.Equal(t, []string{notify.EventOpportunityHigh}, notifier.events)
	assert.Equal(t, []int64{7}, archiver.scans)

	select {
	case msg := <-sub:
		var got domain.ArbitrageOpportunity
		require.NoError(t, json.Unmarshal(msg, &got))
		assert.Equal(t, "high", got.ID)
	case <-time.After(time.Second):
		t.Fatal("no opportunity published")
	}
}

func TestRecorder_StoreFailureDoesNotStopPublishing(t *testing.T) {
	store := &memOppStore{err: errors.New("db down")}
	notifier := &memNotifier{}
	r := NewRecorder(discard(), WithOpportunityStore(store), WithNotifier(notifier))

	r.HandleScan(context.Background(), domain.ScanResult{
		Opportunities: []domain.ArbitrageOpportunity{opp("a", domain.ConfidenceHigh, false)},
	})
	assert.Equal(t, int64(0), r.Recorded())
	assert.Len(t, notifier.events, 1)
}

func TestRecorder_ExecutionFinished(t *testing.T) {
	store := &memOppStore{}
	audit := &memAudit{}
	notifier := &memNotifier{}
	r := NewRecorder(discard(), WithOpportunityStore(store), WithAudit(audit), WithNotifier(notifier))

	r.ExecutionFinished(context.Background(), domain.Execution{
		ID: "e1", OpportunityID: "o1", Signature: "sig", Status: domain.ExecutionConfirmed,
	})
	r.ExecutionFinished(context.Background(), domain.Execution{
		ID: "e2", OpportunityID: "o2", Status: domain.ExecutionFailed, Error: "boom",
	})

	assert.Equal(t, map[string]string{"o1": "sig"}, store.executed)
	assert.Equal(t, []string{notify.EventExecutionConfirmed, notify.EventExecutionFailed}, audit.events)
	assert.Equal(t, []string{notify.EventExecutionConfirmed, notify.EventExecutionFailed}, notifier.events)
}

func TestRecorder_DegradedAlertOnce(t *testing.T) {
	audit := &memAudit{}
	notifier := &memNotifier{}
	r := NewRecorder(discard(), WithAudit(audit), WithNotifier(notifier))
	ctx := context.Background()

	// Demo mode: synthetic without failures is not alerted.
	r.Emit(ctx, domain.ScanEvent{Type: domain.EventStatus, Payload: domain.ScannerStats{UsingSynthetic: true, ScanCount: 4}})
	assert.Empty(t, notifier.events)

	degraded := domain.ScanEvent{Type: domain.EventStatus, Payload: domain.ScannerStats{UsingSynthetic: true, ConsecutiveFailures: 3}}
	r.Emit(ctx, degraded)
	r.Emit(ctx, degraded)
	r.Emit(ctx, domain.ScanEvent{Type: domain.EventLog, Payload: domain.LogPayload{Level: "warn"}})

	assert.Equal(t, []string{notify.EventDegradedMode}, notifier.events)
	assert.Equal(t, []string{notify.EventDegradedMode}, audit.events)
}
