package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
)

type fakeBatcher struct {
	mu      sync.Mutex
	batches [][]domain.ArbitrageOpportunity
}

func (f *fakeBatcher) AutoExecute(_ context.Context, opps []domain.ArbitrageOpportunity) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, opps)
	return nil
}

func (f *fakeBatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func TestRunner_ProcessesQueuedResults(t *testing.T) {
	b := &fakeBatcher{}
	r := NewRunner(b, 4, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.HandleScan(ctx, domain.ScanResult{ScanNumber: 1})
	r.HandleScan(ctx, domain.ScanResult{ScanNumber: 2, Opportunities: []domain.ArbitrageOpportunity{{ID: "a"}}})

	assert.Eventually(t, func() bool { return b.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, "a", b.batches[0][0].ID)
}

func TestRunner_DropsWhenFull(t *testing.T) {
	b := &fakeBatcher{}
	r := NewRunner(b, 1, discardLogger())
	result := domain.ScanResult{Opportunities: []domain.ArbitrageOpportunity{{ID: "a"}}}

	r.HandleScan(context.Background(), result)
	r.HandleScan(context.Background(), result)
	assert.Len(t, r.queue, 1)
}

func TestRunner_DrainsOnShutdown(t *testing.T) {
	b := &fakeBatcher{}
	r := NewRunner(b, 2, discardLogger())
	result := domain.ScanResult{Opportunities: []domain.ArbitrageOpportunity{{ID: "a"}}}
	r.HandleScan(context.Background(), result)
	r.HandleScan(context.Background(), result)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = r.Run(ctx)
	assert.Equal(t, 2, b.count())
}

func TestDedup(t *testing.T) {
	now := time.Unix(0, 0)
	d := NewDedup(time.Minute, func() time.Time { return now })

	assert.False(t, d.IsDuplicate("k"))
	assert.True(t, d.IsDuplicate("k"))

	now = now.Add(time.Minute)
	assert.False(t, d.IsDuplicate("k"))

	assert.False(t, d.IsDuplicate("other"))
	now = now.Add(2 * time.Minute)
	d.Cleanup()
	assert.Equal(t, 0, d.Len())
}
