package synthetic

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/jupiterarb/internal/arbitrage"
	"github.com/alanyoungcy/jupiterarb/internal/domain"
)

var (
	sol  = domain.Token{Mint: "So11111111111111111111111111111111111111112", Symbol: "SOL", Decimals: 9}
	usdc = domain.Token{Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Symbol: "USDC", Decimals: 6}
)

func TestGetSyntheticRatesShape(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewSource(WithSeed(42), WithClock(func() time.Time { return now }))

	for i := 0; i < 50; i++ {
		rates := s.GetSyntheticRates(sol, usdc, 100)
		require.GreaterOrEqual(t, len(rates.Forward), 2)
		require.GreaterOrEqual(t, len(rates.Reverse), 2)
		for _, q := range append(rates.Forward, rates.Reverse...) {
			assert.InDelta(t, 150, q.Price, 150*jitter+1e-9)
			assert.NotEmpty(t, q.Route)
			assert.Equal(t, q.Venue, q.Route[0])
			assert.GreaterOrEqual(t, q.PriceImpactPercent, 0.0)
			assert.Less(t, q.PriceImpactPercent, maxImpact)
			assert.Equal(t, now, q.ObservedAt)
			assert.NotZero(t, q.InputAmount)
		}
	}
}

func TestReverseAmountsMatchInvertedPrice(t *testing.T) {
	s := NewSource(WithSeed(7))
	rates := s.GetSyntheticRates(sol, usdc, 100)
	rev := rates.Reverse[0]

	// USDC in, SOL out: raw rate is SOL per USDC, stored price is its inverse.
	in := float64(rev.InputAmount) / 1e6
	out := float64(rev.OutputAmount) / 1e9
	assert.InDelta(t, rev.Price, in/out, 0.01)
}

func TestForceOpportunitySpread(t *testing.T) {
	s := NewSource(WithSeed(1))
	for i := 0; i < 100; i++ {
		rates := s.ForceOpportunity(sol, usdc, 100, 5)
		require.Len(t, rates.Forward, 1)
		require.Len(t, rates.Reverse, 1)

		f, r := rates.Forward[0], rates.Reverse[0]
		lo, hi := f.Price, r.Price
		if lo > hi {
			lo, hi = hi, lo
		}
		spread := (hi - lo) / lo
		assert.GreaterOrEqual(t, spread, forcedSpreadLo-1e-9)
		assert.LessOrEqual(t, spread, forcedSpreadHi+1e-9)
		assert.NotEqual(t, f.Venue, r.Venue)
		assert.Less(t, f.PriceImpactPercent, 0.25)
		assert.Less(t, r.PriceImpactPercent, 0.25)
	}
}

func TestForcedOpportunityClearsFilterAtSmallVolume(t *testing.T) {
	s := NewSource(WithSeed(5))
	det := arbitrage.NewDetector(slog.New(slog.NewTextHandler(io.Discard, nil)))
	cfg := domain.ScannerConfig{
		MinProfitUSD:     5,
		MinProfitPercent: 0.5,
		TestVolume:       20,
		MaxPriceImpact:   1,
	}

	for i := 0; i < 50; i++ {
		rates := s.ForceOpportunity(sol, usdc, cfg.TestVolume, cfg.MinProfitUSD)
		opps := det.Detect(sol, usdc, rates.Forward, rates.Reverse, cfg)
		require.NotEmpty(t, opps, "forced spread filtered at $%.0f volume", cfg.TestVolume)
		assert.GreaterOrEqual(t, opps[0].Confidence, domain.ConfidenceMedium)
		assert.GreaterOrEqual(t, opps[0].ProfitUSD, cfg.MinProfitUSD)
	}
}

func TestReferencePriceUnknownToken(t *testing.T) {
	assert.Equal(t, 1.0, ReferencePrice(domain.Token{Symbol: "TOKEN_abcd"}))
	assert.Equal(t, 165.0, ReferencePrice(domain.Token{Symbol: "mSOL"}))
}

func TestSeededSourcesAreDeterministic(t *testing.T) {
	a := NewSource(WithSeed(9), WithClock(func() time.Time { return time.Unix(0, 0) }))
	b := NewSource(WithSeed(9), WithClock(func() time.Time { return time.Unix(0, 0) }))
	assert.Equal(t, a.GetSyntheticRates(sol, usdc, 100), b.GetSyntheticRates(sol, usdc, 100))
}
