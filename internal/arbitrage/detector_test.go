package arbitrage

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
)

var (
	sol  = domain.Token{Mint: "So11111111111111111111111111111111111111112", Symbol: "SOL", Decimals: 9}
	usdc = domain.Token{Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Symbol: "USDC", Decimals: 6}
	usdt = domain.Token{Mint: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Symbol: "USDT", Decimals: 6}
)

func testConfig() domain.ScannerConfig {
	return domain.ScannerConfig{
		MinProfitUSD:     5,
		MinProfitPercent: 0.5,
		TestVolume:       100,
		MaxPriceImpact:   1.0,
		PriorityDEXes:    []string{"Orca", "Raydium"},
	}
}

func newTestDetector() *Detector {
	return NewDetector(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func dq(venue string, price, impact float64) domain.DirectionalQuote {
	return domain.DirectionalQuote{
		Venue:              venue,
		Price:              price,
		PriceImpactPercent: impact,
		Route:              []string{venue},
		ObservedAt:         time.Now(),
	}
}

func TestSmallSpreadIsFilteredOut(t *testing.T) {
	d := newTestDetector()
	cfg := testConfig()
	fwd := []domain.DirectionalQuote{dq("Orca", 150.0, 0.1)}
	rev := []domain.DirectionalQuote{dq("Raydium", 152.0, 0.1)}

	candidates := d.Candidates(sol, usdc, fwd, rev, cfg)
	require.Len(t, candidates, 1)
	opp := candidates[0]
	assert.InDelta(t, 1.3333, opp.ProfitPercent, 1e-3)
	assert.InDelta(t, 1.3333, opp.ProfitUSD, 1e-3)
	assert.Equal(t, "Orca", opp.BuySide.Venue)
	assert.Equal(t, "Raydium", opp.SellSide.Venue)
	assert.Equal(t, domain.ConfidenceLow, opp.Confidence)

	assert.Empty(t, d.Detect(sol, usdc, fwd, rev, cfg))
}

func TestMediumSpreadIsRetained(t *testing.T) {
	d := newTestDetector()
	cfg := testConfig()
	fwd := []domain.DirectionalQuote{dq("Orca", 150.0, 0.1)}
	rev := []domain.DirectionalQuote{dq("Raydium", 160.0, 0.1)}

	opps := d.Detect(sol, usdc, fwd, rev, cfg)
	require.Len(t, opps, 1)
	opp := opps[0]
	assert.InDelta(t, 6.6667, opp.ProfitPercent, 1e-3)
	assert.InDelta(t, 6.6667, opp.ProfitUSD, 1e-3)
	assert.Equal(t, domain.ConfidenceMedium, opp.Confidence)
	assert.Equal(t, 100.0, opp.Volume)
	assert.NotEmpty(t, opp.ID)
	assert.Equal(t, sol, opp.TokenA)
	assert.Equal(t, usdc, opp.TokenB)
}

func TestCheaperSideMayComeFromEitherDirection(t *testing.T) {
	d := newTestDetector()
	cfg := testConfig()
	fwd := []domain.DirectionalQuote{dq("Orca", 160.0, 0.1)}
	rev := []domain.DirectionalQuote{dq("Raydium", 150.0, 0.1)}

	opps := d.Detect(sol, usdc, fwd, rev, cfg)
	require.Len(t, opps, 1)
	assert.Equal(t, "Raydium", opps[0].BuySide.Venue)
	assert.Equal(t, "Orca", opps[0].SellSide.Venue)
}

func TestDetectOrdersByProfitDescending(t *testing.T) {
	d := newTestDetector()
	cfg := testConfig()
	fwd := []domain.DirectionalQuote{dq("Raydium", 151.0, 0.1), dq("Orca", 150.0, 0.1)}
	rev := []domain.DirectionalQuote{dq("Meteora", 170.0, 0.1)}

	opps := d.Detect(sol, usdc, fwd, rev, cfg)
	require.Len(t, opps, 2)
	assert.Equal(t, "Orca", opps[0].BuySide.Venue)
	assert.InDelta(t, 13.3333, opps[0].ProfitUSD, 1e-3)
	assert.Equal(t, "Raydium", opps[1].BuySide.Venue)
	assert.InDelta(t, 12.5828, opps[1].ProfitUSD, 1e-3)
	for i := 1; i < len(opps); i++ {
		assert.GreaterOrEqual(t, opps[i-1].ProfitUSD, opps[i].ProfitUSD)
	}
}

func TestCandidatesSkipEqualAndInvalidPrices(t *testing.T) {
	d := newTestDetector()
	cfg := testConfig()
	fwd := []domain.DirectionalQuote{dq("Orca", 150, 0.1), dq("Bad", 0, 0.1)}
	rev := []domain.DirectionalQuote{dq("Raydium", 150, 0.1)}
	assert.Empty(t, d.Candidates(sol, usdc, fwd, rev, cfg))
	assert.Empty(t, d.Candidates(sol, usdc, nil, nil, cfg))
}

func TestProfitDerivedFromSides(t *testing.T) {
	d := newTestDetector()
	cfg := testConfig()
	fwd := []domain.DirectionalQuote{dq("Orca", 150, 0.1), dq("Meteora", 151, 0.2)}
	rev := []domain.DirectionalQuote{dq("Raydium", 158, 0.1)}

	for _, o := range d.Candidates(sol, usdc, fwd, rev, cfg) {
		pct := (o.SellSide.Price - o.BuySide.Price) / o.BuySide.Price * 100
		assert.InDelta(t, pct, o.ProfitPercent, 1e-12)
		assert.InDelta(t, pct/100*cfg.TestVolume, o.ProfitUSD, 1e-12)
		assert.Less(t, o.BuySide.Price, o.SellSide.Price)
	}
}

func TestConfidenceTiers(t *testing.T) {
	cfg := testConfig()
	tests := []struct {
		name            string
		buyImp, sellImp float64
		profit          float64
		want            domain.Confidence
	}{
		{"high", 0.5, 0.5, 10, domain.ConfidenceHigh},
		{"high impact boundary fails", 0.51, 0.1, 10, domain.ConfidenceMedium},
		{"medium", 1.0, 0.2, 5, domain.ConfidenceMedium},
		{"medium profit below 2x", 0.1, 0.1, 9.99, domain.ConfidenceMedium},
		{"low profit", 0.1, 0.1, 4.99, domain.ConfidenceLow},
		{"low impact", 1.01, 0.1, 50, domain.ConfidenceLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Confidence(dq("A", 1, tt.buyImp), dq("B", 1, tt.sellImp), tt.profit, cfg)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfidenceMonotonicInProfit(t *testing.T) {
	cfg := testConfig()
	impacts := []float64{0, 0.25, 0.5, 0.75, 1.0, 1.5}
	for _, bi := range impacts {
		for _, si := range impacts {
			prev := domain.ConfidenceLow
			for p := 0.0; p <= 30; p += 0.25 {
				c := Confidence(dq("A", 1, bi), dq("B", 1, si), p, cfg)
				assert.GreaterOrEqual(t, c, prev, "impacts %v/%v profit %v", bi, si, p)
				prev = c
			}
		}
	}
}

func TestIsFresh(t *testing.T) {
	now := time.Now()
	opp := domain.ArbitrageOpportunity{ObservedAt: now}
	assert.True(t, IsFresh(opp, 0, now))
	assert.True(t, IsFresh(opp, 2*time.Minute, now.Add(2*time.Minute)))
	assert.False(t, IsFresh(opp, 2*time.Minute, now.Add(2*time.Minute+time.Millisecond)))
}
