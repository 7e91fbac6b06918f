// Package arbitrage detects, scores, filters and orders rate discrepancies
// between directional quotes of a token pair.
package arbitrage

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
)

// Detector pairs cheap and expensive quotes into opportunities.
type Detector struct {
	now    func() time.Time
	logger *slog.Logger
}

// NewDetector creates a Detector.
func NewDetector(logger *slog.Logger) *Detector {
	return &Detector{
		now:    time.Now,
		logger: logger.With(slog.String("component", "arb_detector")),
	}
}

// Detect returns the candidates for the pair that pass the acceptance filter,
// ordered by profitUSD descending.
func (d *Detector) Detect(a, b domain.Token, forward, reverse []domain.DirectionalQuote, cfg domain.ScannerConfig) []domain.ArbitrageOpportunity {
	candidates := d.Candidates(a, b, forward, reverse, cfg)
	accepted := SortOpportunities(FilterOpportunities(candidates, cfg))
	if len(candidates) > 0 {
		d.logger.Debug("pair evaluated",
			slog.String("pair", domain.PairSymbol(a, b)),
			slog.Int("candidates", len(candidates)),
			slog.Int("accepted", len(accepted)),
		)
	}
	return accepted
}

// Candidates pairs every two quotes from the union of both directions with
// distinct prices; the lower price is the buy side. Profit is measured
// against the probe notional cfg.TestVolume. No filtering is applied.
func (d *Detector) Candidates(a, b domain.Token, forward, reverse []domain.DirectionalQuote, cfg domain.ScannerConfig) []domain.ArbitrageOpportunity {
	quotes := make([]domain.DirectionalQuote, 0, len(forward)+len(reverse))
	for _, q := range forward {
		if q.Price > 0 {
			quotes = append(quotes, q)
		}
	}
	for _, q := range reverse {
		if q.Price > 0 {
			quotes = append(quotes, q)
		}
	}

	var out []domain.ArbitrageOpportunity
	for i := 0; i < len(quotes); i++ {
		for j := i + 1; j < len(quotes); j++ {
			buy, sell := quotes[i], quotes[j]
			if buy.Price == sell.Price {
				continue
			}
			if buy.Price > sell.Price {
				buy, sell = sell, buy
			}
			out = append(out, d.build(a, b, buy, sell, cfg))
		}
	}
	return out
}

func (d *Detector) build(a, b domain.Token, buy, sell domain.DirectionalQuote, cfg domain.ScannerConfig) domain.ArbitrageOpportunity {
	pct := ProfitPercent(buy.Price, sell.Price)
	usd := pct / 100 * cfg.TestVolume

	observed := buy.ObservedAt
	if sell.ObservedAt.Before(observed) {
		observed = sell.ObservedAt
	}
	if observed.IsZero() {
		observed = d.now()
	}

	return domain.ArbitrageOpportunity{
		ID:            uuid.Must(uuid.NewRandom()).String(),
		TokenA:        a,
		TokenB:        b,
		BuySide:       buy,
		SellSide:      sell,
		ProfitUSD:     usd,
		ProfitPercent: pct,
		Confidence:    Confidence(buy, sell, usd, cfg),
		Volume:        cfg.TestVolume,
		ObservedAt:    observed,
	}
}

// ProfitPercent is (sell-buy)/buy*100.
func ProfitPercent(buyPrice, sellPrice float64) float64 {
	if buyPrice <= 0 {
		return 0
	}
	return (sellPrice - buyPrice) / buyPrice * 100
}

// Confidence tiers an opportunity. HIGH needs both impacts within half the
// cap and at least twice the minimum profit; MEDIUM needs both impacts within
// the cap and the minimum profit; everything else is LOW.
func Confidence(buy, sell domain.DirectionalQuote, profitUSD float64, cfg domain.ScannerConfig) domain.Confidence {
	worst := max(buy.PriceImpactPercent, sell.PriceImpactPercent)
	switch {
	case worst <= cfg.MaxPriceImpact/2 && profitUSD >= 2*cfg.MinProfitUSD:
		return domain.ConfidenceHigh
	case worst <= cfg.MaxPriceImpact && profitUSD >= cfg.MinProfitUSD:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

// IsFresh reports whether opp was observed no more than window before now.
func IsFresh(opp domain.ArbitrageOpportunity, window time.Duration, now time.Time) bool {
	return now.Sub(opp.ObservedAt) <= window
}
