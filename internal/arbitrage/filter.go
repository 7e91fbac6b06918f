package arbitrage

import (
	"slices"
	"strings"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
)

// FilterOpportunities keeps the opportunities that are actionable under cfg:
// profit at or above both minimums and price impact within the cap on both
// sides. It is a pure predicate filter and therefore idempotent.
func FilterOpportunities(opps []domain.ArbitrageOpportunity, cfg domain.ScannerConfig) []domain.ArbitrageOpportunity {
	out := make([]domain.ArbitrageOpportunity, 0, len(opps))
	for _, o := range opps {
		if Accept(o, cfg) {
			out = append(out, o)
		}
	}
	return out
}

// Accept is the acceptance predicate used by FilterOpportunities.
func Accept(o domain.ArbitrageOpportunity, cfg domain.ScannerConfig) bool {
	if o.ProfitUSD < cfg.MinProfitUSD || o.ProfitPercent < cfg.MinProfitPercent {
		return false
	}
	return o.BuySide.PriceImpactPercent <= cfg.MaxPriceImpact &&
		o.SellSide.PriceImpactPercent <= cfg.MaxPriceImpact
}

// ViewOptions is the looser display filter applied after a scan cycle.
type ViewOptions struct {
	MinConfidence  domain.Confidence
	MaxPriceImpact float64
	PriorityDEXes  []string
}

// ViewFilter keeps opportunities at or above MinConfidence, within the impact
// cap on both sides, and, when PriorityDEXes is set, with at least one side
// on a priority venue.
func ViewFilter(opps []domain.ArbitrageOpportunity, opts ViewOptions) []domain.ArbitrageOpportunity {
	out := make([]domain.ArbitrageOpportunity, 0, len(opps))
	for _, o := range opps {
		if o.Confidence < opts.MinConfidence {
			continue
		}
		if o.BuySide.PriceImpactPercent > opts.MaxPriceImpact || o.SellSide.PriceImpactPercent > opts.MaxPriceImpact {
			continue
		}
		if len(opts.PriorityDEXes) > 0 &&
			!onVenue(o.BuySide.Venue, opts.PriorityDEXes) &&
			!onVenue(o.SellSide.Venue, opts.PriorityDEXes) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// onVenue matches the first venue of a label ("Orca+2more" -> "Orca")
// case-insensitively against the priority list. "Raydium CLMM" matches
// "Raydium".
func onVenue(label string, priority []string) bool {
	first, _, _ := strings.Cut(label, "+")
	first = strings.ToLower(strings.TrimSpace(first))
	for _, p := range priority {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(first, p) {
			return true
		}
	}
	return false
}

// SortOpportunities returns a copy ordered by profitUSD descending, then
// profitPercent descending, then pair symbol ascending.
func SortOpportunities(opps []domain.ArbitrageOpportunity) []domain.ArbitrageOpportunity {
	out := slices.Clone(opps)
	slices.SortStableFunc(out, func(x, y domain.ArbitrageOpportunity) int {
		switch {
		case x.ProfitUSD > y.ProfitUSD:
			return -1
		case x.ProfitUSD < y.ProfitUSD:
			return 1
		case x.ProfitPercent > y.ProfitPercent:
			return -1
		case x.ProfitPercent < y.ProfitPercent:
			return 1
		}
		return strings.Compare(x.Pair(), y.Pair())
	})
	return out
}
