// Package pricing turns raw swap quotes into comparable, decimal-adjusted
// directional rates for a token pair.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
	"github.com/alanyoungcy/jupiterarb/internal/token"
)

const usdReferenceDecimals = 6

// QuoteSource fetches a single directional quote.
type QuoteSource interface {
	GetQuote(ctx context.Context, inputMint, outputMint string, amountRaw uint64, slippageBps int) (domain.Quote, error)
}

// Normalizer fetches forward and reverse quotes for a pair and converts them
// into DirectionalQuotes expressed in units of B per A.
type Normalizer struct {
	quotes      QuoteSource
	cache       domain.PriceCache
	cacheTTL    time.Duration
	slippageBps atomic.Int64
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithPriceCache caches token-per-USD rates used to size probe amounts.
func WithPriceCache(cache domain.PriceCache, ttl time.Duration) Option {
	return func(n *Normalizer) {
		n.cache = cache
		n.cacheTTL = ttl
	}
}

// WithSlippageBps sets the slippage tolerance sent with every quote.
func WithSlippageBps(bps int) Option {
	return func(n *Normalizer) {
		n.slippageBps.Store(int64(bps))
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		n.now = now
	}
}

// NewNormalizer creates a Normalizer over quotes.
func NewNormalizer(quotes QuoteSource, logger *slog.Logger, opts ...Option) *Normalizer {
	n := &Normalizer{
		quotes: quotes,
		now:    time.Now,
		logger: logger.With(slog.String("component", "pricing")),
	}
	n.slippageBps.Store(50)
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// SetSlippageBps changes the slippage tolerance for subsequent calls.
func (n *Normalizer) SetSlippageBps(bps int) {
	n.slippageBps.Store(int64(bps))
}

func (n *Normalizer) slippage() int {
	return int(n.slippageBps.Load())
}

// GetDirectionalRates probes A->B and B->A at probeUSD notional. It never
// fails: a direction whose quote fails comes back empty, and the other
// direction is still returned. Reverse prices are inverted so both sides are
// B-per-A and directly comparable.
func (n *Normalizer) GetDirectionalRates(ctx context.Context, a, b domain.Token, probeUSD float64) domain.DirectionalRates {
	var rates domain.DirectionalRates

	amountA := n.probeAmount(ctx, a, probeUSD)
	amountB := n.probeAmount(ctx, b, probeUSD)

	n.logger.DebugContext(ctx, "probing pair",
		slog.String("pair", domain.PairSymbol(a, b)),
		slog.Float64("probe_usd", probeUSD),
		slog.Uint64("amount_a", amountA),
		slog.Uint64("amount_b", amountB),
	)

	if fwd, err := n.directional(ctx, a, b, amountA, false); err != nil {
		n.logger.WarnContext(ctx, "forward quote failed",
			slog.String("pair", domain.PairSymbol(a, b)),
			slog.String("error", err.Error()),
		)
	} else {
		rates.Forward = append(rates.Forward, fwd)
	}

	if rev, err := n.directional(ctx, b, a, amountB, true); err != nil {
		n.logger.WarnContext(ctx, "reverse quote failed",
			slog.String("pair", domain.PairSymbol(b, a)),
			slog.String("error", err.Error()),
		)
	} else {
		rates.Reverse = append(rates.Reverse, rev)
	}

	return rates
}

// directional quotes in->out. When invert is set the stored price is 1/price.
func (n *Normalizer) directional(ctx context.Context, in, out domain.Token, amount uint64, invert bool) (domain.DirectionalQuote, error) {
	if amount == 0 {
		return domain.DirectionalQuote{}, fmt.Errorf("pricing: zero probe amount for %s: %w", in.Symbol, domain.ErrConfiguration)
	}
	q, err := n.quotes.GetQuote(ctx, in.Mint, out.Mint, amount, n.slippage())
	if err != nil {
		return domain.DirectionalQuote{}, err
	}
	if len(q.Route) == 0 {
		return domain.DirectionalQuote{}, fmt.Errorf("pricing: empty route: %w", domain.ErrMalformedResponse)
	}

	inAmount := q.InAmount
	if inAmount == 0 {
		inAmount = amount
	}
	price := CalculatePrice(inAmount, q.OutAmount, in.Decimals, out.Decimals)
	if price <= 0 || math.IsInf(price, 0) || math.IsNaN(price) {
		return domain.DirectionalQuote{}, fmt.Errorf("pricing: non-positive price %v: %w", price, domain.ErrMalformedResponse)
	}
	if invert {
		price = 1 / price
	}

	return domain.DirectionalQuote{
		Venue:              VenueLabel(q.Route),
		InputMint:          in.Mint,
		OutputMint:         out.Mint,
		Price:              price,
		InputAmount:        inAmount,
		OutputAmount:       q.OutAmount,
		PriceImpactPercent: q.PriceImpactPct,
		Route:              q.Venues(),
		ObservedAt:         n.now(),
	}, nil
}

// probeAmount converts probeUSD into a raw amount of t. USDC converts by its
// decimals; other tokens are quoted from USDC. On failure it assumes one
// token is worth one dollar.
func (n *Normalizer) probeAmount(ctx context.Context, t domain.Token, probeUSD float64) uint64 {
	if t.Mint == token.MintUSDC {
		return ToRaw(probeUSD, t.Decimals)
	}

	if units, ok := n.cachedUnitsPerUSD(ctx, t.Mint); ok {
		return ToRaw(probeUSD*units, t.Decimals)
	}

	amount, err := n.quoteFromUSD(ctx, t, probeUSD)
	if err == nil {
		return amount
	}

	n.logger.WarnContext(ctx, "usd conversion failed, assuming $1 per token",
		slog.String("token", t.Symbol),
		slog.String("error", err.Error()),
	)
	return ToRaw(probeUSD, t.Decimals)
}

func (n *Normalizer) quoteFromUSD(ctx context.Context, t domain.Token, probeUSD float64) (uint64, error) {
	usdAmount := ToRaw(probeUSD, usdReferenceDecimals)
	if usdAmount == 0 {
		return 0, fmt.Errorf("pricing: probe notional %v rounds to zero: %w", probeUSD, domain.ErrConfiguration)
	}
	q, err := n.quotes.GetQuote(ctx, token.MintUSDC, t.Mint, usdAmount, n.slippage())
	if err != nil {
		return 0, err
	}
	if q.OutAmount == 0 {
		return 0, errors.New("pricing: zero output for usd conversion")
	}

	if n.cache != nil && probeUSD > 0 {
		units := FromRaw(q.OutAmount, t.Decimals) / probeUSD
		if err := n.cache.SetPrice(ctx, cacheKey(t.Mint), units, n.now()); err != nil {
			n.logger.DebugContext(ctx, "price cache write failed", slog.String("error", err.Error()))
		}
	}
	return q.OutAmount, nil
}

func (n *Normalizer) cachedUnitsPerUSD(ctx context.Context, mint string) (float64, bool) {
	if n.cache == nil {
		return 0, false
	}
	units, ts, err := n.cache.GetPrice(ctx, cacheKey(mint))
	if err != nil || units <= 0 {
		return 0, false
	}
	if n.cacheTTL > 0 && n.now().Sub(ts) > n.cacheTTL {
		return 0, false
	}
	return units, true
}

func cacheKey(mint string) string {
	return "usd:" + mint
}

// CalculatePrice returns (out/10^outDecimals) / (in/10^inDecimals).
func CalculatePrice(inAmount, outAmount uint64, inDecimals, outDecimals int) float64 {
	in := float64(inAmount) / math.Pow10(inDecimals)
	out := float64(outAmount) / math.Pow10(outDecimals)
	return out / in
}

// ToRaw converts a UI amount into raw base units, truncating fractions.
func ToRaw(amount float64, decimals int) uint64 {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0
	}
	d := decimal.NewFromFloat(amount).Shift(int32(decimals)).Truncate(0)
	bi := d.BigInt()
	if !bi.IsUint64() {
		return math.MaxUint64
	}
	return bi.Uint64()
}

// FromRaw converts raw base units into a UI amount.
func FromRaw(raw uint64, decimals int) float64 {
	return decimal.NewFromUint64(raw).Shift(-int32(decimals)).InexactFloat64()
}

// VenueLabel attributes a route to a venue. A single hop, or several hops on
// one venue, use that venue's label; mixed routes become "<first>+<N>more"
// where N counts the additional distinct venues.
func VenueLabel(route []domain.RouteHop) string {
	if len(route) == 0 {
		return "Unknown"
	}
	if len(route) == 1 {
		return route[0].Label
	}
	seen := make(map[string]bool, len(route))
	unique := make([]string, 0, len(route))
	for _, h := range route {
		if !seen[h.Label] {
			seen[h.Label] = true
			unique = append(unique, h.Label)
		}
	}
	if len(unique) == 1 {
		return unique[0]
	}
	return fmt.Sprintf("%s+%dmore", unique[0], len(unique)-1)
}

// IsPriceReliable reports whether q has a positive price within the impact cap.
func IsPriceReliable(q domain.DirectionalQuote, maxPriceImpact float64) bool {
	return q.PriceImpactPercent <= maxPriceImpact && q.Price > 0
}
