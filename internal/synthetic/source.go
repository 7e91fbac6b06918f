// Package synthetic generates plausible directional quotes without network
// access. The scanner falls back to it when the live quote path is degraded.
package synthetic

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
	"github.com/alanyoungcy/jupiterarb/internal/pricing"
)

// Venues the generator attributes quotes to.
var Venues = []string{"Orca", "Raydium", "Meteora", "Lifinity", "Phoenix"}

// referenceUSD holds rough USD prices by symbol; unknown symbols are $1.
var referenceUSD = map[string]float64{
	"SOL":  150,
	"USDC": 1,
	"USDT": 1,
	"MSOL": 165,
	"JTO":  3,
	"BONK": 0.00002,
}

const (
	jitter         = 0.003 // +-0.3% per venue
	maxImpact      = 0.5
	forcedSpreadLo = 0.06
	forcedSpreadHi = 0.10
	// forcedProfitMargin keeps forced profits clear of the minimum.
	forcedProfitMargin = 1.2
	defaultProbeUSD    = 100.0
)

// Source produces synthetic rates. It is safe for concurrent use.
type Source struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// Option configures a Source.
type Option func(*Source)

// WithSeed makes the output deterministic.
func WithSeed(seed uint64) Option {
	return func(s *Source) {
		s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Source) {
		s.now = now
	}
}

// NewSource returns a randomly seeded Source.
func NewSource(opts ...Option) *Source {
	s := &Source{
		rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReferencePrice is the synthetic USD price of t.
func ReferencePrice(t domain.Token) float64 {
	if p, ok := referenceUSD[strings.ToUpper(t.Symbol)]; ok {
		return p
	}
	return 1
}

// Float64 returns a value in [0, 1) from the source's generator.
func (s *Source) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// GetSyntheticRates returns two or three venue quotes per direction around
// the reference A/B rate with small jitter. Reverse prices are already
// expressed in B per A.
func (s *Source) GetSyntheticRates(a, b domain.Token, probeUSD float64) domain.DirectionalRates {
	s.mu.Lock()
	defer s.mu.Unlock()

	mid := ReferencePrice(a) / ReferencePrice(b)
	ts := s.now()

	var rates domain.DirectionalRates
	for _, venue := range s.pickVenues(2 + s.rng.IntN(2)) {
		price := mid * (1 + (s.rng.Float64()*2-1)*jitter)
		rates.Forward = append(rates.Forward, s.quote(a, b, venue, price, probeUSD, s.rng.Float64()*maxImpact, ts, false))
	}
	for _, venue := range s.pickVenues(2 + s.rng.IntN(2)) {
		price := mid * (1 + (s.rng.Float64()*2-1)*jitter)
		rates.Reverse = append(rates.Reverse, s.quote(a, b, venue, price, probeUSD, s.rng.Float64()*maxImpact, ts, true))
	}
	return rates
}

// ForceOpportunity returns one forward and one reverse quote on different
// venues whose prices differ by 6-10%, with price impact of at most 0.2%.
// The spread is widened when needed so the profit at probeUSD is at least
// 1.2x minProfitUSD, so the detector finds a MEDIUM or better candidate
// whenever maxPriceImpact is at least 0.2%.
func (s *Source) ForceOpportunity(a, b domain.Token, probeUSD, minProfitUSD float64) domain.DirectionalRates {
	s.mu.Lock()
	defer s.mu.Unlock()

	if probeUSD <= 0 {
		probeUSD = defaultProbeUSD
	}
	lo, hi := forcedSpreadLo, forcedSpreadHi
	if floor := forcedProfitMargin * minProfitUSD / probeUSD; floor > lo {
		hi += floor - lo
		lo = floor
	}

	mid := ReferencePrice(a) / ReferencePrice(b)
	spread := lo + s.rng.Float64()*(hi-lo)
	buy := mid
	sell := mid * (1 + spread)
	venues := s.pickVenues(2)
	ts := s.now()

	fwd := s.quote(a, b, venues[0], buy, probeUSD, 0.05+s.rng.Float64()*0.15, ts, false)
	rev := s.quote(a, b, venues[1], sell, probeUSD, 0.05+s.rng.Float64()*0.15, ts, true)
	if s.rng.IntN(2) == 1 {
		// Either direction may hold the cheap side.
		fwd = s.quote(a, b, venues[0], sell, probeUSD, fwd.PriceImpactPercent, ts, false)
		rev = s.quote(a, b, venues[1], buy, probeUSD, rev.PriceImpactPercent, ts, true)
	}
	return domain.DirectionalRates{
		Forward: []domain.DirectionalQuote{fwd},
		Reverse: []domain.DirectionalQuote{rev},
	}
}

// quote builds a DirectionalQuote whose raw amounts agree with price (B per A).
func (s *Source) quote(a, b domain.Token, venue string, price, probeUSD, impact float64, ts time.Time, reverse bool) domain.DirectionalQuote {
	in, out := a, b
	rate := price
	if reverse {
		in, out = b, a
		rate = 1 / price
	}
	inUI := probeUSD / ReferencePrice(in)
	return domain.DirectionalQuote{
		Venue:              venue,
		InputMint:          in.Mint,
		OutputMint:         out.Mint,
		Price:              price,
		InputAmount:        pricing.ToRaw(inUI, in.Decimals),
		OutputAmount:       pricing.ToRaw(inUI*rate, out.Decimals),
		PriceImpactPercent: impact,
		Route:              []string{venue},
		ObservedAt:         ts,
	}
}

// pickVenues returns n distinct venues. Callers hold s.mu.
func (s *Source) pickVenues(n int) []string {
	idx := s.rng.Perm(len(Venues))
	out := make([]string, 0, n)
	for _, i := range idx[:n] {
		out = append(out, Venues[i])
	}
	return out
}
