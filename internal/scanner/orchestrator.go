// Package scanner drives the periodic scan loop: it walks the configured
// pairs one at a time, chooses live or synthetic rates, runs detection and
// publishes each cycle's results.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/alanyoungcy/jupiterarb/internal/arbitrage"
	"github.com/alanyoungcy/jupiterarb/internal/domain"
)

const cycleLockKey = "scanner:cycle"

// TokenResolver maps a mint to token metadata.
type TokenResolver interface {
	Resolve(mint string) (domain.Token, error)
}

// RateSource returns live directional rates. Empty rates mean the live path failed.
type RateSource interface {
	GetDirectionalRates(ctx context.Context, a, b domain.Token, probeUSD float64) domain.DirectionalRates
}

// SyntheticSource returns generated rates without network I/O.
type SyntheticSource interface {
	GetSyntheticRates(a, b domain.Token, probeUSD float64) domain.DirectionalRates
	ForceOpportunity(a, b domain.Token, probeUSD, minProfitUSD float64) domain.DirectionalRates
}

// OpportunityDetector turns directional rates into accepted opportunities.
type OpportunityDetector interface {
	Detect(a, b domain.Token, forward, reverse []domain.DirectionalQuote, cfg domain.ScannerConfig) []domain.ArbitrageOpportunity
}

// slippageSetter is implemented by live sources that accept runtime slippage changes.
type slippageSetter interface {
	SetSlippageBps(bps int)
}

// Config holds the loop policy that is not part of the runtime-tunable
// domain.ScannerConfig.
type Config struct {
	Scanner               domain.ScannerConfig
	PairDelay             time.Duration
	FreshnessWindow       time.Duration
	FailureThreshold      int
	ForcedOpportunityProb float64
	// Demo starts in synthetic mode.
	Demo bool
}

// Deps are the orchestrator's collaborators. Live may be nil, in which case
// the orchestrator runs on synthetic data only.
type Deps struct {
	Tokens    TokenResolver
	Live      RateSource
	Synthetic SyntheticSource
	Detector  OpportunityDetector
	Events    EventSink
	Locks     domain.LockManager
	Handlers  []ResultHandler
	Logger    *slog.Logger
	// Rand returns values in [0, 1); nil uses math/rand/v2.
	Rand func() float64
	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator owns the scan run state. All exported methods are safe for
// concurrent use; scan cycles never overlap.
type Orchestrator struct {
	tokens    TokenResolver
	live      RateSource
	synthetic SyntheticSource
	detector  OpportunityDetector
	events    EventSink
	locks     domain.LockManager
	handlers  []ResultHandler
	rand      func() float64
	now       func() time.Time
	logger    *slog.Logger

	pairDelay  time.Duration
	freshness  time.Duration
	threshold  int
	forcedProb float64
	cycleMu    sync.Mutex // serialises scan cycles
	wake       chan struct{}

	mu                  sync.RWMutex
	cfg                 domain.ScannerConfig
	running             bool
	active              bool
	done                chan struct{}
	scanCount           int64
	consecutiveFailures int
	usingSynthetic      bool
	lastScanTime        time.Time
	lastOpportunities   []domain.ArbitrageOpportunity
}

// New validates cfg and creates an Orchestrator in the STOPPED state.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := ValidateConfig(cfg.Scanner); err != nil {
		return nil, fmt.Errorf("scanner: %w: %w", domain.ErrFatalStartup, err)
	}
	if deps.Tokens == nil || deps.Synthetic == nil || deps.Detector == nil {
		return nil, fmt.Errorf("scanner: tokens, synthetic source and detector are required: %w", domain.ErrFatalStartup)
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = 2 * time.Minute
	}
	o := &Orchestrator{
		tokens:         deps.Tokens,
		live:           deps.Live,
		synthetic:      deps.Synthetic,
		detector:       deps.Detector,
		events:         deps.Events,
		locks:          deps.Locks,
		handlers:       deps.Handlers,
		rand:           deps.Rand,
		now:            deps.Now,
		logger:         deps.Logger,
		pairDelay:      cfg.PairDelay,
		freshness:      cfg.FreshnessWindow,
		threshold:      cfg.FailureThreshold,
		forcedProb:     cfg.ForcedOpportunityProb,
		wake:           make(chan struct{}, 1),
		cfg:            cfg.Scanner.Clone(),
		usingSynthetic: cfg.Demo || deps.Live == nil,
	}
	if o.events == nil {
		o.events = NopSink{}
	}
	if o.rand == nil {
		o.rand = rand.Float64
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With(slog.String("component", "scanner"))
	o.applySlippage(o.cfg)
	return o, nil
}

// AddHandler registers a handler for completed cycles. It must be called
// before the loop starts.
func (o *Orchestrator) AddHandler(h ResultHandler) {
	o.handlers = append(o.handlers, h)
}

// Start launches the loop in the background and reports whether it was
// started. It is a no-op while already running. Starting while a stopped loop
// is still finishing its last cycle cancels the stop and keeps that loop.
func (o *Orchestrator) Start(ctx context.Context) bool {
	launch, resumed := o.begin()
	if launch {
		go o.loop(ctx)
	}
	return launch || resumed
}

// Run runs the loop on the calling goroutine until Stop is called or ctx is
// cancelled. It returns immediately if the loop is already running.
func (o *Orchestrator) Run(ctx context.Context) error {
	if launch, _ := o.begin(); !launch {
		return nil
	}
	o.loop(ctx)
	return nil
}

// Stop flips the running flag. The in-flight cycle completes; no new cycle
// starts. Use Wait to block until the loop has exited.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	wasRunning := o.running
	o.running = false
	o.mu.Unlock()

	if wasRunning {
		select {
		case o.wake <- struct{}{}:
		default:
		}
		o.logger.Info("scanner stopping")
	}
}

// Wait blocks until the loop exits or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.RLock()
	done := o.done
	o.mu.RUnlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// begin moves STOPPED -> RUNNING. launch is set when a new loop must be
// started. resumed is set when the previous loop was still finishing its
// last cycle: the pending stop is cancelled and that loop keeps its interval.
func (o *Orchestrator) begin() (launch, resumed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return false, false
	}
	o.running = true
	select {
	case <-o.wake:
	default:
	}
	if o.active {
		return false, true
	}
	o.active = true
	o.done = make(chan struct{})
	return true, false
}

// proceed reports whether another cycle should run, retiring the loop
// atomically when it should not.
func (o *Orchestrator) proceed(ctx context.Context) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running && ctx.Err() == nil {
		return true
	}
	o.running = false
	o.active = false
	close(o.done)
	return false
}

func (o *Orchestrator) loop(ctx context.Context) {
	cfg := o.Config()
	o.logger.Info("scanner started",
		slog.Int("pairs", len(cfg.Pairs)),
		slog.Duration("scan_interval", cfg.ScanInterval),
		slog.Float64("min_profit_usd", cfg.MinProfitUSD),
		slog.Float64("min_profit_percent", cfg.MinProfitPercent),
		slog.Float64("test_volume", cfg.TestVolume),
		slog.Bool("synthetic", o.Stats().UsingSynthetic),
	)
	o.emitStatus(ctx)

	// Cycles run on a context that outlives cancellation so an in-flight
	// cycle always completes.
	cycleCtx := context.WithoutCancel(ctx)

	for o.proceed(ctx) {
		o.safeScan(cycleCtx)

		select {
		case <-ctx.Done():
		case <-o.wake:
		case <-time.After(o.Config().ScanInterval):
		}
	}

	o.logger.Info("scanner stopped", slog.Int64("scan_count", o.Stats().ScanCount))
	o.emitStatus(context.WithoutCancel(ctx))
}

// safeScan runs one cycle, containing any panic so the loop survives.
func (o *Orchestrator) safeScan(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("scan cycle panicked", slog.Any("panic", r))
			o.emitLog(ctx, "error", fmt.Sprintf("scan cycle failed: %v", r))
		}
	}()
	o.ScanOnce(ctx)
}

// ScanOnce runs a single cycle over every configured pair and returns its
// result. Concurrent calls are serialised.
func (o *Orchestrator) ScanOnce(ctx context.Context) domain.ScanResult {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	cfg := o.Config()
	started := o.now()

	if o.locks != nil {
		unlock, err := o.locks.Acquire(ctx, cycleLockKey, cfg.ScanInterval+time.Minute)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			o.logger.InfoContext(ctx, "scan cycle held by another instance, skipping")
			return domain.ScanResult{Timestamp: started, Errors: []string{"cycle skipped: lock held by another instance"}}
		case err != nil:
			o.logger.WarnContext(ctx, "cycle lock unavailable, scanning unlocked", slog.String("error", err.Error()))
		default:
			defer unlock()
		}
	}

	o.mu.RLock()
	scanNumber := o.scanCount + 1
	o.mu.RUnlock()

	o.events.Emit(ctx, domain.ScanEvent{
		Type:      domain.EventScanStart,
		Payload:   map[string]any{"scanNumber": scanNumber, "pairs": len(cfg.Pairs)},
		Timestamp: started,
	})

	var (
		found     []domain.ArbitrageOpportunity
		errs      []string
		scanned   int
		synthetic bool
	)
	for i, pair := range cfg.Pairs {
		if i > 0 && o.pairDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(o.pairDelay):
			}
		}
		scanned++
		opps, usedSynthetic, err := o.scanPair(ctx, pair, cfg)
		if err != nil {
			msg := fmt.Sprintf("%s/%s: %v", pair.TokenA, pair.TokenB, err)
			errs = append(errs, msg)
			o.logger.WarnContext(ctx, "pair scan failed", slog.String("error", msg))
			continue
		}
		synthetic = synthetic || usedSynthetic
		found = append(found, opps...)
	}

	view := arbitrage.ViewFilter(arbitrage.SortOpportunities(found), arbitrage.ViewOptions{
		MinConfidence:  domain.ConfidenceLow,
		MaxPriceImpact: cfg.MaxPriceImpact,
		PriorityDEXes:  cfg.PriorityDEXes,
	})

	finished := o.now()
	result := domain.ScanResult{
		ScanNumber:        scanNumber,
		Timestamp:         finished,
		Opportunities:     view,
		TotalPairsScanned: scanned,
		DurationMs:        finished.Sub(started).Milliseconds(),
		Errors:            errs,
		Synthetic:         synthetic,
	}

	o.mu.Lock()
	if len(view) > 0 {
		o.lastOpportunities = view
	}
	o.scanCount = scanNumber
	o.lastScanTime = finished
	o.mu.Unlock()

	o.logger.InfoContext(ctx, "scan completed",
		slog.Int64("scan", scanNumber),
		slog.Int("pairs", scanned),
		slog.Int("opportunities", len(view)),
		slog.Int("errors", len(errs)),
		slog.Int64("duration_ms", result.DurationMs),
		slog.Bool("synthetic", synthetic),
	)
	for i, opp := range view {
		o.logger.DebugContext(ctx, "opportunity",
			slog.Int("rank", i+1),
			slog.String("pair", opp.Pair()),
			slog.String("confidence", opp.Confidence.String()),
			slog.Float64("profit_usd", opp.ProfitUSD),
			slog.Float64("profit_percent", opp.ProfitPercent),
			slog.String("buy", opp.BuySide.Venue),
			slog.String("sell", opp.SellSide.Venue),
		)
	}

	if len(view) > 0 {
		o.events.Emit(ctx, domain.ScanEvent{Type: domain.EventOpportunities, Payload: view, Timestamp: finished})
	}
	o.events.Emit(ctx, domain.ScanEvent{Type: domain.EventScanComplete, Payload: result, Timestamp: finished})
	o.emitStatus(ctx)

	for _, h := range o.handlers {
		h(ctx, result)
	}
	return result
}

// scanPair resolves the pair, fetches rates and runs detection.
func (o *Orchestrator) scanPair(ctx context.Context, pair domain.PairConfig, cfg domain.ScannerConfig) ([]domain.ArbitrageOpportunity, bool, error) {
	a, err := o.tokens.Resolve(pair.TokenA)
	if err != nil {
		return nil, false, err
	}
	b, err := o.tokens.Resolve(pair.TokenB)
	if err != nil {
		return nil, false, err
	}

	rates, synthetic := o.rates(ctx, a, b, cfg)
	opps := o.detector.Detect(a, b, rates.Forward, rates.Reverse, cfg)
	if synthetic {
		for i := range opps {
			opps[i].Synthetic = true
		}
	}
	return opps, synthetic, nil
}

// rates picks the data source for one pair and maintains the failure counter.
func (o *Orchestrator) rates(ctx context.Context, a, b domain.Token, cfg domain.ScannerConfig) (domain.DirectionalRates, bool) {
	if o.degraded(ctx) {
		rates := o.synthetic.GetSyntheticRates(a, b, cfg.TestVolume)
		if o.rand() < o.forcedProb {
			rates = o.synthetic.ForceOpportunity(a, b, cfg.TestVolume, cfg.MinProfitUSD)
		}
		return rates, true
	}

	rates := o.live.GetDirectionalRates(ctx, a, b, cfg.TestVolume)
	if rates.Empty() {
		o.mu.Lock()
		o.consecutiveFailures++
		n := o.consecutiveFailures
		o.mu.Unlock()

		msg := fmt.Sprintf("live quotes unavailable for %s (failure %d/%d), using synthetic rates for this pair",
			domain.PairSymbol(a, b), n, o.threshold)
		o.logger.WarnContext(ctx, msg)
		o.emitLog(ctx, "warn", msg)
		return o.synthetic.GetSyntheticRates(a, b, cfg.TestVolume), true
	}

	o.mu.Lock()
	o.consecutiveFailures = 0
	o.mu.Unlock()
	return rates, false
}

// degraded reports whether synthetic mode is active, entering it permanently
// once the failure threshold has been reached.
func (o *Orchestrator) degraded(ctx context.Context) bool {
	o.mu.Lock()
	if o.usingSynthetic {
		o.mu.Unlock()
		return true
	}
	if o.consecutiveFailures < o.threshold {
		o.mu.Unlock()
		return false
	}
	o.usingSynthetic = true
	n := o.consecutiveFailures
	o.mu.Unlock()

	msg := fmt.Sprintf("switching to synthetic mode after %d consecutive live failures", n)
	o.logger.WarnContext(ctx, msg)
	o.emitLog(ctx, "warn", msg)
	o.emitStatus(ctx)
	return true
}

func (o *Orchestrator) emitLog(ctx context.Context, level, msg string) {
	o.events.Emit(ctx, domain.ScanEvent{
		Type:      domain.EventLog,
		Payload:   domain.LogPayload{Level: level, Message: msg},
		Timestamp: o.now(),
	})
}

func (o *Orchestrator) emitStatus(ctx context.Context) {
	o.events.Emit(ctx, domain.ScanEvent{Type: domain.EventStatus, Payload: o.Stats(), Timestamp: o.now()})
}

// Stats returns a snapshot of the run state.
func (o *Orchestrator) Stats() domain.ScannerStats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return domain.ScannerStats{
		ScanCount:           o.scanCount,
		IsRunning:           o.running,
		UsingSynthetic:      o.usingSynthetic,
		ConsecutiveFailures: o.consecutiveFailures,
		LastScanTime:        o.lastScanTime,
		TotalOpportunities:  len(o.lastOpportunities),
		Config:              o.cfg.Clone(),
	}
}

// Config returns a copy of the effective scanner configuration.
func (o *Orchestrator) Config() domain.ScannerConfig {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg.Clone()
}

// LastOpportunities returns the most recent non-empty cycle's opportunities
// that are still within the freshness window.
func (o *Orchestrator) LastOpportunities() []domain.ArbitrageOpportunity {
	o.mu.RLock()
	last := o.lastOpportunities
	o.mu.RUnlock()

	now := o.now()
	out := make([]domain.ArbitrageOpportunity, 0, len(last))
	for _, opp := range last {
		if arbitrage.IsFresh(opp, o.freshness, now) {
			out = append(out, opp)
		}
	}
	return out
}

// UpdateConfig merges patch into the effective configuration. The new
// configuration applies from the next cycle.
func (o *Orchestrator) UpdateConfig(ctx context.Context, patch domain.ScannerConfigPatch) (domain.ScannerConfig, error) {
	o.mu.Lock()
	next := patch.Apply(o.cfg)
	if err := ValidateConfig(next); err != nil {
		o.mu.Unlock()
		return domain.ScannerConfig{}, fmt.Errorf("scanner: update config: %w: %w", domain.ErrConfiguration, err)
	}
	o.cfg = next
	o.mu.Unlock()

	o.applySlippage(next)
	o.logger.InfoContext(ctx, "scanner configuration updated",
		slog.Int("pairs", len(next.Pairs)),
		slog.Float64("min_profit_usd", next.MinProfitUSD),
		slog.Duration("scan_interval", next.ScanInterval),
	)
	o.emitLog(ctx, "info", "scanner configuration updated")
	o.emitStatus(ctx)
	return next.Clone(), nil
}

func (o *Orchestrator) applySlippage(cfg domain.ScannerConfig) {
	if s, ok := o.live.(slippageSetter); ok && cfg.SlippageBps() > 0 {
		s.SetSlippageBps(cfg.SlippageBps())
	}
}

// ValidateConfig checks a scanner configuration for values the loop cannot run with.
func ValidateConfig(c domain.ScannerConfig) error {
	var errs []error
	if len(c.Pairs) == 0 {
		errs = append(errs, errors.New("at least one pair is required"))
	}
	for i, p := range c.Pairs {
		if p.TokenA == "" || p.TokenB == "" || p.TokenA == p.TokenB {
			errs = append(errs, fmt.Errorf("pairs[%d] must name two distinct mints", i))
		}
	}
	if c.TestVolume <= 0 {
		errs = append(errs, errors.New("testVolume must be > 0"))
	}
	if c.ScanInterval <= 0 {
		errs = append(errs, errors.New("scanInterval must be > 0"))
	}
	if c.MinProfitUSD < 0 || c.MinProfitPercent < 0 {
		errs = append(errs, errors.New("profit thresholds must be >= 0"))
	}
	if c.MaxPriceImpact <= 0 {
		errs = append(errs, errors.New("maxPriceImpact must be > 0"))
	}
	if c.MaxSlippage < 0 || c.MaxSlippage > 100 {
		errs = append(errs, errors.New("maxSlippage must be 0-100"))
	}
	return errors.Join(errs...)
}
