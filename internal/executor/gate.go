// Package executor decides whether detected opportunities are still worth
// acting on and submits the swap transactions for those that are.
package executor

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/google/uuid"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
	"github.com/alanyoungcy/jupiterarb/internal/jupiter"
	"github.com/alanyoungcy/jupiterarb/internal/platform/solanarpc"
	"github.com/alanyoungcy/jupiterarb/internal/pricing"
)

// Default gate policy.
const (
	DefaultMinProfitUSD     = 5.0
	DefaultMaxAge           = 60 * time.Second
	DefaultBatchDelay       = 2 * time.Second
	DefaultProfitGuardRatio = 0.9
	DefaultComputeUnitLimit = 1_400_000
	DefaultComputeUnitPrice = 50_000
	DefaultSlippageBps      = 50

	// vaultProfitDecimals scales USD into the vault's profit units.
	vaultProfitDecimals = 6

	executeArbitrage = "execute_arbitrage"
)

// SwapBuilder quotes a swap and returns the instructions that perform it.
type SwapBuilder interface {
	Quote(ctx context.Context, req jupiter.QuoteRequest) (domain.Quote, error)
	GetSwapInstructions(ctx context.Context, quote domain.Quote, userPublicKey string) (jupiter.SwapInstructions, error)
}

// ChainClient submits signed transactions and waits for confirmation.
type ChainClient interface {
	GetLatestBlockhash(ctx context.Context) (solanarpc.Blockhash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (string, error)
	ConfirmTransaction(ctx context.Context, signature string) (solanarpc.SignatureStatus, error)
}

// ExecutionListener is told about every finished execution attempt.
type ExecutionListener interface {
	ExecutionFinished(ctx context.Context, exec domain.Execution)
}

// VaultConfig wraps swaps in the vault program's execute_arbitrage
// instruction, which reverts unless the swap returns at least the minimum
// profit.
type VaultConfig struct {
	ProgramID            solana.PublicKey
	RouterProgramID      solana.PublicKey
	VaultTokenAccount    solana.PublicKey
	ExecutorTokenAccount solana.PublicKey
}

// Config is the gate policy.
type Config struct {
	MinProfitUSD     float64
	MaxAge           time.Duration
	BatchDelay       time.Duration
	ProfitGuardRatio float64
	ComputeUnitLimit uint32
	ComputeUnitPrice uint64
	SlippageBps      int
	ConfirmTimeout   time.Duration

	// Vault is nil when swaps are submitted directly.
	Vault *VaultConfig
}

func (c Config) withDefaults() Config {
	if c.MinProfitUSD <= 0 {
		c.MinProfitUSD = DefaultMinProfitUSD
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	}
	if c.ProfitGuardRatio <= 0 {
		c.ProfitGuardRatio = DefaultProfitGuardRatio
	}
	if c.ComputeUnitLimit == 0 {
		c.ComputeUnitLimit = DefaultComputeUnitLimit
	}
	if c.ComputeUnitPrice == 0 {
		c.ComputeUnitPrice = DefaultComputeUnitPrice
	}
	if c.SlippageBps <= 0 {
		c.SlippageBps = DefaultSlippageBps
	}
	return c
}

// Gate validates and executes opportunities with a single wallet.
type Gate struct {
	cfg        Config
	swaps      SwapBuilder
	chain      ChainClient
	signer     solana.PrivateKey
	executions domain.ExecutionStore
	listeners  []ExecutionListener
	dedup      *Dedup
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *slog.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithExecutionStore records every attempt.
func WithExecutionStore(store domain.ExecutionStore) GateOption {
	return func(g *Gate) {
		g.executions = store
	}
}

// WithListener registers an ExecutionListener.
func WithListener(l ExecutionListener) GateOption {
	return func(g *Gate) {
		g.listeners = append(g.listeners, l)
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		g.now = now
	}
}

// WithSleep overrides the batch delay wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) GateOption {
	return func(g *Gate) {
		g.sleep = sleep
	}
}

// NewGate creates a Gate that signs with signer.
func NewGate(cfg Config, swaps SwapBuilder, chain ChainClient, signer solana.PrivateKey, logger *slog.Logger, opts ...GateOption) *Gate {
	g := &Gate{
		cfg:    cfg.withDefaults(),
		swaps:  swaps,
		chain:  chain,
		signer: signer,
		now:    time.Now,
		sleep:  sleepCtx,
		logger: logger.With(slog.String("component", "executor")),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.dedup = NewDedup(g.cfg.MaxAge, g.now)
	return g
}

// Wallet returns the signer's address.
func (g *Gate) Wallet() solana.PublicKey {
	return g.signer.PublicKey()
}

// IsEligible rejects opportunities below the execution profit floor, with
// LOW confidence, or older than the eligibility window.
func (g *Gate) IsEligible(opp domain.ArbitrageOpportunity) bool {
	if opp.ProfitUSD < g.cfg.MinProfitUSD {
		return false
	}
	if opp.Confidence == domain.ConfidenceLow {
		return false
	}
	return opp.Age(g.now()) <= g.cfg.MaxAge
}

// Execute builds, signs and submits the swap for opp and waits for
// confirmation. The returned signature identifies the confirmed transaction.
// Every failure wraps domain.ErrExecution.
func (g *Gate) Execute(ctx context.Context, opp domain.ArbitrageOpportunity, minProfitUSD float64) (string, error) {
	log := g.logger.With(
		slog.String("opportunity_id", opp.ID),
		slog.String("pair", opp.Pair()),
		slog.Float64("min_profit_usd", minProfitUSD),
	)

	exec := domain.Execution{
		ID:            uuid.New().String(),
		OpportunityID: opp.ID,
		Pair:          opp.Pair(),
		Status:        domain.ExecutionSubmitted,
		MinProfitUSD:  minProfitUSD,
		ProfitUSD:     opp.ProfitUSD,
		StartedAt:     g.now().UTC(),
	}
	if opp.Synthetic {
		return "", g.finish(ctx, log, exec, fmt.Errorf("executor: synthetic opportunity: %w", domain.ErrNotEligible))
	}
	if g.executions != nil {
		if err := g.executions.Create(ctx, exec); err != nil {
			log.WarnContext(ctx, "execution record failed", slog.String("error", err.Error()))
		}
	}

	tx, err := g.buildTransaction(ctx, opp, minProfitUSD)
	if err != nil {
		return "", g.finish(ctx, log, exec, err)
	}
	exec.Signature = tx.Signatures[0].String()

	sig, err := g.chain.SendTransaction(ctx, tx)
	if err != nil {
		return "", g.finish(ctx, log, exec, fmt.Errorf("executor: send: %w", err))
	}
	exec.Signature = sig
	log.InfoContext(ctx, "transaction submitted", slog.String("signature", sig))

	confirmCtx := ctx
	if g.cfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		confirmCtx, cancel = context.WithTimeout(ctx, g.cfg.ConfirmTimeout)
		defer cancel()
	}
	if _, err := g.chain.ConfirmTransaction(confirmCtx, sig); err != nil {
		return "", g.finish(ctx, log, exec, fmt.Errorf("executor: confirm: %w", err))
	}

	exec.Status = domain.ExecutionConfirmed
	_ = g.finish(ctx, log, exec, nil)
	return sig, nil
}

// finish completes exec, notifies listeners and returns err wrapped as an
// execution error.
func (g *Gate) finish(ctx context.Context, log *slog.Logger, exec domain.Execution, err error) error {
	done := g.now().UTC()
	exec.CompletedAt = &done
	if err != nil {
		if !errors.Is(err, domain.ErrExecution) {
			err = fmt.Errorf("%w: %w", domain.ErrExecution, err)
		}
		exec.Status = domain.ExecutionFailed
		exec.Error = err.Error()
		log.WarnContext(ctx, "execution failed", slog.String("error", err.Error()))
	} else {
		log.InfoContext(ctx, "execution confirmed", slog.String("signature", exec.Signature))
	}

	if g.executions != nil {
		if serr := g.executions.Complete(ctx, exec.ID, exec.Status, exec.Signature, exec.Error); serr != nil && !errors.Is(serr, domain.ErrNotFound) {
			log.WarnContext(ctx, "execution update failed", slog.String("error", serr.Error()))
		}
	}
	for _, l := range g.listeners {
		l.ExecutionFinished(ctx, exec)
	}
	return err
}

// buildTransaction quotes tokenA->tokenB for the opportunity volume, fetches
// the swap instructions and wraps them with a compute-budget preamble.
func (g *Gate) buildTransaction(ctx context.Context, opp domain.ArbitrageOpportunity, minProfitUSD float64) (*solana.Transaction, error) {
	quote, err := g.swaps.Quote(ctx, jupiter.QuoteRequest{
		InputMint:           opp.TokenA.Mint,
		OutputMint:          opp.TokenB.Mint,
		Amount:              amountIn(opp),
		SlippageBps:         g.cfg.SlippageBps,
		AsLegacyTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("executor: quote: %w", err)
	}

	swap, err := g.swaps.GetSwapInstructions(ctx, quote, g.signer.PublicKey().String())
	if err != nil {
		return nil, fmt.Errorf("executor: swap instructions: %w", err)
	}

	ixs := []solana.Instruction{
		computebudget.NewSetComputeUnitLimitInstruction(g.cfg.ComputeUnitLimit).Build(),
		computebudget.NewSetComputeUnitPriceInstruction(g.cfg.ComputeUnitPrice).Build(),
	}
	if g.cfg.Vault != nil {
		wrapped, err := g.vaultInstructions(swap, opp, minProfitUSD)
		if err != nil {
			return nil, err
		}
		ixs = append(ixs, wrapped...)
	} else {
		for _, ix := range swap.All() {
			converted, err := convertInstruction(ix)
			if err != nil {
				return nil, err
			}
			ixs = append(ixs, converted)
		}
	}

	bh, err := g.chain.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("executor: blockhash: %w", err)
	}
	wallet := g.signer.PublicKey()
	tx, err := solana.NewTransaction(ixs, bh.Blockhash, solana.TransactionPayer(wallet))
	if err != nil {
		return nil, fmt.Errorf("executor: build transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key == wallet {
			return &g.signer
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("executor: sign transaction: %w", err)
	}
	return tx, nil
}

// executeArbitrageArgs is the borsh argument layout of execute_arbitrage.
type executeArbitrageArgs struct {
	SwapData  []byte
	MinProfit uint64
}

// vaultInstructions keeps Jupiter's setup and cleanup instructions and
// replaces the swap with execute_arbitrage(swap_data, min_profit).
func (g *Gate) vaultInstructions(swap jupiter.SwapInstructions, opp domain.ArbitrageOpportunity, minProfitUSD float64) ([]solana.Instruction, error) {
	v := g.cfg.Vault
	vaultPDA, _, err := solana.FindProgramAddress([][]byte{[]byte("vault")}, v.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("executor: vault pda: %w", err)
	}
	routerPDA, _, err := solana.FindProgramAddress([][]byte{[]byte("router_state")}, v.RouterProgramID)
	if err != nil {
		return nil, fmt.Errorf("executor: router state pda: %w", err)
	}

	inner, err := convertInstruction(swap.SwapInstruction)
	if err != nil {
		return nil, err
	}

	vaultToken, executorToken := v.VaultTokenAccount, v.ExecutorTokenAccount
	if vaultToken.IsZero() || executorToken.IsZero() {
		mint, err := solana.PublicKeyFromBase58(opp.TokenA.Mint)
		if err != nil {
			return nil, fmt.Errorf("executor: token account: %w", err)
		}
		if vaultToken.IsZero() {
			vaultToken = mint
		}
		if executorToken.IsZero() {
			executorToken = mint
		}
	}

	wallet := g.signer.PublicKey()
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(vaultPDA, true, false),
		solana.NewAccountMeta(vaultToken, true, false),
		solana.NewAccountMeta(wallet, true, true),
		solana.NewAccountMeta(executorToken, true, false),
		solana.NewAccountMeta(v.RouterProgramID, false, false),
		solana.NewAccountMeta(routerPDA, false, false),
		solana.NewAccountMeta(inner.ProgID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	for _, a := range inner.AccountValues {
		accounts = append(accounts, solana.NewAccountMeta(a.PublicKey, a.IsWritable, a.PublicKey == wallet))
	}

	args, err := bin.MarshalBorsh(&executeArbitrageArgs{SwapData: inner.DataBytes, MinProfit: MinProfitUnits(minProfitUSD)})
	if err != nil {
		return nil, fmt.Errorf("executor: encode %s: %w", executeArbitrage, err)
	}
	disc := anchorDiscriminator(executeArbitrage)
	data := append(disc[:], args...)

	out := make([]solana.Instruction, 0, len(swap.SetupInstructions)+2)
	for _, ix := range swap.SetupInstructions {
		converted, err := convertInstruction(ix)
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	out = append(out, solana.NewInstruction(v.ProgramID, accounts, data))
	if swap.CleanupInstruction != nil {
		converted, err := convertInstruction(*swap.CleanupInstruction)
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return out, nil
}

// anchorDiscriminator is the 8-byte Anchor selector for a global instruction.
func anchorDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// AutoExecute walks opps in order and executes each eligible one with a
// minimum profit of ProfitGuardRatio x its detected profit, pausing
// BatchDelay after each submission. Individual failures are logged and
// skipped. It returns the signatures of confirmed executions.
func (g *Gate) AutoExecute(ctx context.Context, opps []domain.ArbitrageOpportunity) []string {
	var confirmed []string
	for _, opp := range opps {
		if ctx.Err() != nil {
			break
		}
		if opp.Synthetic || !g.IsEligible(opp) {
			continue
		}
		if g.dedup.IsDuplicate(dedupKey(opp)) {
			g.logger.DebugContext(ctx, "opportunity already executed", slog.String("pair", opp.Pair()))
			continue
		}

		sig, err := g.Execute(ctx, opp, opp.ProfitUSD*g.cfg.ProfitGuardRatio)
		if err == nil {
			confirmed = append(confirmed, sig)
		}
		if err := g.sleep(ctx, g.cfg.BatchDelay); err != nil {
			break
		}
	}
	g.dedup.Cleanup()
	return confirmed
}

// MinProfitUnits converts a USD profit floor into vault profit units.
func MinProfitUnits(minProfitUSD float64) uint64 {
	return pricing.ToRaw(minProfitUSD, vaultProfitDecimals)
}

// amountIn is the raw tokenA amount the opportunity was probed with.
func amountIn(opp domain.ArbitrageOpportunity) uint64 {
	for _, side := range []domain.DirectionalQuote{opp.BuySide, opp.SellSide} {
		if side.InputMint == opp.TokenA.Mint && side.InputAmount > 0 {
			return side.InputAmount
		}
	}
	return pricing.ToRaw(opp.Volume, opp.TokenA.Decimals)
}

func dedupKey(opp domain.ArbitrageOpportunity) string {
	return fmt.Sprintf("%s|%s|%s|%s", opp.TokenA.Mint, opp.TokenB.Mint, opp.BuySide.Venue, opp.SellSide.Venue)
}

func convertInstruction(ix jupiter.Instruction) (*solana.GenericInstruction, error) {
	program, err := solana.PublicKeyFromBase58(ix.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("executor: instruction program: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(ix.Data)
	if err != nil {
		return nil, fmt.Errorf("executor: instruction data: %w", err)
	}
	accounts := make(solana.AccountMetaSlice, 0, len(ix.Accounts))
	for _, a := range ix.Accounts {
		pk, err := solana.PublicKeyFromBase58(a.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("executor: instruction account: %w", err)
		}
		accounts = append(accounts, solana.NewAccountMeta(pk, a.IsWritable, a.IsSigner))
	}
	return solana.NewInstruction(program, accounts, data), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
