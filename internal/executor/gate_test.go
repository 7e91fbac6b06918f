package executor

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
	"github.com/alanyoungcy/jupiterarb/internal/jupiter"
	"github.com/alanyoungcy/jupiterarb/internal/platform/solanarpc"
)

var (
	solMint  = "So11111111111111111111111111111111111111112"
	usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	testNow  = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	computeBudgetProgram = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")
	jupiterProgram       = solana.MustPublicKeyFromBase58("JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func keypair(t *testing.T, fill byte) solana.PrivateKey {
	t.Helper()
	return solana.PrivateKey(ed25519.NewKeyFromSeed(bytes.Repeat([]byte{fill}, ed25519.SeedSize)))
}

type fakeSwaps struct {
	mu        sync.Mutex
	requests  []jupiter.QuoteRequest
	quoteErr  error
	swapErr   error
	ammKey    solana.PublicKey
	swapData  []byte
	setupProg solana.PublicKey
}

func (f *fakeSwaps) Quote(_ context.Context, req jupiter.QuoteRequest) (domain.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.quoteErr != nil {
		return domain.Quote{}, f.quoteErr
	}
	return domain.Quote{InputMint: req.InputMint, OutputMint: req.OutputMint, InAmount: req.Amount, OutAmount: 1, Raw: []byte(`{}`)}, nil
}

func (f *fakeSwaps) GetSwapInstructions(_ context.Context, _ domain.Quote, user string) (jupiter.SwapInstructions, error) {
	if f.swapErr != nil {
		return jupiter.SwapInstructions{}, f.swapErr
	}
	return jupiter.SwapInstructions{
		ComputeBudgetInstructions: []jupiter.Instruction{{ProgramID: computeBudgetProgram.String(), Data: base64.StdEncoding.EncodeToString([]byte{2, 0, 0, 0, 0})}},
		SetupInstructions: []jupiter.Instruction{{
			ProgramID: f.setupProg.String(),
			Accounts:  []jupiter.AccountMeta{{Pubkey: user, IsSigner: true, IsWritable: true}},
			Data:      base64.StdEncoding.EncodeToString([]byte{1}),
		}},
		SwapInstruction: jupiter.Instruction{
			ProgramID: jupiterProgram.String(),
			Accounts: []jupiter.AccountMeta{
				{Pubkey: user, IsSigner: true, IsWritable: true},
				{Pubkey: f.ammKey.String(), IsWritable: true},
			},
			Data: base64.StdEncoding.EncodeToString(f.swapData),
		},
	}, nil
}

type fakeChain struct {
	mu         sync.Mutex
	sent       []*solana.Transaction
	sendErr    error
	confirmErr error
}

func (f *fakeChain) GetLatestBlockhash(context.Context) (solanarpc.Blockhash, error) {
	return solanarpc.Blockhash{Blockhash: solana.MustHashFromBase58(solana.SystemProgramID.String()), LastValidBlockHeight: 10}, nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *solana.Transaction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, tx)
	return tx.Signatures[0].String(), nil
}

func (f *fakeChain) ConfirmTransaction(context.Context, string) (solanarpc.SignatureStatus, error) {
	if f.confirmErr != nil {
		return solanarpc.SignatureStatus{}, f.confirmErr
	}
	return solanarpc.SignatureStatus{ConfirmationStatus: "confirmed"}, nil
}

type fakeExecStore struct {
	mu        sync.Mutex
	created   []domain.Execution
	completed map[string]domain.ExecutionStatus
}

func (f *fakeExecStore) Create(_ context.Context, e domain.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, e)
	return nil
}

func (f *fakeExecStore) Complete(_ context.Context, id string, status domain.ExecutionStatus, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completed == nil {
		f.completed = map[string]domain.ExecutionStatus{}
	}
	f.completed[id] = status
	return nil
}

func (f *fakeExecStore) ListRecent(context.Context, int) ([]domain.Execution, error) {
	return nil, nil
}

type recordingListener struct {
	execs []domain.Execution
}

func (r *recordingListener) ExecutionFinished(_ context.Context, e domain.Execution) {
	r.execs = append(r.execs, e)
}

func opportunity(profit float64, conf domain.Confidence, age time.Duration) domain.ArbitrageOpportunity {
	return domain.ArbitrageOpportunity{
		ID:     "opp-1",
		TokenA: domain.Token{Mint: solMint, Symbol: "SOL", Decimals: 9},
		TokenB: domain.Token{Mint: usdcMint, Symbol: "USDC", Decimals: 6},
		BuySide: domain.DirectionalQuote{
			Venue: "Orca", InputMint: solMint, OutputMint: usdcMint, Price: 150, InputAmount: 666_666_666,
		},
		SellSide: domain.DirectionalQuote{
			Venue: "Raydium", InputMint: usdcMint, OutputMint: solMint, Price: 160, InputAmount: 100_000_000,
		},
		ProfitUSD:     profit,
		ProfitPercent: profit,
		Confidence:    conf,
		Volume:        100,
		ObservedAt:    testNow.Add(-age),
	}
}

type harness struct {
	gate     *Gate
	swaps    *fakeSwaps
	chain    *fakeChain
	store    *fakeExecStore
	listener *recordingListener
	sleeps   []time.Duration
	signer   solana.PrivateKey
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		swaps:    &fakeSwaps{ammKey: keypair(t, 9).PublicKey(), swapData: []byte{0xaa, 0xbb}, setupProg: solana.TokenProgramID},
		chain:    &fakeChain{},
		store:    &fakeExecStore{},
		listener: &recordingListener{},
		signer:   keypair(t, 1),
	}
	h.gate = NewGate(cfg, h.swaps, h.chain, h.signer, discardLogger(),
		WithExecutionStore(h.store),
		WithListener(h.listener),
		WithClock(func() time.Time { return testNow }),
		WithSleep(func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		}),
	)
	return h
}

func programOf(tx *solana.Transaction, i int) solana.PublicKey {
	return tx.Message.AccountKeys[tx.Message.Instructions[i].ProgramIDIndex]
}

func TestGate_IsEligible(t *testing.T) {
	h := newHarness(t, Config{})

	tests := []struct {
		name string
		opp  domain.ArbitrageOpportunity
		want bool
	}{
		{"eligible", opportunity(6, domain.ConfidenceMedium, 10*time.Second), true},
		{"exactly at floor", opportunity(5, domain.ConfidenceHigh, 0), true},
		{"below profit floor", opportunity(4.99, domain.ConfidenceHigh, 0), false},
		{"low confidence", opportunity(50, domain.ConfidenceLow, 0), false},
		{"at eligibility window", opportunity(6, domain.ConfidenceMedium, 60*time.Second), true},
		{"stale", opportunity(6, domain.ConfidenceMedium, 61*time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.gate.IsEligible(tt.opp))
		})
	}
}

func TestGate_ExecuteDirect(t *testing.T) {
	h := newHarness(t, Config{})
	opp := opportunity(10, domain.ConfidenceMedium, time.Second)

	sig, err := h.gate.Execute(context.Background(), opp, 9)
	require.NoError(t, err)
	assert.NotEmpty(t, sig)

	require.Len(t, h.swaps.requests, 1)
	req := h.swaps.requests[0]
	assert.Equal(t, solMint, req.InputMint)
	assert.Equal(t, usdcMint, req.OutputMint)
	assert.Equal(t, uint64(666_666_666), req.Amount)
	assert.True(t, req.AsLegacyTransaction)

	require.Len(t, h.chain.sent, 1)
	tx := h.chain.sent[0]
	require.Len(t, tx.Message.Instructions, 4)
	assert.Equal(t, computeBudgetProgram, programOf(tx, 0))
	assert.Equal(t, []byte{2, 0xc0, 0x5c, 0x15, 0x00}, []byte(tx.Message.Instructions[0].Data))
	assert.Equal(t, computeBudgetProgram, programOf(tx, 1))
	assert.Equal(t, solana.TokenProgramID, programOf(tx, 2))
	assert.Equal(t, jupiterProgram, programOf(tx, 3))
	assert.Equal(t, h.signer.PublicKey(), tx.Message.AccountKeys[0])
	require.Len(t, tx.Signatures, 1)
	assert.NoError(t, tx.VerifySignatures())
	assert.Equal(t, tx.Signatures[0].String(), sig)

	require.Len(t, h.store.created, 1)
	assert.Equal(t, domain.ExecutionConfirmed, h.store.completed[h.store.created[0].ID])
	require.Len(t, h.listener.execs, 1)
	assert.Equal(t, domain.ExecutionConfirmed, h.listener.execs[0].Status)
	assert.Equal(t, sig, h.listener.execs[0].Signature)
	assert.Equal(t, 9.0, h.listener.execs[0].MinProfitUSD)
}

func TestGate_ExecuteVault(t *testing.T) {
	vaultProgram := keypair(t, 20).PublicKey()
	routerProgram := keypair(t, 21).PublicKey()
	h := newHarness(t, Config{Vault: &VaultConfig{ProgramID: vaultProgram, RouterProgramID: routerProgram}})
	opp := opportunity(10, domain.ConfidenceMedium, time.Second)

	_, err := h.gate.Execute(context.Background(), opp, 9)
	require.NoError(t, err)

	require.Len(t, h.chain.sent, 1)
	tx := h.chain.sent[0]
	require.Len(t, tx.Message.Instructions, 4)
	assert.Equal(t, vaultProgram, programOf(tx, 3))

	ix := tx.Message.Instructions[3]
	data := []byte(ix.Data)
	require.Len(t, data, 22)
	disc := sha256.Sum256([]byte("global:execute_arbitrage"))
	assert.Equal(t, disc[:8], data[:8])
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(data[8:12]))
	assert.Equal(t, []byte{0xaa, 0xbb}, data[12:14])
	assert.Equal(t, uint64(9_000_000), binary.LittleEndian.Uint64(data[14:22]))

	vaultPDA, _, err := solana.FindProgramAddress([][]byte{[]byte("vault")}, vaultProgram)
	require.NoError(t, err)
	routerPDA, _, err := solana.FindProgramAddress([][]byte{[]byte("router_state")}, routerProgram)
	require.NoError(t, err)
	sol := solana.MustPublicKeyFromBase58(solMint)

	keys := make([]solana.PublicKey, 0, len(ix.Accounts))
	for _, idx := range ix.Accounts {
		keys = append(keys, tx.Message.AccountKeys[idx])
	}
	assert.Equal(t, []solana.PublicKey{
		vaultPDA, sol, h.signer.PublicKey(), sol,
		routerProgram, routerPDA, jupiterProgram, solana.TokenProgramID,
		h.signer.PublicKey(), h.swaps.ammKey,
	}, keys)
}

func TestGate_ExecuteFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
	}{
		{"quote", func(h *harness) { h.swaps.quoteErr = domain.ErrUpstreamUnavailable }},
		{"swap instructions", func(h *harness) { h.swaps.swapErr = domain.ErrMalformedResponse }},
		{"send", func(h *harness) { h.chain.sendErr = errors.New("simulation failed") }},
		{"confirm", func(h *harness) { h.chain.confirmErr = solanarpc.ErrConfirmTimeout }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			tt.setup(h)

			_, err := h.gate.Execute(context.Background(), opportunity(10, domain.ConfidenceHigh, 0), 9)
			assert.ErrorIs(t, err, domain.ErrExecution)

			require.Len(t, h.listener.execs, 1)
			assert.Equal(t, domain.ExecutionFailed, h.listener.execs[0].Status)
			assert.NotEmpty(t, h.listener.execs[0].Error)
			require.Len(t, h.store.created, 1)
			assert.Equal(t, domain.ExecutionFailed, h.store.completed[h.store.created[0].ID])
		})
	}
}

func TestGate_ExecuteRejectsSynthetic(t *testing.T) {
	h := newHarness(t, Config{})
	opp := opportunity(10, domain.ConfidenceHigh, 0)
	opp.Synthetic = true

	_, err := h.gate.Execute(context.Background(), opp, 9)
	assert.ErrorIs(t, err, domain.ErrNotEligible)
	assert.ErrorIs(t, err, domain.ErrExecution)
	assert.Empty(t, h.swaps.requests)
	assert.Empty(t, h.store.created)
}

func TestGate_AutoExecute(t *testing.T) {
	h := newHarness(t, Config{})

	good := opportunity(20, domain.ConfidenceHigh, 0)
	weak := opportunity(20, domain.ConfidenceLow, 0)
	weak.ID = "weak"
	other := opportunity(10, domain.ConfidenceMedium, 0)
	other.ID = "other"
	other.BuySide.Venue = "Meteora"

	sigs := h.gate.AutoExecute(context.Background(), []domain.ArbitrageOpportunity{good, weak, other})
	assert.Len(t, sigs, 2)
	assert.Equal(t, []time.Duration{DefaultBatchDelay, DefaultBatchDelay}, h.sleeps)

	require.Len(t, h.listener.execs, 2)
	assert.InDelta(t, 18.0, h.listener.execs[0].MinProfitUSD, 1e-9)
	assert.InDelta(t, 9.0, h.listener.execs[1].MinProfitUSD, 1e-9)

	// The same opportunity is not executed twice inside the eligibility window.
	sigs = h.gate.AutoExecute(context.Background(), []domain.ArbitrageOpportunity{good})
	assert.Empty(t, sigs)
	assert.Len(t, h.listener.execs, 2)
}

func TestGate_AutoExecuteSwallowsFailures(t *testing.T) {
	h := newHarness(t, Config{})
	h.chain.sendErr = errors.New("blockhash not found")

	first := opportunity(20, domain.ConfidenceHigh, 0)
	second := opportunity(15, domain.ConfidenceHigh, 0)
	second.SellSide.Venue = "Phoenix"

	sigs := h.gate.AutoExecute(context.Background(), []domain.ArbitrageOpportunity{first, second})
	assert.Empty(t, sigs)
	assert.Len(t, h.listener.execs, 2)
	assert.Len(t, h.sleeps, 2)
}

func TestAmountInFallsBackToVolume(t *testing.T) {
	opp := opportunity(10, domain.ConfidenceHigh, 0)
	opp.BuySide.InputMint = usdcMint
	opp.SellSide.InputMint = usdcMint
	assert.Equal(t, uint64(100_000_000_000), amountIn(opp))
}

func TestMinProfitUnits(t *testing.T) {
	assert.Equal(t, uint64(5_000_000), MinProfitUnits(5))
	assert.Equal(t, uint64(4_500_000), MinProfitUnits(4.5))
	assert.Equal(t, uint64(0), MinProfitUnits(-1))
}
