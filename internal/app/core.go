package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/jupiterarb/internal/arbitrage"
	"github.com/alanyoungcy/jupiterarb/internal/crypto"
	"github.com/alanyoungcy/jupiterarb/internal/executor"
	"github.com/alanyoungcy/jupiterarb/internal/jupiter"
	"github.com/alanyoungcy/jupiterarb/internal/platform/solanarpc"
	"github.com/alanyoungcy/jupiterarb/internal/pricing"
	"github.com/alanyoungcy/jupiterarb/internal/scanner"
	"github.com/alanyoungcy/jupiterarb/internal/service"
	"github.com/alanyoungcy/jupiterarb/internal/synthetic"
	"github.com/alanyoungcy/jupiterarb/internal/token"
)

// executionQueueSize bounds scan results waiting for the execution gate.
const executionQueueSize = 4

// core holds the components every mode shares.
type core struct {
	deps     *Dependencies
	scanner  *scanner.Orchestrator
	recorder *service.Recorder
	// runner is nil unless auto-execution is enabled.
	runner *executor.Runner
}

func (a *App) buildCore(ctx context.Context, deps *Dependencies, withExecution bool) (*core, error) {
	cfg := a.cfg

	jupOpts := []jupiter.Option{
		jupiter.WithTimeout(cfg.Jupiter.RequestTimeout.Duration),
		jupiter.WithBackoff(cfg.Jupiter.RetryBackoff.Duration),
		jupiter.WithLogger(a.logger),
	}
	if deps.RateLimiter != nil && cfg.Jupiter.RateLimitPerSecond > 0 {
		jupOpts = append(jupOpts, jupiter.WithRateLimiter(deps.RateLimiter, cfg.Jupiter.RateLimitPerSecond))
	}
	jup := jupiter.NewClient(cfg.Jupiter.Endpoints, jupOpts...)

	normOpts := []pricing.Option{pricing.WithSlippageBps(cfg.Jupiter.SlippageBps)}
	if deps.PriceCache != nil {
		normOpts = append(normOpts, pricing.WithPriceCache(deps.PriceCache, cfg.Scanner.PriceCacheTTL.Duration))
	}
	normalizer := pricing.NewNormalizer(jup, a.logger, normOpts...)

	recorder := service.NewRecorder(a.logger, a.recorderOptions(deps)...)

	orch, err := scanner.New(scanner.Config{
		Scanner:               cfg.ScannerDomainConfig(),
		PairDelay:             cfg.Scanner.PairDelay.Duration,
		FreshnessWindow:       cfg.Scanner.FreshnessWindow.Duration,
		FailureThreshold:      cfg.Scanner.FailureThreshold,
		ForcedOpportunityProb: cfg.Scanner.ForcedOpportunityProb,
		Demo:                  cfg.Scanner.Demo,
	}, scanner.Deps{
		Tokens:    token.NewRegistry(),
		Live:      normalizer,
		Synthetic: synthetic.NewSource(),
		Detector:  arbitrage.NewDetector(a.logger),
		Events:    scanner.MultiSink{scanner.NewBusSink(deps.Bus, a.logger), recorder},
		Locks:     deps.LockManager,
		Handlers:  []scanner.ResultHandler{recorder.HandleScan},
		Logger:    a.logger,
	})
	if err != nil {
		return nil, err
	}

	c := &core{deps: deps, scanner: orch, recorder: recorder}

	if withExecution && cfg.NeedsExecutor() {
		gate, err := a.buildGate(deps, jup, recorder)
		if err != nil {
			return nil, err
		}
		a.logger.InfoContext(ctx, "execution gate ready",
			slog.String("wallet", gate.Wallet().String()),
			slog.Bool("auto_execute", cfg.Executor.AutoExecute),
			slog.Bool("vault", cfg.Executor.VaultProgramID != ""),
		)
		if cfg.Executor.AutoExecute {
			c.runner = executor.NewRunner(gate, executionQueueSize, a.logger)
			orch.AddHandler(c.runner.HandleScan)
		}
	}
	return c, nil
}

func (a *App) recorderOptions(deps *Dependencies) []service.RecorderOption {
	opts := []service.RecorderOption{service.WithBus(deps.Bus)}
	if deps.OpportunityStore != nil {
		opts = append(opts, service.WithOpportunityStore(deps.OpportunityStore))
	}
	if deps.AuditStore != nil {
		opts = append(opts, service.WithAudit(deps.AuditStore))
	}
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		opts = append(opts, service.WithNotifier(deps.Notifier))
	}
	if deps.Archiver != nil && a.cfg.Archive.SnapshotScans {
		opts = append(opts, service.WithSnapshots(deps.Archiver))
	}
	return opts
}

func (a *App) buildGate(deps *Dependencies, jup *jupiter.Client, recorder *service.Recorder) (*executor.Gate, error) {
	cfg := a.cfg

	kp, err := crypto.LoadKeypair(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		KeypairPath:      cfg.Wallet.KeypairPath,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}

	vault, err := vaultConfig(cfg.Executor.VaultProgramID, cfg.Executor.RouterProgramID,
		cfg.Executor.VaultTokenAccount, cfg.Executor.ExecutorTokenAccount)
	if err != nil {
		return nil, err
	}

	rpc := solanarpc.NewRPCClient(cfg.Solana.RPCURL,
		solanarpc.WithCommitment(cfg.Solana.Commitment),
		solanarpc.WithMaxRetries(cfg.Solana.MaxRetries),
	)

	opts := []executor.GateOption{executor.WithListener(recorder)}
	if deps.ExecutionStore != nil {
		opts = append(opts, executor.WithExecutionStore(deps.ExecutionStore))
	}

	return executor.NewGate(executor.Config{
		MinProfitUSD:     cfg.Executor.MinProfitUSD,
		MaxAge:           cfg.Executor.MaxAge.Duration,
		BatchDelay:       cfg.Executor.BatchDelay.Duration,
		ProfitGuardRatio: cfg.Executor.ProfitGuardRatio,
		ComputeUnitLimit: cfg.Executor.ComputeUnitLimit,
		ComputeUnitPrice: cfg.Executor.ComputeUnitPrice,
		SlippageBps:      cfg.Jupiter.SlippageBps,
		ConfirmTimeout:   cfg.Solana.ConfirmTimeout.Duration,
		Vault:            vault,
	}, jup, rpc, kp, a.logger, opts...), nil
}

// vaultConfig parses the vault program settings; an empty program ID means
// swaps are submitted directly. Token accounts may be left empty.
func vaultConfig(programID, routerID, vaultToken, executorToken string) (*executor.VaultConfig, error) {
	if programID == "" {
		return nil, nil
	}
	var v executor.VaultConfig
	for _, f := range []struct {
		name     string
		value    string
		dst      *solana.PublicKey
		optional bool
	}{
		{"vault_program_id", programID, &v.ProgramID, false},
		{"router_program_id", routerID, &v.RouterProgramID, false},
		{"vault_token_account", vaultToken, &v.VaultTokenAccount, true},
		{"executor_token_account", executorToken, &v.ExecutorTokenAccount, true},
	} {
		if f.value == "" && f.optional {
			continue
		}
		pk, err := solana.PublicKeyFromBase58(f.value)
		if err != nil {
			return nil, fmt.Errorf("executor: %s: %w", f.name, err)
		}
		*f.dst = pk
	}
	return &v, nil
}
