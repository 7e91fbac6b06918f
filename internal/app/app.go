// Package app wires the arbitrage scanner together and runs it in the
// configured mode: scan, server, execute or full.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/jupiterarb/internal/config"
	"github.com/alanyoungcy/jupiterarb/internal/domain"
	"github.com/alanyoungcy/jupiterarb/internal/scanner"
)

// App is the root application object. It owns the configuration, logger, and
// cleanup functions called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	once    bool
	closers []func()

	scanner *scanner.Orchestrator
}

// Option configures an App.
type Option func(*App)

// WithSingleScan runs exactly one scan cycle and returns.
func WithSingleScan() Option {
	return func(a *App) { a.once = true }
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *App {
	a := &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run wires dependencies, selects the operating mode and blocks until ctx is
// cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.Bool("demo", a.cfg.Scanner.Demo),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	mode := strings.ToLower(a.cfg.Mode)
	c, err := a.buildCore(ctx, deps, mode == "execute" || mode == "full")
	if err != nil {
		return fmt.Errorf("app: build scanner: %w", err)
	}
	a.scanner = c.scanner

	if a.once {
		return a.SingleScan(ctx, c)
	}

	switch mode {
	case "scan":
		return a.ScanMode(ctx, c)
	case "server":
		return a.ServerMode(ctx, c)
	case "execute":
		return a.ExecuteMode(ctx, c)
	case "full":
		return a.FullMode(ctx, c)
	default:
		return fmt.Errorf("app: unsupported mode %q: %w", a.cfg.Mode, domain.ErrConfiguration)
	}
}

// Summary reports the scan count and the fresh opportunities of the last
// cycles. It is zero before Run has built the scanner.
func (a *App) Summary() (int64, []domain.ArbitrageOpportunity) {
	if a.scanner == nil {
		return 0, nil
	}
	return a.scanner.Stats().ScanCount, a.scanner.LastOpportunities()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
