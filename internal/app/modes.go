package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/jupiterarb/internal/pipeline"
	"github.com/alanyoungcy/jupiterarb/internal/scanner"
	"github.com/alanyoungcy/jupiterarb/internal/server"
	"github.com/alanyoungcy/jupiterarb/internal/server/handler"
	"github.com/alanyoungcy/jupiterarb/internal/server/ws"
)

const shutdownTimeout = 10 * time.Second

// SingleScan runs one scan cycle and logs its outcome.
func (a *App) SingleScan(ctx context.Context, c *core) error {
	result := c.scanner.ScanOnce(ctx)
	a.logger.InfoContext(ctx, "single scan complete",
		slog.Int64("scan", result.ScanNumber),
		slog.Int("pairs", result.TotalPairsScanned),
		slog.Int("opportunities", len(result.Opportunities)),
		slog.Int("errors", len(result.Errors)),
		slog.Bool("synthetic", result.Synthetic),
		slog.Int64("duration_ms", result.DurationMs),
	)
	for _, opp := range result.Opportunities {
		a.logger.InfoContext(ctx, "opportunity",
			slog.String("id", opp.ID),
			slog.String("pair", opp.Pair()),
			slog.String("buy", opp.BuySide.Venue),
			slog.String("sell", opp.SellSide.Venue),
			slog.Float64("profit_usd", opp.ProfitUSD),
			slog.Float64("profit_pct", opp.ProfitPercent),
			slog.String("confidence", opp.Confidence.String()),
		)
	}
	return nil
}

// ScanMode runs the scan loop headless. The archive job and dashboard run
// alongside when configured.
func (a *App) ScanMode(ctx context.Context, c *core) error {
	a.logger.InfoContext(ctx, "starting scan mode",
		slog.Int("pairs", len(a.cfg.Scanner.Pairs)),
		slog.Duration("interval", a.cfg.Scanner.ScanInterval.Duration),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.scanner.Run(ctx)
	})
	a.startArchiveJob(ctx, g, c)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, c, false)
	}
	return g.Wait()
}

// ServerMode serves the dashboard. The scan loop starts immediately and can be
// stopped and restarted over the API.
func (a *App) ServerMode(ctx context.Context, c *core) error {
	a.logger.InfoContext(ctx, "starting server mode", slog.Int("port", a.cfg.Server.Port))

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, c, true)
	a.startArchiveJob(ctx, g, c)
	return g.Wait()
}

// ExecuteMode scans and hands accepted opportunities to the execution gate.
func (a *App) ExecuteMode(ctx context.Context, c *core) error {
	a.logger.InfoContext(ctx, "starting execute mode",
		slog.Bool("auto_execute", c.runner != nil),
	)

	g, ctx := errgroup.WithContext(ctx)
	a.startRunner(ctx, g, c)
	g.Go(func() error {
		return c.scanner.Run(ctx)
	})
	a.startArchiveJob(ctx, g, c)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, c, false)
	}
	return g.Wait()
}

// FullMode runs everything: dashboard, scan loop, execution and archival.
func (a *App) FullMode(ctx context.Context, c *core) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startRunner(ctx, g, c)
	a.startHTTPServer(ctx, g, c, true)
	a.startArchiveJob(ctx, g, c)
	return g.Wait()
}

func (a *App) startRunner(ctx context.Context, g *errgroup.Group, c *core) {
	if c.runner == nil {
		a.logger.WarnContext(ctx, "auto-execution disabled, opportunities are recorded only")
		return
	}
	g.Go(func() error {
		return c.runner.Run(ctx)
	})
}

// startArchiveJob schedules the retention job when both cold storage and a
// schedule are configured.
func (a *App) startArchiveJob(ctx context.Context, g *errgroup.Group, c *core) {
	if c.deps.Archiver == nil || a.cfg.Archive.Cron == "" {
		return
	}
	var audit pipeline.AuditPruner
	if c.deps.AuditStore != nil {
		audit = c.deps.AuditStore
	}
	job := pipeline.NewArchiver(c.deps.Archiver, audit, a.cfg.Archive.RetentionDays, a.logger)
	g.Go(func() error {
		return job.RunCron(ctx, a.cfg.Archive.Cron)
	})
}

// startHTTPServer adds the dashboard server, websocket hub and bus relay to
// g. When ownsScanner is set the scan loop is started here; otherwise the
// caller runs it. Either way the loop is drained on shutdown.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, c *core, ownsScanner bool) {
	hub := ws.NewHub(c.scanner, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		return hub.Relay(ctx, c.deps.Bus, scanner.EventsChannel)
	})

	srv := server.NewServer(server.Config{
		Port:           a.cfg.Server.Port,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		APIKey:         a.cfg.Server.APIKey,
		RateLimitPerIP: a.cfg.Server.RateLimitPerIP,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(c.deps.HealthChecks, a.logger),
		Scanner: handler.NewScannerHandler(ctx, c.scanner, a.logger),
		History: handler.NewHistoryHandler(c.deps.OpportunityStore, c.deps.ExecutionStore, a.logger),
	}, hub, c.deps.RateLimiter, a.logger)

	if ownsScanner {
		c.scanner.Start(ctx)
	}

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// The API may have restarted the loop on its own goroutine, so it is
		// drained here even when the caller runs it.
		drainScanner(shutCtx, c.scanner, a.logger)
		return srv.Shutdown(shutCtx)
	})
}

// loopStopper is the part of the scan loop shutdown needs.
type loopStopper interface {
	Stop()
	Wait(ctx context.Context) error
}

// drainScanner stops the scan loop and waits for its in-flight cycle,
// however the loop was started.
func drainScanner(ctx context.Context, s loopStopper, logger *slog.Logger) {
	s.Stop()
	if err := s.Wait(ctx); err != nil {
		logger.Warn("scanner did not stop in time", slog.String("error", err.Error()))
	}
}
