// Command jupiterarb scans Jupiter swap quotes for cross-venue price
// differences. It loads configuration, validates it, sets up signal handling
// and starts the application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/jupiterarb/internal/app"
	"github.com/alanyoungcy/jupiterarb/internal/config"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	demo := flag.Bool("demo", false, "start on synthetic quotes")
	flag.BoolVar(demo, "d", false, "shorthand for -demo")
	once := flag.Bool("once", false, "run a single scan cycle and exit")
	flag.Parse()

	logger := newLogger("info")
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *demo {
		cfg.Scanner.Demo = true
	}

	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("jupiter arbitrage scanner starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	var opts []app.Option
	if *once {
		opts = append(opts, app.WithSingleScan())
	}
	application := app.New(cfg, logger, opts...)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := application.Run(ctx)

	scans, last := application.Summary()
	logger.Info("scanner summary",
		slog.Int64("scan_count", scans),
		slog.Int("last_opportunities", len(last)),
	)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", runErr.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", runErr)
		application.Close()
		os.Exit(1)
	}

	logger.Info("jupiter arbitrage scanner stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
