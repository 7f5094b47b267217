// Command auctiond runs the live auction backend in server, finalizer or
// full mode, as selected by the configuration.
//
//	auctiond -config config.toml
//	AUCTION_MODE=finalizer auctiond -config config.toml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/auctionhouse/internal/app"
	"github.com/alanyoungcy/auctionhouse/internal/config"
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file (empty for defaults and environment only)")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(*configPath, level, logger); err != nil {
		logger.Error("auctiond exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("auctiond stopped")
}

func run(configPath string, level *slog.LevelVar, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}
	level.Set(logLevels[strings.ToLower(cfg.LogLevel)])

	if err := cfg.Validate(); err != nil {
		return err
	}
	logger.Info("configuration loaded",
		slog.String("config", configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg, logger)
	defer a.Close()

	err = a.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("shutdown signal received, stopped cleanly")
		return nil
	}
	return err
}
