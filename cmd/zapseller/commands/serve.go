package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jholhewres/zapseller/pkg/zapseller/channels/whatsapp"
	"github.com/jholhewres/zapseller/pkg/zapseller/gateway"
	"github.com/jholhewres/zapseller/pkg/zapseller/seller"
	"github.com/spf13/cobra"
)

// newServeCmd creates the `zapseller serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the sales daemon on WhatsApp",
		Long: `Start ZapSeller as a daemon: connects the WhatsApp session (QR pairing
on first run), processes customer messages, and exposes the admin API.

Examples:
  zapseller serve
  zapseller serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	// ── Configure logger ──
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)

	// ── Resolve secrets: keyring → env → config ──
	seller.ResolveAPIKey(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── WhatsApp channel ──
	if err := os.MkdirAll(cfg.WhatsApp.SessionDir, 0o700); err != nil {
		return fmt.Errorf("creating session dir: %w", err)
	}
	wa := whatsapp.New(cfg.WhatsApp, logger)
	if err := wa.Connect(ctx); err != nil {
		return fmt.Errorf("connecting WhatsApp: %w", err)
	}

	// ── Seller engine ──
	engine := seller.New(cfg, wa, logger)
	go engine.Start(ctx)

	// ── Background routines ──
	routines := seller.NewRoutines(engine, logger)
	if err := routines.Start(); err != nil {
		return fmt.Errorf("starting routines: %w", err)
	}

	// ── Admin gateway ──
	var gw *gateway.Gateway
	if cfg.Gateway.Enabled {
		gw = gateway.New(engine, cfg.Gateway, logger)
		if err := gw.Start(ctx); err != nil {
			logger.Error("failed to start gateway", "error", err)
		}
	}

	logger.Info("ZapSeller running. Press Ctrl+C to stop.",
		"model", cfg.API.Model,
		"gateway", cfg.Gateway.Listen)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	// Graceful shutdown with timeout.
	done := make(chan struct{})
	go func() {
		routines.Stop()
		if gw != nil {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			_ = gw.Stop(shutdownCtx)
			cancelShutdown()
		}
		cancel()
		_ = wa.Disconnect()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}

// resolveConfig loads config from the --config flag or standard locations,
// falling back to defaults when no file exists.
func resolveConfig(cmd *cobra.Command) (*seller.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := seller.LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	if found := seller.FindConfigFile(); found != "" {
		cfg, err := seller.LoadConfigFromFile(found)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", found, err)
		}
		slog.Info("config loaded", "path", found)
		return cfg, nil
	}

	slog.Info("no config file found, using defaults")
	return seller.DefaultConfig(), nil
}
