package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"studyhall/warden/pkg/admission"
	"studyhall/warden/pkg/behavior"
	"studyhall/warden/pkg/config"
	"studyhall/warden/pkg/guard"
	"studyhall/warden/pkg/guest"
	"studyhall/warden/pkg/quota"
	"studyhall/warden/pkg/quota/storage"
	"studyhall/warden/pkg/reaper"
	"studyhall/warden/pkg/server"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Warden server",
	Long: `Start the Warden server with the specified configuration.

The server exposes health probes, Prometheus metrics, and read-only usage
and behavior reporting endpoints, and runs the background reaper.

Examples:
  # Start with default config
  warden run

  # Start with custom config
  warden run --config /etc/warden/warden.yaml

  # Override listen address
  warden run --listen 0.0.0.0:8090

  # Validate config without starting the server
  warden run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	setupLogging(cfg)

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	// Durable quota store
	store, err := storage.NewSQLiteStore(cfg.Quota.StorePath)
	if err != nil {
		return fmt.Errorf("failed to open quota store: %w", err)
	}
	defer store.Close()
	fmt.Printf("✓ Quota store opened (%s)\n", cfg.Quota.StorePath)

	accountant := quota.NewAccountant(store, cfg.Quota)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Per-identity limit overrides, hot-reloaded on file change
	if cfg.Quota.OverridesPath != "" {
		overrides, err := config.LoadOverrides(cfg.Quota.OverridesPath)
		if err != nil {
			return fmt.Errorf("failed to load limit overrides: %w", err)
		}
		accountant.SetOverrides(ctx, overrides)

		watcher, err := config.NewOverridesWatcher(cfg.Quota.OverridesPath, func(o config.Overrides) {
			accountant.SetOverrides(context.Background(), o)
		})
		if err != nil {
			return fmt.Errorf("failed to watch limit overrides: %w", err)
		}
		watcher.Start(ctx)
		fmt.Printf("✓ Limit overrides loaded (%d identities)\n", len(overrides))
	}

	// Upstream call guards
	callGuard, err := guard.New(cfg.Upstream)
	if err != nil {
		return fmt.Errorf("failed to create upstream guard: %w", err)
	}

	// Guest throttle and behavior analyzer
	throttle, err := guest.NewThrottle(cfg.Guest)
	if err != nil {
		return fmt.Errorf("failed to create guest throttle: %w", err)
	}
	analyzer := behavior.NewAnalyzer(cfg.Behavior)

	service := admission.NewService(accountant, callGuard, throttle, analyzer, cfg.Estimates)
	fmt.Println("✓ Admission service initialized")

	// Background reaper
	sweeper, err := reaper.New(cfg.Retention, accountant, throttle, analyzer)
	if err != nil {
		return fmt.Errorf("failed to create reaper: %w", err)
	}
	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reaper: %w", err)
	}
	defer sweeper.Stop()

	// HTTP surface
	srv := server.New(*cfg, service)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	fmt.Printf("✓ Server listening on %s\n", cfg.Server.ListenAddress)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("shutdown signal received", "signal", sig)
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch cfg.Telemetry.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Telemetry.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
