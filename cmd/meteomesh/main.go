package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"meteomesh/internal/app"
	"meteomesh/internal/config"
	"meteomesh/internal/logging"
)

// Default version is "dev" if not set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "meteomesh",
		Short:         "Weather station mesh: local nodes and the central server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			// A missing .env is fine; the environment may already be set.
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading configuration")

	root.AddCommand(&cobra.Command{
		Use:   "node",
		Short: "Run a local node serving its weather stations",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cfg, err := config.LoadNodeFromEnv()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			return run("meteomesh-node", cfg.Base, logging.NodeAttrs(cfg), func(ctx context.Context, logger *slog.Logger) error {
				return app.RunNode(ctx, cfg, logger)
			})
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "central",
		Short: "Run the central server aggregating local nodes",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cfg, err := config.LoadCentralFromEnv()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			return run("meteomesh-central", cfg.Base, logging.CentralAttrs(cfg), func(ctx context.Context, logger *slog.Logger) error {
				return app.RunCentral(ctx, cfg, logger)
			})
		},
	})
	return root
}

func run(appName string, base config.Base, attrs []any, fn func(context.Context, *slog.Logger) error) error {
	logger := logging.New(base, logging.Options{Version: version, App: appName, Attrs: attrs})
	slog.SetDefault(logger)

	slog.Info("starting",
		"app", appName,
		"version", version,
		"env", base.AppEnv,
		"log_level", base.LogLevel.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fn(ctx, logger); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run failed", "err", err)
		return err
	}

	slog.Info("shutting down")
	return nil
}
