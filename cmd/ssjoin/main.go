package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/metrics"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// app is the state shared by all subcommands.
type app struct {
	configPath string
	cfg        *config.Config
	metrics    *metrics.Metrics
	checker    *health.Checker
	shutdown   func(context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ssjoin: %v\n", err)
		os.Exit(apperrors.ExitCode(err))
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "ssjoin",
		Short:         "Find all pairs of sets whose similarity reaches a threshold",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(
		newJoinCommand(a),
		newPrepareCommand(a),
		newCacheCommand(a),
		newVersionCommand(),
	)
	return root
}

// load reads the config, applies flag overrides, validates it and sets up
// logging and the metrics server.
func (a *app) load(cmd *cobra.Command, overrides func(cfg *config.Config)) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitConfig, "loading config: %v", err)
	}
	if overrides != nil {
		overrides(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	a.metrics = metrics.New()
	a.checker = health.NewChecker()
	if cfg.Metrics.Enabled {
		a.shutdown = metrics.StartServer(cfg.Metrics.Port, a.metrics, a.checker)
	}
	slog.Info("ssjoin starting",
		"command", cmd.Name(),
		"version", version,
		"similarity", cfg.Join.Similarity,
		"threshold", cfg.Join.Threshold,
	)
	return nil
}

func (a *app) close() error {
	if a.shutdown == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.shutdown(ctx)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ssjoin %s\n", version)
		},
	}
}
