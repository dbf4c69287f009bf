// Package cmd defines and implements the CLI commands for the leadcrawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/forum-lead-crawler/internal/config"
	"github.com/JakeFAU/forum-lead-crawler/internal/logging"
	"github.com/JakeFAU/forum-lead-crawler/internal/server"
)

// envKeyType is the key for storing the command environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// env is what every subcommand resolves from its context.
type env struct {
	cfgPath string
	cfg     config.Config
	logger  *zap.Logger
}

// newLogger is the logger factory. It's a variable so tests can silence output.
var newLogger = func(cfg config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		Encoding:    cfg.Logging.Encoding,
	})
}

// buildApp and openLedger are variables so tests can inject a sender.
var (
	buildApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*server.App, error) {
		return server.Build(ctx, cfg, logger)
	}
	openLedger = server.OpenLedger
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "leadcrawler",
		Short: "Finds wanted-work threads on community forums and delivers them once.",
		Long: `leadcrawler discovers new threads on the configured forums, classifies
each one as a work request or a service offer and forwards accepted leads
to the downstream consumer. A persistent ledger keeps delivery at most once
per thread across runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs before every subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{
				cfgPath: cfgPath,
				cfg:     cfg,
				logger:  logger,
			}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, err := resolveEnv(cmd.Context()); err == nil {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newRunCmd(), newServeCmd(), newLedgerCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	if ctx == nil {
		return nil, errors.New("command environment not initialized")
	}
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("command environment not initialized")
	}
	return e, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
