// Package cmd defines and implements the CLI commands for the monitord
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tuilink/realtime-monitor/internal/logging"
	"github.com/tuilink/realtime-monitor/pkg/config"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitord",
		Short: "Realtime account activity monitor",
		Long: `monitord watches platform accounts for new activity in real time.
The supervise command keeps one worker process alive per eligible account;
each worker drives a headless browser session, detects activity indicators,
and syncs fresh records downstream.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (environment variables apply either way)")

	cmd.AddCommand(newSuperviseCmd())
	cmd.AddCommand(newWorkerCmd())
	return cmd
}

// loadConfig reads configuration and builds the logger both subcommands
// share.
func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
