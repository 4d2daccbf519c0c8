package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tuilink/realtime-monitor/internal/artifact"
	"github.com/tuilink/realtime-monitor/internal/clock/system"
	"github.com/tuilink/realtime-monitor/internal/database"
	"github.com/tuilink/realtime-monitor/internal/monitor"
	"github.com/tuilink/realtime-monitor/internal/ops"
	"github.com/tuilink/realtime-monitor/internal/supervisor"
	"github.com/tuilink/realtime-monitor/pkg/config"
)

func newSuperviseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "supervise",
		Short: "Run the supervisor",
		Long: `Reconciles worker processes against eligible accounts: starts a worker
per eligible account, restarts dead or stale ones, and stops workers whose
accounts are no longer eligible.`,
		RunE: runSupervise,
	}
}

func runSupervise(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = monitor.WithCorrelationID(ctx)
	logger = logger.With(zap.String("correlation_id", monitor.CorrelationID(ctx)))

	store, err := database.NewStore(ctx, database.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer store.Close()

	artifacts, err := buildArtifactStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	sup := supervisor.New(
		store,
		supervisor.NewExecRunner(cfgFile, logger),
		artifacts,
		database.NewConnectivityGuard(store, logger),
		system.New(),
		supervisor.Config{
			ReconcileInterval:    time.Duration(cfg.Supervisor.ReconcileSeconds) * time.Second,
			ConnectivityInterval: time.Duration(cfg.Supervisor.ConnectivitySeconds) * time.Second,
			HeartbeatStale:       time.Duration(cfg.Supervisor.HeartbeatStaleSeconds) * time.Second,
			StopGrace:            time.Duration(cfg.Supervisor.StopGraceSeconds) * time.Second,
			KillGrace:            time.Duration(cfg.Supervisor.KillGraceSeconds) * time.Second,
			RestartPause:         time.Duration(cfg.Supervisor.RestartPauseSeconds) * time.Second,
		},
		logger,
	)

	opsServer := ops.NewServer(cfg.Supervisor.OpsPort, store, logger)
	go func() {
		if err := opsServer.Run(ctx); err != nil {
			logger.Error("ops server failed", zap.Error(err))
		}
	}()

	logger.Info("supervisor starting",
		zap.Int("reconcile_seconds", cfg.Supervisor.ReconcileSeconds),
		zap.Int("ops_port", cfg.Supervisor.OpsPort))
	return sup.Run(ctx)
}

// buildArtifactStore wires profile archiving to GCS. Without a bucket the
// supervisor still runs; stopped workers simply leave their profiles local.
func buildArtifactStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (monitor.ArtifactStore, error) {
	if cfg.Artifacts.Bucket == "" {
		logger.Warn("no artifact bucket configured, profile archives disabled")
		return noopArtifacts{}, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("init storage client: %w", err)
	}
	uploader, err := artifact.NewGCSUploader(client, cfg.Artifacts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("init uploader: %w", err)
	}
	return artifact.NewStore(uploader, cfg.Browser.ProfileRoot, cfg.Artifacts.Prefix, logger), nil
}

type noopArtifacts struct{}

func (noopArtifacts) PublishProfile(context.Context, monitor.Account) error { return nil }
