package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tuilink/realtime-monitor/internal/alert"
	"github.com/tuilink/realtime-monitor/internal/clock/system"
	"github.com/tuilink/realtime-monitor/internal/database"
	"github.com/tuilink/realtime-monitor/internal/datasync"
	"github.com/tuilink/realtime-monitor/internal/dispatch"
	"github.com/tuilink/realtime-monitor/internal/lkp"
	"github.com/tuilink/realtime-monitor/internal/monitor"
	"github.com/tuilink/realtime-monitor/internal/notify"
	"github.com/tuilink/realtime-monitor/internal/session"
	"github.com/tuilink/realtime-monitor/internal/throttle"
	"github.com/tuilink/realtime-monitor/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	var accountID int64

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the monitoring loops for one account",
		Long: `Owns a headless browser session for a single account: watches its
activity indicators, syncs new connections and conversations, and reports
liveness. Normally spawned by the supervisor rather than run by hand.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd, accountID)
		},
	}
	cmd.Flags().Int64Var(&accountID, "account-id", 0, "account to monitor")
	_ = cmd.MarkFlagRequired("account-id")
	return cmd
}

func runWorker(cmd *cobra.Command, accountID int64) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.Int64("account_id", accountID))

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

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = redisClient.Close() }()

	clk := system.New()
	throttler := throttle.New(throttle.NewRedisStore(redisClient), clk, throttle.Config{
		GlobalLimit:  cfg.Throttle.GlobalLimit,
		GlobalWindow: time.Duration(cfg.Throttle.GlobalWindowSeconds) * time.Second,
		HighInterval: time.Duration(cfg.Throttle.HighIntervalSeconds) * time.Second,
		LowInterval:  time.Duration(cfg.Throttle.LowIntervalSeconds) * time.Second,
	}, logger)

	alerter := alert.New(cfg.Alert.WebhookURL, logger)
	notifier := notify.New(notify.Config{
		Timeout:     time.Duration(cfg.Notify.TimeoutSeconds) * time.Second,
		MaxAttempts: cfg.Notify.MaxAttempts,
		RetryDelay:  time.Duration(cfg.Notify.RetryDelaySeconds) * time.Second,
	}, alerter, logger)

	api := lkp.New(cfg.AccountAPI.BaseURL, time.Duration(cfg.AccountAPI.TimeoutSeconds)*time.Second, logger)

	sessions := session.NewManager(session.Config{
		Headless:    cfg.Browser.Headless,
		ProfileRoot: cfg.Browser.ProfileRoot,
		NavTimeout:  cfg.NavTimeout(),
		UserAgent:   cfg.Browser.UserAgent,
	}, logger)

	newDispatcher := func(account monitor.Account) worker.EventDispatcher {
		engine := datasync.NewEngine(account, api, store, notifier,
			datasync.Config{NavTimeout: cfg.NavTimeout()}, logger)
		return dispatch.New(account, throttler, engine, logger)
	}

	w := worker.New(
		accountID,
		store,
		database.NewConnectivityGuard(store, logger),
		sessionFactory{sessions},
		newDispatcher,
		clk,
		worker.Config{NavTimeout: cfg.NavTimeout()},
		logger,
	)

	logger.Info("worker starting")
	return w.Run(ctx)
}

// sessionFactory adapts the session manager to the factory the worker wants.
type sessionFactory struct {
	manager *session.Manager
}

func (f sessionFactory) Acquire(ctx context.Context, account monitor.Account) (monitor.Session, error) {
	return f.manager.Acquire(ctx, account)
}
