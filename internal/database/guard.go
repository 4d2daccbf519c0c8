package database

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tuilink/realtime-monitor/internal/retry"
)

// Pinger is the connectivity slice of the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectivityGuard verifies database reachability before and during work.
type ConnectivityGuard struct {
	pinger Pinger
	policy retry.Policy
	logger *zap.Logger
}

// NewConnectivityGuard builds a guard that pings once and retries three more
// times two seconds apart before giving up.
func NewConnectivityGuard(pinger Pinger, logger *zap.Logger) *ConnectivityGuard {
	return &ConnectivityGuard{
		pinger: pinger,
		policy: retry.Fixed(4, 2*time.Second),
		logger: logger,
	}
}

// Ensure returns nil once a ping succeeds, or the last ping error after the
// retry budget is spent.
func (g *ConnectivityGuard) Ensure(ctx context.Context) error {
	return g.policy.Do(ctx, func(ctx context.Context) error {
		if err := g.pinger.Ping(ctx); err != nil {
			g.logger.Warn("database ping failed", zap.Error(err))
			return err
		}
		return nil
	})
}

// Run pings on the given interval until ctx finishes. Failures are logged and
// the loop keeps going; a flapping database should not take the caller down.
func (g *ConnectivityGuard) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.Ensure(ctx); err != nil {
				g.logger.Error("database unreachable", zap.Error(err))
			}
		}
	}
}
