// Package throttle implements admission control for expensive sync work.
//
// Two gates apply in order, both keyed per account: an hourly sliding-window
// budget, then a cadence gate keyed by priority. Store failures admit the
// request so a degraded counter store never halts monitoring.
package throttle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tuilink/realtime-monitor/internal/monitor"
)

// CounterStore is the shared counter backend the throttler needs. The
// production implementation is Redis; tests inject a fake.
type CounterStore interface {
	// SlidingWindowCount records one hit on key at now, drops entries older
	// than the window, and returns the number of hits in the window BEFORE
	// the new one was added.
	SlidingWindowCount(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error)
	// GetTime returns the time stored at key; ok is false when absent.
	GetTime(ctx context.Context, key string) (t time.Time, ok bool, err error)
	// SetTime stores t at key with the given TTL.
	SetTime(ctx context.Context, key string, t time.Time, ttl time.Duration) error
}

// Config holds the throttle limits.
type Config struct {
	GlobalLimit  int
	GlobalWindow time.Duration
	HighInterval time.Duration
	LowInterval  time.Duration
}

// Throttler gates sync work per account and priority.
type Throttler struct {
	store  CounterStore
	clock  monitor.Clock
	cfg    Config
	logger *zap.Logger
}

// New builds a Throttler over the given counter store.
func New(store CounterStore, clock monitor.Clock, cfg Config, logger *zap.Logger) *Throttler {
	return &Throttler{store: store, clock: clock, cfg: cfg, logger: logger}
}

func globalKey(accountID int64) string {
	return fmt.Sprintf("throttle:global:%d", accountID)
}

func cadenceKey(accountID int64, priority monitor.Priority) string {
	return fmt.Sprintf("throttle:cadence:%d:%s", accountID, priority)
}

// Admit reports whether a sync for the account at the given priority may run
// now. An admitted request consumes the account's window budget and stamps
// the account's cadence key.
func (t *Throttler) Admit(ctx context.Context, accountID int64, priority monitor.Priority) bool {
	now := t.clock.Now()

	count, err := t.store.SlidingWindowCount(ctx, globalKey(accountID), now, t.cfg.GlobalWindow)
	if err != nil {
		t.logger.Warn("throttle store unavailable, admitting",
			zap.Int64("account_id", accountID), zap.Error(err))
		return true
	}
	if count >= int64(t.cfg.GlobalLimit) {
		t.logger.Info("account sync budget exhausted",
			zap.Int64("account_id", accountID), zap.Int64("window_count", count))
		return false
	}

	interval := t.cfg.LowInterval
	if priority == monitor.PriorityHigh {
		interval = t.cfg.HighInterval
	}

	key := cadenceKey(accountID, priority)
	last, ok, err := t.store.GetTime(ctx, key)
	if err != nil {
		t.logger.Warn("throttle store unavailable, admitting",
			zap.Int64("account_id", accountID), zap.Error(err))
		return true
	}
	if ok && now.Sub(last) < interval {
		return false
	}

	if err := t.store.SetTime(ctx, key, now, interval); err != nil {
		t.logger.Warn("cadence stamp failed",
			zap.Int64("account_id", accountID), zap.Error(err))
	}
	return true
}
