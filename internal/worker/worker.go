// Package worker runs the monitoring loops for a single account inside its
// own OS process.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tuilink/realtime-monitor/internal/monitor"
)

const feedURL = "https://www.linkedin.com/feed/"

// SessionFactory acquires a browser session for an account.
type SessionFactory interface {
	Acquire(ctx context.Context, account monitor.Account) (monitor.Session, error)
}

// Guard verifies the database is reachable before the worker commits to work.
type Guard interface {
	Ensure(ctx context.Context) error
}

// EventDispatcher consumes the worker's detection events.
type EventDispatcher interface {
	Dispatch(ctx context.Context, session monitor.Session, event monitor.Event) error
}

// Config tunes the worker loops. Zero values take the production defaults.
type Config struct {
	DetectorInterval    time.Duration
	FallbackInterval    time.Duration
	HeartbeatInterval   time.Duration
	EligibilityInterval time.Duration
	LoginSettleDelay    time.Duration
	NavTimeout          time.Duration
}

func (c Config) withDefaults() Config {
	if c.DetectorInterval <= 0 {
		c.DetectorInterval = time.Second
	}
	if c.FallbackInterval <= 0 {
		c.FallbackInterval = 5 * time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.EligibilityInterval <= 0 {
		c.EligibilityInterval = 10 * time.Second
	}
	if c.LoginSettleDelay <= 0 {
		c.LoginSettleDelay = 5 * time.Second
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 60 * time.Second
	}
	return c
}

// Worker monitors one account: a fast indicator detector, a slow fallback
// poll, a liveness heartbeat, and an eligibility watch, all sharing one
// browser session and a common running flag.
type Worker struct {
	accountID     int64
	store         monitor.Store
	guard         Guard
	sessions      SessionFactory
	newDispatcher func(account monitor.Account) EventDispatcher
	clock         monitor.Clock
	cfg           Config
	logger        *zap.Logger

	running atomic.Bool
	stop    context.CancelFunc
}

// New builds a Worker for the account.
func New(
	accountID int64,
	store monitor.Store,
	guard Guard,
	sessions SessionFactory,
	newDispatcher func(account monitor.Account) EventDispatcher,
	clock monitor.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		accountID:     accountID,
		store:         store,
		guard:         guard,
		sessions:      sessions,
		newDispatcher: newDispatcher,
		clock:         clock,
		cfg:           cfg.withDefaults(),
		logger:        logger,
	}
}

// Run executes the worker until the account stops being eligible, the session
// dies, or ctx finishes. Startup failures are returned; in-flight failures
// are handled internally.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.guard.Ensure(ctx); err != nil {
		return fmt.Errorf("database not reachable: %w", err)
	}

	account, err := w.store.GetAccount(ctx, w.accountID)
	if err != nil {
		return fmt.Errorf("load account %d: %w", w.accountID, err)
	}
	if !account.Eligible() {
		w.logger.Info("account not eligible, exiting",
			zap.Int64("account_id", account.ID), zap.String("status", string(account.Status)))
		return nil
	}

	sess, err := w.sessions.Acquire(ctx, account)
	if err != nil {
		return fmt.Errorf("acquire session: %w", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			w.logger.Warn("session close failed", zap.Error(err))
		}
	}()

	loggedIn, err := w.checkLogin(ctx, sess)
	if err != nil {
		return fmt.Errorf("login check: %w", err)
	}
	if !loggedIn {
		w.markError("login check failed")
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.stop = cancel
	w.running.Store(true)

	dispatcher := w.newDispatcher(account)
	w.logger.Info("worker loops starting", zap.Int64("account_id", account.ID))

	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); w.detectorLoop(loopCtx, sess, dispatcher) }()
	go func() { defer wg.Done(); w.fallbackLoop(loopCtx, sess, dispatcher) }()
	go func() { defer wg.Done(); w.heartbeatLoop(loopCtx) }()
	go func() { defer wg.Done(); w.eligibilityLoop(loopCtx) }()
	wg.Wait()

	w.logger.Info("worker loops stopped", zap.Int64("account_id", account.ID))
	return nil
}

// checkLogin opens the feed and inspects where the platform actually lands
// us; a login or challenge URL means the stored cookies are no good.
func (w *Worker) checkLogin(ctx context.Context, sess monitor.Session) (bool, error) {
	if err := sess.Navigate(ctx, feedURL, w.cfg.NavTimeout); err != nil {
		return false, err
	}
	select {
	case <-time.After(w.cfg.LoginSettleDelay):
	case <-ctx.Done():
		return false, ctx.Err()
	}
	location, err := sess.Location(ctx)
	if err != nil {
		return false, err
	}
	if strings.Contains(location, "login") || strings.Contains(location, "challenge") {
		w.logger.Warn("landed on login surface",
			zap.Int64("account_id", w.accountID), zap.String("url", location))
		return false, nil
	}
	return true, nil
}

func (w *Worker) halt() {
	w.running.Store(false)
	if w.stop != nil {
		w.stop()
	}
}

// markError flips the account into the error state. It uses a detached
// context so the update still lands during shutdown.
func (w *Worker) markError(reason string) {
	updateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.store.MarkAccountError(updateCtx, w.accountID, reason); err != nil {
		w.logger.Error("mark account error failed",
			zap.Int64("account_id", w.accountID), zap.String("reason", reason), zap.Error(err))
		return
	}
	w.logger.Warn("account marked error",
		zap.Int64("account_id", w.accountID), zap.String("reason", reason))
}

// detectorLoop polls both indicators every second and dispatches a
// high-priority event on each off-to-on transition.
func (w *Worker) detectorLoop(ctx context.Context, sess monitor.Session, dispatcher EventDispatcher) {
	ticker := time.NewTicker(w.cfg.DetectorInterval)
	defer ticker.Stop()

	lastSeen := map[monitor.EventType]bool{
		monitor.EventNetwork:  false,
		monitor.EventMessages: false,
	}

	for w.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, eventType := range []monitor.EventType{monitor.EventNetwork, monitor.EventMessages} {
			var (
				found bool
				count int
				err   error
			)
			if eventType == monitor.EventNetwork {
				found, count, err = readNetworkBadge(ctx, sess)
			} else {
				found, count, err = readMessagesBadge(ctx, sess)
			}
			if err != nil {
				w.markError(fmt.Sprintf("browser session lost in detector: %v", err))
				w.halt()
				return
			}

			if found && !lastSeen[eventType] {
				w.logger.Info("indicator appeared",
					zap.Int64("account_id", w.accountID),
					zap.String("type", string(eventType)),
					zap.Int("count", count))
				event := monitor.Event{
					Type:       eventType,
					Source:     monitor.SourceDetector,
					Priority:   monitor.PriorityHigh,
					BadgeCount: count,
				}
				if err := dispatcher.Dispatch(ctx, sess, event); err != nil {
					w.markError(fmt.Sprintf("session fatal during sync: %v", err))
					w.halt()
					return
				}
			}
			lastSeen[eventType] = found
		}
	}
}

// fallbackLoop unconditionally probes both surfaces on a slow cadence, in
// case the indicator never renders.
func (w *Worker) fallbackLoop(ctx context.Context, sess monitor.Session, dispatcher EventDispatcher) {
	ticker := time.NewTicker(w.cfg.FallbackInterval)
	defer ticker.Stop()

	for w.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		events := []monitor.Event{
			{Type: monitor.EventNetwork, Source: monitor.SourceFallback, Priority: monitor.PriorityLow, BadgeCount: 1},
			{Type: monitor.EventMessages, Source: monitor.SourceFallback, Priority: monitor.PriorityLow},
		}
		for _, event := range events {
			if !w.running.Load() {
				return
			}
			if err := dispatcher.Dispatch(ctx, sess, event); err != nil {
				w.markError(fmt.Sprintf("session fatal during fallback sync: %v", err))
				w.halt()
				return
			}
		}
	}
}

// heartbeatLoop stamps liveness so the supervisor can spot a hung worker.
// Transient store failures are logged and retried on the next tick.
func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for w.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := w.store.UpdateHeartbeat(ctx, w.accountID, w.clock.Now()); err != nil {
			w.logger.Error("heartbeat update failed",
				zap.Int64("account_id", w.accountID), zap.Error(err))
		}
	}
}

// eligibilityLoop re-reads the account and halts every loop once monitoring
// is disabled or the account disappears.
func (w *Worker) eligibilityLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.EligibilityInterval)
	defer ticker.Stop()

	for w.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		account, err := w.store.GetAccount(ctx, w.accountID)
		if errors.Is(err, monitor.ErrAccountNotFound) {
			w.logger.Warn("account removed, stopping", zap.Int64("account_id", w.accountID))
			w.halt()
			return
		}
		if err != nil {
			w.logger.Error("eligibility check failed",
				zap.Int64("account_id", w.accountID), zap.Error(err))
			continue
		}
		if !account.Eligible() {
			w.logger.Info("account no longer eligible, stopping",
				zap.Int64("account_id", w.accountID),
				zap.Bool("monitor_enabled", account.MonitorEnabled),
				zap.String("status", string(account.Status)))
			w.halt()
			return
		}
	}
}
