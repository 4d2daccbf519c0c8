// Package dispatch routes detection events into throttled sync work.
package dispatch

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/tuilink/realtime-monitor/internal/lkp"
	"github.com/tuilink/realtime-monitor/internal/monitor"
	"github.com/tuilink/realtime-monitor/internal/telemetry"
)

const connectionsPageSize = 40

// Dispatcher turns events into sync runs for one account. Ordinary sync
// failures are logged and swallowed; only session-fatal failures (expired
// remote session, dead browser) surface to the caller so the worker can
// react.
type Dispatcher struct {
	account   monitor.Account
	throttler monitor.Throttler
	syncer    monitor.Syncer
	logger    *zap.Logger
}

// New builds a Dispatcher.
func New(account monitor.Account, throttler monitor.Throttler, syncer monitor.Syncer, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{account: account, throttler: throttler, syncer: syncer, logger: logger}
}

// Dispatch handles one event. A throttled event is a silent no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, session monitor.Session, event monitor.Event) error {
	if !d.throttler.Admit(ctx, d.account.ID, event.Priority) {
		telemetry.EventsThrottled.Inc()
		d.logger.Debug("event throttled",
			zap.Int64("account_id", d.account.ID),
			zap.String("type", string(event.Type)),
			zap.String("priority", string(event.Priority)))
		return nil
	}
	telemetry.Events.WithLabelValues(string(event.Type), string(event.Source)).Inc()

	var err error
	switch event.Type {
	case monitor.EventNetwork:
		_, err = d.syncer.SyncConnections(ctx, session, d.pageBudget(event))
	case monitor.EventMessages:
		_, err = d.syncer.SyncConversations(ctx, session)
	default:
		d.logger.Warn("unknown event type", zap.String("type", string(event.Type)))
		return nil
	}
	if err == nil {
		return nil
	}

	if errors.Is(err, lkp.ErrSessionExpired) || monitor.IsSessionClosed(err) {
		return err
	}
	d.logger.Error("sync failed",
		zap.Int64("account_id", d.account.ID),
		zap.String("type", string(event.Type)),
		zap.Error(err))
	return nil
}

// pageBudget sizes the connection sync by what triggered it: the detector
// scales with the badge count, the fallback poll probes shallowly, and
// anything else gets a conservative ceiling.
func (d *Dispatcher) pageBudget(event monitor.Event) int {
	switch event.Source {
	case monitor.SourceDetector:
		pages := (event.BadgeCount + connectionsPageSize - 1) / connectionsPageSize
		if pages < 1 {
			pages = 1
		}
		return pages
	case monitor.SourceFallback:
		return 2
	default:
		return 5
	}
}
