// Package datasync pulls new connections and conversations through the
// account API, persists them, and fans the records out to the downstream
// callback.
package datasync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tuilink/realtime-monitor/internal/lkp"
	"github.com/tuilink/realtime-monitor/internal/monitor"
	"github.com/tuilink/realtime-monitor/internal/telemetry"
)

const (
	connectionsPageSize  = 40
	maxConversationPages = 10

	feedURL      = "https://www.linkedin.com/feed/"
	networkURL   = "https://www.linkedin.com/mynetwork/grow/"
	messagingURL = "https://www.linkedin.com/messaging/"

	networkReadySelector   = `button[aria-label*="Connect"]`
	messagingReadySelector = `div[class*="msg-conversations-container"]`
)

// Config tunes the engine's pacing.
type Config struct {
	// PageInterval is the pause between paged API calls.
	PageInterval time.Duration
	// SettleDelay is how long to stay on an indicator surface before
	// navigating back, giving the page time to mark activity as seen.
	SettleDelay time.Duration
	// NavTimeout bounds each browser navigation.
	NavTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PageInterval <= 0 {
		c.PageInterval = 2 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 60 * time.Second
	}
	return c
}

// Engine runs the incremental sync pipeline for one account.
type Engine struct {
	account  monitor.Account
	api      monitor.AccountAPI
	store    monitor.Store
	notifier monitor.Notifier
	cfg      Config
	logger   *zap.Logger
}

// NewEngine builds an Engine for the account.
func NewEngine(account monitor.Account, api monitor.AccountAPI, store monitor.Store, notifier monitor.Notifier, cfg Config, logger *zap.Logger) *Engine {
	return &Engine{
		account:  account,
		api:      api,
		store:    store,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// SyncConnections pages the connection list newest-first until it reaches the
// newest record already stored, inserts what is new, notifies downstream, and
// clears the network indicator. A page that fails to fetch or decode stops
// pagination but never discards pages already collected; those are still
// persisted and delivered. It returns the number of records parsed.
func (e *Engine) SyncConnections(ctx context.Context, session monitor.Session, maxPages int) (int, error) {
	boundary, err := e.store.LatestConnectionHashID(ctx, e.account.ID)
	if err != nil {
		return 0, fmt.Errorf("load dedup boundary: %w", err)
	}

	var (
		collected []monitor.Connection
		fetchErr  error
	)
	for page := 0; ; page++ {
		if maxPages > 0 && page >= maxPages {
			break
		}
		if page > 0 {
			if err := sleepCtx(ctx, e.cfg.PageInterval); err != nil {
				return len(collected), err
			}
		}

		data, err := e.api.Request(ctx, e.account.Email, lkp.MethodGetConnections, map[string]any{
			"start": page * connectionsPageSize,
			"count": connectionsPageSize,
		})
		if err != nil {
			fetchErr = fmt.Errorf("fetch connections page %d: %w", page, err)
			e.logger.Warn("connections page failed, keeping collected records",
				zap.Int64("account_id", e.account.ID), zap.Int("page", page), zap.Error(err))
			break
		}

		elements, err := decodeConnectionsPage(data)
		if err != nil {
			fetchErr = err
			e.logger.Warn("connections page failed, keeping collected records",
				zap.Int64("account_id", e.account.ID), zap.Int("page", page), zap.Error(err))
			break
		}
		if len(elements) == 0 {
			break
		}

		hitBoundary := false
		for _, el := range elements {
			conn, ok := connectionFromElement(e.account.ID, el)
			if !ok {
				continue
			}
			if boundary != "" && conn.HashID == boundary {
				hitBoundary = true
				break
			}
			collected = append(collected, conn)
		}
		if hitBoundary || len(elements) < connectionsPageSize {
			break
		}
	}

	if len(collected) > 0 {
		inserted, err := e.store.InsertConnections(ctx, collected)
		if err != nil {
			return len(collected), fmt.Errorf("persist connections: %w", err)
		}
		telemetry.SyncRecords.WithLabelValues("connections").Add(float64(inserted))
		e.logger.Info("connections synced",
			zap.Int64("account_id", e.account.ID),
			zap.Int("parsed", len(collected)),
			zap.Int64("inserted", inserted))

		if e.notifier.Notify(ctx, e.account, monitor.NotifyConnections, collected) {
			e.clearIndicator(ctx, session, networkURL, networkReadySelector)
		}
	} else if fetchErr == nil {
		e.logger.Info("no new connections", zap.Int64("account_id", e.account.ID))
		e.clearIndicator(ctx, session, networkURL, networkReadySelector)
	}

	if sessionFatal(fetchErr) {
		return len(collected), fetchErr
	}
	return len(collected), nil
}

// SyncConversations pages the conversation list newest-first down to the
// stored activity watermark, upserts what changed, notifies downstream, and
// clears the messages indicator. Items at or below the watermark are filtered
// out individually; pagination stops once a whole page ends below it. A page
// that fails to fetch or decode stops pagination but pages already collected
// are still persisted and delivered. It returns the number of records
// upserted.
func (e *Engine) SyncConversations(ctx context.Context, session monitor.Session) (int, error) {
	watermark, haveWatermark, err := e.store.MaxConversationActivity(ctx, e.account.ID)
	if err != nil {
		return 0, fmt.Errorf("load activity watermark: %w", err)
	}

	ownHash, err := e.ownHashID(ctx)
	if err != nil {
		return 0, err
	}

	var (
		fresh        []monitor.Conversation
		lastActivity time.Time
		fetchErr     error
	)
	for page := 0; page < maxConversationPages; page++ {
		var (
			data json.RawMessage
			err  error
		)
		if page == 0 {
			data, err = e.api.Request(ctx, e.account.Email, lkp.MethodConversationsBySyncTok,
				map[string]any{"fsd_profile": ownHash})
		} else {
			if lastActivity.IsZero() {
				break
			}
			if haveWatermark && !lastActivity.After(watermark) {
				break
			}
			if err := sleepCtx(ctx, e.cfg.PageInterval); err != nil {
				break
			}
			data, err = e.api.Request(ctx, e.account.Email, lkp.MethodConversationsByCategory,
				map[string]any{
					"fsd_profile":      ownHash,
					"last_activity_at": lastActivity.UnixMilli(),
				})
		}
		if err != nil {
			fetchErr = fmt.Errorf("fetch conversations page %d: %w", page, err)
			e.logger.Warn("conversations page failed, keeping collected records",
				zap.Int64("account_id", e.account.ID), zap.Int("page", page), zap.Error(err))
			break
		}

		elements, err := decodeConversationsPage(data)
		if err != nil {
			fetchErr = err
			e.logger.Warn("conversations page failed, keeping collected records",
				zap.Int64("account_id", e.account.ID), zap.Int("page", page), zap.Error(err))
			break
		}
		if len(elements) == 0 {
			break
		}

		for _, el := range elements {
			conv, ok := conversationFromElement(e.account.ID, ownHash, el)
			if !ok {
				continue
			}
			lastActivity = conv.LastActivityAt
			if haveWatermark && !conv.LastActivityAt.After(watermark) {
				// Already stored; later items on the page may still be fresh.
				continue
			}
			fresh = append(fresh, conv)
		}
	}

	upserted := 0
	var delivered []monitor.Conversation
	for _, conv := range fresh {
		if err := e.store.UpsertConversation(ctx, conv); err != nil {
			e.logger.Error("upsert conversation failed",
				zap.Int64("account_id", e.account.ID),
				zap.String("hash_id", conv.HashID),
				zap.Error(err))
			continue
		}
		upserted++
		delivered = append(delivered, conv)
	}
	telemetry.SyncRecords.WithLabelValues("conversations").Add(float64(upserted))

	if len(delivered) > 0 {
		e.logger.Info("conversations synced",
			zap.Int64("account_id", e.account.ID), zap.Int("upserted", upserted))
		if e.notifier.Notify(ctx, e.account, monitor.NotifyConversations, delivered) {
			e.clearIndicator(ctx, session, messagingURL, messagingReadySelector)
		}
	} else if fetchErr == nil {
		e.logger.Info("no new conversations", zap.Int64("account_id", e.account.ID))
		e.clearIndicator(ctx, session, messagingURL, messagingReadySelector)
	}

	if sessionFatal(fetchErr) {
		return upserted, fetchErr
	}
	return upserted, nil
}

// sessionFatal reports whether err must surface to the worker: the remote
// session expired or the browser is gone. Everything else ends the current
// sync quietly.
func sessionFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, lkp.ErrSessionExpired) || monitor.IsSessionClosed(err)
}

// ownHashID returns the account's profile hash, resolving and persisting it
// through connection_summary on first use.
func (e *Engine) ownHashID(ctx context.Context) (string, error) {
	if e.account.HashID != "" {
		return e.account.HashID, nil
	}
	data, err := e.api.Request(ctx, e.account.Email, lkp.MethodConnectionSummary, map[string]any{})
	if err != nil {
		return "", fmt.Errorf("resolve profile hash: %w", err)
	}
	hashID, err := ownHashFromSummary(data)
	if err != nil {
		return "", err
	}
	if err := e.store.SetAccountHashID(ctx, e.account.ID, hashID); err != nil {
		return "", fmt.Errorf("persist profile hash: %w", err)
	}
	e.account.HashID = hashID
	return hashID, nil
}

// clearIndicator visits the surface that owns the badge so the platform marks
// it seen, then returns to the feed. Every step is tolerant: a UI change must
// not fail the sync that already succeeded.
func (e *Engine) clearIndicator(ctx context.Context, session monitor.Session, targetURL, readySelector string) {
	if session == nil {
		return
	}
	if err := session.Navigate(ctx, targetURL, e.cfg.NavTimeout); err != nil {
		e.logger.Warn("indicator surface navigation failed",
			zap.String("url", targetURL), zap.Error(err))
		return
	}
	if err := session.WaitReady(ctx, readySelector, 10*time.Second); err != nil {
		// The page may have loaded with a changed layout; still counts.
		e.logger.Warn("indicator surface selector missing",
			zap.String("selector", readySelector), zap.Error(err))
	}
	if err := sleepCtx(ctx, e.cfg.SettleDelay); err != nil {
		return
	}
	if err := session.Navigate(ctx, feedURL, e.cfg.NavTimeout); err != nil {
		e.logger.Warn("return to feed failed", zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
