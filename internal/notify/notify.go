// Package notify delivers synced records to each account's downstream
// callback endpoint.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tuilink/realtime-monitor/internal/monitor"
	"github.com/tuilink/realtime-monitor/internal/retry"
	"github.com/tuilink/realtime-monitor/internal/telemetry"
)

const tokenHeader = "X-Callback-Token"

// Config controls callback delivery.
type Config struct {
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
}

// Notifier posts callback payloads with a fixed-delay retry budget. Delivery
// failure is reported to the operator alert sink, never to the caller as an
// error: a broken downstream must not stop monitoring.
type Notifier struct {
	cfg        Config
	httpClient *http.Client
	alerter    monitor.Alerter
	logger     *zap.Logger
}

// New builds a Notifier.
func New(cfg Config, alerter monitor.Alerter, logger *zap.Logger) *Notifier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Notifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		alerter:    alerter,
		logger:     logger,
	}
}

// Notify posts the items to the account's callback URL and reports whether
// delivery succeeded.
func (n *Notifier) Notify(ctx context.Context, account monitor.Account, kind monitor.NotifyKind, items any) bool {
	if account.CallbackURL == "" {
		n.logger.Warn("account has no callback url", zap.Int64("account_id", account.ID))
		n.alerter.Alert(ctx, fmt.Sprintf("account %d (%s): %s ready but no callback url configured",
			account.ID, account.Email, kind))
		return false
	}

	payload := map[string]any{
		string(kind): items,
		"profile_id": account.HashID,
		"type":       string(kind),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("marshal callback payload", zap.Int64("account_id", account.ID), zap.Error(err))
		return false
	}

	policy := retry.Fixed(n.cfg.MaxAttempts, n.cfg.RetryDelay)
	err = policy.Do(ctx, func(ctx context.Context) error {
		return n.post(ctx, account, body)
	})
	if err != nil {
		telemetry.NotifyFailures.Inc()
		n.logger.Error("callback delivery exhausted",
			zap.Int64("account_id", account.ID),
			zap.String("kind", string(kind)),
			zap.Int("attempts", n.cfg.MaxAttempts),
			zap.Error(err))
		n.alerter.Alert(ctx, fmt.Sprintf("account %d (%s): %s callback failed after %d attempts: %v",
			account.ID, account.Email, kind, n.cfg.MaxAttempts, err))
		return false
	}

	n.logger.Info("callback delivered",
		zap.Int64("account_id", account.ID), zap.String("kind", string(kind)))
	return true
}

func (n *Notifier) post(ctx context.Context, account monitor.Account, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, account.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if account.CallbackToken != "" {
		req.Header.Set(tokenHeader, account.CallbackToken)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
	return nil
}
