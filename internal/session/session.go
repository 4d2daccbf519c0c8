// Package session owns the headless browser lifecycle for account workers.
// Each account gets a dedicated browser with a persistent profile directory,
// so login cookies survive worker restarts.
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/tuilink/realtime-monitor/internal/monitor"
)

// Config controls browser construction.
type Config struct {
	Headless    bool
	ProfileRoot string
	NavTimeout  time.Duration
	UserAgent   string
}

// Manager builds browser sessions.
type Manager struct {
	cfg    Config
	logger *zap.Logger
}

// NewManager builds a session Manager.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 60 * time.Second
	}
	return &Manager{cfg: cfg, logger: logger}
}

// ProfileDir returns the persistent profile directory for the account.
func (m *Manager) ProfileDir(account monitor.Account) string {
	return filepath.Join(m.cfg.ProfileRoot, account.Email)
}

// Acquire launches a browser for the account and returns its session. The
// caller owns the session and must Close it.
func (m *Manager) Acquire(ctx context.Context, account monitor.Account) (*BrowserSession, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(m.ProfileDir(account)),
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)
	if proxyURL := account.Proxy.URL(); proxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(proxyURL))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	// Running the setup action forces the browser process to start now, so a
	// broken Chrome install fails Acquire instead of the first Navigate.
	if err := chromedp.Run(taskCtx, m.networkSetupAction()); err != nil {
		taskCancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser for %s: %w", account.Email, err)
	}

	m.logger.Info("browser session started",
		zap.Int64("account_id", account.ID),
		zap.String("profile_dir", m.ProfileDir(account)))

	return &BrowserSession{
		taskCtx:     taskCtx,
		taskCancel:  taskCancel,
		allocCancel: allocCancel,
	}, nil
}

func (m *Manager) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if m.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(m.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// BrowserSession implements monitor.Session over a chromedp browser context.
type BrowserSession struct {
	taskCtx     context.Context
	taskCancel  context.CancelFunc
	allocCancel context.CancelFunc
}

// run executes chromedp actions bounded by timeout and by the caller's ctx.
func (s *BrowserSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.taskCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if s.taskCtx.Err() != nil {
		return fmt.Errorf("%w: %v", monitor.ErrSessionClosed, err)
	}
	return err
}

// Navigate loads the URL and waits for the document body.
func (s *BrowserSession) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := s.run(ctx, timeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// WaitReady blocks until the selector resolves or the timeout fires.
func (s *BrowserSession) WaitReady(ctx context.Context, selector string, timeout time.Duration) error {
	if err := s.run(ctx, timeout, chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

// Evaluate runs a script in the page and unmarshals its result into out.
func (s *BrowserSession) Evaluate(ctx context.Context, script string, out any) error {
	if err := s.run(ctx, 10*time.Second, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("evaluate script: %w", err)
	}
	return nil
}

// ElementText returns the text content of the first element matching selector.
func (s *BrowserSession) ElementText(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	var text string
	if err := s.run(ctx, timeout, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("text of %q: %w", selector, err)
	}
	return text, nil
}

// Location returns the page's current URL.
func (s *BrowserSession) Location(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, 10*time.Second, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return url, nil
}

// Close tears the browser down. Safe to call more than once.
func (s *BrowserSession) Close() error {
	if s.taskCancel != nil {
		s.taskCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
	return nil
}

// IsTerminated reports whether err means the browser itself is gone, as
// opposed to a recoverable page-level failure.
func IsTerminated(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, monitor.ErrSessionClosed) {
		return true
	}
	return monitor.IsSessionClosed(err)
}
