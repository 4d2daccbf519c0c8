// Package supervisor keeps one worker process alive per eligible account.
package supervisor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tuilink/realtime-monitor/internal/monitor"
	"github.com/tuilink/realtime-monitor/internal/telemetry"
)

// Process is a running worker process.
type Process interface {
	// Terminate asks the process to stop gracefully.
	Terminate() error
	// Kill forcibly ends the process.
	Kill() error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
}

// ProcessRunner launches worker processes. The production implementation
// re-executes this binary; tests inject a fake.
type ProcessRunner interface {
	Start(ctx context.Context, accountID int64) (Process, error)
}

// guardRunner is the periodic connectivity check the supervisor carries.
type guardRunner interface {
	Run(ctx context.Context, interval time.Duration)
}

// Config tunes the supervisor cycles.
type Config struct {
	ReconcileInterval    time.Duration
	ConnectivityInterval time.Duration
	HeartbeatStale       time.Duration
	StopGrace            time.Duration
	KillGrace            time.Duration
	RestartPause         time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = time.Minute
	}
	if c.ConnectivityInterval <= 0 {
		c.ConnectivityInterval = 2 * time.Minute
	}
	if c.HeartbeatStale <= 0 {
		c.HeartbeatStale = 5 * time.Minute
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 30 * time.Second
	}
	if c.KillGrace <= 0 {
		c.KillGrace = 5 * time.Second
	}
	if c.RestartPause <= 0 {
		c.RestartPause = 2 * time.Second
	}
	return c
}

type handle struct {
	proc      Process
	account   monitor.Account
	startedAt time.Time
}

func (h *handle) exited() bool {
	select {
	case <-h.proc.Done():
		return true
	default:
		return false
	}
}

// Supervisor reconciles the set of running worker processes against the set
// of eligible accounts.
type Supervisor struct {
	store     monitor.Store
	runner    ProcessRunner
	artifacts monitor.ArtifactStore
	guard     guardRunner
	clock     monitor.Clock
	cfg       Config
	logger    *zap.Logger

	mu       sync.Mutex
	tracked  map[int64]*handle
	stopping bool
}

// New builds a Supervisor.
func New(store monitor.Store, runner ProcessRunner, artifacts monitor.ArtifactStore, guard guardRunner, clock monitor.Clock, cfg Config, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		store:     store,
		runner:    runner,
		artifacts: artifacts,
		guard:     guard,
		clock:     clock,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		tracked:   map[int64]*handle{},
	}
}

// Run reconciles on a fixed cadence until ctx finishes, then stops every
// worker before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.guard != nil {
		go s.guard.Run(ctx, s.cfg.ConnectivityInterval)
	}

	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()

	s.Reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			s.Shutdown(context.Background())
			return nil
		case <-ticker.C:
			s.Reconcile(ctx)
		}
	}
}

// Reconcile runs one supervision cycle: stop workers for ineligible accounts,
// restart dead or stale workers, start workers for newly eligible accounts.
// A store failure aborts the whole cycle; the next tick retries.
func (s *Supervisor) Reconcile(ctx context.Context) {
	eligible, err := s.store.ListEligibleAccounts(ctx)
	if err != nil {
		s.logger.Error("reconcile aborted, cannot list accounts", zap.Error(err))
		return
	}
	eligibleByID := make(map[int64]monitor.Account, len(eligible))
	for _, account := range eligible {
		eligibleByID[account.ID] = account
	}

	s.mu.Lock()
	trackedIDs := make([]int64, 0, len(s.tracked))
	for id := range s.tracked {
		trackedIDs = append(trackedIDs, id)
	}
	s.mu.Unlock()

	for _, id := range trackedIDs {
		if _, ok := eligibleByID[id]; !ok {
			s.logger.Info("account no longer eligible, stopping worker", zap.Int64("account_id", id))
			s.stopWorker(ctx, id)
		}
	}

	for id, account := range eligibleByID {
		s.mu.Lock()
		h, running := s.tracked[id]
		s.mu.Unlock()

		switch {
		case !running:
			s.startWorker(ctx, account)
		case h.exited():
			s.logger.Warn("worker exited, restarting", zap.Int64("account_id", id))
			s.restartWorker(ctx, id)
		case s.heartbeatStale(account, h):
			s.logger.Warn("worker heartbeat stale, restarting",
				zap.Int64("account_id", id), zap.Timep("last_heartbeat_at", account.LastHeartbeatAt))
			s.restartWorker(ctx, id)
		}
	}
}

// heartbeatStale reports whether the worker has failed to stamp liveness for
// longer than the staleness window. Freshly started workers get the same
// window to produce their first heartbeat.
func (s *Supervisor) heartbeatStale(account monitor.Account, h *handle) bool {
	now := s.clock.Now()
	if now.Sub(h.startedAt) < s.cfg.HeartbeatStale {
		return false
	}
	if account.LastHeartbeatAt == nil {
		return true
	}
	return now.Sub(*account.LastHeartbeatAt) > s.cfg.HeartbeatStale
}

// startWorker launches a worker unless one is already tracked. Eligibility is
// re-checked inside the critical section: the account may have been disabled
// or errored since the cycle began.
func (s *Supervisor) startWorker(ctx context.Context, account monitor.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return
	}
	if _, ok := s.tracked[account.ID]; ok {
		return
	}

	fresh, err := s.store.GetAccount(ctx, account.ID)
	if err != nil {
		s.logger.Error("start aborted, cannot reload account",
			zap.Int64("account_id", account.ID), zap.Error(err))
		return
	}
	if !fresh.Eligible() {
		s.logger.Info("start skipped, account no longer eligible",
			zap.Int64("account_id", account.ID), zap.String("status", string(fresh.Status)))
		return
	}

	proc, err := s.runner.Start(ctx, account.ID)
	if err != nil {
		s.logger.Error("worker start failed",
			zap.Int64("account_id", account.ID), zap.Error(err))
		return
	}
	s.tracked[account.ID] = &handle{proc: proc, account: fresh, startedAt: s.clock.Now()}
	telemetry.ActiveWorkers.Set(float64(len(s.tracked)))
	s.logger.Info("worker started", zap.Int64("account_id", account.ID))
}

// stopWorker terminates the worker, escalating to kill after the grace
// period, then uploads the profile artifact so the session can move hosts.
func (s *Supervisor) stopWorker(ctx context.Context, accountID int64) {
	s.mu.Lock()
	h, ok := s.tracked[accountID]
	s.mu.Unlock()
	if !ok {
		return
	}

	if !h.exited() {
		if err := h.proc.Terminate(); err != nil {
			s.logger.Warn("terminate failed", zap.Int64("account_id", accountID), zap.Error(err))
		}
		if !waitDone(h.proc.Done(), s.cfg.StopGrace) {
			s.logger.Warn("worker ignored terminate, killing", zap.Int64("account_id", accountID))
			if err := h.proc.Kill(); err != nil {
				s.logger.Error("kill failed", zap.Int64("account_id", accountID), zap.Error(err))
			}
			waitDone(h.proc.Done(), s.cfg.KillGrace)
		}
	}

	s.mu.Lock()
	delete(s.tracked, accountID)
	telemetry.ActiveWorkers.Set(float64(len(s.tracked)))
	s.mu.Unlock()

	if err := s.artifacts.PublishProfile(ctx, h.account); err != nil {
		s.logger.Error("profile artifact upload failed",
			zap.Int64("account_id", accountID), zap.Error(err))
	}
	s.logger.Info("worker stopped", zap.Int64("account_id", accountID))
}

// restartWorker stops the worker, pauses, and starts it again if the account
// is still eligible.
func (s *Supervisor) restartWorker(ctx context.Context, accountID int64) {
	s.stopWorker(ctx, accountID)

	select {
	case <-time.After(s.cfg.RestartPause):
	case <-ctx.Done():
		return
	}

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		s.logger.Error("restart aborted, cannot reload account",
			zap.Int64("account_id", accountID), zap.Error(err))
		return
	}
	if !account.Eligible() {
		s.logger.Info("restart skipped, account no longer eligible",
			zap.Int64("account_id", accountID), zap.String("status", string(account.Status)))
		return
	}
	telemetry.WorkerRestarts.Inc()
	s.startWorker(ctx, account)
}

// Shutdown stops every tracked worker sequentially and blocks new starts.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	s.stopping = true
	ids := make([]int64, 0, len(s.tracked))
	for id := range s.tracked {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	s.logger.Info("supervisor shutting down", zap.Int("workers", len(ids)))
	for _, id := range ids {
		s.stopWorker(ctx, id)
	}
}

func waitDone(done <-chan struct{}, timeout time.Duration) bool {
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
