package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tuilink/realtime-monitor/internal/monitor"
)

type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStubClock() *stubClock {
	return &stubClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// supStore is an in-memory account store. listed, when set, overrides the
// eligibility listing so tests can stage a race between the listing and the
// per-account reload.
type supStore struct {
	mu       sync.Mutex
	accounts map[int64]monitor.Account
	listed   []monitor.Account
	listErr  error
}

func newSupStore(accounts ...monitor.Account) *supStore {
	s := &supStore{accounts: map[int64]monitor.Account{}}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

func (s *supStore) Ping(context.Context) error { return nil }

func (s *supStore) GetAccount(_ context.Context, id int64) (monitor.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return monitor.Account{}, monitor.ErrAccountNotFound
	}
	return account, nil
}

func (s *supStore) ListEligibleAccounts(context.Context) ([]monitor.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	if s.listed != nil {
		return append([]monitor.Account(nil), s.listed...), nil
	}
	var eligible []monitor.Account
	for _, a := range s.accounts {
		if a.Eligible() {
			eligible = append(eligible, a)
		}
	}
	return eligible, nil
}

func (s *supStore) UpdateHeartbeat(context.Context, int64, time.Time) error       { return nil }
func (s *supStore) MarkAccountError(context.Context, int64, string) error         { return nil }
func (s *supStore) SetAccountHashID(context.Context, int64, string) error         { return nil }
func (s *supStore) LatestConnectionHashID(context.Context, int64) (string, error) { return "", nil }
func (s *supStore) MaxConversationActivity(context.Context, int64) (time.Time, bool, error) {
	return time.Time{}, false, nil
}
func (s *supStore) InsertConnections(context.Context, []monitor.Connection) (int64, error) {
	return 0, nil
}
func (s *supStore) UpsertConversation(context.Context, monitor.Conversation) error { return nil }

func (s *supStore) put(account monitor.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account
}

type fakeProcess struct {
	mu         sync.Mutex
	done       chan struct{}
	terminated bool
	killed     bool
	stubborn   bool
}

func newFakeProcess(stubborn bool) *fakeProcess {
	return &fakeProcess{done: make(chan struct{}), stubborn: stubborn}
}

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated = true
	if !p.stubborn {
		p.exitLocked()
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	p.exitLocked()
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) exit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exitLocked()
}

func (p *fakeProcess) exitLocked() {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
}

func (p *fakeProcess) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *fakeProcess) wasTerminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

type fakeRunner struct {
	mu       sync.Mutex
	stubborn bool
	starts   []int64
	procs    map[int64]*fakeProcess
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{procs: map[int64]*fakeProcess{}}
}

func (r *fakeRunner) Start(_ context.Context, accountID int64) (Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := newFakeProcess(r.stubborn)
	r.starts = append(r.starts, accountID)
	r.procs[accountID] = p
	return p, nil
}

func (r *fakeRunner) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.starts)
}

func (r *fakeRunner) proc(accountID int64) *fakeProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.procs[accountID]
}

type fakeArtifacts struct {
	mu        sync.Mutex
	published []monitor.Account
}

func (a *fakeArtifacts) PublishProfile(_ context.Context, account monitor.Account) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.published = append(a.published, account)
	return nil
}

func (a *fakeArtifacts) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.published)
}

func activeAccount(id int64) monitor.Account {
	return monitor.Account{
		ID:             id,
		Email:          "user@example.com",
		MonitorEnabled: true,
		Status:         monitor.StatusActive,
	}
}

func testConfig() Config {
	return Config{
		ReconcileInterval:    time.Minute,
		ConnectivityInterval: time.Minute,
		HeartbeatStale:       5 * time.Minute,
		StopGrace:            20 * time.Millisecond,
		KillGrace:            20 * time.Millisecond,
		RestartPause:         time.Millisecond,
	}
}

func newTestSupervisor(store *supStore, runner *fakeRunner, artifacts *fakeArtifacts, clock *stubClock) *Supervisor {
	return New(store, runner, artifacts, nil, clock, testConfig(), zap.NewNop())
}

func TestReconcileStartsEligibleAccounts(t *testing.T) {
	store := newSupStore(activeAccount(1), activeAccount(2))
	runner := newFakeRunner()
	s := newTestSupervisor(store, runner, &fakeArtifacts{}, newStubClock())

	s.Reconcile(context.Background())

	assert.Equal(t, 2, runner.startCount())
	assert.NotNil(t, runner.proc(1))
	assert.NotNil(t, runner.proc(2))
}

func TestReconcileIsIdempotentForRunningWorkers(t *testing.T) {
	store := newSupStore(activeAccount(1))
	runner := newFakeRunner()
	s := newTestSupervisor(store, runner, &fakeArtifacts{}, newStubClock())

	s.Reconcile(context.Background())
	s.Reconcile(context.Background())

	assert.Equal(t, 1, runner.startCount())
}

func TestReconcileStopsIneligibleWorkerAndPublishesProfile(t *testing.T) {
	account := activeAccount(1)
	store := newSupStore(account)
	runner := newFakeRunner()
	artifacts := &fakeArtifacts{}
	s := newTestSupervisor(store, runner, artifacts, newStubClock())

	s.Reconcile(context.Background())
	require.Equal(t, 1, runner.startCount())

	account.MonitorEnabled = false
	store.put(account)
	s.Reconcile(context.Background())

	assert.True(t, runner.proc(1).wasTerminated())
	assert.False(t, runner.proc(1).wasKilled())
	assert.Equal(t, 1, artifacts.count())
	assert.Equal(t, 1, runner.startCount())
}

func TestStopEscalatesToKill(t *testing.T) {
	account := activeAccount(1)
	store := newSupStore(account)
	runner := newFakeRunner()
	runner.stubborn = true
	s := newTestSupervisor(store, runner, &fakeArtifacts{}, newStubClock())

	s.Reconcile(context.Background())
	require.Equal(t, 1, runner.startCount())

	account.MonitorEnabled = false
	store.put(account)
	s.Reconcile(context.Background())

	assert.True(t, runner.proc(1).wasTerminated())
	assert.True(t, runner.proc(1).wasKilled())
}

func TestReconcileRestartsExitedWorker(t *testing.T) {
	store := newSupStore(activeAccount(1))
	runner := newFakeRunner()
	artifacts := &fakeArtifacts{}
	s := newTestSupervisor(store, runner, artifacts, newStubClock())

	s.Reconcile(context.Background())
	require.Equal(t, 1, runner.startCount())

	runner.proc(1).exit()
	s.Reconcile(context.Background())

	assert.Equal(t, 2, runner.startCount())
	assert.Equal(t, 1, artifacts.count())
}

func TestNoRestartWhenAccountErroredMidCycle(t *testing.T) {
	// The listing still names the account but the worker has since marked it
	// errored: the reload inside the restart must veto the new process.
	account := activeAccount(1)
	store := newSupStore(account)
	runner := newFakeRunner()
	s := newTestSupervisor(store, runner, &fakeArtifacts{}, newStubClock())

	s.Reconcile(context.Background())
	require.Equal(t, 1, runner.startCount())

	errored := account
	errored.Status = monitor.StatusError
	errored.MonitorEnabled = false
	store.put(errored)
	store.mu.Lock()
	store.listed = []monitor.Account{account}
	store.mu.Unlock()

	runner.proc(1).exit()
	s.Reconcile(context.Background())

	assert.Equal(t, 1, runner.startCount())
}

func TestReconcileRestartsOnStaleHeartbeat(t *testing.T) {
	clock := newStubClock()
	account := activeAccount(1)
	stamp := clock.Now()
	account.LastHeartbeatAt = &stamp
	store := newSupStore(account)
	runner := newFakeRunner()
	s := newTestSupervisor(store, runner, &fakeArtifacts{}, clock)

	s.Reconcile(context.Background())
	require.Equal(t, 1, runner.startCount())

	// Fresh heartbeat: no restart even after the window passes once.
	clock.advance(4 * time.Minute)
	s.Reconcile(context.Background())
	assert.Equal(t, 1, runner.startCount())

	clock.advance(7 * time.Minute)
	s.Reconcile(context.Background())
	assert.Equal(t, 2, runner.startCount())
}

func TestFreshWorkerGetsHeartbeatGrace(t *testing.T) {
	clock := newStubClock()
	account := activeAccount(1)
	// No heartbeat recorded yet.
	store := newSupStore(account)
	runner := newFakeRunner()
	s := newTestSupervisor(store, runner, &fakeArtifacts{}, clock)

	s.Reconcile(context.Background())
	require.Equal(t, 1, runner.startCount())

	clock.advance(time.Minute)
	s.Reconcile(context.Background())
	assert.Equal(t, 1, runner.startCount())

	clock.advance(10 * time.Minute)
	s.Reconcile(context.Background())
	assert.Equal(t, 2, runner.startCount())
}

func TestReconcileAbortsWhenListingFails(t *testing.T) {
	store := newSupStore(activeAccount(1))
	runner := newFakeRunner()
	s := newTestSupervisor(store, runner, &fakeArtifacts{}, newStubClock())

	s.Reconcile(context.Background())
	require.Equal(t, 1, runner.startCount())

	store.mu.Lock()
	store.listErr = errors.New("connection refused")
	store.mu.Unlock()
	s.Reconcile(context.Background())

	// The running worker must be left alone.
	assert.False(t, runner.proc(1).wasTerminated())
	assert.Equal(t, 1, runner.startCount())
}

func TestShutdownStopsEveryWorkerAndBlocksStarts(t *testing.T) {
	store := newSupStore(activeAccount(1), activeAccount(2))
	runner := newFakeRunner()
	artifacts := &fakeArtifacts{}
	s := newTestSupervisor(store, runner, artifacts, newStubClock())

	s.Reconcile(context.Background())
	require.Equal(t, 2, runner.startCount())

	s.Shutdown(context.Background())

	assert.True(t, runner.proc(1).wasTerminated())
	assert.True(t, runner.proc(2).wasTerminated())
	assert.Equal(t, 2, artifacts.count())

	s.Reconcile(context.Background())
	assert.Equal(t, 2, runner.startCount())
}
