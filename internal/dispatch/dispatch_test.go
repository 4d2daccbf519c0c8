package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tuilink/realtime-monitor/internal/lkp"
	"github.com/tuilink/realtime-monitor/internal/monitor"
)

type fakeThrottler struct {
	admit      bool
	priorities []monitor.Priority
}

func (t *fakeThrottler) Admit(_ context.Context, _ int64, priority monitor.Priority) bool {
	t.priorities = append(t.priorities, priority)
	return t.admit
}

type fakeSyncer struct {
	connectionsCalls  int
	conversationCalls int
	maxPages          []int
	connectionsErr    error
	conversationsErr  error
}

func (s *fakeSyncer) SyncConnections(_ context.Context, _ monitor.Session, maxPages int) (int, error) {
	s.connectionsCalls++
	s.maxPages = append(s.maxPages, maxPages)
	return 0, s.connectionsErr
}

func (s *fakeSyncer) SyncConversations(context.Context, monitor.Session) (int, error) {
	s.conversationCalls++
	return 0, s.conversationsErr
}

type nopSession struct{}

func (nopSession) Navigate(context.Context, string, time.Duration) error  { return nil }
func (nopSession) WaitReady(context.Context, string, time.Duration) error { return nil }
func (nopSession) Evaluate(context.Context, string, any) error            { return nil }
func (nopSession) ElementText(context.Context, string, time.Duration) (string, error) {
	return "", nil
}
func (nopSession) Location(context.Context) (string, error) { return "", nil }
func (nopSession) Close() error                             { return nil }

func newDispatcher(throttler *fakeThrottler, syncer *fakeSyncer) *Dispatcher {
	return New(monitor.Account{ID: 7}, throttler, syncer, zap.NewNop())
}

func TestDispatchThrottledEventIsNoop(t *testing.T) {
	syncer := &fakeSyncer{}
	d := newDispatcher(&fakeThrottler{admit: false}, syncer)

	err := d.Dispatch(context.Background(), nopSession{}, monitor.Event{
		Type: monitor.EventNetwork, Source: monitor.SourceDetector, Priority: monitor.PriorityHigh, BadgeCount: 10,
	})
	require.NoError(t, err)
	assert.Zero(t, syncer.connectionsCalls)
}

func TestDispatchPageBudgetScalesWithBadge(t *testing.T) {
	cases := []struct {
		name  string
		event monitor.Event
		pages int
	}{
		{
			name:  "detector small badge",
			event: monitor.Event{Type: monitor.EventNetwork, Source: monitor.SourceDetector, BadgeCount: 3},
			pages: 1,
		},
		{
			name:  "detector badge exactly one page",
			event: monitor.Event{Type: monitor.EventNetwork, Source: monitor.SourceDetector, BadgeCount: 40},
			pages: 1,
		},
		{
			name:  "detector badge rounds up",
			event: monitor.Event{Type: monitor.EventNetwork, Source: monitor.SourceDetector, BadgeCount: 41},
			pages: 2,
		},
		{
			name:  "fallback probes two pages",
			event: monitor.Event{Type: monitor.EventNetwork, Source: monitor.SourceFallback, BadgeCount: 500},
			pages: 2,
		},
		{
			name:  "unknown source gets the ceiling",
			event: monitor.Event{Type: monitor.EventNetwork, Source: "manual", BadgeCount: 0},
			pages: 5,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			syncer := &fakeSyncer{}
			d := newDispatcher(&fakeThrottler{admit: true}, syncer)

			require.NoError(t, d.Dispatch(context.Background(), nopSession{}, tc.event))
			require.Equal(t, 1, syncer.connectionsCalls)
			assert.Equal(t, tc.pages, syncer.maxPages[0])
		})
	}
}

func TestDispatchMessagesRunsConversationSync(t *testing.T) {
	syncer := &fakeSyncer{}
	throttler := &fakeThrottler{admit: true}
	d := newDispatcher(throttler, syncer)

	err := d.Dispatch(context.Background(), nopSession{}, monitor.Event{
		Type: monitor.EventMessages, Source: monitor.SourceFallback, Priority: monitor.PriorityLow,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, syncer.conversationCalls)
	assert.Equal(t, []monitor.Priority{monitor.PriorityLow}, throttler.priorities)
}

func TestDispatchSwallowsOrdinarySyncErrors(t *testing.T) {
	syncer := &fakeSyncer{conversationsErr: errors.New("api returned status 500")}
	d := newDispatcher(&fakeThrottler{admit: true}, syncer)

	err := d.Dispatch(context.Background(), nopSession{}, monitor.Event{
		Type: monitor.EventMessages, Source: monitor.SourceDetector,
	})
	assert.NoError(t, err)
}

func TestDispatchSurfacesSessionFatalErrors(t *testing.T) {
	syncer := &fakeSyncer{connectionsErr: lkp.ErrSessionExpired}
	d := newDispatcher(&fakeThrottler{admit: true}, syncer)

	err := d.Dispatch(context.Background(), nopSession{}, monitor.Event{
		Type: monitor.EventNetwork, Source: monitor.SourceDetector, BadgeCount: 1,
	})
	assert.ErrorIs(t, err, lkp.ErrSessionExpired)

	syncer = &fakeSyncer{conversationsErr: monitor.ErrSessionClosed}
	d = newDispatcher(&fakeThrottler{admit: true}, syncer)

	err = d.Dispatch(context.Background(), nopSession{}, monitor.Event{
		Type: monitor.EventMessages, Source: monitor.SourceDetector,
	})
	assert.ErrorIs(t, err, monitor.ErrSessionClosed)
}
