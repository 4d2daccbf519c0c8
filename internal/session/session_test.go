package session

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/tuilink/realtime-monitor/internal/monitor"
)

func TestProfileDirIsPerAccount(t *testing.T) {
	m := NewManager(Config{ProfileRoot: "/var/lib/monitor/profiles"}, zap.NewNop())

	dir := m.ProfileDir(monitor.Account{Email: "user@example.com"})
	assert.Equal(t, filepath.Join("/var/lib/monitor/profiles", "user@example.com"), dir)
}

func TestNewManagerDefaultsNavTimeout(t *testing.T) {
	m := NewManager(Config{}, zap.NewNop())
	assert.Equal(t, 60*time.Second, m.cfg.NavTimeout)
}

func TestIsTerminated(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "wrapped sentinel", err: fmt.Errorf("navigate: %w", monitor.ErrSessionClosed), want: true},
		{name: "chromedp message", err: errors.New("chromedp: target closed"), want: true},
		{name: "page level failure", err: errors.New("could not find node"), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTerminated(tc.err))
		})
	}
}
