package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// textSession serves a fixed element text for badge probes.
type textSession struct {
	scriptedSession
	text    string
	textErr error
}

func (s *textSession) ElementText(context.Context, string, time.Duration) (string, error) {
	return s.text, s.textErr
}

func TestReadMessagesBadgeParsesCount(t *testing.T) {
	cases := []struct {
		name  string
		text  string
		found bool
		count int
	}{
		{name: "plain digits", text: "4", found: true, count: 4},
		{name: "digits with suffix", text: "12 new", found: true, count: 12},
		{name: "zero is not activity", text: "0", found: false, count: 0},
		{name: "no digits", text: "new messages", found: false, count: 0},
		{name: "empty", text: "", found: false, count: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sess := &textSession{text: tc.text}
			found, count, err := readMessagesBadge(context.Background(), sess)
			require.NoError(t, err)
			assert.Equal(t, tc.found, found)
			assert.Equal(t, tc.count, count)
		})
	}
}

func TestReadMessagesBadgeMissingElementIsQuiet(t *testing.T) {
	sess := &textSession{textErr: errors.New("could not find node")}
	found, count, err := readMessagesBadge(context.Background(), sess)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, count)
}

func TestReadMessagesBadgeDeadBrowserErrors(t *testing.T) {
	sess := &textSession{textErr: errors.New("chromedp: target closed")}
	_, _, err := readMessagesBadge(context.Background(), sess)
	assert.Error(t, err)
}

func TestReadNetworkBadge(t *testing.T) {
	sess := &scriptedSession{}
	sess.setBadge(true, 7)

	found, count, err := readNetworkBadge(context.Background(), sess)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 7, count)
}

func TestReadNetworkBadgeEvaluateFailureIsQuiet(t *testing.T) {
	sess := &scriptedSession{evalErr: errors.New("could not evaluate expression")}
	found, count, err := readNetworkBadge(context.Background(), sess)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, count)
}
