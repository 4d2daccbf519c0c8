package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrAccountNotFound is returned by Store lookups for unknown accounts.
var ErrAccountNotFound = errors.New("account not found")

// ErrSessionClosed classifies browser failures that terminate the session
// (target closed, browser gone, devtools connection dropped).
var ErrSessionClosed = errors.New("browser session closed")

// IsSessionClosed reports whether err belongs to the session-fatal class.
// chromedp surfaces these as free-form messages, so the check also matches
// on the known message fragments.
func IsSessionClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"target closed", "browser closed", "connection closed", "session closed"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// Store is the persistent relational store consumed by the core.
type Store interface {
	// Ping verifies the store connection is alive.
	Ping(ctx context.Context) error

	GetAccount(ctx context.Context, id int64) (Account, error)
	// ListEligibleAccounts returns accounts with monitoring enabled and
	// status active.
	ListEligibleAccounts(ctx context.Context) ([]Account, error)
	UpdateHeartbeat(ctx context.Context, id int64, at time.Time) error
	// MarkAccountError flips status to error and disables monitoring.
	MarkAccountError(ctx context.Context, id int64, reason string) error
	SetAccountHashID(ctx context.Context, id int64, hashID string) error

	// LatestConnectionHashID returns the hash id of the most recently
	// connected record for the account, or "" when none is stored.
	LatestConnectionHashID(ctx context.Context, accountID int64) (string, error)
	// MaxConversationActivity returns the newest stored last_activity_at
	// for the account; ok is false when no conversation is stored.
	MaxConversationActivity(ctx context.Context, accountID int64) (t time.Time, ok bool, err error)
	// InsertConnections bulk-inserts, ignoring (account, member_id)
	// conflicts, and returns the number of rows actually inserted.
	InsertConnections(ctx context.Context, conns []Connection) (int64, error)
	// UpsertConversation creates the row or overwrites all mutable fields,
	// keyed on (account, hash_id).
	UpsertConversation(ctx context.Context, conv Conversation) error
}

// Session is the opaque browser session capability owned by a worker.
type Session interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	WaitReady(ctx context.Context, selector string, timeout time.Duration) error
	// Evaluate runs a script in the page and unmarshals its result into out.
	Evaluate(ctx context.Context, script string, out any) error
	ElementText(ctx context.Context, selector string, timeout time.Duration) (string, error)
	Location(ctx context.Context) (string, error)
	Close() error
}

// AccountAPI is the third-party account/session RPC capability.
type AccountAPI interface {
	// Request proxies a named method call for the account and returns the
	// raw structured response.
	Request(ctx context.Context, email, method string, params map[string]any) (json.RawMessage, error)
}

// NotifyKind tags a downstream callback payload.
type NotifyKind string

const (
	NotifyConnections   NotifyKind = "connections"
	NotifyConversations NotifyKind = "conversations"
)

// Notifier delivers synced records to the account's downstream callback.
// It reports success and never returns an error.
type Notifier interface {
	Notify(ctx context.Context, account Account, kind NotifyKind, items any) bool
}

// Alerter is the fire-and-forget operator alert sink.
type Alerter interface {
	Alert(ctx context.Context, message string)
}

// Throttler gates expensive sync work per account and priority.
type Throttler interface {
	Admit(ctx context.Context, accountID int64, priority Priority) bool
}

// Syncer runs the incremental data sync pipeline against a live session.
type Syncer interface {
	SyncConnections(ctx context.Context, session Session, maxPages int) (int, error)
	SyncConversations(ctx context.Context, session Session) (int, error)
}

// ArtifactStore packages and uploads a worker's session profile directory.
type ArtifactStore interface {
	PublishProfile(ctx context.Context, account Account) error
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}
