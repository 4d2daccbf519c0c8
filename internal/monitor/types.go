// Package monitor defines the core domain types and capability interfaces
// shared by the supervisor, the account workers, and the sync pipeline.
package monitor

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a monitored account.
type Status string

const (
	// StatusActive marks an account as eligible for monitoring.
	StatusActive Status = "active"
	// StatusInactive marks an account that has not been enabled yet.
	StatusInactive Status = "inactive"
	// StatusError marks an account that hit a session-fatal failure and
	// requires manual intervention before monitoring resumes.
	StatusError Status = "error"
)

// ParseStatus maps a raw status string onto the Status enum. Unmapped input
// is an error rather than a silent default.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusActive:
		return StatusActive, nil
	case StatusInactive:
		return StatusInactive, nil
	case StatusError:
		return StatusError, nil
	default:
		return "", fmt.Errorf("unmapped account status %q", raw)
	}
}

// ProxyConfig holds the per-account HTTP proxy settings.
type ProxyConfig struct {
	IP       string
	Port     string
	Username string
	Password string
}

// URL renders the proxy as an http:// URL, or "" when no proxy is set.
func (p ProxyConfig) URL() string {
	if p.IP == "" || p.Port == "" {
		return ""
	}
	if p.Username != "" && p.Password != "" {
		return fmt.Sprintf("http://%s:%s@%s:%s", p.Username, p.Password, p.IP, p.Port)
	}
	return fmt.Sprintf("http://%s:%s", p.IP, p.Port)
}

// Account is the persisted configuration of one monitored account.
type Account struct {
	ID              int64
	Email           string
	Password        string
	Proxy           ProxyConfig
	MonitorEnabled  bool
	Status          Status
	LastHeartbeatAt *time.Time
	HashID          string
	CallbackURL     string
	CallbackToken   string
}

// Eligible reports whether a worker may run for this account.
func (a Account) Eligible() bool {
	return a.MonitorEnabled && a.Status == StatusActive
}

// Connection is one observed network connection, append-mostly. Uniqueness is
// (account, member_id).
type Connection struct {
	AccountID   int64     `json:"account_id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Headline    string    `json:"headline"`
	PublicID    string    `json:"public_id"`
	HashID      string    `json:"hash_id"`
	MemberID    string    `json:"member_id"`
	Source      string    `json:"source"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Conversation is a conversation-list summary, fully overwritten whenever a
// sync observes a newer last_activity_at. Uniqueness is (account, hash_id).
type Conversation struct {
	AccountID              int64      `json:"account_id"`
	HashID                 string     `json:"hash_id"`
	ConversationURN        string     `json:"conversation_urn"`
	ConversationURL        string     `json:"conversation_url"`
	PublicID               string     `json:"public_id"`
	MemberID               string     `json:"member_id"`
	FirstName              string     `json:"first_name"`
	LastName               string     `json:"last_name"`
	Headline               string     `json:"headline"`
	Distance               string     `json:"distance"`
	UnreadCount            int        `json:"unread_count"`
	CreatedAt              *time.Time `json:"created_at"`
	LastActivityAt         time.Time  `json:"last_activity_at"`
	LastReadAt             *time.Time `json:"last_read_at"`
	IsGroupChat            bool       `json:"is_group_chat"`
	LastMessageText        string     `json:"last_message_text"`
	LastMessageSender      string     `json:"last_message_sender"`
	LastMessageDeliveredAt *time.Time `json:"last_message_delivered_at"`
	Source                 string     `json:"source"`
}

// SourceOriginal tags records observed by the realtime pipeline itself.
const SourceOriginal = "original"

// EventType is the notification class an event belongs to.
type EventType string

const (
	// EventNetwork signals new network-growth activity.
	EventNetwork EventType = "network"
	// EventMessages signals new message activity.
	EventMessages EventType = "messages"
)

// EventSource says which detection path produced the event.
type EventSource string

const (
	// SourceDetector marks events produced by the indicator detector.
	SourceDetector EventSource = "detector"
	// SourceFallback marks events produced by the unconditional fallback poll.
	SourceFallback EventSource = "fallback"
)

// Priority is the throttling class of an event.
type Priority string

const (
	PriorityHigh Priority = "high"
	PriorityLow  Priority = "low"
)

// Event is an in-process detection event. Never persisted.
type Event struct {
	Type       EventType
	Source     EventSource
	Priority   Priority
	BadgeCount int
}
