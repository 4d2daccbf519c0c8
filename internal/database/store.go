// Package database provides the Postgres-backed persistence layer.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tuilink/realtime-monitor/internal/monitor"
)

// querier is the slice of pgxpool.Pool the store needs; pgxmock satisfies it
// in tests.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// Store implements monitor.Store on Postgres.
type Store struct {
	pool querier
}

// NewStore connects a pool and verifies it with a ping.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for
// testing).
func NewStoreWithPool(pool querier) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

const accountColumns = `
	id,
	email,
	password,
	COALESCE(proxy_ip, ''),
	COALESCE(proxy_port, ''),
	COALESCE(proxy_username, ''),
	COALESCE(proxy_password, ''),
	monitor_enabled,
	status,
	last_heartbeat_at,
	COALESCE(hash_id, ''),
	COALESCE(callback_url, ''),
	COALESCE(callback_token, '')`

func scanAccount(row pgx.Row) (monitor.Account, error) {
	var (
		a      monitor.Account
		status string
	)
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.Password,
		&a.Proxy.IP,
		&a.Proxy.Port,
		&a.Proxy.Username,
		&a.Proxy.Password,
		&a.MonitorEnabled,
		&status,
		&a.LastHeartbeatAt,
		&a.HashID,
		&a.CallbackURL,
		&a.CallbackToken,
	)
	if err != nil {
		return monitor.Account{}, err
	}
	a.Status, err = monitor.ParseStatus(status)
	if err != nil {
		return monitor.Account{}, err
	}
	return a, nil
}

// GetAccount loads one account by id.
func (s *Store) GetAccount(ctx context.Context, id int64) (monitor.Account, error) {
	query := `SELECT` + accountColumns + ` FROM accounts WHERE id = $1`
	account, err := scanAccount(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.Account{}, monitor.ErrAccountNotFound
	}
	if err != nil {
		return monitor.Account{}, fmt.Errorf("get account %d: %w", id, err)
	}
	return account, nil
}

// ListEligibleAccounts returns accounts that should have a worker running.
func (s *Store) ListEligibleAccounts(ctx context.Context) ([]monitor.Account, error) {
	query := `SELECT` + accountColumns + ` FROM accounts WHERE monitor_enabled AND status = 'active' ORDER BY id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list eligible accounts: %w", err)
	}
	defer rows.Close()

	var accounts []monitor.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list eligible accounts: %w", err)
	}
	return accounts, nil
}

// UpdateHeartbeat records the worker's liveness timestamp.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE accounts SET last_heartbeat_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("update heartbeat for account %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.ErrAccountNotFound
	}
	return nil
}

// MarkAccountError flips the account into the error state and disables
// monitoring so the supervisor will not restart its worker.
func (s *Store) MarkAccountError(ctx context.Context, id int64, reason string) error {
	query := `UPDATE accounts SET status = 'error', monitor_enabled = FALSE, error_reason = $2 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("mark account %d error: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.ErrAccountNotFound
	}
	return nil
}

// SetAccountHashID persists the account's resolved hash id.
func (s *Store) SetAccountHashID(ctx context.Context, id int64, hashID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE accounts SET hash_id = $2 WHERE id = $1`, id, hashID)
	if err != nil {
		return fmt.Errorf("set hash id for account %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.ErrAccountNotFound
	}
	return nil
}

// LatestConnectionHashID returns the hash id of the most recently connected
// record for the account, or "" when none is stored.
func (s *Store) LatestConnectionHashID(ctx context.Context, accountID int64) (string, error) {
	query := `SELECT hash_id FROM connections WHERE account_id = $1 ORDER BY connected_at DESC LIMIT 1`
	var hashID string
	err := s.pool.QueryRow(ctx, query, accountID).Scan(&hashID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest connection for account %d: %w", accountID, err)
	}
	return hashID, nil
}

// MaxConversationActivity returns the newest stored last_activity_at for the
// account; ok is false when no conversation is stored yet.
func (s *Store) MaxConversationActivity(ctx context.Context, accountID int64) (time.Time, bool, error) {
	query := `SELECT MAX(last_activity_at) FROM conversations WHERE account_id = $1`
	var max *time.Time
	if err := s.pool.QueryRow(ctx, query, accountID).Scan(&max); err != nil {
		return time.Time{}, false, fmt.Errorf("max conversation activity for account %d: %w", accountID, err)
	}
	if max == nil {
		return time.Time{}, false, nil
	}
	return *max, true, nil
}

const insertConnectionQuery = `
INSERT INTO connections (
	account_id,
	first_name,
	last_name,
	headline,
	public_id,
	hash_id,
	member_id,
	source,
	connected_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (account_id, member_id) DO NOTHING`

// InsertConnections bulk-inserts connections, silently skipping records the
// account already has, and returns the number of rows actually written.
func (s *Store) InsertConnections(ctx context.Context, conns []monitor.Connection) (int64, error) {
	var inserted int64
	for _, c := range conns {
		tag, err := s.pool.Exec(ctx, insertConnectionQuery,
			c.AccountID,
			c.FirstName,
			c.LastName,
			c.Headline,
			c.PublicID,
			c.HashID,
			c.MemberID,
			c.Source,
			c.ConnectedAt,
		)
		if err != nil {
			return inserted, fmt.Errorf("insert connection %s for account %d: %w", c.MemberID, c.AccountID, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

const upsertConversationQuery = `
INSERT INTO conversations (
	account_id,
	hash_id,
	conversation_urn,
	conversation_url,
	public_id,
	member_id,
	first_name,
	last_name,
	headline,
	distance,
	unread_count,
	created_at,
	last_activity_at,
	last_read_at,
	is_group_chat,
	last_message_text,
	last_message_sender,
	last_message_delivered_at,
	source
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
ON CONFLICT (account_id, hash_id) DO UPDATE SET
	conversation_urn = EXCLUDED.conversation_urn,
	conversation_url = EXCLUDED.conversation_url,
	public_id = EXCLUDED.public_id,
	member_id = EXCLUDED.member_id,
	first_name = EXCLUDED.first_name,
	last_name = EXCLUDED.last_name,
	headline = EXCLUDED.headline,
	distance = EXCLUDED.distance,
	unread_count = EXCLUDED.unread_count,
	created_at = EXCLUDED.created_at,
	last_activity_at = EXCLUDED.last_activity_at,
	last_read_at = EXCLUDED.last_read_at,
	is_group_chat = EXCLUDED.is_group_chat,
	last_message_text = EXCLUDED.last_message_text,
	last_message_sender = EXCLUDED.last_message_sender,
	last_message_delivered_at = EXCLUDED.last_message_delivered_at,
	source = EXCLUDED.source`

// UpsertConversation creates the row or overwrites all mutable fields, keyed
// on (account_id, hash_id).
func (s *Store) UpsertConversation(ctx context.Context, conv monitor.Conversation) error {
	_, err := s.pool.Exec(ctx, upsertConversationQuery,
		conv.AccountID,
		conv.HashID,
		conv.ConversationURN,
		conv.ConversationURL,
		conv.PublicID,
		conv.MemberID,
		conv.FirstName,
		conv.LastName,
		conv.Headline,
		conv.Distance,
		conv.UnreadCount,
		conv.CreatedAt,
		conv.LastActivityAt,
		conv.LastReadAt,
		conv.IsGroupChat,
		conv.LastMessageText,
		conv.LastMessageSender,
		conv.LastMessageDeliveredAt,
		conv.Source,
	)
	if err != nil {
		return fmt.Errorf("upsert conversation %s for account %d: %w", conv.HashID, conv.AccountID, err)
	}
	return nil
}
