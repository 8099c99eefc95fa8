// Package postgres provides a durable audit log store on PostgreSQL for
// deployments that keep the security trail in the relational database
// next to the records it protects. The table is written append-only; the
// store exposes no update or delete path.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schoolsync/authcore/internal/audit"
)

// Schema is the DDL for the audit log table. Applied by the embedding
// application's migration tooling, not by this package.
const Schema = `
CREATE TABLE IF NOT EXISTS security_audit_log (
	id          UUID PRIMARY KEY,
	timestamp   TIMESTAMPTZ NOT NULL,
	event_type  TEXT NOT NULL,
	user_id     TEXT,
	ip          TEXT,
	user_agent  TEXT,
	channel     TEXT,
	success     BOOLEAN NOT NULL,
	error       TEXT,
	metadata    JSONB
);
CREATE INDEX IF NOT EXISTS idx_audit_user_ts ON security_audit_log (user_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_type_ts ON security_audit_log (event_type, timestamp DESC);
`

// Store persists audit events through a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an existing pool. The pool's lifecycle belongs to the
// caller.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Append inserts one event.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO security_audit_log
			(id, timestamp, event_type, user_id, ip, user_agent, channel, success, error, metadata)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, NULLIF($9, ''), $10)
	`, event.ID, event.Timestamp, event.EventType, event.UserID, event.IP,
		event.UserAgent, event.Channel, event.Success, event.Error, event.Metadata)
	if err != nil {
		return fmt.Errorf("%w: %v", audit.ErrStoreUnavailable, err)
	}
	return nil
}

// Query reads events newest-first, filtered by identity, kind, and time
// range.
func (s *Store) Query(ctx context.Context, q audit.Query) ([]audit.Event, error) {
	var (
		conds []string
		args  []interface{}
	)

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if q.UserID != "" {
		add("user_id = $%d", q.UserID)
	}
	if len(q.EventTypes) > 0 {
		add("event_type = ANY($%d)", q.EventTypes)
	}
	if !q.From.IsZero() {
		add("timestamp >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("timestamp <= $%d", q.To)
	}

	query := `
		SELECT id, timestamp, event_type,
			COALESCE(user_id, ''), COALESCE(ip, ''), COALESCE(user_agent, ''),
			COALESCE(channel, ''), success, COALESCE(error, ''), metadata
		FROM security_audit_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audit.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var event audit.Event
		err := rows.Scan(&event.ID, &event.Timestamp, &event.EventType,
			&event.UserID, &event.IP, &event.UserAgent,
			&event.Channel, &event.Success, &event.Error, &event.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", audit.ErrStoreUnavailable, err)
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil && err != pgx.ErrNoRows {
		return nil, fmt.Errorf("%w: %v", audit.ErrStoreUnavailable, err)
	}
	return out, nil
}
