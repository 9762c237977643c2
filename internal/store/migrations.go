package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Migration struct {
	Version int
	Up      []string
}

// migrations use only types and syntax shared by PostgreSQL and SQLite.
// Timestamps are stored as fixed-width UTC text (see tsLayout) so that string
// comparison orders them.
var migrations = []Migration{
	{
		Version: 1,
		Up: []string{
			`CREATE TABLE IF NOT EXISTS operations (
	id TEXT PRIMARY KEY,
	transport_id TEXT NOT NULL,
	modality TEXT NOT NULL,
	eta TEXT NOT NULL,
	status TEXT NOT NULL,
	current_status TEXT NOT NULL,
	truck_status TEXT NOT NULL DEFAULT '',
	queue_priority BIGINT NOT NULL,
	transfer_plan TEXT NOT NULL,
	delay_json TEXT,
	requeue_json TEXT,
	version INTEGER NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS operations_queue_priority_idx ON operations(queue_priority)`,
			`CREATE TABLE IF NOT EXISTS holds (
	id TEXT PRIMARY KEY,
	resource TEXT NOT NULL,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT ''
)`,
			`CREATE INDEX IF NOT EXISTS holds_window_idx ON holds(start_time, end_time)`,
			`CREATE TABLE IF NOT EXISTS audit_log (
	id TEXT PRIMARY KEY,
	operation_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	kind TEXT NOT NULL,
	message TEXT NOT NULL,
	username TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	UNIQUE (operation_id, seq)
)`,
		},
	},
	{
		Version: 2,
		Up: []string{
			`CREATE TABLE IF NOT EXISTS subscriptions (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	events TEXT NOT NULL,
	secret TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id TEXT PRIMARY KEY,
	subscription_id TEXT NOT NULL DEFAULT '',
	event_type TEXT NOT NULL,
	url TEXT NOT NULL,
	secret TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	next_attempt_at TEXT NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	response_code INTEGER NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	delivered_at TEXT,
	dedup_key TEXT NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE (event_type, url, dedup_key)
)`,
			`CREATE INDEX IF NOT EXISTS webhook_deliveries_due_idx ON webhook_deliveries(status, next_attempt_at)`,
		},
	},
}

// Migrate applies every migration not yet recorded in schema_migrations.
func (s *SQL) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM schema_migrations WHERE version = ?`), m.Version).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}
		for _, stmt := range m.Up {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback() //nolint:errcheck
				return fmt.Errorf("apply migration %d: %w", m.Version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO schema_migrations(version, applied_at) VALUES (?, ?)`), m.Version, ts(time.Now())); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
