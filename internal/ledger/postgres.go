package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/triage-ai/medalert/internal/engine"
)

// advisoryLockKey serializes ledger mutations across connections and processes.
const advisoryLockKey = 0x6d65646c // "medl"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS history_entries (
	id             BIGINT PRIMARY KEY,
	text           TEXT NOT NULL,
	timestamp      TEXT NOT NULL,
	date           TEXT NOT NULL,
	advice_title   TEXT NOT NULL,
	advice_message TEXT NOT NULL,
	advice_risk    TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresLedger stores the ledger in the history_entries table.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger creates a ledger backed by the given connection pool.
// The caller registers the pgx driver and owns the pool's lifetime via Close.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Migrate creates the history_entries table if it does not exist.
func (l *PostgresLedger) Migrate(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("Migrate: %w", err)
	}
	return nil
}

// Append inserts the entry and prunes everything beyond the newest
// MaxEntries rows in the same transaction.
func (l *PostgresLedger) Append(ctx context.Context, e Entry) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockKey); err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO history_entries (id, text, timestamp, date, advice_title, advice_message, advice_risk)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Text, e.Timestamp, e.Date, e.Advice.Title, e.Advice.Message, string(e.Advice.Risk),
	); err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM history_entries
		WHERE id NOT IN (SELECT id FROM history_entries ORDER BY id DESC LIMIT $1)`,
		MaxEntries,
	); err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	return nil
}

// List returns up to MaxEntries rows, newest first.
func (l *PostgresLedger) List(ctx context.Context) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, text, timestamp, date, advice_title, advice_message, advice_risk
		FROM history_entries
		ORDER BY id DESC
		LIMIT $1`, MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var risk string
		if err := rows.Scan(&e.ID, &e.Text, &e.Timestamp, &e.Date,
			&e.Advice.Title, &e.Advice.Message, &risk); err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		e.Advice.Risk = engine.Risk(risk)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return entries, nil
}

// Clear deletes every entry.
func (l *PostgresLedger) Clear(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM history_entries`); err != nil {
		return fmt.Errorf("Clear: %w", err)
	}
	return nil
}

// Close closes the underlying pool.
func (l *PostgresLedger) Close() error {
	return l.db.Close()
}
