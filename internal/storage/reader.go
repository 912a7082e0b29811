package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// DefaultListLimit and MaxListLimit bound ListDispatches.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ClickHouseReader provides read access to the dispatch_events table.
type ClickHouseReader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewClickHouseReader opens a ClickHouse connection for read queries.
func NewClickHouseReader(ctx context.Context, dsn string, logger *zap.Logger) (*ClickHouseReader, error) {
	conn, err := openClickHouse(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("NewClickHouseReader: %w", err)
	}
	return &ClickHouseReader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *ClickHouseReader) Close() error {
	return r.conn.Close()
}

// ListDispatchesParams filters ListDispatches.
type ListDispatchesParams struct {
	Source string     // "" for all
	Status string     // "" for all
	Since  *time.Time // nil for no lower bound
	Limit  int
}

// ClampLimit maps a requested limit onto [1, MaxListLimit], using
// DefaultListLimit for non-positive values.
func ClampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultListLimit
	case n > MaxListLimit:
		return MaxListLimit
	}
	return n
}

// ListDispatches returns the most recent dispatch events, newest first.
func (r *ClickHouseReader) ListDispatches(ctx context.Context, params ListDispatchesParams) ([]DispatchEvent, error) {
	query := "SELECT event_id, timestamp, reason, symptoms, risk, confidence, " +
		"status, is_dry_run, message, transcript_hash, latency_ms, source " +
		"FROM dispatch_events WHERE 1 = 1"
	var args []any
	if params.Source != "" {
		query += " AND source = @source"
		args = append(args, clickhouse.Named("source", params.Source))
	}
	if params.Status != "" {
		query += " AND status = @status"
		args = append(args, clickhouse.Named("status", params.Status))
	}
	if params.Since != nil {
		query += " AND timestamp >= @since"
		args = append(args, clickhouse.Named("since", *params.Since))
	}
	query += " ORDER BY timestamp DESC LIMIT @limit"
	args = append(args, clickhouse.Named("limit", uint32(ClampLimit(params.Limit))))

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListDispatches query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []DispatchEvent{}
	for rows.Next() {
		var (
			e      DispatchEvent
			dryRun uint8
		)
		if err := rows.Scan(
			&e.EventID, &e.Timestamp, &e.Reason, &e.Symptoms, &e.Risk, &e.Confidence,
			&e.Status, &dryRun, &e.Message, &e.TranscriptHash, &e.LatencyMs, &e.Source,
		); err != nil {
			return nil, fmt.Errorf("ListDispatches scan: %w", err)
		}
		e.IsDryRun = dryRun == 1
		events = append(events, e)
	}
	return events, rows.Err()
}
