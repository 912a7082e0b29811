package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 1_000
	flushInterval = 250 * time.Millisecond
	flushBatch    = 100
	drainTimeout  = 2 * time.Second
)

// dispatchEventsDDL creates the audit table if it is missing.
const dispatchEventsDDL = `
CREATE TABLE IF NOT EXISTS dispatch_events (
	event_id        String,
	timestamp       DateTime64(3),
	reason          String,
	symptoms        Array(String),
	risk            LowCardinality(String),
	confidence      Float64,
	status          LowCardinality(String),
	is_dry_run      UInt8,
	message         String,
	transcript_hash String,
	latency_ms      Float32,
	source          LowCardinality(String)
) ENGINE = MergeTree
ORDER BY timestamp`

// openClickHouse parses dsn, opens a connection and pings it.
func openClickHouse(ctx context.Context, dsn string) (driver.Conn, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	// ClickHouse Cloud on 9440 requires TLS even when the DSN omits ?secure=true.
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// ClickHouseWriter writes dispatch events to ClickHouse asynchronously.
// Write() is non-blocking; events are buffered and batch-inserted in a background goroutine.
type ClickHouseWriter struct {
	conn    driver.Conn
	send    func([]*DispatchEvent)
	buffer  chan *DispatchEvent
	done    chan struct{}
	flushed chan struct{} // closed by flushLoop when it returns
	logger  *zap.Logger
}

// NewClickHouseWriter connects, ensures the dispatch_events table exists and
// starts the background flush loop.
func NewClickHouseWriter(ctx context.Context, dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	conn, err := openClickHouse(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("NewClickHouseWriter: %w", err)
	}
	if err := conn.Exec(ctx, dispatchEventsDDL); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("NewClickHouseWriter: create table: %w", err)
	}

	w := newClickHouseWriter(nil, logger)
	w.conn = conn
	w.send = w.insert
	go w.flushLoop()
	return w, nil
}

// newClickHouseWriter builds a writer around send without starting it.
func newClickHouseWriter(send func([]*DispatchEvent), logger *zap.Logger) *ClickHouseWriter {
	return &ClickHouseWriter{
		send:    send,
		buffer:  make(chan *DispatchEvent, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}
}

// Write queues a dispatch event for async insertion.
// Non-blocking: drops the event if the buffer is full.
func (w *ClickHouseWriter) Write(event *DispatchEvent) {
	select {
	case w.buffer <- event:
	default:
		w.logger.Warn("clickhouse buffer full, dropping dispatch event",
			zap.String("event_id", event.EventID),
		)
	}
}

// Close signals the flush loop to drain remaining events, waits for it to
// finish (up to drainTimeout), then closes the connection. Safe to call once.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
	if w.conn != nil {
		if err := w.conn.Close(); err != nil {
			w.logger.Warn("clickhouse close failed", zap.Error(err))
		}
	}
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*DispatchEvent, 0, flushBatch)

	for {
		select {
		case event := <-w.buffer:
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				w.send(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.send(batch)
				batch = batch[:0]
			}
		case <-w.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case event := <-w.buffer:
					batch = append(batch, event)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.send(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) insert(events []*DispatchEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO dispatch_events (
			event_id, timestamp, reason, symptoms, risk, confidence,
			status, is_dry_run, message, transcript_hash, latency_ms, source
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, e := range events {
		var dryRun uint8
		if e.IsDryRun {
			dryRun = 1
		}
		symptoms := e.Symptoms
		if symptoms == nil {
			symptoms = []string{}
		}
		if err := batch.Append(
			e.EventID,
			e.Timestamp,
			e.Reason,
			symptoms,
			e.Risk,
			e.Confidence,
			e.Status,
			dryRun,
			e.Message,
			e.TranscriptHash,
			e.LatencyMs,
			e.Source,
		); err != nil {
			w.logger.Error("clickhouse append dispatch event failed",
				zap.String("event_id", e.EventID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}

// LogWriter is a fallback EventWriter for local development.
// It logs dispatch events as structured JSON via zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs events to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(event *DispatchEvent) {
	w.logger.Info("dispatch_event",
		zap.String("event_id", event.EventID),
		zap.Time("timestamp", event.Timestamp),
		zap.String("source", event.Source),
		zap.String("reason", event.Reason),
		zap.Strings("symptoms", event.Symptoms),
		zap.String("risk", event.Risk),
		zap.Float64("confidence", event.Confidence),
		zap.String("status", event.Status),
		zap.Bool("is_dry_run", event.IsDryRun),
		zap.String("transcript_hash", event.TranscriptHash),
		zap.Float32("latency_ms", event.LatencyMs),
	)
}

func (w *LogWriter) Close() {}
