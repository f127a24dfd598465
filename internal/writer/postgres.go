package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/firehose/internal/router"
)

// DB is the subset of *pgxpool.Pool the Postgres writer needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// DefaultTable is the table messages are written to.
const DefaultTable = "stream_messages"

// PostgresWriter inserts every message of a batch as one JSONB row.
type PostgresWriter struct {
	db     DB
	table  string
	logger *slog.Logger

	mu      sync.Mutex
	metrics WriterMetrics
}

// NewPostgresWriter creates a PostgresWriter. An empty table means DefaultTable.
func NewPostgresWriter(db DB, table string, logger *slog.Logger) *PostgresWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if table == "" {
		table = DefaultTable
	}
	return &PostgresWriter{
		db:     db,
		table:  table,
		logger: logger,
	}
}

// EnsureSchema creates the message table if it does not exist.
func (w *PostgresWriter) EnsureSchema(ctx context.Context) error {
	ident := pgx.Identifier{w.table}.Sanitize()
	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			batch_id   UUID        NOT NULL,
			position   INTEGER     NOT NULL,
			channel    TEXT        NOT NULL,
			flushed_at TIMESTAMPTZ NOT NULL,
			payload    JSONB       NOT NULL,
			PRIMARY KEY (batch_id, position)
		)`, ident)

	if _, err := w.db.Exec(ctx, sql); err != nil {
		return fmt.Errorf("create table %s: %w", w.table, err)
	}
	return nil
}

// Write inserts the batch using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *PostgresWriter) Write(ctx context.Context, batch router.Batch) error {
	if len(batch.Messages) == 0 {
		return nil
	}

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.mu.Lock()
		w.metrics.Errors++
		w.mu.Unlock()
		return fmt.Errorf("insert batch %s: %w", batch.ID, err)
	}

	w.mu.Lock()
	w.metrics.Inserts += int64(len(batch.Messages) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.mu.Unlock()

	w.logger.Debug("inserted batch",
		"channel", batch.Channel,
		"count", len(batch.Messages),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return nil
}

// Stats returns current metrics.
func (w *PostgresWriter) Stats() WriterMetrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.metrics
}

func (w *PostgresWriter) batchInsert(ctx context.Context, batch router.Batch) (conflicts int, err error) {
	sql := fmt.Sprintf(`
		INSERT INTO %s (batch_id, position, channel, flushed_at, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (batch_id, position) DO NOTHING
	`, pgx.Identifier{w.table}.Sanitize())

	b := &pgx.Batch{}
	for i, msg := range batch.Messages {
		payload, err := json.Marshal(msg)
		if err != nil {
			return 0, fmt.Errorf("encode message %d: %w", i, err)
		}
		b.Queue(sql, batch.ID, i, batch.Channel, batch.FlushedAt, payload)
	}

	results := w.db.SendBatch(ctx, b)
	defer results.Close()

	for range batch.Messages {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
