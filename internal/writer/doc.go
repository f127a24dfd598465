// Package writer implements the sinks flushed batches are written to.
//
// Writers:
//   - LogWriter: structured log line per batch
//   - PostgresWriter: one JSONB row per message (PostgreSQL)
//   - Hub: broadcast to websocket subscribers
//   - Fanout: every batch to several writers concurrently
//
// Writers are append-only: a batch is never updated once written.
package writer
