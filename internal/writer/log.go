package writer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rickgao/firehose/internal/router"
)

// LogWriter logs every batch. Messages themselves are logged at debug.
type LogWriter struct {
	logger *slog.Logger
}

// NewLogWriter creates a LogWriter.
func NewLogWriter(logger *slog.Logger) *LogWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(ctx context.Context, batch router.Batch) error {
	w.logger.InfoContext(ctx, "flushed batch",
		"channel", batch.Channel,
		"batch_id", batch.ID,
		"count", len(batch.Messages),
	)

	if !w.logger.Enabled(ctx, slog.LevelDebug) {
		return nil
	}
	for i, msg := range batch.Messages {
		data, err := json.Marshal(msg)
		if err != nil {
			w.logger.Error("could not encode message", "channel", batch.Channel, "position", i, "error", err)
			continue
		}
		w.logger.DebugContext(ctx, "message", "channel", batch.Channel, "position", i, "payload", string(data))
	}
	return nil
}
