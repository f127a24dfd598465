package writer

import (
	"context"
	"errors"

	"github.com/rickgao/firehose/internal/router"
)

// Errors
var (
	ErrHubClosed = errors.New("hub closed")
)

// Writer receives flushed batches.
type Writer interface {
	Write(ctx context.Context, batch router.Batch) error
}

// WriterMetrics provides statistics about a writer.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}
