package stream

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/firehose/internal/connection"
	"github.com/rickgao/firehose/internal/router"
)

// Errors
var (
	ErrStreamRead     = errors.New("no bytes read from stream")
	ErrBadFrame       = errors.New("invalid frame length prefix")
	ErrFrameTooLarge  = errors.New("frame exceeds max size")
	ErrAlreadyStarted = errors.New("engine already started")
)

// Feed is a concrete stream type: where to connect and how to classify
// what comes back.
type Feed interface {
	router.Classifier

	// Endpoint returns the streaming request for this feed.
	Endpoint() connection.Endpoint
}

// Writer receives flushed batches.
type Writer interface {
	Write(ctx context.Context, batch router.Batch) error
}

// WriterFunc is a function adapter for Writer.
type WriterFunc func(ctx context.Context, batch router.Batch) error

func (f WriterFunc) Write(ctx context.Context, batch router.Batch) error {
	return f(ctx, batch)
}

// Config configures the Engine.
type Config struct {
	FlushInterval      time.Duration // How often buffered channels are drained
	StaleThreshold     time.Duration // Max time without any byte before reconnecting
	StaleCheckInterval time.Duration // How often the liveness monitor checks (<= StaleThreshold)
	MaxFrameSize       int           // Largest accepted payload in bytes

	Backoff   connection.BackoffConfig
	Connector connection.ConnectorConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FlushInterval:      2 * time.Second,
		StaleThreshold:     90 * time.Second,
		StaleCheckInterval: 1 * time.Second,
		MaxFrameSize:       16 << 20,
		Backoff:            connection.DefaultBackoffConfig(),
		Connector:          connection.DefaultConnectorConfig(),
	}
}

// Stats holds engine statistics.
type Stats struct {
	Connected        bool
	Connects         int64
	ConnectFailures  int64
	ReadFailures     int64
	StaleTimeouts    int64
	RetriesScheduled int64
	NextRetryDelay   time.Duration
	Frames           int64
	KeepAlives       int64
	ParseErrors      int64
	Dropped          int64
	Batches          int64
	WriteErrors      int64
	LastReceive      time.Time
	Channels         map[string]router.ChannelStats
}
