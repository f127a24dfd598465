package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rickgao/firehose/internal/connection"
	"github.com/rickgao/firehose/internal/router"
)

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock driving the flush task, the liveness monitor and
// reconnect delays.
func WithClock(clk clock.Clock) Option {
	return func(e *Engine) {
		e.clock = clk
	}
}

// WithHTTPClientFactory overrides how per-connect HTTP clients are built.
func WithHTTPClientFactory(f func(connection.ConnectorConfig) *http.Client) Option {
	return func(e *Engine) {
		e.newClient = f
	}
}

// Engine is the streaming ingestion engine.
type Engine struct {
	cfg    Config
	feed   Feed
	writer Writer
	logger *slog.Logger
	clock  clock.Clock

	newClient connection.HTTPClientFactory

	conns  *connection.Manager
	buffer *router.ChannelBuffer[router.Message]
	live   LivenessClock

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	writeCtx context.Context // Start's values without its cancellation
	wg       sync.WaitGroup

	// Scheduling state
	mu      sync.Mutex
	started bool
	stopped bool
	gen     uint64 // Incremented at the start of every reader run
	retry   *clock.Timer
	monitor *periodicTask
	flusher *periodicTask

	// Stats
	readFailures  atomic.Int64
	staleTimeouts atomic.Int64
	retries       atomic.Int64
	frames        atomic.Int64
	keepAlives    atomic.Int64
	parseErrors   atomic.Int64
	dropped       atomic.Int64
	batches       atomic.Int64
	writeErrors   atomic.Int64
}

// NewEngine creates a new Engine for feed. Flushed batches go to writer.
func NewEngine(cfg Config, feed Feed, signer connection.Signer, writer Writer, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	e := &Engine{
		cfg:    cfg,
		feed:   feed,
		writer: writer,
		logger: logger,
		clock:  clock.New(),
		buffer: router.NewChannelBuffer[router.Message](),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.conns = connection.NewManager(cfg.Connector, signer, connection.NewBackoff(cfg.Backoff), logger.With("component", "connection"))
	if e.newClient != nil {
		e.conns.SetHTTPClientFactory(e.newClient)
	}

	return e
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = def.StaleThreshold
	}
	if c.StaleCheckInterval <= 0 {
		c.StaleCheckInterval = def.StaleCheckInterval
	}
	if c.StaleCheckInterval > c.StaleThreshold {
		c.StaleCheckInterval = c.StaleThreshold
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = def.MaxFrameSize
	}
	if c.Backoff.Floor <= 0 {
		c.Backoff.Floor = def.Backoff.Floor
	}
	if c.Connector.ConnectTimeout <= 0 {
		c.Connector.ConnectTimeout = def.Connector.ConnectTimeout
	}
	return c
}

// Start begins streaming and flushing.
//
// Cancelling ctx halts reading and reconnects, but buffered results keep
// flushing until Stop drains them.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.writeCtx = context.WithoutCancel(ctx)
	e.flusher = startPeriodic(e.clock, e.cfg.FlushInterval, e.flush)
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		e.runStream()
	}()

	e.logger.Info("stream engine started",
		"url", e.feed.Endpoint().URL,
		"flush_interval", e.cfg.FlushInterval,
		"stale_threshold", e.cfg.StaleThreshold,
		"backoff_floor", e.cfg.Backoff.Floor,
	)

	return nil
}

// Stop cancels every schedule, closes the connection so a blocked read
// returns, waits for the reader to exit and drains what is left.
func (e *Engine) Stop(ctx context.Context) error {
	e.logger.Info("stopping stream engine")

	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	flusher := e.flusher
	flusher.Cancel()
	e.monitor.Cancel()
	e.monitor = nil
	if e.retry != nil && e.retry.Stop() {
		// The retry never fired, so its worker never ran.
		e.wg.Done()
	}
	e.retry = nil
	e.mu.Unlock()

	e.cancel()
	e.conns.Disconnect()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warn("stream engine stop timed out")
	}

	// A tick already writing must finish before the final drain.
	flusher.Wait(ctx)

	// Final drain
	e.Flush(ctx)

	e.logger.Info("stream engine stopped")
	return nil
}

// Flush drains every channel into the writer now.
func (e *Engine) Flush(ctx context.Context) {
	now := e.clock.Now()

	for _, name := range e.buffer.Names() {
		msgs := e.buffer.Swap(name)
		if len(msgs) == 0 {
			continue
		}

		batch := router.NewBatch(name, msgs, now)
		e.batches.Add(1)

		if err := e.writer.Write(ctx, batch); err != nil {
			e.writeErrors.Add(1)
			e.logger.Error("failed to write batch",
				"channel", name,
				"count", len(msgs),
				"batch_id", batch.ID,
				"error", err,
			)
		}
	}
}

// flush is the flush task tick.
func (e *Engine) flush() {
	e.Flush(e.writeCtx)
}

// runStream is one reader run: drop the stale connection, connect, then
// read frames until an error or stop.
func (e *Engine) runStream() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.gen++
	gen := e.gen
	e.mu.Unlock()

	// A previous reader still blocked on the old connection exits on the
	// resulting error without scheduling anything.
	e.conns.Disconnect()

	// Derived counters are only valid for one connection.
	e.feed.Reset()

	body, ok := e.conns.Connect(e.ctx, e.feed.Endpoint())
	if !ok {
		e.scheduleRetry(gen, "connect failed")
		return
	}
	defer e.conns.Release(body)

	if !e.onConnected(gen) {
		return
	}

	dec := NewDecoder(body, e.cfg.MaxFrameSize)
	dec.OnReceive = func() {
		e.live.Touch(e.clock.Now())
	}

	for {
		if e.isStopped() {
			return
		}

		payload, err := dec.ReadMessage()
		if err != nil {
			if e.isStopped() || !e.isCurrent(gen) || e.ctx.Err() != nil {
				return
			}
			e.readFailures.Add(1)
			e.logger.Error("error while streaming",
				"error", err,
				"bytes_read", dec.Consumed(),
				"bad_frame", errors.Is(err, ErrBadFrame) || errors.Is(err, ErrFrameTooLarge),
			)
			e.scheduleRetry(gen, "read failed")
			return
		}

		if payload == nil {
			e.keepAlives.Add(1)
			e.logger.Debug("received keep-alive")
			continue
		}

		e.frames.Add(1)
		e.record(payload)
	}
}

// onConnected stamps the liveness clock and rearms the monitor for run gen.
// Returns false if the run was superseded or the engine stopped meanwhile.
func (e *Engine) onConnected(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped || gen != e.gen {
		return false
	}

	e.live.Touch(e.clock.Now())

	e.monitor.Cancel()
	e.monitor = startPeriodic(e.clock, e.cfg.StaleCheckInterval, func() {
		e.checkLiveness(gen)
	})

	return true
}

// record decodes, classifies and buffers one payload. Malformed payloads
// are logged and dropped; the stream itself is still healthy.
func (e *Engine) record(payload []byte) {
	msg, err := router.DecodeMessage(payload)
	if err != nil {
		e.parseErrors.Add(1)
		e.logger.Error("could not parse message", "error", err, "bytes", len(payload))
		return
	}

	channel, out, ok := e.feed.Classify(msg)
	if !ok {
		e.dropped.Add(1)
		return
	}

	e.buffer.Append(channel, out)
}

// checkLiveness is the liveness monitor tick.
func (e *Engine) checkLiveness(gen uint64) {
	since := e.live.Since(e.clock.Now())
	if since <= e.cfg.StaleThreshold {
		return
	}
	if !e.isCurrent(gen) {
		return
	}

	e.staleTimeouts.Add(1)
	e.logger.Warn("no data received, we might be disconnected",
		"since_last_receive", since,
		"threshold", e.cfg.StaleThreshold,
	)
	e.scheduleRetry(gen, "stale connection")
}

// scheduleRetry arranges a fresh reader run after the current backoff delay
// and doubles the delay. Only the current run may schedule, and only one
// retry is ever pending.
func (e *Engine) scheduleRetry(gen uint64, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped || gen != e.gen || e.retry != nil {
		return
	}
	if e.ctx.Err() != nil {
		e.monitor.Cancel()
		e.monitor = nil
		e.logger.Info("not reconnecting, context done", "reason", reason)
		return
	}

	e.monitor.Cancel()
	e.monitor = nil

	delay := e.conns.Backoff().Next()
	e.retries.Add(1)

	e.wg.Add(1)
	e.retry = e.clock.AfterFunc(delay, e.retryFired)

	e.logger.Info("reconnecting",
		"reason", reason,
		"delay", delay,
	)
}

// retryFired runs when a scheduled retry is due.
func (e *Engine) retryFired() {
	defer e.wg.Done()

	e.mu.Lock()
	e.retry = nil
	stopped := e.stopped
	e.mu.Unlock()

	if stopped {
		return
	}
	e.runStream()
}

func (e *Engine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

func (e *Engine) isCurrent(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return gen == e.gen
}

// Stats returns current statistics.
func (e *Engine) Stats() Stats {
	conn := e.conns.Stats()

	return Stats{
		Connected:        conn.Connected,
		Connects:         conn.Connects,
		ConnectFailures:  conn.ConnectFailures,
		ReadFailures:     e.readFailures.Load(),
		StaleTimeouts:    e.staleTimeouts.Load(),
		RetriesScheduled: e.retries.Load(),
		NextRetryDelay:   e.conns.Backoff().Peek(),
		Frames:           e.frames.Load(),
		KeepAlives:       e.keepAlives.Load(),
		ParseErrors:      e.parseErrors.Load(),
		Dropped:          e.dropped.Load(),
		Batches:          e.batches.Load(),
		WriteErrors:      e.writeErrors.Load(),
		LastReceive:      e.live.Last(),
		Channels:         e.buffer.Stats(),
	}
}

// LastReceive returns when the last byte arrived.
func (e *Engine) LastReceive() time.Time {
	return e.live.Last()
}
