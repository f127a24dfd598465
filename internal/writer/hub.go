package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/firehose/internal/router"
)

// HubConfig configures the websocket hub.
type HubConfig struct {
	WriteTimeout time.Duration // Deadline for a single frame to a subscriber
	PingInterval time.Duration // How often subscribers are pinged
	SendBuffer   int           // Queued batches per subscriber before it is dropped
}

// DefaultHubConfig returns sensible defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		SendBuffer:   64,
	}
}

// Hub broadcasts batches to websocket subscribers.
//
// Subscribers connect through ServeHTTP and may pass ?channel=name (repeatable)
// to receive only those channels. A subscriber that cannot keep up is dropped.
type Hub struct {
	cfg      HubConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*subscriber]struct{}
	closed  bool

	// Stats
	sent    atomic.Int64
	dropped atomic.Int64
}

type subscriber struct {
	conn     *websocket.Conn
	send     chan []byte
	channels map[string]bool // nil means all
	done     chan struct{}
	once     sync.Once
}

func (s *subscriber) wants(channel string) bool {
	return s.channels == nil || s.channels[channel]
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// NewHub creates a Hub.
func NewHub(cfg HubConfig, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultHubConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}

	return &Hub{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*subscriber]struct{}),
	}
}

// ServeHTTP upgrades the request and registers a subscriber.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, ErrHubClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sub := &subscriber{
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
		done: make(chan struct{}),
	}
	if names := r.URL.Query()["channel"]; len(names) > 0 {
		sub.channels = make(map[string]bool, len(names))
		for _, name := range names {
			sub.channels[name] = true
		}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[sub] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("subscriber connected", "remote", r.RemoteAddr)

	go h.readLoop(sub)
	h.writeLoop(sub)
}

// Write broadcasts the batch to every interested subscriber without blocking.
func (h *Hub) Write(ctx context.Context, batch router.Batch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}

	for sub := range h.clients {
		if !sub.wants(batch.Channel) {
			continue
		}
		select {
		case sub.send <- data:
			h.sent.Add(1)
		default:
			// Too slow; drop it rather than hold up the flush.
			h.dropped.Add(1)
			delete(h.clients, sub)
			sub.close()
			h.logger.Warn("dropping slow subscriber", "remote", sub.conn.RemoteAddr().String())
		}
	}

	return nil
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber. Later writes return ErrHubClosed.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	for sub := range h.clients {
		sub.close()
	}
	clear(h.clients)
	return nil
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	delete(h.clients, sub)
	h.mu.Unlock()
	sub.close()
}

// readLoop drains and discards client frames so control frames are handled
// and a closed peer is noticed.
func (h *Hub) readLoop(sub *subscriber) {
	defer h.remove(sub)

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop sends queued batches and pings until the subscriber goes away.
func (h *Hub) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		h.remove(sub)
		sub.conn.Close()
	}()

	for {
		select {
		case <-sub.done:
			sub.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			return

		case data := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("subscriber write failed", "error", err)
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			if err := sub.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				return
			}
		}
	}
}

// HubStats provides statistics about the hub.
type HubStats struct {
	Subscribers int
	Sent        int64
	Dropped     int64
}

// Stats returns current statistics.
func (h *Hub) Stats() HubStats {
	return HubStats{
		Subscribers: h.Subscribers(),
		Sent:        h.sent.Load(),
		Dropped:     h.dropped.Load(),
	}
}
