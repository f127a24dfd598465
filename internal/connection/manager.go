package connection

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
)

// Manager owns the single live streaming connection.
//
// Connect replaces the active connection wholesale; the previous one is
// always closed first and never reused.
type Manager struct {
	cfg     ConnectorConfig
	signer  Signer
	backoff *Backoff
	logger  *slog.Logger

	newClient HTTPClientFactory

	mu     sync.Mutex
	active io.ReadCloser

	// Stats
	connects atomic.Int64
	failures atomic.Int64
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	Connected       bool
	Connects        int64
	ConnectFailures int64
}

// NewManager creates a Connection Manager.
func NewManager(cfg ConnectorConfig, signer Signer, backoff *Backoff, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if backoff == nil {
		backoff = NewBackoff(DefaultBackoffConfig())
	}

	return &Manager{
		cfg:       cfg,
		signer:    signer,
		backoff:   backoff,
		logger:    logger,
		newClient: NewHTTPClient,
	}
}

// SetHTTPClientFactory overrides how per-attempt HTTP clients are built.
func (m *Manager) SetHTTPClientFactory(f HTTPClientFactory) {
	if f != nil {
		m.newClient = f
	}
}

// Backoff returns the reconnect backoff state shared with the scheduler.
func (m *Manager) Backoff() *Backoff {
	return m.backoff
}

// Connect opens a new streaming connection to ep.
//
// Returns the response body and true only on HTTP 200. Any other status or
// transport error is logged and reported as false; the caller decides when
// to retry. On success the backoff is reset to its floor.
func (m *Manager) Connect(ctx context.Context, ep Endpoint) (io.ReadCloser, bool) {
	// At most one live connection.
	m.Disconnect()

	req, err := buildRequest(ctx, ep, m.signer, m.cfg.UserAgent)
	if err != nil {
		m.failures.Add(1)
		m.logger.Error("failed to build stream request", "url", ep.URL, "error", err)
		return nil, false
	}

	m.logger.Debug("connecting to stream", "method", req.Method, "url", ep.URL)

	client := m.newClient(m.cfg)
	resp, err := client.Do(req)
	if err != nil {
		m.failures.Add(1)
		m.logger.Error("error opening stream connection", "url", ep.URL, "error", err)
		return nil, false
	}

	if resp.StatusCode != http.StatusOK {
		body := readSnippet(resp.Body, 512)
		resp.Body.Close()
		m.failures.Add(1)
		m.logger.Warn("stream connect rejected",
			"status", resp.StatusCode,
			"url", ep.URL,
			"body", body,
		)
		return nil, false
	}

	m.backoff.Reset()
	m.connects.Add(1)

	m.mu.Lock()
	m.active = resp.Body
	m.mu.Unlock()

	m.logger.Info("connected to stream", "url", ep.URL)
	return resp.Body, true
}

// Disconnect closes the active connection, if any. A reader blocked on it
// unblocks with an error.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	active := m.active
	m.active = nil
	m.mu.Unlock()

	if active != nil {
		if err := active.Close(); err != nil {
			m.logger.Debug("error closing stream connection", "error", err)
		}
	}
}

// Release drops body as the active connection if it still is, closing it.
func (m *Manager) Release(body io.ReadCloser) {
	m.mu.Lock()
	if m.active == body {
		m.active = nil
	}
	m.mu.Unlock()

	if body != nil {
		body.Close()
	}
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	connected := m.active != nil
	m.mu.Unlock()

	return ManagerStats{
		Connected:       connected,
		Connects:        m.connects.Load(),
		ConnectFailures: m.failures.Load(),
	}
}
