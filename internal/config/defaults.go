package config

import (
	"time"

	"github.com/rickgao/firehose/internal/feed"
)

// Default values for optional configuration fields.
const (
	DefaultFeedType           = FeedFilter
	DefaultFlushInterval      = 2 * time.Second
	DefaultStaleThreshold     = 90 * time.Second
	DefaultStaleCheckInterval = 1 * time.Second
	DefaultBackoffFloor       = 1 * time.Second
	DefaultConnectTimeout     = 45 * time.Second
	DefaultReadTimeout        = 45 * time.Second
	DefaultMaxFrameSize       = 16 << 20
	DefaultAPIBaseURL         = "https://api.twitter.com/1.1"
	DefaultAPITimeout         = 30 * time.Second
	DefaultMaxRetries         = 3
	DefaultLanguage           = "en"
	DefaultMessageTable       = "stream_messages"
	DefaultWebSocketPath      = "/stream"
	DefaultSendBuffer         = 64
	DefaultWriteTimeout       = 10 * time.Second
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
)

func (c *Config) applyDefaults() {
	// Stream defaults
	if c.Stream.FlushInterval == 0 {
		c.Stream.FlushInterval = DefaultFlushInterval
	}
	if c.Stream.StaleThreshold == 0 {
		c.Stream.StaleThreshold = DefaultStaleThreshold
	}
	if c.Stream.StaleCheckInterval == 0 {
		c.Stream.StaleCheckInterval = min(DefaultStaleCheckInterval, c.Stream.StaleThreshold)
	}
	if c.Stream.BackoffFloor == 0 {
		c.Stream.BackoffFloor = DefaultBackoffFloor
	}
	if c.Stream.ConnectTimeout == 0 {
		c.Stream.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Stream.ReadTimeout == 0 {
		c.Stream.ReadTimeout = DefaultReadTimeout
	}
	if c.Stream.MaxFrameSize == 0 {
		c.Stream.MaxFrameSize = DefaultMaxFrameSize
	}

	// Feed defaults
	if c.Feed.Type == "" {
		c.Feed.Type = DefaultFeedType
	}
	if c.Feed.Filter.URL == "" {
		c.Feed.Filter.URL = feed.DefaultFilterURL
	}
	if c.Feed.Filter.Language == nil {
		c.Feed.Filter.Language = []string{DefaultLanguage}
	}
	if c.Feed.User.URL == "" {
		c.Feed.User.URL = feed.DefaultUserURL
	}
	if c.Feed.User.OnlyUser == nil {
		onlyUser := true
		c.Feed.User.OnlyUser = &onlyUser
	}

	// API defaults
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultAPIBaseURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Sink defaults
	if c.Sinks.Postgres.Table == "" {
		c.Sinks.Postgres.Table = DefaultMessageTable
	}
	if c.Sinks.WebSocket.Path == "" {
		c.Sinks.WebSocket.Path = DefaultWebSocketPath
	}
	if c.Sinks.WebSocket.SendBuffer == 0 {
		c.Sinks.WebSocket.SendBuffer = DefaultSendBuffer
	}
	if c.Sinks.WebSocket.WriteTimeout == 0 {
		c.Sinks.WebSocket.WriteTimeout = DefaultWriteTimeout
	}

	// Database defaults
	applyDBDefaults(&c.Database)

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
