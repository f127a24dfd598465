package config

import (
	"time"

	"github.com/rickgao/firehose/internal/feed"
)

// Feed types
const (
	FeedFilter = "filter"
	FeedUser   = "user"
)

// Config is the root configuration for a firehose instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Stream   StreamConfig   `yaml:"stream"`
	Auth     AuthConfig     `yaml:"auth"`
	Feed     FeedConfig     `yaml:"feed"`
	API      APIConfig      `yaml:"api"`
	Sinks    SinksConfig    `yaml:"sinks"`
	Database DBConfig       `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// InstanceConfig identifies this instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// StreamConfig holds stream engine settings.
type StreamConfig struct {
	FlushInterval      time.Duration `yaml:"flush_interval"`
	StaleThreshold     time.Duration `yaml:"stale_threshold"`
	StaleCheckInterval time.Duration `yaml:"stale_check_interval"`
	BackoffFloor       time.Duration `yaml:"backoff_floor"`
	BackoffMax         time.Duration `yaml:"backoff_max"` // 0 = uncapped
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	MaxFrameSize       int           `yaml:"max_frame_size"`
}

// AuthConfig holds OAuth credentials.
type AuthConfig struct {
	ConsumerKey       string `yaml:"consumer_key"`
	ConsumerSecret    string `yaml:"consumer_secret"`
	AccessToken       string `yaml:"access_token"`
	AccessTokenSecret string `yaml:"access_token_secret"`
}

// FeedConfig selects and configures the stream type.
type FeedConfig struct {
	Type   string           `yaml:"type"` // "filter" or "user"
	Filter FilterFeedConfig `yaml:"filter"`
	User   UserFeedConfig   `yaml:"user"`
}

// FilterFeedConfig configures the public filter stream.
type FilterFeedConfig struct {
	URL         string           `yaml:"url"`
	Track       []string         `yaml:"track"`
	Follow      []string         `yaml:"follow"` // Screen names
	Fields      []string         `yaml:"fields"`
	Language    []string         `yaml:"language"`
	FilterLevel feed.FilterLevel `yaml:"filter_level"`
	Locations   []feed.Location  `yaml:"locations"`
}

// UserFeedConfig configures the user stream.
type UserFeedConfig struct {
	URL         string `yaml:"url"`
	OnlyUser    *bool  `yaml:"only_user"`
	ShowFriends bool   `yaml:"show_friends"`
}

// APIConfig holds REST API settings.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	SkipVerify bool          `yaml:"skip_verify"` // Do not verify credentials on startup
}

// SinksConfig selects where flushed batches go.
type SinksConfig struct {
	Log       LogSinkConfig       `yaml:"log"`
	Postgres  PostgresSinkConfig  `yaml:"postgres"`
	WebSocket WebSocketSinkConfig `yaml:"websocket"`
}

// LogSinkConfig configures the log sink.
type LogSinkConfig struct {
	Enabled bool `yaml:"enabled"`
}

// PostgresSinkConfig configures the Postgres sink. Uses Config.Database.
type PostgresSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	Table   string `yaml:"table"`
}

// WebSocketSinkConfig configures the websocket broadcast sink. Served on
// the metrics listener.
type WebSocketSinkConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Path         string        `yaml:"path"`
	SendBuffer   int           `yaml:"send_buffer"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds the HTTP listener for health, metrics and websocket.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
