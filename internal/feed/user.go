package feed

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/rickgao/firehose/internal/connection"
	"github.com/rickgao/firehose/internal/router"
)

// UserConfig configures the user stream.
type UserConfig struct {
	URL         string // Defaults to DefaultUserURL
	OnlyUser    bool   // Only the authenticated user's own activity
	ShowFriends bool   // Keep the friends list sent on connect
}

// User is the authenticated user's stream.
type User struct {
	cfg    UserConfig
	logger *slog.Logger
}

// NewUser creates a User stream.
func NewUser(cfg UserConfig, logger *slog.Logger) *User {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URL == "" {
		cfg.URL = DefaultUserURL
	}
	return &User{cfg: cfg, logger: logger}
}

// Endpoint returns the GET request for the user stream.
func (u *User) Endpoint() connection.Endpoint {
	params := url.Values{}
	params.Set("stall_warnings", "true")
	params.Set("delimited", "length")
	if u.cfg.OnlyUser {
		params.Set("with", "user")
	}

	return connection.Endpoint{
		Method: http.MethodGet,
		URL:    u.cfg.URL,
		Params: params,
	}
}

// Classify sends event messages to events and everything else to other.
func (u *User) Classify(msg router.Message) (string, router.Message, bool) {
	if _, ok := msg["event"]; ok {
		u.logger.Debug("event message")
		return ChannelEvents, msg, true
	}

	if _, ok := msg["friends"]; ok && !u.cfg.ShowFriends {
		return "", nil, false
	}

	u.logger.Debug("other message")
	return ChannelOther, msg, true
}

// Reset is a no-op; the user stream keeps no per-connection state.
func (u *User) Reset() {}
