package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Stream.validate(); err != nil {
		return err
	}

	if err := c.Auth.validate(); err != nil {
		return err
	}

	switch c.Feed.Type {
	case FeedFilter:
		if err := c.Feed.Filter.validate(); err != nil {
			return err
		}
	case FeedUser:
	default:
		return fmt.Errorf("feed.type must be %q or %q, got %q", FeedFilter, FeedUser, c.Feed.Type)
	}

	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if c.Sinks.Postgres.Enabled {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}
	if c.Sinks.WebSocket.Enabled && c.Sinks.WebSocket.Path == c.Metrics.Path {
		return fmt.Errorf("sinks.websocket.path cannot equal metrics.path (%s)", c.Metrics.Path)
	}
	if !c.Sinks.Log.Enabled && !c.Sinks.Postgres.Enabled && !c.Sinks.WebSocket.Enabled {
		return errors.New("at least one sink must be enabled")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (s *StreamConfig) validate() error {
	if s.FlushInterval <= 0 {
		return errors.New("stream.flush_interval must be > 0")
	}
	if s.StaleThreshold <= 0 {
		return errors.New("stream.stale_threshold must be > 0")
	}
	if s.StaleCheckInterval <= 0 || s.StaleCheckInterval > s.StaleThreshold {
		return fmt.Errorf("stream.stale_check_interval must be in (0, %v]", s.StaleThreshold)
	}
	if s.BackoffFloor <= 0 {
		return errors.New("stream.backoff_floor must be > 0")
	}
	if s.BackoffMax != 0 && s.BackoffMax < s.BackoffFloor {
		return fmt.Errorf("stream.backoff_max (%v) cannot be less than backoff_floor (%v)", s.BackoffMax, s.BackoffFloor)
	}
	if s.MaxFrameSize < 0 {
		return errors.New("stream.max_frame_size must be >= 0")
	}
	return nil
}

func (a *AuthConfig) validate() error {
	if a.ConsumerKey == "" {
		return errors.New("auth.consumer_key is required")
	}
	if a.ConsumerSecret == "" {
		return errors.New("auth.consumer_secret is required")
	}
	if a.AccessToken == "" {
		return errors.New("auth.access_token is required")
	}
	if a.AccessTokenSecret == "" {
		return errors.New("auth.access_token_secret is required")
	}
	return nil
}

func (f *FilterFeedConfig) validate() error {
	if len(f.Track) == 0 && len(f.Follow) == 0 && len(f.Locations) == 0 {
		return errors.New("feed.filter needs at least one of track, follow or locations")
	}
	for i, loc := range f.Locations {
		if err := loc.Validate(); err != nil {
			return fmt.Errorf("feed.filter.locations[%d]: %w", i, err)
		}
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
