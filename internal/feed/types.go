package feed

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Errors
var (
	ErrInvalidFilterLevel = errors.New("invalid filter level")
	ErrInvalidCoordinate  = errors.New("coordinate out of range")
)

// Channel names
const (
	ChannelTweets = "tweets"
	ChannelLimit  = "limit"
	ChannelOther  = "other"
	ChannelEvents = "events"
)

// Default endpoints
const (
	DefaultFilterURL = "https://stream.twitter.com/1.1/statuses/filter.json"
	DefaultUserURL   = "https://userstream.twitter.com/1.1/user.json"
)

// controlNotices maps public stream control keys to their report prefix.
// Order matters: the first key present wins.
var controlNotices = []struct {
	key    string
	notice string
}{
	{"limit", "Limit"},
	{"delete", "Deletion"},
	{"scrub_geo", "Location Deletion"},
	{"status_withheld", "Status Withheld"},
	{"user_withheld", "User Withheld"},
	{"disconnect", "Disconnect"},
	{"warning", "Stall Warning"},
}

// disconnectReasons is indexed by disconnect code - 1.
var disconnectReasons = []string{
	"Shutdown",
	"Duplicate stream",
	"Control request",
	"Stall",
	"Normal",
	"Token revoked",
	"Admin revoked",
	"",
	"Max message limit",
	"Stream exception",
	"Broker stall",
	"Shed load",
}

// DisconnectReason returns the reason for a disconnect code.
func DisconnectReason(code int64) string {
	if code < 1 || code > int64(len(disconnectReasons)) {
		return "Unknown"
	}
	return disconnectReasons[code-1]
}

// FilterLevel is the minimum filter_level a tweet must carry.
type FilterLevel int

const (
	FilterLevelNone FilterLevel = iota
	FilterLevelLow
	FilterLevelMedium
)

func (l FilterLevel) String() string {
	switch l {
	case FilterLevelNone:
		return "none"
	case FilterLevelLow:
		return "low"
	case FilterLevelMedium:
		return "medium"
	default:
		return fmt.Sprintf("FilterLevel(%d)", int(l))
	}
}

// ParseFilterLevel parses "none", "low" or "medium". Empty means none.
func ParseFilterLevel(s string) (FilterLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return FilterLevelNone, nil
	case "low":
		return FilterLevelLow, nil
	case "medium":
		return FilterLevelMedium, nil
	default:
		return FilterLevelNone, fmt.Errorf("%w: %q", ErrInvalidFilterLevel, s)
	}
}

// UnmarshalText lets FilterLevel be read straight from YAML.
func (l *FilterLevel) UnmarshalText(text []byte) error {
	v, err := ParseFilterLevel(string(text))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (l FilterLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Coordinate is a longitude/latitude pair.
type Coordinate struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// Validate checks the coordinate is on the globe.
func (c Coordinate) Validate() error {
	if c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: lat=%v lon=%v", ErrInvalidCoordinate, c.Latitude, c.Longitude)
	}
	return nil
}

// Location is a bounding box.
type Location struct {
	Southwest Coordinate `yaml:"southwest"`
	Northeast Coordinate `yaml:"northeast"`
}

// Validate checks both corners.
func (l Location) Validate() error {
	if err := l.Southwest.Validate(); err != nil {
		return fmt.Errorf("southwest: %w", err)
	}
	if err := l.Northeast.Validate(); err != nil {
		return fmt.Errorf("northeast: %w", err)
	}
	return nil
}

// encodeLocations renders boxes as sw.lon,sw.lat,ne.lon,ne.lat,...
func encodeLocations(locs []Location) string {
	parts := make([]string, 0, len(locs)*4)
	for _, loc := range locs {
		parts = append(parts,
			formatFloat(loc.Southwest.Longitude),
			formatFloat(loc.Southwest.Latitude),
			formatFloat(loc.Northeast.Longitude),
			formatFloat(loc.Northeast.Latitude),
		)
	}
	return strings.Join(parts, ",")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
