package feed

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/rickgao/firehose/internal/connection"
	"github.com/rickgao/firehose/internal/router"
)

// FilterConfig configures the public filter stream.
type FilterConfig struct {
	URL         string      // Defaults to DefaultFilterURL
	Track       []string    // Phrases to track
	Follow      []string    // Screen names to follow; resolved to IDs before connecting
	Fields      []string    // Allow-list for tweet fields (empty = everything)
	Language    []string    // Language codes
	FilterLevel FilterLevel // Minimum filter_level
	Locations   []Location  // Bounding boxes
}

// Filter is the public filter stream.
type Filter struct {
	cfg    FilterConfig
	logger *slog.Logger

	mu         sync.Mutex
	followIDs  []string
	limitTotal int64 // Last cumulative limit count seen on this connection
}

// NewFilter creates a Filter.
func NewFilter(cfg FilterConfig, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URL == "" {
		cfg.URL = DefaultFilterURL
	}
	return &Filter{
		cfg:    cfg,
		logger: logger,
	}
}

// SetFollowIDs sets the numeric user IDs sent as the follow parameter.
// Takes effect on the next connect.
func (f *Filter) SetFollowIDs(ids []string) {
	f.mu.Lock()
	f.followIDs = append([]string(nil), ids...)
	f.mu.Unlock()

	f.logger.Debug("following users", "count", len(ids))
}

// Follow returns the configured screen names to resolve.
func (f *Filter) Follow() []string {
	return f.cfg.Follow
}

// Endpoint returns the POST request for the filter stream.
func (f *Filter) Endpoint() connection.Endpoint {
	f.mu.Lock()
	follow := strings.Join(f.followIDs, ",")
	f.mu.Unlock()

	params := url.Values{}
	params.Set("stall_warnings", "true")
	params.Set("delimited", "length")
	params.Set("track", strings.Join(f.cfg.Track, ","))
	params.Set("follow", follow)
	params.Set("filter_level", f.cfg.FilterLevel.String())
	if len(f.cfg.Language) > 0 {
		params.Set("language", strings.Join(f.cfg.Language, ","))
	}
	if len(f.cfg.Locations) > 0 {
		params.Set("locations", encodeLocations(f.cfg.Locations))
	}

	return connection.Endpoint{
		Method: http.MethodPost,
		URL:    f.cfg.URL,
		Params: params,
	}
}

// Classify routes control messages to limit or other and projects
// everything else onto the tweets channel.
func (f *Filter) Classify(msg router.Message) (string, router.Message, bool) {
	for _, c := range controlNotices {
		if _, ok := msg[c.key]; !ok {
			continue
		}

		f.logger.Debug("control message", "notice", f.report(c.key, c.notice, msg))

		if c.key == "limit" {
			return ChannelLimit, f.countLimit(msg), true
		}
		return ChannelOther, msg, true
	}

	out := f.project(msg)
	if len(out) == 0 {
		return "", nil, false
	}
	return ChannelTweets, out, true
}

// Reset forgets the limit total; counts restart with each connection.
func (f *Filter) Reset() {
	f.mu.Lock()
	f.limitTotal = 0
	f.mu.Unlock()
}

func (f *Filter) report(key, notice string, msg router.Message) string {
	report := notice + " notice"

	switch key {
	case "disconnect":
		code := int64(0)
		if d, ok := msg.Object("disconnect"); ok {
			code, _ = d.Int("code")
		}
		report += ": " + DisconnectReason(code)
	case "warning":
		text, ok := msg.String("message")
		if w, isObj := msg.Object("warning"); !ok && isObj {
			text, _ = w.String("message")
		}
		report += ": " + text
	}

	return report
}

// countLimit annotates a limit message with the number of undelivered
// tweets since the previous limit notice (count) and the running total the
// stream reported (cumulative_count).
func (f *Filter) countLimit(msg router.Message) router.Message {
	var track int64
	if l, ok := msg.Object("limit"); ok {
		track, _ = l.Int("track")
	}

	f.mu.Lock()
	var count int64
	if track > f.limitTotal {
		count = track - f.limitTotal
		f.limitTotal = track
	}
	f.mu.Unlock()

	out := msg.Clone()
	out["count"] = count
	out["cumulative_count"] = track
	return out
}

// project keeps only the configured fields.
func (f *Filter) project(msg router.Message) router.Message {
	if len(f.cfg.Fields) == 0 {
		return msg
	}

	out := make(router.Message, len(f.cfg.Fields))
	for _, field := range f.cfg.Fields {
		v, ok := msg[field]
		if !ok {
			f.logger.Error("invalid tweet field", "field", field)
			continue
		}
		out[field] = v
	}
	return out
}
