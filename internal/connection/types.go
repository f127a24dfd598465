package connection

import (
	"errors"
	"net/http"
	"net/url"
	"time"
)

// Errors
var (
	ErrUnsupportedOp = errors.New("unsupported request method")
)

// Endpoint describes the streaming request for one feed type.
type Endpoint struct {
	Method string     // "GET" or "POST"
	URL    string     // e.g. https://stream.twitter.com/1.1/statuses/filter.json
	Params url.Values // Feed-specific filters (track, follow, language, ...)
}

// Signer produces authorization headers for a request. Signing is external
// to the stream engine and injected here.
type Signer interface {
	Sign(method, rawURL string, params url.Values) (http.Header, error)
}

// SignerFunc is a function adapter for Signer.
type SignerFunc func(method, rawURL string, params url.Values) (http.Header, error)

func (f SignerFunc) Sign(method, rawURL string, params url.Values) (http.Header, error) {
	return f(method, rawURL, params)
}

// ConnectorConfig configures how streaming connections are opened.
type ConnectorConfig struct {
	ConnectTimeout time.Duration // Dial, TLS handshake and response header timeout
	ReadTimeout    time.Duration // Idle timeout per read on the raw connection (0 = none)
	UserAgent      string
}

// DefaultConnectorConfig returns sensible defaults.
func DefaultConnectorConfig() ConnectorConfig {
	return ConnectorConfig{
		ConnectTimeout: 45 * time.Second,
		ReadTimeout:    45 * time.Second,
	}
}

// BackoffConfig configures the reconnect delay.
type BackoffConfig struct {
	Floor time.Duration // First retry delay and the value restored on success
	Max   time.Duration // Cap on the delay (0 = uncapped)
}

// DefaultBackoffConfig returns the floor of one second with no cap.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Floor: 1 * time.Second,
	}
}
