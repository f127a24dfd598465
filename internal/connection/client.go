package connection

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// HTTPClientFactory builds the HTTP client used for one connection attempt.
// A fresh client (and transport) is created for every attempt.
type HTTPClientFactory func(cfg ConnectorConfig) *http.Client

// NewHTTPClient returns a client whose transport bounds the connect phase by
// cfg.ConnectTimeout and arms an idle deadline before every read.
//
// There is no overall client timeout: the response body is a stream that
// stays open indefinitely.
func NewHTTPClient(cfg ConnectorConfig) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if cfg.ReadTimeout <= 0 {
				return conn, nil
			}
			return &deadlineConn{Conn: conn, timeout: cfg.ReadTimeout}, nil
		},
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ConnectTimeout,
		DisableCompression:    true,
		DisableKeepAlives:     true,
	}

	return &http.Client{Transport: transport}
}

// deadlineConn resets the read deadline before each Read, so a peer that
// stops sending entirely surfaces as a timeout error.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

// buildRequest creates the signed streaming request for an endpoint.
func buildRequest(ctx context.Context, ep Endpoint, signer Signer, userAgent string) (*http.Request, error) {
	var (
		req *http.Request
		err error
	)

	switch strings.ToUpper(ep.Method) {
	case http.MethodGet, "":
		target := ep.URL
		if len(ep.Params) > 0 {
			target += "?" + ep.Params.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	case http.MethodPost:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, strings.NewReader(ep.Params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOp, ep.Method)
	}
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "*/*")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	if signer != nil {
		headers, err := signer.Sign(req.Method, ep.URL, ep.Params)
		if err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
		for k, vs := range headers {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}

	return req, nil
}

// readSnippet reads up to n bytes of a failed response body for logging.
func readSnippet(body io.Reader, n int64) string {
	data, _ := io.ReadAll(io.LimitReader(body, n))
	return strings.TrimSpace(string(data))
}
