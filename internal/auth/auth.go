// Package auth signs stream and REST requests with OAuth 1.0a (HMAC-SHA1).
package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrMissingCredentials is returned when a credential field is empty.
var ErrMissingCredentials = errors.New("missing credentials")

// Credentials holds the application and user tokens for signing requests.
type Credentials struct {
	ConsumerKey    string // Application key
	ConsumerSecret string // Application secret
	Token          string // User access token
	TokenSecret    string // User access token secret

	// Now and Nonce default to time.Now and a random UUID.
	Now   func() time.Time
	Nonce func() string
}

// LoadCredentials builds Credentials, failing if any field is empty.
func LoadCredentials(consumerKey, consumerSecret, token, tokenSecret string) (*Credentials, error) {
	missing := []string{}
	if consumerKey == "" {
		missing = append(missing, "consumer key")
	}
	if consumerSecret == "" {
		missing = append(missing, "consumer secret")
	}
	if token == "" {
		missing = append(missing, "access token")
	}
	if tokenSecret == "" {
		missing = append(missing, "access token secret")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}

	return &Credentials{
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		Token:          token,
		TokenSecret:    tokenSecret,
	}, nil
}

// Sign returns the Authorization header for a request. params are the
// query or form parameters that will be sent with it.
func (c *Credentials) Sign(method, rawURL string, params url.Values) (http.Header, error) {
	oauth := c.oauthParams()

	signature, err := c.signature(method, rawURL, params, oauth)
	if err != nil {
		return nil, err
	}
	oauth["oauth_signature"] = signature

	h := http.Header{}
	h.Set("Authorization", authorizationHeader(oauth))
	return h, nil
}

// oauthParams returns the protocol parameters for one request.
func (c *Credentials) oauthParams() map[string]string {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	nonce := newNonce
	if c.Nonce != nil {
		nonce = c.Nonce
	}

	return map[string]string{
		"oauth_consumer_key":     c.ConsumerKey,
		"oauth_nonce":            nonce(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(now().Unix(), 10),
		"oauth_token":            c.Token,
		"oauth_version":          "1.0",
	}
}

// signature computes the HMAC-SHA1 of the signature base string.
func (c *Credentials) signature(method, rawURL string, params url.Values, oauth map[string]string) (string, error) {
	base, err := BaseString(method, rawURL, params, oauth)
	if err != nil {
		return "", err
	}

	key := percentEncode(c.ConsumerSecret) + "&" + percentEncode(c.TokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// BaseString builds the signature base string: method, normalized URL and
// the sorted, encoded union of request and protocol parameters.
func BaseString(method, rawURL string, params url.Values, oauth map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	type pair struct{ k, v string }
	var pairs []pair
	add := func(k, v string) {
		pairs = append(pairs, pair{percentEncode(k), percentEncode(v)})
	}

	for k, vs := range u.Query() {
		for _, v := range vs {
			add(k, v)
		}
	}
	for k, vs := range params {
		for _, v := range vs {
			add(k, v)
		}
	}
	for k, v := range oauth {
		add(k, v)
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	encoded := make([]string, len(pairs))
	for i, p := range pairs {
		encoded[i] = p.k + "=" + p.v
	}

	return strings.ToUpper(method) + "&" +
		percentEncode(normalizeURL(u)) + "&" +
		percentEncode(strings.Join(encoded, "&")), nil
}

// normalizeURL lowercases scheme and host, drops default ports, the query
// and the fragment.
func normalizeURL(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" {
		if !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
			host += ":" + port
		}
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

// authorizationHeader renders the sorted protocol parameters.
func authorizationHeader(oauth map[string]string) string {
	keys := make([]string, 0, len(oauth))
	for k := range oauth {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf(`%s="%s"`, percentEncode(k), percentEncode(oauth[k]))
	}
	return "OAuth " + strings.Join(parts, ", ")
}

// percentEncode encodes everything except the RFC 3986 unreserved set.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return ('A' <= c && c <= 'Z') || ('a' <= c && c <= 'z') || ('0' <= c && c <= '9') ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

func newNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
