// Package transport issues authenticated requests against the canvas API
// and hands back raw responses, headers included.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// MaxResponseBody caps how much of a response body is read. A full canvas
// snapshot is width*height*3 bytes, so the cap is generous.
const MaxResponseBody int64 = 256 << 20

// ErrNoRefreshToken is returned by Refresh when no refresh token is set.
var ErrNoRefreshToken = errors.New("transport: no refresh token")

// ErrRefreshRejected is returned by Refresh when the server refuses the
// refresh token. Retrying with the same token cannot succeed.
var ErrRefreshRejected = errors.New("transport: refresh token rejected")

// Request is one call against the canvas API.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any // JSON-encoded when non-nil
}

// Response is a fully read response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client is a thin HTTP wrapper that attaches the bearer token.
type Client struct {
	http      *http.Client
	base      string
	userAgent string
	authPath  string

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	now          func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithToken sets a static access token.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.accessToken = token }
}

// WithRefreshToken enables token refresh through authPath.
func WithRefreshToken(token, authPath string) ClientOption {
	return func(c *Client) {
		c.refreshToken = token
		c.authPath = authPath
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// WithClientClock sets a custom clock (for testing token expiry).
func WithClientClock(fn func() time.Time) ClientOption {
	return func(c *Client) { c.now = fn }
}

// NewClient creates a client for the API rooted at base.
func NewClient(base string, opts ...ClientOption) *Client {
	c := &Client{
		http:      &http.Client{Timeout: 30 * time.Second},
		base:      strings.TrimRight(base, "/"),
		userAgent: "canvaspaint",
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CanRefresh reports whether the client holds a refresh token.
func (c *Client) CanRefresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshToken != ""
}

// Do sends req and reads the whole response. Only network and encoding
// failures are errors; every HTTP status is returned to the caller.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if c.needsRefresh() {
		if err := c.Refresh(ctx); err != nil {
			return nil, err
		}
	}

	u := c.base + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("transport: encode body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	hreq, err := http.NewRequestWithContext(ctx, req.Method, u, body)
	if err != nil {
		return nil, fmt.Errorf("transport: new request: %w", err)
	}
	if req.Body != nil {
		hreq.Header.Set("Content-Type", "application/json")
	}
	hreq.Header.Set("User-Agent", c.userAgent)
	if tok := c.token(); tok != "" {
		hreq.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("transport: %s %s: %w", req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("transport: read body: %w", err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

type authResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresIn    float64 `json:"expires_in"`
}

// Refresh exchanges the refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	refresh := c.refreshToken
	c.mu.Unlock()
	if refresh == "" {
		return ErrNoRefreshToken
	}

	data, err := json.Marshal(map[string]string{"refresh_token": refresh})
	if err != nil {
		return fmt.Errorf("transport: encode refresh: %w", err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+c.authPath, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("transport: new refresh request: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(hreq)
	if err != nil {
		return fmt.Errorf("transport: refresh: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: http %d", ErrRefreshRejected, resp.StatusCode)
	}

	var ar authResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&ar); err != nil {
		return fmt.Errorf("transport: decode refresh: %w", err)
	}
	if ar.AccessToken == "" {
		return fmt.Errorf("transport: refresh: empty access token")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = ar.AccessToken
	if ar.RefreshToken != "" {
		c.refreshToken = ar.RefreshToken
	}
	c.expiresAt = time.Time{}
	if ar.ExpiresIn > 0 {
		c.expiresAt = c.now().Add(time.Duration(ar.ExpiresIn * float64(time.Second)))
	}
	return nil
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// needsRefresh reports whether a refresh-capable client holds no valid token.
func (c *Client) needsRefresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refreshToken == "" {
		return false
	}
	return c.accessToken == "" || (!c.expiresAt.IsZero() && !c.now().Before(c.expiresAt))
}
