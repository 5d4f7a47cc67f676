// Package canvas models the remote pixel grid: size, single pixels, writes
// and full snapshots. Every call passes through the rate-limit coordinator.
package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"canvaspaint/internal/plan"
	"canvaspaint/internal/ratelimit"
	"canvaspaint/internal/transport"
)

// Doer sends one request. *transport.Client implements it.
type Doer interface {
	Do(ctx context.Context, req transport.Request) (*transport.Response, error)
	Refresh(ctx context.Context) error
	CanRefresh() bool
}

// Result is the outcome of SetPixelIfDifferent.
type Result int

const (
	Written Result = iota
	Skipped
)

func (r Result) String() string {
	if r == Skipped {
		return "skipped"
	}
	return "written"
}

// Canvas is the remote canvas.
type Canvas struct {
	client  Doer
	limiter *ratelimit.Coordinator
	schema  transport.Schema
	logger  *slog.Logger

	retryDelay      time.Duration
	networkAttempts int
	sleep           ratelimit.SleepFunc
}

// Option configures a Canvas.
type Option func(*Canvas)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Canvas) { c.logger = l }
}

// WithRetryDelay sets the fixed wait after a failure that produced no
// rate-limit suspension. Default 5s.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Canvas) { c.retryDelay = d }
}

// WithNetworkAttempts sets how many consecutive network failures a single
// operation tolerates before giving up with ErrTransport. Default 10.
func WithNetworkAttempts(n int) Option {
	return func(c *Canvas) { c.networkAttempts = n }
}

// WithSleep sets the wait function used between retries (for testing).
func WithSleep(fn ratelimit.SleepFunc) Option {
	return func(c *Canvas) { c.sleep = fn }
}

// New creates a Canvas.
func New(client Doer, limiter *ratelimit.Coordinator, schema transport.Schema, opts ...Option) *Canvas {
	c := &Canvas{
		client:          client,
		limiter:         limiter,
		schema:          schema,
		logger:          slog.Default(),
		retryDelay:      5 * time.Second,
		networkAttempts: 10,
		sleep:           ratelimit.Sleep,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// call runs req against endpoint until it succeeds or fails for good.
// 422, 401 and 5xx end the loop; every other status is retried after the
// coordinator has processed the response headers.
func (c *Canvas) call(ctx context.Context, op, endpoint string, req transport.Request) (*transport.Response, error) {
	refreshed := false
	netFailures := 0
	for attempt := 1; ; attempt++ {
		if err := c.limiter.Acquire(ctx, endpoint); err != nil {
			return nil, err
		}
		resp, err := c.client.Do(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, transport.ErrRefreshRejected) {
				return nil, fmt.Errorf("%w: %s: %v", ErrUnauthorized, op, err)
			}
			netFailures++
			if netFailures >= c.networkAttempts {
				return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrTransport, op, netFailures, err)
			}
			c.logger.WarnContext(ctx, "request failed, retrying",
				"op", op,
				"attempt", attempt,
				"backoff_ms", c.retryDelay.Milliseconds(),
				"error", err)
			if err := c.sleep(ctx, c.retryDelay); err != nil {
				return nil, err
			}
			continue
		}
		netFailures = 0

		waited, err := c.limiter.Observe(ctx, endpoint, resp.Header)
		if err != nil {
			return nil, fmt.Errorf("canvas: %s: %w", op, err)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil
		case resp.StatusCode == http.StatusUnprocessableEntity:
			return nil, apiError(op, resp, ErrAxisOutOfRange)
		case resp.StatusCode == http.StatusUnauthorized:
			if !refreshed && c.client.CanRefresh() {
				refreshed = true
				c.logger.InfoContext(ctx, "access token rejected, refreshing", "op", op)
				if err := c.client.Refresh(ctx); err != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					return nil, fmt.Errorf("%w: %s: refresh: %v", ErrUnauthorized, op, err)
				}
				continue
			}
			return nil, apiError(op, resp, ErrUnauthorized)
		case resp.StatusCode >= 500:
			return nil, apiError(op, resp, ErrServerUnavailable)
		}

		c.logger.WarnContext(ctx, "unexpected status, retrying",
			"op", op,
			"status", resp.StatusCode,
			"attempt", attempt,
			"waited_ms", waited.Milliseconds())
		if waited == 0 {
			if err := c.sleep(ctx, c.retryDelay); err != nil {
				return nil, err
			}
		}
	}
}

func apiError(op string, resp *transport.Response, sentinel error) error {
	var body struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
	}
	detail := ""
	if json.Unmarshal(resp.Body, &body) == nil {
		switch {
		case body.Detail != nil:
			detail = fmt.Sprint(body.Detail)
		case body.Message != "":
			detail = body.Message
		}
	}
	return &APIError{Op: op, Status: resp.StatusCode, Detail: detail, Err: sentinel}
}

// Size fetches the canvas dimensions.
func (c *Canvas) Size(ctx context.Context) (width, height int, err error) {
	resp, err := c.call(ctx, "size", ratelimit.EndpointSize, transport.Request{
		Method: http.MethodGet,
		Path:   c.schema.SizePath,
	})
	if err != nil {
		return 0, 0, err
	}
	var size struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	if err := json.Unmarshal(resp.Body, &size); err != nil {
		return 0, 0, fmt.Errorf("canvas: decode size: %w", err)
	}
	return size.Width, size.Height, nil
}

// GetPixel fetches the color at x, y as a normalized hex string.
func (c *Canvas) GetPixel(ctx context.Context, x, y int) (string, error) {
	op := fmt.Sprintf("get_pixel (%d,%d)", x, y)
	resp, err := c.call(ctx, op, ratelimit.EndpointGetPixel, transport.Request{
		Method: http.MethodGet,
		Path:   c.schema.GetPixelPath,
		Query:  url.Values{"x": {strconv.Itoa(x)}, "y": {strconv.Itoa(y)}},
	})
	if err != nil {
		return "", err
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", fmt.Errorf("canvas: decode %s: %w", op, err)
	}
	raw, ok := body[c.schema.ColorField]
	if !ok {
		return "", fmt.Errorf("canvas: decode %s: missing %q", op, c.schema.ColorField)
	}
	color, err := plan.NormalizeHex(fmt.Sprint(raw))
	if err != nil {
		return "", fmt.Errorf("canvas: decode %s: %w", op, err)
	}
	return color, nil
}

// SetPixel writes color at x, y unconditionally.
func (c *Canvas) SetPixel(ctx context.Context, x, y int, color string) error {
	op := fmt.Sprintf("set_pixel (%d,%d)", x, y)
	_, err := c.call(ctx, op, ratelimit.EndpointSetPixel, transport.Request{
		Method: c.schema.SetPixelMethod,
		Path:   c.schema.SetPixelPath,
		Body:   map[string]any{"x": x, "y": y, c.schema.ColorField: color},
	})
	return err
}

// SetPixelIfDifferent reads the pixel first and writes only when its color
// differs. The read and the write are not atomic: another painter may
// change the pixel in between.
func (c *Canvas) SetPixelIfDifferent(ctx context.Context, x, y int, color string) (Result, error) {
	current, err := c.GetPixel(ctx, x, y)
	if err != nil {
		return Written, err
	}
	if current == color {
		c.logger.DebugContext(ctx, "pixel already set", "x", x, "y", y, "color", color)
		return Skipped, nil
	}
	if err := c.SetPixel(ctx, x, y, color); err != nil {
		return Written, err
	}
	return Written, nil
}

// Snapshot fetches the whole canvas as row-major RGB bytes.
func (c *Canvas) Snapshot(ctx context.Context) (*Snapshot, error) {
	width, height, err := c.Size(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, "get_pixels", ratelimit.EndpointGetPixels, transport.Request{
		Method: http.MethodGet,
		Path:   c.schema.PixelsPath,
	})
	if err != nil {
		return nil, err
	}
	if want := width * height * 3; len(resp.Body) != want {
		return nil, fmt.Errorf("canvas: snapshot is %d bytes, want %d for %dx%d", len(resp.Body), want, width, height)
	}
	return &Snapshot{Width: width, Height: height, Pix: resp.Body}, nil
}

// Probe sends one HEAD request to every endpoint so the coordinator learns
// the current windows without side effects. Probe statuses are not
// interpreted; only the rate-limit headers matter.
func (c *Canvas) Probe(ctx context.Context, endpoints ...string) error {
	if len(endpoints) == 0 {
		endpoints = []string{
			ratelimit.EndpointSize,
			ratelimit.EndpointGetPixel,
			ratelimit.EndpointSetPixel,
			ratelimit.EndpointGetPixels,
		}
	}
	for _, endpoint := range endpoints {
		path, err := c.pathOf(endpoint)
		if err != nil {
			return err
		}
		if err := c.limiter.Acquire(ctx, endpoint); err != nil {
			return err
		}
		resp, err := c.client.Do(ctx, transport.Request{Method: http.MethodHead, Path: path})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: probe %s: %v", ErrTransport, endpoint, err)
		}
		c.logger.DebugContext(ctx, "probed endpoint", "endpoint", endpoint, "status", resp.StatusCode)
		if _, err := c.limiter.Observe(ctx, endpoint, resp.Header); err != nil {
			return fmt.Errorf("canvas: probe %s: %w", endpoint, err)
		}
	}
	return nil
}

func (c *Canvas) pathOf(endpoint string) (string, error) {
	switch endpoint {
	case ratelimit.EndpointSize:
		return c.schema.SizePath, nil
	case ratelimit.EndpointGetPixel:
		return c.schema.GetPixelPath, nil
	case ratelimit.EndpointSetPixel:
		return c.schema.SetPixelPath, nil
	case ratelimit.EndpointGetPixels:
		return c.schema.PixelsPath, nil
	}
	return "", fmt.Errorf("canvas: unknown endpoint %q", endpoint)
}
