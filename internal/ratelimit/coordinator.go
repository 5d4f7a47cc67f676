package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Endpoint names shared by the canvas model and the configuration.
const (
	EndpointSize      = "size"
	EndpointGetPixel  = "get_pixel"
	EndpointSetPixel  = "set_pixel"
	EndpointGetPixels = "get_pixels"
)

// SleepFunc waits for d or until ctx is done, whichever comes first.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Coordinator owns one Bucket per endpoint and decides when callers must
// wait. All workers of a process share a single Coordinator.
type Coordinator struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
	limits  map[string]Limit

	now    func() time.Time
	sleep  SleepFunc
	logger *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLimit sets the initial window of an endpoint.
func WithLimit(endpoint string, l Limit) Option {
	return func(c *Coordinator) { c.limits[endpoint] = l }
}

// WithClock sets a custom clock (for testing).
func WithClock(fn func() time.Time) Option {
	return func(c *Coordinator) { c.now = fn }
}

// WithSleep sets a custom sleep function (for testing).
func WithSleep(fn SleepFunc) Option {
	return func(c *Coordinator) { c.sleep = fn }
}

// WithLogger sets the logger used to report suspensions.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New creates a Coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		buckets: make(map[string]*Bucket),
		limits:  make(map[string]Limit),
		now:     time.Now,
		sleep:   Sleep,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// bucket returns the bucket of endpoint, creating it on first use. An
// endpoint without a configured limit starts unlimited until the server
// reports a window. Must be called with mu held.
func (c *Coordinator) bucket(endpoint string) *Bucket {
	b, ok := c.buckets[endpoint]
	if !ok {
		b = NewBucket(c.limits[endpoint], c.now)
		c.buckets[endpoint] = b
	}
	return b
}

// Acquire blocks until a request to endpoint fits the known window, then
// counts it. A suspension recorded by any worker is honoured here.
func (c *Coordinator) Acquire(ctx context.Context, endpoint string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.mu.Lock()
		b := c.bucket(endpoint)
		if !b.Ratelimited() {
			b.AddHit()
			c.mu.Unlock()
			return nil
		}
		wait := b.RetryAfter()
		c.mu.Unlock()

		c.logger.DebugContext(ctx, "waiting for rate-limit window",
			"endpoint", endpoint,
			"wait_ms", wait.Milliseconds())
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Observe feeds the rate-limit headers of a response into the endpoint's
// bucket and suspends the caller when the server asked it to. The hard
// cooldown of a 429 takes precedence over the soft window. The returned
// duration is the suspension applied.
func (c *Coordinator) Observe(ctx context.Context, endpoint string, h http.Header) (time.Duration, error) {
	info, err := ParseHeaders(h)
	if err != nil {
		return 0, err
	}
	if len(info.Ignored) > 0 {
		c.logger.WarnContext(ctx, "ignoring malformed rate-limit headers",
			"endpoint", endpoint,
			"headers", info.Ignored)
	}
	if !info.Present() {
		c.logger.DebugContext(ctx, "no rate-limit headers, proceeding", "endpoint", endpoint)
		return 0, nil
	}

	if info.HasCooldown && info.Cooldown > 0 {
		c.mu.Lock()
		c.bucket(endpoint).SyncFromRatelimit(info.Cooldown)
		c.mu.Unlock()
		c.logger.WarnContext(ctx, "hard cooldown",
			"endpoint", endpoint,
			"seconds", info.Cooldown.Seconds(),
			"until", c.now().Add(info.Cooldown).Format(time.TimeOnly))
		return info.Cooldown, c.sleep(ctx, info.Cooldown)
	}

	if info.Remaining == 0 && info.Reset > 0 {
		c.mu.Lock()
		c.bucket(endpoint).SyncFromRatelimit(info.Reset)
		c.mu.Unlock()
		c.logger.InfoContext(ctx, "soft cooldown",
			"endpoint", endpoint,
			"seconds", info.Reset.Seconds(),
			"until", c.now().Add(info.Reset).Format(time.TimeOnly))
		return info.Reset, c.sleep(ctx, info.Reset)
	}

	c.mu.Lock()
	reset := time.Duration(0)
	if info.HasReset {
		reset = info.Reset
	}
	c.bucket(endpoint).Sync(info.Remaining, reset)
	c.mu.Unlock()
	return 0, nil
}

// Snapshot returns the state of every bucket, sorted by endpoint.
func (c *Coordinator) Snapshot() []State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]State, 0, len(c.buckets))
	for name, b := range c.buckets {
		out = append(out, b.state(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}
