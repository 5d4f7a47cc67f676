// Package ratelimit tracks per-endpoint request budgets and suspends callers
// until the canvas server allows the next request.
package ratelimit

import "time"

// Limit is the window capacity of one endpoint.
type Limit struct {
	Hits     int           `yaml:"hits"`
	Cooldown time.Duration `yaml:"cooldown"`
}

// Bucket is the local view of one endpoint's rate-limit window. It is not
// safe for concurrent use; Coordinator serialises access.
type Bucket struct {
	hits     int
	maxHits  int
	cooldown time.Duration
	expires  time.Time
	now      func() time.Time
}

// NewBucket creates an empty bucket. A nil clock means time.Now.
func NewBucket(limit Limit, now func() time.Time) *Bucket {
	if now == nil {
		now = time.Now
	}
	return &Bucket{
		maxHits:  limit.Hits,
		cooldown: limit.Cooldown,
		now:      now,
	}
}

// Ratelimited reports whether a request issued now would exceed the window.
func (b *Bucket) Ratelimited() bool {
	return b.hits >= b.maxHits && b.now().Before(b.expires)
}

// RetryAfter returns how long until the current window expires, or zero.
func (b *Bucket) RetryAfter() time.Duration {
	if b.expires.IsZero() {
		return 0
	}
	if d := b.expires.Sub(b.now()); d > 0 {
		return d
	}
	return 0
}

// AddHit records one request. An expired window restarts at zero hits.
func (b *Bucket) AddHit() {
	now := b.now()
	if !now.Before(b.expires) {
		b.hits = 0
		b.expires = now.Add(b.cooldown)
	}
	b.hits++
}

// SyncFromRatelimit aligns the bucket clock with a server-declared reset:
// the window is full until reset has elapsed.
func (b *Bucket) SyncFromRatelimit(reset time.Duration) {
	b.hits = b.maxHits
	b.expires = b.now().Add(reset)
}

// Sync applies the authoritative remaining count reported by the server.
// A remaining count above the known capacity grows the capacity.
func (b *Bucket) Sync(remaining int, reset time.Duration) {
	if remaining > b.maxHits {
		b.maxHits = remaining
	}
	b.hits = b.maxHits - remaining
	if reset > 0 {
		b.expires = b.now().Add(reset)
	}
}

// State is a point-in-time copy of a bucket, safe to serialise.
type State struct {
	Endpoint    string    `json:"endpoint"`
	Hits        int       `json:"hits"`
	MaxHits     int       `json:"max_hits"`
	Cooldown    float64   `json:"cooldown_seconds"`
	Expires     time.Time `json:"expires"`
	Ratelimited bool      `json:"ratelimited"`
	RetryAfter  float64   `json:"retry_after_seconds"`
}

func (b *Bucket) state(endpoint string) State {
	return State{
		Endpoint:    endpoint,
		Hits:        b.hits,
		MaxHits:     b.maxHits,
		Cooldown:    b.cooldown.Seconds(),
		Expires:     b.expires,
		Ratelimited: b.Ratelimited(),
		RetryAfter:  b.RetryAfter().Seconds(),
	}
}
