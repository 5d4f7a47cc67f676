package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestBucket_RatelimitedAfterMaxHits(t *testing.T) {
	clock := newClock()
	b := NewBucket(Limit{Hits: 5, Cooldown: 60 * time.Second}, clock.Now)

	for i := 0; i < 4; i++ {
		b.AddHit()
		if b.Ratelimited() {
			t.Fatalf("ratelimited after %d hits", i+1)
		}
	}
	b.AddHit()
	if !b.Ratelimited() {
		t.Fatal("expected ratelimited after 5 hits")
	}
	if got := b.RetryAfter(); got != 60*time.Second {
		t.Fatalf("RetryAfter = %v, want 60s", got)
	}

	clock.Advance(60 * time.Second)
	if b.Ratelimited() {
		t.Fatal("expected window to expire after cooldown")
	}
	if got := b.RetryAfter(); got != 0 {
		t.Fatalf("RetryAfter = %v, want 0", got)
	}
}

func TestBucket_ExpiredWindowResetsHits(t *testing.T) {
	clock := newClock()
	b := NewBucket(Limit{Hits: 2, Cooldown: 10 * time.Second}, clock.Now)
	b.AddHit()
	b.AddHit()
	clock.Advance(11 * time.Second)

	b.AddHit()
	if b.Ratelimited() {
		t.Fatal("hit in a fresh window must not be ratelimited")
	}
	if b.hits != 1 {
		t.Fatalf("hits = %d, want 1", b.hits)
	}
}

func TestBucket_SyncFromRatelimit(t *testing.T) {
	clock := newClock()
	b := NewBucket(Limit{Hits: 5, Cooldown: time.Minute}, clock.Now)

	b.SyncFromRatelimit(12500 * time.Millisecond)
	if !b.Ratelimited() {
		t.Fatal("expected ratelimited after sync")
	}
	if got := b.RetryAfter(); got != 12500*time.Millisecond {
		t.Fatalf("RetryAfter = %v, want 12.5s", got)
	}
	clock.Advance(12500 * time.Millisecond)
	if b.Ratelimited() {
		t.Fatal("expected sync window to expire")
	}
}

func TestBucket_SyncLearnsCapacity(t *testing.T) {
	clock := newClock()
	b := NewBucket(Limit{Hits: 2, Cooldown: time.Minute}, clock.Now)

	b.Sync(10, 30*time.Second)
	if b.maxHits != 10 || b.hits != 0 {
		t.Fatalf("got hits=%d max=%d, want 0/10", b.hits, b.maxHits)
	}

	b.Sync(3, 30*time.Second)
	if b.hits != 7 {
		t.Fatalf("hits = %d, want 7", b.hits)
	}
	if b.Ratelimited() {
		t.Fatal("3 remaining must not be ratelimited")
	}
}

func TestBucket_ZeroValueNotRatelimited(t *testing.T) {
	b := NewBucket(Limit{Hits: 1, Cooldown: time.Second}, nil)
	if b.Ratelimited() {
		t.Fatal("fresh bucket must not be ratelimited")
	}
	if b.RetryAfter() != 0 {
		t.Fatal("fresh bucket must not have a retry delay")
	}
}
