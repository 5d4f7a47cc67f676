package paint

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"canvaspaint/internal/canvas"
	"canvaspaint/internal/plan"
)

func TestPipelined_PaintsEveryPixel(t *testing.T) {
	c, srv := liveCanvas(t, nil)
	srv.SetPixel(0, 0, "112233")

	var entries []plan.Entry
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			entries = append(entries, entry(x, y, "112233"))
		}
	}
	d := New(c, planOf(entries...), WithWorkers(4, 4), WithLogger(discard()))
	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := Stats{Attempted: 16, Written: 15, Skipped: 1}
	if got := d.Stats(); got != want {
		t.Fatalf("stats = %+v, want %+v", got, want)
	}
	for _, e := range entries {
		if got := srv.Pixel(e.Canvas.X, e.Canvas.Y); got != "112233" {
			t.Fatalf("pixel %s = %s", e.Canvas, got)
		}
	}
}

func TestPipelined_FatalErrorCancelsPass(t *testing.T) {
	p := &scripted{fails: 1, err: canvas.ErrServerUnavailable}
	var entries []plan.Entry
	for x := 0; x < 20; x++ {
		entries = append(entries, entry(x, 0, "ffffff"))
	}
	d := New(p, planOf(entries...), WithWorkers(3, 2), WithLogger(discard()))
	err := d.Run(context.Background())
	if !errors.Is(err, canvas.ErrServerUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if got := d.Stats().Attempted; got >= 20 {
		t.Fatalf("attempted = %d, pass was not cut short", got)
	}
}

// overlapDetector fails the test if two writes to one coordinate overlap.
type overlapDetector struct {
	scripted
	mu      sync.Mutex
	active  map[plan.Point]bool
	overlap bool
}

func (o *overlapDetector) SetPixelIfDifferent(ctx context.Context, x, y int, c string) (canvas.Result, error) {
	p := plan.Point{X: x, Y: y}
	o.mu.Lock()
	if o.active[p] {
		o.overlap = true
	}
	o.active[p] = true
	o.mu.Unlock()

	time.Sleep(time.Millisecond)

	o.mu.Lock()
	delete(o.active, p)
	o.mu.Unlock()
	return canvas.Written, nil
}

func TestPipelined_OneWritePerCoordinate(t *testing.T) {
	o := &overlapDetector{active: map[plan.Point]bool{}}
	var entries []plan.Entry
	for i := 0; i < 40; i++ {
		entries = append(entries, entry(i%2, 0, "ffffff"))
	}
	d := New(o, planOf(entries...), WithWorkers(8, 8), WithLogger(discard()))
	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if o.overlap {
		t.Fatal("concurrent writes to one coordinate")
	}
	if got := d.Stats().Written; got != 40 {
		t.Fatalf("written = %d", got)
	}
}

// gated blocks every write until open is closed.
type gated struct {
	open  chan struct{}
	mu    sync.Mutex
	calls int
}

func (g *gated) GetPixel(context.Context, int, int) (string, error) { return "000000", nil }

func (g *gated) SetPixel(context.Context, int, int, string) error { return nil }

func (g *gated) SetPixelIfDifferent(ctx context.Context, x, y int, c string) (canvas.Result, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	select {
	case <-g.open:
		return canvas.Written, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (g *gated) started() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// captured keeps every log record for inspection.
type captured struct {
	mu      sync.Mutex
	records []slog.Record
}

func (c *captured) Enabled(context.Context, slog.Level) bool { return true }

func (c *captured) Handle(_ context.Context, r slog.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r.Clone())
	return nil
}

func (c *captured) WithAttrs([]slog.Attr) slog.Handler { return c }

func (c *captured) WithGroup(string) slog.Handler { return c }

// warnings returns the "queued" attribute of every backlog warning.
func (c *captured) warnings() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []int64
	for _, r := range c.records {
		if r.Level != slog.LevelWarn || r.Message != "write queue backing up" {
			continue
		}
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "queued" {
				out = append(out, a.Value.Int64())
			}
			return true
		})
	}
	return out
}

func TestPipelined_FullQueueBlocksProducerAndWarns(t *testing.T) {
	const capacity = 4
	g := &gated{open: make(chan struct{})}
	logs := &captured{}

	var entries []plan.Entry
	for x := 0; x < 10; x++ {
		entries = append(entries, entry(x, 0, "ffffff"))
	}
	d := New(g, planOf(entries...), WithWorkers(2, capacity), WithLogger(slog.New(logs)))

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	// Both writers are stuck and the queue has filled up behind them.
	deadline := time.Now().Add(5 * time.Second)
	for g.started() < 2 || d.Status().Queued < capacity {
		if time.Now().After(deadline) {
			t.Fatalf("queue never filled: started=%d status=%+v", g.started(), d.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	if q := d.Status().Queued; q != capacity {
		t.Fatalf("queued = %d, want %d", q, capacity)
	}
	if n := g.started(); n != 2 {
		t.Fatalf("writes started = %d, want 2", n)
	}
	if w := logs.warnings(); len(w) != 1 || w[0] > capacity {
		t.Fatalf("backlog warnings = %v, want one at or below %d", w, capacity)
	}

	close(g.open)
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	if got := d.Stats().Written; got != len(entries) {
		t.Fatalf("written = %d, want %d", got, len(entries))
	}
	for _, q := range logs.warnings() {
		if q > capacity {
			t.Fatalf("queue reported %d entries, capacity %d", q, capacity)
		}
	}
	if q := d.Status().Queued; q != 0 {
		t.Fatalf("queued after run = %d", q)
	}
}

func TestPipelined_ProgressIsOrdered(t *testing.T) {
	var entries []plan.Entry
	for x := 0; x < 50; x++ {
		entries = append(entries, entry(x, 0, "ffffff"))
	}
	var seen []int
	d := New(&scripted{}, planOf(entries...),
		WithWorkers(6, 6),
		WithProgress(func(s Status) { seen = append(seen, s.Stats.Attempted) }),
		WithLogger(discard()))
	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(seen) != len(entries) {
		t.Fatalf("progress calls = %d, want %d", len(seen), len(entries))
	}
	for i, n := range seen {
		if n != i+1 {
			t.Fatalf("progress out of order at %d: %v", i, seen)
		}
	}
}
