// Package paint drives the canvas toward a plan, one convergence pass at
// a time.
package paint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"canvaspaint/internal/canvas"
	"canvaspaint/internal/plan"
	"canvaspaint/internal/ratelimit"
)

// Painter is the part of the canvas model the driver needs.
type Painter interface {
	GetPixel(ctx context.Context, x, y int) (string, error)
	SetPixel(ctx context.Context, x, y int, color string) error
	SetPixelIfDifferent(ctx context.Context, x, y int, color string) (canvas.Result, error)
}

// State is the driver lifecycle.
type State int

const (
	StateIdle State = iota
	StatePlanning
	StatePainting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePlanning:
		return "planning"
	case StatePainting:
		return "painting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "idle"
}

// Outcome is what happened to one planned pixel.
type Outcome string

const (
	OutcomeWritten    Outcome = "written"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeOutOfRange Outcome = "out_of_range"
)

// Stats counts the outcomes of one pass.
type Stats struct {
	Attempted  int `json:"attempted"`
	Written    int `json:"written"`
	Skipped    int `json:"skipped"`
	OutOfRange int `json:"out_of_range"`
}

// Status is a point-in-time view of the driver.
type Status struct {
	State     string  `json:"state"`
	Pass      int     `json:"pass"`
	Loop      string  `json:"loop"`
	Total     int     `json:"total"`
	Stats     Stats   `json:"stats"`
	Percent   float64 `json:"percent"`
	Queued    int     `json:"queued"`
	LastError string  `json:"last_error,omitempty"`
}

// Recorder receives every pixel outcome and pass result.
type Recorder interface {
	RecordPixel(ctx context.Context, pass int, e plan.Entry, outcome Outcome)
	RecordPass(ctx context.Context, pass int, stats Stats, err error)
}

// Driver runs convergence passes over a plan.
type Driver struct {
	painter  Painter
	plan     *plan.Plan
	logger   *slog.Logger
	recorder Recorder
	progress func(Status)

	loop      Loop
	force     bool
	workers   int
	queueSize int
	passDelay time.Duration
	sleep     ratelimit.SleepFunc

	mu     sync.Mutex
	state  State
	pass   int
	stats  Stats
	queued int
	errMsg string

	// progressMu orders counting and the progress callback as one step.
	progressMu sync.Mutex
}

// Option configures a Driver.
type Option func(*Driver)

// WithLoop sets how many passes to run. Default Once.
func WithLoop(l Loop) Option { return func(d *Driver) { d.loop = l } }

// WithForce writes every pixel without reading it first.
func WithForce(force bool) Option { return func(d *Driver) { d.force = force } }

// WithWorkers enables the pipelined pass with n writers and a queue of
// size entries. n <= 1 keeps the sequential pass.
func WithWorkers(n, size int) Option {
	return func(d *Driver) {
		d.workers = n
		d.queueSize = size
	}
}

// WithRecorder sets the recorder of pixel and pass outcomes.
func WithRecorder(r Recorder) Option { return func(d *Driver) { d.recorder = r } }

// WithProgress sets a callback invoked after every pixel. Calls never
// overlap and arrive in counting order, even with several workers.
func WithProgress(fn func(Status)) Option { return func(d *Driver) { d.progress = fn } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(d *Driver) { d.logger = l } }

// WithPassDelay sets the pause after a failed pass before the next one.
func WithPassDelay(delay time.Duration, sleep ratelimit.SleepFunc) Option {
	return func(d *Driver) {
		d.passDelay = delay
		if sleep != nil {
			d.sleep = sleep
		}
	}
}

// New creates an idle driver.
func New(p Painter, pl *plan.Plan, opts ...Option) *Driver {
	d := &Driver{
		painter:   p,
		plan:      pl,
		logger:    slog.Default(),
		loop:      Once,
		workers:   1,
		passDelay: 5 * time.Second,
		sleep:     ratelimit.Sleep,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Status returns the current state. It never touches the canvas.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.statusLocked()
}

func (d *Driver) statusLocked() Status {
	return Status{
		State:     d.state.String(),
		Pass:      d.pass,
		Loop:      d.loop.String(),
		Total:     d.plan.Len(),
		Stats:     d.stats,
		Percent:   percent(d.stats.Attempted, d.plan.Len()),
		Queued:    d.queued,
		LastError: d.errMsg,
	}
}

// Stats returns the counts of the current or last pass.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func percent(done, total int) float64 {
	if total == 0 {
		return 100
	}
	return math.RoundToEven(float64(done)/float64(total)*100*100) / 100
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Run executes the configured passes. A failed pass is logged and the next
// one is attempted; the error of the final pass is returned. Unauthorized
// and invalid-cooldown errors stop the run at once.
func (d *Driver) Run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "starting paint",
		"pixels", d.plan.Len(),
		"loop", d.loop.String(),
		"workers", d.workers,
		"force", d.force)

	for pass := 1; d.loop.More(pass); pass++ {
		if err := ctx.Err(); err != nil {
			return d.fail(err)
		}

		d.mu.Lock()
		d.state = StatePlanning
		d.pass = pass
		d.stats = Stats{}
		d.mu.Unlock()

		err := d.runPass(ctx, pass)
		stats := d.Stats()
		if d.recorder != nil {
			d.recorder.RecordPass(ctx, pass, stats, err)
		}
		if err == nil {
			d.logger.InfoContext(ctx, "pass done",
				"pass", pass,
				"attempted", stats.Attempted,
				"written", stats.Written,
				"skipped", stats.Skipped,
				"out_of_range", stats.OutOfRange)
			continue
		}

		if ctx.Err() != nil {
			return d.fail(ctx.Err())
		}
		if errors.Is(err, canvas.ErrUnauthorized) || errors.Is(err, ratelimit.ErrInvalidCooldown) {
			return d.fail(err)
		}
		d.logger.ErrorContext(ctx, "pass aborted", "pass", pass, "error", err)
		if d.loop.Last(pass) {
			return d.fail(err)
		}
		d.mu.Lock()
		d.errMsg = err.Error()
		d.mu.Unlock()
		if err := d.sleep(ctx, d.passDelay); err != nil {
			return d.fail(err)
		}
	}

	d.setState(StateDone)
	return nil
}

func (d *Driver) fail(err error) error {
	d.mu.Lock()
	d.state = StateFailed
	d.errMsg = err.Error()
	d.mu.Unlock()
	return err
}

func (d *Driver) runPass(ctx context.Context, pass int) error {
	d.setState(StatePainting)
	if d.workers > 1 {
		return d.runPipelined(ctx, pass)
	}

	for _, e := range d.plan.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		outcome, err := d.paintOne(ctx, e)
		if err != nil {
			if !errors.Is(err, canvas.ErrAxisOutOfRange) {
				return fmt.Errorf("paint: pass %d at %s: %w", pass, e.Canvas, err)
			}
			outcome = OutcomeOutOfRange
		}
		d.record(ctx, pass, e, outcome)
	}
	return nil
}

func (d *Driver) paintOne(ctx context.Context, e plan.Entry) (Outcome, error) {
	if d.force {
		if err := d.painter.SetPixel(ctx, e.Canvas.X, e.Canvas.Y, e.Color); err != nil {
			return "", err
		}
		return OutcomeWritten, nil
	}
	res, err := d.painter.SetPixelIfDifferent(ctx, e.Canvas.X, e.Canvas.Y, e.Color)
	if err != nil {
		return "", err
	}
	if res == canvas.Skipped {
		return OutcomeSkipped, nil
	}
	return OutcomeWritten, nil
}

// record counts one visited entry and reports progress.
func (d *Driver) record(ctx context.Context, pass int, e plan.Entry, outcome Outcome) {
	d.progressMu.Lock()
	defer d.progressMu.Unlock()

	d.mu.Lock()
	d.stats.Attempted++
	switch outcome {
	case OutcomeWritten:
		d.stats.Written++
	case OutcomeSkipped:
		d.stats.Skipped++
	case OutcomeOutOfRange:
		d.stats.OutOfRange++
	}
	status := d.statusLocked()
	d.mu.Unlock()

	switch outcome {
	case OutcomeWritten:
		d.logger.InfoContext(ctx, "painted",
			"at", e.Canvas.String(),
			"color", e.Color,
			"percent", status.Percent)
	case OutcomeSkipped:
		d.logger.DebugContext(ctx, "already painted",
			"at", e.Canvas.String(),
			"percent", status.Percent)
	case OutcomeOutOfRange:
		d.logger.WarnContext(ctx, "out of range, skipped",
			"at", e.Canvas.String(),
			"percent", status.Percent)
	}

	if d.recorder != nil {
		d.recorder.RecordPixel(ctx, pass, e, outcome)
	}
	if d.progress != nil {
		d.progress(status)
	}
}
