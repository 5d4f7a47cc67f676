package paint

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"canvaspaint/internal/canvas"
	"canvaspaint/internal/plan"
)

// runPipelined paints one pass with a bounded queue feeding d.workers
// writers. All writers share the canvas's rate limiter, so a suspension
// on one endpoint pauses every writer hitting it. The first fatal error
// cancels the rest of the pass.
func (d *Driver) runPipelined(ctx context.Context, pass int) error {
	total := d.plan.Len()
	if total == 0 {
		return nil
	}

	workers := d.workers
	if total < workers {
		workers = total
	}
	size := d.queueSize
	if size <= 0 {
		size = workers * 2
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	queue := make(chan plan.Entry, size)
	highWater := size * 3 / 4
	warned := false
	inflight := newKeyedLock()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range queue {
				d.observeQueue(queue)
				if ctx.Err() != nil {
					continue
				}
				release := inflight.lock(e.Canvas)
				outcome, err := d.paintOne(ctx, e)
				release()
				if err != nil {
					if !errors.Is(err, canvas.ErrAxisOutOfRange) {
						cancel(fmt.Errorf("paint: pass %d at %s: %w", pass, e.Canvas, err))
						continue
					}
					outcome = OutcomeOutOfRange
				}
				d.record(ctx, pass, e, outcome)
			}
		}()
	}

feed:
	for _, e := range d.plan.Entries {
		select {
		case <-ctx.Done():
			break feed
		case queue <- e:
		}
		n := d.observeQueue(queue)
		if n >= highWater && highWater > 0 && !warned {
			warned = true
			d.logger.WarnContext(ctx, "write queue backing up",
				"queued", n,
				"capacity", size)
		} else if n < highWater/2 {
			warned = false
		}
	}
	close(queue)
	wg.Wait()
	d.mu.Lock()
	d.queued = 0
	d.mu.Unlock()

	if err := context.Cause(ctx); err != nil {
		return err
	}
	return nil
}

// observeQueue publishes the current queue depth and returns it.
func (d *Driver) observeQueue(queue chan plan.Entry) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queued = len(queue)
	return d.queued
}

// keyedLock serialises work on the same canvas coordinate.
type keyedLock struct {
	mu   sync.Mutex
	busy map[plan.Point]chan struct{}
}

func newKeyedLock() *keyedLock {
	return &keyedLock{busy: make(map[plan.Point]chan struct{})}
}

func (k *keyedLock) lock(p plan.Point) (release func()) {
	for {
		k.mu.Lock()
		wait, held := k.busy[p]
		if !held {
			done := make(chan struct{})
			k.busy[p] = done
			k.mu.Unlock()
			return func() {
				k.mu.Lock()
				delete(k.busy, p)
				k.mu.Unlock()
				close(done)
			}
		}
		k.mu.Unlock()
		<-wait
	}
}
