package runner

import (
	"errors"
	"sync"
	"time"
)

// ClockTick is one second of phase time. Exactly one tick carries
// Completed=true, after which the clock goes quiet.
type ClockTick struct {
	Elapsed   time.Duration
	Remaining time.Duration
	Completed bool
}

// IntervalClock counts a single phase down, one owned tick at a time. The
// elapsed counter advances exactly one second per tick; it is never
// recomputed from wall-clock deltas, so a delayed tick shifts the phase
// instead of compressing it. Completion is evaluated inside the tick,
// nowhere else.
//
// A clock is single use: Start once, then Cancel and discard. Cancel is
// idempotent and safe after completion.
type IntervalClock struct {
	duration time.Duration
	interval time.Duration // real time between ticks, one second in production

	mu      sync.Mutex
	elapsed time.Duration
	started bool
	stopped bool

	ticks    chan ClockTick
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewIntervalClock creates a clock for one phase of the given duration.
// A zero or negative duration completes on the first tick.
func NewIntervalClock(duration time.Duration) *IntervalClock {
	return &IntervalClock{
		duration: duration,
		interval: time.Second,
		ticks:    make(chan ClockTick, 1),
		stopChan: make(chan struct{}),
	}
}

// Start begins ticking. It fails on reuse: a cancelled or completed clock
// stays inert forever.
func (c *IntervalClock) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return errors.New("interval clock is spent")
	}
	if c.started {
		return errors.New("interval clock already started")
	}
	c.started = true

	c.wg.Add(1)
	go c.run()
	return nil
}

// C delivers ticks. The channel is never closed; after the Completed tick
// or a Cancel it simply goes silent.
func (c *IntervalClock) C() <-chan ClockTick {
	return c.ticks
}

// Cancel stops the clock without a completion signal. Idempotent.
func (c *IntervalClock) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// stopLocked marks the clock spent and releases the run goroutine.
// Must be called with mu held.
func (c *IntervalClock) stopLocked() {
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.stopChan)
}

// Elapsed returns how much phase time the clock has counted.
func (c *IntervalClock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

// Remaining returns the phase time left, clamped at zero.
func (c *IntervalClock) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := c.duration - c.elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (c *IntervalClock) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.stopped {
				c.mu.Unlock()
				return
			}
			c.elapsed += time.Second
			elapsed := c.elapsed
			remaining := c.duration - elapsed
			if remaining < 0 {
				remaining = 0
			}
			completed := elapsed >= c.duration
			c.mu.Unlock()

			tick := ClockTick{Elapsed: elapsed, Remaining: remaining, Completed: completed}
			select {
			case c.ticks <- tick:
			case <-c.stopChan:
				return
			}

			if completed {
				c.mu.Lock()
				c.stopLocked()
				c.mu.Unlock()
				return
			}
		}
	}
}
