// Package countdown implements the per-attempt countdown. Remaining time is
// always derived from a wall-clock deadline, so tick jitter does not drift.
package countdown

import (
	"math"
	"sync"
	"time"
)

const tickInterval = time.Second

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type Config struct {
	Now           func() time.Time
	NewTickerFunc func(d time.Duration) Ticker
}

func (c Config) withDefaults() Config {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.NewTickerFunc == nil {
		c.NewTickerFunc = NewTicker
	}
	return c
}

// NewTicker wraps a time.Ticker.
func NewTicker(d time.Duration) Ticker {
	return &ticker{t: time.NewTicker(d)}
}

type ticker struct {
	t *time.Ticker
}

func (t *ticker) C() <-chan time.Time { return t.t.C }
func (t *ticker) Stop()               { t.t.Stop() }

// Timer counts down to a deadline, calling onTick once per second with the
// remaining seconds and onExpire exactly once when no time is left.
type Timer struct {
	now      func() time.Time
	deadline time.Time
	ticker   Ticker

	once sync.Once
	done chan struct{}
}

// Start starts a countdown of the given number of seconds. The caller owns the
// returned Timer and must Stop it on every exit path.
func Start(seconds int, c Config, onTick func(remaining int), onExpire func()) *Timer {
	c = c.withDefaults()

	t := &Timer{
		now:      c.Now,
		deadline: c.Now().Add(time.Duration(seconds) * time.Second),
		ticker:   c.NewTickerFunc(tickInterval),
		done:     make(chan struct{}),
	}

	go t.run(onTick, onExpire)

	return t
}

func (t *Timer) run(onTick func(int), onExpire func()) {
	defer t.ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C():
		}

		// Stop may race with a pending tick.
		select {
		case <-t.done:
			return
		default:
		}

		r := t.Remaining()
		if r <= 0 {
			t.Stop()
			onExpire()
			return
		}

		onTick(r)
	}
}

// Remaining returns the whole seconds left until the deadline, never negative.
func (t *Timer) Remaining() int {
	d := t.deadline.Sub(t.now())
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds()))
}

func (t *Timer) Deadline() time.Time {
	return t.deadline
}

// Stop stops the countdown. It is idempotent and does not wait for a callback
// that is already running.
func (t *Timer) Stop() {
	t.once.Do(func() { close(t.done) })
}

// Stopped reports whether the timer was stopped or has expired.
func (t *Timer) Stopped() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
