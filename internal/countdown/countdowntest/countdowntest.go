// Package countdowntest provides a manual clock for driving countdowns in tests.
package countdowntest

import (
	"sync"
	"time"

	"github.com/victornm/quiztaker/internal/countdown"
)

const deliverTimeout = time.Second

// Clock is a fake wall clock whose tickers only fire when Tick is called.
type Clock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*Ticker
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Config() countdown.Config {
	return countdown.Config{
		Now:           c.Now,
		NewTickerFunc: c.NewTicker,
	}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) NewTicker(time.Duration) countdown.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &Ticker{c: make(chan time.Time), stop: make(chan struct{})}
	c.tickers = append(c.tickers, t)
	return t
}

// Advance moves the clock forward without firing any ticker.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Tick advances the clock by d and delivers a tick to the most recently created
// ticker. It reports whether the tick was received.
func (c *Clock) Tick(d time.Duration) bool {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var t *Ticker
	if len(c.tickers) > 0 {
		t = c.tickers[len(c.tickers)-1]
	}
	c.mu.Unlock()

	if t == nil {
		return false
	}
	return t.deliver(now)
}

// Tickers returns how many tickers were created so far.
func (c *Clock) Tickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

type Ticker struct {
	c    chan time.Time
	once sync.Once
	stop chan struct{}
}

func (t *Ticker) C() <-chan time.Time { return t.c }

func (t *Ticker) Stop() {
	t.once.Do(func() { close(t.stop) })
}

func (t *Ticker) deliver(now time.Time) bool {
	select {
	case <-t.stop:
		return false
	default:
	}

	select {
	case t.c <- now:
		return true
	case <-t.stop:
		return false
	case <-time.After(deliverTimeout):
		return false
	}
}
