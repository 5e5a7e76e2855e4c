// Package simclock drives simulation time in fixed ticks and invokes
// registered listeners serially on every tick.
package simclock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Mode describes how the Clock advances simulation time.
type Mode int

const (
	// RealTime paces ticks against the wall clock.
	RealTime Mode = iota
	// Accelerated advances as fast as the listeners allow.
	Accelerated
)

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "realtime":
		return RealTime, nil
	case "accelerated":
		return Accelerated, nil
	default:
		return RealTime, fmt.Errorf("unknown clock mode %q", s)
	}
}

// Listener is called once per tick with the elapsed simulation time.
type Listener func(ctx context.Context, now time.Duration)

// Clock is a fixed-step simulation clock. Now is safe from any goroutine;
// listeners always run on the goroutine that calls Run or Step.
type Clock struct {
	Tick time.Duration
	Mode Mode

	mu        sync.RWMutex
	now       time.Duration
	started   bool
	listeners []Listener
}

func New(tick time.Duration, mode Mode) *Clock {
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	return &Clock{Tick: tick, Mode: mode}
}

// Now returns the current simulation time.
func (c *Clock) Now() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// AddListener registers fn. Listeners run in registration order.
func (c *Clock) AddListener(fn Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Step delivers the current time to listeners (the first call delivers zero)
// and then advances by one tick. It returns the time that was delivered.
func (c *Clock) Step(ctx context.Context) time.Duration {
	c.mu.Lock()
	if c.started {
		c.now += c.Tick
	}
	c.started = true
	now := c.now
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(ctx, now)
	}
	return now
}

// Run steps the clock until ctx is done or, when duration > 0, until every
// tick in [0, duration] has been delivered, including one landing exactly on
// duration. It returns ctx.Err() on cancellation and nil when the
// duration elapses.
func (c *Clock) Run(ctx context.Context, duration time.Duration) error {
	var ticker *time.Ticker
	if c.Mode == RealTime {
		ticker = time.NewTicker(c.Tick)
		defer ticker.Stop()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := c.Step(ctx)
		if duration > 0 && now+c.Tick > duration {
			return nil
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
}
