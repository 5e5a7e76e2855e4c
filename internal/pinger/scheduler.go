package pinger

import (
	"math"
	"time"
)

// DefaultUpdateRate is used when the configured rate is zero, negative or
// not finite.
const DefaultUpdateRate = 1.0

// Scheduler gates measurement production to a fixed rate in simulation time.
// It is driven by the single tick goroutine and is not safe for concurrent use.
type Scheduler struct {
	period time.Duration
	last   time.Duration
	fired  bool
}

// NewScheduler returns a gate for rateHz updates per second of simulation time.
func NewScheduler(rateHz float64) *Scheduler {
	if rateHz <= 0 || math.IsNaN(rateHz) || math.IsInf(rateHz, 0) {
		rateHz = DefaultUpdateRate
	}
	ns := float64(time.Second) / rateHz
	var period time.Duration
	switch {
	case ns >= math.MaxInt64:
		// Slower than one fire per ~292 years: the first fire is the only one.
		period = time.Duration(math.MaxInt64)
	case ns < 1:
		period = 1
	default:
		period = time.Duration(ns)
	}
	return &Scheduler{period: period}
}

// Period is the minimum simulation time between two fires.
func (s *Scheduler) Period() time.Duration { return s.period }

// ShouldFire reports whether a measurement is due at now, and records now as
// the last fire time when it is. The first call always fires.
func (s *Scheduler) ShouldFire(now time.Duration) bool {
	if s.fired && now-s.last < s.period {
		return false
	}
	s.last = now
	s.fired = true
	return true
}

// Due reports what ShouldFire would return without recording anything.
func (s *Scheduler) Due(now time.Duration) bool {
	return !s.fired || now-s.last >= s.period
}
