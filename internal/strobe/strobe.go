// Package strobe pulses a GPIO output once per emitted measurement so that
// hardware in the loop can timestamp simulated pings.
package strobe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pinger-sim/internal/pinger"
)

type outputLine interface {
	SetValue(v int) error
	Close() error
}

// Strobe drives a line high for Pulse after each Publish.
type Strobe struct {
	Pulse time.Duration

	mu     sync.Mutex
	line   outputLine
	timer  *time.Timer
	gen    uint64
	closed bool
}

// Open requests pin as an output held low.
func Open(pin int, pulse time.Duration) (*Strobe, error) {
	line, err := openLineFn(pin)
	if err != nil {
		return nil, err
	}
	return newStrobe(line, pulse), nil
}

func newStrobe(line outputLine, pulse time.Duration) *Strobe {
	if pulse <= 0 {
		pulse = 10 * time.Millisecond
	}
	return &Strobe{Pulse: pulse, line: line}
}

// Publish implements pinger.Publisher. It raises the line and returns without
// waiting; a publish during an active pulse extends it.
func (s *Strobe) Publish(_ context.Context, _ pinger.Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("strobe: closed")
	}
	if err := s.line.SetValue(1); err != nil {
		return fmt.Errorf("strobe: set high: %w", err)
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(s.Pulse, func() { s.lower(gen) })
	return nil
}

func (s *Strobe) lower(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen {
		return
	}
	_ = s.line.SetValue(0)
}

// Close drives the line low and releases it.
func (s *Strobe) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	_ = s.line.SetValue(0)
	return s.line.Close()
}
