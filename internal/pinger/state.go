package pinger

import (
	"context"
	"sync"

	"pinger-sim/internal/geometry"
)

// State holds the emitter position shared between the tick path and
// asynchronous reposition requests. The position is only reachable through
// Position and SetPosition, which copy under the lock.
type State struct {
	mu  sync.Mutex
	pos geometry.Position
}

func NewState(initial geometry.Position) *State {
	return &State{pos: initial}
}

// Position returns a copy of the current position.
func (s *State) Position() geometry.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// SetPosition replaces the position wholesale. Last writer wins.
func (s *State) SetPosition(p geometry.Position) {
	s.mu.Lock()
	s.pos = p
	s.mu.Unlock()
}

// Follow applies every position received on updates until ctx is done or
// updates is closed. onApply, if non-nil, runs after each update outside the
// lock.
func (s *State) Follow(ctx context.Context, updates <-chan geometry.Position, onApply func(geometry.Position)) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-updates:
			if !ok {
				return
			}
			s.SetPosition(p)
			if onApply != nil {
				onApply(p)
			}
		}
	}
}
