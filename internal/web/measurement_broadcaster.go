package web

import (
	"context"
	"sync"

	"pinger-sim/internal/pinger"
)

// DefaultHistorySize is how many recent measurements a broadcaster retains
// for the history endpoints.
const DefaultHistorySize = 1000

// MeasurementBroadcaster fans emitted measurements out to any listeners
// (e.g. SSE). It keeps the most recent value so new subscribers get an
// immediate sample, and a bounded in-memory ring of recent values that is
// lost on restart. Slow subscribers drop samples rather than block the tick.
type MeasurementBroadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan pinger.Measurement
	nextID int

	ring []pinger.Measurement
	next int // slot the next Publish writes
	n    int // filled slots
}

func NewMeasurementBroadcaster() *MeasurementBroadcaster {
	return NewMeasurementBroadcasterSize(DefaultHistorySize)
}

// NewMeasurementBroadcasterSize retains the last size measurements; size < 1
// keeps only the latest.
func NewMeasurementBroadcasterSize(size int) *MeasurementBroadcaster {
	if size < 1 {
		size = 1
	}
	return &MeasurementBroadcaster{
		subs: make(map[int]chan pinger.Measurement),
		ring: make([]pinger.Measurement, size),
	}
}

func (b *MeasurementBroadcaster) Subscribe(buffer int) (int, <-chan pinger.Measurement) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan pinger.Measurement, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	last, have := b.latestLocked()
	b.mu.Unlock()
	if have {
		select {
		case ch <- last:
		default:
		}
	}
	return id, ch
}

func (b *MeasurementBroadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Latest returns the most recent measurement, if any.
func (b *MeasurementBroadcaster) Latest() (pinger.Measurement, bool) {
	if b == nil {
		return pinger.Measurement{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latestLocked()
}

func (b *MeasurementBroadcaster) latestLocked() (pinger.Measurement, bool) {
	if b.n == 0 {
		return pinger.Measurement{}, false
	}
	return b.ring[(b.next-1+len(b.ring))%len(b.ring)], true
}

// Measurements implements History from the in-memory ring: up to limit of
// the retained measurements, newest first. limit <= 0 returns all of them.
func (b *MeasurementBroadcaster) Measurements(_ context.Context, limit int) ([]pinger.Measurement, error) {
	if b == nil {
		return nil, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if limit <= 0 || limit > b.n {
		limit = b.n
	}
	out := make([]pinger.Measurement, limit)
	for i := range out {
		out[i] = b.ring[(b.next-1-i+2*len(b.ring))%len(b.ring)]
	}
	return out, nil
}

// Publish implements pinger.Publisher.
func (b *MeasurementBroadcaster) Publish(_ context.Context, m pinger.Measurement) error {
	if b == nil {
		return nil
	}
	// Sends happen under the write lock; Unsubscribe closes under it too.
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring[b.next] = m
	b.next = (b.next + 1) % len(b.ring)
	if b.n < len(b.ring) {
		b.n++
	}
	for _, ch := range b.subs {
		select {
		case ch <- m:
		default:
		}
	}
	return nil
}
