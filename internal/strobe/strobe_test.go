package strobe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pinger-sim/internal/pinger"
)

type fakeLine struct {
	mu     sync.Mutex
	values []int
	setErr error
	closed bool
}

func (l *fakeLine) SetValue(v int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.setErr != nil {
		return l.setErr
	}
	l.values = append(l.values, v)
	return nil
}

func (l *fakeLine) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLine) snapshot() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.values...)
}

func TestStrobe_PulsesHighThenLow(t *testing.T) {
	line := &fakeLine{}
	s := newStrobe(line, 5*time.Millisecond)

	if err := s.Publish(context.Background(), pinger.Measurement{}); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if got := line.snapshot(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("values=%v want [1]", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got := line.snapshot()
		if len(got) == 2 {
			if got[1] != 0 {
				t.Fatalf("values=%v want [1 0]", got)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("line never lowered: %v", got)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStrobe_CloseLowersAndReleases(t *testing.T) {
	line := &fakeLine{}
	s := newStrobe(line, time.Hour)
	_ = s.Publish(context.Background(), pinger.Measurement{})

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	got := line.snapshot()
	if len(got) != 2 || got[1] != 0 || !line.closed {
		t.Fatalf("values=%v closed=%v", got, line.closed)
	}
	if err := s.Publish(context.Background(), pinger.Measurement{}); err == nil {
		t.Fatalf("expected error after Close")
	}
}

func TestStrobe_PublishPropagatesError(t *testing.T) {
	wantErr := errors.New("busy")
	s := newStrobe(&fakeLine{setErr: wantErr}, 0)
	if s.Pulse != 10*time.Millisecond {
		t.Fatalf("pulse=%s want 10ms", s.Pulse)
	}
	if err := s.Publish(context.Background(), pinger.Measurement{}); !errors.Is(err, wantErr) {
		t.Fatalf("err=%v want %v", err, wantErr)
	}
}

func TestOpen_UsesInjectedLine(t *testing.T) {
	line := &fakeLine{}
	orig := openLineFn
	t.Cleanup(func() { openLineFn = orig })
	var gotPin int
	openLineFn = func(pin int) (outputLine, error) {
		gotPin = pin
		return line, nil
	}

	s, err := Open(17, time.Millisecond)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()
	if gotPin != 17 {
		t.Fatalf("pin=%d want 17", gotPin)
	}
}
