package simclock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClock_StepStartsAtZero(t *testing.T) {
	c := New(100*time.Millisecond, Accelerated)
	var got []time.Duration
	c.AddListener(func(_ context.Context, now time.Duration) { got = append(got, now) })

	for i := 0; i < 3; i++ {
		c.Step(context.Background())
	}
	want := []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond}
	if len(got) != len(want) {
		t.Fatalf("got=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d]=%s want %s", i, got[i], want[i])
		}
	}
	if c.Now() != 200*time.Millisecond {
		t.Fatalf("Now()=%s want 200ms", c.Now())
	}
}

func TestClock_RunAcceleratedStopsAtDuration(t *testing.T) {
	c := New(10*time.Millisecond, Accelerated)
	n := 0
	var last time.Duration
	c.AddListener(func(_ context.Context, now time.Duration) {
		n++
		last = now
	})

	if err := c.Run(context.Background(), time.Second); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	// 0, 10ms, ... 1s.
	if n != 101 {
		t.Fatalf("ticks=%d want 101", n)
	}
	if last != time.Second {
		t.Fatalf("last=%s want 1s", last)
	}
}

func TestClock_RunDeliversFinalTick(t *testing.T) {
	cases := []struct {
		tick, duration time.Duration
		ticks          int
		last           time.Duration
	}{
		{100 * time.Millisecond, 300 * time.Millisecond, 4, 300 * time.Millisecond},
		// Off the tick grid: nothing past duration is delivered.
		{100 * time.Millisecond, 250 * time.Millisecond, 3, 200 * time.Millisecond},
		{time.Second, time.Millisecond, 1, 0},
	}
	for _, tc := range cases {
		c := New(tc.tick, Accelerated)
		n := 0
		var last time.Duration
		c.AddListener(func(_ context.Context, now time.Duration) {
			n++
			last = now
		})
		if err := c.Run(context.Background(), tc.duration); err != nil {
			t.Fatalf("Run(%s) error: %v", tc.duration, err)
		}
		if n != tc.ticks || last != tc.last {
			t.Fatalf("tick=%s duration=%s: ticks=%d last=%s want %d %s", tc.tick, tc.duration, n, last, tc.ticks, tc.last)
		}
	}
}

func TestClock_ListenersRunInOrder(t *testing.T) {
	c := New(time.Millisecond, Accelerated)
	var order []string
	c.AddListener(func(context.Context, time.Duration) { order = append(order, "a") })
	c.AddListener(func(context.Context, time.Duration) { order = append(order, "b") })
	c.Step(context.Background())
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order=%v want [a b]", order)
	}
}

func TestClock_RunRealTimeCancels(t *testing.T) {
	c := New(5*time.Millisecond, RealTime)
	ctx, cancel := context.WithCancel(context.Background())
	ticks := 0
	c.AddListener(func(_ context.Context, now time.Duration) {
		ticks++
		if ticks == 3 {
			cancel()
		}
	})

	err := c.Run(ctx, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
	if ticks != 3 {
		t.Fatalf("ticks=%d want 3", ticks)
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("Accelerated"); err != nil || m != Accelerated {
		t.Fatalf("ParseMode(Accelerated)=%v,%v", m, err)
	}
	if m, err := ParseMode(""); err != nil || m != RealTime {
		t.Fatalf("ParseMode(\"\")=%v,%v", m, err)
	}
	if _, err := ParseMode("warp"); err == nil {
		t.Fatalf("expected error")
	}
}
