package main

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"pinger-sim/internal/config"
	"pinger-sim/internal/db"
	"pinger-sim/internal/geometry"
	"pinger-sim/internal/logging"
	"pinger-sim/internal/observability"
	"pinger-sim/internal/pinger"
	"pinger-sim/internal/web"
)

type recordingSink struct {
	mu  sync.Mutex
	got []pinger.Measurement
	err error
}

func (s *recordingSink) Publish(_ context.Context, m pinger.Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, m)
	return s.err
}

func (s *recordingSink) all() []pinger.Measurement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pinger.Measurement(nil), s.got...)
}

type closeCounter struct{ n int }

func (c *closeCounter) Close() error {
	c.n++
	return nil
}

func mustConfig(t *testing.T, body string) config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(body))
	if err != nil {
		t.Fatalf("config.Parse() error: %v", err)
	}
	return cfg
}

func newTestRuntime(t *testing.T, cfg config.Config, sink *recordingSink) (*simRuntime, *observability.PingerCollector, *closeCounter) {
	t.Helper()
	metrics, err := observability.NewPingerCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewPingerCollector() error: %v", err)
	}
	cc := &closeCounter{}
	open := func(config.Config, string) ([]pinger.Sink, []io.Closer, error) {
		return []pinger.Sink{{Name: "test", Publisher: sink}}, []io.Closer{cc}, nil
	}
	rt, err := newSimRuntimeWith(cfg, "session-1", logging.Noop(), metrics, open)
	if err != nil {
		t.Fatalf("newSimRuntimeWith() error: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt, metrics, cc
}

func TestRuntime_AcceleratedStaticReceiver(t *testing.T) {
	cfg := mustConfig(t, `
pinger:
  position: {x: 10, y: 0, z: 0}
  update_rate: 2
sim:
  mode: accelerated
  tick: 100ms
  duration: 3s
`)
	sink := &recordingSink{}
	rt, metrics, cc := newTestRuntime(t, cfg, sink)

	if err := rt.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	// Ticks 0, 100ms, ... 3s; the gate opens every 500ms including at 3s.
	got := sink.all()
	if len(got) != 7 {
		t.Fatalf("measurements=%d want 7", len(got))
	}
	for i, m := range got {
		if m.Seq != uint64(i+1) {
			t.Fatalf("seq[%d]=%d", i, m.Seq)
		}
		if m.Stamp != time.Duration(i)*500*time.Millisecond {
			t.Fatalf("stamp[%d]=%s", i, m.Stamp)
		}
		if m.FrameID != "pinger" || m.Range != 10 || m.Bearing != 0 || m.Elevation != 0 {
			t.Fatalf("measurement[%d]=%+v", i, m)
		}
	}
	if v := testutil.ToFloat64(metrics.Measurements); v != 7 {
		t.Fatalf("pinger_measurements_total=%v want 7", v)
	}
	if last, ok := rt.measurements.Latest(); !ok || last.Seq != 7 {
		t.Fatalf("web latest=%+v ok=%v", last, ok)
	}
	if hist, _ := rt.measurements.Measurements(context.Background(), 0); len(hist) != 7 || hist[0].Seq != 7 {
		t.Fatalf("web history=%+v", hist)
	}

	snap := rt.status.Snapshot(time.Time{})
	if snap.MeasurementsTotal != 7 || snap.TicksSkipped != 24 {
		t.Fatalf("status measurements=%d skipped=%d", snap.MeasurementsTotal, snap.TicksSkipped)
	}
	if snap.Pinger.Session != "session-1" || len(snap.Pinger.Sinks) != 2 {
		t.Fatalf("status pinger=%+v", snap.Pinger)
	}

	if err := rt.Close(); err != nil || cc.n != 1 {
		t.Fatalf("Close() err=%v closes=%d", err, cc.n)
	}
}

func TestRuntime_SpawnDelaysFirstMeasurement(t *testing.T) {
	cfg := mustConfig(t, `
pinger:
  position: {x: 0, y: 5, z: 0}
sim:
  mode: accelerated
  tick: 100ms
  duration: 2s
  vehicle:
    spawn_at: 1250ms
`)
	sink := &recordingSink{}
	rt, metrics, _ := newTestRuntime(t, cfg, sink)
	if err := rt.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("measurements=%d want 1", len(got))
	}
	if got[0].Stamp != 1300*time.Millisecond {
		t.Fatalf("first stamp=%s want 1.3s", got[0].Stamp)
	}
	if math.Abs(got[0].Bearing-math.Pi/2) > 1e-9 {
		t.Fatalf("bearing=%v want pi/2", got[0].Bearing)
	}
	if v := testutil.ToFloat64(metrics.TicksSkipped.WithLabelValues(pinger.SkipPose)); v != 13 {
		t.Fatalf("pose skips=%v want 13", v)
	}
}

func TestRuntime_ScenarioMovesPinger(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scn.yaml")
	script := `
duration: 2s
vehicle:
  keyframes:
    - {t: 0s, x: 0, y: 0, z: 0}
pinger_moves:
  - {t: 0s, x: 3, y: 0, z: 0}
  - {t: 1s, x: 0, y: 4, z: 0}
  - {t: 2s, x: 0, y: 0, z: -5}
`
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	cfg := mustConfig(t, `
pinger:
  update_rate: 1
sim:
  mode: accelerated
  tick: 100ms
  scenario:
    path: `+path+`
`)
	sink := &recordingSink{}
	rt, metrics, _ := newTestRuntime(t, cfg, sink)
	if err := rt.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	got := sink.all()
	if len(got) != 3 {
		t.Fatalf("measurements=%d want 3", len(got))
	}
	if got[0].Range != 3 || got[0].Bearing != 0 {
		t.Fatalf("first=%+v want range 3 bearing 0", got[0])
	}
	if got[1].Range != 4 || math.Abs(got[1].Bearing-math.Pi/2) > 1e-9 {
		t.Fatalf("second=%+v want range 4 bearing pi/2", got[1])
	}
	// The move at the scenario's last instant is applied before the end.
	if got[2].Stamp != 2*time.Second || got[2].Range != 5 || math.Abs(got[2].Elevation+math.Pi/2) > 1e-9 {
		t.Fatalf("third=%+v want range 5 elevation -pi/2 at 2s", got[2])
	}
	if v := testutil.ToFloat64(metrics.Repositions.WithLabelValues("scenario")); v != 3 {
		t.Fatalf("scenario repositions=%v want 3", v)
	}
	if p := rt.Position(); p != (geometry.Position{Z: -5}) {
		t.Fatalf("final position=%v", p)
	}
}

func TestRuntime_RepositionQueue(t *testing.T) {
	cfg := mustConfig(t, "sim:\n  mode: accelerated\n  duration: 1s\n")
	rt, _, _ := newTestRuntime(t, cfg, &recordingSink{})

	for i := 0; i < repositionQueue; i++ {
		if err := rt.Reposition(geometry.Position{X: float64(i)}); err != nil {
			t.Fatalf("Reposition(%d) error: %v", i, err)
		}
	}
	if err := rt.Reposition(geometry.Position{}); !errors.Is(err, web.ErrRepositionBusy) {
		t.Fatalf("err=%v want ErrRepositionBusy", err)
	}
}

func TestRuntime_RepositionAppliedByFollower(t *testing.T) {
	cfg := mustConfig(t, "pinger:\n  update_rate: 1\n")
	sink := &recordingSink{}
	rt, metrics, _ := newTestRuntime(t, cfg, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	want := geometry.Position{X: 1, Y: 2, Z: 3}
	if err := rt.Reposition(want); err != nil {
		t.Fatalf("Reposition() error: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for rt.Position() != want {
		if time.Now().After(deadline) {
			t.Fatalf("position=%v want %v", rt.Position(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if v := testutil.ToFloat64(metrics.Repositions.WithLabelValues("http")); v != 1 {
		t.Fatalf("http repositions=%v want 1", v)
	}
}

func TestRuntime_PublishErrorsCounted(t *testing.T) {
	cfg := mustConfig(t, "sim:\n  mode: accelerated\n  tick: 500ms\n  duration: 2s\n")
	sink := &recordingSink{err: errors.New("down")}
	rt, metrics, _ := newTestRuntime(t, cfg, sink)
	if err := rt.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if n := len(sink.all()); n != 3 {
		t.Fatalf("attempts=%d want 3", n)
	}
	if v := testutil.ToFloat64(metrics.PublishErrors.WithLabelValues("test")); v != 3 {
		t.Fatalf("publish errors=%v want 3", v)
	}
}

func TestNewSimRuntime_BadScenarioPath(t *testing.T) {
	cfg := mustConfig(t, "sim:\n  scenario:\n    path: "+filepath.Join(t.TempDir(), "missing.yaml")+"\n")
	_, err := newSimRuntimeWith(cfg, "", nil, nil, openSinks)
	if err == nil {
		t.Fatalf("expected error for missing scenario")
	}
}

func TestRuntime_AuditLogRecordsRepositionsOnly(t *testing.T) {
	dir := t.TempDir()
	scn := filepath.Join(dir, "scn.yaml")
	script := `
duration: 1s
vehicle:
  keyframes:
    - {t: 0s}
pinger_moves:
  - {t: 0s, x: 3}
  - {t: 1s, y: 4}
`
	if err := os.WriteFile(scn, []byte(script), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	path := filepath.Join(dir, "audit.db")
	cfg := mustConfig(t, `
sim:
  mode: accelerated
  tick: 250ms
  scenario:
    path: `+scn+`
audit:
  enable: true
  path: `+path+`
`)
	sink := &recordingSink{}
	open := func(config.Config, string) ([]pinger.Sink, []io.Closer, error) {
		return []pinger.Sink{{Name: "test", Publisher: sink}}, nil, nil
	}
	rt, err := newSimRuntimeWith(cfg, "session-db", logging.Noop(), nil, open)
	if err != nil {
		t.Fatalf("newSimRuntimeWith() error: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	if err := rt.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if n := len(sink.all()); n != 2 {
		t.Fatalf("measurements=%d want 2", n)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	audit, err := db.NewDB(path)
	if err != nil {
		t.Fatalf("reopen audit log: %v", err)
	}
	defer audit.Close()
	audit.Session = "session-db"
	moves, err := audit.Repositions(context.Background(), 0)
	if err != nil {
		t.Fatalf("Repositions() error: %v", err)
	}
	if len(moves) != 2 {
		t.Fatalf("repositions=%+v want 2", moves)
	}
	if moves[0].Source != "scenario" || moves[0].Position != (geometry.Position{X: 3}) || moves[1].Position != (geometry.Position{Y: 4}) {
		t.Fatalf("repositions=%+v", moves)
	}

	var tables int
	if err := audit.QueryRow("SELECT count(*) FROM sqlite_master WHERE name = 'measurements'").Scan(&tables); err != nil {
		t.Fatalf("query schema: %v", err)
	}
	if tables != 0 {
		t.Fatalf("measurements table present")
	}
}
