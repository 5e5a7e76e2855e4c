package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestPingerCollector_RecordsMeasurement(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewPingerCollector(reg)
	if err != nil {
		t.Fatalf("NewPingerCollector: %v", err)
	}

	c.ObserveMeasurement(12.5, 0.25, -0.1, 0.0002)
	c.ObserveMeasurement(13, 0.5, -0.2, 0.0002)

	if got := testutil.ToFloat64(c.Measurements); got != 2 {
		t.Fatalf("pinger_measurements_total=%v want 2", got)
	}
	if got := testutil.ToFloat64(c.LastRange); got != 13 {
		t.Fatalf("pinger_last_range_meters=%v want 13", got)
	}
	if got := testutil.ToFloat64(c.LastElevation); got != -0.2 {
		t.Fatalf("pinger_last_elevation_radians=%v want -0.2", got)
	}
}

func TestPingerCollector_LabeledCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewPingerCollector(reg)
	if err != nil {
		t.Fatalf("NewPingerCollector: %v", err)
	}

	c.SkipTick("gate")
	c.SkipTick("gate")
	c.SkipTick("pose")
	c.Reposition("http")
	c.PublishError("udp")

	if got := testutil.ToFloat64(c.TicksSkipped.WithLabelValues("gate")); got != 2 {
		t.Fatalf("gate skips=%v want 2", got)
	}
	if got := testutil.ToFloat64(c.TicksSkipped.WithLabelValues("pose")); got != 1 {
		t.Fatalf("pose skips=%v want 1", got)
	}
	if got := testutil.ToFloat64(c.Repositions.WithLabelValues("http")); got != 1 {
		t.Fatalf("repositions=%v want 1", got)
	}
	if got := testutil.ToFloat64(c.PublishErrors.WithLabelValues("udp")); got != 1 {
		t.Fatalf("publish errors=%v want 1", got)
	}
}

func TestPingerCollector_RegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPingerCollector(reg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := NewPingerCollector(reg)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	a.Reposition("scenario")
	if got := testutil.ToFloat64(b.Repositions.WithLabelValues("scenario")); got != 1 {
		t.Fatalf("shared counter=%v want 1", got)
	}
}

func TestPingerCollector_NilSafe(t *testing.T) {
	var c *PingerCollector
	c.ObserveMeasurement(1, 2, 3, 4)
	c.SkipTick("gate")
	c.Reposition("http")
	c.PublishError("udp")
}

func TestPingerCollector_Handler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewPingerCollector(reg)
	if err != nil {
		t.Fatalf("NewPingerCollector: %v", err)
	}
	c.ObserveMeasurement(5, 0, 0, 0.001)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	for _, want := range []string{"pinger_measurements_total 1", "pinger_last_range_meters 5", "pinger_tick_duration_seconds_count 1"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestPingerCollector_TickDurationHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewPingerCollector(reg)
	if err != nil {
		t.Fatalf("NewPingerCollector: %v", err)
	}
	c.ObserveMeasurement(1, 0, 0, 0.00002)
	c.ObserveMeasurement(1, 0, 0, 0.002)

	h := histogramByName(t, reg, "pinger_tick_duration_seconds")
	if h.GetSampleCount() != 2 {
		t.Fatalf("sample count=%d want 2", h.GetSampleCount())
	}
	// 20us lands in the 50us bucket, 2ms in the 5ms bucket.
	for _, b := range h.GetBucket() {
		switch b.GetUpperBound() {
		case 0.00005:
			if b.GetCumulativeCount() != 1 {
				t.Fatalf("le=5e-05 count=%d want 1", b.GetCumulativeCount())
			}
		case 0.005:
			if b.GetCumulativeCount() != 2 {
				t.Fatalf("le=0.005 count=%d want 2", b.GetCumulativeCount())
			}
		}
	}
}

func histogramByName(t *testing.T, g prometheus.Gatherer, name string) *dto.Histogram {
	t.Helper()
	families, err := g.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name && len(mf.GetMetric()) == 1 {
			return mf.GetMetric()[0].GetHistogram()
		}
	}
	t.Fatalf("histogram %s not found", name)
	return nil
}
