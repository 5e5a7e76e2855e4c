package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PingerCollector bundles Prometheus metrics for the measurement pipeline and
// its inputs/outputs. All methods are safe on a nil receiver.
type PingerCollector struct {
	gatherer prometheus.Gatherer

	Measurements  prometheus.Counter
	TicksSkipped  *prometheus.CounterVec
	Repositions   *prometheus.CounterVec
	PublishErrors *prometheus.CounterVec
	TickDuration  prometheus.Histogram

	LastRange     prometheus.Gauge
	LastBearing   prometheus.Gauge
	LastElevation prometheus.Gauge
}

// NewPingerCollector registers pinger metrics against reg, defaulting to the
// global Prometheus registry when nil. Registering twice against the same
// registry returns the existing collectors.
func NewPingerCollector(reg prometheus.Registerer) (*PingerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &PingerCollector{gatherer: gatherer}
	var err error

	if c.Measurements, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pinger_measurements_total",
		Help: "Total number of range/bearing/elevation measurements emitted.",
	}), "pinger_measurements_total"); err != nil {
		return nil, err
	}
	if c.TicksSkipped, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pinger_ticks_skipped_total",
		Help: "Simulation ticks that produced no measurement, labeled by reason.",
	}, []string{"reason"}), "pinger_ticks_skipped_total"); err != nil {
		return nil, err
	}
	if c.Repositions, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pinger_repositions_total",
		Help: "Pinger position updates applied, labeled by source.",
	}, []string{"source"}), "pinger_repositions_total"); err != nil {
		return nil, err
	}
	if c.PublishErrors, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pinger_publish_errors_total",
		Help: "Failed measurement publications, labeled by sink.",
	}, []string{"sink"}), "pinger_publish_errors_total"); err != nil {
		return nil, err
	}
	if c.TickDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pinger_tick_duration_seconds",
		Help:    "Wall-clock time spent producing and publishing one measurement.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	}), "pinger_tick_duration_seconds"); err != nil {
		return nil, err
	}
	if c.LastRange, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pinger_last_range_meters",
		Help: "Range of the most recent emitted measurement.",
	}), "pinger_last_range_meters"); err != nil {
		return nil, err
	}
	if c.LastBearing, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pinger_last_bearing_radians",
		Help: "Bearing of the most recent emitted measurement.",
	}), "pinger_last_bearing_radians"); err != nil {
		return nil, err
	}
	if c.LastElevation, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pinger_last_elevation_radians",
		Help: "Elevation of the most recent emitted measurement.",
	}), "pinger_last_elevation_radians"); err != nil {
		return nil, err
	}
	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *PingerCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *PingerCollector) ObserveMeasurement(rangeM, bearingRad, elevationRad float64, seconds float64) {
	if c == nil {
		return
	}
	c.Measurements.Inc()
	c.LastRange.Set(rangeM)
	c.LastBearing.Set(bearingRad)
	c.LastElevation.Set(elevationRad)
	c.TickDuration.Observe(seconds)
}

func (c *PingerCollector) SkipTick(reason string) {
	if c == nil {
		return
	}
	c.TicksSkipped.WithLabelValues(reason).Inc()
}

func (c *PingerCollector) Reposition(source string) {
	if c == nil {
		return
	}
	c.Repositions.WithLabelValues(source).Inc()
}

func (c *PingerCollector) PublishError(sink string) {
	if c == nil {
		return
	}
	c.PublishErrors.WithLabelValues(sink).Inc()
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
