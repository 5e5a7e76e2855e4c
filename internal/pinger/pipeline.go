package pinger

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pinger-sim/internal/geometry"
	"pinger-sim/internal/logging"
	"pinger-sim/internal/noise"
)

// Recorder receives pipeline metrics. observability.PingerCollector
// implements it.
type Recorder interface {
	ObserveMeasurement(rangeM, bearingRad, elevationRad float64, seconds float64)
	SkipTick(reason string)
	PublishError(sink string)
}

// Skip reasons reported to the Recorder.
const (
	SkipGate = "gate"
	SkipPose = "pose"
)

type Config struct {
	FrameID    string
	UpdateRate float64

	RangeNoise     noise.Config
	BearingNoise   noise.Config
	ElevationNoise noise.Config

	// Seed makes the noise sequence reproducible. Zero seeds from the runtime.
	Seed uint64

	Logger  logging.Logger
	Metrics Recorder

	// Tracer defaults to the global provider's tracer.
	Tracer trace.Tracer
}

// Pipeline turns simulation ticks into rate-limited noisy measurements.
//
// OnTick must be called from a single goroutine. The pinger State may be
// updated concurrently from anywhere.
type Pipeline struct {
	frameID string
	sched   *Scheduler
	state   *State
	poses   PoseSource
	pub     Publisher
	log     logging.Logger
	metrics Recorder
	tracer  trace.Tracer

	rangeNoise     *noise.Model
	bearingNoise   *noise.Model
	elevationNoise *noise.Model

	seq uint64
}

// NewPipeline wires a pipeline. A nil state or pose source is a construction
// error. An invalid noise block falls back to no noise for that channel.
func NewPipeline(cfg Config, state *State, poses PoseSource, pub Publisher) (*Pipeline, error) {
	if state == nil {
		return nil, errors.New("pinger: state is nil")
	}
	if poses == nil {
		return nil, errors.New("pinger: pose source is nil")
	}
	if pub == nil {
		pub = Publishers(nil)
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Noop()
	}

	p := &Pipeline{
		frameID: cfg.FrameID,
		sched:   NewScheduler(cfg.UpdateRate),
		state:   state,
		poses:   poses,
		pub:     pub,
		log:     log,
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer("pinger-sim/internal/pinger")
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	step := p.sched.Period()
	p.rangeNoise = buildNoise(log, "range", cfg.RangeNoise, step, rand.NewPCG(seed, 1))
	p.bearingNoise = buildNoise(log, "bearing", cfg.BearingNoise, step, rand.NewPCG(seed, 2))
	p.elevationNoise = buildNoise(log, "elevation", cfg.ElevationNoise, step, rand.NewPCG(seed, 3))
	return p, nil
}

func buildNoise(log logging.Logger, channel string, cfg noise.Config, step time.Duration, src rand.Source) *noise.Model {
	m, err := noise.New(cfg, step, src)
	if err != nil {
		log.Warn(context.Background(), "invalid noise config, using none",
			logging.String("channel", channel), logging.Err(err))
		return &noise.Model{}
	}
	return m
}

// Period is the effective measurement period.
func (p *Pipeline) Period() time.Duration { return p.sched.Period() }

// NoiseKinds reports the model variant selected for each channel.
func (p *Pipeline) NoiseKinds() (rangeKind, bearingKind, elevationKind noise.Kind) {
	return p.rangeNoise.Kind(), p.bearingNoise.Kind(), p.elevationNoise.Kind()
}

// TickResult reports what one tick did.
type TickResult struct {
	Measurement Measurement
	// Skipped is empty when Measurement was emitted, otherwise SkipGate or
	// SkipPose.
	Skipped string
}

func (r TickResult) Emitted() bool { return r.Skipped == "" }

// OnTick produces and publishes a measurement if one is due at now and the
// receiver pose is available. It returns the measurement and true when one
// was emitted. A publish failure still counts as emitted.
func (p *Pipeline) OnTick(ctx context.Context, now time.Duration) (Measurement, bool) {
	r := p.Tick(ctx, now)
	return r.Measurement, r.Emitted()
}

// Tick is OnTick reporting why a tick was skipped. The pose source is
// queried at most once, and only when the gate is open.
func (p *Pipeline) Tick(ctx context.Context, now time.Duration) TickResult {
	if !p.sched.Due(now) {
		p.skip(SkipGate)
		return TickResult{Skipped: SkipGate}
	}
	pose, ok := p.poses.Pose(now)
	if !ok {
		p.log.Debug(ctx, "receiver pose unavailable, skipping tick", logging.Any("now", now))
		p.skip(SkipPose)
		return TickResult{Skipped: SkipPose}
	}
	p.sched.ShouldFire(now)

	ctx, span := p.tracer.Start(ctx, "pinger.measure",
		trace.WithAttributes(attribute.Float64("sim_time_sec", now.Seconds())))
	defer span.End()

	start := time.Now()
	m := p.measure(now, pose, p.state.Position())
	span.SetAttributes(
		attribute.Int64("seq", int64(m.Seq)),
		attribute.String("frame_id", m.FrameID),
		attribute.Float64("range_m", m.Range),
		attribute.Float64("bearing_rad", m.Bearing),
		attribute.Float64("elevation_rad", m.Elevation),
	)

	if err := p.pub.Publish(ctx, m); err != nil {
		p.log.Warn(ctx, "publish failed", logging.Int("seq", int(m.Seq)), logging.Err(err))
		p.recordPublishErrors(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
	}
	if p.metrics != nil {
		p.metrics.ObserveMeasurement(m.Range, m.Bearing, m.Elevation, time.Since(start).Seconds())
	}
	return TickResult{Measurement: m}
}

func (p *Pipeline) measure(now time.Duration, pose geometry.Pose, target geometry.Position) Measurement {
	s := geometry.Resolve(pose, target)

	rng := p.rangeNoise.Apply(s.Range)
	if rng < 0 {
		rng = 0
	}

	p.seq++
	return Measurement{
		Seq:       p.seq,
		Stamp:     now,
		FrameID:   p.frameID,
		Range:     rng,
		Bearing:   p.bearingNoise.Apply(s.Bearing),
		Elevation: p.elevationNoise.Apply(s.Elevation),
	}
}

func (p *Pipeline) skip(reason string) {
	if p.metrics != nil {
		p.metrics.SkipTick(reason)
	}
}

func (p *Pipeline) recordPublishErrors(err error) {
	if p.metrics == nil {
		return
	}
	var errs []error
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		errs = j.Unwrap()
	} else {
		errs = []error{err}
	}
	for _, e := range errs {
		var se *SinkError
		if errors.As(e, &se) {
			p.metrics.PublishError(se.Sink)
			continue
		}
		p.metrics.PublishError("unknown")
	}
}
