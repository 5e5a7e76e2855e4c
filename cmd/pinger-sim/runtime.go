package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"pinger-sim/internal/config"
	"pinger-sim/internal/db"
	"pinger-sim/internal/geometry"
	"pinger-sim/internal/logging"
	"pinger-sim/internal/observability"
	"pinger-sim/internal/pinger"
	"pinger-sim/internal/serialout"
	"pinger-sim/internal/sim"
	"pinger-sim/internal/simclock"
	"pinger-sim/internal/strobe"
	"pinger-sim/internal/udp"
	"pinger-sim/internal/web"
)

const repositionQueue = 16

// repositionLog records pinger moves (db.DB).
type repositionLog interface {
	RecordReposition(ctx context.Context, source string, p geometry.Position) error
}

type simRuntime struct {
	cfg     config.Config
	session string
	log     logging.Logger
	metrics *observability.PingerCollector
	status  *web.Status
	logs    *web.LogBuffer

	state        *pinger.State
	poses        pinger.PoseSource
	scenario     *sim.Scenario
	pipeline     *pinger.Pipeline
	measurements *web.MeasurementBroadcaster
	moves        repositionLog
	clock        *simclock.Clock

	reposition chan geometry.Position
	lastMoveAt time.Duration

	sinkNames []string
	closers   []io.Closer
}

// newSimRuntime wires the pipeline, its pose source and every enabled sink.
// openSinks is replaceable so tests can run without hardware or sockets.
func newSimRuntime(cfg config.Config, session string, log logging.Logger, metrics *observability.PingerCollector) (*simRuntime, error) {
	return newSimRuntimeWith(cfg, session, log, metrics, openSinks)
}

type sinkOpener func(cfg config.Config, session string) ([]pinger.Sink, []io.Closer, error)

func newSimRuntimeWith(cfg config.Config, session string, log logging.Logger, metrics *observability.PingerCollector, open sinkOpener) (*simRuntime, error) {
	if log == nil {
		log = logging.Noop()
	}
	mode, err := simclock.ParseMode(cfg.Sim.Mode)
	if err != nil {
		return nil, err
	}

	r := &simRuntime{
		cfg:          cfg,
		session:      session,
		log:          log,
		metrics:      metrics,
		status:       web.NewStatus(),
		state:        pinger.NewState(cfg.Pinger.Position),
		measurements: web.NewMeasurementBroadcaster(),
		clock:        simclock.New(cfg.Sim.Tick, mode),
		reposition:   make(chan geometry.Position, repositionQueue),
		lastMoveAt:   -1,
	}

	simInfo, err := r.initPoseSource()
	if err != nil {
		return nil, err
	}

	sinks := pinger.Publishers{{Name: "web", Publisher: r.measurements}}
	extra, closers, err := open(cfg, session)
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, extra...)
	r.closers = closers
	for _, s := range sinks {
		r.sinkNames = append(r.sinkNames, s.Name)
	}
	if cfg.Audit.Enable {
		d, err := db.NewDB(cfg.Audit.Path)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("audit log: %w", err)
		}
		d.Session = session
		r.moves = d
		r.closers = append(r.closers, d)
	}

	var rec pinger.Recorder
	if metrics != nil {
		rec = metrics
	}
	r.pipeline, err = pinger.NewPipeline(pinger.Config{
		FrameID:        cfg.Pinger.FrameID,
		UpdateRate:     cfg.Pinger.UpdateRate,
		RangeNoise:     cfg.Pinger.RangeNoise,
		BearingNoise:   cfg.Pinger.BearingNoise,
		ElevationNoise: cfg.Pinger.ElevationNoise,
		Seed:           cfg.Pinger.Seed,
		Logger:         log.With(logging.String("component", "pipeline")),
		Metrics:        rec,
	}, r.state, r.poses, sinks)
	if err != nil {
		r.Close()
		return nil, err
	}

	rk, bk, ek := r.pipeline.NoiseKinds()
	r.status.SetStatic(web.StaticInfo{
		Session:          session,
		FrameID:          cfg.Pinger.FrameID,
		Topic:            cfg.Pinger.TopicName,
		SetPositionTopic: cfg.Pinger.SetPositionTopicName,
		UpdateRateHz:     cfg.Pinger.UpdateRate,
		Sinks:            r.sinkNames,
		NoiseKinds:       []string{rk.String(), bk.String(), ek.String()},
	}, simInfo)

	r.clock.AddListener(r.onTick)
	return r, nil
}

func (r *simRuntime) initPoseSource() (map[string]any, error) {
	s := r.cfg.Sim
	if path := strings.TrimSpace(s.Scenario.Path); path != "" {
		script, err := sim.LoadScenarioScript(path)
		if err != nil {
			return nil, fmt.Errorf("load scenario: %w", err)
		}
		scn, err := sim.NewScenario(script, s.Scenario.Loop)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", path, err)
		}
		r.scenario = scn
		r.poses = scn
		return map[string]any{
			"source":   "scenario",
			"path":     path,
			"loop":     s.Scenario.Loop,
			"duration": scn.Duration().String(),
		}, nil
	}

	v := sim.Vehicle{
		Center:  s.Vehicle.Center,
		RadiusM: s.Vehicle.RadiusM,
		Period:  s.Vehicle.Period,
		DepthM:  s.Vehicle.DepthM,
		SpawnAt: s.Vehicle.SpawnAt,
		Static:  !s.Vehicle.Enable,
	}
	r.poses = v
	source := "vehicle"
	if v.Static {
		source = "static"
	}
	return map[string]any{
		"source":   source,
		"center":   v.Center.String(),
		"spawn_at": v.SpawnAt.String(),
	}, nil
}

func openSinks(cfg config.Config, session string) ([]pinger.Sink, []io.Closer, error) {
	var sinks []pinger.Sink
	var closers []io.Closer
	fail := func(err error) ([]pinger.Sink, []io.Closer, error) {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, nil, err
	}

	o := cfg.Output
	if o.UDP.Enable {
		b, err := udp.NewBroadcaster(o.UDP.Dest, o.UDP.Broadcast)
		if err != nil {
			return fail(fmt.Errorf("udp output: %w", err))
		}
		b.Session = session
		b.Topic = cfg.Pinger.TopicName
		sinks = append(sinks, pinger.Sink{Name: "udp", Publisher: b})
		closers = append(closers, b)
	}
	if o.Serial.Enable {
		w, err := serialout.Open(o.Serial.Device, o.Serial.Baud)
		if err != nil {
			return fail(fmt.Errorf("serial output: %w", err))
		}
		sinks = append(sinks, pinger.Sink{Name: "serial", Publisher: w})
		closers = append(closers, w)
	}
	if o.Strobe.Enable {
		s, err := strobe.Open(o.Strobe.Pin, o.Strobe.Pulse)
		if err != nil {
			return fail(fmt.Errorf("strobe output: %w", err))
		}
		sinks = append(sinks, pinger.Sink{Name: "strobe", Publisher: s})
		closers = append(closers, s)
	}
	return sinks, closers, nil
}

// onTick runs on the clock goroutine. Scripted moves are applied before the
// pipeline so a move at t is seen by a measurement fired at t.
func (r *simRuntime) onTick(ctx context.Context, now time.Duration) {
	if r.scenario != nil {
		for _, mv := range r.scenario.MovesBetween(r.lastMoveAt, now) {
			p := mv.Position()
			r.state.SetPosition(p)
			r.moved(ctx, "scenario", p)
		}
		r.lastMoveAt = now
	}

	r.status.MarkTick(time.Now().UTC(), now, r.pipeline.Tick(ctx, now))
}

func (r *simRuntime) moved(ctx context.Context, source string, p geometry.Position) {
	r.metrics.Reposition(source)
	r.log.Info(ctx, "pinger moved", logging.String("source", source), logging.String("position", p.String()))
	if r.moves == nil {
		return
	}
	if err := r.moves.RecordReposition(ctx, source, p); err != nil {
		r.log.Warn(ctx, "record reposition failed", logging.Err(err))
	}
}

// Position implements web.Repositioner.
func (r *simRuntime) Position() geometry.Position { return r.state.Position() }

// Reposition implements web.Repositioner. The update is applied
// asynchronously by the follower started in Run.
func (r *simRuntime) Reposition(p geometry.Position) error {
	select {
	case r.reposition <- p:
		return nil
	default:
		return web.ErrRepositionBusy
	}
}

// Run drives the clock until ctx is done or the configured duration elapses.
// It returns nil on a normal stop.
func (r *simRuntime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	followDone := make(chan struct{})
	go func() {
		defer close(followDone)
		r.state.Follow(ctx, r.reposition, func(p geometry.Position) {
			r.moved(ctx, "http", p)
		})
	}()

	webDone := make(chan error, 1)
	if r.cfg.Web.Enable {
		go func() {
			err := web.Serve(ctx, r.cfg.Web.Listen, web.Deps{
				Status:       r.status,
				Pinger:       r,
				Measurements: r.measurements,
				History:      r.measurements,
				Logs:         r.logs,
				Metrics:      r.metrics.Handler(),
				Session:      r.session,
			})
			if err != nil && ctx.Err() == nil {
				r.log.Error(ctx, "web server stopped", logging.Err(err))
				cancel()
			}
			webDone <- err
		}()
	} else {
		webDone <- nil
	}

	r.log.Info(ctx, "simulation starting",
		logging.String("mode", r.cfg.Sim.Mode),
		logging.String("tick", r.cfg.Sim.Tick.String()),
		logging.String("period", r.pipeline.Period().String()),
		logging.Any("sinks", r.sinkNames),
	)
	err := r.clock.Run(ctx, r.runDuration())
	cancel()
	<-followDone
	werr := <-webDone

	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if werr != nil && !errors.Is(werr, context.Canceled) {
		return errors.Join(err, fmt.Errorf("web: %w", werr))
	}
	return err
}

func (r *simRuntime) runDuration() time.Duration {
	if r.cfg.Sim.Duration > 0 {
		return r.cfg.Sim.Duration
	}
	if r.scenario != nil && !r.cfg.Sim.Scenario.Loop {
		return r.scenario.Duration()
	}
	return 0
}

func (r *simRuntime) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
