package web

import (
	"sync/atomic"
	"time"

	"pinger-sim/internal/pinger"
)

const serviceName = "pinger-sim"

// Status tracks process-level counters for /api/status. All methods are safe
// for concurrent use.
type Status struct {
	startUnixNano int64
	measurements  uint64
	skipped       uint64
	lastTickSim   int64
	lastTickNano  int64
	poseAvailable atomic.Bool
	static        atomic.Value // StaticInfo
	simInfo       atomic.Value // map[string]any
}

// StaticInfo is fixed for the lifetime of the process.
type StaticInfo struct {
	Session          string   `json:"session"`
	FrameID          string   `json:"frame_id"`
	Topic            string   `json:"topic"`
	SetPositionTopic string   `json:"set_position_topic"`
	UpdateRateHz     float64  `json:"update_rate_hz"`
	Sinks            []string `json:"sinks"`
	NoiseKinds       []string `json:"noise_kinds"`
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.static.Store(StaticInfo{})
	s.simInfo.Store(map[string]any{})
	return s
}

func (s *Status) SetStatic(info StaticInfo, simInfo map[string]any) {
	s.static.Store(info)
	if simInfo != nil {
		s.simInfo.Store(simInfo)
	}
}

// MarkTick records a clock tick at simulation time now. Pose availability
// only changes on ticks that consulted the pose source; a gated tick keeps
// the last known value.
func (s *Status) MarkTick(nowUTC time.Time, now time.Duration, res pinger.TickResult) {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	atomic.StoreInt64(&s.lastTickNano, nowUTC.UnixNano())
	atomic.StoreInt64(&s.lastTickSim, int64(now))
	if res.Skipped != pinger.SkipGate {
		s.poseAvailable.Store(res.Skipped != pinger.SkipPose)
	}
	if res.Emitted() {
		atomic.AddUint64(&s.measurements, 1)
	} else {
		atomic.AddUint64(&s.skipped, 1)
	}
}

type StatusSnapshot struct {
	Service           string         `json:"service"`
	NowUTC            string         `json:"now_utc"`
	UptimeSec         int64          `json:"uptime_sec"`
	SimTimeSec        float64        `json:"sim_time_sec"`
	PoseAvailable     bool           `json:"pose_available"`
	MeasurementsTotal uint64         `json:"measurements_total"`
	TicksSkipped      uint64         `json:"ticks_skipped"`
	LastTickUTC       string         `json:"last_tick_utc,omitempty"`
	Pinger            StaticInfo     `json:"pinger"`
	Sim               map[string]any `json:"sim"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	lastTick := atomic.LoadInt64(&s.lastTickNano)

	snap := StatusSnapshot{
		Service:           serviceName,
		NowUTC:            nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:         int64(nowUTC.Sub(start).Seconds()),
		SimTimeSec:        time.Duration(atomic.LoadInt64(&s.lastTickSim)).Seconds(),
		PoseAvailable:     s.poseAvailable.Load(),
		MeasurementsTotal: atomic.LoadUint64(&s.measurements),
		TicksSkipped:      atomic.LoadUint64(&s.skipped),
		Pinger:            s.static.Load().(StaticInfo),
		Sim:               s.simInfo.Load().(map[string]any),
	}
	if lastTick != 0 {
		snap.LastTickUTC = time.Unix(0, lastTick).UTC().Format(time.RFC3339Nano)
	}
	return snap
}
