package sim

import (
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"pinger-sim/internal/geometry"
)

// ScenarioScript is a deterministic, script-driven run description.
//
// Time is expressed as Go duration strings (e.g. "0s", "250ms", "10s").
// If Duration is zero, it is derived from the latest keyframe or move time.
// A non-looping run includes t == Duration, so a move at the end is applied.
//
// YAML schema (v1):
//
//	version: 1
//	duration: 30s
//	vehicle:
//	  keyframes:
//	    - t: 0s
//	      x: 0
//	      y: 0
//	      z: -1
//	      roll_deg: 0
//	      pitch_deg: 0
//	      yaw_deg: 90
//	pinger_moves:
//	  - t: 10s
//	    x: 40
//	    y: -5
//	    z: -3
//
// Vehicle keyframes and pinger moves must each use non-decreasing t values.
type ScenarioScript struct {
	Version     int             `yaml:"version"`
	Duration    time.Duration   `yaml:"duration"`
	Vehicle     ScenarioVehicle `yaml:"vehicle"`
	PingerMoves []PingerMove    `yaml:"pinger_moves"`
}

// ScenarioVehicle describes the receiver timeline.
type ScenarioVehicle struct {
	Keyframes []VehicleKeyframe `yaml:"keyframes"`
}

// VehicleKeyframe is a time-stamped receiver pose. Angles are degrees.
type VehicleKeyframe struct {
	T        time.Duration `yaml:"t"`
	X        float64       `yaml:"x"`
	Y        float64       `yaml:"y"`
	Z        float64       `yaml:"z"`
	RollDeg  float64       `yaml:"roll_deg"`
	PitchDeg float64       `yaml:"pitch_deg"`
	YawDeg   float64       `yaml:"yaw_deg"`
}

// PingerMove repositions the pinger at time T.
type PingerMove struct {
	T time.Duration `yaml:"t"`
	X float64       `yaml:"x"`
	Y float64       `yaml:"y"`
	Z float64       `yaml:"z"`
}

func (m PingerMove) Position() geometry.Position {
	return geometry.Position{X: m.X, Y: m.Y, Z: m.Z}
}

// Scenario is the validated, runtime representation.
type Scenario struct {
	script   ScenarioScript
	duration time.Duration
	loop     bool
}

// LoadScenarioScript reads and unmarshals a YAML scenario script from path.
func LoadScenarioScript(path string) (ScenarioScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ScenarioScript{}, err
	}
	return ParseScenarioScriptYAML(b)
}

// ParseScenarioScriptYAML parses a YAML scenario script.
func ParseScenarioScriptYAML(b []byte) (ScenarioScript, error) {
	var s ScenarioScript
	if err := yaml.Unmarshal(b, &s); err != nil {
		return ScenarioScript{}, err
	}
	return s, nil
}

// NewScenario validates script and returns a runtime Scenario. When loop is
// true, time wraps around Duration().
func NewScenario(script ScenarioScript, loop bool) (*Scenario, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported scenario version %d", script.Version)
	}
	if len(script.Vehicle.Keyframes) == 0 {
		return nil, fmt.Errorf("vehicle.keyframes is required")
	}
	for i, kf := range script.Vehicle.Keyframes {
		if kf.T < 0 {
			return nil, fmt.Errorf("vehicle.keyframes[%d].t must be >= 0", i)
		}
		if i > 0 && kf.T < script.Vehicle.Keyframes[i-1].T {
			return nil, fmt.Errorf("vehicle.keyframes must be sorted by t (index %d)", i)
		}
		if !allFinite(kf.X, kf.Y, kf.Z, kf.RollDeg, kf.PitchDeg, kf.YawDeg) {
			return nil, fmt.Errorf("vehicle.keyframes[%d] must be finite", i)
		}
	}
	for i, mv := range script.PingerMoves {
		if mv.T < 0 {
			return nil, fmt.Errorf("pinger_moves[%d].t must be >= 0", i)
		}
		if i > 0 && mv.T < script.PingerMoves[i-1].T {
			return nil, fmt.Errorf("pinger_moves must be sorted by t (index %d)", i)
		}
		if err := mv.Position().Validate(); err != nil {
			return nil, fmt.Errorf("pinger_moves[%d].%w", i, err)
		}
	}

	dur := script.Duration
	if dur <= 0 {
		dur = maxEventTime(script)
	}
	if dur <= 0 && loop {
		return nil, fmt.Errorf("duration is required (or deriveable from keyframes) when looping")
	}

	return &Scenario{script: script, duration: dur, loop: loop}, nil
}

// Duration returns the effective scenario duration.
func (s *Scenario) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}

// Pose implements pinger.PoseSource. There is no pose before the first
// keyframe; after the last keyframe the final pose holds.
func (s *Scenario) Pose(now time.Duration) (geometry.Pose, bool) {
	if s == nil {
		return geometry.Pose{}, false
	}
	t := s.wrap(now)
	kfs := s.script.Vehicle.Keyframes
	if t < kfs[0].T {
		return geometry.Pose{}, false
	}
	kf0, kf1, alpha := selectSegment(kfs, t)

	pos := geometry.Position{
		X: lerp(kf0.X, kf1.X, alpha),
		Y: lerp(kf0.Y, kf1.Y, alpha),
		Z: lerp(kf0.Z, kf1.Z, alpha),
	}
	roll := lerpAngleDeg(kf0.RollDeg, kf1.RollDeg, alpha)
	pitch := lerpAngleDeg(kf0.PitchDeg, kf1.PitchDeg, alpha)
	yaw := lerpAngleDeg(kf0.YawDeg, kf1.YawDeg, alpha)
	return geometry.NewPose(pos, deg2rad(roll), deg2rad(pitch), deg2rad(yaw)), true
}

// MovesBetween returns the pinger moves scheduled in (prev, now]. A negative
// prev includes moves at t=0. With looping, an interval that crosses the end
// of the script yields the tail of one pass followed by the head of the next.
func (s *Scenario) MovesBetween(prev, now time.Duration) []PingerMove {
	if s == nil || len(s.script.PingerMoves) == 0 || now <= prev {
		return nil
	}
	if !s.loop || s.duration <= 0 {
		return s.movesIn(prev, now)
	}

	var out []PingerMove
	pass := time.Duration(0)
	if prev >= 0 {
		pass = prev / s.duration
	}
	for start := pass * s.duration; start <= now; start += s.duration {
		lo := prev - start
		if start > prev {
			lo = -1
		}
		hi := now - start
		if hi > s.duration {
			hi = s.duration
		}
		out = append(out, s.movesIn(lo, hi)...)
	}
	return out
}

func (s *Scenario) movesIn(prev, now time.Duration) []PingerMove {
	var out []PingerMove
	for _, mv := range s.script.PingerMoves {
		if mv.T > prev && mv.T <= now {
			out = append(out, mv)
		}
	}
	return out
}

func (s *Scenario) wrap(now time.Duration) time.Duration {
	if now < 0 {
		return 0
	}
	if s.loop && s.duration > 0 {
		return now % s.duration
	}
	return now
}

func maxEventTime(s ScenarioScript) time.Duration {
	max := time.Duration(0)
	for _, kf := range s.Vehicle.Keyframes {
		if kf.T > max {
			max = kf.T
		}
	}
	for _, mv := range s.PingerMoves {
		if mv.T > max {
			max = mv.T
		}
	}
	return max
}

func selectSegment(kfs []VehicleKeyframe, t time.Duration) (VehicleKeyframe, VehicleKeyframe, float64) {
	if len(kfs) == 1 {
		return kfs[0], kfs[0], 0
	}
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > t })
	if idx <= 0 {
		return kfs[0], kfs[0], 0
	}
	if idx >= len(kfs) {
		last := kfs[len(kfs)-1]
		return last, last, 0
	}
	k0 := kfs[idx-1]
	k1 := kfs[idx]
	dt := k1.T - k0.T
	if dt <= 0 {
		return k1, k1, 0
	}
	alpha := float64(t-k0.T) / float64(dt)
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return k0, k1, alpha
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// lerpAngleDeg interpolates along the shortest arc and returns (-180, 180].
func lerpAngleDeg(a0, a1, t float64) float64 {
	delta := math.Remainder(a1-a0, 360)
	out := math.Remainder(a0+delta*t, 360)
	if out == -180 {
		out = 180
	}
	return out
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }

func allFinite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
