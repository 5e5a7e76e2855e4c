package sim

import (
	"math"
	"time"

	"pinger-sim/internal/geometry"
)

// Vehicle is a deterministic receiver track in the local world frame
// (X east, Y north, Z up).
type Vehicle struct {
	Center  geometry.Position
	RadiusM float64
	Period  time.Duration
	DepthM  float64
	SpawnAt time.Duration
	// Static keeps the vehicle parked at Center with zero yaw.
	Static bool
}

// Pose implements pinger.PoseSource. No pose exists before SpawnAt.
func (v Vehicle) Pose(now time.Duration) (geometry.Pose, bool) {
	if now < v.SpawnAt {
		return geometry.Pose{}, false
	}
	if v.Static {
		pos := v.Center
		pos.Z -= v.DepthM
		return geometry.NewPose(pos, 0, 0, 0), true
	}
	pos, yaw := v.Track(now)
	return geometry.NewPose(pos, 0, 0, yaw), true
}

// Track returns position and yaw (radians from +X toward +Y) at now.
//
// The path is a figure-eight (Lissajous) that stays within RadiusM of Center:
//
//	x = cos(2πt)
//	y = 0.5*sin(4πt)
func (v Vehicle) Track(now time.Duration) (geometry.Position, float64) {
	period := v.Period
	if period <= 0 {
		period = 120 * time.Second
	}
	radius := v.RadiusM
	if radius <= 0 {
		radius = 20
	}

	phase := float64(now%period) / float64(period)
	w := 2 * math.Pi * phase
	x := math.Cos(w)
	y := 0.5 * math.Sin(2*w)

	pos := geometry.Position{
		X: v.Center.X + radius*x,
		Y: v.Center.Y + radius*y,
		Z: v.Center.Z - v.DepthM,
	}

	// Heading follows the instantaneous velocity.
	vx := -math.Sin(w)
	vy := math.Cos(2 * w)
	return pos, math.Atan2(vy, vx)
}
