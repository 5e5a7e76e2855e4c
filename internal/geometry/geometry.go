// Package geometry resolves the position of an emitter relative to a
// receiver pose into range, bearing and elevation.
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Position is a point in a single Cartesian frame (meters). Which frame is
// meant is explicit at each use: world for the pinger and vehicle, body for
// the rotated offset.
type Position struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	Z float64 `yaml:"z" json:"z"`
}

// Vec returns p as a gonum vector.
func (p Position) Vec() r3.Vec { return r3.Vec{X: p.X, Y: p.Y, Z: p.Z} }

// Validate rejects non-finite coordinates.
func (p Position) Validate() error {
	for _, c := range []struct {
		name string
		v    float64
	}{{"x", p.X}, {"y", p.Y}, {"z", p.Z}} {
		if math.IsNaN(c.v) || math.IsInf(c.v, 0) {
			return fmt.Errorf("%s must be finite", c.name)
		}
	}
	return nil
}

func (p Position) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f)", p.X, p.Y, p.Z)
}

// Pose is a receiver position plus orientation in the world frame.
//
// Orientation rotates body-frame vectors into the world frame. The zero
// quaternion is treated as identity.
type Pose struct {
	Position    Position
	Orientation quat.Number
}

// NewPose builds a pose from roll/pitch/yaw (radians), applied in ZYX order.
func NewPose(pos Position, roll, pitch, yaw float64) Pose {
	return Pose{Position: pos, Orientation: EulerToQuat(roll, pitch, yaw)}
}

// EulerToQuat converts roll/pitch/yaw (radians) into a unit quaternion.
func EulerToQuat(roll, pitch, yaw float64) quat.Number {
	sr, cr := math.Sincos(roll / 2)
	sp, cp := math.Sincos(pitch / 2)
	sy, cy := math.Sincos(yaw / 2)
	return quat.Number{
		Real: cr*cp*cy + sr*sp*sy,
		Imag: sr*cp*cy - cr*sp*sy,
		Jmag: cr*sp*cy + sr*cp*sy,
		Kmag: cr*cp*sy - sr*sp*cy,
	}
}

// ToBody rotates a world-frame vector into the pose's body frame.
func (p Pose) ToBody(v r3.Vec) r3.Vec {
	q := p.Orientation
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) {
		return v
	}
	q = quat.Scale(1/n, q)
	r := quat.Mul(quat.Mul(quat.Conj(q), quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), q)
	return r3.Vec{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// Spherical is a range/bearing/elevation triple in the receiver body frame.
//
// Bearing is measured from body +X toward +Y, elevation from the body XY
// plane toward +Z. Angles are radians.
type Spherical struct {
	Range     float64
	Bearing   float64
	Elevation float64
}

// Resolve computes the pinger's range, bearing and elevation as seen from
// receiver. It has no side effects and is deterministic in its inputs.
func Resolve(receiver Pose, pinger Position) Spherical {
	delta := r3.Sub(pinger.Vec(), receiver.Position.Vec())
	if delta == (r3.Vec{}) {
		return Spherical{}
	}
	body := receiver.ToBody(delta)
	return Spherical{
		Range:     r3.Norm(body),
		Bearing:   math.Atan2(body.Y, body.X),
		Elevation: math.Atan2(body.Z, math.Hypot(body.X, body.Y)),
	}
}
