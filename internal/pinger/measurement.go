package pinger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pinger-sim/internal/geometry"
)

// Measurement is one noisy range/bearing/elevation estimate. Angles are
// radians in the receiver body frame; Stamp is simulation time.
type Measurement struct {
	Seq       uint64        `json:"seq"`
	Stamp     time.Duration `json:"stamp"`
	FrameID   string        `json:"frame_id"`
	Range     float64       `json:"range"`
	Bearing   float64       `json:"bearing"`
	Elevation float64       `json:"elevation"`
}

func (m Measurement) String() string {
	return fmt.Sprintf("seq=%d t=%s frame=%s range=%.3f bearing=%.4f elevation=%.4f",
		m.Seq, m.Stamp, m.FrameID, m.Range, m.Bearing, m.Elevation)
}

// PoseSource supplies the receiver pose for a simulation time. ok is false
// while the host has no pose yet.
type PoseSource interface {
	Pose(now time.Duration) (pose geometry.Pose, ok bool)
}

// PoseFunc adapts a function to PoseSource.
type PoseFunc func(now time.Duration) (geometry.Pose, bool)

func (f PoseFunc) Pose(now time.Duration) (geometry.Pose, bool) { return f(now) }

// Publisher hands a measurement to a transport. Publication is
// fire-and-forget: errors are reported but never retried.
type Publisher interface {
	Publish(ctx context.Context, m Measurement) error
}

// Sink is a named Publisher, used for per-sink error accounting.
type Sink struct {
	Name string
	Publisher
}

// Publishers fans a measurement out to every sink. All sinks are attempted;
// failures are joined.
type Publishers []Sink

func (ps Publishers) Publish(ctx context.Context, m Measurement) error {
	var errs []error
	for _, p := range ps {
		if p.Publisher == nil {
			continue
		}
		if err := p.Publisher.Publish(ctx, m); err != nil {
			errs = append(errs, &SinkError{Sink: p.Name, Err: err})
		}
	}
	return errors.Join(errs...)
}

// SinkError wraps a failure from a named sink.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string { return e.Sink + ": " + e.Err.Error() }
func (e *SinkError) Unwrap() error { return e.Err }
