// Package kinematics turns raw, noisy landmark positions into smoothed
// positions and velocity estimates usable for state transitions. The
// smoother is a fixed-window Savitzky–Golay filter: a least-squares
// quadratic fit over the window, evaluated as two fixed convolution
// kernels (one for position, one for the first derivative).
package kinematics

import (
	"fmt"
	"math"

	"github.com/kinetic-rehab/reach.report/internal/geom"
)

// Savitzky–Golay kernels (quadratic fit, unit spacing). The derivative
// kernels are antisymmetric and sum to zero; the smoothing kernels sum to
// one. Time spacing is divided out at solve time from the actual
// timestamp span, so variable frame timing is handled correctly.
var (
	smoothKernel5 = []float64{-3.0 / 35, 12.0 / 35, 17.0 / 35, 12.0 / 35, -3.0 / 35}
	derivKernel5  = []float64{-2.0 / 10, -1.0 / 10, 0, 1.0 / 10, 2.0 / 10}

	smoothKernel7 = []float64{-2.0 / 21, 3.0 / 21, 6.0 / 21, 7.0 / 21, 6.0 / 21, 3.0 / 21, -2.0 / 21}
	derivKernel7  = []float64{-3.0 / 28, -2.0 / 28, -1.0 / 28, 0, 1.0 / 28, 2.0 / 28, 3.0 / 28}
)

// Estimate is the output of one Solve call.
type Estimate struct {
	Position float64 // smoothed position, world units
	Velocity float64 // world units per second
	Valid    bool    // false until the window is full or on bad timestamps
}

// Smoother is a fixed-length sliding-window differentiator for one scalar
// axis. Not safe for concurrent use; the engine owns its smoothers.
type Smoother struct {
	window  int
	smooth  []float64
	deriv   []float64
	values  []float64
	stamps  []int64 // milliseconds
}

// NewSmoother creates a smoother with the given odd window size. Supported
// sizes are 5 and 7.
func NewSmoother(window int) (*Smoother, error) {
	s := &Smoother{window: window}
	switch window {
	case 5:
		s.smooth, s.deriv = smoothKernel5, derivKernel5
	case 7:
		s.smooth, s.deriv = smoothKernel7, derivKernel7
	default:
		return nil, fmt.Errorf("unsupported smoothing window %d (want 5 or 7)", window)
	}
	s.values = make([]float64, 0, window)
	s.stamps = make([]int64, 0, window)
	return s, nil
}

// Window returns the configured window size.
func (s *Smoother) Window() int { return s.window }

// Push appends a sample, evicting the oldest once the window is full.
func (s *Smoother) Push(value float64, timestampMs int64) {
	if len(s.values) == s.window {
		copy(s.values, s.values[1:])
		copy(s.stamps, s.stamps[1:])
		s.values[s.window-1] = value
		s.stamps[s.window-1] = timestampMs
		return
	}
	s.values = append(s.values, value)
	s.stamps = append(s.stamps, timestampMs)
}

// Solve returns the smoothed position and velocity for the current window.
// Valid is false until the window is full, and on duplicate or out-of-order
// timestamps (non-positive span) rather than dividing by zero.
func (s *Smoother) Solve() Estimate {
	if len(s.values) < s.window {
		return Estimate{}
	}

	spanMs := s.stamps[s.window-1] - s.stamps[0]
	if spanMs <= 0 {
		return Estimate{}
	}
	meanStepSec := float64(spanMs) / float64(s.window-1) / 1000.0

	var pos, dv float64
	for i, v := range s.values {
		pos += s.smooth[i] * v
		dv += s.deriv[i] * v
	}

	return Estimate{
		Position: pos,
		Velocity: dv / meanStepSec,
		Valid:    true,
	}
}

// Reset clears the window and timestamps. Must be called on any
// discontinuity: recalibration, side switch, or a detected teleport.
func (s *Smoother) Reset() {
	s.values = s.values[:0]
	s.stamps = s.stamps[:0]
}

// PointEstimate is the 3D analogue of Estimate.
type PointEstimate struct {
	Position geom.Vec3
	Velocity geom.Vec3
	Speed    float64 // Euclidean norm of Velocity, world units per second
	Valid    bool
}

// PointSmoother combines three independent scalar smoothers, one per axis.
type PointSmoother struct {
	x, y, z *Smoother
	last    geom.Vec3
	lastMs  int64
	primed  bool
}

// NewPointSmoother creates a 3D smoother with the given window size.
func NewPointSmoother(window int) (*PointSmoother, error) {
	x, err := NewSmoother(window)
	if err != nil {
		return nil, err
	}
	y, _ := NewSmoother(window)
	z, _ := NewSmoother(window)
	return &PointSmoother{x: x, y: y, z: z}, nil
}

// Glitched reports whether pushing p at timestampMs would imply an
// implausible instantaneous speed (world units per second) relative to the
// previous accepted sample. Glitched frames must be discarded without
// advancing any state: the caller should not Push them.
func (ps *PointSmoother) Glitched(p geom.Vec3, timestampMs int64, maxSpeed float64) bool {
	if !ps.primed || maxSpeed <= 0 {
		return false
	}
	dtMs := timestampMs - ps.lastMs
	if dtMs <= 0 {
		// Out-of-order timestamps are handled by Solve, not treated as
		// teleports.
		return false
	}
	speed := geom.Dist(ps.last, p) / (float64(dtMs) / 1000.0)
	return speed > maxSpeed
}

// Push appends a 3D sample to all three axis smoothers.
func (ps *PointSmoother) Push(p geom.Vec3, timestampMs int64) {
	ps.x.Push(p.X, timestampMs)
	ps.y.Push(p.Y, timestampMs)
	ps.z.Push(p.Z, timestampMs)
	ps.last = p
	ps.lastMs = timestampMs
	ps.primed = true
}

// Solve combines the three axis estimates. Valid only when all axes are.
func (ps *PointSmoother) Solve() PointEstimate {
	ex := ps.x.Solve()
	ey := ps.y.Solve()
	ez := ps.z.Solve()
	if !ex.Valid || !ey.Valid || !ez.Valid {
		return PointEstimate{}
	}
	vel := geom.Vec3{X: ex.Velocity, Y: ey.Velocity, Z: ez.Velocity}
	return PointEstimate{
		Position: geom.Vec3{X: ex.Position, Y: ey.Position, Z: ez.Position},
		Velocity: vel,
		Speed:    math.Sqrt(vel.Dot(vel)),
		Valid:    true,
	}
}

// Reset clears all three axis smoothers and the glitch reference.
func (ps *PointSmoother) Reset() {
	ps.x.Reset()
	ps.y.Reset()
	ps.z.Reset()
	ps.primed = false
}
