// Package geom provides the 3D vector algebra and anatomical reference
// frame construction used by the kinematic engine. All primitives are
// NaN-safe: degenerate inputs (zero-length vectors, parallel axes) produce
// defined neutral values rather than propagating NaN or Inf.
package geom

import (
	"math"

	"github.com/kinetic-rehab/reach.report/internal/units"
)

// Vec3 is a 3D vector in the pose model's world units.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v + w.
func (v Vec3) Add(w Vec3) Vec3 { return Vec3{v.X + w.X, v.Y + w.Y, v.Z + w.Z} }

// Sub returns v - w.
func (v Vec3) Sub(w Vec3) Vec3 { return Vec3{v.X - w.X, v.Y - w.Y, v.Z - w.Z} }

// Scale returns v scaled by s.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

// Dot returns the dot product v · w.
func (v Vec3) Dot(w Vec3) float64 { return v.X*w.X + v.Y*w.Y + v.Z*w.Z }

// Cross returns the cross product v × w.
func (v Vec3) Cross(w Vec3) Vec3 {
	return Vec3{
		X: v.Y*w.Z - v.Z*w.Y,
		Y: v.Z*w.X - v.X*w.Z,
		Z: v.X*w.Y - v.Y*w.X,
	}
}

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Normalize returns the unit vector in the direction of v. A zero-length
// (or near-zero) input returns the zero vector and ok=false.
func (v Vec3) Normalize() (Vec3, bool) {
	n := v.Norm()
	if n < 1e-9 {
		return Vec3{}, false
	}
	return v.Scale(1 / n), true
}

// ScalarProject returns the signed length of v projected onto the unit
// axis. The axis is assumed to be unit length; a zero axis yields 0.
func (v Vec3) ScalarProject(axis Vec3) float64 {
	return v.Dot(axis)
}

// AngleDeg returns the angle between v and w in degrees. Degenerate inputs
// yield 0.
func AngleDeg(v, w Vec3) float64 {
	nv := v.Norm()
	nw := w.Norm()
	if nv < 1e-9 || nw < 1e-9 {
		return 0
	}
	cos := v.Dot(w) / (nv * nw)
	// Clamp against floating point drift before acos.
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return units.RadToDeg(math.Acos(cos))
}

// Midpoint returns the point halfway between a and b.
func Midpoint(a, b Vec3) Vec3 {
	return Vec3{(a.X + b.X) / 2, (a.Y + b.Y) / 2, (a.Z + b.Z) / 2}
}

// Dist returns the Euclidean distance between a and b.
func Dist(a, b Vec3) float64 { return a.Sub(b).Norm() }

// IsFinite reports whether all components are finite.
func (v Vec3) IsFinite() bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
