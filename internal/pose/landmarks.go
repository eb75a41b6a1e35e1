// Package pose models the output of the upstream pose-estimation model: a
// fixed array of labelled body landmarks per frame, in both screen space
// (for rendering collaborators) and metric world space (for kinematics).
// Indices follow the MediaPipe Pose convention.
// See: https://developers.google.com/mediapipe/solutions/vision/pose_landmarker
package pose

import (
	"fmt"

	"github.com/kinetic-rehab/reach.report/internal/geom"
)

// Body landmark indices, MediaPipe Pose convention.
const (
	Nose          = 0
	LeftShoulder  = 11
	RightShoulder = 12
	LeftElbow     = 13
	RightElbow    = 14
	LeftWrist     = 15
	RightWrist    = 16
	LeftPinky     = 17
	RightPinky    = 18
	LeftIndex     = 19
	RightIndex    = 20
	LeftThumb     = 21
	RightThumb    = 22
	LeftHip       = 23
	RightHip      = 24
	NumLandmarks  = 33
)

// Side identifies the active (reaching) arm.
type Side string

const (
	SideLeft  Side = "LEFT"
	SideRight Side = "RIGHT"
)

// Valid reports whether s is a recognised side value.
func (s Side) Valid() bool { return s == SideLeft || s == SideRight }

// Landmark is one labelled body point. Screen-space landmarks carry a
// visibility confidence; world-space landmarks are metric 3D positions.
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

// Point returns the landmark position as a vector.
func (l Landmark) Point() geom.Vec3 { return geom.Vec3{X: l.X, Y: l.Y, Z: l.Z} }

// Frame is one pose-model output: screen-space landmarks (used only for
// visibility gating here), world-space landmarks in metric units, and the
// capture timestamp. World-space points are not guaranteed temporally
// continuous; the kinematics layer sanity-checks inter-frame displacement
// before trusting them.
type Frame struct {
	Landmarks   []Landmark `json:"landmarks"`
	World       []Landmark `json:"worldLandmarks"`
	TimestampMs int64      `json:"timestampMs"`
}

// Validate checks that both landmark sets carry the expected count.
func (f *Frame) Validate() error {
	if len(f.Landmarks) != NumLandmarks {
		return fmt.Errorf("expected %d screen landmarks, got %d", NumLandmarks, len(f.Landmarks))
	}
	if len(f.World) != NumLandmarks {
		return fmt.Errorf("expected %d world landmarks, got %d", NumLandmarks, len(f.World))
	}
	return nil
}

// SideIndices maps the active-side flag to the fixed anatomical indices the
// engine reads. Opposite-side shoulder and hip are carried because the
// anatomical frame needs the full trunk.
type SideIndices struct {
	Shoulder    int
	Elbow       int
	Wrist       int
	IndexFinger int
	Hip         int
	OppShoulder int
	OppHip      int
}

// IndicesFor returns the landmark indices for the given active side.
func IndicesFor(side Side) (SideIndices, error) {
	switch side {
	case SideLeft:
		return SideIndices{
			Shoulder:    LeftShoulder,
			Elbow:       LeftElbow,
			Wrist:       LeftWrist,
			IndexFinger: LeftIndex,
			Hip:         LeftHip,
			OppShoulder: RightShoulder,
			OppHip:      RightHip,
		}, nil
	case SideRight:
		return SideIndices{
			Shoulder:    RightShoulder,
			Elbow:       RightElbow,
			Wrist:       RightWrist,
			IndexFinger: RightIndex,
			Hip:         RightHip,
			OppShoulder: LeftShoulder,
			OppHip:      LeftHip,
		}, nil
	default:
		return SideIndices{}, fmt.Errorf("unknown side %q", side)
	}
}

// required returns the indices whose screen-space visibility must clear the
// threshold before the frame is trusted.
func (si SideIndices) required() []int {
	return []int{si.Shoulder, si.Elbow, si.Wrist, si.Hip, si.OppShoulder, si.OppHip}
}

// IsTracking reports whether all required landmarks for the active side are
// visible above minVisibility. Frames that fail this check are ignored: the
// engine state must not advance on them.
func (f *Frame) IsTracking(si SideIndices, minVisibility float64) bool {
	if f.Validate() != nil {
		return false
	}
	for _, idx := range si.required() {
		if f.Landmarks[idx].Visibility < minVisibility {
			return false
		}
	}
	return true
}

// EndEffector derives the tracked reaching point in world space. The
// index-finger landmark is used directly when its visibility clears the
// threshold; otherwise the fingertip is estimated by extending the forearm
// line past the wrist, since hand tracking degrades long before the wrist
// does.
func (f *Frame) EndEffector(si SideIndices, minVisibility float64) geom.Vec3 {
	if f.Landmarks[si.IndexFinger].Visibility >= minVisibility {
		return f.World[si.IndexFinger].Point()
	}
	wrist := f.World[si.Wrist].Point()
	elbow := f.World[si.Elbow].Point()
	return wrist.Add(wrist.Sub(elbow).Scale(0.35))
}

// Trunk extracts the world-space trunk snapshot for the active side.
func (f *Frame) Trunk(si SideIndices) geom.TrunkSnapshot {
	return geom.TrunkSnapshot{
		LeftShoulder:   f.World[LeftShoulder].Point(),
		RightShoulder:  f.World[RightShoulder].Point(),
		LeftHip:        f.World[LeftHip].Point(),
		RightHip:       f.World[RightHip].Point(),
		ActiveShoulder: f.World[si.Shoulder].Point(),
		ActiveWrist:    f.World[si.Wrist].Point(),
	}
}

// MidHip returns the world-space mid-hip point.
func (f *Frame) MidHip() geom.Vec3 {
	return geom.Midpoint(f.World[LeftHip].Point(), f.World[RightHip].Point())
}

// MidShoulder returns the world-space mid-shoulder point.
func (f *Frame) MidShoulder() geom.Vec3 {
	return geom.Midpoint(f.World[LeftShoulder].Point(), f.World[RightShoulder].Point())
}
