package geom

import "fmt"

// TrunkSnapshot holds the world-space landmark positions the frame builder
// needs: both shoulders, both hips, and the active-side shoulder and wrist.
type TrunkSnapshot struct {
	LeftShoulder   Vec3
	RightShoulder  Vec3
	LeftHip        Vec3
	RightHip       Vec3
	ActiveShoulder Vec3
	ActiveWrist    Vec3
}

// AnatomicalFrame is an orthonormal right-handed reference frame anchored at
// the mid-hip point. The forward axis always has a non-negative dot product
// with the active-side arm vector.
type AnatomicalFrame struct {
	Origin   Vec3 // mid-hip point
	Lateral  Vec3 // unit, pointing across the shoulders
	Vertical Vec3 // unit, hip→shoulder line
	Forward  Vec3 // unit, aligned with the active arm's reach direction
}

// ShoulderAxis returns the current left→right shoulder unit vector for a
// snapshot. Used for trunk rotation measurement against the calibrated axis.
func (s TrunkSnapshot) ShoulderAxis() (Vec3, bool) {
	return s.RightShoulder.Sub(s.LeftShoulder).Normalize()
}

// BuildAnatomicalFrame derives an orthonormal basis from a trunk snapshot:
//
//  1. origin = midpoint(hips)
//  2. vertical = normalize(midpoint(shoulders) − origin)
//  3. roughLateral = normalize(rightShoulder − leftShoulder)
//  4. forward = normalize(roughLateral × vertical)
//  5. forward is negated if it opposes the active arm vector
//  6. lateral = normalize(vertical × forward)
//
// The final re-orthogonalisation guarantees a right-handed orthonormal basis
// even when the shoulder and hip lines are slightly non-planar. Degenerate
// inputs (coincident landmarks) return an error; the caller should discard
// the frame rather than advance any state.
func BuildAnatomicalFrame(s TrunkSnapshot) (AnatomicalFrame, error) {
	origin := Midpoint(s.LeftHip, s.RightHip)
	midShoulder := Midpoint(s.LeftShoulder, s.RightShoulder)

	vertical, ok := midShoulder.Sub(origin).Normalize()
	if !ok {
		return AnatomicalFrame{}, fmt.Errorf("degenerate trunk: shoulders coincide with hips")
	}

	roughLateral, ok := s.RightShoulder.Sub(s.LeftShoulder).Normalize()
	if !ok {
		return AnatomicalFrame{}, fmt.Errorf("degenerate trunk: shoulders coincide")
	}

	forward, ok := roughLateral.Cross(vertical).Normalize()
	if !ok {
		return AnatomicalFrame{}, fmt.Errorf("degenerate trunk: shoulder line parallel to spine")
	}

	// Sign correction: forward must point the way the active arm reaches.
	// Skipped when the arm vector itself is degenerate (wrist on shoulder).
	if arm, armOK := s.ActiveWrist.Sub(s.ActiveShoulder).Normalize(); armOK {
		if forward.Dot(arm) < 0 {
			forward = forward.Scale(-1)
		}
	}

	lateral, ok := vertical.Cross(forward).Normalize()
	if !ok {
		return AnatomicalFrame{}, fmt.Errorf("degenerate trunk: vertical parallel to forward")
	}

	return AnatomicalFrame{
		Origin:   origin,
		Lateral:  lateral,
		Vertical: vertical,
		Forward:  forward,
	}, nil
}
