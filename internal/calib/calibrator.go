// Package calib fuses two independent anthropometric scale estimates into
// the single metric scale factor (centimetres per world unit) locked into a
// calibration anchor. The arm-derived estimate directly measures the limb
// being scored but is sensitive to hand-tracking occlusion; the
// spine-derived estimate is coarser but stable. The fusion rule trusts the
// arm estimate only when the two agree.
package calib

import (
	"fmt"

	"github.com/kinetic-rehab/reach.report/internal/geom"
)

const minMeasuredSegment = 1e-6 // world units; below this a segment is degenerate

// ScaleSource identifies which estimate won the fusion.
type ScaleSource string

const (
	SourceArm   ScaleSource = "arm"
	SourceSpine ScaleSource = "spine"
)

// Patient holds the clinician-supplied anthropometry.
type Patient struct {
	HeightCm    float64 `json:"height"`
	ArmLengthCm float64 `json:"armLength"`
}

// Validate checks the patient parameters are physically plausible.
func (p Patient) Validate() error {
	if p.HeightCm <= 0 {
		return fmt.Errorf("patient height must be positive, got %.1f", p.HeightCm)
	}
	if p.ArmLengthCm <= 0 {
		return fmt.Errorf("patient arm length must be positive, got %.1f", p.ArmLengthCm)
	}
	return nil
}

// ScaleEstimate is the result of one fusion.
type ScaleEstimate struct {
	ScaleFactor float64     // centimetres per world unit
	Source      ScaleSource // which estimate was trusted
	SpineScale  float64
	ArmScale    float64
	Divergence  float64 // |arm − spine| / spine
}

// Anchor is the snapshot taken exactly once per calibration event. It is
// immutable until the next calibration: all reach and fault measurements
// within an epoch are made against these committed values so they stay
// self-consistent within a trial.
type Anchor struct {
	Frame        geom.AnatomicalFrame
	StartPoint   geom.Vec3 // end-effector position at calibration
	ScaleFactor  float64   // locked cm per world unit
	ScaleSource  ScaleSource
	ShoulderAxis geom.Vec3 // committed left→right shoulder unit vector
	EpochMs      int64
}

// Measurements holds the two body-segment lengths (world units) read from
// the landmark snapshot at calibration time.
type Measurements struct {
	TrunkLength float64 // |midShoulder − midHip|
	ArmLength   float64 // |fingertip-equivalent − active shoulder|
}

// FuseScale computes and fuses the two candidate scale factors.
//
// Spine-derived: expected trunk length ≈ trunkRatio × height (cm) over the
// measured trunk segment. Arm-derived: the supplied arm length over the
// measured shoulder→fingertip segment. When the relative divergence is
// below divergenceLimit the arm scale wins; otherwise the spine scale is
// the fallback. A degenerate measured segment disqualifies its estimate;
// both degenerate is an error — a zero or negative scale is never locked.
func FuseScale(p Patient, m Measurements, trunkRatio, divergenceLimit float64) (ScaleEstimate, error) {
	if err := p.Validate(); err != nil {
		return ScaleEstimate{}, err
	}

	var spine, arm float64
	if m.TrunkLength > minMeasuredSegment {
		spine = trunkRatio * p.HeightCm / m.TrunkLength
	}
	if m.ArmLength > minMeasuredSegment {
		arm = p.ArmLengthCm / m.ArmLength
	}

	switch {
	case spine <= 0 && arm <= 0:
		return ScaleEstimate{}, fmt.Errorf("both calibration segments degenerate (trunk=%.6f arm=%.6f)", m.TrunkLength, m.ArmLength)
	case spine <= 0:
		return ScaleEstimate{ScaleFactor: arm, Source: SourceArm, ArmScale: arm}, nil
	case arm <= 0:
		return ScaleEstimate{ScaleFactor: spine, Source: SourceSpine, SpineScale: spine}, nil
	}

	divergence := (arm - spine) / spine
	if divergence < 0 {
		divergence = -divergence
	}

	est := ScaleEstimate{SpineScale: spine, ArmScale: arm, Divergence: divergence}
	if divergence < divergenceLimit {
		est.ScaleFactor = arm
		est.Source = SourceArm
	} else {
		est.ScaleFactor = spine
		est.Source = SourceSpine
	}
	return est, nil
}

// NewAnchor builds the immutable calibration snapshot. The shoulder axis
// is committed from the snapshot so trunk rotation is measured against the
// calibrated posture, not a per-frame recomputation.
func NewAnchor(frame geom.AnatomicalFrame, trunk geom.TrunkSnapshot, startPoint geom.Vec3, est ScaleEstimate, epochMs int64) (Anchor, error) {
	axis, ok := trunk.ShoulderAxis()
	if !ok {
		return Anchor{}, fmt.Errorf("cannot anchor: shoulder axis degenerate")
	}
	if est.ScaleFactor <= 0 {
		return Anchor{}, fmt.Errorf("cannot anchor: scale factor %.6f not positive", est.ScaleFactor)
	}
	return Anchor{
		Frame:        frame,
		StartPoint:   startPoint,
		ScaleFactor:  est.ScaleFactor,
		ScaleSource:  est.Source,
		ShoulderAxis: axis,
		EpochMs:      epochMs,
	}, nil
}
