package calib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinetic-rehab/reach.report/internal/geom"
)

func TestFuseScaleDivergentFallsBackToSpine(t *testing.T) {
	// height=170, arm=75, trunk measured 0.42, arm measured 0.18:
	// spine = 170×0.29/0.42 ≈ 117.4, arm = 75/0.18 ≈ 416.7,
	// divergence ≈ 2.55 ≫ 0.20 → the spine scale wins.
	p := Patient{HeightCm: 170, ArmLengthCm: 75}
	m := Measurements{TrunkLength: 0.42, ArmLength: 0.18}

	est, err := FuseScale(p, m, 0.29, 0.20)
	require.NoError(t, err)

	assert.InDelta(t, 117.38, est.SpineScale, 0.01)
	assert.InDelta(t, 416.67, est.ArmScale, 0.01)
	assert.InDelta(t, 2.55, est.Divergence, 0.01)
	assert.Equal(t, SourceSpine, est.Source)
	assert.InDelta(t, est.SpineScale, est.ScaleFactor, 1e-9)
}

func TestFuseScaleAgreementTrustsArm(t *testing.T) {
	// trunk measured 0.42 → spine ≈ 117.4; arm measured 0.66 → arm ≈ 113.6;
	// divergence ≈ 3% < 20% → arm scale wins.
	p := Patient{HeightCm: 170, ArmLengthCm: 75}
	m := Measurements{TrunkLength: 0.42, ArmLength: 0.66}

	est, err := FuseScale(p, m, 0.29, 0.20)
	require.NoError(t, err)

	assert.Equal(t, SourceArm, est.Source)
	assert.InDelta(t, 75.0/0.66, est.ScaleFactor, 1e-9)
	assert.Less(t, est.Divergence, 0.20)
}

func TestFuseScaleDegenerateSegments(t *testing.T) {
	p := Patient{HeightCm: 170, ArmLengthCm: 75}

	t.Run("zero arm segment falls back to spine", func(t *testing.T) {
		est, err := FuseScale(p, Measurements{TrunkLength: 0.42, ArmLength: 0}, 0.29, 0.20)
		require.NoError(t, err)
		assert.Equal(t, SourceSpine, est.Source)
		assert.Greater(t, est.ScaleFactor, 0.0)
	})

	t.Run("zero trunk segment falls back to arm", func(t *testing.T) {
		est, err := FuseScale(p, Measurements{TrunkLength: 0, ArmLength: 0.66}, 0.29, 0.20)
		require.NoError(t, err)
		assert.Equal(t, SourceArm, est.Source)
		assert.Greater(t, est.ScaleFactor, 0.0)
	})

	t.Run("both degenerate is an error", func(t *testing.T) {
		_, err := FuseScale(p, Measurements{}, 0.29, 0.20)
		assert.Error(t, err)
	})
}

func TestPatientValidate(t *testing.T) {
	assert.NoError(t, Patient{HeightCm: 170, ArmLengthCm: 75}.Validate())
	assert.Error(t, Patient{HeightCm: 0, ArmLengthCm: 75}.Validate())
	assert.Error(t, Patient{HeightCm: 170, ArmLengthCm: -1}.Validate())
}

func TestNewAnchor(t *testing.T) {
	trunk := geom.TrunkSnapshot{
		LeftShoulder:   geom.Vec3{X: -0.18, Y: 1.45},
		RightShoulder:  geom.Vec3{X: 0.18, Y: 1.45},
		LeftHip:        geom.Vec3{X: -0.12, Y: 1.10},
		RightHip:       geom.Vec3{X: 0.12, Y: 1.10},
		ActiveShoulder: geom.Vec3{X: 0.18, Y: 1.45},
		ActiveWrist:    geom.Vec3{X: 0.20, Y: 1.40, Z: 0.45},
	}
	frame, err := geom.BuildAnatomicalFrame(trunk)
	require.NoError(t, err)

	start := geom.Vec3{X: 0.25, Y: 1.0, Z: 0.1}
	est := ScaleEstimate{ScaleFactor: 113.6, Source: SourceArm}

	anchor, err := NewAnchor(frame, trunk, start, est, 42_000)
	require.NoError(t, err)
	assert.Equal(t, start, anchor.StartPoint)
	assert.Equal(t, 113.6, anchor.ScaleFactor)
	assert.Equal(t, SourceArm, anchor.ScaleSource)
	assert.Equal(t, int64(42_000), anchor.EpochMs)
	assert.InDelta(t, 1.0, anchor.ShoulderAxis.Norm(), 1e-12)

	t.Run("never locks a non-positive scale", func(t *testing.T) {
		_, err := NewAnchor(frame, trunk, start, ScaleEstimate{ScaleFactor: 0}, 0)
		assert.Error(t, err)
	})

	t.Run("degenerate shoulder axis rejected", func(t *testing.T) {
		bad := trunk
		bad.RightShoulder = bad.LeftShoulder
		_, err := NewAnchor(frame, bad, start, est, 0)
		assert.Error(t, err)
	})
}
