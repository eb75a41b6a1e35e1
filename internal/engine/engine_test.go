package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinetic-rehab/reach.report/internal/calib"
	"github.com/kinetic-rehab/reach.report/internal/pose"
)

func testEngineConfig() Config {
	return Config{
		SmoothingWindow:    5,
		TeleportSpeedCms:   500,
		MinVisibility:      0.5,
		StabilityMinFrames: 45,
		StillnessSpeedCms:  3.0,

		TriggerSpeedCms:       15,
		TriggerDistanceCm:     3,
		AbandonDistanceCm:     -5,
		MinValidReachCm:       5,
		ReturnRadiusCm:        3,
		ReachCompleteFraction: 0.8,
		ReachTimeout:          10 * time.Second,

		Fault: testFaultConfig(),

		TrunkHeightRatio:     0.29,
		ScaleDivergenceLimit: 0.20,
		ReachFullCreditCm:    30,
	}
}

// testFrame builds a right-sided seated pose with the end effector at world
// z=effZ. Trunk geometry is fixed: with a 170cm/75cm patient the arm scale
// (100 cm/unit) wins fusion over the spine scale (~117 cm/unit).
func testFrame(effZ float64, tsMs int64) *pose.Frame {
	world := make([]pose.Landmark, pose.NumLandmarks)
	screen := make([]pose.Landmark, pose.NumLandmarks)
	for i := range screen {
		screen[i].Visibility = 1.0
	}

	set := func(idx int, x, y, z float64) {
		world[idx] = pose.Landmark{X: x, Y: y, Z: z, Visibility: 1.0}
	}
	set(pose.LeftShoulder, -0.18, 1.45, 0)
	set(pose.RightShoulder, 0.18, 1.45, 0)
	set(pose.LeftHip, -0.12, 1.03, 0)
	set(pose.RightHip, 0.12, 1.03, 0)
	set(pose.LeftElbow, -0.18, 1.45, 0.30)
	set(pose.LeftWrist, -0.18, 1.45, 0.60)
	set(pose.LeftIndex, -0.18, 1.45, 0.75)
	set(pose.RightElbow, 0.18, 1.45, effZ-0.45)
	set(pose.RightWrist, 0.18, 1.45, effZ-0.15)
	set(pose.RightIndex, 0.18, 1.45, effZ)

	return &pose.Frame{Landmarks: screen, World: world, TimestampMs: tsMs}
}

// rig drives an engine with synthetic frames at a fixed 33ms cadence.
type rig struct {
	e    *Engine
	tMs  int64
	effZ float64
}

func newRig(t *testing.T) *rig {
	t.Helper()
	e, err := New(testEngineConfig(), pose.SideRight)
	require.NoError(t, err)
	return &rig{e: e, effZ: 0.75}
}

func (r *rig) step(effZ float64) Result {
	r.tMs += 33
	r.effZ = effZ
	return r.e.Process(testFrame(effZ, r.tMs))
}

// hold feeds n frames at the current effector position, returning the last
// result.
func (r *rig) hold(n int) Result {
	var res Result
	for i := 0; i < n; i++ {
		res = r.step(r.effZ)
	}
	return res
}

// ramp moves the effector by dz per frame for n frames.
func (r *rig) ramp(dz float64, n int) Result {
	var res Result
	for i := 0; i < n; i++ {
		res = r.step(r.effZ + dz)
	}
	return res
}

// calibrated returns a rig that has locked an anchor at effZ=0.75 with the
// standard test patient and settled the smoothing window.
func calibrated(t *testing.T) *rig {
	t.Helper()
	r := newRig(t)
	require.NoError(t, r.e.Calibrate(calib.Patient{HeightCm: 170, ArmLengthCm: 75}))
	r.hold(6)
	require.Equal(t, PhaseLocked, r.e.Phase())
	return r
}

func TestCalibrationLocksFusedScale(t *testing.T) {
	r := newRig(t)

	res := r.step(0.75)
	assert.False(t, res.IsCalibrated)
	assert.Equal(t, "UNSTABLE", res.InternalPhase)

	require.NoError(t, r.e.Calibrate(calib.Patient{HeightCm: 170, ArmLengthCm: 75}))

	// The pending calibration is applied before the next frame's
	// calculations: that frame already reports the locked state.
	res = r.step(0.75)
	assert.True(t, res.IsCalibrated)
	assert.Equal(t, "LOCKED", res.InternalPhase)

	a := r.e.Anchor()
	require.NotNil(t, a)
	// Arm: 75cm over 0.75 units = 100. Spine: 0.29×170 over 0.42 units
	// ≈ 117.4. Divergence ≈ 0.148 < 0.20, so the arm estimate wins.
	assert.InDelta(t, 100.0, a.ScaleFactor, 1e-9)
	assert.Equal(t, calib.SourceArm, a.ScaleSource)
	assert.InDelta(t, 0.75, a.StartPoint.Z, 1e-9)
}

func TestCalibrateRejectsBadPatient(t *testing.T) {
	r := newRig(t)
	assert.Error(t, r.e.Calibrate(calib.Patient{HeightCm: 0, ArmLengthCm: 75}))
	assert.Error(t, r.e.Calibrate(calib.Patient{HeightCm: 170, ArmLengthCm: -1}))
}

func TestReachMeasurementAndScore(t *testing.T) {
	r := calibrated(t)

	// Forward 0.30 world units over a second: ~60cm/s, well under the
	// momentum limit, then settle at the peak.
	r.ramp(0.02, 15)
	res := r.hold(8)

	assert.InDelta(t, 30.0, res.EstimatedReachCm, 0.2)
	assert.Empty(t, res.Faults)
	assert.Equal(t, ZoneGreen, res.Zone)
	assert.Equal(t, 100.0, res.KpiScore)
	assert.InDelta(t, 30.0, r.e.MaxReachCm(), 0.2)
}

func TestHalfReachHalfCredit(t *testing.T) {
	r := calibrated(t)

	// 15cm of forward travel earns half the reach component plus the full
	// clean-execution component.
	r.ramp(0.015, 10)
	res := r.hold(8)

	assert.InDelta(t, 15.0, res.EstimatedReachCm, 0.2)
	assert.InDelta(t, 75.0, res.KpiScore, 0.5)
}

func TestFullReachCycle(t *testing.T) {
	r := calibrated(t)

	seen := map[string]bool{}
	record := func(res Result) { seen[res.InternalPhase] = true }

	for i := 0; i < 15; i++ {
		record(r.step(r.effZ + 0.02))
	}
	record(r.hold(8))
	assert.Equal(t, PhaseReturning, r.e.Phase())

	for i := 0; i < 15; i++ {
		record(r.step(r.effZ - 0.02))
	}
	record(r.hold(8))

	assert.Equal(t, PhaseLocked, r.e.Phase())
	assert.True(t, seen["REACHING"])
	assert.True(t, seen["RETURNING"])
	// The attempt state is cleared for the next trial.
	assert.Equal(t, 0.0, r.e.MaxReachCm())
	assert.Equal(t, FaultReason(""), r.e.faults.Active())
}

func TestGlitchFrameIsDiscarded(t *testing.T) {
	r := calibrated(t)
	before := r.e.Phase()

	// 0.5 units in 33ms at 100 cm/unit is ~1500 cm/s: a tracking glitch,
	// not motion. No state advances on that frame.
	res := r.step(r.effZ + 0.5)
	assert.True(t, res.Glitch)
	assert.Equal(t, before.String(), res.InternalPhase)
	assert.Equal(t, before, r.e.Phase())

	// The stream recovers on the next plausible frame.
	res = r.step(0.75)
	assert.False(t, res.Glitch)
	assert.Equal(t, PhaseLocked, r.e.Phase())
}

func TestUntrackedFrameFreezesState(t *testing.T) {
	r := calibrated(t)

	f := testFrame(1.2, r.tMs+33)
	f.Landmarks[pose.RightWrist].Visibility = 0.1
	res := r.e.Process(f)

	assert.False(t, res.IsTracking)
	assert.Equal(t, PhaseLocked, r.e.Phase())
	assert.Equal(t, 0.0, res.EstimatedReachCm)
}

func TestMomentumFaultTripsAndSticks(t *testing.T) {
	r := calibrated(t)

	// ~120 cm/s of sustained forward motion: the momentum counter climbs
	// past the debounce threshold.
	var res Result
	for i := 0; i < 14; i++ {
		res = r.step(r.effZ + 0.04)
	}
	assert.Equal(t, ZoneRed, res.Zone)
	require.Len(t, res.Faults, 1)
	assert.Equal(t, string(FaultMomentum), res.Faults[0])

	// Settling at the peak does not clear the sticky fault, and the score
	// loses the clean-execution component.
	res = r.hold(8)
	assert.Equal(t, ZoneRed, res.Zone)
	assert.Equal(t, []string{string(FaultMomentum)}, res.Faults)
	assert.InDelta(t, 50.0, res.KpiScore, 1.0)
}

func TestAbandonmentClearsAnchorThenRelocks(t *testing.T) {
	r := calibrated(t)

	// Drift slowly backward past the abandonment threshold. The slow pace
	// keeps the speed trigger from reading this as a reach.
	for i := 0; i < 25; i++ {
		r.step(r.effZ - 0.004)
	}
	assert.Equal(t, PhaseUnstable, r.e.Phase())
	assert.Nil(t, r.e.Anchor())

	// The patient parameters survive, so holding still long enough
	// re-locks automatically at the new neutral position.
	res := r.hold(55)
	assert.Equal(t, PhaseLocked, r.e.Phase())
	require.NotNil(t, r.e.Anchor())
	assert.True(t, res.IsCalibrated)
	assert.InDelta(t, r.effZ, r.e.Anchor().StartPoint.Z, 1e-9)
}

func TestBackwardMotionDoesNotTriggerReach(t *testing.T) {
	r := calibrated(t)
	r.step(r.effZ - 0.004)
	res := r.step(r.effZ - 0.004)
	assert.Equal(t, "LOCKED", res.InternalPhase)
}

func TestReachTimeoutForcesReturn(t *testing.T) {
	r := calibrated(t)

	// Trigger a reach but stall short of the minimum valid distance, so
	// stillness alone can never complete it.
	r.ramp(0.02, 2)
	r.hold(4)
	require.Equal(t, PhaseReaching, r.e.Phase())

	// 10s at 33ms per frame.
	r.hold(310)
	assert.Equal(t, PhaseReturning, r.e.Phase())
}

func TestStabilityProgress(t *testing.T) {
	r := newRig(t)

	res := r.hold(20)
	assert.Greater(t, res.StabilityProgress, 0.0)
	assert.Less(t, res.StabilityProgress, 100.0)

	res = r.hold(40)
	assert.Equal(t, 100.0, res.StabilityProgress)
	// Without patient parameters there is nothing to lock against.
	assert.Equal(t, PhaseUnstable, r.e.Phase())
}

func TestSetSideResetsEverything(t *testing.T) {
	r := calibrated(t)
	require.NoError(t, r.e.SetSide(pose.SideLeft))

	assert.Equal(t, pose.SideLeft, r.e.Side())
	assert.Nil(t, r.e.Anchor())
	assert.Equal(t, PhaseUnstable, r.e.Phase())

	assert.Error(t, r.e.SetSide(pose.Side("UP")))
}
