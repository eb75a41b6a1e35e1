package engine

// FaultReason identifies one category of compensatory movement.
type FaultReason string

const (
	FaultTorsoSlip   FaultReason = "TORSO_SLIP"
	FaultRotation    FaultReason = "ROTATION"
	FaultLateralLean FaultReason = "LATERAL_LEAN"
	FaultButtLift    FaultReason = "BUTT_LIFT"
	FaultMomentum    FaultReason = "MOMENTUM"
)

// faultOrder fixes the evaluation order so "first fault wins" is
// deterministic when two counters cross the threshold on the same frame.
var faultOrder = []FaultReason{
	FaultTorsoSlip,
	FaultRotation,
	FaultLateralLean,
	FaultButtLift,
	FaultMomentum,
}

// FaultConfig holds the five detection thresholds and the shared debounce
// length.
type FaultConfig struct {
	DebounceFrames     int     // consecutive violating frames before a fault trips
	TorsoSlipBaseCm    float64 // base forward hip displacement limit; grows with lean
	RotationLimitDeg   float64 // shoulder-axis rotation limit vs. calibrated axis
	LateralLeanLimitCm float64 // lateral end-effector drift limit
	ButtLiftLimitCm    float64 // upward hip displacement limit
	MomentumLimitCms   float64 // end-effector speed limit
}

// FaultObservation is one frame's calibrated measurements, all in clinical
// units (cm, degrees, cm/s).
type FaultObservation struct {
	HipForwardCm      float64 // |forward-axis mid-hip displacement from anchor|
	LeanDeg           float64 // current trunk lean vs. calibrated vertical
	ShoulderAngleDeg  float64 // angle between current and anchored shoulder axis
	EffectorLateralCm float64 // |lateral-axis end-effector displacement from start|
	HipVerticalCm     float64 // vertical mid-hip displacement, positive = upward
	EffectorSpeedCms  float64
}

// FaultDetector runs the five independent compensation criteria, each gated
// by its own debounce counter: increment on a violating frame, decrement
// (floor zero) otherwise, trip once the counter strictly exceeds the
// debounce threshold. Only the first fault to trip is retained; it stays
// sticky until Reset. This models clinical practice of reporting the
// primary compensation rather than every concurrent one.
type FaultDetector struct {
	cfg      FaultConfig
	counters map[FaultReason]int
	active   FaultReason // "" when no fault has tripped this attempt
}

// NewFaultDetector creates a detector with zeroed counters.
func NewFaultDetector(cfg FaultConfig) *FaultDetector {
	return &FaultDetector{
		cfg:      cfg,
		counters: make(map[FaultReason]int, len(faultOrder)),
	}
}

// violated evaluates a single criterion against the observation.
func (d *FaultDetector) violated(reason FaultReason, obs FaultObservation) bool {
	switch reason {
	case FaultTorsoSlip:
		// Dynamic threshold: an intentional lean legitimately carries the
		// hips forward, so the limit grows with the current lean angle.
		return obs.HipForwardCm > d.cfg.TorsoSlipBaseCm+obs.LeanDeg/10
	case FaultRotation:
		return obs.ShoulderAngleDeg > d.cfg.RotationLimitDeg
	case FaultLateralLean:
		return obs.EffectorLateralCm > d.cfg.LateralLeanLimitCm
	case FaultButtLift:
		return obs.HipVerticalCm > d.cfg.ButtLiftLimitCm
	case FaultMomentum:
		return obs.EffectorSpeedCms > d.cfg.MomentumLimitCms
	default:
		return false
	}
}

// Evaluate advances all five counters for one frame and returns the active
// fault reason, or "" if none has tripped this attempt.
func (d *FaultDetector) Evaluate(obs FaultObservation) FaultReason {
	for _, reason := range faultOrder {
		if d.violated(reason, obs) {
			d.counters[reason]++
			if d.active == "" && d.counters[reason] > d.cfg.DebounceFrames {
				d.active = reason
			}
		} else if d.counters[reason] > 0 {
			d.counters[reason]--
		}
	}
	return d.active
}

// Active returns the sticky fault reason, or "" if none.
func (d *FaultDetector) Active() FaultReason { return d.active }

// Counter returns the current debounce counter for a reason.
func (d *FaultDetector) Counter(reason FaultReason) int { return d.counters[reason] }

// MaxCounter returns the largest current debounce counter. Used for the
// caution zone: a counter climbing toward the threshold means a fault is
// developing even though none has tripped.
func (d *FaultDetector) MaxCounter() int {
	max := 0
	for _, c := range d.counters {
		if c > max {
			max = c
		}
	}
	return max
}

// Reset clears all counters and the active fault. Called on each phase
// transition back to neutral and on recalibration or side change.
func (d *FaultDetector) Reset() {
	for k := range d.counters {
		delete(d.counters, k)
	}
	d.active = ""
}
