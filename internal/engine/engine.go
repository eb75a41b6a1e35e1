// Package engine implements the per-frame kinematic pipeline and the
// engine-phase state machine for the reach-and-return protocol. One Engine
// serves one patient session; there is no ambient state. All processing is
// synchronous and bounded: the worker layer provides the asynchronous
// message boundary.
package engine

import (
	"fmt"
	"time"

	"github.com/kinetic-rehab/reach.report/internal/calib"
	"github.com/kinetic-rehab/reach.report/internal/config"
	"github.com/kinetic-rehab/reach.report/internal/geom"
	"github.com/kinetic-rehab/reach.report/internal/kinematics"
	"github.com/kinetic-rehab/reach.report/internal/monitoring"
	"github.com/kinetic-rehab/reach.report/internal/pose"
	"github.com/kinetic-rehab/reach.report/internal/scoring"
	"github.com/kinetic-rehab/reach.report/internal/units"
)

// Phase is the engine-internal motion phase. Transitions are handled by a
// single exhaustive function per phase; there are no string comparisons in
// the state machine.
type Phase int

const (
	PhaseUnstable Phase = iota // waiting for stillness before any anchor is trusted
	PhaseLocked                // neutral/ready at the calibrated start position
	PhaseReaching              // forward motion in progress, faults scored
	PhaseReturning             // coming back to the start position
)

// String returns the wire label for the phase.
func (p Phase) String() string {
	switch p {
	case PhaseUnstable:
		return "UNSTABLE"
	case PhaseLocked:
		return "LOCKED"
	case PhaseReaching:
		return "REACHING"
	case PhaseReturning:
		return "RETURNING"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Zone is the traffic-light movement quality indicator.
type Zone string

const (
	ZoneGreen  Zone = "GREEN"
	ZoneYellow Zone = "YELLOW" // a fault counter is climbing but has not tripped
	ZoneRed    Zone = "RED"    // an active fault
)

// Config holds all engine parameters, resolved from the tuning config.
type Config struct {
	SmoothingWindow    int
	TeleportSpeedCms   float64
	MinVisibility      float64
	StabilityMinFrames int
	StillnessSpeedCms  float64

	TriggerSpeedCms       float64
	TriggerDistanceCm     float64
	AbandonDistanceCm     float64
	MinValidReachCm       float64
	ReturnRadiusCm        float64
	ReachCompleteFraction float64
	ReachTimeout          time.Duration

	Fault FaultConfig

	TrunkHeightRatio     float64
	ScaleDivergenceLimit float64
	ReachFullCreditCm    float64
}

// ConfigFromTuning builds an engine Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		SmoothingWindow:       cfg.GetSmoothingWindow(),
		TeleportSpeedCms:      cfg.GetTeleportSpeedCms(),
		MinVisibility:         cfg.GetMinVisibility(),
		StabilityMinFrames:    cfg.GetStabilityMinFrames(),
		StillnessSpeedCms:     cfg.GetStillnessSpeedCms(),
		TriggerSpeedCms:       cfg.GetTriggerSpeedCms(),
		TriggerDistanceCm:     cfg.GetTriggerDistanceCm(),
		AbandonDistanceCm:     cfg.GetAbandonDistanceCm(),
		MinValidReachCm:       cfg.GetMinValidReachCm(),
		ReturnRadiusCm:        cfg.GetReturnRadiusCm(),
		ReachCompleteFraction: cfg.GetReachCompleteFraction(),
		ReachTimeout:          cfg.GetReachTimeout(),
		Fault: FaultConfig{
			DebounceFrames:     cfg.GetFaultDebounceFrames(),
			TorsoSlipBaseCm:    cfg.GetTorsoSlipBaseCm(),
			RotationLimitDeg:   cfg.GetRotationLimitDeg(),
			LateralLeanLimitCm: cfg.GetLateralLeanLimitCm(),
			ButtLiftLimitCm:    cfg.GetButtLiftLimitCm(),
			MomentumLimitCms:   cfg.GetMomentumLimitCms(),
		},
		TrunkHeightRatio:     cfg.GetTrunkHeightRatio(),
		ScaleDivergenceLimit: cfg.GetScaleDivergenceLimit(),
		ReachFullCreditCm:    cfg.GetReachFullCreditCm(),
	}
}

// Result is the per-frame output snapshot consumed by the session driver,
// the presentation layer and the alerting channel.
type Result struct {
	Type              string   `json:"type"` // always "RESULT"
	TimestampMs       int64    `json:"timestampMs"`
	EstimatedReachCm  float64  `json:"estimatedReachCm"`
	Velocity          float64  `json:"velocity"` // end-effector speed, cm/s
	Angle             float64  `json:"angle"`    // trunk lean vs. calibrated vertical, degrees
	Zone              Zone     `json:"zone"`
	KpiScore          float64  `json:"kpiScore"`
	IsTracking        bool     `json:"isTracking"`
	IsCalibrated      bool     `json:"isCalibrated"`
	Faults            []string `json:"faults"`
	StabilityProgress float64  `json:"stabilityProgress"` // 0-100
	InternalPhase     string   `json:"internalPhase"`
	Glitch            bool     `json:"glitch,omitempty"`
}

// Engine is the per-session kinematic engine. It is not safe for concurrent
// use: the worker layer serialises all calls.
type Engine struct {
	cfg  Config
	side pose.Side
	idx  pose.SideIndices

	phase   Phase
	patient *calib.Patient
	anchor  *calib.Anchor
	faults  *FaultDetector

	effector *kinematics.PointSmoother
	hip      *kinematics.PointSmoother

	pendingCalibration bool
	stillFrames        int
	maxReachCm         float64
	reachStartMs       int64
	lastTimestampMs    int64
}

// New creates an engine for the given side.
func New(cfg Config, side pose.Side) (*Engine, error) {
	idx, err := pose.IndicesFor(side)
	if err != nil {
		return nil, err
	}
	effector, err := kinematics.NewPointSmoother(cfg.SmoothingWindow)
	if err != nil {
		return nil, err
	}
	hip, _ := kinematics.NewPointSmoother(cfg.SmoothingWindow)

	return &Engine{
		cfg:      cfg,
		side:     side,
		idx:      idx,
		phase:    PhaseUnstable,
		faults:   NewFaultDetector(cfg.Fault),
		effector: effector,
		hip:      hip,
	}, nil
}

// Side returns the active side.
func (e *Engine) Side() pose.Side { return e.side }

// Phase returns the current engine phase.
func (e *Engine) Phase() Phase { return e.phase }

// Anchor returns the committed calibration anchor, or nil before the first
// calibration.
func (e *Engine) Anchor() *calib.Anchor { return e.anchor }

// SetSide switches the active arm. This is a discontinuity: the anchor,
// smoothers, counters and phase are fully reset. The patient parameters
// are retained so stabilising again re-locks without re-entering them.
func (e *Engine) SetSide(side pose.Side) error {
	idx, err := pose.IndicesFor(side)
	if err != nil {
		return err
	}
	e.side = side
	e.idx = idx
	e.resetKinematics()
	e.anchor = nil
	e.phase = PhaseUnstable
	monitoring.Logf("engine: side switched to %s, recalibration required", side)
	return nil
}

// Calibrate records the patient anthropometry and requests an anchor
// snapshot. The snapshot is taken from the next processed frame — before
// that frame's reach and fault calculations run — so a calibration command
// interleaved with frames behaves deterministically.
func (e *Engine) Calibrate(p calib.Patient) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.patient = &p
	e.pendingCalibration = true
	return nil
}

// Reset returns the engine to its initial uncalibrated state, keeping the
// side and patient parameters.
func (e *Engine) Reset() {
	e.resetKinematics()
	e.anchor = nil
	e.pendingCalibration = false
	e.phase = PhaseUnstable
}

// resetKinematics clears everything derived from the frame stream.
func (e *Engine) resetKinematics() {
	e.effector.Reset()
	e.hip.Reset()
	e.faults.Reset()
	e.stillFrames = 0
	e.maxReachCm = 0
	e.reachStartMs = 0
}

// scale returns the locked scale factor when anchored, or a provisional
// spine-derived estimate so stillness and teleport thresholds expressed in
// clinical units remain meaningful before the first lock. Without patient
// parameters the world units are assumed to be metres.
func (e *Engine) scale(f *pose.Frame) float64 {
	if e.anchor != nil {
		return e.anchor.ScaleFactor
	}
	if e.patient != nil {
		trunk := geom.Dist(f.MidShoulder(), f.MidHip())
		if trunk > 1e-6 {
			return e.cfg.TrunkHeightRatio * e.patient.HeightCm / trunk
		}
	}
	return 100.0
}

// Process runs the per-frame pipeline and returns the result snapshot.
// Invalid or glitched frames never advance engine state.
func (e *Engine) Process(f *pose.Frame) Result {
	res := Result{
		Type:          "RESULT",
		TimestampMs:   f.TimestampMs,
		Zone:          ZoneGreen,
		Faults:        []string{},
		InternalPhase: e.phase.String(),
		IsCalibrated:  e.anchor != nil,
	}

	if !f.IsTracking(e.idx, e.cfg.MinVisibility) {
		res.StabilityProgress = e.stabilityProgress()
		return res
	}
	res.IsTracking = true

	scale := e.scale(f)
	effectorRaw := f.EndEffector(e.idx, e.cfg.MinVisibility)
	hipRaw := f.MidHip()

	// Teleport rejection: an implausible inter-frame jump is a tracking
	// glitch, not a fast reach. The frame is discarded before any state
	// is touched.
	maxSpeedUnits := e.cfg.TeleportSpeedCms / scale
	if e.effector.Glitched(effectorRaw, f.TimestampMs, maxSpeedUnits) ||
		e.hip.Glitched(hipRaw, f.TimestampMs, maxSpeedUnits) {
		res.Glitch = true
		res.StabilityProgress = e.stabilityProgress()
		monitoring.Logf("engine: teleport glitch at t=%dms discarded", f.TimestampMs)
		return res
	}

	// An interleaved calibration command is applied before this frame's
	// reach/fault calculations so the frame is measured against the new
	// anchor.
	if e.pendingCalibration {
		if err := e.applyCalibration(f, effectorRaw); err != nil {
			monitoring.Logf("engine: calibration failed: %v", err)
		}
		res.IsCalibrated = e.anchor != nil
		res.InternalPhase = e.phase.String()
	}

	e.effector.Push(effectorRaw, f.TimestampMs)
	e.hip.Push(hipRaw, f.TimestampMs)
	e.lastTimestampMs = f.TimestampMs

	effEst := e.effector.Solve()
	hipEst := e.hip.Solve()
	if !effEst.Valid || !hipEst.Valid {
		res.StabilityProgress = e.stabilityProgress()
		return res
	}

	// Stillness bookkeeping feeds both the stability wait and the
	// reach-complete condition.
	effSpeedCms := effEst.Speed * scale
	hipSpeedCms := hipEst.Speed * scale
	if effSpeedCms < e.cfg.StillnessSpeedCms && hipSpeedCms < e.cfg.StillnessSpeedCms {
		e.stillFrames++
	} else {
		e.stillFrames = 0
	}

	if e.anchor == nil {
		res.StabilityProgress = e.stabilityProgress()
		e.advanceUnanchored(f, effectorRaw)
		res.InternalPhase = e.phase.String()
		res.IsCalibrated = e.anchor != nil
		return res
	}

	// Calibrated measurements, all against the committed anchor.
	a := e.anchor
	reachCm := units.ScaleToCm(effEst.Position.Sub(a.StartPoint).ScalarProject(a.Frame.Forward), a.ScaleFactor)
	lateralCm := units.ScaleToCm(effEst.Position.Sub(a.StartPoint).ScalarProject(a.Frame.Lateral), a.ScaleFactor)
	hipForwardCm := units.ScaleToCm(hipEst.Position.Sub(a.Frame.Origin).ScalarProject(a.Frame.Forward), a.ScaleFactor)
	hipVerticalCm := units.ScaleToCm(hipEst.Position.Sub(a.Frame.Origin).ScalarProject(a.Frame.Vertical), a.ScaleFactor)
	leanDeg := geom.AngleDeg(f.MidShoulder().Sub(f.MidHip()), a.Frame.Vertical)

	shoulderAngleDeg := 0.0
	if axis, ok := f.Trunk(e.idx).ShoulderAxis(); ok {
		shoulderAngleDeg = geom.AngleDeg(axis, a.ShoulderAxis)
	}

	if e.phase == PhaseReaching || e.phase == PhaseReturning {
		e.faults.Evaluate(FaultObservation{
			HipForwardCm:      abs(hipForwardCm),
			LeanDeg:           leanDeg,
			ShoulderAngleDeg:  shoulderAngleDeg,
			EffectorLateralCm: abs(lateralCm),
			HipVerticalCm:     hipVerticalCm,
			EffectorSpeedCms:  effSpeedCms,
		})
	}

	effForwardCms := effEst.Velocity.Dot(a.Frame.Forward) * a.ScaleFactor
	e.advanceAnchored(f, reachCm, effSpeedCms, effForwardCms, effEst.Position)

	res.EstimatedReachCm = reachCm
	res.Velocity = effSpeedCms
	res.Angle = leanDeg
	res.KpiScore = scoring.Score(reachCm, e.faults.Active() != "", e.cfg.ReachFullCreditCm)
	res.StabilityProgress = e.stabilityProgress()
	res.InternalPhase = e.phase.String()
	res.IsCalibrated = e.anchor != nil

	if active := e.faults.Active(); active != "" {
		res.Zone = ZoneRed
		res.Faults = append(res.Faults, string(active))
	} else if e.faults.MaxCounter() > e.cfg.Fault.DebounceFrames/2 {
		res.Zone = ZoneYellow
	}

	return res
}

// applyCalibration snapshots the anchor from the current frame and locks
// the fused scale factor for the epoch.
func (e *Engine) applyCalibration(f *pose.Frame, effectorRaw geom.Vec3) error {
	e.pendingCalibration = false

	trunk := f.Trunk(e.idx)
	frame, err := geom.BuildAnatomicalFrame(trunk)
	if err != nil {
		return err
	}

	m := calib.Measurements{
		TrunkLength: geom.Dist(f.MidShoulder(), f.MidHip()),
		ArmLength:   geom.Dist(effectorRaw, f.World[e.idx.Shoulder].Point()),
	}
	est, err := calib.FuseScale(*e.patient, m, e.cfg.TrunkHeightRatio, e.cfg.ScaleDivergenceLimit)
	if err != nil {
		return err
	}

	anchor, err := calib.NewAnchor(frame, trunk, effectorRaw, est, f.TimestampMs)
	if err != nil {
		return err
	}

	e.anchor = &anchor
	e.resetKinematics()
	e.phase = PhaseLocked
	monitoring.Logf("engine: calibrated side=%s scale=%.1fcm/unit source=%s divergence=%.2f",
		e.side, est.ScaleFactor, est.Source, est.Divergence)
	return nil
}

// advanceUnanchored handles the stability wait. When the patient has been
// entered and stillness is achieved, the anchor re-locks automatically —
// this is the path back from an abandoned neutral position.
func (e *Engine) advanceUnanchored(f *pose.Frame, effectorRaw geom.Vec3) {
	if e.patient == nil {
		return
	}
	if e.stillFrames >= e.cfg.StabilityMinFrames {
		if err := e.applyCalibration(f, effectorRaw); err != nil {
			monitoring.Logf("engine: auto re-lock failed: %v", err)
		}
	}
}

// advanceAnchored is the exhaustive engine-phase transition function.
func (e *Engine) advanceAnchored(f *pose.Frame, reachCm, effSpeedCms, effForwardCms float64, effPos geom.Vec3) {
	switch e.phase {
	case PhaseUnstable:
		// Anchored but unstable only occurs transiently after Reset; treat
		// like the unanchored wait with the existing anchor.
		if e.stillFrames >= e.cfg.StabilityMinFrames {
			e.phase = PhaseLocked
		}

	case PhaseLocked:
		if reachCm < e.cfg.AbandonDistanceCm {
			// Moved backward past the abandonment threshold: the neutral
			// anchor no longer describes the posture.
			e.anchor = nil
			e.phase = PhaseUnstable
			e.resetKinematics()
			monitoring.Logf("engine: neutral abandoned (reach=%.1fcm), recalibration required", reachCm)
			return
		}
		// The speed trigger is directional: only forward motion starts a
		// reach, so shuffling or settling backward cannot arm the attempt.
		if effForwardCms > e.cfg.TriggerSpeedCms || reachCm > e.cfg.TriggerDistanceCm {
			e.phase = PhaseReaching
			e.maxReachCm = reachCm
			e.reachStartMs = f.TimestampMs
			e.faults.Reset()
		}

	case PhaseReaching:
		if reachCm > e.maxReachCm {
			e.maxReachCm = reachCm
		}
		timedOut := e.reachStartMs > 0 &&
			time.Duration(f.TimestampMs-e.reachStartMs)*time.Millisecond > e.cfg.ReachTimeout
		reachDone := e.maxReachCm >= e.cfg.MinValidReachCm &&
			(effSpeedCms < e.cfg.StillnessSpeedCms || reachCm < e.cfg.ReachCompleteFraction*e.maxReachCm)
		if reachDone || timedOut {
			e.phase = PhaseReturning
		}

	case PhaseReturning:
		returnDistCm := geom.Dist(effPos, e.anchor.StartPoint) * e.anchor.ScaleFactor
		if returnDistCm < e.cfg.ReturnRadiusCm && effSpeedCms < e.cfg.StillnessSpeedCms {
			e.phase = PhaseLocked
			e.maxReachCm = 0
			e.faults.Reset()
		}
	}
}

// MaxReachCm returns the running maximum reach for the current attempt.
func (e *Engine) MaxReachCm() float64 { return e.maxReachCm }

func (e *Engine) stabilityProgress() float64 {
	if e.phase != PhaseUnstable {
		return 100
	}
	if e.cfg.StabilityMinFrames <= 0 {
		return 100
	}
	p := float64(e.stillFrames) / float64(e.cfg.StabilityMinFrames) * 100
	if p > 100 {
		p = 100
	}
	return p
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
