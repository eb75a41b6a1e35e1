// Package session drives the trial protocol on top of the per-frame engine
// results: it segments the result stream into attempts, discards false
// starts, accumulates per-attempt metrics and produces the end-of-session
// statistical summary. The engine knows about motion; the session knows
// about the protocol.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/kinetic-rehab/reach.report/internal/engine"
	"github.com/kinetic-rehab/reach.report/internal/monitoring"
	"github.com/kinetic-rehab/reach.report/internal/scoring"
)

// TrialPhase is the protocol-level phase, coarser than the engine phase.
type TrialPhase string

const (
	PhaseIdle      TrialPhase = "IDLE"
	PhaseReaching  TrialPhase = "REACHING"
	PhaseReturning TrialPhase = "RETURNING"
	PhaseCooldown  TrialPhase = "COOLDOWN"
)

// AttemptMetric is the committed record of one valid reach attempt.
type AttemptMetric struct {
	ID              string  `json:"id"`
	StartedMs       int64   `json:"startedMs"`
	CommittedMs     int64   `json:"committedMs"`
	MaxReachCm      float64 `json:"maxReachCm"`
	PeakVelocityCms float64 `json:"peakVelocityCms"`
	MaxLeanDeg      float64 `json:"maxLeanDeg"`
	Score           float64 `json:"score"`
	Faulted         bool    `json:"faulted"`
	FaultReason     string  `json:"faultReason,omitempty"`
	Snapshot        []byte  `json:"snapshot,omitempty"` // captured at the first red-zone frame
}

// Config holds the protocol parameters.
type Config struct {
	MinValidReachCm   float64       // attempts peaking under this are discarded as false starts
	Cooldown          time.Duration // rest period between committed attempts
	TrialsPerSession  int
	ReachFullCreditCm float64
}

// Summary is the end-of-session statistical rollup.
type Summary struct {
	SessionID       string         `json:"sessionId"`
	Phase           TrialPhase     `json:"phase"`
	Trials          int            `json:"trials"`
	Complete        bool           `json:"complete"`
	MeanReachCm     float64        `json:"meanReachCm"`
	MaxReachCm      float64        `json:"maxReachCm"`
	P50ReachCm      float64        `json:"p50ReachCm"`
	P95ReachCm      float64        `json:"p95ReachCm"`
	MeanScore       float64        `json:"meanScore"`
	PeakVelocityCms float64        `json:"peakVelocityCms"`
	CleanTrials     int            `json:"cleanTrials"`
	FaultCounts     map[string]int `json:"faultCounts"`
}

// Driver consumes engine results in arrival order and maintains the trial
// protocol state. Observe is called from the worker goroutine; the read
// accessors are safe to call concurrently from the serving layer.
type Driver struct {
	mu  sync.Mutex
	cfg Config

	sessionID string
	phase     TrialPhase
	current   *AttemptMetric
	history   []AttemptMetric

	cooldownUntilMs int64
	complete        bool

	// SnapshotFunc, when set, supplies an opaque image payload captured at
	// the moment an attempt first enters the red zone.
	SnapshotFunc func() []byte
}

// New creates a driver for a fresh session.
func New(cfg Config) *Driver {
	if cfg.TrialsPerSession <= 0 {
		cfg.TrialsPerSession = 5
	}
	return &Driver{
		cfg:       cfg,
		sessionID: "ses_" + uuid.NewString(),
		phase:     PhaseIdle,
	}
}

// SessionID returns the stable identifier for this session.
func (d *Driver) SessionID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID
}

// Phase returns the current protocol phase.
func (d *Driver) Phase() TrialPhase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

// Complete reports whether the protocol trial count has been reached.
func (d *Driver) Complete() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.complete
}

// History returns a copy of the committed attempts.
func (d *Driver) History() []AttemptMetric {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]AttemptMetric, len(d.history))
	copy(out, d.history)
	return out
}

// Reset starts a new session: history, phase and identity are all fresh.
func (d *Driver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessionID = "ses_" + uuid.NewString()
	d.phase = PhaseIdle
	d.current = nil
	d.history = d.history[:0]
	d.cooldownUntilMs = 0
	d.complete = false
}

// Observe advances the protocol with one engine result. Results must be
// delivered in frame order.
func (d *Driver) Observe(res engine.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Discarded frames carry zeroed measurements and a frozen engine phase;
	// folding them in would fake a return to start.
	if res.Glitch || !res.IsTracking {
		return
	}

	switch d.phase {
	case PhaseIdle:
		if d.complete {
			return
		}
		if res.InternalPhase == engine.PhaseReaching.String() {
			d.current = &AttemptMetric{
				ID:        "att_" + uuid.NewString(),
				StartedMs: res.TimestampMs,
			}
			d.phase = PhaseReaching
			d.accumulate(res)
		}

	case PhaseReaching:
		d.accumulate(res)
		if res.InternalPhase == engine.PhaseReturning.String() {
			d.phase = PhaseReturning
		}
		// A reach abandoned outright (engine back to unstable) is never a
		// committable attempt.
		if res.InternalPhase == engine.PhaseUnstable.String() {
			d.discard("neutral abandoned")
		}

	case PhaseReturning:
		// The engine dropping back to unstable (lost anchor, side change)
		// invalidates the attempt the same way it does mid-reach.
		if res.InternalPhase == engine.PhaseUnstable.String() {
			d.discard("neutral abandoned")
			return
		}
		d.accumulate(res)
		backAtStart := res.InternalPhase == engine.PhaseLocked.String() ||
			res.EstimatedReachCm < d.cfg.MinValidReachCm
		if !backAtStart {
			return
		}
		if d.current.MaxReachCm < d.cfg.MinValidReachCm {
			d.discard("false start")
			return
		}
		d.commit(res.TimestampMs)

	case PhaseCooldown:
		if res.TimestampMs >= d.cooldownUntilMs {
			if len(d.history) >= d.cfg.TrialsPerSession {
				d.complete = true
				monitoring.Logf("session %s: complete after %d trials", d.sessionID, len(d.history))
			}
			d.phase = PhaseIdle
		}
	}
}

// accumulate folds one result into the running attempt peaks.
func (d *Driver) accumulate(res engine.Result) {
	a := d.current
	if a == nil {
		return
	}
	if res.EstimatedReachCm > a.MaxReachCm {
		a.MaxReachCm = res.EstimatedReachCm
	}
	if res.Velocity > a.PeakVelocityCms {
		a.PeakVelocityCms = res.Velocity
	}
	if res.Angle > a.MaxLeanDeg {
		a.MaxLeanDeg = res.Angle
	}
	if res.Zone == engine.ZoneRed && !a.Faulted {
		a.Faulted = true
		if len(res.Faults) > 0 {
			a.FaultReason = res.Faults[0]
		}
		if d.SnapshotFunc != nil {
			a.Snapshot = d.SnapshotFunc()
		}
	}
}

func (d *Driver) discard(reason string) {
	monitoring.Logf("session %s: attempt %s discarded (%s)", d.sessionID, d.current.ID, reason)
	d.current = nil
	d.phase = PhaseIdle
}

func (d *Driver) commit(tsMs int64) {
	a := d.current
	a.CommittedMs = tsMs
	a.Score = scoring.Score(a.MaxReachCm, a.Faulted, d.cfg.ReachFullCreditCm)
	d.history = append(d.history, *a)
	d.current = nil
	d.cooldownUntilMs = tsMs + d.cfg.Cooldown.Milliseconds()
	d.phase = PhaseCooldown
	monitoring.Logf("session %s: trial %d/%d committed reach=%.1fcm score=%.0f faulted=%v",
		d.sessionID, len(d.history), d.cfg.TrialsPerSession, a.MaxReachCm, a.Score, a.Faulted)
}

// Summarize computes the statistical rollup over the committed attempts.
func (d *Driver) Summarize() Summary {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Summary{
		SessionID:   d.sessionID,
		Phase:       d.phase,
		Trials:      len(d.history),
		Complete:    d.complete,
		FaultCounts: map[string]int{},
	}
	if len(d.history) == 0 {
		return s
	}

	reaches := make([]float64, 0, len(d.history))
	scores := make([]float64, 0, len(d.history))
	for _, a := range d.history {
		reaches = append(reaches, a.MaxReachCm)
		scores = append(scores, a.Score)
		if a.PeakVelocityCms > s.PeakVelocityCms {
			s.PeakVelocityCms = a.PeakVelocityCms
		}
		if a.Faulted {
			s.FaultCounts[a.FaultReason]++
		} else {
			s.CleanTrials++
		}
	}

	sort.Float64s(reaches)
	s.MeanReachCm = stat.Mean(reaches, nil)
	s.MaxReachCm = reaches[len(reaches)-1]
	s.P50ReachCm = stat.Quantile(0.5, stat.Empirical, reaches, nil)
	s.P95ReachCm = stat.Quantile(0.95, stat.Empirical, reaches, nil)
	s.MeanScore = stat.Mean(scores, nil)
	return s
}
