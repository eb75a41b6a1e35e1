package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for engine tuning
// parameters. Fields omitted from the JSON retain their defaults, so
// partial configs are safe.
type TuningConfig struct {
	// Smoothing params
	SmoothingWindow    *int     `json:"smoothing_window,omitempty"`
	TeleportSpeedCms   *float64 `json:"teleport_speed_cms,omitempty"`
	MinVisibility      *float64 `json:"min_visibility,omitempty"`
	StabilityMinFrames *int     `json:"stability_min_frames,omitempty"`
	StillnessSpeedCms  *float64 `json:"stillness_speed_cms,omitempty"`

	// Engine phase params
	TriggerSpeedCms       *float64 `json:"trigger_speed_cms,omitempty"`
	TriggerDistanceCm     *float64 `json:"trigger_distance_cm,omitempty"`
	AbandonDistanceCm     *float64 `json:"abandon_distance_cm,omitempty"`
	MinValidReachCm       *float64 `json:"min_valid_reach_cm,omitempty"`
	ReturnRadiusCm        *float64 `json:"return_radius_cm,omitempty"`
	ReachCompleteFraction *float64 `json:"reach_complete_fraction,omitempty"`
	ReachTimeout          *string  `json:"reach_timeout,omitempty"` // duration string like "10s"

	// Fault params
	FaultDebounceFrames *int     `json:"fault_debounce_frames,omitempty"`
	TorsoSlipBaseCm     *float64 `json:"torso_slip_base_cm,omitempty"`
	RotationLimitDeg    *float64 `json:"rotation_limit_deg,omitempty"`
	LateralLeanLimitCm  *float64 `json:"lateral_lean_limit_cm,omitempty"`
	ButtLiftLimitCm     *float64 `json:"butt_lift_limit_cm,omitempty"`
	MomentumLimitCms    *float64 `json:"momentum_limit_cms,omitempty"`

	// Calibration params
	TrunkHeightRatio     *float64 `json:"trunk_height_ratio,omitempty"`
	ScaleDivergenceLimit *float64 `json:"scale_divergence_limit,omitempty"`

	// Session params
	TrialsPerSession  *int     `json:"trials_per_session,omitempty"`
	Cooldown          *string  `json:"cooldown,omitempty"` // duration string like "4s"
	ReachFullCreditCm *float64 `json:"reach_full_credit_cm,omitempty"`

	// Adapter params (optional)
	FrameQueueSize   *int    `json:"frame_queue_size,omitempty"`
	AlertMinInterval *string `json:"alert_min_interval,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file is
// validated to ensure it has a .json extension and is under the max file
// size.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath. It searches for the file in the current directory and
// common parent directories. Panics if the file cannot be loaded, intended
// for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.SmoothingWindow != nil {
		w := *c.SmoothingWindow
		if w < 3 || w%2 == 0 {
			return fmt.Errorf("smoothing_window must be an odd number >= 3, got %d", w)
		}
	}

	if c.MinVisibility != nil {
		if *c.MinVisibility < 0 || *c.MinVisibility > 1 {
			return fmt.Errorf("min_visibility must be between 0 and 1, got %f", *c.MinVisibility)
		}
	}

	if c.ScaleDivergenceLimit != nil && *c.ScaleDivergenceLimit <= 0 {
		return fmt.Errorf("scale_divergence_limit must be positive, got %f", *c.ScaleDivergenceLimit)
	}

	if c.ReachCompleteFraction != nil {
		if *c.ReachCompleteFraction <= 0 || *c.ReachCompleteFraction >= 1 {
			return fmt.Errorf("reach_complete_fraction must be in (0, 1), got %f", *c.ReachCompleteFraction)
		}
	}

	if c.TrialsPerSession != nil && *c.TrialsPerSession < 1 {
		return fmt.Errorf("trials_per_session must be at least 1, got %d", *c.TrialsPerSession)
	}

	for name, v := range map[string]*string{
		"reach_timeout":      c.ReachTimeout,
		"cooldown":           c.Cooldown,
		"alert_min_interval": c.AlertMinInterval,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	return nil
}

// GetSmoothingWindow returns the smoothing_window value or the default.
func (c *TuningConfig) GetSmoothingWindow() int {
	if c.SmoothingWindow == nil {
		return 5
	}
	return *c.SmoothingWindow
}

// GetTeleportSpeedCms returns the teleport_speed_cms value or the default.
func (c *TuningConfig) GetTeleportSpeedCms() float64 {
	if c.TeleportSpeedCms == nil {
		return 500.0
	}
	return *c.TeleportSpeedCms
}

// GetMinVisibility returns the min_visibility value or the default.
func (c *TuningConfig) GetMinVisibility() float64 {
	if c.MinVisibility == nil {
		return 0.5
	}
	return *c.MinVisibility
}

// GetStabilityMinFrames returns the stability_min_frames value or the default.
func (c *TuningConfig) GetStabilityMinFrames() int {
	if c.StabilityMinFrames == nil {
		return 45 // ~1.5s at 30fps
	}
	return *c.StabilityMinFrames
}

// GetStillnessSpeedCms returns the stillness_speed_cms value or the default.
func (c *TuningConfig) GetStillnessSpeedCms() float64 {
	if c.StillnessSpeedCms == nil {
		return 3.0
	}
	return *c.StillnessSpeedCms
}

// GetTriggerSpeedCms returns the trigger_speed_cms value or the default.
func (c *TuningConfig) GetTriggerSpeedCms() float64 {
	if c.TriggerSpeedCms == nil {
		return 15.0
	}
	return *c.TriggerSpeedCms
}

// GetTriggerDistanceCm returns the trigger_distance_cm value or the default.
func (c *TuningConfig) GetTriggerDistanceCm() float64 {
	if c.TriggerDistanceCm == nil {
		return 3.0
	}
	return *c.TriggerDistanceCm
}

// GetAbandonDistanceCm returns the abandon_distance_cm value or the default.
// Negative: the backward displacement past which the neutral anchor is
// considered abandoned and recalibration is required.
func (c *TuningConfig) GetAbandonDistanceCm() float64 {
	if c.AbandonDistanceCm == nil {
		return -5.0
	}
	return *c.AbandonDistanceCm
}

// GetMinValidReachCm returns the min_valid_reach_cm value or the default.
func (c *TuningConfig) GetMinValidReachCm() float64 {
	if c.MinValidReachCm == nil {
		return 5.0
	}
	return *c.MinValidReachCm
}

// GetReturnRadiusCm returns the return_radius_cm value or the default.
func (c *TuningConfig) GetReturnRadiusCm() float64 {
	if c.ReturnRadiusCm == nil {
		return 3.0
	}
	return *c.ReturnRadiusCm
}

// GetReachCompleteFraction returns the reach_complete_fraction value or the default.
func (c *TuningConfig) GetReachCompleteFraction() float64 {
	if c.ReachCompleteFraction == nil {
		return 0.8
	}
	return *c.ReachCompleteFraction
}

// GetReachTimeout parses and returns the ReachTimeout as a time.Duration.
func (c *TuningConfig) GetReachTimeout() time.Duration {
	if c.ReachTimeout == nil || *c.ReachTimeout == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(*c.ReachTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetFaultDebounceFrames returns the fault_debounce_frames value or the default.
func (c *TuningConfig) GetFaultDebounceFrames() int {
	if c.FaultDebounceFrames == nil {
		return 6 // ~200ms at 30fps
	}
	return *c.FaultDebounceFrames
}

// GetTorsoSlipBaseCm returns the torso_slip_base_cm value or the default.
func (c *TuningConfig) GetTorsoSlipBaseCm() float64 {
	if c.TorsoSlipBaseCm == nil {
		return 8.0
	}
	return *c.TorsoSlipBaseCm
}

// GetRotationLimitDeg returns the rotation_limit_deg value or the default.
func (c *TuningConfig) GetRotationLimitDeg() float64 {
	if c.RotationLimitDeg == nil {
		return 25.0
	}
	return *c.RotationLimitDeg
}

// GetLateralLeanLimitCm returns the lateral_lean_limit_cm value or the default.
func (c *TuningConfig) GetLateralLeanLimitCm() float64 {
	if c.LateralLeanLimitCm == nil {
		return 15.0
	}
	return *c.LateralLeanLimitCm
}

// GetButtLiftLimitCm returns the butt_lift_limit_cm value or the default.
func (c *TuningConfig) GetButtLiftLimitCm() float64 {
	if c.ButtLiftLimitCm == nil {
		return 8.0
	}
	return *c.ButtLiftLimitCm
}

// GetMomentumLimitCms returns the momentum_limit_cms value or the default.
func (c *TuningConfig) GetMomentumLimitCms() float64 {
	if c.MomentumLimitCms == nil {
		return 90.0
	}
	return *c.MomentumLimitCms
}

// GetTrunkHeightRatio returns the trunk_height_ratio value or the default.
func (c *TuningConfig) GetTrunkHeightRatio() float64 {
	if c.TrunkHeightRatio == nil {
		return 0.29
	}
	return *c.TrunkHeightRatio
}

// GetScaleDivergenceLimit returns the scale_divergence_limit value or the default.
func (c *TuningConfig) GetScaleDivergenceLimit() float64 {
	if c.ScaleDivergenceLimit == nil {
		return 0.20
	}
	return *c.ScaleDivergenceLimit
}

// GetTrialsPerSession returns the trials_per_session value or the default.
func (c *TuningConfig) GetTrialsPerSession() int {
	if c.TrialsPerSession == nil {
		return 5
	}
	return *c.TrialsPerSession
}

// GetCooldown parses and returns the Cooldown as a time.Duration.
func (c *TuningConfig) GetCooldown() time.Duration {
	if c.Cooldown == nil || *c.Cooldown == "" {
		return 4 * time.Second
	}
	d, err := time.ParseDuration(*c.Cooldown)
	if err != nil {
		return 4 * time.Second
	}
	return d
}

// GetReachFullCreditCm returns the reach_full_credit_cm value or the default.
func (c *TuningConfig) GetReachFullCreditCm() float64 {
	if c.ReachFullCreditCm == nil {
		return 30.0
	}
	return *c.ReachFullCreditCm
}

// GetFrameQueueSize returns the frame_queue_size value or the default.
func (c *TuningConfig) GetFrameQueueSize() int {
	if c.FrameQueueSize == nil {
		return 8
	}
	return *c.FrameQueueSize
}

// GetAlertMinInterval parses and returns the AlertMinInterval as a time.Duration.
func (c *TuningConfig) GetAlertMinInterval() time.Duration {
	if c.AlertMinInterval == nil || *c.AlertMinInterval == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(*c.AlertMinInterval)
	if err != nil {
		return 5 * time.Second
	}
	return d
}
