package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestEmptyConfigReturnsDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	assert.Equal(t, 5, cfg.GetSmoothingWindow())
	assert.Equal(t, 500.0, cfg.GetTeleportSpeedCms())
	assert.Equal(t, 45, cfg.GetStabilityMinFrames())
	assert.Equal(t, 6, cfg.GetFaultDebounceFrames())
	assert.Equal(t, 8.0, cfg.GetTorsoSlipBaseCm())
	assert.Equal(t, 25.0, cfg.GetRotationLimitDeg())
	assert.Equal(t, 15.0, cfg.GetLateralLeanLimitCm())
	assert.Equal(t, 8.0, cfg.GetButtLiftLimitCm())
	assert.Equal(t, 90.0, cfg.GetMomentumLimitCms())
	assert.Equal(t, 0.29, cfg.GetTrunkHeightRatio())
	assert.Equal(t, 0.20, cfg.GetScaleDivergenceLimit())
	assert.Equal(t, 5, cfg.GetTrialsPerSession())
	assert.Equal(t, 30.0, cfg.GetReachFullCreditCm())
	assert.Equal(t, "10s", cfg.GetReachTimeout().String())
	assert.Equal(t, "4s", cfg.GetCooldown().String())
	assert.Equal(t, "5s", cfg.GetAlertMinInterval().String())
}

func TestLoadTuningConfig(t *testing.T) {
	t.Run("partial config keeps defaults", func(t *testing.T) {
		path := writeConfig(t, `{"smoothing_window": 7, "momentum_limit_cms": 120}`)
		cfg, err := LoadTuningConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.GetSmoothingWindow())
		assert.Equal(t, 120.0, cfg.GetMomentumLimitCms())
		// Untouched field falls back to the default.
		assert.Equal(t, 25.0, cfg.GetRotationLimitDeg())
	})

	t.Run("rejects non-json extension", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tuning.yaml")
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
		_, err := LoadTuningConfig(path)
		assert.Error(t, err)
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		path := writeConfig(t, `{"smoothing_window": `)
		_, err := LoadTuningConfig(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadTuningConfig(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr bool
	}{
		{"even smoothing window", `{"smoothing_window": 4}`, true},
		{"window too small", `{"smoothing_window": 1}`, true},
		{"visibility out of range", `{"min_visibility": 1.5}`, true},
		{"negative divergence limit", `{"scale_divergence_limit": -0.1}`, true},
		{"complete fraction at bound", `{"reach_complete_fraction": 1.0}`, true},
		{"zero trials", `{"trials_per_session": 0}`, true},
		{"bad duration", `{"cooldown": "soonish"}`, true},
		{"valid", `{"smoothing_window": 7, "cooldown": "3s", "reach_complete_fraction": 0.75}`, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.json)
			_, err := LoadTuningConfig(path)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	// Runs from internal/config; defaults file is two levels up.
	cfg := MustLoadDefaultConfig()
	assert.Equal(t, 5, cfg.GetSmoothingWindow())
	assert.Equal(t, 5, cfg.GetTrialsPerSession())
}
