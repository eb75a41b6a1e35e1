package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		reachCm float64
		faulted bool
		want    float64
	}{
		{"full credit clean", 30, false, 100},
		{"full credit with fault", 30, true, 50},
		{"half reach clean", 15, false, 75},
		{"zero reach clean", 0, false, 50},
		{"zero reach with fault", 0, true, 0},
		{"beyond full credit caps at 50", 90, false, 100},
		{"negative reach clamps to zero", -10, false, 50},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, Score(tc.reachCm, tc.faulted, 30), 1e-9)
		})
	}
}

func TestScoreAlwaysBounded(t *testing.T) {
	// For any reach and fault state the composite stays in [0, 100].
	for _, reach := range []float64{-1e9, -1, 0, 0.1, 29.9, 30, 1e9, math.Inf(1)} {
		for _, faulted := range []bool{true, false} {
			s := Score(reach, faulted, 30)
			assert.GreaterOrEqual(t, s, 0.0, "reach=%v faulted=%v", reach, faulted)
			assert.LessOrEqual(t, s, 100.0, "reach=%v faulted=%v", reach, faulted)
		}
	}
}

func TestScoreDefaultsFullCredit(t *testing.T) {
	// Non-positive full-credit distance falls back to the 30cm default.
	assert.InDelta(t, 100.0, Score(30, false, 0), 1e-9)
	assert.InDelta(t, 100.0, Score(30, false, -5), 1e-9)
}
