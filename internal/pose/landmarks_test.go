package pose

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinetic-rehab/reach.report/internal/geom"
)

// testFrame builds a frame with every landmark fully visible and world
// positions laid out for a standing patient.
func testFrame() *Frame {
	f := &Frame{
		Landmarks:   make([]Landmark, NumLandmarks),
		World:       make([]Landmark, NumLandmarks),
		TimestampMs: 1000,
	}
	for i := range f.Landmarks {
		f.Landmarks[i].Visibility = 1.0
	}
	f.World[LeftShoulder] = Landmark{X: -0.18, Y: 1.45}
	f.World[RightShoulder] = Landmark{X: 0.18, Y: 1.45}
	f.World[LeftHip] = Landmark{X: -0.12, Y: 1.10}
	f.World[RightHip] = Landmark{X: 0.12, Y: 1.10}
	f.World[RightElbow] = Landmark{X: 0.22, Y: 1.20}
	f.World[RightWrist] = Landmark{X: 0.24, Y: 1.02}
	f.World[RightIndex] = Landmark{X: 0.25, Y: 0.95}
	return f
}

func TestIndicesFor(t *testing.T) {
	right, err := IndicesFor(SideRight)
	require.NoError(t, err)
	assert.Equal(t, RightShoulder, right.Shoulder)
	assert.Equal(t, RightIndex, right.IndexFinger)
	assert.Equal(t, LeftShoulder, right.OppShoulder)

	left, err := IndicesFor(SideLeft)
	require.NoError(t, err)
	assert.Equal(t, LeftWrist, left.Wrist)
	assert.Equal(t, RightHip, left.OppHip)

	_, err = IndicesFor(Side("BOTH"))
	assert.Error(t, err)
}

func TestFrameValidate(t *testing.T) {
	f := testFrame()
	assert.NoError(t, f.Validate())

	f.World = f.World[:10]
	assert.Error(t, f.Validate())
}

func TestIsTracking(t *testing.T) {
	si, _ := IndicesFor(SideRight)

	t.Run("all visible", func(t *testing.T) {
		assert.True(t, testFrame().IsTracking(si, 0.5))
	})

	t.Run("occluded wrist", func(t *testing.T) {
		f := testFrame()
		f.Landmarks[RightWrist].Visibility = 0.2
		assert.False(t, f.IsTracking(si, 0.5))
	})

	t.Run("occluded opposite hip", func(t *testing.T) {
		f := testFrame()
		f.Landmarks[LeftHip].Visibility = 0.1
		assert.False(t, f.IsTracking(si, 0.5))
	})

	t.Run("short frame", func(t *testing.T) {
		f := testFrame()
		f.Landmarks = f.Landmarks[:5]
		assert.False(t, f.IsTracking(si, 0.5))
	})
}

func TestEndEffector(t *testing.T) {
	si, _ := IndicesFor(SideRight)

	t.Run("index finger visible", func(t *testing.T) {
		f := testFrame()
		assert.Equal(t, f.World[RightIndex].Point(), f.EndEffector(si, 0.5))
	})

	t.Run("index occluded extrapolates forearm", func(t *testing.T) {
		f := testFrame()
		f.Landmarks[RightIndex].Visibility = 0.1
		got := f.EndEffector(si, 0.5)

		wrist := f.World[RightWrist].Point()
		elbow := f.World[RightElbow].Point()
		want := wrist.Add(wrist.Sub(elbow).Scale(0.35))
		assert.InDelta(t, want.X, got.X, 1e-12)
		assert.InDelta(t, want.Y, got.Y, 1e-12)
		// Fingertip estimate extends past the wrist, away from the elbow.
		assert.Less(t, got.Y, wrist.Y)
	})
}

func TestTrunkAndMidpoints(t *testing.T) {
	si, _ := IndicesFor(SideRight)
	f := testFrame()

	want := geom.TrunkSnapshot{
		LeftShoulder:   f.World[LeftShoulder].Point(),
		RightShoulder:  f.World[RightShoulder].Point(),
		LeftHip:        f.World[LeftHip].Point(),
		RightHip:       f.World[RightHip].Point(),
		ActiveShoulder: f.World[RightShoulder].Point(),
		ActiveWrist:    f.World[RightWrist].Point(),
	}
	if diff := cmp.Diff(want, f.Trunk(si)); diff != "" {
		t.Errorf("trunk snapshot mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, geom.Vec3{X: 0, Y: 1.10}, f.MidHip())
	assert.Equal(t, geom.Vec3{X: 0, Y: 1.45}, f.MidShoulder())
}
