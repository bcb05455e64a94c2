package timing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(f float64) *float64 { return &f }

func TestComputeDefaults(t *testing.T) {
	s := Compute(nil, nil, nil)
	assert.Equal(t, Scenes{Scene1Frames: 150, Scene2Frames: 150, Scene3Frames: 180}, s)
	assert.Equal(t, 570, s.TotalFrames())
}

func TestComputeFromDurations(t *testing.T) {
	s := Compute(ptr(8.2), ptr(4), ptr(10))
	assert.Equal(t, 246, s.Scene2Frames)
	assert.Equal(t, 150, s.Scene1Frames) // 120 + 30
	assert.Equal(t, 345, s.Scene3Frames) // 300 + 45
}

func TestComputeMinimums(t *testing.T) {
	s := Compute(ptr(0), ptr(0.5), ptr(1))
	assert.Equal(t, 0, s.Scene2Frames)
	assert.Equal(t, 120, s.Scene1Frames)
	assert.Equal(t, 150, s.Scene3Frames)
}

func TestComputeMonotonic(t *testing.T) {
	prev1, prev3 := 0, 0
	for d := 0.0; d <= 30; d += 0.25 {
		s := Compute(nil, ptr(d), ptr(d))
		assert.GreaterOrEqual(t, s.Scene1Frames, 120)
		assert.GreaterOrEqual(t, s.Scene3Frames, 150)
		assert.GreaterOrEqual(t, s.Scene1Frames, prev1)
		assert.GreaterOrEqual(t, s.Scene3Frames, prev3)
		prev1, prev3 = s.Scene1Frames, s.Scene3Frames
	}
}
