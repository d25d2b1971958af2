package vision

import (
	"testing"

	"github.com/san-kum/servoloop/internal/servo"
	"github.com/stretchr/testify/assert"
)

func box(x, conf float64) servo.Detection {
	return servo.Detection{X: x, Y: 0, W: 10, H: 10, Confidence: conf}
}

func TestCentroidTracker_FirstPickUsesRanking(t *testing.T) {
	tr := NewCentroidTracker(3, 0)
	got, ok, err := tr.Update(servo.TargetState{}, []servo.Detection{box(0, 0.4), box(100, 0.9)}, servo.Frame{})
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 100.0, got.X)
}

func TestCentroidTracker_FollowsNearest(t *testing.T) {
	tr := NewCentroidTracker(3, 0)
	tr.Update(servo.TargetState{}, []servo.Detection{box(100, 0.9)}, servo.Frame{})

	got, ok, _ := tr.Update(servo.TargetState{}, []servo.Detection{box(400, 0.99), box(110, 0.5)}, servo.Frame{})
	assert.True(t, ok)
	assert.Equal(t, 110.0, got.X)
}

func TestCentroidTracker_HoldsThenLoses(t *testing.T) {
	tr := NewCentroidTracker(3, 0)
	tr.Update(servo.TargetState{}, []servo.Detection{box(50, 0.9)}, servo.Frame{})

	for i := 0; i < 2; i++ {
		got, ok, _ := tr.Update(servo.TargetState{}, nil, servo.Frame{})
		assert.True(t, ok, "miss %d should hold", i+1)
		assert.Equal(t, 50.0, got.X)
	}
	_, ok, _ := tr.Update(servo.TargetState{}, nil, servo.Frame{})
	assert.False(t, ok)

	got, ok, _ := tr.Update(servo.TargetState{}, []servo.Detection{box(300, 0.2), box(10, 0.8)}, servo.Frame{})
	assert.True(t, ok)
	assert.Equal(t, 10.0, got.X, "reacquires by ranking after loss")
}

func TestCentroidTracker_ResetForgetsTarget(t *testing.T) {
	tr := NewCentroidTracker(10, 0)
	_, ok, err := tr.Update(servo.TargetState{}, []servo.Detection{box(100, 0.9)}, servo.Frame{})
	assert.NoError(t, err)
	assert.True(t, ok)

	tr.Reset()
	_, ok, err = tr.Update(servo.TargetState{}, nil, servo.Frame{})
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestCentroidTracker_NoHold(t *testing.T) {
	tr := NewCentroidTracker(0, 0)
	tr.Update(servo.TargetState{}, []servo.Detection{box(50, 0.9)}, servo.Frame{})
	_, ok, _ := tr.Update(servo.TargetState{}, nil, servo.Frame{})
	assert.False(t, ok)
}

func TestCentroidTracker_MinConfidence(t *testing.T) {
	tr := NewCentroidTracker(0, 0.5)
	_, ok, _ := tr.Update(servo.TargetState{}, []servo.Detection{box(50, 0.3)}, servo.Frame{})
	assert.False(t, ok)
}

func TestYOLOConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultYOLOConfig().Validate())

	cfg := DefaultYOLOConfig()
	cfg.Class = "unicorn"
	assert.ErrorIs(t, cfg.Validate(), servo.ErrInvalidConfig)

	cfg = DefaultYOLOConfig()
	cfg.InputWidth = 0
	assert.ErrorIs(t, cfg.Validate(), servo.ErrInvalidConfig)
}
