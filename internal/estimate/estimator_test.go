package estimate

import (
	"math"
	"testing"

	"github.com/san-kum/servoloop/internal/servo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func box(cx, w, conf float64) servo.Detection {
	return servo.Detection{X: cx - w/2, Y: 0, W: w, H: w, Confidence: conf}
}

func TestEstimate_Empty(t *testing.T) {
	st, err := New(0).Estimate(nil, 640)
	require.NoError(t, err)
	assert.Equal(t, servo.TargetState{}, st)
}

func TestEstimate_InvalidWidth(t *testing.T) {
	for _, w := range []int{0, -1, -640} {
		_, err := New(0).Estimate([]servo.Detection{box(10, 4, 0.9)}, w)
		assert.ErrorIs(t, err, servo.ErrInvalidInput, "width %d", w)
	}
}

func TestEstimate_Offset(t *testing.T) {
	tests := []struct {
		name   string
		cx     float64
		offset float64
	}{
		{"centered", 320, 0},
		{"left edge", 0, -1},
		{"right edge", 640, 1},
		{"scenario left", 100, (100.0 - 320.0) / 320.0},
		{"quarter right", 480, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := New(0).Estimate([]servo.Detection{box(tt.cx, 20, 0.8)}, 640)
			require.NoError(t, err)
			assert.True(t, st.Present)
			assert.InDelta(t, tt.offset, st.Offset, 1e-9)
			assert.Equal(t, 0.8, st.Confidence)
		})
	}
}

func TestEstimate_ClampsOutsideFrame(t *testing.T) {
	st, err := New(0).Estimate([]servo.Detection{box(-500, 10, 0.5)}, 640)
	require.NoError(t, err)
	assert.Equal(t, -1.0, st.Offset)

	st, err = New(0).Estimate([]servo.Detection{box(2000, 10, 0.5)}, 640)
	require.NoError(t, err)
	assert.Equal(t, 1.0, st.Offset)
}

func TestSelect_TieBreaks(t *testing.T) {
	tests := []struct {
		name string
		dets []servo.Detection
		want int
	}{
		{"confidence wins", []servo.Detection{box(100, 50, 0.6), box(500, 10, 0.9)}, 1},
		{"area breaks confidence tie", []servo.Detection{box(100, 10, 0.7), box(500, 30, 0.7)}, 1},
		{"input order breaks full tie", []servo.Detection{box(100, 20, 0.7), box(500, 20, 0.7), box(300, 20, 0.7)}, 0},
		{"later larger after equal pair", []servo.Detection{box(100, 20, 0.7), box(200, 20, 0.7), box(300, 21, 0.7)}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := New(0).Select(tt.dets)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelect_MinConfidence(t *testing.T) {
	est := New(0.5)
	dets := []servo.Detection{box(100, 20, 0.3), box(500, 20, 0.45)}

	_, ok := est.Select(dets)
	assert.False(t, ok)

	st, err := est.Estimate(dets, 640)
	require.NoError(t, err)
	assert.False(t, st.Present)
}

func TestEstimate_Deterministic(t *testing.T) {
	dets := []servo.Detection{box(100, 20, 0.7), box(500, 20, 0.7), box(300, 40, 0.7)}
	est := New(0)

	first, err := est.Estimate(dets, 640)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := est.Estimate(dets, 640)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.InDelta(t, (300.0-320.0)/320.0, first.Offset, 1e-9)
	assert.False(t, math.IsNaN(first.Offset))
}
