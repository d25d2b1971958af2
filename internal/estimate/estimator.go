// Package estimate maps detections to a normalized horizontal target offset.
package estimate

import (
	"fmt"

	"github.com/san-kum/servoloop/internal/servo"
)

// Estimator selects the best detection and normalizes its horizontal position.
// It holds no state across calls.
type Estimator struct {
	MinConfidence float64
}

func New(minConfidence float64) *Estimator {
	return &Estimator{MinConfidence: minConfidence}
}

// Estimate returns the target state for one frame. An empty (or fully
// filtered) detection set yields an absent target.
func (e *Estimator) Estimate(dets []servo.Detection, frameWidth int) (servo.TargetState, error) {
	if frameWidth <= 0 {
		return servo.TargetState{}, fmt.Errorf("%w: frame width %d", servo.ErrInvalidInput, frameWidth)
	}

	idx, ok := e.Select(dets)
	if !ok {
		return servo.TargetState{}, nil
	}
	best := dets[idx]

	half := float64(frameWidth) / 2
	cx, _ := best.Center()
	offset := clamp((cx-half)/half, -1, 1)

	return servo.TargetState{
		Present:    true,
		Offset:     offset,
		Confidence: best.Confidence,
	}, nil
}

// Select returns the index of the best detection: highest confidence, then
// largest area, then earliest position in dets.
func (e *Estimator) Select(dets []servo.Detection) (int, bool) {
	best := -1
	for i, d := range dets {
		if d.Confidence < e.MinConfidence {
			continue
		}
		if best < 0 || better(d, dets[best]) {
			best = i
		}
	}
	return best, best >= 0
}

// better reports whether a strictly beats b. Equal candidates keep the earlier one.
func better(a, b servo.Detection) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.Area() > b.Area()
}

// clamp keeps value inside [lo, hi].
func clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
