package vision

import (
	"math"

	"github.com/san-kum/servoloop/internal/estimate"
	"github.com/san-kum/servoloop/internal/servo"
)

// DefaultHoldFrames is how long a tracker reports the last known box
// after the target disappears.
const DefaultHoldFrames = 10

// CentroidTracker follows one target by nearest center. While the target is
// missing it keeps reporting the last box for Hold-1 frames; the Hold-th
// consecutive miss drops it.
type CentroidTracker struct {
	Hold int

	selector *estimate.Estimator
	last     servo.Detection
	hasLast  bool
	lost     int
}

func NewCentroidTracker(hold int, minConfidence float64) *CentroidTracker {
	return &CentroidTracker{
		Hold:     hold,
		selector: estimate.New(minConfidence),
	}
}

func (t *CentroidTracker) Update(prior servo.TargetState, dets []servo.Detection, f servo.Frame) (servo.Detection, bool, error) {
	idx, ok := t.pick(dets)
	if ok {
		t.last = dets[idx]
		t.hasLast = true
		t.lost = 0
		return t.last, true, nil
	}

	t.lost++
	if t.lost >= t.Hold {
		t.hasLast = false
	}
	if !t.hasLast {
		return servo.Detection{}, false, nil
	}
	return t.last, true, nil
}

// pick prefers the detection nearest the last tracked center, falling back
// to the estimator's ranking when nothing has been tracked yet.
func (t *CentroidTracker) pick(dets []servo.Detection) (int, bool) {
	if !t.hasLast {
		return t.selector.Select(dets)
	}

	lx, ly := t.last.Center()
	best, bestDist := -1, math.Inf(1)
	for i, d := range dets {
		if d.Confidence < t.selector.MinConfidence {
			continue
		}
		cx, cy := d.Center()
		dist := math.Hypot(cx-lx, cy-ly)
		if dist < bestDist {
			best, bestDist = i, dist
		}
	}
	return best, best >= 0
}

// Reset forgets the tracked target.
func (t *CentroidTracker) Reset() {
	t.last = servo.Detection{}
	t.hasLast = false
	t.lost = 0
}
