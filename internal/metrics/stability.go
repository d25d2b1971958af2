package metrics

import (
	"math"

	"github.com/san-kum/servoloop/internal/servo"
)

// Centering is the fraction of cycles with a visible target whose offset
// lies inside the margin. Cycles without a target are not counted.
type Centering struct {
	name     string
	margin   float64
	centered int
	samples  int
}

func NewCentering(margin float64) *Centering {
	return &Centering{
		name:   "centering",
		margin: margin,
	}
}

func (s *Centering) Name() string {
	return s.name
}

func (s *Centering) Observe(c servo.Cycle) {
	if !c.Target.Present {
		return
	}
	s.samples++
	if math.Abs(c.Target.Offset) <= s.margin {
		s.centered++
	}
}

func (s *Centering) Value() float64 {
	if s.samples == 0 {
		return 0
	}
	return float64(s.centered) / float64(s.samples)
}

func (s *Centering) Reset() {
	s.centered = 0
	s.samples = 0
}

// TargetLoss is the fraction of cycles without a visible target.
type TargetLoss struct {
	lost    int
	samples int
}

func NewTargetLoss() *TargetLoss { return &TargetLoss{} }

func (l *TargetLoss) Name() string { return "target_loss" }

func (l *TargetLoss) Observe(c servo.Cycle) {
	l.samples++
	if !c.Target.Present {
		l.lost++
	}
}

func (l *TargetLoss) Value() float64 {
	if l.samples == 0 {
		return 0
	}
	return float64(l.lost) / float64(l.samples)
}

func (l *TargetLoss) Reset() {
	l.lost = 0
	l.samples = 0
}
