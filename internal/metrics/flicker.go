package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/servoloop/internal/servo"
)

// BehaviorSwitches is the fraction of cycle transitions where the behavior
// changed. Low values mean the hysteresis is doing its job.
type BehaviorSwitches struct {
	prev     servo.Behavior
	switches int
	samples  int
}

func NewBehaviorSwitches() *BehaviorSwitches { return &BehaviorSwitches{} }

func (b *BehaviorSwitches) Name() string { return "behavior_switches" }

func (b *BehaviorSwitches) Observe(c servo.Cycle) {
	if b.samples > 0 && c.Decision.Behavior != b.prev {
		b.switches++
	}
	b.prev = c.Decision.Behavior
	b.samples++
}

func (b *BehaviorSwitches) Value() float64 {
	if b.samples < 2 {
		return 0
	}
	return float64(b.switches) / float64(b.samples-1)
}

func (b *BehaviorSwitches) Reset() {
	b.prev = 0
	b.switches = 0
	b.samples = 0
}

// AngularJitter is the standard deviation of cycle-to-cycle changes in the
// angular command.
type AngularJitter struct {
	last   float64
	seen   bool
	deltas []float64
}

func NewAngularJitter() *AngularJitter { return &AngularJitter{} }

func (j *AngularJitter) Name() string { return "angular_jitter" }

func (j *AngularJitter) Observe(c servo.Cycle) {
	if j.seen {
		j.deltas = append(j.deltas, c.Signal.Angular-j.last)
	}
	j.last = c.Signal.Angular
	j.seen = true
}

func (j *AngularJitter) Value() float64 {
	if len(j.deltas) < 2 {
		return 0
	}
	return math.Sqrt(stat.PopVariance(j.deltas, nil))
}

func (j *AngularJitter) Reset() {
	j.last = 0
	j.seen = false
	j.deltas = j.deltas[:0]
}

// Default returns the metric set recorded for every run.
func Default(centerMargin float64) []servo.Metric {
	return []servo.Metric{
		NewControlEffort(),
		NewCentering(centerMargin),
		NewTargetLoss(),
		NewBehaviorSwitches(),
		NewAngularJitter(),
	}
}
