package metrics

import (
	"math"
	"testing"

	"github.com/san-kum/servoloop/internal/servo"
)

func cycle(b servo.Behavior, present bool, offset, linear, angular float64) servo.Cycle {
	return servo.Cycle{
		Target:   servo.TargetState{Present: present, Offset: offset},
		Decision: servo.Decision{Behavior: b},
		Signal:   servo.ControlSignal{Linear: linear, Angular: angular},
	}
}

var run = []servo.Cycle{
	cycle(servo.RotateLeft, true, -0.5, 0, 0.4),
	cycle(servo.Forward, true, 0.1, 0.5, 0),
	cycle(servo.Forward, false, 0, 0.5, 0),
	cycle(servo.Search, false, 0, 0, -0.2),
}

func observeAll(m servo.Metric) float64 {
	for _, c := range run {
		m.Observe(c)
	}
	return m.Value()
}

func TestMetrics(t *testing.T) {
	tests := []struct {
		name   string
		metric servo.Metric
		want   float64
	}{
		{"control_effort", NewControlEffort(), (0.4 + 0.5 + 0.5 + 0.2) / 4},
		{"centering", NewCentering(0.15), 0.5},
		{"target_loss", NewTargetLoss(), 0.5},
		{"behavior_switches", NewBehaviorSwitches(), 2.0 / 3.0},
		// deltas: -0.4, 0, -0.2; mean -0.2
		{"angular_jitter", NewAngularJitter(), math.Sqrt((0.04 + 0.04 + 0) / 3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric.Name() != tt.name {
				t.Errorf("Name() = %q, want %q", tt.metric.Name(), tt.name)
			}
			if got := observeAll(tt.metric); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Value() = %v, want %v", got, tt.want)
			}

			tt.metric.Reset()
			if got := observeAll(tt.metric); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Value() after Reset = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMetrics_Empty(t *testing.T) {
	for _, m := range Default(0.15) {
		if v := m.Value(); v != 0 {
			t.Errorf("%s: empty Value() = %v, want 0", m.Name(), v)
		}
	}
}

func TestDefault_UniqueNames(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range Default(0.15) {
		if seen[m.Name()] {
			t.Errorf("duplicate metric name %q", m.Name())
		}
		seen[m.Name()] = true
	}
}
