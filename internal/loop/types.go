package loop

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/san-kum/servoloop/internal/servo"
)

// Estimator turns the cycle's detections into a target state.
type Estimator interface {
	Estimate(dets []servo.Detection, frameWidth int) (servo.TargetState, error)
}

// Decider owns the hysteresis state across cycles.
type Decider interface {
	Step(ts servo.TargetState) servo.Decision
	Reset()
}

// Controller maps a decision to a bounded signal.
type Controller interface {
	Compute(d servo.Decision) servo.ControlSignal
	Reset()
}

// State is the terminal state of a Run.
type State int

const (
	StateStopped State = iota
	StateFailed
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	case StateCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "stopped":
		*s = StateStopped
	case "failed":
		*s = StateFailed
	case "canceled":
		*s = StateCanceled
	default:
		return fmt.Errorf("unknown loop state %q", text)
	}
	return nil
}

// Stats counts absorbed failures.
type Stats struct {
	FrameTimeouts     int64 `json:"frame_timeouts"`
	DetectionTimeouts int64 `json:"detection_timeouts"`
	DetectionFailures int64 `json:"detection_failures"`
	TrackerFailures   int64 `json:"tracker_failures"`
	SinkFailures      int64 `json:"sink_failures"`
}

type Result struct {
	Cycles     int64               `json:"cycles"`
	State      State               `json:"state"`
	LastSignal servo.ControlSignal `json:"last_signal"`
	LastTarget servo.TargetState   `json:"last_target"`
	Stats      Stats               `json:"stats"`
	Metrics    map[string]float64  `json:"metrics"`
	Duration   time.Duration       `json:"duration"`
}

// Option configures a Loop.
type Option func(*Loop)

func WithTracker(t servo.Tracker) Option {
	return func(l *Loop) { l.tracker = t }
}

func WithSinks(sinks ...servo.Sink) Option {
	return func(l *Loop) { l.sinks = append(l.sinks, sinks...) }
}

func WithMetrics(metrics ...servo.Metric) Option {
	return func(l *Loop) { l.metrics = append(l.metrics, metrics...) }
}

func WithObservers(obs ...servo.Observer) Option {
	return func(l *Loop) { l.observers = append(l.observers, obs...) }
}

// WithFrameTimeout bounds each FrameSource.Next call. Zero waits forever.
func WithFrameTimeout(d time.Duration) Option {
	return func(l *Loop) { l.frameTimeout = d }
}

// WithDetectTimeout bounds each Detector.Detect call. Zero waits forever.
func WithDetectTimeout(d time.Duration) Option {
	return func(l *Loop) { l.detectTimeout = d }
}

// WithMaxCycles stops the loop after n cycles. Zero means unbounded.
func WithMaxCycles(n int64) Option {
	return func(l *Loop) { l.maxCycles = n }
}

// WithCycleInterval paces cycles to at most one per interval.
func WithCycleInterval(d time.Duration) Option {
	return func(l *Loop) { l.cycleInterval = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}
