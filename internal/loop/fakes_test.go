package loop_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/san-kum/servoloop/internal/control"
	"github.com/san-kum/servoloop/internal/decision"
	"github.com/san-kum/servoloop/internal/estimate"
	"github.com/san-kum/servoloop/internal/loop"
	"github.com/san-kum/servoloop/internal/servo"
)

const frameWidth = 640

// step is one scripted source event: a frame, an error, or a stall that
// only ends when the caller's context does.
type step struct {
	err   error
	stall bool
}

type scriptSource struct {
	steps    []step
	infinite bool
	next     int64
	closed   bool
}

func frames(n int) *scriptSource {
	return &scriptSource{steps: make([]step, n)}
}

func endless() *scriptSource {
	return &scriptSource{infinite: true}
}

func (s *scriptSource) Next(ctx context.Context) (servo.Frame, error) {
	if !s.infinite && s.next >= int64(len(s.steps)) {
		return servo.Frame{}, servo.ErrEndOfStream
	}
	var st step
	if !s.infinite {
		st = s.steps[s.next]
	}
	idx := s.next
	s.next++

	switch {
	case st.stall:
		<-ctx.Done()
		return servo.Frame{}, ctx.Err()
	case st.err != nil:
		return servo.Frame{}, st.err
	}
	return servo.Frame{Index: idx, Timestamp: time.Now(), Width: frameWidth, Height: 480}, nil
}

func (s *scriptSource) Close() error {
	s.closed = true
	return nil
}

// scriptDetector returns fixed detections per frame index.
type scriptDetector struct {
	byFrame map[int64][]servo.Detection
	errs    map[int64]error
	stall   map[int64]bool
}

func detections(byFrame map[int64][]servo.Detection) *scriptDetector {
	return &scriptDetector{byFrame: byFrame, errs: map[int64]error{}, stall: map[int64]bool{}}
}

func (d *scriptDetector) Detect(ctx context.Context, f servo.Frame) ([]servo.Detection, error) {
	if d.stall[f.Index] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := d.errs[f.Index]; err != nil {
		return nil, err
	}
	return d.byFrame[f.Index], nil
}

// boxAt returns a 40px-wide detection centered at cx.
func boxAt(cx float64) []servo.Detection {
	return []servo.Detection{{X: cx - 20, Y: 200, W: 40, H: 40, Confidence: 0.9, Label: "target"}}
}

type recorder struct {
	mu     sync.Mutex
	cycles []servo.Cycle
}

func (r *recorder) Emit(c servo.Cycle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles = append(r.cycles, c)
	return nil
}

func (r *recorder) behaviors() []servo.Behavior {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]servo.Behavior, len(r.cycles))
	for i, c := range r.cycles {
		out[i] = c.Decision.Behavior
	}
	return out
}

var errSinkDown = errors.New("sink down")

type observerFunc func(c servo.Cycle)

func (f observerFunc) OnCycle(c servo.Cycle) { f(c) }

type countMetric struct {
	n      float64
	resets int
}

func (m *countMetric) Name() string          { return "count" }
func (m *countMetric) Observe(c servo.Cycle) { m.n++ }
func (m *countMetric) Value() float64        { return m.n }
func (m *countMetric) Reset() {
	m.n = 0
	m.resets++
}

type fakeTracker struct {
	errAt  map[int64]error
	ok     bool
	box    servo.Detection
	resets int
}

func (t *fakeTracker) Update(prior servo.TargetState, dets []servo.Detection, f servo.Frame) (servo.Detection, bool, error) {
	if err := t.errAt[f.Index]; err != nil {
		return servo.Detection{}, false, err
	}
	return t.box, t.ok, nil
}

func (t *fakeTracker) Reset() { t.resets++ }

// deafSource ignores its context and blocks for delay before the first
// frame, like a device read.
type deafSource struct {
	delay time.Duration
	n     int64
	next  int64
}

func (s *deafSource) Next(ctx context.Context) (servo.Frame, error) {
	if s.next >= s.n {
		return servo.Frame{}, servo.ErrEndOfStream
	}
	idx := s.next
	s.next++
	if idx == 0 {
		time.Sleep(s.delay)
	}
	return servo.Frame{Index: idx, Timestamp: time.Now(), Width: frameWidth, Height: 480}, nil
}

func (s *deafSource) Close() error { return nil }

type stages struct {
	decision decision.Config
	control  control.Config
}

func defaultStages() stages {
	return stages{decision: decision.DefaultConfig(), control: control.DefaultConfig()}
}

func build(src servo.FrameSource, det servo.Detector, st stages, opts ...loop.Option) *loop.Loop {
	eng, err := decision.New(st.decision)
	if err != nil {
		panic(err)
	}
	ctrl, err := control.New(st.control)
	if err != nil {
		panic(err)
	}
	return loop.New(src, det, estimate.New(0), eng, ctrl, opts...)
}
