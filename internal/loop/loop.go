package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/san-kum/servoloop/internal/log"
	"github.com/san-kum/servoloop/internal/servo"
)

// Loop wires the pipeline stages together. A Loop runs one Run at a time.
type Loop struct {
	src     servo.FrameSource
	det     servo.Detector
	est     Estimator
	decider Decider
	ctrl    Controller

	tracker   servo.Tracker
	sinks     []servo.Sink
	metrics   []servo.Metric
	observers []servo.Observer

	frameTimeout  time.Duration
	detectTimeout time.Duration
	cycleInterval time.Duration
	maxCycles     int64

	logger *slog.Logger

	// in-flight FrameSource.Next call; stale once its deadline has passed
	pending chan frameResult
	stale   bool

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	stopped bool
}

func New(src servo.FrameSource, det servo.Detector, est Estimator, decider Decider, ctrl Controller, opts ...Option) *Loop {
	l := &Loop{
		src:       src,
		det:       det,
		est:       est,
		decider:   decider,
		ctrl:      ctrl,
		sinks:     make([]servo.Sink, 0),
		metrics:   make([]servo.Metric, 0),
		observers: make([]servo.Observer, 0),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = log.L()
	}
	return l
}

func (l *Loop) AddSink(s servo.Sink)         { l.sinks = append(l.sinks, s) }
func (l *Loop) AddMetric(m servo.Metric)     { l.metrics = append(l.metrics, m) }
func (l *Loop) AddObserver(o servo.Observer) { l.observers = append(l.observers, o) }

// Stop asks the running loop to terminate after the current cycle.
// It is safe to call from any goroutine, more than once.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopCh != nil && !l.stopped {
		close(l.stopCh)
		l.stopped = true
	}
}

func (l *Loop) validate() error {
	switch {
	case l.src == nil:
		return fmt.Errorf("%w: nil frame source", servo.ErrInvalidConfig)
	case l.det == nil:
		return fmt.Errorf("%w: nil detector", servo.ErrInvalidConfig)
	case l.est == nil:
		return fmt.Errorf("%w: nil estimator", servo.ErrInvalidConfig)
	case l.decider == nil:
		return fmt.Errorf("%w: nil decision engine", servo.ErrInvalidConfig)
	case l.ctrl == nil:
		return fmt.Errorf("%w: nil controller", servo.ErrInvalidConfig)
	case l.frameTimeout < 0:
		return fmt.Errorf("%w: frame timeout must be >= 0, got %s", servo.ErrInvalidConfig, l.frameTimeout)
	case l.detectTimeout < 0:
		return fmt.Errorf("%w: detect timeout must be >= 0, got %s", servo.ErrInvalidConfig, l.detectTimeout)
	case l.cycleInterval < 0:
		return fmt.Errorf("%w: cycle interval must be >= 0, got %s", servo.ErrInvalidConfig, l.cycleInterval)
	case l.maxCycles < 0:
		return fmt.Errorf("%w: max cycles must be >= 0, got %d", servo.ErrInvalidConfig, l.maxCycles)
	}
	return nil
}

// Run executes cycles until the source is exhausted, MaxCycles is reached,
// Stop is called, ctx is canceled or a fatal error occurs. The returned
// Result is always non-nil once the loop has started.
func (l *Loop) Run(ctx context.Context) (*Result, error) {
	if err := l.validate(); err != nil {
		return nil, err
	}

	stopCh, err := l.begin()
	if err != nil {
		return nil, err
	}
	defer l.end()

	// runCtx additionally ends on Stop so a blocked frame wait returns.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	l.decider.Reset()
	l.ctrl.Reset()
	if l.tracker != nil {
		l.tracker.Reset()
	}
	if l.pending != nil {
		l.stale = true
	}
	for _, m := range l.metrics {
		m.Reset()
	}

	r := &run{
		loop:   l,
		stopCh: stopCh,
		result: &Result{Metrics: make(map[string]float64)},
		start:  time.Now(),
		prev:   servo.Search,
	}

	var ticker *time.Ticker
	if l.cycleInterval > 0 {
		ticker = time.NewTicker(l.cycleInterval)
		defer ticker.Stop()
	}

	l.logger.Info("loop started",
		"frame_timeout", l.frameTimeout,
		"detect_timeout", l.detectTimeout,
		"max_cycles", l.maxCycles)

	for {
		select {
		case <-stopCh:
			return r.finish(StateStopped, nil)
		case <-ctx.Done():
			return r.finish(StateCanceled, ctx.Err())
		default:
		}

		if l.maxCycles > 0 && r.result.Cycles >= l.maxCycles {
			return r.finish(StateStopped, nil)
		}

		state, done, err := r.cycle(ctx, runCtx)
		if done {
			return r.finish(state, err)
		}

		if ticker != nil {
			select {
			case <-ticker.C:
			case <-runCtx.Done():
			}
		}
	}
}

func (l *Loop) begin() (chan struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil, errors.New("loop already running")
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.stopped = false
	return l.stopCh, nil
}

func (l *Loop) end() {
	l.mu.Lock()
	l.running = false
	l.mu.Unlock()
}

// run holds the bookkeeping of a single Run call.
type run struct {
	loop   *Loop
	stopCh chan struct{}
	result *Result
	start  time.Time
	prev   servo.Behavior
}

func (r *run) stopRequested() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

// cycle runs one cycle. The bool reports that the loop must terminate with
// the returned state and error.
func (r *run) cycle(ctx, runCtx context.Context) (State, bool, error) {
	l := r.loop

	frame, lost, err := r.acquire(ctx, runCtx)
	if err != nil {
		switch {
		case errors.Is(err, servo.ErrEndOfStream):
			l.logger.Info("frame source exhausted", "cycles", r.result.Cycles)
			return StateStopped, true, nil
		case ctx.Err() != nil:
			return StateCanceled, true, ctx.Err()
		case r.stopRequested():
			return StateStopped, true, nil
		default:
			return StateFailed, true, fmt.Errorf("%w: %w", servo.ErrFrameAcquisition, err)
		}
	}

	target := servo.TargetState{}
	ndets := 0
	frameIndex := int64(-1)

	if lost {
		r.result.Stats.FrameTimeouts++
		l.logger.Info("frame lost", "cycle", r.result.Cycles, "timeout", l.frameTimeout)
	} else {
		frameIndex = frame.Index

		dets, err := r.detect(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return StateCanceled, true, ctx.Err()
			}
			if errors.Is(err, servo.ErrDetectionTimeout) {
				r.result.Stats.DetectionTimeouts++
			} else {
				r.result.Stats.DetectionFailures++
			}
			l.logger.Warn("detection failed", "cycle", r.result.Cycles, "frame", frame.Index, "error", err)
			dets = nil
		}
		ndets = len(dets)

		if l.tracker != nil {
			best, ok, err := l.tracker.Update(r.result.LastTarget, dets, frame)
			switch {
			case err != nil:
				r.result.Stats.TrackerFailures++
				l.logger.Warn("tracker failed", "cycle", r.result.Cycles, "error", err)
				dets = nil
			case ok:
				dets = []servo.Detection{best}
			default:
				dets = nil
			}
		}

		target, err = l.est.Estimate(dets, frame.Width)
		if err != nil {
			return StateFailed, true, err
		}
	}

	decision := l.decider.Step(target)
	signal := l.ctrl.Compute(decision)

	if decision.Behavior == servo.Search && r.prev != servo.Search {
		l.logger.Info("searching", "cycle", r.result.Cycles, "direction", decision.SearchDirection)
	}
	r.prev = decision.Behavior

	c := servo.Cycle{
		Index:      r.result.Cycles,
		FrameIndex: frameIndex,
		FrameLost:  lost,
		Timestamp:  time.Now(),
		Detections: ndets,
		Target:     target,
		Decision:   decision,
		Signal:     signal,
	}

	l.logger.Debug("cycle",
		"cycle", c.Index,
		"frame", c.FrameIndex,
		"present", target.Present,
		"offset", target.Offset,
		"behavior", decision.Behavior,
		"linear", signal.Linear,
		"angular", signal.Angular)

	r.emit(c)
	return 0, false, nil
}

type frameResult struct {
	frame servo.Frame
	err   error
}

// acquire pulls the next frame. lost reports a per-frame timeout with the
// parent context still alive. The wait is bounded even when the source
// ignores its context: a call that outlives its deadline stays pending and
// whatever it returns is discarded by a later cycle.
func (r *run) acquire(ctx, runCtx context.Context) (servo.Frame, bool, error) {
	l := r.loop
	fctx := runCtx
	if l.frameTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(runCtx, l.frameTimeout)
		defer cancel()
	}

	for {
		if l.pending == nil {
			ch := make(chan frameResult, 1)
			go func(ctx context.Context) {
				f, err := l.src.Next(ctx)
				ch <- frameResult{frame: f, err: err}
			}(fctx)
			l.pending = ch
		}

		select {
		case res := <-l.pending:
			l.pending = nil
			if l.stale {
				l.stale = false
				if res.err == nil {
					l.logger.Debug("dropped late frame", "frame", res.frame.Index)
					continue
				}
				if errors.Is(res.err, context.DeadlineExceeded) || errors.Is(res.err, context.Canceled) {
					continue
				}
			}
			if res.err == nil {
				return res.frame, false, nil
			}
			if runCtx.Err() == nil && errors.Is(fctx.Err(), context.DeadlineExceeded) {
				return servo.Frame{}, true, nil
			}
			return servo.Frame{}, false, res.err
		case <-fctx.Done():
			l.stale = true
			if runCtx.Err() == nil && errors.Is(fctx.Err(), context.DeadlineExceeded) {
				return servo.Frame{}, true, nil
			}
			return servo.Frame{}, false, fctx.Err()
		}
	}
}

type detectResult struct {
	dets []servo.Detection
	err  error
}

// detect calls the detector under the detect timeout. A result that arrives
// after the deadline is discarded.
func (r *run) detect(ctx context.Context, f servo.Frame) ([]servo.Detection, error) {
	l := r.loop
	if l.detectTimeout <= 0 {
		return l.det.Detect(ctx, f)
	}

	dctx, cancel := context.WithTimeout(ctx, l.detectTimeout)
	defer cancel()

	ch := make(chan detectResult, 1)
	go func() {
		dets, err := l.det.Detect(dctx, f)
		ch <- detectResult{dets: dets, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil && ctx.Err() == nil && errors.Is(dctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", servo.ErrDetectionTimeout, l.detectTimeout)
		}
		return res.dets, res.err
	case <-dctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", servo.ErrDetectionTimeout, l.detectTimeout)
	}
}

func (r *run) emit(c servo.Cycle) {
	l := r.loop
	for _, s := range l.sinks {
		if err := s.Emit(c); err != nil {
			r.result.Stats.SinkFailures++
			l.logger.Warn("sink emit failed", "cycle", c.Index, "error", err)
		}
	}
	for _, m := range l.metrics {
		m.Observe(c)
	}
	for _, obs := range l.observers {
		obs.OnCycle(c)
	}

	r.result.Cycles++
	r.result.LastSignal = c.Signal
	r.result.LastTarget = c.Target
}

func (r *run) finish(state State, err error) (*Result, error) {
	l := r.loop
	res := r.result
	res.State = state
	res.Duration = time.Since(r.start)
	for _, m := range l.metrics {
		res.Metrics[m.Name()] = m.Value()
	}

	if err == nil {
		l.logger.Info("loop stopped", "state", state, "cycles", res.Cycles, "duration", res.Duration)
		return res, nil
	}

	lerr := &servo.LoopError{
		Kind:       servo.KindOf(err),
		Cycle:      res.Cycles,
		LastSignal: res.LastSignal,
		LastTarget: res.LastTarget,
		Wrapped:    err,
	}
	if state == StateCanceled {
		l.logger.Info("loop canceled", "cycles", res.Cycles)
	} else {
		l.logger.Error("loop failed", "error", lerr)
	}
	return res, lerr
}
