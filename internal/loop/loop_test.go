package loop_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/servoloop/internal/loop"
	"github.com/san-kum/servoloop/internal/servo"
	"github.com/san-kum/servoloop/internal/vision"
)

var _ = Describe("Loop", func() {
	var (
		ctx context.Context
		rec *recorder
	)

	BeforeEach(func() {
		ctx = context.Background()
		rec = &recorder{}
	})

	Describe("end-to-end scenarios", func() {
		It("rotates left toward a target at x=100 in a 640px frame", func() {
			det := detections(map[int64][]servo.Detection{0: boxAt(100)})
			l := build(frames(1), det, defaultStages(), loop.WithSinks(rec))

			res, err := l.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Cycles).To(Equal(int64(1)))

			c := rec.cycles[0]
			Expect(c.Target.Present).To(BeTrue())
			Expect(c.Target.Offset).To(BeNumerically("~", (100.0-320.0)/320.0, 1e-9))
			Expect(c.Decision.Behavior).To(Equal(servo.RotateLeft))
			Expect(c.Decision.SearchDirection).To(Equal(servo.DirLeft))
			Expect(c.Signal).To(Equal(servo.ControlSignal{Linear: 0, Angular: 0.4}))
		})

		It("coasts on FORWARD for two lost cycles and searches on the third", func() {
			det := detections(map[int64][]servo.Detection{0: boxAt(320)})
			l := build(frames(4), det, defaultStages(), loop.WithSinks(rec))

			_, err := l.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.behaviors()).To(Equal([]servo.Behavior{
				servo.Forward, servo.Forward, servo.Forward, servo.Search,
			}))
			Expect(rec.cycles[1].Target.Present).To(BeFalse())
		})

		It("clamps a misconfigured rotate speed to max_angular", func() {
			st := defaultStages()
			st.control.MaxAngular = 0.5
			st.control.RotateSpeed = 2.0
			det := detections(map[int64][]servo.Detection{0: boxAt(100)})
			l := build(frames(1), det, st, loop.WithSinks(rec))

			res, err := l.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.cycles[0].Decision.Behavior).To(Equal(servo.RotateLeft))
			Expect(res.LastSignal).To(Equal(servo.ControlSignal{Linear: 0, Angular: 0.5}))
		})

		It("searches toward the side the target left from", func() {
			st := defaultStages()
			st.decision.LossPatience = 1
			det := detections(map[int64][]servo.Detection{0: boxAt(600)})
			l := build(frames(2), det, st, loop.WithSinks(rec))

			_, err := l.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.behaviors()).To(Equal([]servo.Behavior{servo.RotateRight, servo.Search}))
			Expect(rec.cycles[1].Signal.Angular).To(BeNumerically("<", 0))
		})
	})

	Describe("termination", func() {
		It("stops cleanly at end of stream", func() {
			src := frames(3)
			l := build(src, detections(nil), defaultStages(), loop.WithSinks(rec))

			res, err := l.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.State).To(Equal(loop.StateStopped))
			Expect(res.Cycles).To(Equal(int64(3)))
			Expect(rec.cycles).To(HaveLen(3))
		})

		It("honors MaxCycles", func() {
			l := build(endless(), detections(nil), defaultStages(), loop.WithSinks(rec), loop.WithMaxCycles(5))

			res, err := l.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Cycles).To(Equal(int64(5)))
		})

		It("fails with frame acquisition errors and reports the last state", func() {
			src := frames(3)
			src.steps[2] = step{err: errors.New("camera unplugged")}
			det := detections(map[int64][]servo.Detection{0: boxAt(100), 1: boxAt(100)})
			l := build(src, det, defaultStages(), loop.WithSinks(rec))

			res, err := l.Run(ctx)
			Expect(err).To(MatchError(servo.ErrFrameAcquisition))
			Expect(res.State).To(Equal(loop.StateFailed))

			var lerr *servo.LoopError
			Expect(errors.As(err, &lerr)).To(BeTrue())
			Expect(lerr.Kind).To(Equal(servo.KindFrameAcquisition))
			Expect(lerr.Cycle).To(Equal(int64(2)))
			Expect(lerr.LastSignal.Angular).To(BeNumerically("~", 0.4))
			Expect(lerr.LastTarget.Present).To(BeTrue())
			Expect(rec.cycles).To(HaveLen(2))
		})

		It("fails on invalid frame geometry", func() {
			src := &zeroWidthSource{}
			l := build(src, detections(nil), defaultStages(), loop.WithSinks(rec))

			res, err := l.Run(ctx)
			Expect(err).To(MatchError(servo.ErrInvalidInput))
			Expect(servo.KindOf(err)).To(Equal(servo.KindInvalidInput))
			Expect(res.State).To(Equal(loop.StateFailed))
			Expect(rec.cycles).To(BeEmpty())
		})

		It("stops between cycles when Stop is called", func() {
			var l *loop.Loop
			stopper := observerFunc(func(c servo.Cycle) {
				if c.Index == 1 {
					l.Stop()
				}
			})
			l = build(endless(), detections(nil), defaultStages(), loop.WithSinks(rec), loop.WithObservers(stopper))

			res, err := l.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.State).To(Equal(loop.StateStopped))
			Expect(res.Cycles).To(Equal(int64(2)))
			Expect(rec.cycles).To(HaveLen(2))
		})

		It("unblocks a stalled frame wait on Stop", func() {
			src := frames(2)
			src.steps[1] = step{stall: true}
			var l *loop.Loop
			stopper := observerFunc(func(c servo.Cycle) {
				go func() {
					time.Sleep(10 * time.Millisecond)
					l.Stop()
				}()
			})
			l = build(src, detections(nil), defaultStages(), loop.WithSinks(rec), loop.WithObservers(stopper))

			res, err := l.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.State).To(Equal(loop.StateStopped))
			Expect(res.Cycles).To(Equal(int64(1)))
		})

		It("reports cancellation without a partial cycle", func() {
			cctx, cancel := context.WithCancel(ctx)
			defer cancel()
			canceler := observerFunc(func(c servo.Cycle) {
				if c.Index == 2 {
					cancel()
				}
			})
			l := build(endless(), detections(nil), defaultStages(), loop.WithSinks(rec), loop.WithObservers(canceler))

			res, err := l.Run(cctx)
			Expect(err).To(MatchError(context.Canceled))
			Expect(servo.KindOf(err)).To(Equal(servo.KindCanceled))
			Expect(res.State).To(Equal(loop.StateCanceled))
			Expect(res.Cycles).To(Equal(int64(3)))
			Expect(rec.cycles).To(HaveLen(3))
		})

		It("reports the terminal state in JSON", func() {
			l := build(frames(1), detections(nil), defaultStages())
			res, err := l.Run(ctx)
			Expect(err).NotTo(HaveOccurred())

			data, err := json.Marshal(res)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(`"state":"stopped"`))

			var decoded loop.Result
			Expect(json.Unmarshal(data, &decoded)).To(Succeed())
			Expect(decoded.State).To(Equal(loop.StateStopped))
		})

		It("rejects missing collaborators before starting", func() {
			l := build(nil, detections(nil), defaultStages())
			res, err := l.Run(ctx)
			Expect(err).To(MatchError(servo.ErrInvalidConfig))
			Expect(res).To(BeNil())
		})

		It("rejects negative timeouts", func() {
			l := build(frames(1), detections(nil), defaultStages(), loop.WithFrameTimeout(-time.Second))
			_, err := l.Run(ctx)
			Expect(err).To(MatchError(servo.ErrInvalidConfig))
		})
	})

	Describe("absorbed failures", func() {
		It("emits a frame-lost cycle when a frame misses its deadline", func() {
			src := frames(2)
			src.steps[0] = step{stall: true}
			l := build(src, detections(nil), defaultStages(),
				loop.WithSinks(rec), loop.WithFrameTimeout(20*time.Millisecond))

			res, err := l.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Stats.FrameTimeouts).To(Equal(int64(1)))
			Expect(rec.cycles).To(HaveLen(2))

			lost := rec.cycles[0]
			Expect(lost.FrameLost).To(BeTrue())
			Expect(lost.FrameIndex).To(Equal(int64(-1)))
			Expect(lost.Target.Present).To(BeFalse())
			Expect(lost.Decision.Behavior).To(Equal(servo.Search))
			Expect(rec.cycles[1].FrameIndex).To(Equal(int64(1)))
		})

		It("bounds the frame wait when the source ignores its context", func() {
			src := &deafSource{delay: 150 * time.Millisecond, n: 3}
			l := build(src, detections(nil), defaultStages(),
				loop.WithSinks(rec), loop.WithFrameTimeout(20*time.Millisecond))

			start := time.Now()
			res, err := l.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Stats.FrameTimeouts).To(BeNumerically(">=", 1))

			first := rec.cycles[0]
			Expect(first.FrameLost).To(BeTrue())
			Expect(first.Timestamp.Sub(start)).To(BeNumerically("<", 100*time.Millisecond))

			var delivered []int64
			for _, c := range rec.cycles {
				if !c.FrameLost {
					delivered = append(delivered, c.FrameIndex)
				}
			}
			Expect(delivered).To(Equal([]int64{1, 2}), "the late frame is dropped")
		})

		It("counts detector errors and treats them as no detections", func() {
			det := detections(map[int64][]servo.Detection{1: boxAt(320)})
			det.errs[0] = errors.New("model crashed")
			l := build(frames(2), det, defaultStages(), loop.WithSinks(rec))

			res, err := l.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Stats.DetectionFailures).To(Equal(int64(1)))
			Expect(rec.cycles[0].Target.Present).To(BeFalse())
			Expect(rec.cycles[1].Decision.Behavior).To(Equal(servo.Forward))
		})

		It("counts detector timeouts", func() {
			det := detections(map[int64][]servo.Detection{1: boxAt(320)})
			det.stall[0] = true
			l := build(frames(2), det, defaultStages(),
				loop.WithSinks(rec), loop.WithDetectTimeout(20*time.Millisecond))

			res, err := l.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Stats.DetectionTimeouts).To(Equal(int64(1)))
			Expect(res.Stats.DetectionFailures).To(BeZero())
			Expect(rec.cycles).To(HaveLen(2))
		})

		It("discards late results from detectors that ignore their context", func() {
			slow := &slowDetector{delay: 200 * time.Millisecond, dets: boxAt(320)}
			l := build(frames(1), slow, defaultStages(),
				loop.WithSinks(rec), loop.WithDetectTimeout(10*time.Millisecond))

			res, err := l.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Stats.DetectionTimeouts).To(Equal(int64(1)))
			Expect(rec.cycles[0].Detections).To(BeZero())
		})

		It("keeps running when a sink fails", func() {
			failing := servo.SinkFunc(func(servo.Cycle) error { return errSinkDown })
			l := build(frames(3), detections(nil), defaultStages(), loop.WithSinks(failing, rec))

			res, err := l.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Stats.SinkFailures).To(Equal(int64(3)))
			Expect(rec.cycles).To(HaveLen(3))
		})

		It("uses the tracker's box", func() {
			tr := &fakeTracker{ok: true, box: boxAt(100)[0]}
			det := detections(map[int64][]servo.Detection{0: boxAt(320)})
			l := build(frames(1), det, defaultStages(), loop.WithSinks(rec), loop.WithTracker(tr))

			_, err := l.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.cycles[0].Decision.Behavior).To(Equal(servo.RotateLeft))
			Expect(tr.resets).To(Equal(1))
		})

		It("treats a tracker failure as no detections", func() {
			tr := &fakeTracker{
				ok:    true,
				box:   boxAt(100)[0],
				errAt: map[int64]error{1: errors.New("lost identity")},
			}
			det := detections(map[int64][]servo.Detection{0: boxAt(320), 1: boxAt(80)})
			l := build(frames(2), det, defaultStages(), loop.WithSinks(rec), loop.WithTracker(tr))

			res, err := l.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Stats.TrackerFailures).To(Equal(int64(1)))
			Expect(rec.cycles[1].Target.Present).To(BeFalse())
			Expect(rec.behaviors()).To(Equal([]servo.Behavior{servo.RotateLeft, servo.RotateLeft}))
		})

		It("starts every run with a fresh tracker", func() {
			tr := vision.NewCentroidTracker(10, 0)
			det := detections(map[int64][]servo.Detection{0: boxAt(100)})
			src := frames(1)
			l := build(src, det, defaultStages(), loop.WithSinks(rec), loop.WithTracker(tr))
			_, err := l.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.cycles[0].Target.Present).To(BeTrue())

			src.steps = make([]step, 1)
			src.next = 0
			det.byFrame = nil
			rec.cycles = nil
			_, err = l.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.cycles[0].Target.Present).To(BeFalse())
			Expect(rec.behaviors()).To(Equal([]servo.Behavior{servo.Search}))
		})
	})

	Describe("metrics and pacing", func() {
		It("resets metrics on start and reports their values", func() {
			m := &countMetric{n: 42}
			l := build(frames(4), detections(nil), defaultStages(), loop.WithMetrics(m))

			res, err := l.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.resets).To(Equal(1))
			Expect(res.Metrics).To(HaveKeyWithValue("count", 4.0))
		})

		It("paces cycles to the configured interval", func() {
			l := build(frames(3), detections(nil), defaultStages(), loop.WithCycleInterval(15*time.Millisecond))

			start := time.Now()
			_, err := l.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(time.Since(start)).To(BeNumerically(">=", 30*time.Millisecond))
		})

		It("restarts decision state on every run", func() {
			det := detections(map[int64][]servo.Detection{0: boxAt(600)})
			src := frames(1)
			l := build(src, det, defaultStages(), loop.WithSinks(rec))
			_, err := l.Run(ctx)
			Expect(err).NotTo(HaveOccurred())

			src.steps = make([]step, 2)
			src.next = 0
			det.byFrame = nil
			rec.cycles = nil
			_, err = l.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.behaviors()).To(Equal([]servo.Behavior{servo.Search, servo.Search}))
			Expect(rec.cycles[0].Decision.SearchDirection).To(Equal(servo.DirNone))
		})
	})
})

type zeroWidthSource struct{ done bool }

func (s *zeroWidthSource) Next(ctx context.Context) (servo.Frame, error) {
	if s.done {
		return servo.Frame{}, servo.ErrEndOfStream
	}
	s.done = true
	return servo.Frame{Index: 0, Width: 0}, nil
}

func (s *zeroWidthSource) Close() error { return nil }

type slowDetector struct {
	delay time.Duration
	dets  []servo.Detection
}

func (d *slowDetector) Detect(ctx context.Context, f servo.Frame) ([]servo.Detection, error) {
	time.Sleep(d.delay)
	return d.dets, nil
}
