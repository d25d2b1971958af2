// Package loop runs the perception-action cycle.
//
// Each cycle pulls one frame, detects, optionally tracks, estimates the
// target offset, decides a behavior and computes a control signal, then
// hands the resulting [servo.Cycle] to sinks, metrics and observers:
//
//	FrameSource -> Detector -> Tracker -> Estimator -> Decider -> Controller -> Sinks
//
// Cycles are strictly sequential. Cancellation and [Loop.Stop] are
// observed between cycles; a cycle that is abandoned because its context
// was canceled emits nothing.
//
// # Failure handling
//
//   - end of stream: terminal state Stopped, nil error
//   - frame timeout: a frame-lost cycle (target absent) is still emitted
//   - any other source error: terminal state Failed, [servo.ErrFrameAcquisition]
//   - detector and tracker errors or timeouts: counted in [Stats], never fatal
//   - estimator [servo.ErrInvalidInput]: terminal state Failed
//   - sink errors: logged and counted, never fatal
//
// Terminal errors are returned as *[servo.LoopError] alongside the [Result].
package loop
