// Package servo provides the core types of the visual servoing loop.
//
// One cycle of the loop turns a [Frame] into a [ControlSignal]:
//
//   - [FrameSource]: lazy sequence of frames, ends with [ErrEndOfStream]
//   - [Detector]: frame to zero or more [Detection] values
//   - [Tracker]: optional identity keeper across frames
//   - [TargetState]: normalized horizontal offset of the chosen target
//   - [Decision]: discrete [Behavior] plus the search bias
//   - [ControlSignal]: bounded (linear, angular) command
//   - [Sink]: consumer of the per-cycle [Cycle] tuple
//
// # Example
//
//	est := estimate.New(0)
//	eng, _ := decision.New(decision.DefaultConfig())
//	ctrl, _ := control.New(control.DefaultConfig())
//	l := loop.New(src, det, est, eng, ctrl)
//	result, err := l.Run(ctx)
//
// # Thread Safety
//
// The stateful stages (decision engine, controller, loop) are NOT safe for
// concurrent use. A loop owns its stages for its whole lifetime.
package servo
