// Package control maps loop decisions to bounded motion commands.
//
// The [Controller] implements the behavior table:
//
//   - FORWARD: +ForwardSpeed linear, no rotation
//   - ROTATE_LEFT / ROTATE_RIGHT: ±RotateSpeed angular (positive = left)
//   - SEARCH: ±SearchSpeed angular, toward the side the target was last seen
//
// Output is always clamped to ±MaxLinear / ±MaxAngular, even when the
// configured speeds exceed them.
//
// # Usage
//
//	ctrl, err := control.New(control.DefaultConfig())
//	sig := ctrl.Compute(decision)
//
// With SmoothingFactor > 0 the controller blends each command with the
// previous one. It implements [servo.Configurable] for live tuning.
package control
