// Package viz provides a terminal dashboard for a running servo loop.
//
// A [Feed] is registered as a loop observer and forwards cycles to the
// Bubble Tea [Model], which draws the target position inside the frame,
// the current behavior and command, and short histories of offset and
// angular velocity.
//
// # Key Bindings
//
//	Space - Freeze/unfreeze the display
//	Tab   - Select next tunable parameter
//	Up/K  - Increase parameter
//	Down/J- Decrease parameter
//	R     - Restore initial parameters and clear history
//	T     - Cycle color themes
//	[]/   - Step back/forward through recorded cycles
//	?     - Show help overlay
//	Q     - Quit
package viz
