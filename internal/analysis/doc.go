// Package analysis inspects recorded runs for closed-loop oscillation.
//
// A loop that overshoots the center band alternates ROTATE_LEFT and
// ROTATE_RIGHT, which shows up as a peak in the power spectrum of the
// angular command:
//
//	rep := analysis.Analyze(cycles, meta.Duration)
//	if rep.Oscillating {
//	    // widen the center margin or lower RotateSpeed
//	}
package analysis
