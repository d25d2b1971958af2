package servo

import (
	"context"
	"errors"
	"fmt"
)

// Domain errors for loop operations.
var (
	// ErrInvalidConfig indicates a numeric option violates its constraints.
	// Raised at construction; the loop never starts.
	ErrInvalidConfig = errors.New("servo: invalid config")

	// ErrInvalidInput indicates malformed geometry, such as a non-positive frame width.
	ErrInvalidInput = errors.New("servo: invalid input")

	// ErrFrameAcquisition indicates the frame source failed for a reason other
	// than end of stream.
	ErrFrameAcquisition = errors.New("servo: frame acquisition failed")

	// ErrDetectionTimeout indicates the detector missed its deadline. It is
	// counted and absorbed, never returned from Run.
	ErrDetectionTimeout = errors.New("servo: detection timeout")

	// ErrEndOfStream is returned by a FrameSource when it has no more frames.
	ErrEndOfStream = errors.New("servo: end of stream")

	// ErrUnavailable indicates an optional backend was not compiled in.
	ErrUnavailable = errors.New("servo: backend not available")
)

// ErrorKind classifies the error that terminated a loop.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindInvalidConfig
	KindInvalidInput
	KindFrameAcquisition
	KindCanceled
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInvalidConfig:
		return "invalid_config"
	case KindInvalidInput:
		return "invalid_input"
	case KindFrameAcquisition:
		return "frame_acquisition"
	case KindCanceled:
		return "canceled"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// KindOf maps an error to its ErrorKind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidConfig):
		return KindInvalidConfig
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrFrameAcquisition):
		return KindFrameAcquisition
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}

// LoopError wraps a terminating error with the loop's last known state.
type LoopError struct {
	Kind       ErrorKind
	Cycle      int64
	LastSignal ControlSignal
	LastTarget TargetState
	Wrapped    error
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("cycle %d (%s): %v", e.Cycle, e.Kind, e.Wrapped)
}

func (e *LoopError) Unwrap() error {
	return e.Wrapped
}
