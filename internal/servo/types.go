package servo

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"
)

type Frame struct {
	Index     int64
	Timestamp time.Time
	Width     int
	Height    int
	Image     image.Image
}

// Detection is a candidate target box in pixel units; X and Y are the top-left corner.
type Detection struct {
	X          float64 `json:"x" yaml:"x"`
	Y          float64 `json:"y" yaml:"y"`
	W          float64 `json:"w" yaml:"w"`
	H          float64 `json:"h" yaml:"h"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Label      string  `json:"label,omitempty" yaml:"label,omitempty"`
}

func (d Detection) Center() (x, y float64) {
	return d.X + d.W/2, d.Y + d.H/2
}

func (d Detection) Area() float64 {
	return d.W * d.H
}

// TargetState is the estimator output. Offset is only meaningful when Present.
type TargetState struct {
	Present    bool    `json:"present"`
	Offset     float64 `json:"offset"`
	Confidence float64 `json:"confidence"`
}

type Behavior int

const (
	Search Behavior = iota + 1
	RotateLeft
	RotateRight
	Forward
)

func (b Behavior) String() string {
	switch b {
	case Search:
		return "SEARCH"
	case RotateLeft:
		return "ROTATE_LEFT"
	case RotateRight:
		return "ROTATE_RIGHT"
	case Forward:
		return "FORWARD"
	default:
		return fmt.Sprintf("Behavior(%d)", int(b))
	}
}

// ParseBehavior converts a behavior name into a Behavior.
func ParseBehavior(value string) (Behavior, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "SEARCH":
		return Search, nil
	case "ROTATE_LEFT":
		return RotateLeft, nil
	case "ROTATE_RIGHT":
		return RotateRight, nil
	case "FORWARD":
		return Forward, nil
	default:
		return 0, fmt.Errorf("unknown behavior %q", value)
	}
}

func (b Behavior) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *Behavior) UnmarshalText(text []byte) error {
	parsed, err := ParseBehavior(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Direction is the side the target was last seen on.
type Direction int

const (
	DirNone Direction = iota
	DirLeft
	DirRight
)

func (d Direction) String() string {
	switch d {
	case DirNone:
		return "NONE"
	case DirLeft:
		return "LEFT"
	case DirRight:
		return "RIGHT"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

func ParseDirection(value string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "NONE", "":
		return DirNone, nil
	case "LEFT":
		return DirLeft, nil
	case "RIGHT":
		return DirRight, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", value)
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Decision is the decision engine output for one cycle. SearchDirection is a
// copy of the engine's last known direction, used only to bias SEARCH.
type Decision struct {
	Behavior        Behavior  `json:"behavior"`
	SearchDirection Direction `json:"search_direction"`
}

type ControlSignal struct {
	Linear  float64 `json:"linear"`
	Angular float64 `json:"angular"`
}

// Cycle is the per-cycle tuple handed to sinks. FrameIndex is -1 when no
// frame arrived within the frame timeout.
type Cycle struct {
	Index      int64         `json:"index"`
	FrameIndex int64         `json:"frame_index"`
	FrameLost  bool          `json:"frame_lost"`
	Timestamp  time.Time     `json:"timestamp"`
	Detections int           `json:"detections"`
	Target     TargetState   `json:"target"`
	Decision   Decision      `json:"decision"`
	Signal     ControlSignal `json:"signal"`
}

type FrameSource interface {
	// Next blocks until a frame is available, ctx is done, or the source
	// is exhausted (ErrEndOfStream).
	Next(ctx context.Context) (Frame, error)
	Close() error
}

type Detector interface {
	Detect(ctx context.Context, f Frame) ([]Detection, error)
}

// Tracker keeps target identity across frames. It returns the single best
// box for this frame, or ok=false when the target is considered lost.
// Reset is called at the start of every loop run.
type Tracker interface {
	Update(prior TargetState, dets []Detection, f Frame) (best Detection, ok bool, err error)
	Reset()
}

type Sink interface {
	Emit(c Cycle) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(c Cycle) error

func (f SinkFunc) Emit(c Cycle) error { return f(c) }

type Metric interface {
	Name() string
	Observe(c Cycle)
	Value() float64
	Reset()
}

type Observer interface {
	OnCycle(c Cycle)
}

// Configurable stages support live parameter tuning.
type Configurable interface {
	GetParams() map[string]float64
	SetParam(name string, value float64) error
}
