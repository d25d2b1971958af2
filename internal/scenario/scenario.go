// Package scenario loads scripted frame sequences from YAML. A scenario
// drives the loop without a camera or model: each entry describes what the
// source and the detector report for one frame.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/servoloop/internal/servo"
)

const (
	DefaultFrameWidth  = 640
	DefaultFrameHeight = 480
	defaultBoxSize     = 40
	defaultConfidence  = 0.9
)

// Scenario defines a scripted run.
type Scenario struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	FrameWidth  int                `yaml:"frame_width"`
	FrameHeight int                `yaml:"frame_height"`
	Params      map[string]float64 `yaml:"params"`
	Frames      []FrameStep        `yaml:"frames"`
	Expect      *Expectation       `yaml:"expect"`
}

// FrameStep is one scripted frame. CenterX is shorthand for a single
// default-sized box centered at that x coordinate.
type FrameStep struct {
	CenterX       *float64          `yaml:"center_x"`
	Detections    []servo.Detection `yaml:"detections"`
	Timeout       bool              `yaml:"timeout"`
	Error         string            `yaml:"error"`
	DetectError   string            `yaml:"detect_error"`
	DetectTimeout bool              `yaml:"detect_timeout"`
}

// Expectation lists the behaviors the run must emit, in order.
type Expectation struct {
	Behaviors []servo.Behavior `yaml:"behaviors"`
	Angular   []float64        `yaml:"angular"`
}

// Load reads a scenario from a YAML file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if sc.FrameWidth == 0 {
		sc.FrameWidth = DefaultFrameWidth
	}
	if sc.FrameHeight == 0 {
		sc.FrameHeight = DefaultFrameHeight
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *Scenario) Validate() error {
	if len(s.Frames) == 0 {
		return fmt.Errorf("%w: scenario %q has no frames", servo.ErrInvalidConfig, s.Name)
	}
	if s.FrameWidth < 0 || s.FrameHeight < 0 {
		return fmt.Errorf("%w: negative frame size %dx%d", servo.ErrInvalidConfig, s.FrameWidth, s.FrameHeight)
	}
	for i, f := range s.Frames {
		if f.CenterX != nil && len(f.Detections) > 0 {
			return fmt.Errorf("%w: frame %d sets both center_x and detections", servo.ErrInvalidConfig, i)
		}
	}
	return nil
}

func (s *Scenario) detections(i int) []servo.Detection {
	f := s.Frames[i]
	if f.CenterX != nil {
		cy := float64(s.FrameHeight) / 2
		return []servo.Detection{{
			X:          *f.CenterX - defaultBoxSize/2,
			Y:          cy - defaultBoxSize/2,
			W:          defaultBoxSize,
			H:          defaultBoxSize,
			Confidence: defaultConfidence,
			Label:      "target",
		}}
	}
	return f.Detections
}

// ApplyParams sets each scenario param on the first target that exposes it.
func (s *Scenario) ApplyParams(targets ...servo.Configurable) error {
	return servo.ApplyParams(s.Params, targets...)
}

// Check compares emitted cycles with the expectation. A scenario without
// expectations always passes.
func (s *Scenario) Check(cycles []servo.Cycle) error {
	if s.Expect == nil {
		return nil
	}
	var problems []string

	if want := s.Expect.Behaviors; len(want) > 0 {
		if len(cycles) != len(want) {
			problems = append(problems, fmt.Sprintf("got %d cycles, want %d", len(cycles), len(want)))
		}
		for i := 0; i < min(len(cycles), len(want)); i++ {
			if got := cycles[i].Decision.Behavior; got != want[i] {
				problems = append(problems, fmt.Sprintf("cycle %d: behavior %s, want %s", i, got, want[i]))
			}
		}
	}

	const eps = 1e-9
	for i, want := range s.Expect.Angular {
		if i >= len(cycles) {
			break
		}
		if got := cycles[i].Signal.Angular; got < want-eps || got > want+eps {
			problems = append(problems, fmt.Sprintf("cycle %d: angular %.4f, want %.4f", i, got, want))
		}
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// Source replays the scenario frames.
type Source struct {
	sc   *Scenario
	mu   sync.Mutex
	next int
}

func (s *Scenario) Source() *Source {
	return &Source{sc: s}
}

func (src *Source) Next(ctx context.Context) (servo.Frame, error) {
	src.mu.Lock()
	i := src.next
	if i >= len(src.sc.Frames) {
		src.mu.Unlock()
		return servo.Frame{}, servo.ErrEndOfStream
	}
	src.next++
	src.mu.Unlock()

	step := src.sc.Frames[i]
	switch {
	case step.Timeout:
		<-ctx.Done()
		return servo.Frame{}, ctx.Err()
	case step.Error != "":
		return servo.Frame{}, errors.New(step.Error)
	}

	return servo.Frame{
		Index:     int64(i),
		Timestamp: time.Now(),
		Width:     src.sc.FrameWidth,
		Height:    src.sc.FrameHeight,
	}, nil
}

func (src *Source) Close() error {
	return nil
}

// Detector answers with the scripted detections of each frame index.
type Detector struct {
	sc *Scenario
}

func (s *Scenario) Detector() *Detector {
	return &Detector{sc: s}
}

func (d *Detector) Detect(ctx context.Context, f servo.Frame) ([]servo.Detection, error) {
	i := int(f.Index)
	if i < 0 || i >= len(d.sc.Frames) {
		return nil, nil
	}
	step := d.sc.Frames[i]
	switch {
	case step.DetectTimeout:
		<-ctx.Done()
		return nil, ctx.Err()
	case step.DetectError != "":
		return nil, errors.New(step.DetectError)
	}
	return d.sc.detections(i), nil
}
