// Package decision implements the behavior state machine of the loop.
//
// The engine owns a LoopState (consecutive losses and last seen direction)
// and makes one transition per cycle. Short detection dropouts coast on the
// previous behavior; SEARCH starts only once the loss streak reaches the
// configured patience.
package decision

import (
	"fmt"
	"math"
	"sync"

	"github.com/san-kum/servoloop/internal/servo"
)

const (
	DefaultCenterMargin = 0.15
	DefaultLossPatience = 3
)

type Config struct {
	CenterMargin float64 `yaml:"center_margin" json:"center_margin"`
	LossPatience int     `yaml:"loss_patience" json:"loss_patience"`
}

func DefaultConfig() Config {
	return Config{
		CenterMargin: DefaultCenterMargin,
		LossPatience: DefaultLossPatience,
	}
}

func (c Config) Validate() error {
	if c.CenterMargin < 0 || math.IsNaN(c.CenterMargin) {
		return fmt.Errorf("%w: center_margin must be >= 0, got %v", servo.ErrInvalidConfig, c.CenterMargin)
	}
	if c.LossPatience < 0 {
		return fmt.Errorf("%w: loss_patience must be >= 0, got %d", servo.ErrInvalidConfig, c.LossPatience)
	}
	return nil
}

// LoopState is the hysteresis state carried between cycles.
type LoopState struct {
	ConsecutiveLosses int
	LastDirection     servo.Direction
}

// Engine is safe for concurrent use, so parameters can be tuned while a
// loop is running.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	state    LoopState
	previous servo.Behavior
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg}
	e.Reset()
	return e, nil
}

// Reset reinitializes the loop state. Before any target is seen the engine
// coasts on SEARCH.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = LoopState{LastDirection: servo.DirNone}
	e.previous = servo.Search
}

// Step applies one transition for the current target state.
func (e *Engine) Step(ts servo.TargetState) servo.Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	var b servo.Behavior

	switch {
	case !ts.Present:
		e.state.ConsecutiveLosses++
		if e.state.ConsecutiveLosses >= e.cfg.LossPatience {
			b = servo.Search
		} else {
			b = e.previous
		}
	case math.Abs(ts.Offset) <= e.cfg.CenterMargin:
		e.state.ConsecutiveLosses = 0
		b = servo.Forward
	case ts.Offset < -e.cfg.CenterMargin:
		e.state.ConsecutiveLosses = 0
		e.state.LastDirection = servo.DirLeft
		b = servo.RotateLeft
	default:
		e.state.ConsecutiveLosses = 0
		e.state.LastDirection = servo.DirRight
		b = servo.RotateRight
	}

	e.previous = b
	return servo.Decision{Behavior: b, SearchDirection: e.state.LastDirection}
}

// Snapshot returns a copy of the current loop state.
func (e *Engine) Snapshot() LoopState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// GetParams returns tunable parameters for live adjustment
func (e *Engine) GetParams() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]float64{
		"CenterMargin": e.cfg.CenterMargin,
		"LossPatience": float64(e.cfg.LossPatience),
	}
}

// SetParam adjusts an engine parameter; invalid values are rejected and
// leave the config unchanged.
func (e *Engine) SetParam(name string, value float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.cfg
	switch name {
	case "CenterMargin":
		next.CenterMargin = value
	case "LossPatience":
		next.LossPatience = int(value)
	default:
		return fmt.Errorf("unknown decision param %q", name)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	e.cfg = next
	return nil
}
