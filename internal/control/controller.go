package control

import (
	"fmt"
	"math"
	"sync"

	"github.com/san-kum/servoloop/internal/servo"
)

const (
	DefaultForwardSpeed = 0.5
	DefaultRotateSpeed  = 0.4
	DefaultSearchSpeed  = 0.2
	DefaultMaxLinear    = 1.0
	DefaultMaxAngular   = 1.0
)

type Config struct {
	ForwardSpeed    float64 `yaml:"forward_speed" json:"forward_speed"`
	RotateSpeed     float64 `yaml:"rotate_speed" json:"rotate_speed"`
	SearchSpeed     float64 `yaml:"search_speed" json:"search_speed"`
	MaxLinear       float64 `yaml:"max_linear" json:"max_linear"`
	MaxAngular      float64 `yaml:"max_angular" json:"max_angular"`
	SmoothingFactor float64 `yaml:"smoothing_factor" json:"smoothing_factor"`
}

func DefaultConfig() Config {
	return Config{
		ForwardSpeed: DefaultForwardSpeed,
		RotateSpeed:  DefaultRotateSpeed,
		SearchSpeed:  DefaultSearchSpeed,
		MaxLinear:    DefaultMaxLinear,
		MaxAngular:   DefaultMaxAngular,
	}
}

func (c Config) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"forward_speed", c.ForwardSpeed},
		{"rotate_speed", c.RotateSpeed},
		{"search_speed", c.SearchSpeed},
		{"max_linear", c.MaxLinear},
		{"max_angular", c.MaxAngular},
	}
	for _, f := range fields {
		if f.value < 0 || math.IsNaN(f.value) {
			return fmt.Errorf("%w: %s must be >= 0, got %v", servo.ErrInvalidConfig, f.name, f.value)
		}
	}
	if c.SmoothingFactor < 0 || c.SmoothingFactor > 1 || math.IsNaN(c.SmoothingFactor) {
		return fmt.Errorf("%w: smoothing_factor must be in [0, 1], got %v", servo.ErrInvalidConfig, c.SmoothingFactor)
	}
	return nil
}

// Controller turns decisions into control signals. When smoothing is enabled
// it keeps the previous signal as its only state.
type Controller struct {
	mu      sync.Mutex
	cfg     Config
	prev    servo.ControlSignal
	hasPrev bool
}

func New(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{cfg: cfg}, nil
}

// Compute returns the clamped (and optionally smoothed) signal for d.
func (c *Controller) Compute(d servo.Decision) servo.ControlSignal {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.clamp(c.command(d))

	s := c.cfg.SmoothingFactor
	if s == 0 {
		return target
	}

	out := target
	if c.hasPrev {
		out = servo.ControlSignal{
			Linear:  s*target.Linear + (1-s)*c.prev.Linear,
			Angular: s*target.Angular + (1-s)*c.prev.Angular,
		}
	}
	out = c.clamp(out)
	c.prev = out
	c.hasPrev = true
	return out
}

func (c *Controller) command(d servo.Decision) servo.ControlSignal {
	switch d.Behavior {
	case servo.Forward:
		return servo.ControlSignal{Linear: c.cfg.ForwardSpeed}
	case servo.RotateLeft:
		return servo.ControlSignal{Angular: c.cfg.RotateSpeed}
	case servo.RotateRight:
		return servo.ControlSignal{Angular: -c.cfg.RotateSpeed}
	case servo.Search:
		if d.SearchDirection == servo.DirRight {
			return servo.ControlSignal{Angular: -c.cfg.SearchSpeed}
		}
		return servo.ControlSignal{Angular: c.cfg.SearchSpeed}
	default:
		return servo.ControlSignal{}
	}
}

func (c *Controller) clamp(sig servo.ControlSignal) servo.ControlSignal {
	return servo.ControlSignal{
		Linear:  clamp(sig.Linear, -c.cfg.MaxLinear, c.cfg.MaxLinear),
		Angular: clamp(sig.Angular, -c.cfg.MaxAngular, c.cfg.MaxAngular),
	}
}

// Reset clears the smoothing slot
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prev = servo.ControlSignal{}
	c.hasPrev = false
}

func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// GetParams returns tunable parameters for live adjustment
func (c *Controller) GetParams() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]float64{
		"ForwardSpeed":    c.cfg.ForwardSpeed,
		"RotateSpeed":     c.cfg.RotateSpeed,
		"SearchSpeed":     c.cfg.SearchSpeed,
		"MaxLinear":       c.cfg.MaxLinear,
		"MaxAngular":      c.cfg.MaxAngular,
		"SmoothingFactor": c.cfg.SmoothingFactor,
	}
}

// SetParam adjusts a controller parameter
func (c *Controller) SetParam(name string, value float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.cfg
	switch name {
	case "ForwardSpeed":
		next.ForwardSpeed = value
	case "RotateSpeed":
		next.RotateSpeed = value
	case "SearchSpeed":
		next.SearchSpeed = value
	case "MaxLinear":
		next.MaxLinear = value
	case "MaxAngular":
		next.MaxAngular = value
	case "SmoothingFactor":
		next.SmoothingFactor = value
	default:
		return fmt.Errorf("unknown control param %q", name)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	c.cfg = next
	return nil
}

// clamp limits a value to a range
func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
