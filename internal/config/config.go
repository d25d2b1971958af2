package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/servoloop/internal/control"
	"github.com/san-kum/servoloop/internal/decision"
	"github.com/san-kum/servoloop/internal/servo"
	"github.com/san-kum/servoloop/internal/vision"
)

const (
	DefaultFrameTimeout  = 500 * time.Millisecond
	DefaultDetectTimeout = 200 * time.Millisecond
	DefaultStorageDir    = ".servoloop"
	DefaultLogLevel      = "info"
)

// Source kinds.
const (
	SourceScenario = "scenario"
	SourceImages   = "images"
	SourceCamera   = "camera"
)

// Detector kinds.
const (
	DetectorScripted = "scripted"
	DetectorColor    = "color"
	DetectorYOLO     = "yolo"
)

type Config struct {
	LogLevel string          `yaml:"log_level"`
	Source   SourceConfig    `yaml:"source"`
	Vision   VisionConfig    `yaml:"vision"`
	Decision decision.Config `yaml:"decision"`
	Control  control.Config  `yaml:"control"`
	Loop     LoopConfig      `yaml:"loop"`
	Storage  StorageConfig   `yaml:"storage"`
}

type SourceConfig struct {
	Kind     string `yaml:"kind"`
	Path     string `yaml:"path"`      // scenario file, image dir, or video file
	Device   string `yaml:"device"`    // camera index or URL
	MaxWidth int    `yaml:"max_width"` // downscale wider frames; 0 keeps size
	Prefetch int    `yaml:"prefetch"`  // frames read ahead; 0 disables
}

type VisionConfig struct {
	Detector      string             `yaml:"detector"`
	MinConfidence float64            `yaml:"min_confidence"`
	Tracker       bool               `yaml:"tracker"`
	TrackerHold   int                `yaml:"tracker_hold"`
	Color         vision.ColorConfig `yaml:"color"`
	YOLO          vision.YOLOConfig  `yaml:"yolo"`
}

type LoopConfig struct {
	FrameTimeout  time.Duration `yaml:"frame_timeout"`
	DetectTimeout time.Duration `yaml:"detect_timeout"`
	CycleInterval time.Duration `yaml:"cycle_interval"`
	MaxCycles     int64         `yaml:"max_cycles"`
	SinkQueue     int           `yaml:"sink_queue"`
	LogCycles     bool          `yaml:"log_cycles"` // log every cycle at info level
}

type StorageConfig struct {
	Dir string `yaml:"dir"`
	DB  string `yaml:"db"` // optional SQLite cycle log
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		Source: SourceConfig{
			Kind: SourceScenario,
		},
		Vision: VisionConfig{
			Detector:    DetectorScripted,
			TrackerHold: vision.DefaultHoldFrames,
			Color:       vision.DefaultColorConfig(),
			YOLO:        vision.DefaultYOLOConfig(),
		},
		Decision: decision.DefaultConfig(),
		Control:  control.DefaultConfig(),
		Loop: LoopConfig{
			FrameTimeout:  DefaultFrameTimeout,
			DetectTimeout: DefaultDetectTimeout,
			SinkQueue:     256,
		},
		Storage: StorageConfig{
			Dir: DefaultStorageDir,
		},
	}
}

// Load reads a YAML file over the defaults, so omitted keys keep their
// default values.
func Load(path string) (*Config, error) {
	return LoadOver(path, DefaultConfig())
}

// LoadOver reads a YAML file over a copy of base. It is used to layer a
// config file on top of a preset.
func LoadOver(path string, base *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := *base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks every section. Errors wrap servo.ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := c.Decision.Validate(); err != nil {
		return fmt.Errorf("decision: %w", err)
	}
	if err := c.Control.Validate(); err != nil {
		return fmt.Errorf("control: %w", err)
	}

	switch c.Source.Kind {
	case SourceScenario, SourceImages, SourceCamera:
	default:
		return fmt.Errorf("%w: unknown source kind %q", servo.ErrInvalidConfig, c.Source.Kind)
	}
	if c.Source.MaxWidth < 0 || c.Source.Prefetch < 0 {
		return fmt.Errorf("%w: source max_width and prefetch must be >= 0", servo.ErrInvalidConfig)
	}

	switch c.Vision.Detector {
	case DetectorScripted:
	case DetectorColor:
		if err := c.Vision.Color.Validate(); err != nil {
			return fmt.Errorf("vision.color: %w", err)
		}
	case DetectorYOLO:
		if err := c.Vision.YOLO.Validate(); err != nil {
			return fmt.Errorf("vision.yolo: %w", err)
		}
	default:
		return fmt.Errorf("%w: unknown detector %q", servo.ErrInvalidConfig, c.Vision.Detector)
	}
	if c.Vision.MinConfidence < 0 || c.Vision.MinConfidence > 1 {
		return fmt.Errorf("%w: min_confidence must be in [0, 1], got %v", servo.ErrInvalidConfig, c.Vision.MinConfidence)
	}
	if c.Vision.TrackerHold < 0 {
		return fmt.Errorf("%w: tracker_hold must be >= 0, got %d", servo.ErrInvalidConfig, c.Vision.TrackerHold)
	}

	l := c.Loop
	if l.FrameTimeout < 0 || l.DetectTimeout < 0 || l.CycleInterval < 0 {
		return fmt.Errorf("%w: loop durations must be >= 0", servo.ErrInvalidConfig)
	}
	if l.MaxCycles < 0 || l.SinkQueue < 0 {
		return fmt.Errorf("%w: max_cycles and sink_queue must be >= 0", servo.ErrInvalidConfig)
	}
	return nil
}
