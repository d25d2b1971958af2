package config

import "sort"

// Presets are named tunings of the decision and control stages. Each one
// starts from DefaultConfig.
var Presets = map[string]func(*Config){
	"default": func(c *Config) {},
	"patient": func(c *Config) {
		c.Decision.LossPatience = 8
		c.Decision.CenterMargin = 0.2
		c.Control.SearchSpeed = 0.15
	},
	"twitchy": func(c *Config) {
		c.Decision.LossPatience = 1
		c.Decision.CenterMargin = 0.08
		c.Control.RotateSpeed = 0.6
		c.Control.SearchSpeed = 0.3
	},
	"smooth": func(c *Config) {
		c.Decision.LossPatience = 5
		c.Control.SmoothingFactor = 0.3
		c.Control.MaxAngular = 0.6
	},
}

// GetPreset returns a fresh config with the preset applied, or nil.
func GetPreset(name string) *Config {
	apply, ok := Presets[name]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	apply(cfg)
	return cfg
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
