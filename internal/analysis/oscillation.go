package analysis

import (
	"time"

	"github.com/san-kum/servoloop/internal/servo"
)

// DefaultFlipRate is the share of cycles with an angular sign reversal
// above which a run counts as oscillating.
const DefaultFlipRate = 0.25

type Report struct {
	Samples     int       `json:"samples"`
	SampleRate  float64   `json:"sample_rate"`
	DominantHz  float64   `json:"dominant_hz"`
	Period      float64   `json:"period"`
	SignFlips   int       `json:"sign_flips"`
	FlipRate    float64   `json:"flip_rate"`
	Oscillating bool      `json:"oscillating"`
	Spectrum    []float64 `json:"-"`
}

// Analyze computes the angular-command spectrum of a run. The sample rate
// is derived from the cycle count and the run duration; a zero duration
// falls back to the cycle timestamps.
func Analyze(cycles []servo.Cycle, duration time.Duration) Report {
	rep := Report{Samples: len(cycles)}
	if len(cycles) < 2 {
		return rep
	}

	if duration <= 0 {
		duration = cycles[len(cycles)-1].Timestamp.Sub(cycles[0].Timestamp)
	}
	if duration > 0 {
		rep.SampleRate = float64(len(cycles)) / duration.Seconds()
	}

	angular := make([]float64, len(cycles))
	prevSign := 0
	for i, c := range cycles {
		angular[i] = c.Signal.Angular
		s := sign(c.Signal.Angular)
		if s != 0 {
			if prevSign != 0 && s != prevSign {
				rep.SignFlips++
			}
			prevSign = s
		}
	}
	rep.FlipRate = float64(rep.SignFlips) / float64(len(cycles)-1)

	rep.Spectrum = PowerSpectrum(angular)
	if rep.SampleRate > 0 {
		rep.DominantHz, _ = Dominant(rep.Spectrum, len(angular), rep.SampleRate)
		if rep.DominantHz > 0 {
			rep.Period = 1 / rep.DominantHz
		}
	}
	rep.Oscillating = rep.FlipRate >= DefaultFlipRate
	return rep
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
