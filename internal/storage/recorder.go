package storage

import (
	"sync"

	"github.com/san-kum/servoloop/internal/servo"
)

// Recorder is a sink that keeps every emitted cycle in memory for Save.
type Recorder struct {
	mu     sync.Mutex
	cycles []servo.Cycle
}

func NewRecorder() *Recorder {
	return &Recorder{cycles: make([]servo.Cycle, 0, 256)}
}

func (r *Recorder) Emit(c servo.Cycle) error {
	r.mu.Lock()
	r.cycles = append(r.cycles, c)
	r.mu.Unlock()
	return nil
}

// Cycles returns a copy of the recorded cycles.
func (r *Recorder) Cycles() []servo.Cycle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]servo.Cycle, len(r.cycles))
	copy(out, r.cycles)
	return out
}
