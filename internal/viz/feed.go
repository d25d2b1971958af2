package viz

import (
	"sync"
	"sync/atomic"

	"github.com/san-kum/servoloop/internal/servo"
)

// Feed is a loop observer that hands cycles to the UI goroutine. OnCycle
// never blocks the loop; when the UI falls behind, cycles are dropped.
type Feed struct {
	ch      chan servo.Cycle
	dropped atomic.Int64
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
}

func NewFeed(size int) *Feed {
	if size < 1 {
		size = 1
	}
	return &Feed{ch: make(chan servo.Cycle, size)}
}

func (f *Feed) OnCycle(c servo.Cycle) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	select {
	case f.ch <- c:
	default:
		f.dropped.Add(1)
	}
}

// C is closed by Close once the loop has finished.
func (f *Feed) C() <-chan servo.Cycle {
	return f.ch
}

func (f *Feed) Dropped() int64 {
	return f.dropped.Load()
}

func (f *Feed) Close() {
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		close(f.ch)
		f.mu.Unlock()
	})
}
