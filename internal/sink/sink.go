// Package sink provides consumers for emitted cycles: a structured log
// sink, a JSON lines writer, a bounded asynchronous wrapper and a websocket
// broadcast hub.
package sink

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/san-kum/servoloop/internal/log"
	"github.com/san-kum/servoloop/internal/servo"
)

// Log writes one structured record per cycle.
type Log struct {
	logger *slog.Logger
	level  slog.Level
}

func NewLog(logger *slog.Logger, level slog.Level) *Log {
	if logger == nil {
		logger = log.L()
	}
	return &Log{logger: logger, level: level}
}

func (s *Log) Emit(c servo.Cycle) error {
	s.logger.Log(context.Background(), s.level, "cycle",
		"index", c.Index,
		"frame", c.FrameIndex,
		"lost", c.FrameLost,
		"present", c.Target.Present,
		"offset", c.Target.Offset,
		"behavior", c.Decision.Behavior,
		"linear", c.Signal.Linear,
		"angular", c.Signal.Angular)
	return nil
}

// JSONLines encodes each cycle as one JSON object per line.
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w)}
}

func (s *JSONLines) Emit(c servo.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(c)
}

// Async decouples a slow sink from the loop. Emit never blocks: when the
// queue is full the cycle is dropped and counted.
type Async struct {
	next   servo.Sink
	queue  chan servo.Cycle
	done   chan struct{}
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool

	dropped  atomic.Int64
	failures atomic.Int64
}

func NewAsync(next servo.Sink, size int) *Async {
	if size < 1 {
		size = 1
	}
	a := &Async{
		next:   next,
		queue:  make(chan servo.Cycle, size),
		done:   make(chan struct{}),
		logger: log.L(),
	}
	go a.drain()
	return a
}

func (a *Async) drain() {
	defer close(a.done)
	for c := range a.queue {
		if err := a.next.Emit(c); err != nil {
			a.failures.Add(1)
			a.logger.Warn("async sink emit failed", "cycle", c.Index, "error", err)
		}
	}
}

func (a *Async) Emit(c servo.Cycle) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return nil
	}
	select {
	case a.queue <- c:
	default:
		a.dropped.Add(1)
	}
	return nil
}

// Dropped returns how many cycles were discarded because the queue was full.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Failures returns how many deliveries the wrapped sink rejected.
func (a *Async) Failures() int64 { return a.failures.Load() }

// Close flushes queued cycles and waits for the wrapped sink.
func (a *Async) Close() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
	return nil
}
