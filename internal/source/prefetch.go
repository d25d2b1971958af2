package source

import (
	"context"
	"errors"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/servoloop/internal/servo"
)

type fetched struct {
	frame servo.Frame
	err   error
}

// Prefetch reads up to depth frames ahead of the consumer on a background
// goroutine. Frames are delivered in source order; the first error
// (including end of stream) is delivered after the frames preceding it and
// then repeated on every later call.
type Prefetch struct {
	src   servo.FrameSource
	depth int

	once   sync.Once
	ch     chan fetched
	cancel context.CancelFunc
	group  *errgroup.Group

	mu   sync.Mutex
	last error
}

func NewPrefetch(src servo.FrameSource, depth int) *Prefetch {
	if depth < 1 {
		depth = 1
	}
	return &Prefetch{src: src, depth: depth}
}

func (p *Prefetch) start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.ch = make(chan fetched, p.depth)

	g, gctx := errgroup.WithContext(ctx)
	p.group = g
	g.Go(func() error {
		defer close(p.ch)
		for {
			f, err := p.src.Next(gctx)
			select {
			case p.ch <- fetched{frame: f, err: err}:
			case <-gctx.Done():
				return gctx.Err()
			}
			if err != nil {
				return err
			}
		}
	})
}

// Next returns the next buffered frame. The per-call ctx bounds only the
// wait; it does not cancel the background reader.
func (p *Prefetch) Next(ctx context.Context) (servo.Frame, error) {
	p.once.Do(p.start)

	p.mu.Lock()
	last := p.last
	p.mu.Unlock()
	if last != nil {
		return servo.Frame{}, last
	}

	select {
	case <-ctx.Done():
		return servo.Frame{}, ctx.Err()
	case item, ok := <-p.ch:
		if !ok {
			return servo.Frame{}, servo.ErrEndOfStream
		}
		if item.err != nil {
			p.mu.Lock()
			p.last = item.err
			p.mu.Unlock()
		}
		return item.frame, item.err
	}
}

// Close stops the reader and closes the underlying source.
func (p *Prefetch) Close() error {
	p.once.Do(func() {})
	p.mu.Lock()
	if p.last == nil {
		p.last = os.ErrClosed
	}
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
		for range p.ch {
		}
		if err := p.group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, servo.ErrEndOfStream) {
			return errors.Join(err, p.src.Close())
		}
	}
	return p.src.Close()
}
