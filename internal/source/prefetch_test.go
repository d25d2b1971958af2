package source

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/servoloop/internal/servo"
)

type counting struct {
	n      int64
	fail   int64
	err    error
	reads  atomic.Int64
	closed atomic.Bool
}

func (c *counting) Next(ctx context.Context) (servo.Frame, error) {
	i := c.reads.Add(1) - 1
	if c.err != nil && i == c.fail {
		return servo.Frame{}, c.err
	}
	if i >= c.n {
		return servo.Frame{}, servo.ErrEndOfStream
	}
	return servo.Frame{Index: i, Width: 64}, nil
}

func (c *counting) Close() error {
	c.closed.Store(true)
	return nil
}

func TestPrefetch_PreservesOrder(t *testing.T) {
	inner := &counting{n: 50}
	p := NewPrefetch(inner, 4)
	defer p.Close()

	ctx := context.Background()
	for i := int64(0); i < 50; i++ {
		f, err := p.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, f.Index)
	}
	_, err := p.Next(ctx)
	assert.ErrorIs(t, err, servo.ErrEndOfStream)
	_, err = p.Next(ctx)
	assert.ErrorIs(t, err, servo.ErrEndOfStream)
}

func TestPrefetch_ReadsAhead(t *testing.T) {
	inner := &counting{n: 100}
	p := NewPrefetch(inner, 3)
	defer p.Close()

	_, err := p.Next(context.Background())
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return inner.reads.Load() >= 4 }, time.Second, 5*time.Millisecond)
}

func TestPrefetch_DeliversErrorAfterFrames(t *testing.T) {
	boom := errors.New("device gone")
	inner := &counting{n: 10, fail: 2, err: boom}
	p := NewPrefetch(inner, 8)
	defer p.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := p.Next(ctx)
		require.NoError(t, err)
	}
	_, err := p.Next(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestPrefetch_WaitHonorsContext(t *testing.T) {
	p := NewPrefetch(&stalled{}, 1)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPrefetch_CloseClosesSource(t *testing.T) {
	inner := &counting{n: 1000}
	p := NewPrefetch(inner, 2)
	_, err := p.Next(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.True(t, inner.closed.Load())
}

type stalled struct{}

func (stalled) Next(ctx context.Context) (servo.Frame, error) {
	<-ctx.Done()
	return servo.Frame{}, ctx.Err()
}

func (stalled) Close() error { return nil }
