//go:build gocv

package vision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/san-kum/servoloop/internal/servo"
)

// Camera reads frames from a capture device index or a video file path.
type Camera struct {
	mu    sync.Mutex
	cap   *gocv.VideoCapture
	mat    gocv.Mat
	index  int64
	device string
}

func OpenCamera(device string) (*Camera, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("open capture %q: %w", device, err)
	}
	return &Camera{cap: vc, mat: gocv.NewMat(), device: device}, nil
}

func (c *Camera) Next(ctx context.Context) (servo.Frame, error) {
	if err := ctx.Err(); err != nil {
		return servo.Frame{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ok := c.cap.Read(&c.mat); !ok {
		return servo.Frame{}, readFailure(c.device)
	}
	if c.mat.Empty() {
		return servo.Frame{}, fmt.Errorf("empty frame %d", c.index)
	}

	img, err := c.mat.ToImage()
	if err != nil {
		return servo.Frame{}, fmt.Errorf("convert frame %d: %w", c.index, err)
	}

	f := servo.Frame{
		Index:     c.index,
		Timestamp: time.Now(),
		Width:     c.mat.Cols(),
		Height:    c.mat.Rows(),
		Image:     img,
	}
	c.index++
	return f, nil
}

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mat.Close()
	return c.cap.Close()
}
