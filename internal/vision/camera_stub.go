//go:build !gocv

package vision

import (
	"context"

	"github.com/san-kum/servoloop/internal/servo"
)

// Camera is unavailable without the gocv build tag.
type Camera struct{}

func OpenCamera(device string) (*Camera, error) {
	return nil, servo.ErrUnavailable
}

func (c *Camera) Next(ctx context.Context) (servo.Frame, error) {
	return servo.Frame{}, servo.ErrUnavailable
}

func (c *Camera) Close() error { return nil }
