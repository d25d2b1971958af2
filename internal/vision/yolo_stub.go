//go:build !gocv

package vision

import (
	"context"

	"github.com/san-kum/servoloop/internal/servo"
)

// YOLODetector is unavailable without the gocv build tag.
type YOLODetector struct{}

func NewYOLODetector(cfg YOLOConfig) (*YOLODetector, error) {
	return nil, servo.ErrUnavailable
}

func (d *YOLODetector) Detect(ctx context.Context, f servo.Frame) ([]servo.Detection, error) {
	return nil, servo.ErrUnavailable
}

func (d *YOLODetector) Close() error { return nil }
