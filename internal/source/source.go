// Package source provides FrameSource implementations that read frames from
// disk and a prefetching wrapper that overlaps acquisition with processing.
package source

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/san-kum/servoloop/internal/servo"
)

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// ImageDir replays the images of a directory in lexical order. A single
// file path is treated as a one-frame stream.
type ImageDir struct {
	paths    []string
	maxWidth int

	mu   sync.Mutex
	next int
}

// NewImageDir lists path. Frames wider than maxWidth are downscaled,
// preserving aspect ratio; zero keeps the original size.
func NewImageDir(path string, maxWidth int) (*ImageDir, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var paths []string
	if fi.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if imageExts[strings.ToLower(filepath.Ext(entry.Name()))] {
				paths = append(paths, filepath.Join(path, entry.Name()))
			}
		}
		sort.Strings(paths)
	} else {
		paths = []string{path}
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("no images in %s", path)
	}
	return &ImageDir{paths: paths, maxWidth: maxWidth}, nil
}

func (s *ImageDir) Len() int {
	return len(s.paths)
}

func (s *ImageDir) Next(ctx context.Context) (servo.Frame, error) {
	if err := ctx.Err(); err != nil {
		return servo.Frame{}, err
	}

	s.mu.Lock()
	idx := s.next
	if idx >= len(s.paths) {
		s.mu.Unlock()
		return servo.Frame{}, servo.ErrEndOfStream
	}
	s.next++
	s.mu.Unlock()

	img, err := decode(s.paths[idx])
	if err != nil {
		return servo.Frame{}, err
	}
	img = downscale(img, s.maxWidth)

	b := img.Bounds()
	return servo.Frame{
		Index:     int64(idx),
		Timestamp: time.Now(),
		Width:     b.Dx(),
		Height:    b.Dy(),
		Image:     img,
	}, nil
}

func (s *ImageDir) Close() error {
	return nil
}

func decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

func downscale(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	h := b.Dy() * maxWidth / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
