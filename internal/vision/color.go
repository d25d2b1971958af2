package vision

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/san-kum/servoloop/internal/servo"
)

// ColorConfig selects pixels close to a reference color.
type ColorConfig struct {
	Color     string `yaml:"color" json:"color"`         // hex, e.g. "#ff2020"
	Tolerance int    `yaml:"tolerance" json:"tolerance"` // per-channel, 0-255
	MinCells  int    `yaml:"min_cells" json:"min_cells"`
	Stride    int    `yaml:"stride" json:"stride"` // sampling step in pixels
}

func DefaultColorConfig() ColorConfig {
	return ColorConfig{
		Color:     "#ff0000",
		Tolerance: 60,
		MinCells:  4,
		Stride:    4,
	}
}

func (c ColorConfig) Validate() error {
	if _, err := ParseHexColor(c.Color); err != nil {
		return fmt.Errorf("%w: %v", servo.ErrInvalidConfig, err)
	}
	if c.Tolerance < 0 || c.Tolerance > 255 {
		return fmt.Errorf("%w: tolerance must be in [0, 255], got %d", servo.ErrInvalidConfig, c.Tolerance)
	}
	if c.MinCells < 1 {
		return fmt.Errorf("%w: min_cells must be >= 1, got %d", servo.ErrInvalidConfig, c.MinCells)
	}
	if c.Stride < 1 {
		return fmt.Errorf("%w: stride must be >= 1, got %d", servo.ErrInvalidConfig, c.Stride)
	}
	return nil
}

// ParseHexColor parses "#rrggbb" or "rrggbb".
func ParseHexColor(s string) ([3]uint8, error) {
	var rgb [3]uint8
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 {
		return rgb, fmt.Errorf("color %q: want #rrggbb", s)
	}
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseUint(h[2*i:2*i+2], 16, 8)
		if err != nil {
			return rgb, fmt.Errorf("color %q: %w", s, err)
		}
		rgb[i] = uint8(v)
	}
	return rgb, nil
}

// ColorDetector finds connected blobs of a single color on a sampled grid.
// Confidence is the fill ratio of each blob's bounding box.
type ColorDetector struct {
	cfg ColorConfig
	rgb [3]uint8
}

func NewColorDetector(cfg ColorConfig) (*ColorDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rgb, _ := ParseHexColor(cfg.Color)
	return &ColorDetector{cfg: cfg, rgb: rgb}, nil
}

type blob struct {
	minX, minY, maxX, maxY int
	cells                  int
}

func (d *ColorDetector) Detect(ctx context.Context, f servo.Frame) ([]servo.Detection, error) {
	if f.Image == nil {
		return nil, nil
	}

	b := f.Image.Bounds()
	s := d.cfg.Stride
	gw := (b.Dx() + s - 1) / s
	gh := (b.Dy() + s - 1) / s
	if gw == 0 || gh == 0 {
		return nil, nil
	}

	mask := make([]bool, gw*gh)
	for gy := 0; gy < gh; gy++ {
		if gy%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for gx := 0; gx < gw; gx++ {
			mask[gy*gw+gx] = d.match(f.Image, b.Min.X+gx*s, b.Min.Y+gy*s)
		}
	}

	blobs := label(mask, gw, gh)

	width, height := b.Dx(), b.Dy()
	dets := make([]servo.Detection, 0, len(blobs))
	for _, bl := range blobs {
		if bl.cells < d.cfg.MinCells {
			continue
		}
		cw := bl.maxX - bl.minX + 1
		ch := bl.maxY - bl.minY + 1
		x := float64(bl.minX * s)
		y := float64(bl.minY * s)
		dets = append(dets, servo.Detection{
			X:          x,
			Y:          y,
			W:          min(float64(cw*s), float64(width)-x),
			H:          min(float64(ch*s), float64(height)-y),
			Confidence: float64(bl.cells) / float64(cw*ch),
			Label:      d.cfg.Color,
		})
	}
	return dets, nil
}

func (d *ColorDetector) match(img image.Image, x, y int) bool {
	r, g, b, _ := img.At(x, y).RGBA()
	tol := d.cfg.Tolerance
	return within(int(r>>8), int(d.rgb[0]), tol) &&
		within(int(g>>8), int(d.rgb[1]), tol) &&
		within(int(b>>8), int(d.rgb[2]), tol)
}

func within(v, ref, tol int) bool {
	diff := v - ref
	if diff < 0 {
		diff = -diff
	}
	return diff <= tol
}

// label groups 4-connected set cells into blobs, in scan order.
func label(mask []bool, w, h int) []blob {
	seen := make([]bool, len(mask))
	var blobs []blob
	queue := make([]int, 0, 64)

	for start := range mask {
		if !mask[start] || seen[start] {
			continue
		}
		sx, sy := start%w, start/w
		bl := blob{minX: sx, maxX: sx, minY: sy, maxY: sy}
		seen[start] = true
		queue = append(queue[:0], start)

		for len(queue) > 0 {
			i := queue[0]
			queue = queue[1:]
			x, y := i%w, i/w
			bl.cells++
			bl.minX, bl.maxX = min(bl.minX, x), max(bl.maxX, x)
			bl.minY, bl.maxY = min(bl.minY, y), max(bl.maxY, y)

			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				nx, ny := n[0], n[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if mask[j] && !seen[j] {
					seen[j] = true
					queue = append(queue, j)
				}
			}
		}
		blobs = append(blobs, bl)
	}
	return blobs
}
