//go:build gocv

package vision

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/san-kum/servoloop/internal/servo"
)

// YOLODetector runs a YOLOv8 ONNX model through OpenCV's dnn module.
type YOLODetector struct {
	net       gocv.Net
	cfg       YOLOConfig
	mu        sync.Mutex
	inputSize image.Point
}

func NewYOLODetector(cfg YOLOConfig) (*YOLODetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO model from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &YOLODetector{
		net:       net,
		cfg:       cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

func (d *YOLODetector) Detect(ctx context.Context, f servo.Frame) ([]servo.Detection, error) {
	if f.Image == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := gocv.ImageToMatRGB(f.Image)
	if err != nil {
		return nil, fmt.Errorf("convert frame %d: %w", f.Index, err)
	}
	defer img.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	return d.parse(output, float32(img.Cols()), float32(img.Rows()))
}

// parse decodes the [1, 4+classes, anchors] YOLOv8 output tensor into
// pixel-space boxes after non-maximum suppression.
func (d *YOLODetector) parse(output gocv.Mat, imgW, imgH float32) ([]servo.Detection, error) {
	anchors := output.Size()[2]
	rows := output.Size()[1]

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output tensor: %w", err)
	}

	thresh := float32(d.cfg.ConfidenceThresh)
	sx := imgW / float32(d.cfg.InputWidth)
	sy := imgH / float32(d.cfg.InputHeight)

	var (
		boxes   []image.Rectangle
		scores  []float32
		classes []int
	)
	for i := 0; i < anchors; i++ {
		maxScore, classID := float32(0), 0
		for c := 4; c < rows; c++ {
			if s := data[c*anchors+i]; s > maxScore {
				maxScore, classID = s, c-4
			}
		}
		if maxScore < thresh {
			continue
		}
		if d.cfg.Class != "" && className(classID) != d.cfg.Class {
			continue
		}

		cx, cy := data[i], data[anchors+i]
		w, h := data[2*anchors+i], data[3*anchors+i]
		boxes = append(boxes, image.Rect(
			int((cx-w/2)*sx), int((cy-h/2)*sy),
			int((cx+w/2)*sx), int((cy+h/2)*sy),
		))
		scores = append(scores, maxScore)
		classes = append(classes, classID)
	}
	if len(boxes) == 0 {
		return nil, nil
	}

	indices := gocv.NMSBoxes(boxes, scores, thresh, float32(d.cfg.NMSThresh))
	dets := make([]servo.Detection, 0, len(indices))
	for _, idx := range indices {
		box := boxes[idx]
		dets = append(dets, servo.Detection{
			X:          float64(box.Min.X),
			Y:          float64(box.Min.Y),
			W:          float64(box.Dx()),
			H:          float64(box.Dy()),
			Confidence: float64(scores[idx]),
			Label:      className(classes[idx]),
		})
	}
	return dets, nil
}

func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
