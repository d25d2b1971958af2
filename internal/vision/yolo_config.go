package vision

import (
	"fmt"

	"github.com/san-kum/servoloop/internal/servo"
)

type YOLOConfig struct {
	ModelPath        string  `yaml:"model_path" json:"model_path"`
	Class            string  `yaml:"class" json:"class"` // empty keeps every class
	ConfidenceThresh float64 `yaml:"confidence_thresh" json:"confidence_thresh"`
	NMSThresh        float64 `yaml:"nms_thresh" json:"nms_thresh"`
	InputWidth       int     `yaml:"input_width" json:"input_width"`
	InputHeight      int     `yaml:"input_height" json:"input_height"`
}

// DefaultYOLOConfig matches YOLOv8n exported at 640x640.
func DefaultYOLOConfig() YOLOConfig {
	return YOLOConfig{
		ModelPath:        "models/yolov8n.onnx",
		Class:            "person",
		ConfidenceThresh: 0.5,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
	}
}

func (c YOLOConfig) Validate() error {
	if c.ModelPath == "" {
		return fmt.Errorf("%w: model_path is required", servo.ErrInvalidConfig)
	}
	if c.ConfidenceThresh < 0 || c.ConfidenceThresh > 1 {
		return fmt.Errorf("%w: confidence_thresh must be in [0, 1], got %v", servo.ErrInvalidConfig, c.ConfidenceThresh)
	}
	if c.NMSThresh < 0 || c.NMSThresh > 1 {
		return fmt.Errorf("%w: nms_thresh must be in [0, 1], got %v", servo.ErrInvalidConfig, c.NMSThresh)
	}
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return fmt.Errorf("%w: input size must be positive, got %dx%d", servo.ErrInvalidConfig, c.InputWidth, c.InputHeight)
	}
	if c.Class != "" && classID(c.Class) < 0 {
		return fmt.Errorf("%w: unknown class %q", servo.ErrInvalidConfig, c.Class)
	}
	return nil
}

// COCOClasses are the 80 class names YOLOv8 is trained on.
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

func className(id int) string {
	if id < 0 || id >= len(COCOClasses) {
		return fmt.Sprintf("class_%d", id)
	}
	return COCOClasses[id]
}

func classID(name string) int {
	for i, n := range COCOClasses {
		if n == name {
			return i
		}
	}
	return -1
}
