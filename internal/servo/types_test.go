package servo

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestDetection_CenterArea(t *testing.T) {
	d := Detection{X: 100, Y: 50, W: 40, H: 20}

	cx, cy := d.Center()
	if cx != 120 || cy != 60 {
		t.Errorf("Center() = (%v, %v), want (120, 60)", cx, cy)
	}
	if d.Area() != 800 {
		t.Errorf("Area() = %v, want 800", d.Area())
	}
}

func TestBehavior_ParseRoundTrip(t *testing.T) {
	for _, b := range []Behavior{Search, RotateLeft, RotateRight, Forward} {
		t.Run(b.String(), func(t *testing.T) {
			got, err := ParseBehavior(b.String())
			if err != nil {
				t.Fatalf("ParseBehavior(%q): %v", b.String(), err)
			}
			if got != b {
				t.Errorf("ParseBehavior(%q) = %v, want %v", b.String(), got, b)
			}
		})
	}

	if _, err := ParseBehavior("hover"); err == nil {
		t.Error("expected error for unknown behavior")
	}
}

func TestBehavior_UnmarshalText(t *testing.T) {
	var b Behavior
	if err := b.UnmarshalText([]byte(" rotate_left ")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if b != RotateLeft {
		t.Errorf("got %v, want ROTATE_LEFT", b)
	}
}

func TestDirection_UnmarshalText(t *testing.T) {
	tests := []struct {
		in   string
		want Direction
	}{
		{"LEFT", DirLeft},
		{"right", DirRight},
		{"NONE", DirNone},
	}
	for _, tt := range tests {
		var d Direction
		if err := d.UnmarshalText([]byte(tt.in)); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", tt.in, err)
		}
		if d != tt.want {
			t.Errorf("UnmarshalText(%q) = %v, want %v", tt.in, d, tt.want)
		}
	}

	var d Direction
	if err := d.UnmarshalText([]byte("up")); err == nil {
		t.Error("expected error for unknown direction")
	}
}

func TestBehavior_StringUnknown(t *testing.T) {
	if got := Behavior(42).String(); got != "Behavior(42)" {
		t.Errorf("String() = %q", got)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindNone},
		{"config", fmt.Errorf("center_margin: %w", ErrInvalidConfig), KindInvalidConfig},
		{"input", ErrInvalidInput, KindInvalidInput},
		{"frame", fmt.Errorf("%w: device gone", ErrFrameAcquisition), KindFrameAcquisition},
		{"canceled", context.Canceled, KindCanceled},
		{"other", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoopError(t *testing.T) {
	err := &LoopError{
		Kind:    KindFrameAcquisition,
		Cycle:   7,
		Wrapped: fmt.Errorf("%w: read failed", ErrFrameAcquisition),
	}

	if !errors.Is(err, ErrFrameAcquisition) {
		t.Error("LoopError should unwrap to ErrFrameAcquisition")
	}
	expected := "cycle 7 (frame_acquisition): servo: frame acquisition failed: read failed"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}
