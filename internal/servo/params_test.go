package servo

import (
	"errors"
	"fmt"
	"testing"
)

type fakeStage struct {
	params map[string]float64
}

func (f *fakeStage) GetParams() map[string]float64 { return f.params }

func (f *fakeStage) SetParam(name string, value float64) error {
	if value < 0 {
		return fmt.Errorf("%w: %s < 0", ErrInvalidConfig, name)
	}
	f.params[name] = value
	return nil
}

func TestApplyParams(t *testing.T) {
	a := &fakeStage{params: map[string]float64{"Gain": 1, "Shared": 1}}
	b := &fakeStage{params: map[string]float64{"Limit": 1, "Shared": 1}}

	err := ApplyParams(map[string]float64{"Gain": 2, "Limit": 3, "Shared": 4}, a, b)
	if err != nil {
		t.Fatalf("ApplyParams: %v", err)
	}
	if a.params["Gain"] != 2 || b.params["Limit"] != 3 {
		t.Errorf("params not applied: a=%v b=%v", a.params, b.params)
	}
	if a.params["Shared"] != 4 || b.params["Shared"] != 1 {
		t.Errorf("shared name should go to the first target: a=%v b=%v", a.params, b.params)
	}

	if err := ApplyParams(map[string]float64{"Missing": 1}, a, b); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
	if err := ApplyParams(map[string]float64{"Gain": -1}, a); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
	if err := ApplyParams(nil, a); err != nil {
		t.Errorf("empty params: %v", err)
	}
}
