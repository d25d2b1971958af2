package servo

import (
	"fmt"
	"sort"
)

// ApplyParams sets each named value on the first target that exposes it.
// Names are applied in sorted order; an unknown name is ErrInvalidConfig.
func ApplyParams(params map[string]float64, targets ...Configurable) error {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		applied := false
		for _, t := range targets {
			if _, ok := t.GetParams()[name]; !ok {
				continue
			}
			if err := t.SetParam(name, params[name]); err != nil {
				return fmt.Errorf("param %s: %w", name, err)
			}
			applied = true
			break
		}
		if !applied {
			return fmt.Errorf("%w: unknown param %q", ErrInvalidConfig, name)
		}
	}
	return nil
}
