// Package optim tunes loop parameters by exhaustive grid search.
package optim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/servoloop/internal/loop"
	"github.com/san-kum/servoloop/internal/servo"
)

// RunFunc runs one trial with the given parameter values.
type RunFunc func(ctx context.Context, params map[string]float64) (*loop.Result, error)

type Trial struct {
	Params map[string]float64
	Score  float64
	Err    error
}

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
	workers    int
}

func NewGridSearch(params []string, ranges [][]float64) (*GridSearch, error) {
	if len(params) == 0 || len(params) != len(ranges) {
		return nil, fmt.Errorf("%w: need one range per parameter", servo.ErrInvalidConfig)
	}
	for i, r := range ranges {
		if len(r) == 0 {
			return nil, fmt.Errorf("%w: empty range for %s", servo.ErrInvalidConfig, params[i])
		}
	}
	return &GridSearch{paramNames: params, ranges: ranges, workers: runtime.NumCPU()}, nil
}

// WithWorkers limits how many trials run at once.
func (g *GridSearch) WithWorkers(n int) *GridSearch {
	if n > 0 {
		g.workers = n
	}
	return g
}

// Points enumerates the grid in row-major order.
func (g *GridSearch) Points() []map[string]float64 {
	var points []map[string]float64
	g.collect(0, make(map[string]float64), &points)
	return points
}

func (g *GridSearch) collect(depth int, current map[string]float64, points *[]map[string]float64) {
	if depth == len(g.paramNames) {
		p := make(map[string]float64, len(current))
		for k, v := range current {
			p[k] = v
		}
		*points = append(*points, p)
		return
	}

	name := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		current[name] = val
		g.collect(depth+1, current, points)
	}
	delete(current, name)
}

// Search runs every grid point and returns the trial with the lowest value
// of metric, plus all trials in grid order. Failed trials are kept with
// their error; ties go to the earlier point.
func (g *GridSearch) Search(ctx context.Context, run RunFunc, metric string) (Trial, []Trial, error) {
	points := g.Points()
	trials := make([]Trial, len(points))

	var eg errgroup.Group
	eg.SetLimit(g.workers)
	for i, p := range points {
		i, p := i, p
		eg.Go(func() error {
			trials[i] = Trial{Params: p, Score: math.Inf(1)}
			res, err := run(ctx, p)
			if err != nil {
				trials[i].Err = err
				return nil
			}
			val, ok := res.Metrics[metric]
			if !ok {
				trials[i].Err = fmt.Errorf("metric %q not recorded", metric)
				return nil
			}
			trials[i].Score = val
			return nil
		})
	}
	eg.Wait()

	if err := ctx.Err(); err != nil {
		return Trial{}, trials, err
	}

	best := -1
	var errs []error
	for i, t := range trials {
		if t.Err != nil {
			errs = append(errs, t.Err)
			continue
		}
		if best < 0 || t.Score < trials[best].Score {
			best = i
		}
	}
	if best < 0 {
		return Trial{}, trials, fmt.Errorf("all %d trials failed: %w", len(trials), errors.Join(errs...))
	}
	return trials[best], trials, nil
}

// ParseRange parses "lo:hi:step" (inclusive) or a comma separated list.
func ParseRange(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if parts := strings.Split(s, ":"); len(parts) == 3 {
		var bounds [3]float64
		for i, p := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, fmt.Errorf("range %q: %w", s, err)
			}
			bounds[i] = v
		}
		lo, hi, step := bounds[0], bounds[1], bounds[2]
		if step <= 0 || hi < lo {
			return nil, fmt.Errorf("range %q: want lo:hi:step with step > 0 and hi >= lo", s)
		}
		n := int(math.Floor((hi-lo)/step+1e-9)) + 1
		values := make([]float64, n)
		for i := range values {
			values[i] = lo + float64(i)*step
		}
		return values, nil
	}

	var values []float64
	for _, p := range strings.Split(s, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("range %q: %w", s, err)
		}
		values = append(values, v)
	}
	sort.Float64s(values)
	return values, nil
}
