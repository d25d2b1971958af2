package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/san-kum/servoloop/internal/config"
	"github.com/san-kum/servoloop/internal/log"
	"github.com/san-kum/servoloop/internal/loop"
	"github.com/san-kum/servoloop/internal/optim"
	"github.com/san-kum/servoloop/internal/servo"
)

var (
	tuneParams []string
	tuneMetric string
	maximize   bool
	workers    int
)

func newTuneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tune [scenario.yaml | image_dir]",
		Short: "grid search decision and control parameters",
		Long: `Runs the loop once per grid point and reports the parameters with the
best value of a run metric. Example:

  servoloop tune scenarios/lost_and_found.yaml \
    --param CenterMargin=0.05:0.3:0.05 --param LossPatience=1,2,3,5 \
    --metric angular_jitter`,
		Args: cobra.ExactArgs(1),
		RunE: runTune,
	}
	addRunFlags(cmd)
	cmd.Flags().StringArrayVar(&tuneParams, "param", nil, "name=lo:hi:step or name=v1,v2,... (repeatable)")
	cmd.Flags().StringVar(&tuneMetric, "metric", "angular_jitter", "metric to optimize")
	cmd.Flags().BoolVar(&maximize, "maximize", false, "maximize the metric instead of minimizing it")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent trials (0 = number of CPUs)")
	cmd.MarkFlagRequired("param")
	return cmd
}

func parseTuneParams(specs []string) ([]string, [][]float64, error) {
	var names []string
	var ranges [][]float64
	for _, spec := range specs {
		name, rng, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, nil, fmt.Errorf("%w: param %q: want name=range", servo.ErrInvalidConfig, spec)
		}
		values, err := optim.ParseRange(rng)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: param %s: %v", servo.ErrInvalidConfig, name, err)
		}
		names = append(names, strings.TrimSpace(name))
		ranges = append(ranges, values)
	}
	return names, ranges, nil
}

func runTune(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("log-level") {
		cfg.LogLevel = "warn"
	}
	log.Init(cfg.LogLevel)

	if cfg.Source.Kind == config.SourceCamera {
		return fmt.Errorf("%w: tune needs a replayable source", servo.ErrInvalidConfig)
	}

	names, ranges, err := parseTuneParams(tuneParams)
	if err != nil {
		return err
	}
	g, err := optim.NewGridSearch(names, ranges)
	if err != nil {
		return err
	}
	g.WithWorkers(workers)

	sign := 1.0
	if maximize {
		sign = -1
	}
	run := func(ctx context.Context, params map[string]float64) (*loop.Result, error) {
		p, err := buildPipeline(cfg)
		if err != nil {
			return nil, err
		}
		defer p.close()
		if err := servo.ApplyParams(params, p.engine, p.ctrl); err != nil {
			return nil, err
		}
		res, err := p.newLoop(nil).Run(ctx)
		if res != nil {
			for k, v := range res.Metrics {
				res.Metrics[k] = sign * v
			}
		}
		return res, err
	}

	fmt.Printf("tuning %s over %d points...\n", strings.Join(names, ", "), len(g.Points()))
	best, trials, err := g.Search(context.Background(), run, tuneMetric)
	if err != nil {
		return err
	}

	sort.SliceStable(trials, func(i, j int) bool { return trials[i].Score < trials[j].Score })
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(names, "\t")+"\t"+strings.ToUpper(tuneMetric))
	for _, t := range trials {
		for _, name := range names {
			fmt.Fprintf(w, "%g\t", t.Params[name])
		}
		if t.Err != nil {
			fmt.Fprintf(w, "error: %v\n", t.Err)
		} else {
			fmt.Fprintf(w, "%.6f\n", sign*t.Score)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nbest %s: %.6f\n", tuneMetric, sign*best.Score)
	for _, name := range names {
		fmt.Printf("  %s: %g\n", name, best.Params[name])
	}
	return nil
}
