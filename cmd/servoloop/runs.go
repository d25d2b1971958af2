package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/servoloop/internal/analysis"
	"github.com/san-kum/servoloop/internal/log"
	"github.com/san-kum/servoloop/internal/loop"
	"github.com/san-kum/servoloop/internal/servo"
	"github.com/san-kum/servoloop/internal/sink"
	"github.com/san-kum/servoloop/internal/storage"
)

var behaviors = []servo.Behavior{servo.Forward, servo.RotateLeft, servo.RotateRight, servo.Search}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTIME\tCYCLES\tSTATE\tDURATION\tSOURCE")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%v\t%s\n",
			run.ID,
			run.Name,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Cycles,
			run.State,
			run.Duration.Round(time.Millisecond),
			run.Source,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}

	cycles, err := st.LoadCycles(runID)
	if err != nil {
		return err
	}

	if len(cycles) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("name: %s\n", meta.Name)
	fmt.Printf("cycles: %d\n\n", len(cycles))

	offset := make([]float64, len(cycles))
	linear := make([]float64, len(cycles))
	angular := make([]float64, len(cycles))
	counts := make(map[servo.Behavior]int)
	for i, c := range cycles {
		if c.Target.Present {
			offset[i] = c.Target.Offset
		}
		linear[i] = c.Signal.Linear
		angular[i] = c.Signal.Angular
		counts[c.Decision.Behavior]++
	}

	series := []struct {
		caption string
		data    []float64
	}{
		{"target offset (0 when absent)", offset},
		{"linear velocity", linear},
		{"angular velocity", angular},
	}
	for _, s := range series {
		graph := asciigraph.Plot(s.data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(s.caption),
		)
		fmt.Println(graph)
		fmt.Println()
	}

	printBehaviorCounts(counts, len(cycles))
	return nil
}

func printBehaviorCounts(counts map[servo.Behavior]int, total int) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BEHAVIOR\tCYCLES\tSHARE")
	for _, b := range behaviors {
		share := 0.0
		if total > 0 {
			share = float64(counts[b]) / float64(total) * 100
		}
		fmt.Fprintf(w, "%s\t%d\t%.1f%%\n", b, counts[b], share)
	}
	w.Flush()
}

func analyzeRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}

	cycles, err := st.LoadCycles(runID)
	if err != nil {
		return err
	}

	rep := analysis.Analyze(cycles, meta.Duration)
	if len(rep.Spectrum) < 2 {
		return fmt.Errorf("not enough cycles to analyze")
	}

	fmt.Printf("oscillation analysis: %s\n", meta.ID)
	fmt.Printf("cycles: %d at %.1f hz\n\n", rep.Samples, rep.SampleRate)

	graph := asciigraph.Plot(rep.Spectrum[1:],
		asciigraph.Height(15),
		asciigraph.Width(80),
		asciigraph.Caption("angular command spectrum"),
	)
	fmt.Println(graph)
	fmt.Println()

	fmt.Printf("sign flips: %d (%.1f%% of cycles)\n", rep.SignFlips, rep.FlipRate*100)
	if rep.DominantHz > 0 {
		fmt.Printf("dominant frequency: %.3f hz\n", rep.DominantHz)
		fmt.Printf("period: %.3f s\n", rep.Period)
	}
	if rep.Oscillating {
		fmt.Println("loop is hunting: widen the center margin or lower the rotate speed")
	}
	return nil
}

func exportCSV(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	cycles, err := st.LoadCycles(args[0])
	if err != nil {
		return err
	}

	if len(cycles) == 0 {
		return fmt.Errorf("no data to export")
	}
	return storage.WriteCSV(os.Stdout, cycles)
}

func exportJSON(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}

	cycles, err := st.LoadCycles(runID)
	if err != nil {
		return err
	}
	return storage.ExportJSON(os.Stdout, *meta, cycles)
}

func behaviorCounts(cmd *cobra.Command, args []string) error {
	db, err := storage.OpenDB(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	counts, err := db.BehaviorCounts(ctx, args[0])
	if err != nil {
		return err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return fmt.Errorf("no cycles recorded for run %s", args[0])
	}
	printBehaviorCounts(counts, total)
	return nil
}

// runServe runs the loop while broadcasting every cycle on /ws. Saved runs
// are listed as JSON on /runs.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args)
	if err != nil {
		return err
	}
	log.Init(cfg.LogLevel)

	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.openDB(ctx); err != nil {
		return err
	}

	hub := sink.NewHub()
	go hub.Run(ctx)

	st := storage.New(cfg.Storage.Dir)
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/runs", func(w http.ResponseWriter, r *http.Request) {
		runs, err := st.List()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(runs)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok clients=%d\n", hub.ClientCount())
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lp := p.newLoop([]servo.Sink{hub})

	var (
		res    *loop.Result
		runErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("serving cycles", "addr", addr, "path", "/ws")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		res, runErr = runLoop(gctx, lp)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	serveErr := g.Wait()

	id, saveErr := p.finish(context.Background(), res, runErr, st, noSave)
	printResult(cmd.OutOrStdout(), id, res, runErr)
	return errors.Join(serveErr, runErr, saveErr)
}
