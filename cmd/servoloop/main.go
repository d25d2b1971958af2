package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/servoloop/internal/config"
	"github.com/san-kum/servoloop/internal/log"
	"github.com/san-kum/servoloop/internal/loop"
	"github.com/san-kum/servoloop/internal/servo"
	"github.com/san-kum/servoloop/internal/sink"
	"github.com/san-kum/servoloop/internal/storage"
	"github.com/san-kum/servoloop/internal/viz"
)

var (
	dataDir  string
	logLevel string
	// Run configuration
	configFile string
	preset     string
	camera     string
	detector   string
	dbPath     string
	// Decision and control overrides
	margin     float64
	patience   int
	smoothing  float64
	maxAngular float64
	maxLinear  float64
	// Loop overrides
	frameTimeout  time.Duration
	detectTimeout time.Duration
	interval      time.Duration
	maxCycles     int64
	tracker       bool
	// Output
	jsonl  bool
	noSave bool
	addr   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "servoloop",
		Short:         "closed-loop visual servoing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", config.DefaultStorageDir, "run storage directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run [scenario.yaml | image_dir]",
		Short: "run the servo loop and save the result",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runServo,
	}
	addRunFlags(runCmd)
	runCmd.Flags().BoolVar(&jsonl, "jsonl", false, "stream cycles to stdout as JSON lines")

	liveCmd := &cobra.Command{
		Use:   "live [scenario.yaml | image_dir]",
		Short: "run the servo loop with a live dashboard",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLive,
	}
	addRunFlags(liveCmd)

	serveCmd := &cobra.Command{
		Use:   "serve [scenario.yaml | image_dir]",
		Short: "run the servo loop and broadcast cycles over websocket",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runServe,
	}
	addRunFlags(serveCmd)
	serveCmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")

	configCmd := &cobra.Command{
		Use:   "config [scenario.yaml | image_dir]",
		Short: "print the effective configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, args)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	addRunFlags(configCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot offset and commands of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze [run_id]",
		Short: "frequency analysis of the angular command",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeRun,
	}

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "export run cycles to CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCSV,
	}

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run metadata and cycles to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}

	behaviorsCmd := &cobra.Command{
		Use:   "behaviors [run_id]",
		Short: "count behaviors of a run recorded in the cycle database",
		Args:  cobra.ExactArgs(1),
		RunE:  behaviorCounts,
	}
	behaviorsCmd.Flags().StringVar(&dbPath, "db", "", "cycle database path")
	behaviorsCmd.MarkFlagRequired("db")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available tuning presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, name := range config.ListPresets() {
				cfg := config.GetPreset(name)
				fmt.Fprintf(out, "  %-8s margin=%.2f patience=%d rotate=%.2f search=%.2f smoothing=%.2f\n",
					name,
					cfg.Decision.CenterMargin,
					cfg.Decision.LossPatience,
					cfg.Control.RotateSpeed,
					cfg.Control.SearchSpeed,
					cfg.Control.SmoothingFactor,
				)
			}
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, liveCmd, serveCmd, newTuneCmd(), configCmd, listCmd, plotCmd, analyzeCmd, exportCSVCmd, exportJSONCmd, behaviorsCmd, presetsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&configFile, "config", "", "config file path (yaml)")
	f.StringVar(&preset, "preset", "", "use preset configuration")
	f.StringVar(&camera, "camera", "", "read frames from a camera device or stream URL")
	f.StringVar(&detector, "detector", config.DetectorColor, "detector for image sources (color, yolo)")
	f.StringVar(&dbPath, "db", "", "also log cycles to this SQLite database")
	f.Float64Var(&margin, "margin", 0.15, "center margin")
	f.IntVar(&patience, "patience", 3, "consecutive losses before SEARCH")
	f.Float64Var(&smoothing, "smoothing", 0, "control smoothing factor in [0, 1]")
	f.Float64Var(&maxAngular, "max-angular", 1, "angular velocity limit")
	f.Float64Var(&maxLinear, "max-linear", 1, "linear velocity limit")
	f.DurationVar(&frameTimeout, "frame-timeout", config.DefaultFrameTimeout, "frame wait timeout")
	f.DurationVar(&detectTimeout, "detect-timeout", config.DefaultDetectTimeout, "detector timeout")
	f.DurationVar(&interval, "interval", 0, "minimum cycle period (0 runs as fast as frames arrive)")
	f.Int64Var(&maxCycles, "max-cycles", 0, "stop after this many cycles (0 = unlimited)")
	f.BoolVar(&tracker, "tracker", false, "keep target identity across frames")
	f.BoolVar(&noSave, "no-save", false, "do not save the run")
}

// resolveConfig layers defaults, preset, config file, positional source and
// flags. Flags win only when set explicitly.
func resolveConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}

	if configFile != "" {
		loaded, err := config.LoadOver(configFile, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if len(args) == 1 {
		cfg.Source.Path = args[0]
		cfg.Source.Kind = sourceKind(args[0])
		if cfg.Source.Kind == config.SourceImages && cfg.Vision.Detector == config.DetectorScripted {
			cfg.Vision.Detector = config.DetectorColor
		}
	}

	flags := cmd.Flags()
	if flags.Changed("camera") {
		cfg.Source.Kind = config.SourceCamera
		cfg.Source.Device = camera
		if cfg.Vision.Detector == config.DetectorScripted {
			cfg.Vision.Detector = config.DetectorColor
		}
	}
	if flags.Changed("detector") {
		cfg.Vision.Detector = detector
	}
	if flags.Changed("db") {
		cfg.Storage.DB = dbPath
	}
	if flags.Changed("data") {
		cfg.Storage.Dir = dataDir
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("margin") {
		cfg.Decision.CenterMargin = margin
	}
	if flags.Changed("patience") {
		cfg.Decision.LossPatience = patience
	}
	if flags.Changed("smoothing") {
		cfg.Control.SmoothingFactor = smoothing
	}
	if flags.Changed("max-angular") {
		cfg.Control.MaxAngular = maxAngular
	}
	if flags.Changed("max-linear") {
		cfg.Control.MaxLinear = maxLinear
	}
	if flags.Changed("frame-timeout") {
		cfg.Loop.FrameTimeout = frameTimeout
	}
	if flags.Changed("detect-timeout") {
		cfg.Loop.DetectTimeout = detectTimeout
	}
	if flags.Changed("interval") {
		cfg.Loop.CycleInterval = interval
	}
	if flags.Changed("max-cycles") {
		cfg.Loop.MaxCycles = maxCycles
	}
	if flags.Changed("tracker") {
		cfg.Vision.Tracker = tracker
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// sourceKind infers the source from a positional argument.
func sourceKind(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return config.SourceScenario
	}
	return config.SourceImages
}

// exitCode maps loop errors to distinct process exit codes.
func exitCode(err error) int {
	switch servo.KindOf(err) {
	case servo.KindInvalidConfig:
		return 2
	case servo.KindFrameAcquisition:
		return 3
	case servo.KindCanceled:
		return 130
	default:
		return 1
	}
}

func runServo(cmd *cobra.Command, args []string) error {
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

	ctx := context.Background()
	if err := p.openDB(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var sinks []servo.Sink
	if jsonl {
		sinks = append(sinks, sink.NewJSONLines(out))
		out = cmd.ErrOrStderr()
	}
	lp := p.newLoop(sinks)

	fmt.Fprintf(out, "running %s (%s)...\n", p.name, p.describe())
	res, runErr := runLoop(ctx, lp)

	id, saveErr := p.finish(ctx, res, runErr, storage.New(cfg.Storage.Dir), noSave)
	printResult(out, id, res, runErr)
	if err := errors.Join(runErr, saveErr); err != nil {
		return err
	}
	return p.checkScenario(out)
}

// checkScenario verifies scripted expectations against the recorded cycles.
func (p *pipeline) checkScenario(out io.Writer) error {
	if p.scen == nil || p.scen.Expect == nil {
		return nil
	}
	if err := p.scen.Check(p.recorder.Cycles()); err != nil {
		return fmt.Errorf("scenario %s: %w", p.name, err)
	}
	fmt.Fprintln(out, "expectations: ok")
	return nil
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args)
	if err != nil {
		return err
	}
	// the dashboard owns the terminal
	log.Discard()

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

	feed := viz.NewFeed(64)
	lp := p.newLoop(nil, feed)
	m := viz.NewModel(p.name, feed.C(), p.engine.Config().CenterMargin,
		viz.Tunable{Prefix: "decision", Target: p.engine},
		viz.Tunable{Prefix: "control", Target: p.ctrl},
	)
	prog := tea.NewProgram(m, tea.WithAltScreen())

	type outcome struct {
		res *loop.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := lp.Run(ctx)
		feed.Close()
		state := loop.StateFailed.String()
		if res != nil {
			state = res.State.String()
		}
		prog.Send(viz.DoneMsg{State: state, Err: err})
		done <- outcome{res, err}
	}()

	_, uiErr := prog.Run()
	lp.Stop()

	var o outcome
	select {
	case o = <-done:
	case <-time.After(2 * time.Second):
		cancel()
		o = <-done
	}

	id, saveErr := p.finish(context.Background(), o.res, o.err, storage.New(cfg.Storage.Dir), noSave)
	printResult(cmd.OutOrStdout(), id, o.res, o.err)
	return errors.Join(uiErr, o.err, saveErr)
}

func printResult(out io.Writer, runID string, res *loop.Result, runErr error) {
	if res == nil {
		return
	}
	fmt.Fprintf(out, "state: %s\n", res.State)
	if runErr != nil {
		fmt.Fprintf(out, "error: %v\n", runErr)
	}
	if runID != "" {
		fmt.Fprintf(out, "run id: %s\n", runID)
	}
	fmt.Fprintf(out, "cycles: %d in %v\n", res.Cycles, res.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "last signal: linear=%+.3f angular=%+.3f\n", res.LastSignal.Linear, res.LastSignal.Angular)

	st := res.Stats
	if st != (loop.Stats{}) {
		fmt.Fprintf(out, "frame timeouts: %d  detect timeouts: %d  detect failures: %d  tracker failures: %d  sink failures: %d\n",
			st.FrameTimeouts, st.DetectionTimeouts, st.DetectionFailures, st.TrackerFailures, st.SinkFailures)
	}

	names := make([]string, 0, len(res.Metrics))
	for name := range res.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(out, "\nmetrics:")
	for _, name := range names {
		fmt.Fprintf(out, "  %s: %.6f\n", name, res.Metrics[name])
	}
}
