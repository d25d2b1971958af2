package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/san-kum/servoloop/internal/config"
	"github.com/san-kum/servoloop/internal/control"
	"github.com/san-kum/servoloop/internal/decision"
	"github.com/san-kum/servoloop/internal/estimate"
	"github.com/san-kum/servoloop/internal/log"
	"github.com/san-kum/servoloop/internal/loop"
	"github.com/san-kum/servoloop/internal/metrics"
	"github.com/san-kum/servoloop/internal/scenario"
	"github.com/san-kum/servoloop/internal/servo"
	"github.com/san-kum/servoloop/internal/sink"
	"github.com/san-kum/servoloop/internal/source"
	"github.com/san-kum/servoloop/internal/storage"
	"github.com/san-kum/servoloop/internal/vision"
)

// pipeline holds the stages of one run, built from a config.
type pipeline struct {
	cfg      *config.Config
	name     string
	source   string
	src      servo.FrameSource
	det      servo.Detector
	engine   *decision.Engine
	ctrl     *control.Controller
	scen     *scenario.Scenario
	recorder *storage.Recorder
	db       *storage.CycleDB
	dbSink   *sink.Async
	runID    string
	closers  []io.Closer
}

func buildPipeline(cfg *config.Config) (*pipeline, error) {
	engine, err := decision.New(cfg.Decision)
	if err != nil {
		return nil, fmt.Errorf("decision: %w", err)
	}
	ctrl, err := control.New(cfg.Control)
	if err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}

	p := &pipeline{
		cfg:      cfg,
		engine:   engine,
		ctrl:     ctrl,
		source:   cfg.Source.Kind,
		recorder: storage.NewRecorder(),
		runID:    storage.NewRunID(time.Now()),
	}
	if err := p.openSource(); err != nil {
		p.close()
		return nil, err
	}
	if err := p.openDetector(); err != nil {
		p.close()
		return nil, err
	}
	if p.scen != nil {
		if err := p.scen.ApplyParams(engine, ctrl); err != nil {
			p.close()
			return nil, err
		}
	}
	return p, nil
}

func (p *pipeline) openSource() error {
	sc := p.cfg.Source
	switch sc.Kind {
	case config.SourceScenario:
		if sc.Path == "" {
			return fmt.Errorf("%w: scenario source needs a path", servo.ErrInvalidConfig)
		}
		scen, err := scenario.Load(sc.Path)
		if err != nil {
			return err
		}
		p.scen = scen
		p.name = scen.Name
		if p.name == "" {
			p.name = strings.TrimSuffix(filepath.Base(sc.Path), filepath.Ext(sc.Path))
		}
		p.source = "scenario:" + sc.Path
		p.src = scen.Source()
		return nil
	case config.SourceImages:
		dir, err := source.NewImageDir(sc.Path, sc.MaxWidth)
		if err != nil {
			return err
		}
		p.name = filepath.Base(sc.Path)
		p.source = "images:" + sc.Path
		p.src = dir
	case config.SourceCamera:
		cam, err := vision.OpenCamera(sc.Device)
		if err != nil {
			return fmt.Errorf("camera %q: %w", sc.Device, err)
		}
		p.name = "camera-" + sc.Device
		p.source = "camera:" + sc.Device
		p.src = cam
	default:
		return fmt.Errorf("%w: unknown source kind %q", servo.ErrInvalidConfig, sc.Kind)
	}
	if sc.Prefetch > 0 {
		p.src = source.NewPrefetch(p.src, sc.Prefetch)
	}
	return nil
}

func (p *pipeline) openDetector() error {
	vc := p.cfg.Vision
	if p.scen != nil {
		// scripted frames carry no pixels
		p.det = p.scen.Detector()
		return nil
	}
	switch vc.Detector {
	case config.DetectorColor:
		det, err := vision.NewColorDetector(vc.Color)
		if err != nil {
			return err
		}
		p.det = det
	case config.DetectorYOLO:
		det, err := vision.NewYOLODetector(vc.YOLO)
		if err != nil {
			return fmt.Errorf("yolo: %w", err)
		}
		p.det = det
		p.closers = append(p.closers, det)
	default:
		return fmt.Errorf("%w: detector %q needs a scenario source", servo.ErrInvalidConfig, vc.Detector)
	}
	return nil
}

// openDB starts the optional SQLite cycle log. Writes go through an Async
// sink so a slow disk cannot stall the loop.
func (p *pipeline) openDB(ctx context.Context) error {
	if p.cfg.Storage.DB == "" {
		return nil
	}
	db, err := storage.OpenDB(p.cfg.Storage.DB)
	if err != nil {
		return err
	}
	if err := db.BeginRun(ctx, p.runID, p.name, p.source); err != nil {
		db.Close()
		return err
	}
	p.db = db
	p.dbSink = sink.NewAsync(db.Sink(p.runID), p.cfg.Loop.SinkQueue)
	return nil
}

// newLoop wires the stages into a loop. Extra sinks are added after the
// recorder.
func (p *pipeline) newLoop(sinks []servo.Sink, observers ...servo.Observer) *loop.Loop {
	lc := p.cfg.Loop
	opts := []loop.Option{
		loop.WithFrameTimeout(lc.FrameTimeout),
		loop.WithDetectTimeout(lc.DetectTimeout),
		loop.WithMaxCycles(lc.MaxCycles),
		loop.WithCycleInterval(lc.CycleInterval),
		loop.WithLogger(log.With("run", p.runID)),
		loop.WithMetrics(metrics.Default(p.engine.Config().CenterMargin)...),
		loop.WithSinks(p.recorder),
		loop.WithSinks(sinks...),
		loop.WithObservers(observers...),
	}
	if p.dbSink != nil {
		opts = append(opts, loop.WithSinks(p.dbSink))
	}
	if p.cfg.Loop.LogCycles {
		opts = append(opts, loop.WithSinks(sink.NewLog(log.L(), slog.LevelInfo)))
	}
	if p.cfg.Vision.Tracker {
		opts = append(opts, loop.WithTracker(vision.NewCentroidTracker(p.cfg.Vision.TrackerHold, p.cfg.Vision.MinConfidence)))
	}
	return loop.New(p.src, p.det, estimate.New(p.cfg.Vision.MinConfidence), p.engine, p.ctrl, opts...)
}

// runLoop runs lp until it ends. The first SIGINT or SIGTERM asks the loop
// to stop after the current cycle.
func runLoop(ctx context.Context, lp *loop.Loop) (*loop.Result, error) {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigCtx.Done():
			lp.Stop()
		case <-done:
		}
	}()

	return lp.Run(ctx)
}

// finish flushes the database sink and saves the run unless noSave is set.
// It returns the stored run ID.
func (p *pipeline) finish(ctx context.Context, res *loop.Result, runErr error, st *storage.Store, noSave bool) (string, error) {
	var errs []error
	if p.dbSink != nil {
		p.dbSink.Close()
		if n := p.dbSink.Dropped(); n > 0 {
			log.Warn("database sink dropped cycles", "dropped", n)
		}
		cycles, state := int64(0), loop.StateFailed.String()
		if res != nil {
			cycles, state = res.Cycles, res.State.String()
		}
		if err := p.db.FinishRun(ctx, p.runID, cycles, state); err != nil {
			errs = append(errs, err)
		}
	}

	if noSave {
		return "", errors.Join(errs...)
	}
	if err := st.Init(); err != nil {
		return "", errors.Join(append(errs, err)...)
	}
	meta := storage.MetadataFor(p.name, p.source, p.engine.Config(), p.ctrl.Config(), res, runErr)
	meta.ID = p.runID
	id, err := st.Save(meta, p.recorder.Cycles())
	if err != nil {
		errs = append(errs, err)
	}
	return id, errors.Join(errs...)
}

func (p *pipeline) close() {
	if p.src != nil {
		if err := p.src.Close(); err != nil {
			log.Warn("closing source", "error", err)
		}
	}
	for _, c := range p.closers {
		c.Close()
	}
	if p.db != nil {
		p.db.Close()
	}
}

// describe is a one-line summary printed before a run.
func (p *pipeline) describe() string {
	parts := []string{p.source}
	if p.scen == nil {
		parts = append(parts, "detector="+p.cfg.Vision.Detector)
	}
	if p.cfg.Vision.Tracker {
		parts = append(parts, fmt.Sprintf("tracker(hold=%d)", p.cfg.Vision.TrackerHold))
	}
	dc := p.engine.Config()
	parts = append(parts, fmt.Sprintf("margin=%.2f patience=%d", dc.CenterMargin, dc.LossPatience))
	return strings.Join(parts, " ")
}
