package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/san-kum/servoloop/internal/servo"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	source     TEXT NOT NULL,
	started_at TEXT NOT NULL,
	cycles     INTEGER NOT NULL DEFAULT 0,
	state      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS cycles (
	run_id        TEXT NOT NULL,
	idx           INTEGER NOT NULL,
	frame         INTEGER NOT NULL,
	frame_lost    INTEGER NOT NULL,
	ts            TEXT NOT NULL,
	detections    INTEGER NOT NULL,
	present       INTEGER NOT NULL,
	target_offset REAL NOT NULL,
	confidence    REAL NOT NULL,
	behavior      TEXT NOT NULL,
	direction     TEXT NOT NULL,
	linear        REAL NOT NULL,
	angular       REAL NOT NULL,
	PRIMARY KEY (run_id, idx),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS idx_cycles_behavior ON cycles(run_id, behavior);
`

// CycleDB is a SQLite log of runs and their cycles.
type CycleDB struct {
	db *sql.DB
}

func OpenDB(path string) (*CycleDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps :memory: databases shared across calls.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &CycleDB{db: db}, nil
}

func (d *CycleDB) Close() error {
	return d.db.Close()
}

// BeginRun registers a run so cycles can reference it.
func (d *CycleDB) BeginRun(ctx context.Context, runID, name, source string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, name, source, started_at) VALUES (?, ?, ?, ?)`,
		runID, name, source, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun records the final cycle count and terminal state.
func (d *CycleDB) FinishRun(ctx context.Context, runID string, cycles int64, state string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE runs SET cycles = ?, state = ? WHERE run_id = ?`, cycles, state, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func (d *CycleDB) insert(runID string, c servo.Cycle) error {
	_, err := d.db.Exec(`
		INSERT INTO cycles
		(run_id, idx, frame, frame_lost, ts, detections, present, target_offset, confidence, behavior, direction, linear, angular)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, c.Index, c.FrameIndex, c.FrameLost,
		c.Timestamp.UTC().Format(time.RFC3339Nano), c.Detections,
		c.Target.Present, c.Target.Offset, c.Target.Confidence,
		c.Decision.Behavior.String(), c.Decision.SearchDirection.String(),
		c.Signal.Linear, c.Signal.Angular,
	)
	if err != nil {
		return fmt.Errorf("insert cycle %d: %w", c.Index, err)
	}
	return nil
}

// Sink returns a sink that appends cycles to runID. Wrap it in sink.Async
// when the database sits on slow storage.
func (d *CycleDB) Sink(runID string) servo.Sink {
	return servo.SinkFunc(func(c servo.Cycle) error {
		return d.insert(runID, c)
	})
}

// Cycles returns the cycles of a run in emission order.
func (d *CycleDB) Cycles(ctx context.Context, runID string) ([]servo.Cycle, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT idx, frame, frame_lost, ts, detections, present, target_offset, confidence, behavior, direction, linear, angular
		FROM cycles WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []servo.Cycle
	for rows.Next() {
		var (
			c                 servo.Cycle
			ts, behavior, dir string
		)
		if err := rows.Scan(&c.Index, &c.FrameIndex, &c.FrameLost, &ts, &c.Detections,
			&c.Target.Present, &c.Target.Offset, &c.Target.Confidence,
			&behavior, &dir, &c.Signal.Linear, &c.Signal.Angular); err != nil {
			return nil, err
		}
		if c.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, err
		}
		if c.Decision.Behavior, err = servo.ParseBehavior(behavior); err != nil {
			return nil, err
		}
		if c.Decision.SearchDirection, err = servo.ParseDirection(dir); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// BehaviorCounts tallies how often each behavior was emitted in a run.
func (d *CycleDB) BehaviorCounts(ctx context.Context, runID string) (map[servo.Behavior]int, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT behavior, COUNT(*) FROM cycles WHERE run_id = ? GROUP BY behavior`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[servo.Behavior]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		b, err := servo.ParseBehavior(name)
		if err != nil {
			return nil, err
		}
		counts[b] = n
	}
	return counts, rows.Err()
}
