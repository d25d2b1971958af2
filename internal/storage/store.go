package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/servoloop/internal/control"
	"github.com/san-kum/servoloop/internal/decision"
	"github.com/san-kum/servoloop/internal/loop"
	"github.com/san-kum/servoloop/internal/servo"
)

const (
	metadataFile = "metadata.json"
	cyclesFile   = "cycles.csv"
)

// Store keeps one directory per run under baseDir, holding metadata.json
// and cycles.csv.
type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) Dir() string {
	return s.baseDir
}

type RunMetadata struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Source    string             `json:"source"`
	Timestamp time.Time          `json:"timestamp"`
	Cycles    int64              `json:"cycles"`
	State     string             `json:"state"`
	Error     string             `json:"error,omitempty"`
	Duration  time.Duration      `json:"duration"`
	Decision  decision.Config    `json:"decision"`
	Control   control.Config     `json:"control"`
	Stats     loop.Stats         `json:"stats"`
	Metrics   map[string]float64 `json:"metrics"`
}

// NewRunID returns a sortable, unique run identifier.
func NewRunID(now time.Time) string {
	return now.UTC().Format("20060102-150405") + "_" + uuid.NewString()[:8]
}

// MetadataFor fills the run summary from a finished loop result.
func MetadataFor(name, source string, dc decision.Config, cc control.Config, res *loop.Result, runErr error) RunMetadata {
	meta := RunMetadata{
		Name:      name,
		Source:    source,
		Timestamp: time.Now(),
		Decision:  dc,
		Control:   cc,
		Metrics:   map[string]float64{},
	}
	if res != nil {
		meta.Cycles = res.Cycles
		meta.State = res.State.String()
		meta.Duration = res.Duration
		meta.Stats = res.Stats
		meta.Metrics = res.Metrics
	}
	if runErr != nil {
		meta.Error = runErr.Error()
	}
	return meta
}

// Save writes a run and returns its ID. An empty meta.ID is generated.
func (s *Store) Save(meta RunMetadata, cycles []servo.Cycle) (string, error) {
	if meta.ID == "" {
		meta.ID = NewRunID(time.Now())
	}
	runDir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	metaFile, err := os.Create(filepath.Join(runDir, metadataFile))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(runDir, cyclesFile))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	if err := WriteCSV(csvFile, cycles); err != nil {
		return "", fmt.Errorf("write cycles: %w", err)
	}
	return meta.ID, nil
}

// List returns all runs, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Timestamp.After(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (s *Store) LoadCycles(runID string) ([]servo.Cycle, error) {
	f, err := os.Open(filepath.Join(s.baseDir, runID, cyclesFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}
