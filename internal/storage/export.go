package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/san-kum/servoloop/internal/servo"
)

var csvHeader = []string{
	"index", "frame", "frame_lost", "timestamp", "detections",
	"present", "offset", "confidence",
	"behavior", "direction", "linear", "angular",
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// WriteCSV writes cycles with a header row.
func WriteCSV(w io.Writer, cycles []servo.Cycle) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, c := range cycles {
		row := []string{
			strconv.FormatInt(c.Index, 10),
			strconv.FormatInt(c.FrameIndex, 10),
			strconv.FormatBool(c.FrameLost),
			c.Timestamp.UTC().Format(time.RFC3339Nano),
			strconv.Itoa(c.Detections),
			strconv.FormatBool(c.Target.Present),
			formatFloat(c.Target.Offset),
			formatFloat(c.Target.Confidence),
			c.Decision.Behavior.String(),
			c.Decision.SearchDirection.String(),
			formatFloat(c.Signal.Linear),
			formatFloat(c.Signal.Angular),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses the format produced by WriteCSV.
func ReadCSV(r io.Reader) ([]servo.Cycle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)

	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return []servo.Cycle{}, nil
	}

	cycles := make([]servo.Cycle, 0, len(records)-1)
	for i, rec := range records[1:] {
		c, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		cycles = append(cycles, c)
	}
	return cycles, nil
}

func parseRow(rec []string) (servo.Cycle, error) {
	var (
		c    servo.Cycle
		errs []error
	)
	parseInt := func(s string) int64 {
		v, err := strconv.ParseInt(s, 10, 64)
		errs = append(errs, err)
		return v
	}
	parseF := func(s string) float64 {
		v, err := strconv.ParseFloat(s, 64)
		errs = append(errs, err)
		return v
	}
	parseB := func(s string) bool {
		v, err := strconv.ParseBool(s)
		errs = append(errs, err)
		return v
	}

	c.Index = parseInt(rec[0])
	c.FrameIndex = parseInt(rec[1])
	c.FrameLost = parseB(rec[2])
	ts, err := time.Parse(time.RFC3339Nano, rec[3])
	errs = append(errs, err)
	c.Timestamp = ts
	c.Detections = int(parseInt(rec[4]))
	c.Target.Present = parseB(rec[5])
	c.Target.Offset = parseF(rec[6])
	c.Target.Confidence = parseF(rec[7])
	c.Decision.Behavior, err = servo.ParseBehavior(rec[8])
	errs = append(errs, err)
	c.Decision.SearchDirection, err = servo.ParseDirection(rec[9])
	errs = append(errs, err)
	c.Signal.Linear = parseF(rec[10])
	c.Signal.Angular = parseF(rec[11])

	for _, err := range errs {
		if err != nil {
			return servo.Cycle{}, err
		}
	}
	return c, nil
}

type exportData struct {
	Run    RunMetadata   `json:"run"`
	Cycles []servo.Cycle `json:"cycles"`
}

// ExportJSON writes a run and its cycles as one indented JSON document.
func ExportJSON(w io.Writer, meta RunMetadata, cycles []servo.Cycle) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(exportData{Run: meta, Cycles: cycles})
}
