package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"candlesync/pkg/market"
)

// SweepRecord captures one end-to-end sync sweep for audit and analysis.
type SweepRecord struct {
	Timestamp      time.Time          `json:"timestamp"`
	Granularity    market.Granularity `json:"granularity"`
	SweepNumber    int                `json:"sweep_number"`
	Symbols        []string           `json:"symbols,omitempty"`
	RowsInserted   int                `json:"rows_inserted"`
	SkippedClosed  int                `json:"skipped_closed,omitempty"`
	Throttled      int                `json:"throttled,omitempty"`
	Failures       map[string]string  `json:"failures,omitempty"`
	DurationMillis int64              `json:"duration_millis,omitempty"`
	Success        bool               `json:"success"`
}

// Writer persists sweep records to a directory as JSON files (journal style).
type Writer struct {
	dir   string
	seq   int
	nowFn func() time.Time
}

// NewWriter constructs a journal writer.
func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = "journal"
	}
	_ = os.MkdirAll(dir, 0o755)
	return &Writer{dir: dir, nowFn: time.Now}
}

// WriteSweep writes a sweep record to a timestamped JSON file.
func (w *Writer) WriteSweep(rec *SweepRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("journal: nil record")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = w.nowFn()
	}
	w.seq++
	rec.SweepNumber = w.seq
	name := fmt.Sprintf("sweep_%s_%s_%05d.json",
		rec.Granularity, rec.Timestamp.UTC().Format("20060102_150405"), w.seq)
	path := filepath.Join(w.dir, name)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
