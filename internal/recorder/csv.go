package recorder

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// CSVRow is one line of the speed log.
type CSVRow struct {
	Time      time.Time
	Speed     float64
	Units     string
	StdDev    float64
	ImagePath string
	Area      int
	Direction string
	Location  string
}

func (r CSVRow) record() []string {
	return []string{
		r.Time.Format("2006-01-02 15:04:05"),
		strconv.FormatFloat(r.Speed, 'f', 1, 64),
		r.Units,
		strconv.FormatFloat(r.StdDev, 'f', 1, 64),
		r.ImagePath,
		strconv.Itoa(r.Area),
		r.Direction,
		r.Location,
	}
}

// CSVLog appends speed rows to <dir>/<name>.csv.
type CSVLog struct {
	path string
	mu   sync.Mutex
}

// NewCSVLog creates a CSVLog for the given configuration name.
func NewCSVLog(dir, name string) *CSVLog {
	return &CSVLog{path: filepath.Join(dir, name+".csv")}
}

// Path returns the CSV file path.
func (l *CSVLog) Path() string {
	return l.path
}

// Append writes one row, creating the file and its directory if needed.
func (l *CSVLog) Append(row CSVRow) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create csv dir: %w", err)
	}
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		log.Printf("Created new data csv file %s", l.path)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open csv log: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(row.record()); err != nil {
		f.Close()
		return fmt.Errorf("write csv row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush csv row: %w", err)
	}
	return f.Close()
}
