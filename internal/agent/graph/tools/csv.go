package tools

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/agri-rag/server/internal/agent/model"
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// CSVWriter writes export files under Dir as <stem>_<YYYYMMDD_HHMMSS>.csv.
type CSVWriter struct {
	Dir string
	now func() time.Time
}

func NewCSVWriter(dir string) *CSVWriter {
	return &CSVWriter{Dir: dir, now: time.Now}
}

// Write stores the table and returns the file path. Short rows are padded to
// the header width.
func (w *CSVWriter) Write(req model.CSVRequest) (string, error) {
	if len(req.Headers) == 0 {
		return "", fmt.Errorf("headers are required")
	}
	for i, row := range req.Rows {
		if len(row) > len(req.Headers) {
			return "", fmt.Errorf("row %d has %d cells for %d headers", i, len(row), len(req.Headers))
		}
	}

	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.csv", fileStem(req.Filename), w.now().Format("20060102_150405"))
	path := filepath.Join(w.Dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(req.Headers); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range req.Rows {
		if pad := len(req.Headers) - len(row); pad > 0 {
			row = append(row, make([]string, pad)...)
		}
		if err := cw.Write(row); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return path, nil
}

func fileStem(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.Trim(unsafeFileChars.ReplaceAllString(name, "_"), "_")
	if name == "" || name == "." {
		return "export"
	}
	return name
}
