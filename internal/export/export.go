// Package export writes sealed sessions to CSV and JSON files, the external
// persistence format of the original mindfield lab exports.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mindfield/internal/session"
)

// Format selects which files a Writer emits.
type Format int

const (
	FormatCSV Format = 1 << iota
	FormatJSON
	FormatBoth = FormatCSV | FormatJSON
)

// ParseFormat converts a config string to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "both", "":
		return FormatBoth, nil
	default:
		return 0, fmt.Errorf("export: unknown format %q", s)
	}
}

// Writer exports sealed sessions to files in a directory. It implements
// session.Exporter.
type Writer struct {
	dir    string
	format Format
}

// NewWriter creates a writer emitting into dir.
func NewWriter(dir string, format Format) *Writer {
	return &Writer{dir: dir, format: format}
}

// Export writes the session in the configured formats.
func (w *Writer) Export(sess *session.Session) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	base := fmt.Sprintf("mindfield_%s_%s_%s",
		sess.Summary.Mode,
		sess.StartedAt.Format("20060102_150405"),
		sess.ID)

	if w.format&FormatCSV != 0 {
		if err := writeCSV(filepath.Join(w.dir, base+".csv"), sess); err != nil {
			return err
		}
	}
	if w.format&FormatJSON != 0 {
		if err := writeJSON(filepath.Join(w.dir, base+".json"), sess); err != nil {
			return err
		}
	}
	return nil
}

func formatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}
