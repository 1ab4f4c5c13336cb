// Package output is the durable-storage collaborator: it serializes
// assembled records to JSONL files and runs the compliance purge sweep.
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quinnstephens/multifeed/internal/clock"
	"github.com/quinnstephens/multifeed/internal/core"
	"github.com/quinnstephens/multifeed/internal/feed"
)

// Writer receives each assembled record. The poller emits through this
// interface so tests can capture records without touching disk.
type Writer interface {
	Write(ctx context.Context, record *feed.Record) error
}

// JSONLWriter appends records to one file per UTC day.
type JSONLWriter struct {
	dir string
	clk clock.Clock
}

func NewJSONLWriter(dir string, clk clock.Clock) (*JSONLWriter, error) {
	if clk == nil {
		clk = clock.System()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create posts dir: %w", err)
	}
	return &JSONLWriter{dir: dir, clk: clk}, nil
}

func (w *JSONLWriter) currentFile() string {
	day := w.clk.Now().UTC().Format("2006-01-02")
	return filepath.Join(w.dir, "posts_"+day+".jsonl")
}

func (w *JSONLWriter) Write(ctx context.Context, record *feed.Record) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", record.Fullname, err)
	}

	path := w.currentFile()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write record %s: %w", record.Fullname, err)
	}

	core.LoggerFromContext(ctx).Debug("wrote record", "fullname", record.Fullname, "file", filepath.Base(path))
	return nil
}
