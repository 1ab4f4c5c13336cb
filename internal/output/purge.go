package output

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quinnstephens/multifeed/internal/clock"
	"github.com/quinnstephens/multifeed/internal/core"
)

// Purger removes records flagged deleted/removed from the JSONL output
// files. It is a simple scheduled file scan, interval-gated so continuous
// mode does not rescan every cycle.
type Purger struct {
	dir      string
	enabled  bool
	interval time.Duration
	clk      clock.Clock

	lastPurge time.Time
}

func NewPurger(dir string, enabled bool, interval time.Duration, clk clock.Clock) *Purger {
	if clk == nil {
		clk = clock.System()
	}
	return &Purger{dir: dir, enabled: enabled, interval: interval, clk: clk}
}

// MaybePurge runs a sweep when purging is enabled and the interval since the
// previous sweep has elapsed. Returns the number of purged records.
func (p *Purger) MaybePurge(ctx context.Context) (int, error) {
	if !p.enabled {
		return 0, nil
	}
	now := p.clk.Now()
	if !p.lastPurge.IsZero() && now.Sub(p.lastPurge) < p.interval {
		return 0, nil
	}
	p.lastPurge = now
	return p.Purge(ctx)
}

// Purge scans every JSONL file under the output directory and rewrites the
// ones containing deleted/removed records.
func (p *Purger) Purge(ctx context.Context) (int, error) {
	logger := core.LoggerFromContext(ctx)

	matches, err := filepath.Glob(filepath.Join(p.dir, "*.jsonl"))
	if err != nil {
		return 0, fmt.Errorf("scan posts dir: %w", err)
	}

	total := 0
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		purged, err := p.purgeFile(path)
		if err != nil {
			logger.Error("purge failed for file", "file", filepath.Base(path), "error", err)
			continue
		}
		total += purged
	}

	if total > 0 {
		logger.Info("purged deleted/removed records", "count", total)
	}
	return total, nil
}

func (p *Purger) purgeFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}

	var kept [][]byte
	purged := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var flags struct {
			IsDeletedOrRemoved bool `json:"is_deleted_or_removed"`
		}
		if err := json.Unmarshal(line, &flags); err != nil {
			// Keep malformed lines for manual inspection.
			kept = append(kept, append([]byte(nil), line...))
			continue
		}
		if flags.IsDeletedOrRemoved {
			purged++
			continue
		}
		kept = append(kept, append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		f.Close()
		return 0, err
	}
	f.Close()

	if purged == 0 {
		return 0, nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".purge-*.tmp")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	for _, line := range kept {
		if _, err := tmp.Write(append(line, '\n')); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return 0, err
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return 0, err
	}
	return purged, nil
}
