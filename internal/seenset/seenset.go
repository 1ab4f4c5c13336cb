// Package seenset is the bounded, ordered, persisted dedup set of item
// fullnames. Insertion order is discovery order; when the configured bound
// is exceeded the oldest entries are evicted first.
package seenset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// state is the on-disk schema. It is shared with other tooling, so the
// field names are fixed.
type state struct {
	SeenFullnames []string `json:"seen_fullnames"`
	LastRunUTC    float64  `json:"last_run_utc"`
}

// Store keeps the seen fullnames in insertion order with a map index for
// O(1) membership checks.
type Store struct {
	path    string
	max     int
	order   []string
	index   map[string]struct{}
	lastRun float64
}

// Load reads the store from path. A missing file yields an empty store; a
// corrupt file is an error rather than a silent reset, since resetting
// would re-emit every item in the next listing.
func Load(path string, maxKeep int) (*Store, error) {
	if maxKeep < 1 {
		return nil, fmt.Errorf("seenset: max keep must be positive, got %d", maxKeep)
	}
	s := &Store{
		path:  path,
		max:   maxKeep,
		index: map[string]struct{}{},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("seenset: read state: %w", err)
	}
	if err := s.loadFrom(data); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadFrom(data []byte) error {
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("seenset: invalid state file: %w", err)
	}
	for _, fullname := range st.SeenFullnames {
		if fullname == "" {
			continue
		}
		if _, ok := s.index[fullname]; ok {
			continue
		}
		s.order = append(s.order, fullname)
		s.index[fullname] = struct{}{}
	}
	s.lastRun = st.LastRunUTC
	s.trim()
	return nil
}

// Contains reports whether fullname has been recorded and not yet evicted.
func (s *Store) Contains(fullname string) bool {
	_, ok := s.index[fullname]
	return ok
}

// MarkSeen records fullname, evicting the oldest entries if the bound is
// exceeded. Recording an already-present fullname is a no-op.
func (s *Store) MarkSeen(fullname string) {
	if fullname == "" {
		return
	}
	if _, ok := s.index[fullname]; ok {
		return
	}
	s.order = append(s.order, fullname)
	s.index[fullname] = struct{}{}
	s.trim()
}

func (s *Store) trim() {
	if len(s.order) <= s.max {
		return
	}
	excess := len(s.order) - s.max
	for _, evicted := range s.order[:excess] {
		delete(s.index, evicted)
	}
	s.order = append([]string(nil), s.order[excess:]...)
}

// Len returns the number of retained fullnames.
func (s *Store) Len() int {
	return len(s.order)
}

// Fullnames returns the retained fullnames in insertion order.
func (s *Store) Fullnames() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// LastRun returns the recorded end of the previous cycle, zero if never run.
func (s *Store) LastRun() time.Time {
	if s.lastRun == 0 {
		return time.Time{}
	}
	sec := int64(s.lastRun)
	nsec := int64((s.lastRun - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}

// SetLastRun records the completion instant of the current cycle.
func (s *Store) SetLastRun(t time.Time) {
	s.lastRun = float64(t.UnixNano()) / float64(time.Second)
}

// Snapshot serializes the store for persistence.
func (s *Store) Snapshot() ([]byte, error) {
	st := state{
		SeenFullnames: s.Fullnames(),
		LastRunUTC:    s.lastRun,
	}
	if st.SeenFullnames == nil {
		st.SeenFullnames = []string{}
	}
	return json.MarshalIndent(st, "", "  ")
}

// Save persists the store atomically: write to a temp file in the same
// directory, then rename over the target, so a crash mid-write can never
// leave a truncated state file.
func (s *Store) Save() error {
	data, err := s.Snapshot()
	if err != nil {
		return fmt.Errorf("seenset: encode state: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("seenset: create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("seenset: create temp state: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("seenset: write temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("seenset: close temp state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("seenset: replace state: %w", err)
	}
	return nil
}
