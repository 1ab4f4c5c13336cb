package output

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	clockmock "github.com/quinnstephens/multifeed/internal/clock/mock"
	"github.com/quinnstephens/multifeed/internal/feed"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan %s: %v", path, err)
	}
	return lines
}

func TestJSONLWriterAppendsOneLinePerRecord(t *testing.T) {
	dir := t.TempDir()
	clk := clockmock.NewClock(time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC))
	writer, err := NewJSONLWriter(dir, clk)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	ctx := context.Background()
	for _, fn := range []string{"t3_a", "t3_b"} {
		if err := writer.Write(ctx, &feed.Record{Fullname: fn, Title: "post"}); err != nil {
			t.Fatalf("write %s: %v", fn, err)
		}
	}

	path := filepath.Join(dir, "posts_2026-08-31.jsonl")
	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	var record feed.Record
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("line 0 is not valid json: %v", err)
	}
	if record.Fullname != "t3_a" {
		t.Fatalf("line 0 fullname = %q, want t3_a", record.Fullname)
	}
}

func TestJSONLWriterRollsOverAtMidnightUTC(t *testing.T) {
	dir := t.TempDir()
	clk := clockmock.NewClock(time.Date(2026, 8, 31, 23, 59, 0, 0, time.UTC))
	writer, err := NewJSONLWriter(dir, clk)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	ctx := context.Background()
	if err := writer.Write(ctx, &feed.Record{Fullname: "t3_a"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	clk.Advance(2 * time.Minute)
	if err := writer.Write(ctx, &feed.Record{Fullname: "t3_b"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "posts_2026-08-31.jsonl")); err != nil {
		t.Fatalf("missing first day file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "posts_2026-09-01.jsonl")); err != nil {
		t.Fatalf("missing rolled-over file: %v", err)
	}
}

func TestPurgeRemovesFlaggedRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "posts_2026-08-31.jsonl")
	content := strings.Join([]string{
		`{"fullname":"t3_live","is_deleted_or_removed":false}`,
		`{"fullname":"t3_gone","is_deleted_or_removed":true}`,
		`this line is not json at all`,
		`{"fullname":"t3_also_gone","is_deleted_or_removed":true,"removed_hint":"author_deleted"}`,
	}, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	clk := clockmock.NewClock(time.Unix(1700000000, 0))
	purger := NewPurger(dir, true, time.Hour, clk)

	purged, err := purger.Purge(context.Background())
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if purged != 2 {
		t.Fatalf("purged = %d, want 2", purged)
	}

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("remaining lines = %d, want live record plus malformed line", len(lines))
	}
	if !strings.Contains(lines[0], "t3_live") {
		t.Fatalf("line 0 = %q, want the live record", lines[0])
	}
	// Malformed lines survive for manual inspection.
	if lines[1] != "this line is not json at all" {
		t.Fatalf("line 1 = %q, want the malformed line kept", lines[1])
	}
}

func TestPurgeLeavesCleanFilesUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "posts_2026-08-31.jsonl")
	content := `{"fullname":"t3_live","is_deleted_or_removed":false}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	before, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	clk := clockmock.NewClock(time.Unix(1700000000, 0))
	purger := NewPurger(dir, true, time.Hour, clk)
	purged, err := purger.Purge(context.Background())
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if purged != 0 {
		t.Fatalf("purged = %d, want 0", purged)
	}

	after, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !after.ModTime().Equal(before.ModTime()) {
		t.Fatalf("clean file was rewritten")
	}
}

func TestMaybePurgeHonorsInterval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "posts.jsonl")
	flagged := `{"fullname":"t3_gone","is_deleted_or_removed":true}` + "\n"
	if err := os.WriteFile(path, []byte(flagged), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	clk := clockmock.NewClock(time.Unix(1700000000, 0))
	purger := NewPurger(dir, true, time.Hour, clk)

	purged, err := purger.MaybePurge(context.Background())
	if err != nil {
		t.Fatalf("first purge failed: %v", err)
	}
	if purged != 1 {
		t.Fatalf("first purge = %d, want 1", purged)
	}

	// Re-flag and call again inside the interval: no sweep runs.
	if err := os.WriteFile(path, []byte(flagged), 0o644); err != nil {
		t.Fatalf("rewrite fixture: %v", err)
	}
	clk.Advance(10 * time.Minute)
	purged, err = purger.MaybePurge(context.Background())
	if err != nil {
		t.Fatalf("second purge failed: %v", err)
	}
	if purged != 0 {
		t.Fatalf("sweep ran inside the interval, purged %d", purged)
	}

	clk.Advance(time.Hour)
	purged, err = purger.MaybePurge(context.Background())
	if err != nil {
		t.Fatalf("third purge failed: %v", err)
	}
	if purged != 1 {
		t.Fatalf("sweep after interval = %d, want 1", purged)
	}
}

func TestMaybePurgeDisabledDoesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "posts.jsonl")
	flagged := `{"fullname":"t3_gone","is_deleted_or_removed":true}` + "\n"
	if err := os.WriteFile(path, []byte(flagged), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	clk := clockmock.NewClock(time.Unix(1700000000, 0))
	purger := NewPurger(dir, false, time.Hour, clk)
	purged, err := purger.MaybePurge(context.Background())
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if purged != 0 {
		t.Fatalf("disabled purger swept %d records", purged)
	}
	if lines := readLines(t, path); len(lines) != 1 {
		t.Fatalf("disabled purger modified the file")
	}
}
