package report

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/capflow/dbopen"
	"github.com/hazyhaar/capflow/loader"
	"github.com/hazyhaar/capflow/registry"
	_ "modernc.org/sqlite"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openRegistry(t *testing.T, dir string) *registry.Registry {
	t.Helper()
	reg, err := registry.Open(filepath.Join(dir, "registry.json"))
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

// capture writes a dummy capture file so registry snapshots succeed.
func capture(t *testing.T, dir, name string) string {
	t.Helper()
	sub := filepath.Join(dir, "input")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(sub, name)
	if err := os.WriteFile(path, []byte("capture"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func markSuccess(t *testing.T, reg *registry.Registry, path string) {
	t.Helper()
	if err := reg.MarkStarted(path); err != nil {
		t.Fatal(err)
	}
	out := registry.Export{
		Filename: "out.csv", Path: "/out/out.csv", Size: 1024, Verified: true,
	}
	if err := reg.MarkSuccess(path, out, time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateCSVSummaryTotals(t *testing.T) {
	dir := t.TempDir()
	reg := openRegistry(t, dir)

	good := capture(t, dir, "A_0000000001.cap")
	bad := capture(t, dir, "B_0000000002.cap")
	markSuccess(t, reg, good)
	if err := reg.MarkStarted(bad); err != nil {
		t.Fatal(err)
	}
	if err := reg.MarkError(bad, "window not found", time.Second); err != nil {
		t.Fatal(err)
	}

	sumPath := filepath.Join(dir, "csv_summary.json")
	sum, err := UpdateCSVSummary(sumPath, reg, []string{good, bad}, discard())
	if err != nil {
		t.Fatalf("UpdateCSVSummary: %v", err)
	}
	if sum.Totals.Files != 2 || sum.Totals.Success != 1 || sum.Totals.Error != 1 {
		t.Fatalf("totals %+v", sum.Totals)
	}
	if sum.Totals.Verified != 1 {
		t.Fatalf("verified %d, want 1", sum.Totals.Verified)
	}
}

func TestUpdateCSVSummaryIsAdditiveAcrossSourceDirs(t *testing.T) {
	base := t.TempDir()
	sumPath := filepath.Join(base, "csv_summary.json")

	// First session, source dir "input" under dirA.
	dirA := filepath.Join(base, "a")
	regA := openRegistry(t, dirA)
	fileA := capture(t, dirA, "A_0000000001.cap")
	markSuccess(t, regA, fileA)
	if _, err := UpdateCSVSummary(sumPath, regA, []string{fileA}, discard()); err != nil {
		t.Fatal(err)
	}

	// Second session, same filename from a different source dir.
	dirB := filepath.Join(base, "b")
	regB := openRegistry(t, dirB)
	fileB := capture(t, dirB, "A_0000000001.cap")
	if err := regB.MarkStarted(fileB); err != nil {
		t.Fatal(err)
	}
	if err := regB.MarkError(fileB, "boom", time.Second); err != nil {
		t.Fatal(err)
	}
	sum, err := UpdateCSVSummary(sumPath, regB, []string{fileB}, discard())
	if err != nil {
		t.Fatal(err)
	}

	// Both sessions are visible: same filename, distinct source dirs. The
	// leaf directory is "input" in both trees, so the key must carry the
	// full path.
	if len(sum.Entries) != 2 {
		t.Fatalf("entries %d, want 2: %v", len(sum.Entries), sum.Entries)
	}
	dirs := make(map[string]bool)
	for _, e := range sum.Entries {
		dirs[e.SourceDir] = true
	}
	if !dirs[filepath.Dir(fileA)] || !dirs[filepath.Dir(fileB)] {
		t.Fatalf("source dirs %v, want both full paths", dirs)
	}
	if sum.Totals.Success != 1 || sum.Totals.Error != 1 {
		t.Fatalf("merged totals %+v", sum.Totals)
	}
}

func TestUpdateCSVSummaryRecoveryTouchesOnlyRetriedFiles(t *testing.T) {
	dir := t.TempDir()
	reg := openRegistry(t, dir)
	sumPath := filepath.Join(dir, "csv_summary.json")

	a := capture(t, dir, "A_0000000001.cap")
	b := capture(t, dir, "B_0000000002.cap")
	markSuccess(t, reg, a)
	markSuccess(t, reg, b)
	if _, err := UpdateCSVSummary(sumPath, reg, []string{a, b}, discard()); err != nil {
		t.Fatal(err)
	}

	// Recovery session retries only b; a's entry must survive untouched.
	if err := reg.MarkStarted(b); err != nil {
		t.Fatal(err)
	}
	if err := reg.MarkError(b, "stale coordinates", time.Second); err != nil {
		t.Fatal(err)
	}
	sum, err := UpdateCSVSummary(sumPath, reg, []string{b}, discard())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Totals.Files != 2 || sum.Totals.Success != 1 || sum.Totals.Error != 1 {
		t.Fatalf("totals after recovery %+v", sum.Totals)
	}
}

func TestUpdateCSVSummaryCorruptFileStartsFresh(t *testing.T) {
	dir := t.TempDir()
	reg := openRegistry(t, dir)
	sumPath := filepath.Join(dir, "csv_summary.json")
	if err := os.WriteFile(sumPath, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	a := capture(t, dir, "A_0000000001.cap")
	markSuccess(t, reg, a)
	sum, err := UpdateCSVSummary(sumPath, reg, []string{a}, discard())
	if err != nil {
		t.Fatalf("UpdateCSVSummary over corrupt file: %v", err)
	}
	if sum.Totals.Files != 1 {
		t.Fatalf("totals %+v", sum.Totals)
	}
}

func TestWriteETLSummaryWithDatabase(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(loader.DDL))
	if _, err := db.Exec(`INSERT INTO code (code) VALUES ('0000000042')`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO measurement (code_id, utc_time) VALUES (1, '2023-05-01 00:10:00')`); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "etl_summary.json")
	files := []FileLoad{
		{Filename: "a.csv", Code: "0000000042", Stats: loader.Stats{Rows: 3, Inserted: 3}},
	}
	sum, err := WriteETLSummary(context.Background(), path, db, files, discard())
	if err != nil {
		t.Fatalf("WriteETLSummary: %v", err)
	}
	if sum.DB.ConnectionStatus != "OK" {
		t.Fatalf("connection status %q", sum.DB.ConnectionStatus)
	}
	if sum.DB.Codes != 1 || sum.DB.Measurements != 1 {
		t.Fatalf("db summary %+v", sum.DB)
	}
	if sum.Rows != 3 {
		t.Fatalf("rows %d, want 3", sum.Rows)
	}
}

func TestWriteETLSummaryDatabaseUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etl_summary.json")
	sum, err := WriteETLSummary(context.Background(), path, nil, nil, discard())
	if err != nil {
		t.Fatalf("WriteETLSummary: %v", err)
	}
	if sum.DB.ConnectionStatus != "Error" {
		t.Fatalf("connection status %q, want Error", sum.DB.ConnectionStatus)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		DB struct {
			ConnectionStatus string `json:"connection_status"`
		} `json:"db_summary"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.DB.ConnectionStatus != "Error" {
		t.Fatalf("persisted status %q, want Error", doc.DB.ConnectionStatus)
	}
}
