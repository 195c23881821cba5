package observability

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/capflow/dbopen"
	"github.com/hazyhaar/capflow/orchestrate"
	"github.com/hazyhaar/capflow/registry"
	_ "modernc.org/sqlite"
)

func journalDB(t *testing.T) *Journal {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return NewJournal(db, "run_test", 16)
}

func TestJournalRecordsLifecycle(t *testing.T) {
	j := journalDB(t)

	j.FileStarted("/in/a.cap", orchestrate.StrategySemantic)
	j.StateChanged("/in/a.cap", orchestrate.StateInit, orchestrate.StateRegistered)
	j.FileFinished("/in/a.cap", registry.StatusSuccess, "")
	j.Close()

	events, err := j.Query(context.Background(), &EventFilter{Path: "/in/a.cap"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events %d, want 3", len(events))
	}
	byType := make(map[string]*Event)
	for _, e := range events {
		byType[e.Type] = e
	}
	if e := byType["file_started"]; e == nil || e.Strategy != string(orchestrate.StrategySemantic) {
		t.Fatalf("file_started event %+v", e)
	}
	if e := byType["state_changed"]; e == nil || e.ToState != string(orchestrate.StateRegistered) {
		t.Fatalf("state_changed event %+v", e)
	}
	if e := byType["file_finished"]; e == nil || e.Status != string(registry.StatusSuccess) {
		t.Fatalf("file_finished event %+v", e)
	}
	for _, e := range events {
		if e.RunID != "run_test" {
			t.Fatalf("run id %q", e.RunID)
		}
	}
}

func TestJournalQueryFilters(t *testing.T) {
	j := journalDB(t)

	j.FileFinished("/in/a.cap", registry.StatusSuccess, "")
	j.FileFinished("/in/b.cap", registry.StatusError, "window not found")
	j.Close()

	events, err := j.Query(context.Background(), &EventFilter{Path: "/in/b.cap", Type: "file_finished"})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("events %d, want 1", len(events))
	}
	if events[0].ErrorMsg != "window not found" {
		t.Fatalf("error message %q", events[0].ErrorMsg)
	}
}

func TestJournalImplementsEvents(t *testing.T) {
	var _ orchestrate.Events = (*Journal)(nil)
}

func TestMetricsRecorderFlushesOnClose(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	mr := NewMetricsRecorder(db, "run_test", 100, time.Hour)

	mr.RecordCount("files_success", 3)
	mr.RecordDuration("file_duration_ms", 1500*time.Millisecond)
	mr.Close()

	ms, err := QueryMetrics(context.Background(), db, "files_success", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ms) != 1 || ms[0].Value != 3 {
		t.Fatalf("files_success %+v", ms)
	}
	ms, err = QueryMetrics(context.Background(), db, "file_duration_ms", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ms) != 1 || ms[0].Value != 1500 {
		t.Fatalf("file_duration_ms %+v", ms)
	}
}

func TestHeartbeatWriterProbes(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	h := NewHeartbeatWriter(db, "run_test", time.Hour)
	h.Start()
	h.Stop()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM run_heartbeats WHERE run_id = 'run_test'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	// Start writes one immediate probe before the first tick.
	if n != 1 {
		t.Fatalf("heartbeats %d, want 1", n)
	}
}
