// Package observability persists the extraction run's lifecycle to a
// SQLite journal: per-file state transitions, run metrics and liveness
// heartbeats. The operator console queries the journal instead of tailing
// logs.
//
// All persistence is async and non-blocking: a full buffer falls back to a
// synchronous insert rather than applying backpressure to the extraction
// loop.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/capflow/idgen"
	"github.com/hazyhaar/capflow/orchestrate"
	"github.com/hazyhaar/capflow/registry"
)

// Event is one journal row.
type Event struct {
	EventID   string
	RunID     string
	Path      string
	Type      string // "file_started", "state_changed", "file_finished"
	Strategy  string
	FromState string
	ToState   string
	Status    string
	ErrorMsg  string
	Created   time.Time
}

// EventFilter narrows Query results.
type EventFilter struct {
	RunID string
	Path  string
	Type  string
	Limit int // default 100
}

// Journal records extraction events for one run. It implements the
// orchestrator's Events interface, so pass it straight into the run config.
type Journal struct {
	db    *sql.DB
	runID string
	newID idgen.Generator
	ch    chan *Event
	stop  chan struct{}
	done  chan struct{}
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithEventIDGenerator sets a custom generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) JournalOption {
	return func(j *Journal) { j.newID = gen }
}

// NewJournal creates an async journal for the given run. Recommended
// bufferSize: 256. Close must be called to drain the buffer.
func NewJournal(db *sql.DB, runID string, bufferSize int, opts ...JournalOption) *Journal {
	j := &Journal{
		db:    db,
		runID: runID,
		newID: idgen.Prefixed("evt_", idgen.Default),
		ch:    make(chan *Event, bufferSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(j)
	}
	go j.flushLoop()
	return j
}

// RunID returns the run identifier the journal stamps on every event.
func (j *Journal) RunID() string { return j.runID }

// FileStarted implements orchestrate.Events.
func (j *Journal) FileStarted(path string, strategy orchestrate.Strategy) {
	j.enqueue(&Event{Path: path, Type: "file_started", Strategy: string(strategy)})
}

// StateChanged implements orchestrate.Events.
func (j *Journal) StateChanged(path string, from, to orchestrate.State) {
	j.enqueue(&Event{Path: path, Type: "state_changed", FromState: string(from), ToState: string(to)})
}

// FileFinished implements orchestrate.Events.
func (j *Journal) FileFinished(path string, status registry.Status, errMsg string) {
	j.enqueue(&Event{Path: path, Type: "file_finished", Status: string(status), ErrorMsg: errMsg})
}

// enqueue stamps and queues an event, inserting synchronously when the
// buffer is full.
func (j *Journal) enqueue(e *Event) {
	e.EventID = j.newID()
	e.RunID = j.runID
	e.Created = time.Now().UTC()
	select {
	case j.ch <- e:
	default:
		slog.Warn("observability: journal buffer full, sync fallback", "path", e.Path)
		if err := j.insert(context.Background(), e); err != nil {
			slog.Error("observability: sync fallback failed", "error", err)
		}
	}
}

func (j *Journal) flushLoop() {
	defer close(j.done)
	for {
		select {
		case e := <-j.ch:
			if err := j.insert(context.Background(), e); err != nil {
				slog.Error("observability: event insert failed", "error", err, "type", e.Type)
			}
		case <-j.stop:
			// Drain whatever is queued before exiting.
			for {
				select {
				case e := <-j.ch:
					if err := j.insert(context.Background(), e); err != nil {
						slog.Error("observability: drain insert failed", "error", err)
					}
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) insert(ctx context.Context, e *Event) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO extraction_events (
			event_id, run_id, path, event_type, strategy,
			from_state, to_state, status, error_message, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.EventID, e.RunID, e.Path, e.Type, e.Strategy,
		e.FromState, e.ToState, e.Status, e.ErrorMsg, e.Created.Unix())
	if err != nil {
		return fmt.Errorf("observability: insert event: %w", err)
	}
	return nil
}

// Close stops the flush loop and waits for queued events to land.
func (j *Journal) Close() {
	close(j.stop)
	<-j.done
}

// Query retrieves journal events matching the filter, newest first.
func (j *Journal) Query(ctx context.Context, f *EventFilter) ([]*Event, error) {
	q := `SELECT event_id, run_id, path, event_type, strategy,
		from_state, to_state, status, error_message, created_at
		FROM extraction_events WHERE 1=1`
	var args []any

	if f.RunID != "" {
		q += " AND run_id = ?"
		args = append(args, f.RunID)
	}
	if f.Path != "" {
		q += " AND path = ?"
		args = append(args, f.Path)
	}
	if f.Type != "" {
		q += " AND event_type = ?"
		args = append(args, f.Type)
	}
	q += " ORDER BY created_at DESC, event_id DESC LIMIT ?"
	limit := 100
	if f.Limit > 0 {
		limit = f.Limit
	}
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var e Event
		var created int64
		if err := rows.Scan(&e.EventID, &e.RunID, &e.Path, &e.Type, &e.Strategy,
			&e.FromState, &e.ToState, &e.Status, &e.ErrorMsg, &created); err != nil {
			return nil, fmt.Errorf("observability: scan event: %w", err)
		}
		e.Created = time.Unix(created, 0).UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}
