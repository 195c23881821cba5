package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/capflow/idgen"
)

// Metric is a single run-level datapoint.
type Metric struct {
	Name      string // e.g. "files_success", "rows_inserted", "file_duration_ms"
	Timestamp time.Time
	Value     float64
	Unit      string // "count", "milliseconds", "bytes"
}

// MetricsRecorder buffers run metrics and flushes them in batches.
type MetricsRecorder struct {
	db            *sql.DB
	runID         string
	newID         idgen.Generator
	bufferSize    int
	flushInterval time.Duration
	buffer        []*Metric
	mu            sync.Mutex
	stop          chan struct{}
	done          chan struct{}
}

// NewMetricsRecorder creates a recorder that flushes in batches.
// Recommended: bufferSize=100, flushInterval=5s.
func NewMetricsRecorder(db *sql.DB, runID string, bufferSize int, flushInterval time.Duration) *MetricsRecorder {
	mr := &MetricsRecorder{
		db:            db,
		runID:         runID,
		newID:         idgen.Prefixed("met_", idgen.Default),
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		buffer:        make([]*Metric, 0, bufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go mr.flushLoop()
	return mr
}

// Record queues a metric. Non-blocking.
func (mr *MetricsRecorder) Record(m *Metric) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.buffer = append(mr.buffer, m)
	if len(mr.buffer) >= mr.bufferSize {
		mr.flushLocked()
	}
}

// RecordCount is a convenience helper for count metrics.
func (mr *MetricsRecorder) RecordCount(name string, value float64) {
	mr.Record(&Metric{Name: name, Timestamp: time.Now().UTC(), Value: value, Unit: "count"})
}

// RecordDuration records a duration metric in milliseconds.
func (mr *MetricsRecorder) RecordDuration(name string, d time.Duration) {
	mr.Record(&Metric{Name: name, Timestamp: time.Now().UTC(),
		Value: float64(d.Milliseconds()), Unit: "milliseconds"})
}

func (mr *MetricsRecorder) flushLoop() {
	defer close(mr.done)
	ticker := time.NewTicker(mr.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			mr.mu.Lock()
			mr.flushLocked()
			mr.mu.Unlock()
		case <-mr.stop:
			mr.mu.Lock()
			mr.flushLocked()
			mr.mu.Unlock()
			return
		}
	}
}

// flushLocked writes the buffer in one transaction. Caller holds mu.
func (mr *MetricsRecorder) flushLocked() {
	if len(mr.buffer) == 0 {
		return
	}
	batch := mr.buffer
	mr.buffer = make([]*Metric, 0, mr.bufferSize)

	tx, err := mr.db.Begin()
	if err != nil {
		slog.Error("observability: metrics flush begin failed", "error", err)
		return
	}
	for _, m := range batch {
		if _, err := tx.Exec(`
			INSERT INTO run_metrics (metric_id, run_id, metric_name, timestamp, value, unit)
			VALUES (?,?,?,?,?,?)`,
			mr.newID(), mr.runID, m.Name, m.Timestamp.Unix(), m.Value, m.Unit); err != nil {
			slog.Error("observability: metric insert failed", "error", err, "metric", m.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		slog.Error("observability: metrics flush commit failed", "error", err)
	}
}

// Close flushes any buffered metrics and stops the loop.
func (mr *MetricsRecorder) Close() {
	close(mr.stop)
	<-mr.done
}

// QueryMetrics retrieves datapoints for one metric name, newest first.
func QueryMetrics(ctx context.Context, db *sql.DB, name string, limit int) ([]*Metric, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT metric_name, timestamp, value, unit FROM run_metrics
		WHERE metric_name = ? ORDER BY timestamp DESC LIMIT ?`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("observability: query metrics: %w", err)
	}
	defer rows.Close()

	var out []*Metric
	for rows.Next() {
		var m Metric
		var ts int64
		if err := rows.Scan(&m.Name, &ts, &m.Value, &m.Unit); err != nil {
			return nil, fmt.Errorf("observability: scan metric: %w", err)
		}
		m.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, &m)
	}
	return out, rows.Err()
}
