package observability

import "database/sql"

// Schema is the DDL for the extraction journal tables. The journal lives in
// its own database, separate from the measurement store, so event writes
// never contend with the loader's row transactions.
const Schema = `
-- Per-file lifecycle events
CREATE TABLE IF NOT EXISTS extraction_events (
    event_id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    path TEXT NOT NULL,
    event_type TEXT NOT NULL,
    strategy TEXT,
    from_state TEXT,
    to_state TEXT,
    status TEXT,
    error_message TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_run_time
    ON extraction_events(run_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_path
    ON extraction_events(path, created_at DESC);

-- Run-level metric datapoints
CREATE TABLE IF NOT EXISTS run_metrics (
    metric_id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    metric_name TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    value REAL NOT NULL,
    unit TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_run_metrics_name_time
    ON run_metrics(metric_name, timestamp DESC);

-- Operator-console liveness probes
CREATE TABLE IF NOT EXISTS run_heartbeats (
    heartbeat_id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    hostname TEXT NOT NULL,
    pid INTEGER NOT NULL,
    timestamp INTEGER NOT NULL,
    goroutines_count INTEGER,
    memory_alloc_mb REAL,
    memory_sys_mb REAL,
    gc_count INTEGER
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_run_time
    ON run_heartbeats(run_id, timestamp DESC);
`

// Init applies the journal schema. Idempotent.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
