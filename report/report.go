// Package report produces the persistent JSON summaries downstream tooling
// reads: one for the CSV extraction phase and one for the ETL phase.
//
// The CSV summary is additive across runs. Entries are keyed by
// (filename, source directory, date), so a session over one input
// directory never erases what earlier sessions recorded for others;
// global metrics are recomputed from the merged set on every write.
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hazyhaar/capflow/loader"
	"github.com/hazyhaar/capflow/registry"
)

const csvSummaryVersion = "1"

// CSVEntry is one capture file's outcome within a session.
type CSVEntry struct {
	Filename    string    `json:"filename"`
	SourceDir   string    `json:"source_dir"`
	Date        string    `json:"date"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	ErrorMsg    string    `json:"error_message,omitempty"`
	ExportPath  string    `json:"export_path,omitempty"`
	ExportSize  int64     `json:"export_size,omitempty"`
	Verified    bool      `json:"verified"`
	LastAttempt time.Time `json:"last_attempt,omitzero"`
}

// CSVTotals are recomputed from the merged entry set on every write.
type CSVTotals struct {
	Files    int `json:"files"`
	Success  int `json:"success"`
	Error    int `json:"error"`
	Skipped  int `json:"skipped"`
	Verified int `json:"verified"`
}

// CSVSummary is the durable CSV-phase document.
type CSVSummary struct {
	Version string              `json:"version"`
	Updated time.Time           `json:"updated"`
	Entries map[string]CSVEntry `json:"entries"`
	Totals  CSVTotals           `json:"totals"`
}

// entryKey builds the additive-merge key.
func entryKey(filename, sourceDir, date string) string {
	return filename + "|" + sourceDir + "|" + date
}

// UpdateCSVSummary merges the given registry paths into the summary at
// path. Only the listed paths are touched, so a recovery session over a
// few retried files leaves the rest of the document alone.
func UpdateCSVSummary(path string, reg *registry.Registry, paths []string, logger *slog.Logger) (*CSVSummary, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sum, err := loadCSVSummary(path, logger)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, p := range paths {
		entry, ok := reg.Get(p)
		if !ok {
			continue
		}
		// Key by the full directory path: leaf directories from different
		// source trees often share a basename, and those entries must not
		// merge.
		sourceDir := filepath.Dir(p)
		date := entry.LastAttempt.UTC().Format("2006-01-02")
		if entry.LastAttempt.IsZero() {
			date = now.Format("2006-01-02")
		}
		e := CSVEntry{
			Filename:    entry.Filename,
			SourceDir:   sourceDir,
			Date:        date,
			Status:      string(entry.Status),
			Attempts:    entry.Attempts,
			ErrorMsg:    entry.ErrorMsg,
			LastAttempt: entry.LastAttempt,
		}
		if entry.CSVOutput != nil {
			e.ExportPath = entry.CSVOutput.Path
			e.ExportSize = entry.CSVOutput.Size
			e.Verified = entry.CSVOutput.Verified
		}
		sum.Entries[entryKey(e.Filename, e.SourceDir, e.Date)] = e
	}

	sum.Totals = CSVTotals{}
	for _, e := range sum.Entries {
		sum.Totals.Files++
		switch registry.Status(e.Status) {
		case registry.StatusSuccess:
			sum.Totals.Success++
		case registry.StatusError:
			sum.Totals.Error++
		case registry.StatusSkipped:
			sum.Totals.Skipped++
		}
		if e.Verified {
			sum.Totals.Verified++
		}
	}
	sum.Updated = now

	if err := writeJSON(path, sum); err != nil {
		return nil, err
	}
	logger.Info("report: csv summary written", "path", path,
		"entries", len(sum.Entries), "success", sum.Totals.Success, "error", sum.Totals.Error)
	return sum, nil
}

func loadCSVSummary(path string, logger *slog.Logger) (*CSVSummary, error) {
	sum := &CSVSummary{Version: csvSummaryVersion, Entries: make(map[string]CSVEntry)}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return sum, nil
	}
	if err != nil {
		return nil, fmt.Errorf("report: read summary: %w", err)
	}
	if err := json.Unmarshal(raw, sum); err != nil {
		// A corrupt summary is regenerable from the registry; start over
		// rather than abort the run.
		logger.Warn("report: corrupt csv summary, starting fresh", "path", path, "error", err)
		return &CSVSummary{Version: csvSummaryVersion, Entries: make(map[string]CSVEntry)}, nil
	}
	if sum.Entries == nil {
		sum.Entries = make(map[string]CSVEntry)
	}
	return sum, nil
}

// FileLoad is the per-file ETL outcome.
type FileLoad struct {
	Filename string       `json:"filename"`
	Code     string       `json:"code"`
	Stats    loader.Stats `json:"stats"`
	Error    string       `json:"error,omitempty"`
}

// DBSummary captures the database side of an ETL session.
type DBSummary struct {
	ConnectionStatus string `json:"connection_status"`
	Codes            int    `json:"codes"`
	Measurements     int    `json:"measurements"`
}

// ETLSummary is the durable ETL-phase document. Unlike the CSV summary it
// describes one session; it is overwritten on every ETL run.
type ETLSummary struct {
	Generated time.Time  `json:"generated"`
	DB        DBSummary  `json:"db_summary"`
	Files     []FileLoad `json:"files"`
	Rows      int        `json:"rows_inserted"`
}

// WriteETLSummary writes the ETL document. A nil db marks the database
// unreachable; the files slice then stays empty and the connection status
// reads "Error".
func WriteETLSummary(ctx context.Context, path string, db *sql.DB, files []FileLoad, logger *slog.Logger) (*ETLSummary, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sum := &ETLSummary{Generated: time.Now().UTC(), Files: files}

	if db == nil {
		sum.DB.ConnectionStatus = "Error"
	} else {
		sum.DB.ConnectionStatus = "OK"
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM code`).Scan(&sum.DB.Codes); err != nil {
			logger.Warn("report: code count failed", "error", err)
		}
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM measurement`).Scan(&sum.DB.Measurements); err != nil {
			logger.Warn("report: measurement count failed", "error", err)
		}
	}
	sort.Slice(sum.Files, func(i, j int) bool { return sum.Files[i].Filename < sum.Files[j].Filename })
	for _, f := range files {
		sum.Rows += f.Stats.Inserted
	}

	if err := writeJSON(path, sum); err != nil {
		return nil, err
	}
	logger.Info("report: etl summary written", "path", path,
		"connection_status", sum.DB.ConnectionStatus, "files", len(files), "rows", sum.Rows)
	return sum, nil
}

// writeJSON persists v atomically: temp file, fsync, rename.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("report: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".summary-*.tmp")
	if err != nil {
		return fmt.Errorf("report: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("report: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("report: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("report: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("report: rename: %w", err)
	}
	return nil
}
