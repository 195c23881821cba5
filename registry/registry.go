// Package registry is the durable per-file processing store that makes
// extraction runs resumable. One entry per capture-file absolute path; the
// whole store is a single JSON document rewritten atomically on every
// mutation (write temp, rename). Single writer by design — the orchestrator
// is strictly sequential — but reads are mutex-guarded so the status API can
// consult a live registry.
package registry

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Version identifies the on-disk document format.
const Version = "1.0"

// Status is the lifecycle state of a capture file.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
	StatusSkipped    Status = "skipped"
)

// FileInfo is the snapshot of a capture file taken at the last attempt.
// A later run compares the live file against this snapshot to decide
// whether prior work is still valid.
type FileInfo struct {
	Size  int64  `json:"size"`
	MTime int64  `json:"mtime"`
	MD5   string `json:"md5"`
}

// Export records the artifact a successful extraction produced.
type Export struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Verified bool   `json:"verified"`
}

// Entry is the registry record for one capture file.
type Entry struct {
	Filename    string    `json:"filename"`
	Stem        string    `json:"stem"`
	Extension   string    `json:"extension"`
	Status      Status    `json:"status"`
	FirstSeen   time.Time `json:"first_seen"`
	LastAttempt time.Time `json:"last_attempt,omitzero"`
	LastChecked time.Time `json:"last_checked,omitzero"`
	Attempts    int       `json:"attempts"`
	ErrorMsg    string    `json:"error_message,omitempty"`
	DurationSec float64   `json:"duration_secs,omitempty"`
	FileInfo    *FileInfo `json:"file_info,omitempty"`
	CSVOutput   *Export   `json:"csv_output,omitempty"`
}

type document struct {
	Version     string            `json:"version"`
	Created     time.Time         `json:"created"`
	LastUpdated time.Time         `json:"last_updated"`
	Files       map[string]*Entry `json:"files"`
}

// Stats summarises the registry by status.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Success    int `json:"success"`
	Error      int `json:"error"`
	Skipped    int `json:"skipped"`
}

// Registry is the durable store. Open it once per process.
type Registry struct {
	mu   sync.Mutex
	path string
	doc  document
}

// Open loads the registry document at path, creating an empty one when the
// file does not exist. A corrupt document is a fatal condition: resuming
// over unknown state would reprocess or skip arbitrarily.
func Open(path string) (*Registry, error) {
	r := &Registry{path: path}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		r.doc = document{
			Version: Version,
			Created: time.Now().UTC(),
			Files:   make(map[string]*Entry),
		}
		return r, nil
	case err != nil:
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &r.doc); err != nil {
		return nil, fmt.Errorf("registry: corrupt document %s: %w", path, err)
	}
	if r.doc.Files == nil {
		r.doc.Files = make(map[string]*Entry)
	}
	return r, nil
}

// Path returns the on-disk location of the registry document.
func (r *Registry) Path() string { return r.path }

// ShouldProcess decides whether the capture file at path needs (re)work.
// It returns false only when the last attempt succeeded, the file snapshot
// still matches, and the recorded export artifact still exists on disk.
// The reason string is for logging.
func (r *Registry) ShouldProcess(path string) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shouldProcessLocked(path)
}

func (r *Registry) shouldProcessLocked(path string) (bool, string) {
	e, ok := r.doc.Files[path]
	if !ok {
		return true, "new file"
	}
	if e.Status != StatusSuccess {
		return true, fmt.Sprintf("previous status %s", e.Status)
	}
	current, err := snapshot(path)
	if err != nil {
		return true, fmt.Sprintf("cannot stat input: %v", err)
	}
	if e.FileInfo == nil || *e.FileInfo != *current {
		return true, "content changed since last attempt"
	}
	if e.CSVOutput == nil || !e.CSVOutput.Verified {
		return true, "no verified export recorded"
	}
	if _, err := os.Stat(e.CSVOutput.Path); err != nil {
		return true, "export artifact missing on disk"
	}
	return false, "already processed"
}

// MarkStarted registers an attempt. When ShouldProcess would return false
// the call only refreshes last_checked: the attempt counter never moves for
// files that are not going to be reprocessed.
func (r *Registry) MarkStarted(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	process, _ := r.shouldProcessLocked(path)
	e := r.ensureLocked(path, now)
	if !process {
		e.LastChecked = now
		return r.persistLocked(now)
	}

	e.Status = StatusProcessing
	e.Attempts++
	e.LastAttempt = now
	e.LastChecked = now
	e.ErrorMsg = ""
	if fi, err := snapshot(path); err == nil {
		e.FileInfo = fi
	}
	return r.persistLocked(now)
}

// MarkSuccess records a verified outcome. The export record must carry
// Verified=true; a success entry without a verified artifact would violate
// the resume contract, so the status is downgraded to error in that case.
func (r *Registry) MarkSuccess(path string, out Export, duration time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	e := r.ensureLocked(path, now)
	e.DurationSec = duration.Seconds()
	e.CSVOutput = &out
	if !out.Verified {
		e.Status = StatusError
		e.ErrorMsg = "export not verified on disk"
	} else {
		e.Status = StatusSuccess
		e.ErrorMsg = ""
	}
	return r.persistLocked(now)
}

// MarkError records a failed attempt.
func (r *Registry) MarkError(path, message string, duration time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	e := r.ensureLocked(path, now)
	e.Status = StatusError
	e.ErrorMsg = message
	e.DurationSec = duration.Seconds()
	return r.persistLocked(now)
}

// MarkSkipped records that a file was deliberately not processed.
func (r *Registry) MarkSkipped(path, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	e := r.ensureLocked(path, now)
	e.Status = StatusSkipped
	e.ErrorMsg = reason
	e.LastChecked = now
	return r.persistLocked(now)
}

// Get returns a copy of the entry for path.
func (r *Registry) Get(path string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.doc.Files[path]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns a copy of all entries keyed by absolute path.
func (r *Registry) Entries() map[string]Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Entry, len(r.doc.Files))
	for k, v := range r.doc.Files {
		out[k] = *v
	}
	return out
}

// ExportIndex maps each recorded export artifact path to its capture
// filename. The loader works backwards from exports on disk, and the client
// code must come from the capture name, not the export name: collision
// prefixes and the changed extension would perturb the derivation.
func (r *Registry) ExportIndex() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string)
	for path, e := range r.doc.Files {
		if e.CSVOutput != nil && e.CSVOutput.Path != "" {
			out[e.CSVOutput.Path] = filepath.Base(path)
		}
	}
	return out
}

// Paths returns all registered paths in stable lexicographic order.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.doc.Files))
	for k := range r.doc.Files {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Stats counts entries per status.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Stats{Total: len(r.doc.Files)}
	for _, e := range r.doc.Files {
		switch e.Status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		case StatusSuccess:
			s.Success++
		case StatusError:
			s.Error++
		case StatusSkipped:
			s.Skipped++
		}
	}
	return s
}

// CleanupMissing drops entries whose capture file no longer exists on disk
// and returns the removed paths.
func (r *Registry) CleanupMissing() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for path := range r.doc.Files {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			delete(r.doc.Files, path)
			removed = append(removed, path)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}
	sort.Strings(removed)
	return removed, r.persistLocked(time.Now().UTC())
}

func (r *Registry) ensureLocked(path string, now time.Time) *Entry {
	e, ok := r.doc.Files[path]
	if !ok {
		base := filepath.Base(path)
		ext := filepath.Ext(base)
		e = &Entry{
			Filename:  base,
			Stem:      strings.TrimSuffix(base, ext),
			Extension: strings.ToLower(ext),
			Status:    StatusPending,
			FirstSeen: now,
		}
		r.doc.Files[path] = e
	}
	return e
}

// persistLocked writes the whole document atomically: temp file in the same
// directory, fsync, rename over the target.
func (r *Registry) persistLocked(now time.Time) error {
	r.doc.Version = Version
	r.doc.LastUpdated = now

	data, err := json.MarshalIndent(&r.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("registry: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".registry-*.json")
	if err != nil {
		return fmt.Errorf("registry: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("registry: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("registry: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("registry: close temp: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("registry: rename: %w", err)
	}
	return nil
}

// snapshot captures size, mtime and MD5 of the file at path.
func snapshot(path string) (*FileInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return &FileInfo{
		Size:  st.Size(),
		MTime: st.ModTime().Unix(),
		MD5:   hex.EncodeToString(h.Sum(nil)),
	}, nil
}
