package observability

import (
	"database/sql"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/hazyhaar/capflow/idgen"
)

// RuntimeMetrics captures Go process health at a point in time.
type RuntimeMetrics struct {
	GoroutinesCount int
	MemoryAllocMB   float64
	MemorySysMB     float64
	GCCount         uint32
}

// CollectRuntimeMetrics reads current Go runtime stats.
func CollectRuntimeMetrics() RuntimeMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return RuntimeMetrics{
		GoroutinesCount: runtime.NumGoroutine(),
		MemoryAllocMB:   float64(mem.Alloc) / 1024 / 1024,
		MemorySysMB:     float64(mem.Sys) / 1024 / 1024,
		GCCount:         mem.NumGC,
	}
}

// HeartbeatWriter writes periodic liveness probes for one run. A batch over
// a large input directory can run for hours; the heartbeat row is how the
// operator console tells a slow file from a hung one.
type HeartbeatWriter struct {
	db       *sql.DB
	runID    string
	newID    idgen.Generator
	hostname string
	pid      int
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewHeartbeatWriter creates a writer. Recommended interval: 15s.
func NewHeartbeatWriter(db *sql.DB, runID string, interval time.Duration) *HeartbeatWriter {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &HeartbeatWriter{
		db:       db,
		runID:    runID,
		newID:    idgen.Prefixed("hb_", idgen.Default),
		hostname: hostname,
		pid:      os.Getpid(),
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the probe loop. Call Stop to end it.
func (h *HeartbeatWriter) Start() {
	go func() {
		defer close(h.done)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		h.beat()
		for {
			select {
			case <-ticker.C:
				h.beat()
			case <-h.stop:
				return
			}
		}
	}()
}

// Stop ends the probe loop and waits for it to exit.
func (h *HeartbeatWriter) Stop() {
	close(h.stop)
	<-h.done
}

func (h *HeartbeatWriter) beat() {
	rm := CollectRuntimeMetrics()
	_, err := h.db.Exec(`
		INSERT INTO run_heartbeats (
			heartbeat_id, run_id, hostname, pid, timestamp,
			goroutines_count, memory_alloc_mb, memory_sys_mb, gc_count
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		h.newID(), h.runID, h.hostname, h.pid, time.Now().Unix(),
		rm.GoroutinesCount, rm.MemoryAllocMB, rm.MemorySysMB, rm.GCCount)
	if err != nil {
		slog.Warn("observability: heartbeat failed", "error", err, "run_id", h.runID)
	}
}
