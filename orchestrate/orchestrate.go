// Package orchestrate runs the batch extraction: one capture file at a
// time through a per-file state machine, the semantic strategy first, then
// a hybrid recovery pass that replays failed files from cached coordinates.
//
// Files are processed strictly sequentially. The vendor GUI is a shared
// single-operator surface; two sessions would race on the same screen.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/hazyhaar/capflow/coords"
	"github.com/hazyhaar/capflow/discover"
	"github.com/hazyhaar/capflow/locale"
	"github.com/hazyhaar/capflow/poll"
	"github.com/hazyhaar/capflow/registry"
	"github.com/hazyhaar/capflow/uia"
	"github.com/hazyhaar/capflow/vendorproc"
)

// Strategy selects how a file's session is driven.
type Strategy string

const (
	StrategySemantic    Strategy = "semantic"
	StrategyCoordinates Strategy = "coordinates"
)

// State is a step of the per-file machine.
type State string

const (
	StateInit       State = "INIT"
	StateRegistered State = "REGISTERED"
	StateLaunched   State = "LAUNCHED"
	StateConnected  State = "CONNECTED"
	StateNavigated  State = "NAVIGATED"
	StateConfigured State = "CONFIGURED"
	StateExported   State = "EXPORTED"
	StateVerified   State = "VERIFIED"
	StateRecorded   State = "RECORDED"
	StateCleanup    State = "CLEANUP"
)

// Events receives lifecycle notifications. All methods must be fast and
// must not fail the pipeline.
type Events interface {
	FileStarted(path string, strategy Strategy)
	StateChanged(path string, from, to State)
	FileFinished(path string, status registry.Status, errMsg string)
}

type nopEvents struct{}

func (nopEvents) FileStarted(string, Strategy)                {}
func (nopEvents) StateChanged(string, State, State)           {}
func (nopEvents) FileFinished(string, registry.Status, string) {}

// Config wires an Orchestrator.
type Config struct {
	Registry   *registry.Registry
	Supervisor *vendorproc.Supervisor
	Driver     uia.Driver

	// Cache backs the coordinate strategy and is refreshed by semantic
	// sessions. Nil disables the coordinate fallback entirely.
	Cache *coords.Cache

	Locales    *locale.Table
	Keywords   []string
	Exclusions []string
	Filters    map[locale.FilterID]bool

	// OutputDir receives the exported CSV artifacts.
	OutputDir string

	// UIDelay is the settle pause after UI actions. Default 1s.
	UIDelay time.Duration
	// VerifyDelay separates export-verification polls. Default 2s.
	VerifyDelay time.Duration
	// VerifyAttempts bounds export verification. Default 10.
	VerifyAttempts int
	// BetweenFiles is the cool-down between consecutive files. Default 4s.
	BetweenFiles time.Duration
	// ErrorSettle is the pause after a forced kill. Default 2s.
	ErrorSettle time.Duration
	// LaunchSettle is how long the coordinate strategy waits after launch
	// before replaying, since it cannot query the UI tree. Default 8s.
	LaunchSettle time.Duration
	// StepTimeout bounds each state transition. Default 120s.
	StepTimeout time.Duration

	Events Events
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.UIDelay <= 0 {
		c.UIDelay = time.Second
	}
	if c.VerifyDelay <= 0 {
		c.VerifyDelay = 2 * time.Second
	}
	if c.VerifyAttempts <= 0 {
		c.VerifyAttempts = 10
	}
	if c.BetweenFiles <= 0 {
		c.BetweenFiles = 4 * time.Second
	}
	if c.ErrorSettle <= 0 {
		c.ErrorSettle = 2 * time.Second
	}
	if c.LaunchSettle <= 0 {
		c.LaunchSettle = 8 * time.Second
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 120 * time.Second
	}
	if c.Events == nil {
		c.Events = nopEvents{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Locales == nil {
		c.Locales = locale.NewTable(nil)
	}
}

// Summary aggregates a batch run including the recovery pass.
type Summary struct {
	Processed int `json:"processed"`
	Success   int `json:"success"`
	Errors    int `json:"errors"`
	Skipped   int `json:"skipped"`
	Recovered int `json:"recovered"`

	TotalSuccess int `json:"total_success"`
	TotalError   int `json:"total_error"`
}

// Orchestrator runs capture files through extraction sessions.
type Orchestrator struct {
	cfg Config
}

// New creates an Orchestrator. Registry, Supervisor and Driver are
// required.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, errors.New("orchestrate: Config.Registry is required")
	}
	if cfg.Supervisor == nil {
		return nil, errors.New("orchestrate: Config.Supervisor is required")
	}
	if cfg.Driver == nil {
		return nil, errors.New("orchestrate: Config.Driver is required")
	}
	cfg.defaults()
	return &Orchestrator{cfg: cfg}, nil
}

// Run processes the discovered files with the semantic strategy, then runs
// the hybrid recovery pass over files that still lack a usable artifact.
// Cancellation marks the remaining files skipped and returns the partial
// summary together with the context error.
func (o *Orchestrator) Run(ctx context.Context, files []discover.File) (*Summary, error) {
	sum := &Summary{}
	log := o.cfg.Logger

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			o.skipRemaining(files[i:], sum)
			return o.merge(sum), err
		}

		ok, reason := o.cfg.Registry.ShouldProcess(f.Path)
		if !ok {
			log.Info("orchestrate: skipping file", "path", f.Path, "reason", reason)
			if err := o.cfg.Registry.MarkStarted(f.Path); err != nil {
				log.Warn("orchestrate: refresh registry entry", "path", f.Path, "error", err)
			}
			sum.Skipped++
			continue
		}

		res := o.processFile(ctx, f.Path, f.Stem, f.Ext, StrategySemantic)
		sum.Processed++
		if res.err == nil {
			sum.Success++
		} else {
			sum.Errors++
		}
		if ctx.Err() != nil {
			o.skipRemaining(files[i+1:], sum)
			return o.merge(sum), ctx.Err()
		}

		if i < len(files)-1 {
			if err := poll.Sleep(ctx, o.cfg.BetweenFiles); err != nil {
				o.skipRemaining(files[i+1:], sum)
				return o.merge(sum), err
			}
		}
	}

	if err := o.recover(ctx, sum); err != nil {
		return o.merge(sum), err
	}
	return o.merge(sum), nil
}

// merge computes the batch totals: every file recovered by the coordinate
// pass converts one initial error into a success.
func (o *Orchestrator) merge(sum *Summary) *Summary {
	sum.TotalSuccess = sum.Success + sum.Recovered
	sum.TotalError = sum.Errors - sum.Recovered
	if sum.TotalError < 0 {
		sum.TotalError = 0
	}
	return sum
}

func (o *Orchestrator) skipRemaining(files []discover.File, sum *Summary) {
	for _, f := range files {
		if ok, _ := o.cfg.Registry.ShouldProcess(f.Path); !ok {
			continue
		}
		if err := o.cfg.Registry.MarkSkipped(f.Path, "cancelled"); err != nil {
			o.cfg.Logger.Warn("orchestrate: mark skipped", "path", f.Path, "error", err)
		}
		sum.Skipped++
	}
}

// recover re-runs files whose entry is an error, or a success whose
// artifact is gone, with the coordinate strategy.
func (o *Orchestrator) recover(ctx context.Context, sum *Summary) error {
	if o.cfg.Cache == nil {
		return nil
	}
	candidates := o.recoveryCandidates()
	if len(candidates) == 0 {
		return nil
	}

	replayer, err := coords.NewReplayer(coords.Config{
		Driver:         o.cfg.Driver,
		Cache:          o.cfg.Cache,
		UIDelay:        o.cfg.UIDelay,
		VerifyDelay:    o.cfg.VerifyDelay,
		VerifyAttempts: o.cfg.VerifyAttempts,
		Logger:         o.cfg.Logger,
	})
	if err != nil {
		return err
	}
	if !replayer.Ready() {
		o.cfg.Logger.Warn("orchestrate: coordinate cache incomplete, recovery pass skipped",
			"candidates", len(candidates))
		return nil
	}

	o.cfg.Logger.Info("orchestrate: hybrid recovery pass", "candidates", len(candidates))
	for _, path := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry, ok := o.cfg.Registry.Get(path)
		if !ok {
			continue
		}
		res := o.processFile(ctx, path, entry.Stem, entry.Extension, StrategyCoordinates)
		if res.err == nil {
			sum.Recovered++
		}
		if err := poll.Sleep(ctx, o.cfg.BetweenFiles); err != nil {
			return err
		}
	}
	return nil
}

// recoveryCandidates returns the registry paths worth a coordinate replay,
// in stable order.
func (o *Orchestrator) recoveryCandidates() []string {
	var out []string
	for path, e := range o.cfg.Registry.Entries() {
		switch e.Status {
		case registry.StatusError:
			out = append(out, path)
		case registry.StatusSuccess:
			if e.CSVOutput == nil || !fileExists(e.CSVOutput.Path) {
				out = append(out, path)
			}
		}
	}
	sort.Strings(out)
	return out
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// step runs fn under the transition timeout and advances the reported
// state on success.
func (o *Orchestrator) step(ctx context.Context, path string, from *State, to State, fn func(ctx context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
	defer cancel()
	if err := fn(stepCtx); err != nil {
		return fmt.Errorf("%s: %w", to, err)
	}
	o.cfg.Events.StateChanged(path, *from, to)
	*from = to
	return nil
}
