package semantic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/capflow/locale"
	"github.com/hazyhaar/capflow/poll"
	"github.com/hazyhaar/capflow/uia"
)

// connectAttempts and connectBackoffStep define the reconnect schedule:
// 5 tries separated by 2s, 4s, 6s, 8s.
const (
	connectAttempts    = 5
	connectBackoffStep = 2 * time.Second
)

// Liveness reports whether the vendor child process is still running.
// Satisfied by *vendorproc.Process.
type Liveness interface {
	PID() int
	Alive() bool
}

// Connector binds to the vendor's analysis window.
type Connector struct {
	cfg Config
}

// NewConnector creates a Connector.
func NewConnector(cfg Config) *Connector {
	cfg.defaults()
	return &Connector{cfg: cfg}
}

// Connect locates the analysis window for the capture with the given
// extension. The analysis window and the later configuration window share a
// base title; the latter ends with a localized "Configuration 1" suffix and
// must be rejected. When no title matches, the window owned by the child
// PID is accepted as a fallback. Returns ErrHostNotReady after the retry
// schedule is exhausted or the child dies.
func (c *Connector) Connect(ctx context.Context, ext string, proc Liveness) (uia.Window, error) {
	log := c.cfg.Logger
	var bound uia.Window

	err := poll.WithBackoff(ctx, connectAttempts, connectBackoffStep, func(ctx context.Context, attempt int) (bool, error) {
		if !proc.Alive() {
			return false, fmt.Errorf("%w: vendor process exited (pid %d)", ErrHostNotReady, proc.PID())
		}
		win, why := c.findAnalysisWindow(ctx, ext, proc.PID())
		if win == nil {
			log.Debug("semantic: analysis window not found", "attempt", attempt, "reason", why)
			return false, nil
		}
		bound = win
		return true, nil
	})
	if err != nil {
		if errors.Is(err, poll.ErrExhausted) {
			return nil, fmt.Errorf("%w: no analysis window after %d attempts", ErrHostNotReady, connectAttempts)
		}
		return nil, err
	}

	if title, err := bound.Title(ctx); err == nil {
		log.Info("semantic: bound analysis window", "title", title)
	}
	c.cfg.record(bound, "analysis_window")
	return bound, nil
}

// findAnalysisWindow scans top-level windows for a semantic title match,
// falling back to PID ownership.
func (c *Connector) findAnalysisWindow(ctx context.Context, ext string, pid int) (uia.Window, string) {
	wins, err := c.cfg.Driver.TopWindows(ctx)
	if err != nil {
		return nil, fmt.Sprintf("enumerate windows: %v", err)
	}

	var pidMatch uia.Window
	for _, w := range wins {
		title, err := w.Title(ctx)
		if err != nil || title == "" {
			continue
		}
		if c.titleMatches(title, ext) {
			return w, ""
		}
		if wpid, err := w.PID(ctx); err == nil && wpid == pid {
			if !c.cfg.Locales.MatchEnd(title, locale.ControlConfiguration) {
				pidMatch = w
			}
		}
	}
	if pidMatch != nil {
		c.cfg.Logger.Debug("semantic: falling back to PID window match", "pid", pid)
		return pidMatch, ""
	}
	return nil, "no candidate window"
}

// titleMatches applies the three-part title test: contains a localized
// "analysis" word, carries the capture extension, and is not the
// configuration window.
func (c *Connector) titleMatches(title, ext string) bool {
	tbl := c.cfg.Locales
	if !tbl.Match(title, locale.ControlAnalysis) {
		return false
	}
	if !locale.Contains(title, ext) {
		return false
	}
	return !tbl.MatchEnd(title, locale.ControlConfiguration)
}
