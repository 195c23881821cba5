package coords

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/capflow/artifact"
	"github.com/hazyhaar/capflow/locale"
	"github.com/hazyhaar/capflow/poll"
	"github.com/hazyhaar/capflow/uia"
)

var (
	// ErrNotCached is returned when a required control has no cached
	// position, typically because no semantic session ever succeeded.
	ErrNotCached = errors.New("coords: control not cached")

	// ErrStale is returned when the text at a cached point no longer
	// matches what was recorded, indicating a vendor language change.
	ErrStale = errors.New("coords: cached entry stale")

	// ErrExportNotVerified is returned when the replayed export never
	// produced a verifiable file.
	ErrExportNotVerified = errors.New("coords: export not verified")

	// ErrSoftBudgetExhausted is returned when too many replay sub-steps
	// failed.
	ErrSoftBudgetExhausted = errors.New("coords: soft-failure budget exhausted")
)

// reportSubOptionOffsetY mirrors the semantic strategy's fallback distance
// from the Reports button to its CSV sub-option.
const reportSubOptionOffsetY = 52

// Config tunes a Replayer.
type Config struct {
	Driver uia.Driver
	Cache  *Cache

	// UIDelay is the settle pause after each replayed click. Default 1s.
	UIDelay time.Duration
	// VerifyDelay separates export-verification polls. Default 2s.
	VerifyDelay time.Duration
	// VerifyAttempts bounds export verification. Default 10.
	VerifyAttempts int
	// SoftFailureBudget tolerated sub-step failures in Configure. Default 2.
	SoftFailureBudget int

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
	if c.SoftFailureBudget <= 0 {
		c.SoftFailureBudget = 2
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Report summarises one replay pass.
type Report struct {
	Replayed     []string `json:"replayed"`
	SoftFailures []string `json:"soft_failures,omitempty"`
	Invalidated  int      `json:"invalidated"`
}

// Replayer drives the vendor UI from cached coordinates alone. It makes no
// element queries; every action is a raw click, validated against the text
// recorded with the coordinate.
type Replayer struct {
	cfg Config
}

// NewReplayer creates a Replayer. Config.Cache is required.
func NewReplayer(cfg Config) (*Replayer, error) {
	if cfg.Cache == nil {
		return nil, errors.New("coords: Config.Cache is required")
	}
	if cfg.Driver == nil {
		return nil, errors.New("coords: Config.Driver is required")
	}
	cfg.defaults()
	return &Replayer{cfg: cfg}, nil
}

// Ready reports whether the cache holds the minimum set of controls a
// replay needs. The orchestrator checks this before committing a file to
// the coordinate strategy.
func (r *Replayer) Ready() bool {
	for _, id := range []string{"configuration_item", "data_analysis_button", "filename_edit", "save_button"} {
		if _, ok := r.cfg.Cache.Get(id); !ok {
			return false
		}
	}
	return true
}

// Navigate replays the path from the analysis window into the
// configuration view.
func (r *Replayer) Navigate(ctx context.Context, report *Report) error {
	if err := r.click(ctx, "configuration_item", report); err != nil {
		return err
	}
	return r.click(ctx, "data_analysis_button", report)
}

// Configure replays the configuration sequence: master checkboxes, filter
// tuple, measurement leaves and the report/CSV menu. Sub-step failures are
// soft up to the budget.
func (r *Replayer) Configure(ctx context.Context, filters map[locale.FilterID]bool, report *Report) error {
	soft := func(step string, err error) error {
		r.cfg.Logger.Warn("coords: replay sub-step failed", "step", step, "error", err)
		report.SoftFailures = append(report.SoftFailures, fmt.Sprintf("%s: %v", step, err))
		if len(report.SoftFailures) > r.cfg.SoftFailureBudget {
			return fmt.Errorf("%w: %d sub-steps failed", ErrSoftBudgetExhausted, len(report.SoftFailures))
		}
		return nil
	}

	for _, id := range []string{"select_all_checkbox", "expand_all_button", "user_radio"} {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.click(ctx, id, report); err != nil {
			if err := soft(id, err); err != nil {
				return err
			}
		}
	}

	// A coordinate replay cannot read checkbox state, so it mirrors the
	// semantic strategy's vendor-default assumption: all three filters
	// start checked and only an "off" needs a click.
	for _, id := range []locale.FilterID{locale.FilterMin, locale.FilterMax, locale.FilterInstant} {
		if filters[id] {
			continue
		}
		logical := "filter_" + strings.ToLower(string(id))
		if err := r.click(ctx, logical, report); err != nil {
			if err := soft(logical, err); err != nil {
				return err
			}
		}
	}

	if err := r.replayTreeItems(ctx, report); err != nil {
		return err
	}

	if err := r.openCSVReport(ctx, report); err != nil {
		if err := soft("open csv report", err); err != nil {
			return err
		}
	}
	return nil
}

// Export replays the save dialog: focus the file-name edit, paste the
// planned path, click save, verify on disk.
func (r *Replayer) Export(ctx context.Context, outputDir, stem string, report *Report) (artifact.Result, error) {
	planned := artifact.PlanExportPath(outputDir, stem, time.Now())
	r.cfg.Logger.Info("coords: export path planned", "path", planned)

	if err := r.click(ctx, "filename_edit", report); err != nil {
		return artifact.Result{}, err
	}
	if err := r.cfg.Driver.PasteText(ctx, planned); err != nil {
		return artifact.Result{}, fmt.Errorf("coords: paste export path: %w", err)
	}
	if err := r.click(ctx, "save_button", report); err != nil {
		return artifact.Result{}, err
	}

	res := artifact.Verify(ctx, planned, artifact.VerifyOptions{
		Delay:       r.cfg.VerifyDelay,
		MaxAttempts: r.cfg.VerifyAttempts,
		Logger:      r.cfg.Logger,
	})
	if !res.Verified {
		return res, fmt.Errorf("%w: %s", ErrExportNotVerified, planned)
	}
	return res, nil
}

// replayTreeItems clicks every cached measurement leaf. A text mismatch on
// a leaf usually means the pane scrolled since the recording, not a
// language change, so the first mismatch gets one scroll at the mean of
// all cached leaves and a retry; only a mismatch that survives the scroll
// invalidates the class.
func (r *Replayer) replayTreeItems(ctx context.Context, report *Report) error {
	items := r.cfg.Cache.TreeItems()
	if len(items) == 0 {
		return fmt.Errorf("%w: no measurement leaves", ErrNotCached)
	}
	mean, _ := r.cfg.Cache.TreeItemMean()
	scrolled := false
	for _, e := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !r.textStillMatches(ctx, e) {
			if !scrolled {
				if err := r.cfg.Driver.Scroll(ctx, mean, -3); err != nil {
					return fmt.Errorf("coords: scroll measurements pane: %w", err)
				}
				scrolled = true
				if err := poll.Sleep(ctx, r.cfg.UIDelay); err != nil {
					return err
				}
			}
			if !r.textStillMatches(ctx, e) {
				report.Invalidated += r.cfg.Cache.Invalidate(e.LogicalID)
				return fmt.Errorf("%w: %s", ErrStale, e.LogicalID)
			}
		}
		if err := r.cfg.Driver.ClickPoint(ctx, e.Center); err != nil {
			return fmt.Errorf("coords: click %s: %w", e.LogicalID, err)
		}
		report.Replayed = append(report.Replayed, e.LogicalID)
		if err := poll.Sleep(ctx, r.cfg.UIDelay); err != nil {
			return err
		}
	}
	return nil
}

func (r *Replayer) openCSVReport(ctx context.Context, report *Report) error {
	btn, ok := r.cfg.Cache.Get("reports_button")
	if !ok {
		return fmt.Errorf("%w: reports_button", ErrNotCached)
	}
	if err := r.clickEntry(ctx, btn, report); err != nil {
		return err
	}
	if sub, ok := r.cfg.Cache.Get("csv_sub_option"); ok {
		return r.clickEntry(ctx, sub, report)
	}
	// No cached sub-option: the menu opens directly below the button.
	at := uia.Point{X: btn.Center.X, Y: btn.Center.Y + reportSubOptionOffsetY}
	if err := r.cfg.Driver.ClickPoint(ctx, at); err != nil {
		return fmt.Errorf("coords: click csv sub-option: %w", err)
	}
	report.Replayed = append(report.Replayed, "csv_sub_option(offset)")
	return poll.Sleep(ctx, r.cfg.UIDelay)
}

func (r *Replayer) click(ctx context.Context, logicalID string, report *Report) error {
	e, ok := r.cfg.Cache.Get(logicalID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotCached, logicalID)
	}
	return r.clickEntry(ctx, e, report)
}

// clickEntry validates the cached text at the point and clicks it. A text
// mismatch drops the entry and its whole control class before failing.
func (r *Replayer) clickEntry(ctx context.Context, e Entry, report *Report) error {
	if !r.textStillMatches(ctx, e) {
		report.Invalidated += r.cfg.Cache.Invalidate(e.LogicalID)
		return fmt.Errorf("%w: %s", ErrStale, e.LogicalID)
	}
	if err := r.cfg.Driver.ClickPoint(ctx, e.Center); err != nil {
		return fmt.Errorf("coords: click %s: %w", e.LogicalID, err)
	}
	report.Replayed = append(report.Replayed, e.LogicalID)
	r.cfg.Logger.Debug("coords: replayed click", "logical_id", e.LogicalID, "x", e.Center.X, "y", e.Center.Y)
	return poll.Sleep(ctx, r.cfg.UIDelay)
}

// textStillMatches compares the live text at the cached point with the
// recorded text. An unreadable point or an entry recorded without text is
// trusted: only a positive mismatch signals a language change.
func (r *Replayer) textStillMatches(ctx context.Context, e Entry) bool {
	if e.Text == "" {
		return true
	}
	observed, err := r.cfg.Driver.TextAt(ctx, e.Center)
	if err != nil || observed == "" {
		return true
	}
	return locale.Normalize(observed) == locale.Normalize(e.Text)
}
