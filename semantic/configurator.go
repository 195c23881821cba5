package semantic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/capflow/locale"
	"github.com/hazyhaar/capflow/poll"
	"github.com/hazyhaar/capflow/uia"
)

// checkboxOffsetX is how far right of a tree item's left edge its checkbox
// sits. Empirical; constant across the vendor's supported languages.
const checkboxOffsetX = 15

// reportSubOptionOffsetY is the fallback distance from the Reports button
// to its CSV sub-option when the sub-option cannot be found by text.
const reportSubOptionOffsetY = 52

// ConfigureOptions tunes the measurement selection pass.
type ConfigureOptions struct {
	// Keywords select tree leaves whose text contains any of them;
	// Exclusions reject leaves that would otherwise match.
	Keywords   []string
	Exclusions []string

	// Filters is the desired MIN/MAX/INSTANT checkbox state.
	Filters map[locale.FilterID]bool

	// SoftFailureBudget is how many sub-step failures are tolerated before
	// Configure aborts. Default 2.
	SoftFailureBudget int

	// MaxScrolls bounds the measurement tree walk. Default 50.
	MaxScrolls int
	// NoNewScrollLimit terminates the walk after this many consecutive
	// scrolls that revealed no new items. Default 3.
	NoNewScrollLimit int
}

func (o *ConfigureOptions) defaults() {
	if o.SoftFailureBudget <= 0 {
		o.SoftFailureBudget = 2
	}
	if o.MaxScrolls <= 0 {
		o.MaxScrolls = 50
	}
	if o.NoNewScrollLimit <= 0 {
		o.NoNewScrollLimit = 3
	}
	if o.Filters == nil {
		o.Filters = map[locale.FilterID]bool{}
	}
}

// Decision records why a tree item was or was not selected.
type Decision struct {
	Text     string `json:"text"`
	Included bool   `json:"included"`
	Reason   string `json:"reason"`
}

// Report summarises one configuration pass.
type Report struct {
	Decisions    []Decision `json:"decisions"`
	SoftFailures []string   `json:"soft_failures,omitempty"`
	ItemsSeen    int        `json:"items_seen"`
	Scrolls      int        `json:"scrolls"`
}

// itemKey identifies a tree item within a session. Runtime IDs repeat when
// the vendor recycles item widgets during scrolling, so position is part of
// the identity.
type itemKey struct {
	id        string
	top, left int
}

// Configurator drives the configuration view: master checkboxes, filter
// tuple, measurement tree selection and the report/CSV menu.
type Configurator struct {
	cfg Config
}

// NewConfigurator creates a Configurator.
func NewConfigurator(cfg Config) *Configurator {
	cfg.defaults()
	return &Configurator{cfg: cfg}
}

// Configure runs the ordered configuration sequence. Individual sub-step
// failures are soft: they are recorded in the report and tolerated up to
// the budget, beyond which ErrSoftBudgetExhausted is returned.
func (c *Configurator) Configure(ctx context.Context, win uia.Window, opts ConfigureOptions) (*Report, error) {
	opts.defaults()
	report := &Report{}

	steps := []struct {
		name string
		run  func(context.Context, uia.Window, ConfigureOptions, *Report) error
	}{
		{"deselect select-all", c.deselectSelectAll},
		{"expand all", c.expandAll},
		{"select user radio", c.selectUserRadio},
		{"set filter checkboxes", c.setFilters},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := step.run(ctx, win, opts, report); err != nil {
			c.cfg.Logger.Warn("semantic: configure sub-step failed", "step", step.name, "error", err)
			report.SoftFailures = append(report.SoftFailures, fmt.Sprintf("%s: %v", step.name, err))
			if len(report.SoftFailures) > opts.SoftFailureBudget {
				return report, fmt.Errorf("%w: %d sub-steps failed", ErrSoftBudgetExhausted, len(report.SoftFailures))
			}
		}
	}

	if err := c.walkMeasurementTree(ctx, win, opts, report); err != nil {
		return report, err
	}

	if err := c.openCSVReport(ctx, win, report); err != nil {
		report.SoftFailures = append(report.SoftFailures, fmt.Sprintf("open csv report: %v", err))
		if len(report.SoftFailures) > opts.SoftFailureBudget {
			return report, fmt.Errorf("%w: %d sub-steps failed", ErrSoftBudgetExhausted, len(report.SoftFailures))
		}
	}

	return report, nil
}

func (c *Configurator) deselectSelectAll(ctx context.Context, win uia.Window, _ ConfigureOptions, _ *Report) error {
	box, err := c.findByControl(ctx, win, uia.KindCheckBox, locale.ControlSelectAll)
	if err != nil {
		return err
	}
	// The master checkbox defaults to checked; when the state is readable
	// only click to clear it, otherwise one click is the documented toggle.
	if chk, ok := box.(uia.Checkable); ok {
		checked, err := chk.Checked(ctx)
		if err == nil && !checked {
			return nil
		}
	}
	if err := box.Click(ctx); err != nil {
		return err
	}
	c.cfg.record(box, "select_all_checkbox")
	return poll.Sleep(ctx, c.cfg.UIDelay)
}

func (c *Configurator) expandAll(ctx context.Context, win uia.Window, _ ConfigureOptions, _ *Report) error {
	btn, err := c.findByControl(ctx, win, uia.KindButton, locale.ControlExpandAll)
	if err != nil {
		return err
	}
	if err := btn.Click(ctx); err != nil {
		return err
	}
	c.cfg.record(btn, "expand_all_button")
	return poll.Sleep(ctx, c.cfg.UIDelay)
}

func (c *Configurator) selectUserRadio(ctx context.Context, win uia.Window, _ ConfigureOptions, _ *Report) error {
	radio, err := c.findByControl(ctx, win, uia.KindRadio, locale.ControlUserRadio)
	if err != nil {
		return err
	}
	if err := radio.Click(ctx); err != nil {
		return err
	}
	c.cfg.record(radio, "user_radio")
	return poll.Sleep(ctx, c.cfg.UIDelay)
}

// setFilters drives the MIN/MAX/INSTANT checkboxes to the configured tuple.
func (c *Configurator) setFilters(ctx context.Context, win uia.Window, opts ConfigureOptions, _ *Report) error {
	boxes, err := win.Descendants(ctx, uia.KindCheckBox)
	if err != nil {
		return fmt.Errorf("enumerate checkboxes: %w", err)
	}
	found := 0
	for _, box := range boxes {
		text, err := box.Text(ctx)
		if err != nil {
			continue
		}
		id, ok := locale.ClassifyFilter(text)
		if !ok {
			continue
		}
		found++
		desired := opts.Filters[id]

		// When the state is unreadable, assume the vendor default
		// (checked) so only a desired "off" needs a click.
		toggle := !desired
		if chk, ok := box.(uia.Checkable); ok {
			if checked, err := chk.Checked(ctx); err == nil {
				toggle = checked != desired
			}
		}
		if toggle {
			if err := box.Click(ctx); err != nil {
				return fmt.Errorf("toggle %s: %w", id, err)
			}
		}
		c.cfg.record(box, "filter_"+strings.ToLower(string(id)))
		c.cfg.Logger.Debug("semantic: filter checkbox set", "filter", id, "desired", desired, "clicked", toggle)
	}
	if found == 0 {
		return fmt.Errorf("%w: no MIN/MAX/INSTANT checkbox in any locale", ErrElementNotFound)
	}
	return poll.Sleep(ctx, c.cfg.UIDelay)
}

// walkMeasurementTree scrolls through the measurements pane selecting every
// leaf that matches the keyword set and none of the exclusions. Each unique
// (runtime-id, top, left) tuple is visited at most once per session, and a
// visible-text set prevents double-toggling items that reappear at a new
// position after scrolling.
func (c *Configurator) walkMeasurementTree(ctx context.Context, win uia.Window, opts ConfigureOptions, report *Report) error {
	seen := make(map[itemKey]bool)
	clickedText := make(map[string]bool)
	noNew := 0

	for report.Scrolls = 0; report.Scrolls < opts.MaxScrolls; report.Scrolls++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		items, err := win.Descendants(ctx, uia.KindTreeItem)
		if err != nil {
			return fmt.Errorf("semantic: enumerate tree items: %w", err)
		}

		newItems := 0
		var sumX, sumY, points int
		for _, item := range items {
			rect, err := item.Rect(ctx)
			if err != nil {
				continue
			}
			center := rect.Center()
			sumX += center.X
			sumY += center.Y
			points++

			key := itemKey{id: item.RuntimeID(), top: rect.Top, left: rect.Left}
			if seen[key] {
				continue
			}
			seen[key] = true
			newItems++
			report.ItemsSeen++

			text, err := item.Text(ctx)
			if err != nil {
				continue
			}
			decision := decide(text, opts.Keywords, opts.Exclusions)
			report.Decisions = append(report.Decisions, decision)
			c.cfg.Logger.Info("semantic: tree item decision",
				"text", text, "included", decision.Included, "reason", decision.Reason)

			if !decision.Included || clickedText[text] {
				continue
			}
			clickedText[text] = true
			click := uia.Point{X: rect.Left + checkboxOffsetX, Y: center.Y}
			if err := c.cfg.Driver.ClickPoint(ctx, click); err != nil {
				return fmt.Errorf("semantic: click tree checkbox: %w", err)
			}
			c.cfg.record(item, "tree_item:"+locale.Normalize(text))
		}

		if newItems == 0 {
			noNew++
			if noNew >= opts.NoNewScrollLimit {
				break
			}
		} else {
			noNew = 0
		}

		scrollAt := uia.Point{X: 400, Y: 400}
		if points > 0 {
			scrollAt = uia.Point{X: sumX / points, Y: sumY / points}
		}
		if err := c.cfg.Driver.Scroll(ctx, scrollAt, -3); err != nil {
			return fmt.Errorf("semantic: scroll measurements pane: %w", err)
		}
		if err := poll.Sleep(ctx, c.cfg.UIDelay); err != nil {
			return err
		}
	}
	return nil
}

// openCSVReport clicks the Reports button and then its CSV sub-option. The
// sub-option is located by text when possible; otherwise the click lands a
// fixed distance below the button, which is where the vendor has always
// placed it.
func (c *Configurator) openCSVReport(ctx context.Context, win uia.Window, _ *Report) error {
	btn, err := c.findByControl(ctx, win, uia.KindButton, locale.ControlReports)
	if err != nil {
		return err
	}
	if err := btn.Click(ctx); err != nil {
		return err
	}
	c.cfg.record(btn, "reports_button")
	if err := poll.Sleep(ctx, c.cfg.UIDelay); err != nil {
		return err
	}

	if sub, err := uia.FindByText(ctx, win, uia.KindUnknown, func(text string) bool {
		return strings.Contains(locale.Normalize(text), "csv")
	}); err == nil {
		if err := sub.Click(ctx); err != nil {
			return err
		}
		c.cfg.record(sub, "csv_sub_option")
		return poll.Sleep(ctx, c.cfg.UIDelay)
	}

	rect, err := btn.Rect(ctx)
	if err != nil {
		return fmt.Errorf("semantic: reports button rect: %w", err)
	}
	center := rect.Center()
	if err := c.cfg.Driver.ClickPoint(ctx, uia.Point{X: center.X, Y: center.Y + reportSubOptionOffsetY}); err != nil {
		return err
	}
	return poll.Sleep(ctx, c.cfg.UIDelay)
}

func (c *Configurator) findByControl(ctx context.Context, win uia.Window, kind uia.Kind, id locale.ControlID) (uia.Element, error) {
	el, err := uia.FindByText(ctx, win, kind, func(text string) bool {
		return c.cfg.Locales.Match(text, id)
	})
	if err != nil {
		if errors.Is(err, uia.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s (%s) in any locale", ErrElementNotFound, id, kind)
		}
		return nil, err
	}
	return el, nil
}

// decide applies the keyword/exclusion sets to a tree item's visible text.
func decide(text string, keywords, exclusions []string) Decision {
	normalized := locale.Normalize(text)
	for _, ex := range exclusions {
		if strings.Contains(normalized, locale.Normalize(ex)) {
			return Decision{Text: text, Included: false, Reason: "excluded term: " + ex}
		}
	}
	for _, kw := range keywords {
		if strings.Contains(normalized, locale.Normalize(kw)) {
			return Decision{Text: text, Included: true, Reason: "matched keyword: " + kw}
		}
	}
	return Decision{Text: text, Included: false, Reason: "no keyword match"}
}
