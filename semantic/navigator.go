package semantic

import (
	"context"
	"fmt"

	"github.com/hazyhaar/capflow/locale"
	"github.com/hazyhaar/capflow/poll"
	"github.com/hazyhaar/capflow/uia"
)

// Navigator walks from the analysis window to the configuration view.
type Navigator struct {
	cfg Config
}

// NewNavigator creates a Navigator.
func NewNavigator(cfg Config) *Navigator {
	cfg.defaults()
	return &Navigator{cfg: cfg}
}

// Navigate clicks the "Configuration 1" tree item and then the localized
// "Data analysis" button, landing the session in the configuration view.
func (n *Navigator) Navigate(ctx context.Context, win uia.Window) error {
	tbl := n.cfg.Locales

	item, err := uia.FindByText(ctx, win, uia.KindTreeItem, func(text string) bool {
		return tbl.Match(text, locale.ControlConfiguration)
	})
	if err != nil {
		return fmt.Errorf("%w: configuration tree item in any locale", ErrElementNotFound)
	}
	if err := item.Click(ctx); err != nil {
		return fmt.Errorf("semantic: click configuration item: %w", err)
	}
	n.cfg.record(item, "configuration_item")
	n.cfg.Logger.Debug("semantic: configuration tree item selected")
	if err := poll.Sleep(ctx, n.cfg.UIDelay); err != nil {
		return err
	}

	btn, err := uia.FindByText(ctx, win, uia.KindButton, func(text string) bool {
		return tbl.Match(text, locale.ControlDataAnalysis)
	})
	if err != nil {
		return fmt.Errorf("%w: data analysis button in any locale", ErrElementNotFound)
	}
	if err := btn.Click(ctx); err != nil {
		return fmt.Errorf("semantic: click data analysis: %w", err)
	}
	n.cfg.record(btn, "data_analysis_button")
	n.cfg.Logger.Debug("semantic: data analysis invoked")
	return poll.Sleep(ctx, n.cfg.UIDelay)
}
