package semantic

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/capflow/artifact"
	"github.com/hazyhaar/capflow/locale"
	"github.com/hazyhaar/capflow/poll"
	"github.com/hazyhaar/capflow/uia"
)

// Exporter drives the vendor's save dialog and verifies the artifact.
type Exporter struct {
	cfg Config
}

// NewExporter creates an Exporter.
func NewExporter(cfg Config) *Exporter {
	cfg.defaults()
	return &Exporter{cfg: cfg}
}

// Export computes the collision-free output path for stem, types it into
// the save dialog via clipboard paste, clicks Save and polls the disk until
// the artifact appears. The path is planned before the save click so the
// verifier knows exactly which file to expect.
func (e *Exporter) Export(ctx context.Context, win uia.Window, outputDir, stem string) (artifact.Result, error) {
	tbl := e.cfg.Locales

	// The file-type combo showing a localized "Images" label is the
	// anchor proving the save dialog is actually open.
	combo, err := uia.FindByText(ctx, win, uia.KindUnknown, func(text string) bool {
		return tbl.Match(text, locale.ControlImagesCombo)
	})
	if err != nil {
		return artifact.Result{}, fmt.Errorf("%w: save dialog file-type combo in any locale", ErrElementNotFound)
	}

	// The file-name edit sits next to the combo in the dialog footer, so the
	// lookup is scoped to the combo's container. The dialog can carry other
	// edits (the toolbar path bar, a search box) that must not be bound.
	scope, err := uia.ParentOf(ctx, win, combo)
	if err != nil {
		return artifact.Result{}, fmt.Errorf("semantic: locate file-type combo container: %w", err)
	}
	edits, err := scope.Descendants(ctx, uia.KindEdit)
	if err != nil || len(edits) == 0 {
		return artifact.Result{}, fmt.Errorf("%w: file-name edit control", ErrElementNotFound)
	}
	edit := edits[0]

	planned := artifact.PlanExportPath(outputDir, stem, time.Now())
	e.cfg.Logger.Info("semantic: export path planned", "path", planned)

	if err := edit.Click(ctx); err != nil {
		return artifact.Result{}, fmt.Errorf("semantic: focus file-name edit: %w", err)
	}
	e.cfg.record(edit, "filename_edit")
	// Clipboard paste instead of keystrokes: the path survives any active
	// keyboard layout.
	if err := e.cfg.Driver.PasteText(ctx, planned); err != nil {
		return artifact.Result{}, fmt.Errorf("semantic: paste export path: %w", err)
	}

	save, err := uia.FindByText(ctx, win, uia.KindButton, func(text string) bool {
		return tbl.Match(text, locale.ControlSave)
	})
	if err != nil {
		return artifact.Result{}, fmt.Errorf("%w: save button in any locale", ErrElementNotFound)
	}
	if err := save.Click(ctx); err != nil {
		return artifact.Result{}, fmt.Errorf("semantic: click save: %w", err)
	}
	e.cfg.record(save, "save_button")
	if err := poll.Sleep(ctx, e.cfg.UIDelay); err != nil {
		return artifact.Result{}, err
	}

	res := artifact.Verify(ctx, planned, artifact.VerifyOptions{
		Delay:       e.cfg.VerifyDelay,
		MaxAttempts: e.cfg.VerifyAttempts,
		Logger:      e.cfg.Logger,
	})
	if !res.Verified {
		return res, fmt.Errorf("%w: %s", ErrExportNotVerified, planned)
	}
	e.cfg.Logger.Info("semantic: export verified", "path", res.Path, "size", res.Size)
	return res, nil
}
