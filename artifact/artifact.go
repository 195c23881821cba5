// Package artifact plans and verifies the CSV files the vendor application
// writes during export.
//
// The export path is computed before the save dialog is driven, so the
// verifier knows exactly which name to poll for. Collisions are legitimate:
// capture files from different source directories may share a stem, and each
// gets its own numbered artifact.
package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/capflow/poll"
)

// MinExportSize is the smallest byte count accepted as a real export.
// The vendor writes an empty header-only file on some failed exports.
const MinExportSize = 100

// maxNumberedVariants bounds the `<n>_<stem>.csv` series before falling
// back to the timestamp form.
const maxNumberedVariants = 500

// PlanExportPath returns the path the next export of stem must use inside
// outputDir: `<stem>.csv` when free, then `1_<stem>.csv` … `500_<stem>.csv`,
// then `<YYYYMMDD_HHMMSS>_<stem>.csv`. The numbering is injective for files
// that coexist on disk: the first free slot is taken.
func PlanExportPath(outputDir, stem string, now time.Time) string {
	direct := filepath.Join(outputDir, stem+".csv")
	if !exists(direct) {
		return direct
	}
	for n := 1; n <= maxNumberedVariants; n++ {
		candidate := filepath.Join(outputDir, fmt.Sprintf("%d_%s.csv", n, stem))
		if !exists(candidate) {
			return candidate
		}
	}
	return filepath.Join(outputDir, fmt.Sprintf("%s_%s.csv", now.Format("20060102_150405"), stem))
}

// VerifyOptions tunes the on-disk verification loop.
type VerifyOptions struct {
	// Delay between polling attempts. Default 2s.
	Delay time.Duration
	// MaxAttempts bounds the loop. Default 10.
	MaxAttempts int
	// MinSize is the minimum accepted file size. Default MinExportSize.
	MinSize int64
	// VariantWindow is how recent a variant-named file must be to count as
	// this export. Default 5 minutes.
	VariantWindow time.Duration
	Logger        *slog.Logger
}

func (o *VerifyOptions) defaults() {
	if o.Delay <= 0 {
		o.Delay = 2 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.MinSize <= 0 {
		o.MinSize = MinExportSize
	}
	if o.VariantWindow <= 0 {
		o.VariantWindow = 5 * time.Minute
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Result describes a verification outcome.
type Result struct {
	Path     string
	Size     int64
	Verified bool
}

// Verify polls for the expected export file. When the exact name never
// appears it falls back to searching outputDir for recently written
// variant-named files carrying the same stem. A found-but-tiny file is not
// verified.
func Verify(ctx context.Context, expectedPath string, opts VerifyOptions) Result {
	opts.defaults()

	var res Result
	err := poll.Until(ctx, poll.Options{
		Interval:    opts.Delay,
		MaxAttempts: opts.MaxAttempts,
		Logger:      opts.Logger,
	}, func(context.Context) (bool, error) {
		st, err := os.Stat(expectedPath)
		if err != nil {
			return false, nil
		}
		if st.Size() < opts.MinSize {
			opts.Logger.Debug("artifact: file present but too small",
				"path", expectedPath, "size", st.Size())
			return false, nil
		}
		res = Result{Path: expectedPath, Size: st.Size(), Verified: true}
		return true, nil
	})
	if err == nil {
		return res
	}

	dir := filepath.Dir(expectedPath)
	stem := strings.TrimSuffix(filepath.Base(expectedPath), ".csv")
	if path, size, ok := findVariant(dir, stem, opts); ok {
		opts.Logger.Info("artifact: resolved export under variant name",
			"expected", expectedPath, "found", path)
		return Result{Path: path, Size: size, Verified: true}
	}
	return Result{Path: expectedPath, Verified: false}
}

// findVariant scans dir for files whose name is a known renaming of stem
// (`<n>_<stem>`, `(<n>) <stem>`, `<n>. <stem>`, or a trimmed name containing
// the stem) modified within the variant window.
func findVariant(dir, stem string, opts VerifyOptions) (string, int64, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, false
	}
	cutoff := time.Now().Add(-opts.VariantWindow)
	for _, de := range entries {
		if de.IsDir() || !strings.EqualFold(filepath.Ext(de.Name()), ".csv") {
			continue
		}
		name := strings.TrimSuffix(de.Name(), filepath.Ext(de.Name()))
		if !matchesVariant(name, stem) {
			continue
		}
		info, err := de.Info()
		if err != nil || info.Size() < opts.MinSize || info.ModTime().Before(cutoff) {
			continue
		}
		return filepath.Join(dir, de.Name()), info.Size(), true
	}
	return "", 0, false
}

func matchesVariant(name, stem string) bool {
	if name == stem {
		return true
	}
	trimmed := strings.TrimLeft(name, "0123456789_.() ")
	return strings.Contains(trimmed, stem) || strings.Contains(name, stem)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
