// Package discover enumerates capture files for a batch run.
//
// Discovery is deliberately dumb: it filters by extension, sorts
// lexicographically so reruns visit files in the same order, and reports
// same-stem collisions across source directories without deduplicating
// them. Two captures with the same stem in different directories are
// distinct campaigns; the export naming layer keeps their artifacts apart.
package discover

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultExtensions is the capture extension set of the analyzer hardware.
var DefaultExtensions = []string{".std", ".stl", ".stc"}

// File is one discovered capture file.
type File struct {
	Path string // absolute path
	Stem string // base name without extension
	Ext  string // lowercase extension including dot
	Dir  string // parent directory name (not full path)
}

// Result is the outcome of a scan.
type Result struct {
	Files []File
	// Collisions maps a stem to the absolute paths sharing it, only for
	// stems seen in more than one place.
	Collisions map[string][]string
}

// Options tunes a scan.
type Options struct {
	// Extensions filters files; default DefaultExtensions.
	Extensions []string
	Logger     *slog.Logger
}

func (o *Options) defaults() {
	if len(o.Extensions) == 0 {
		o.Extensions = DefaultExtensions
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Scan enumerates capture files in the given directories. Subdirectories are
// not descended. Missing directories are an error; an empty result is not.
func Scan(dirs []string, opts Options) (*Result, error) {
	opts.defaults()

	extSet := make(map[string]bool, len(opts.Extensions))
	for _, e := range opts.Extensions {
		extSet[strings.ToLower(e)] = true
	}

	res := &Result{Collisions: make(map[string][]string)}
	byStem := make(map[string][]string)

	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("discover: resolve %s: %w", dir, err)
		}
		entries, err := os.ReadDir(abs)
		if err != nil {
			return nil, fmt.Errorf("discover: read %s: %w", abs, err)
		}
		for _, de := range entries {
			if de.IsDir() {
				continue
			}
			name := de.Name()
			ext := strings.ToLower(filepath.Ext(name))
			if !extSet[ext] {
				continue
			}
			stem := strings.TrimSuffix(name, filepath.Ext(name))
			path := filepath.Join(abs, name)
			res.Files = append(res.Files, File{
				Path: path,
				Stem: stem,
				Ext:  ext,
				Dir:  filepath.Base(abs),
			})
			byStem[stem] = append(byStem[stem], path)
		}
	}

	sort.Slice(res.Files, func(i, j int) bool { return res.Files[i].Path < res.Files[j].Path })

	for stem, paths := range byStem {
		if len(paths) < 2 {
			continue
		}
		sort.Strings(paths)
		res.Collisions[stem] = paths
		opts.Logger.Warn("discover: same-stem collision",
			"stem", stem, "count", len(paths), "paths", paths)
	}

	return res, nil
}
