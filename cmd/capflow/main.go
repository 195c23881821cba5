// capflow drives batch extraction of power-quality measurements: the
// extract phase runs the vendor GUI over every discovered capture file,
// the load phase parses the exported CSVs into the measurement database,
// and the report phase refreshes the summary documents.
//
// Usage:
//
//	capflow [-config capflow.yaml] [extract|load|report|serve|run]
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/hazyhaar/capflow/clientcode"
	"github.com/hazyhaar/capflow/config"
	"github.com/hazyhaar/capflow/coords"
	"github.com/hazyhaar/capflow/dbopen"
	"github.com/hazyhaar/capflow/discover"
	"github.com/hazyhaar/capflow/idgen"
	"github.com/hazyhaar/capflow/loader"
	"github.com/hazyhaar/capflow/locale"
	"github.com/hazyhaar/capflow/observability"
	"github.com/hazyhaar/capflow/orchestrate"
	"github.com/hazyhaar/capflow/registry"
	"github.com/hazyhaar/capflow/report"
	"github.com/hazyhaar/capflow/statusapi"
	"github.com/hazyhaar/capflow/tabular"
	"github.com/hazyhaar/capflow/vendorproc"
	_ "modernc.org/sqlite"
)

func main() {
	configPath := flag.String("config", "capflow.yaml", "path to the YAML configuration")
	flag.Parse()

	phase := flag.Arg(0)
	if phase == "" {
		phase = "run"
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("configuration failed", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging.Level)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := &app{cfg: cfg, logger: logger, runID: idgen.Timestamped(idgen.NanoID(6))()}

	switch phase {
	case "extract":
		err = app.extract(ctx)
	case "load":
		err = app.load(ctx)
	case "report":
		err = app.report(ctx)
	case "serve":
		err = app.serve(ctx)
	case "run":
		if err = app.extract(ctx); err == nil {
			err = app.load(ctx)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown phase %q (use extract, load, report, serve or run)\n", phase)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("phase failed", "phase", phase, "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the YAML file when present and falls back to defaults
// otherwise, so a bare binary next to a captures/ directory just works.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		return cfg, cfg.Validate()
	}
	return config.LoadConfig(path)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

type app struct {
	cfg    *config.Config
	logger *slog.Logger
	runID  string
}

func (a *app) csvSummaryPath() string {
	return filepath.Join(a.cfg.Paths.SummaryDir, "csv_summary.json")
}

func (a *app) etlSummaryPath() string {
	return filepath.Join(a.cfg.Paths.SummaryDir, "etl_summary.json")
}

// openObsDB opens the observability journal database. Failure is not fatal:
// the run proceeds without a journal.
func (a *app) openObsDB() *sql.DB {
	db, err := dbopen.Open(a.cfg.Database.ObsPath,
		dbopen.WithSchema(observability.Schema), dbopen.WithMkdirAll())
	if err != nil {
		a.logger.Warn("observability database unavailable, journal disabled", "error", err)
		return nil
	}
	return db
}

// extract runs the GUI automation over every discovered capture file.
func (a *app) extract(ctx context.Context) error {
	if a.cfg.Paths.VendorExe == "" {
		return errors.New("paths.vendor_exe is required for extraction")
	}
	driver, err := newDriver()
	if err != nil {
		return err
	}

	res, err := discover.Scan([]string{a.cfg.Paths.InputDir}, discover.Options{Logger: a.logger})
	if err != nil {
		return err
	}
	if len(res.Files) == 0 {
		a.logger.Info("no capture files found", "dir", a.cfg.Paths.InputDir)
		return nil
	}

	reg, err := registry.Open(a.cfg.Paths.Registry)
	if err != nil {
		return err
	}
	cache, err := coords.Open(a.cfg.Paths.Coords, a.logger)
	if err != nil {
		return err
	}
	sup, err := vendorproc.New(vendorproc.Config{ExePath: a.cfg.Paths.VendorExe, Logger: a.logger})
	if err != nil {
		return err
	}

	var events orchestrate.Events
	var journal *observability.Journal
	var metrics *observability.MetricsRecorder
	if obsDB := a.openObsDB(); obsDB != nil {
		defer obsDB.Close()
		journal = observability.NewJournal(obsDB, a.runID, 256)
		defer journal.Close()
		events = journal
		metrics = observability.NewMetricsRecorder(obsDB, a.runID, 100, 5*time.Second)
		defer metrics.Close()
		hb := observability.NewHeartbeatWriter(obsDB, a.runID, 15*time.Second)
		hb.Start()
		defer hb.Stop()
	}

	if a.cfg.API.Enabled {
		api, err := statusapi.NewServer(statusapi.Config{
			Registry:       reg,
			Journal:        journal,
			CSVSummaryPath: a.csvSummaryPath(),
			ETLSummaryPath: a.etlSummaryPath(),
			Logger:         a.logger,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := api.Serve(ctx, a.cfg.API.Addr); err != nil {
				a.logger.Error("status api stopped", "error", err)
			}
		}()
	}

	orch, err := orchestrate.New(orchestrate.Config{
		Registry:       reg,
		Supervisor:     sup,
		Driver:         driver,
		Cache:          cache,
		Locales:        locale.NewTable(a.cfg.Locales),
		Keywords:       a.cfg.Keywords,
		Exclusions:     a.cfg.Exclusions,
		Filters:        a.cfg.Filters.Map(),
		OutputDir:      a.cfg.Paths.OutputDir,
		UIDelay:        a.cfg.GUI.Delays.UIResponseDelay(),
		VerifyDelay:    a.cfg.GUI.Delays.FileVerificationDelay(),
		BetweenFiles:   a.cfg.GUI.Delays.BetweenFilesDelay(),
		Events:         events,
		Logger:         a.logger,
	})
	if err != nil {
		return err
	}

	summary, err := orch.Run(ctx, res.Files)
	if summary != nil {
		a.logger.Info("extraction finished",
			"processed", summary.Processed, "success", summary.TotalSuccess,
			"error", summary.TotalError, "skipped", summary.Skipped,
			"recovered", summary.Recovered)
		if metrics != nil {
			metrics.RecordCount("files_success", float64(summary.TotalSuccess))
			metrics.RecordCount("files_error", float64(summary.TotalError))
			metrics.RecordCount("files_recovered", float64(summary.Recovered))
		}
	}

	paths := make([]string, 0, len(res.Files))
	for _, f := range res.Files {
		paths = append(paths, f.Path)
	}
	if _, serr := report.UpdateCSVSummary(a.csvSummaryPath(), reg, paths, a.logger); serr != nil {
		a.logger.Error("csv summary update failed", "error", serr)
	}
	return err
}

// load parses every export in the output directory and inserts it into the
// measurement database. An unreachable database skips the phase.
func (a *app) load(ctx context.Context) error {
	db, err := dbopen.Open(a.cfg.Database.Path,
		dbopen.WithSchema(loader.DDL), dbopen.WithMkdirAll())
	if err != nil {
		a.logger.Error("measurement database unavailable, skipping etl", "error", err)
		_, serr := report.WriteETLSummary(ctx, a.etlSummaryPath(), nil, nil, a.logger)
		return serr
	}
	defer db.Close()

	exports, err := listExports(a.cfg.Paths.OutputDir)
	if err != nil {
		return err
	}
	if len(exports) == 0 {
		a.logger.Info("no exports to load", "dir", a.cfg.Paths.OutputDir)
		_, serr := report.WriteETLSummary(ctx, a.etlSummaryPath(), db, nil, a.logger)
		return serr
	}

	// The client code derives from the capture filename, so exports are
	// mapped back to their capture through the registry. An export the
	// registry does not know falls back to its own name.
	captureNames := make(map[string]string)
	if reg, err := registry.Open(a.cfg.Paths.Registry); err == nil {
		captureNames = reg.ExportIndex()
	} else {
		a.logger.Warn("registry unavailable, deriving codes from export names", "error", err)
	}

	l := loader.New(db, a.logger)
	var files []report.FileLoad
	for _, path := range exports {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		capName := captureNames[path]
		if capName == "" {
			capName = filepath.Base(path)
			a.logger.Warn("export not in registry, deriving code from export name", "path", path)
		}
		fl := report.FileLoad{
			Filename: filepath.Base(path),
			Code:     clientcode.Derive(capName),
		}
		frame, err := tabular.Parse(path, a.logger)
		if err != nil {
			fl.Error = err.Error()
			files = append(files, fl)
			a.logger.Error("export unparseable", "path", path, "error", err)
			continue
		}
		ms, tstats := tabular.Transform(frame, a.logger)
		stats, err := l.LoadFile(ctx, fl.Code, ms)
		fl.Stats = stats
		if err != nil {
			fl.Error = err.Error()
			a.logger.Error("load failed", "path", path, "error", err)
		} else {
			a.logger.Info("export loaded", "path", path, "code", fl.Code,
				"inserted", stats.Inserted, "duplicates", stats.Duplicates,
				"failed", stats.Failed, "bad_time", tstats.BadTime)
		}
		files = append(files, fl)
	}

	_, serr := report.WriteETLSummary(ctx, a.etlSummaryPath(), db, files, a.logger)
	return serr
}

// report refreshes both summaries from current state without driving the
// GUI or loading rows.
func (a *app) report(ctx context.Context) error {
	reg, err := registry.Open(a.cfg.Paths.Registry)
	if err != nil {
		return err
	}
	if _, err := report.UpdateCSVSummary(a.csvSummaryPath(), reg, reg.Paths(), a.logger); err != nil {
		return err
	}

	db, err := dbopen.Open(a.cfg.Database.Path, dbopen.WithSchema(loader.DDL), dbopen.WithMkdirAll())
	if err != nil {
		a.logger.Error("measurement database unavailable", "error", err)
		_, serr := report.WriteETLSummary(ctx, a.etlSummaryPath(), nil, nil, a.logger)
		return serr
	}
	defer db.Close()
	_, serr := report.WriteETLSummary(ctx, a.etlSummaryPath(), db, nil, a.logger)
	return serr
}

// serve runs only the status API, for inspecting a finished run.
func (a *app) serve(ctx context.Context) error {
	reg, err := registry.Open(a.cfg.Paths.Registry)
	if err != nil {
		return err
	}
	var journal *observability.Journal
	if obsDB := a.openObsDB(); obsDB != nil {
		defer obsDB.Close()
		journal = observability.NewJournal(obsDB, a.runID, 16)
		defer journal.Close()
	}
	api, err := statusapi.NewServer(statusapi.Config{
		Registry:       reg,
		Journal:        journal,
		CSVSummaryPath: a.csvSummaryPath(),
		ETLSummaryPath: a.etlSummaryPath(),
		Logger:         a.logger,
	})
	if err != nil {
		return err
	}
	return api.Serve(ctx, a.cfg.API.Addr)
}

// listExports returns the CSV artifacts under dir, sorted for stable runs.
func listExports(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read output dir %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
