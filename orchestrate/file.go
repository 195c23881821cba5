package orchestrate

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hazyhaar/capflow/artifact"
	"github.com/hazyhaar/capflow/coords"
	"github.com/hazyhaar/capflow/poll"
	"github.com/hazyhaar/capflow/registry"
	"github.com/hazyhaar/capflow/semantic"
	"github.com/hazyhaar/capflow/uia"
	"github.com/hazyhaar/capflow/vendorproc"
)

type fileResult struct {
	path     string
	strategy Strategy
	export   *registry.Export
	duration time.Duration
	err      error
}

// processFile runs one capture file through the state machine. Any
// transition failure lands in CLEANUP: the vendor process is force-killed,
// the error recorded, and the machine stops.
func (o *Orchestrator) processFile(ctx context.Context, path, stem, ext string, strategy Strategy) fileResult {
	log := o.cfg.Logger
	start := time.Now()
	state := StateInit
	res := fileResult{path: path, strategy: strategy}

	o.cfg.Events.FileStarted(path, strategy)
	log.Info("orchestrate: processing file", "path", path, "strategy", strategy)

	var proc *vendorproc.Process
	fail := func(err error) fileResult {
		o.cfg.Events.StateChanged(path, state, StateCleanup)
		o.cleanup(proc)
		res.err = err
		res.duration = time.Since(start)
		log.Error("orchestrate: file failed", "path", path, "strategy", strategy,
			"state", state, "error", err)
		msg := err.Error()
		if ctx.Err() != nil {
			msg = "cancelled"
		}
		if mErr := o.cfg.Registry.MarkError(path, msg, res.duration); mErr != nil {
			log.Warn("orchestrate: record error", "path", path, "error", mErr)
		}
		o.cfg.Events.FileFinished(path, registry.StatusError, err.Error())
		return res
	}

	if err := o.step(ctx, path, &state, StateRegistered, func(context.Context) error {
		return o.cfg.Registry.MarkStarted(path)
	}); err != nil {
		return fail(err)
	}

	if err := o.step(ctx, path, &state, StateLaunched, func(ctx context.Context) error {
		p, err := o.cfg.Supervisor.Launch(ctx, path)
		proc = p
		return err
	}); err != nil {
		return fail(err)
	}

	var export artifact.Result
	var err error
	if strategy == StrategyCoordinates {
		export, err = o.runCoordinates(ctx, path, &state, stem, proc)
	} else {
		export, err = o.runSemantic(ctx, path, &state, stem, ext, proc)
	}
	if err != nil {
		return fail(err)
	}

	res.duration = time.Since(start)
	out := registry.Export{
		Filename: filepath.Base(export.Path),
		Path:     export.Path,
		Size:     export.Size,
		Verified: export.Verified,
	}
	res.export = &out
	if err := o.cfg.Registry.MarkSuccess(path, out, res.duration); err != nil {
		return fail(fmt.Errorf("record success: %w", err))
	}
	o.cfg.Events.StateChanged(path, state, StateRecorded)
	state = StateRecorded

	o.teardown(proc)
	o.cfg.Events.FileFinished(path, registry.StatusSuccess, "")
	log.Info("orchestrate: file done", "path", path, "strategy", strategy,
		"artifact", out.Path, "duration", res.duration.Round(time.Millisecond))
	return res
}

// runSemantic drives CONNECTED through VERIFIED with the semantic
// strategy, refreshing the coordinate cache along the way.
func (o *Orchestrator) runSemantic(ctx context.Context, path string, state *State, stem, ext string, proc *vendorproc.Process) (artifact.Result, error) {
	semCfg := semantic.Config{
		Driver:         o.cfg.Driver,
		Locales:        o.cfg.Locales,
		UIDelay:        o.cfg.UIDelay,
		VerifyDelay:    o.cfg.VerifyDelay,
		VerifyAttempts: o.cfg.VerifyAttempts,
		Logger:         o.cfg.Logger,
	}
	if o.cfg.Cache != nil {
		semCfg.Recorder = o.cfg.Cache
	}

	var win uia.Window
	if err := o.step(ctx, path, state, StateConnected, func(ctx context.Context) error {
		w, err := semantic.NewConnector(semCfg).Connect(ctx, ext, proc)
		win = w
		return err
	}); err != nil {
		return artifact.Result{}, err
	}

	if err := o.step(ctx, path, state, StateNavigated, func(ctx context.Context) error {
		return semantic.NewNavigator(semCfg).Navigate(ctx, win)
	}); err != nil {
		return artifact.Result{}, err
	}

	if err := o.step(ctx, path, state, StateConfigured, func(ctx context.Context) error {
		report, err := semantic.NewConfigurator(semCfg).Configure(ctx, win, semantic.ConfigureOptions{
			Keywords:   o.cfg.Keywords,
			Exclusions: o.cfg.Exclusions,
			Filters:    o.cfg.Filters,
		})
		if report != nil && len(report.SoftFailures) > 0 {
			o.cfg.Logger.Warn("orchestrate: configuration soft failures",
				"path", path, "failures", report.SoftFailures)
		}
		return err
	}); err != nil {
		return artifact.Result{}, err
	}

	var export artifact.Result
	if err := o.step(ctx, path, state, StateExported, func(ctx context.Context) error {
		res, err := semantic.NewExporter(semCfg).Export(ctx, win, o.cfg.OutputDir, stem)
		export = res
		return err
	}); err != nil {
		return export, err
	}
	o.cfg.Events.StateChanged(path, *state, StateVerified)
	*state = StateVerified

	o.saveCache()
	return export, nil
}

// runCoordinates drives the same span from cached coordinates. There is no
// element query surface, so CONNECTED is a fixed launch settle plus a
// liveness check.
func (o *Orchestrator) runCoordinates(ctx context.Context, path string, state *State, stem string, proc *vendorproc.Process) (artifact.Result, error) {
	replayer, err := coords.NewReplayer(coords.Config{
		Driver:         o.cfg.Driver,
		Cache:          o.cfg.Cache,
		UIDelay:        o.cfg.UIDelay,
		VerifyDelay:    o.cfg.VerifyDelay,
		VerifyAttempts: o.cfg.VerifyAttempts,
		Logger:         o.cfg.Logger,
	})
	if err != nil {
		return artifact.Result{}, err
	}

	if err := o.step(ctx, path, state, StateConnected, func(ctx context.Context) error {
		if err := poll.Sleep(ctx, o.cfg.LaunchSettle); err != nil {
			return err
		}
		if !proc.Alive() {
			return fmt.Errorf("vendor process exited during launch settle (pid %d)", proc.PID())
		}
		return nil
	}); err != nil {
		return artifact.Result{}, err
	}

	report := &coords.Report{}
	if err := o.step(ctx, path, state, StateNavigated, func(ctx context.Context) error {
		return replayer.Navigate(ctx, report)
	}); err != nil {
		o.saveCache()
		return artifact.Result{}, err
	}

	if err := o.step(ctx, path, state, StateConfigured, func(ctx context.Context) error {
		return replayer.Configure(ctx, o.cfg.Filters, report)
	}); err != nil {
		o.saveCache()
		return artifact.Result{}, err
	}

	var export artifact.Result
	if err := o.step(ctx, path, state, StateExported, func(ctx context.Context) error {
		res, err := replayer.Export(ctx, o.cfg.OutputDir, stem, report)
		export = res
		return err
	}); err != nil {
		o.saveCache()
		return export, err
	}
	o.cfg.Events.StateChanged(path, *state, StateVerified)
	*state = StateVerified

	if report.Invalidated > 0 {
		o.cfg.Logger.Warn("orchestrate: coordinate entries invalidated during replay",
			"path", path, "dropped", report.Invalidated)
	}
	o.saveCache()
	return export, nil
}

// saveCache persists the coordinate cache; losing it only weakens the next
// fallback, so failures are logged and swallowed.
func (o *Orchestrator) saveCache() {
	if o.cfg.Cache == nil {
		return
	}
	if err := o.cfg.Cache.Save(); err != nil {
		o.cfg.Logger.Warn("orchestrate: save coordinate cache", "error", err)
	}
}

// cleanup force-kills the vendor process and any strays by image name,
// then lets the desktop settle. It runs off the batch context so a
// cancelled run still cleans up.
func (o *Orchestrator) cleanup(proc *vendorproc.Process) {
	if proc != nil {
		if err := o.cfg.Supervisor.Kill(proc); err != nil {
			o.cfg.Logger.Warn("orchestrate: kill vendor process", "error", err)
		}
	}
	killCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if n, err := o.cfg.Supervisor.KillAll(killCtx); err != nil {
		o.cfg.Logger.Warn("orchestrate: kill stray vendor processes", "error", err)
	} else if n > 0 {
		o.cfg.Logger.Info("orchestrate: killed stray vendor processes", "count", n)
	}
	time.Sleep(o.cfg.ErrorSettle)
}

// teardown closes the vendor process after a successful file.
func (o *Orchestrator) teardown(proc *vendorproc.Process) {
	if proc == nil {
		return
	}
	if err := o.cfg.Supervisor.Kill(proc); err != nil {
		o.cfg.Logger.Warn("orchestrate: close vendor process", "error", err)
	}
}
