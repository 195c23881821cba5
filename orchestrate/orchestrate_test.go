package orchestrate

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/capflow/coords"
	"github.com/hazyhaar/capflow/discover"
	"github.com/hazyhaar/capflow/locale"
	"github.com/hazyhaar/capflow/registry"
	"github.com/hazyhaar/capflow/uia"
	"github.com/hazyhaar/capflow/uia/uiatest"
	"github.com/hazyhaar/capflow/vendorproc"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeVendorStub creates a script that stays alive like the real vendor
// GUI would.
func writeVendorStub(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "analyzer.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nsleep 30\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeCapture(t *testing.T, dir, name string) discover.File {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("capture-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	ext := filepath.Ext(name)
	return discover.File{
		Path: path,
		Stem: name[:len(name)-len(ext)],
		Ext:  ext,
		Dir:  dir,
	}
}

func newSupervisor(t *testing.T) *vendorproc.Supervisor {
	t.Helper()
	s, err := vendorproc.New(vendorproc.Config{
		ExePath:  writeVendorStub(t),
		KillWait: 5 * time.Second,
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("vendorproc.New: %v", err)
	}
	return s
}

func openTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r, err := registry.Open(filepath.Join(t.TempDir(), "registry.json"))
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	return r
}

func openTestCache(t *testing.T) *coords.Cache {
	t.Helper()
	c, err := coords.Open(filepath.Join(t.TempDir(), "coords.json"), discardLogger())
	if err != nil {
		t.Fatalf("coords.Open: %v", err)
	}
	return c
}

// fullVendorWindow models the vendor UI with everything a semantic session
// needs, save dialog included. The save button writes exportPath when
// clicked.
func fullVendorWindow(t *testing.T, title, exportPath string) *uiatest.Window {
	t.Helper()
	save := &uiatest.Element{ElemKind: uia.KindButton, ID: "btn:save", ElemText: "Guardar"}
	save.OnClick = func() {
		if err := os.WriteFile(exportPath, bytes.Repeat([]byte("v,"), 200), 0o644); err != nil {
			t.Errorf("write export: %v", err)
		}
	}
	return &uiatest.Window{
		Element: uiatest.Element{
			ElemKind: uia.KindWindow,
			ID:       "win:analysis",
			Elems: []*uiatest.Element{
				{ElemKind: uia.KindTreeItem, ID: "tree:cfg", ElemText: "Configuración 1"},
				{ElemKind: uia.KindButton, ID: "btn:da", ElemText: "Análisis de datos"},
				{ElemKind: uia.KindCheckBox, ID: "cb:all", ElemText: "Seleccionar todo", CheckedState: boolPtr(true)},
				{ElemKind: uia.KindButton, ID: "btn:expand", ElemText: "Expandir todo"},
				{ElemKind: uia.KindRadio, ID: "rb:user", ElemText: "Usuario"},
				{ElemKind: uia.KindCheckBox, ID: "cb:min", ElemText: "Mínimo", CheckedState: boolPtr(false)},
				{ElemKind: uia.KindTreeItem, ID: "ti:1", ElemText: "Tensión L1",
					Bounds: uia.Rect{Left: 200, Top: 100, Right: 400, Bottom: 120}},
				{ElemKind: uia.KindButton, ID: "btn:reports", ElemText: "Informes",
					Bounds: uia.Rect{Left: 500, Top: 40, Right: 560, Bottom: 60}},
				{ElemKind: uia.KindUnknown, ID: "mi:csv", ElemText: "Informe CSV"},
				{ElemKind: uia.KindComboBox, ID: "combo:type", ElemText: "Imágenes (*.png)"},
				{ElemKind: uia.KindEdit, ID: "edit:name"},
				save,
			},
		},
		WindowTitle: title,
		ProcessID:   1,
	}
}

func boolPtr(v bool) *bool { return &v }

type transition struct {
	path     string
	from, to State
}

// recordingEvents captures lifecycle notifications.
type recordingEvents struct {
	mu          sync.Mutex
	transitions []transition
	finished    []registry.Status
}

func (e *recordingEvents) FileStarted(string, Strategy) {}

func (e *recordingEvents) StateChanged(path string, from, to State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transitions = append(e.transitions, transition{path: path, from: from, to: to})
}

func (e *recordingEvents) FileFinished(_ string, status registry.Status, _ string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finished = append(e.finished, status)
}

func (e *recordingEvents) states() []State {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]State, len(e.transitions))
	for i, tr := range e.transitions {
		out[i] = tr.to
	}
	return out
}

func testOrchestrator(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	cfg.UIDelay = time.Millisecond
	cfg.VerifyDelay = time.Millisecond
	cfg.VerifyAttempts = 3
	cfg.BetweenFiles = time.Millisecond
	cfg.ErrorSettle = time.Millisecond
	cfg.LaunchSettle = time.Millisecond
	cfg.StepTimeout = 10 * time.Second
	cfg.Logger = discardLogger()
	o, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func TestRunSemanticSuccess(t *testing.T) {
	captureDir := t.TempDir()
	outputDir := t.TempDir()
	file := writeCapture(t, captureDir, "B_cap1.std")
	exportPath := filepath.Join(outputDir, "B_cap1.csv")

	win := fullVendorWindow(t, "Análisis B_cap1.std", exportPath)
	driver := uiatest.NewDriver(win)
	reg := openTestRegistry(t)
	cache := openTestCache(t)
	events := &recordingEvents{}

	o := testOrchestrator(t, Config{
		Registry:   reg,
		Supervisor: newSupervisor(t),
		Driver:     driver,
		Cache:      cache,
		OutputDir:  outputDir,
		Keywords:   []string{"tension"},
		Filters:    map[locale.FilterID]bool{locale.FilterMin: true},
		Events:     events,
	})

	sum, err := o.Run(context.Background(), []discover.File{file})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Processed != 1 || sum.Success != 1 || sum.Errors != 0 || sum.TotalSuccess != 1 {
		t.Fatalf("summary %+v", sum)
	}

	entry, ok := reg.Get(file.Path)
	if !ok {
		t.Fatal("no registry entry")
	}
	if entry.Status != registry.StatusSuccess {
		t.Fatalf("status %q, want success", entry.Status)
	}
	if entry.CSVOutput == nil || !entry.CSVOutput.Verified || entry.CSVOutput.Path != exportPath {
		t.Fatalf("csv output %+v", entry.CSVOutput)
	}

	// The semantic session must have refreshed the coordinate cache.
	if _, ok := cache.Get("save_button"); !ok {
		t.Fatal("save_button not recorded in coordinate cache")
	}
	if _, ok := cache.Get("analysis_window"); !ok {
		t.Fatal("analysis_window not recorded in coordinate cache")
	}

	states := events.states()
	want := []State{StateRegistered, StateLaunched, StateConnected, StateNavigated,
		StateConfigured, StateExported, StateVerified, StateRecorded}
	if len(states) != len(want) {
		t.Fatalf("transitions %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, states[i], want[i])
		}
	}
}

func TestRunSkipsAlreadySuccessful(t *testing.T) {
	captureDir := t.TempDir()
	outputDir := t.TempDir()
	file := writeCapture(t, captureDir, "B_cap1.std")
	exportPath := filepath.Join(outputDir, "B_cap1.csv")

	win := fullVendorWindow(t, "Análisis B_cap1.std", exportPath)
	reg := openTestRegistry(t)

	o := testOrchestrator(t, Config{
		Registry:   reg,
		Supervisor: newSupervisor(t),
		Driver:     uiatest.NewDriver(win),
		Cache:      openTestCache(t),
		OutputDir:  outputDir,
		Keywords:   []string{"tension"},
	})

	if _, err := o.Run(context.Background(), []discover.File{file}); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	sum, err := o.Run(context.Background(), []discover.File{file})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if sum.Processed != 0 || sum.Skipped != 1 {
		t.Fatalf("second run summary %+v", sum)
	}
}

// pointSavingDriver writes the export file when the cached save point is
// clicked, standing in for the vendor during a coordinate replay.
type pointSavingDriver struct {
	*uiatest.Driver
	saveAt uia.Point
	path   string
}

func (d *pointSavingDriver) ClickPoint(ctx context.Context, p uia.Point) error {
	if p == d.saveAt {
		os.WriteFile(d.path, bytes.Repeat([]byte("v,"), 200), 0o644)
	}
	return d.Driver.ClickPoint(ctx, p)
}

func seedReplayCache(c *coords.Cache) {
	c.Record(uia.KindTreeItem, "configuration_item", uia.Point{X: 100, Y: 80}, uia.Rect{}, "")
	c.Record(uia.KindButton, "data_analysis_button", uia.Point{X: 100, Y: 120}, uia.Rect{}, "")
	c.Record(uia.KindCheckBox, "select_all_checkbox", uia.Point{X: 10, Y: 10}, uia.Rect{}, "")
	c.Record(uia.KindButton, "expand_all_button", uia.Point{X: 20, Y: 20}, uia.Rect{}, "")
	c.Record(uia.KindRadio, "user_radio", uia.Point{X: 30, Y: 30}, uia.Rect{}, "")
	c.Record(uia.KindTreeItem, "tree_item:tension l1", uia.Point{X: 215, Y: 110}, uia.Rect{}, "")
	c.Record(uia.KindButton, "reports_button", uia.Point{X: 530, Y: 50}, uia.Rect{}, "")
	c.Record(uia.KindUnknown, "csv_sub_option", uia.Point{X: 530, Y: 102}, uia.Rect{}, "")
	c.Record(uia.KindEdit, "filename_edit", uia.Point{X: 300, Y: 500}, uia.Rect{}, "")
	c.Record(uia.KindButton, "save_button", uia.Point{X: 400, Y: 500}, uia.Rect{}, "")
}

func TestRunRecoversFailedFileWithCoordinates(t *testing.T) {
	captureDir := t.TempDir()
	outputDir := t.TempDir()
	file := writeCapture(t, captureDir, "B_cap1.std")
	exportPath := filepath.Join(outputDir, "B_cap1.csv")

	// The analysis window is bare: the semantic pass connects but cannot
	// navigate, so the file records as an error.
	bare := &uiatest.Window{
		Element:     uiatest.Element{ElemKind: uia.KindWindow, ID: "win:bare"},
		WindowTitle: "Análisis B_cap1.std",
		ProcessID:   1,
	}
	inner := uiatest.NewDriver(bare)
	driver := &pointSavingDriver{Driver: inner, saveAt: uia.Point{X: 400, Y: 500}, path: exportPath}

	reg := openTestRegistry(t)
	cache := openTestCache(t)
	seedReplayCache(cache)

	o := testOrchestrator(t, Config{
		Registry:   reg,
		Supervisor: newSupervisor(t),
		Driver:     driver,
		Cache:      cache,
		OutputDir:  outputDir,
		Filters: map[locale.FilterID]bool{
			locale.FilterMin:     true,
			locale.FilterMax:     true,
			locale.FilterInstant: true,
		},
	})

	sum, err := o.Run(context.Background(), []discover.File{file})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Errors != 1 || sum.Recovered != 1 {
		t.Fatalf("summary %+v, want 1 error recovered", sum)
	}
	if sum.TotalSuccess != 1 || sum.TotalError != 0 {
		t.Fatalf("merged totals %+v", sum)
	}

	entry, _ := reg.Get(file.Path)
	if entry.Status != registry.StatusSuccess {
		t.Fatalf("final status %q, want success", entry.Status)
	}
	if entry.CSVOutput == nil || entry.CSVOutput.Path != exportPath {
		t.Fatalf("csv output %+v", entry.CSVOutput)
	}
}

func TestRunCancelledMarksRemainingSkipped(t *testing.T) {
	captureDir := t.TempDir()
	a := writeCapture(t, captureDir, "A_cap.std")
	b := writeCapture(t, captureDir, "B_cap.std")

	reg := openTestRegistry(t)
	o := testOrchestrator(t, Config{
		Registry:   reg,
		Supervisor: newSupervisor(t),
		Driver:     uiatest.NewDriver(),
		OutputDir:  t.TempDir(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := o.Run(ctx, []discover.File{a, b})
	if err == nil {
		t.Fatal("Run on cancelled context returned nil error")
	}
	if sum.Skipped != 2 || sum.Processed != 0 {
		t.Fatalf("summary %+v, want both files skipped", sum)
	}
	ea, _ := reg.Get(a.Path)
	if ea.Status != registry.StatusSkipped {
		t.Fatalf("status %q, want skipped", ea.Status)
	}
}
