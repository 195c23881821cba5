// Package uiatest provides an in-memory uia.Driver for tests. Trees are
// declared literally; clicks, scrolls and pastes are recorded so tests can
// assert on the exact interaction sequence.
package uiatest

import (
	"context"
	"fmt"
	"sync"

	"github.com/hazyhaar/capflow/uia"
)

// Element is a scriptable fake control.
type Element struct {
	ElemKind uia.Kind
	ID       string
	ElemText string
	Bounds   uia.Rect
	Elems    []*Element // children

	// OnClick, when set, runs on every click (e.g. to mutate the tree the
	// way the real UI would).
	OnClick func()

	// CheckedState, when non-nil, makes the element satisfy uia.Checkable.
	CheckedState *bool

	mu     sync.Mutex
	clicks int
}

// Clicks returns how many times the element was clicked.
func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

func (e *Element) Kind() uia.Kind    { return e.ElemKind }
func (e *Element) RuntimeID() string { return e.ID }

func (e *Element) Text(ctx context.Context) (string, error) { return e.ElemText, nil }

func (e *Element) Rect(ctx context.Context) (uia.Rect, error) { return e.Bounds, nil }

// Checked reports the toggle state; an element without CheckedState behaves
// like a control whose state the driver cannot read.
func (e *Element) Checked(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.CheckedState == nil {
		return false, fmt.Errorf("uiatest: %s has no readable state", e.ID)
	}
	return *e.CheckedState, nil
}

func (e *Element) Click(ctx context.Context) error {
	e.mu.Lock()
	e.clicks++
	if e.CheckedState != nil {
		v := !*e.CheckedState
		e.CheckedState = &v
	}
	cb := e.OnClick
	e.mu.Unlock()
	if cb != nil {
		cb()
	}
	return nil
}

func (e *Element) Descendants(ctx context.Context, kind uia.Kind) ([]uia.Element, error) {
	var out []uia.Element
	var walk func(el *Element)
	walk = func(el *Element) {
		for _, c := range el.Elems {
			if kind == uia.KindUnknown || c.ElemKind == kind {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(e)
	return out, nil
}

// Window is a fake top-level window.
type Window struct {
	Element
	WindowTitle string
	ProcessID   int
}

func (w *Window) Title(ctx context.Context) (string, error) { return w.WindowTitle, nil }
func (w *Window) PID(ctx context.Context) (int, error)      { return w.ProcessID, nil }

// Driver is a fake uia.Driver backed by declared windows.
type Driver struct {
	mu      sync.Mutex
	Windows []*Window

	// TextByPoint backs TextAt.
	TextByPoint map[uia.Point]string

	clickedPoints []uia.Point
	scrolls       []ScrollEvent
	pasted        []string
}

// ScrollEvent records one Scroll call.
type ScrollEvent struct {
	At    uia.Point
	Delta int
}

// NewDriver creates an empty fake driver.
func NewDriver(windows ...*Window) *Driver {
	return &Driver{Windows: windows, TextByPoint: make(map[uia.Point]string)}
}

func (d *Driver) TopWindows(ctx context.Context) ([]uia.Window, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]uia.Window, len(d.Windows))
	for i, w := range d.Windows {
		out[i] = w
	}
	return out, nil
}

func (d *Driver) ClickPoint(ctx context.Context, p uia.Point) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clickedPoints = append(d.clickedPoints, p)
	return nil
}

func (d *Driver) Scroll(ctx context.Context, at uia.Point, delta int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scrolls = append(d.scrolls, ScrollEvent{At: at, Delta: delta})
	return nil
}

func (d *Driver) TextAt(ctx context.Context, p uia.Point) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.TextByPoint[p]; ok {
		return t, nil
	}
	return "", fmt.Errorf("uiatest: no text at %+v", p)
}

func (d *Driver) PasteText(ctx context.Context, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pasted = append(d.pasted, text)
	return nil
}

// ClickedPoints returns the raw click log.
func (d *Driver) ClickedPoints() []uia.Point {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uia.Point(nil), d.clickedPoints...)
}

// Scrolls returns the scroll log.
func (d *Driver) Scrolls() []ScrollEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ScrollEvent(nil), d.scrolls...)
}

// Pasted returns every text passed to PasteText.
func (d *Driver) Pasted() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.pasted...)
}
