// Package uia abstracts the UI-automation surface the extraction pipeline
// drives. The semantic strategy queries elements by kind and text; the
// coordinate strategy replays raw clicks. Both talk to a Driver so the
// pipeline logic stays testable off-console; the win32 subpackage binds the
// real desktop.
package uia

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when an element query matches nothing.
var ErrNotFound = errors.New("uia: element not found")

// Point is a screen coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Rect is a screen-space bounding rectangle.
type Rect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Center returns the midpoint of r.
func (r Rect) Center() Point {
	return Point{X: (r.Left + r.Right) / 2, Y: (r.Top + r.Bottom) / 2}
}

// Width returns the horizontal extent of r.
func (r Rect) Width() int { return r.Right - r.Left }

// Height returns the vertical extent of r.
func (r Rect) Height() int { return r.Bottom - r.Top }

// Kind classifies a control.
type Kind string

const (
	KindWindow   Kind = "window"
	KindButton   Kind = "button"
	KindCheckBox Kind = "checkbox"
	KindRadio    Kind = "radio"
	KindEdit     Kind = "edit"
	KindComboBox Kind = "combobox"
	KindTreeItem Kind = "treeitem"
	KindPane     Kind = "pane"
	KindUnknown  Kind = "unknown"
)

// Element is a control in the vendor UI tree.
type Element interface {
	// Kind classifies the control.
	Kind() Kind
	// RuntimeID identifies the element within its window for the lifetime
	// of the session. Stable across repeated queries of the same control.
	RuntimeID() string
	// Text returns the current visible text.
	Text(ctx context.Context) (string, error)
	// Rect returns the screen-space bounding rectangle.
	Rect(ctx context.Context) (Rect, error)
	// Click clicks the element's center.
	Click(ctx context.Context) error
	// Descendants returns all descendant elements of the given kind;
	// KindUnknown means every descendant.
	Descendants(ctx context.Context, kind Kind) ([]Element, error)
}

// Checkable is implemented by elements that can report their toggle state.
// Drivers that cannot read state leave it unimplemented; callers then fall
// back to assuming the vendor's default state.
type Checkable interface {
	Checked(ctx context.Context) (bool, error)
}

// Window is a top-level vendor window.
type Window interface {
	Element
	// Title returns the window title.
	Title(ctx context.Context) (string, error)
	// PID returns the owning process ID.
	PID(ctx context.Context) (int, error)
}

// Driver is the automation backend.
type Driver interface {
	// TopWindows enumerates visible top-level windows.
	TopWindows(ctx context.Context) ([]Window, error)
	// ClickPoint clicks at an absolute screen coordinate.
	ClickPoint(ctx context.Context, p Point) error
	// Scroll sends wheel movement at a screen coordinate; negative delta
	// scrolls down.
	Scroll(ctx context.Context, at Point, delta int) error
	// TextAt reads the visible text of whatever control sits at p.
	// Used by the coordinate cache to detect language changes.
	TextAt(ctx context.Context, p Point) (string, error)
	// PasteText places text on the clipboard and pastes it into the
	// focused control. Clipboard paste avoids locale keymap issues that
	// keystroke simulation would hit.
	PasteText(ctx context.Context, text string) error
}

// FindByText walks the descendants of root with the given kind and returns
// the first element whose text satisfies match.
func FindByText(ctx context.Context, root Element, kind Kind, match func(string) bool) (Element, error) {
	els, err := root.Descendants(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("uia: descendants: %w", err)
	}
	for _, el := range els {
		text, err := el.Text(ctx)
		if err != nil {
			continue
		}
		if match(text) {
			return el, nil
		}
	}
	return nil, ErrNotFound
}

// ParentOf returns the innermost element under root whose subtree contains
// target, identified by runtime ID. When target is a direct child of root,
// root itself is returned. Useful for scoping a query to the container of an
// already-located anchor element.
func ParentOf(ctx context.Context, root Element, target Element) (Element, error) {
	id := target.RuntimeID()
	all, err := root.Descendants(ctx, KindUnknown)
	if err != nil {
		return nil, fmt.Errorf("uia: descendants: %w", err)
	}
	parent := Element(root)
	smallest := len(all)
	for _, el := range all {
		if el.RuntimeID() == id {
			continue
		}
		sub, err := el.Descendants(ctx, KindUnknown)
		if err != nil || len(sub) >= smallest {
			continue
		}
		for _, s := range sub {
			if s.RuntimeID() == id {
				parent = el
				smallest = len(sub)
				break
			}
		}
	}
	return parent, nil
}
