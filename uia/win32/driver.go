//go:build windows

// Package win32 binds the uia.Driver abstraction to the Windows desktop via
// user32. Window and control enumeration is HWND-based; clicks go through
// cursor positioning plus synthesized mouse events; text entry is clipboard
// paste (Ctrl+V) to stay independent of the active keyboard layout.
package win32

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/hazyhaar/capflow/uia"
)

var (
	user32   = windows.NewLazySystemDLL("user32.dll")
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procEnumWindows              = user32.NewProc("EnumWindows")
	procEnumChildWindows         = user32.NewProc("EnumChildWindows")
	procIsWindowVisible          = user32.NewProc("IsWindowVisible")
	procGetWindowTextW           = user32.NewProc("GetWindowTextW")
	procSendMessageW             = user32.NewProc("SendMessageW")
	procGetClassNameW            = user32.NewProc("GetClassNameW")
	procGetWindowRect            = user32.NewProc("GetWindowRect")
	procGetWindowThreadProcessID = user32.NewProc("GetWindowThreadProcessId")
	procGetWindowLongW           = user32.NewProc("GetWindowLongW")
	procSetCursorPos             = user32.NewProc("SetCursorPos")
	procMouseEvent               = user32.NewProc("mouse_event")
	procKeybdEvent               = user32.NewProc("keybd_event")
	procWindowFromPoint          = user32.NewProc("WindowFromPoint")
	procSetForegroundWindow      = user32.NewProc("SetForegroundWindow")
	procOpenClipboard            = user32.NewProc("OpenClipboard")
	procEmptyClipboard           = user32.NewProc("EmptyClipboard")
	procSetClipboardData         = user32.NewProc("SetClipboardData")
	procCloseClipboard           = user32.NewProc("CloseClipboard")
	procGlobalAlloc              = kernel32.NewProc("GlobalAlloc")
	procGlobalLock               = kernel32.NewProc("GlobalLock")
	procGlobalUnlock             = kernel32.NewProc("GlobalUnlock")
)

const (
	wmGetText       = 0x000D
	wmGetTextLength = 0x000E

	// GWL_STYLE as the unsigned index GetWindowLongW actually takes.
	gwlStyle uint32 = 0xFFFFFFF0

	bsTypeMask     = 0x000F
	bsCheckBox     = 0x0002
	bsAutoCheckBox = 0x0003
	bsRadioButton  = 0x0004
	bsAutoRadio    = 0x0009

	mouseEventLeftDown = 0x0002
	mouseEventLeftUp   = 0x0004
	mouseEventWheel    = 0x0800

	keyEventKeyUp = 0x0002
	vkControl     = 0x11
	vkV           = 0x56

	gmemMoveable   = 0x0002
	cfUnicodeText  = 13
	clickSettle    = 50 * time.Millisecond
	clipboardRetry = 5
)

// Driver drives the desktop through user32.
type Driver struct{}

// New returns a desktop-bound Driver.
func New() *Driver { return &Driver{} }

type point struct{ x, y int32 }

type rect struct{ left, top, right, bottom int32 }

// element is an HWND-backed control.
type element struct {
	hwnd windows.HWND
}

// window is an HWND-backed top-level window.
type window struct {
	element
}

// TopWindows enumerates visible top-level windows.
func (d *Driver) TopWindows(ctx context.Context) ([]uia.Window, error) {
	var out []uia.Window
	cb := windows.NewCallback(func(hwnd windows.HWND, _ uintptr) uintptr {
		visible, _, _ := procIsWindowVisible.Call(uintptr(hwnd))
		if visible != 0 {
			out = append(out, &window{element{hwnd: hwnd}})
		}
		return 1 // continue enumeration
	})
	ret, _, err := procEnumWindows.Call(cb, 0)
	if ret == 0 {
		return nil, fmt.Errorf("win32: EnumWindows: %w", err)
	}
	return out, nil
}

// ClickPoint moves the cursor and synthesizes a left click.
func (d *Driver) ClickPoint(ctx context.Context, p uia.Point) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	procSetCursorPos.Call(uintptr(p.X), uintptr(p.Y))
	time.Sleep(clickSettle)
	procMouseEvent.Call(mouseEventLeftDown, 0, 0, 0, 0)
	procMouseEvent.Call(mouseEventLeftUp, 0, 0, 0, 0)
	return nil
}

// Scroll positions the cursor and sends wheel movement; delta is in notches,
// negative scrolls down.
func (d *Driver) Scroll(ctx context.Context, at uia.Point, delta int) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	procSetCursorPos.Call(uintptr(at.X), uintptr(at.Y))
	procMouseEvent.Call(mouseEventWheel, 0, 0, uintptr(uint32(int32(delta*120))), 0)
	return nil
}

// TextAt reads the text of the control under p.
func (d *Driver) TextAt(ctx context.Context, p uia.Point) (string, error) {
	hwnd, _, _ := procWindowFromPoint.Call(uintptr(uint32(int32(p.X))) | uintptr(uint32(int32(p.Y)))<<32)
	if hwnd == 0 {
		return "", fmt.Errorf("win32: no window at (%d,%d)", p.X, p.Y)
	}
	return (&element{hwnd: windows.HWND(hwnd)}).readText(), nil
}

// PasteText sets the clipboard and sends Ctrl+V to the focused control.
func (d *Driver) PasteText(ctx context.Context, text string) error {
	if err := setClipboard(text); err != nil {
		return err
	}
	procKeybdEvent.Call(vkControl, 0, 0, 0)
	procKeybdEvent.Call(vkV, 0, 0, 0)
	procKeybdEvent.Call(vkV, 0, keyEventKeyUp, 0)
	procKeybdEvent.Call(vkControl, 0, keyEventKeyUp, 0)
	time.Sleep(clickSettle)
	return nil
}

func (e *element) Kind() uia.Kind {
	var buf [256]uint16
	n, _, _ := procGetClassNameW.Call(uintptr(e.hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	class := windows.UTF16ToString(buf[:n])
	switch {
	case strings.EqualFold(class, "Button"):
		style, _, _ := procGetWindowLongW.Call(uintptr(e.hwnd), uintptr(gwlStyle))
		switch style & bsTypeMask {
		case bsCheckBox, bsAutoCheckBox:
			return uia.KindCheckBox
		case bsRadioButton, bsAutoRadio:
			return uia.KindRadio
		}
		return uia.KindButton
	case strings.EqualFold(class, "Edit"):
		return uia.KindEdit
	case strings.EqualFold(class, "ComboBox"):
		return uia.KindComboBox
	case strings.Contains(class, "TreeView"), strings.Contains(class, "TreeItem"):
		return uia.KindTreeItem
	default:
		return uia.KindPane
	}
}

func (e *element) RuntimeID() string {
	return fmt.Sprintf("hwnd:%x", uintptr(e.hwnd))
}

func (e *element) Text(ctx context.Context) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return e.readText(), nil
}

func (e *element) readText() string {
	length, _, _ := procSendMessageW.Call(uintptr(e.hwnd), wmGetTextLength, 0, 0)
	if length == 0 {
		return ""
	}
	buf := make([]uint16, length+1)
	procSendMessageW.Call(uintptr(e.hwnd), wmGetText, length+1, uintptr(unsafe.Pointer(&buf[0])))
	return windows.UTF16ToString(buf)
}

func (e *element) Rect(ctx context.Context) (uia.Rect, error) {
	var r rect
	ret, _, err := procGetWindowRect.Call(uintptr(e.hwnd), uintptr(unsafe.Pointer(&r)))
	if ret == 0 {
		return uia.Rect{}, fmt.Errorf("win32: GetWindowRect: %w", err)
	}
	return uia.Rect{Left: int(r.left), Top: int(r.top), Right: int(r.right), Bottom: int(r.bottom)}, nil
}

func (e *element) Click(ctx context.Context) error {
	r, err := e.Rect(ctx)
	if err != nil {
		return err
	}
	d := Driver{}
	return d.ClickPoint(ctx, r.Center())
}

func (e *element) Descendants(ctx context.Context, kind uia.Kind) ([]uia.Element, error) {
	var out []uia.Element
	cb := windows.NewCallback(func(hwnd windows.HWND, _ uintptr) uintptr {
		child := &element{hwnd: hwnd}
		if kind == uia.KindUnknown || child.Kind() == kind {
			out = append(out, child)
		}
		return 1
	})
	procEnumChildWindows.Call(uintptr(e.hwnd), cb, 0)
	return out, nil
}

func (w *window) Title(ctx context.Context) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	var buf [512]uint16
	n, _, _ := procGetWindowTextW.Call(uintptr(w.hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return windows.UTF16ToString(buf[:n]), nil
}

func (w *window) PID(ctx context.Context) (int, error) {
	var pid uint32
	procGetWindowThreadProcessID.Call(uintptr(w.hwnd), uintptr(unsafe.Pointer(&pid)))
	if pid == 0 {
		return 0, fmt.Errorf("win32: no process for window %s", w.RuntimeID())
	}
	return int(pid), nil
}

// Focus brings the window to the foreground before interaction.
func (w *window) Focus() {
	procSetForegroundWindow.Call(uintptr(w.hwnd))
}

func setClipboard(text string) error {
	u16, err := windows.UTF16FromString(text)
	if err != nil {
		return fmt.Errorf("win32: encode clipboard text: %w", err)
	}

	var opened bool
	for range clipboardRetry {
		if ret, _, _ := procOpenClipboard.Call(0); ret != 0 {
			opened = true
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !opened {
		return fmt.Errorf("win32: clipboard busy")
	}
	defer procCloseClipboard.Call()

	procEmptyClipboard.Call()

	size := len(u16) * 2
	h, _, _ := procGlobalAlloc.Call(gmemMoveable, uintptr(size))
	if h == 0 {
		return fmt.Errorf("win32: GlobalAlloc failed")
	}
	ptr, _, _ := procGlobalLock.Call(h)
	if ptr == 0 {
		return fmt.Errorf("win32: GlobalLock failed")
	}
	dst := unsafe.Slice((*uint16)(unsafe.Pointer(ptr)), len(u16))
	copy(dst, u16)
	procGlobalUnlock.Call(h)

	if ret, _, err := procSetClipboardData.Call(cfUnicodeText, h); ret == 0 {
		return fmt.Errorf("win32: SetClipboardData: %w", err)
	}
	return nil
}
