package semantic

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/capflow/locale"
	"github.com/hazyhaar/capflow/uia"
	"github.com/hazyhaar/capflow/uia/uiatest"
)

func testConfig(d uia.Driver) Config {
	return Config{
		Driver:         d,
		Locales:        locale.NewTable(nil),
		UIDelay:        time.Millisecond,
		VerifyDelay:    time.Millisecond,
		VerifyAttempts: 3,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func boolPtr(v bool) *bool { return &v }

type fakeProc struct {
	pid   int
	alive bool
}

func (p fakeProc) PID() int    { return p.pid }
func (p fakeProc) Alive() bool { return p.alive }

type recordedControl struct {
	kind   uia.Kind
	id     string
	center uia.Point
}

// fakeRecorder captures Record calls for assertion.
type fakeRecorder struct {
	mu      sync.Mutex
	entries []recordedControl
}

func (r *fakeRecorder) Record(kind uia.Kind, logicalID string, center uia.Point, _ uia.Rect, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recordedControl{kind: kind, id: logicalID, center: center})
}

func (r *fakeRecorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.id
	}
	return out
}

func newWindow(title string, pid int, children ...*uiatest.Element) *uiatest.Window {
	return &uiatest.Window{
		Element: uiatest.Element{
			ElemKind: uia.KindWindow,
			ID:       "win:" + title,
			ElemText: title,
			Elems:    children,
		},
		WindowTitle: title,
		ProcessID:   pid,
	}
}
