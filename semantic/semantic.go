// Package semantic implements the primary extraction strategy: locating
// vendor controls by role and text in the UI tree, across every supported
// locale, and driving them through the connect → navigate → configure →
// export sequence.
//
// Each located control is reported to an optional Recorder so the
// coordinate fallback can replay the same session later. The package never
// trusts a single language: all text matching goes through locale.Table.
package semantic

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/capflow/locale"
	"github.com/hazyhaar/capflow/uia"
)

// Recorder receives the position of every control the semantic strategy
// located, so the coordinate cache stays fresh.
type Recorder interface {
	Record(kind uia.Kind, logicalID string, center uia.Point, rect uia.Rect, text string)
}

// Config is shared by the connector, navigator, configurator and exporter.
type Config struct {
	Driver  uia.Driver
	Locales *locale.Table

	// UIDelay is the settle pause after each click. Default 1s.
	UIDelay time.Duration
	// VerifyDelay separates export-verification polls. Default 2s.
	VerifyDelay time.Duration
	// VerifyAttempts bounds export verification. Default 10.
	VerifyAttempts int

	// Recorder, when set, captures control positions for the coordinate
	// fallback. Nil disables recording.
	Recorder Recorder

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Locales == nil {
		c.Locales = locale.NewTable(nil)
	}
	if c.UIDelay <= 0 {
		c.UIDelay = time.Second
	}
	if c.VerifyDelay <= 0 {
		c.VerifyDelay = 2 * time.Second
	}
	if c.VerifyAttempts <= 0 {
		c.VerifyAttempts = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// record forwards a located element to the recorder, swallowing lookup
// failures: recording is best-effort and never fails the extraction.
func (c *Config) record(el uia.Element, logicalID string) {
	if c.Recorder == nil {
		return
	}
	ctx, cancel := shortContext()
	defer cancel()
	rect, err := el.Rect(ctx)
	if err != nil {
		return
	}
	text, _ := el.Text(ctx)
	c.Recorder.Record(el.Kind(), logicalID, rect.Center(), rect, text)
}

// shortContext bounds best-effort lookups that must never hang a session.
func shortContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}
