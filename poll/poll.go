// Package poll provides bounded "check, wait, check again" loops.
//
// Every wait in the extraction pipeline is bounded: a control appearing in
// the vendor UI, an exported file appearing on disk, a child window showing
// up after launch. poll standardises those loops so every consumer gets
// consistent intervals, explicit maxima and cancellation for free.
//
// Typical usage:
//
//	err := poll.Until(ctx, poll.Options{Interval: 500 * time.Millisecond, MaxAttempts: 10},
//		func(ctx context.Context) (bool, error) { return fileLooksComplete(path) })
package poll

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrExhausted is returned when the condition never became true within the
// attempt budget.
var ErrExhausted = errors.New("poll: attempts exhausted")

// Condition reports whether the awaited state has been reached. A non-nil
// error aborts the loop immediately.
type Condition func(ctx context.Context) (bool, error)

// Options tunes a polling loop. There are no unbounded defaults: a zero
// MaxAttempts is corrected to 1.
type Options struct {
	// Interval is the pause between attempts. Default: 1s.
	Interval time.Duration
	// MaxAttempts is the attempt budget. Default: 1.
	MaxAttempts int
	// Logger overrides slog.Default for per-attempt debug lines.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Until polls cond at opts.Interval until it returns true, errors, the
// context is cancelled, or MaxAttempts is reached (ErrExhausted).
func Until(ctx context.Context, opts Options, cond Condition) error {
	opts.defaults()
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		opts.Logger.Debug("poll: condition not met", "attempt", attempt, "max", opts.MaxAttempts)
		if attempt == opts.MaxAttempts {
			break
		}
		if err := Sleep(ctx, opts.Interval); err != nil {
			return err
		}
	}
	return ErrExhausted
}

// WithBackoff polls cond with a linearly growing pause: step×1, step×2, …
// The window connector uses this for its 2s/4s/6s… reconnect schedule.
// fn receives the 1-based attempt number.
func WithBackoff(ctx context.Context, attempts int, step time.Duration, fn func(ctx context.Context, attempt int) (bool, error)) error {
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		ok, err := fn(ctx, attempt)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if attempt == attempts {
			break
		}
		if err := Sleep(ctx, time.Duration(attempt)*step); err != nil {
			return err
		}
	}
	return ErrExhausted
}

// Sleep pauses for d or until ctx is cancelled, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
