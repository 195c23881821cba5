// Package vendorproc supervises the vendor analyzer process.
//
// The vendor is launched once per capture file with the capture path as its
// only argument, a sanitized environment (see SanitizeEnv) and its working
// directory forced to the binary's own directory. Stdout and stderr are
// captured for diagnosis. KillAll terminates every process with the vendor's
// image name so no orphan survives between batch iterations.
package vendorproc

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// Config configures a Supervisor.
type Config struct {
	// ExePath is the vendor executable.
	ExePath string
	// KillWait is how long Kill waits for the process to die before
	// reporting failure. Default 10s.
	KillWait time.Duration
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.KillWait <= 0 {
		c.KillWait = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Supervisor launches and terminates vendor processes.
type Supervisor struct {
	cfg Config
}

// New creates a Supervisor for the vendor executable in cfg.
func New(cfg Config) (*Supervisor, error) {
	cfg.defaults()
	if cfg.ExePath == "" {
		return nil, fmt.Errorf("vendorproc: ExePath is required")
	}
	return &Supervisor{cfg: cfg}, nil
}

// ImageName returns the vendor executable's base name, the key KillAll
// matches processes by.
func (s *Supervisor) ImageName() string { return filepath.Base(s.cfg.ExePath) }

// lockedBuffer serializes the exec copier goroutine's writes against
// Output reads on a live process.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Process is a launched vendor instance.
type Process struct {
	cmd    *exec.Cmd
	stdout *lockedBuffer
	stderr *lockedBuffer
	logger *slog.Logger

	mu   sync.Mutex
	done chan struct{}
	err  error
}

// Launch starts the vendor with capturePath as argv[1].
func (s *Supervisor) Launch(ctx context.Context, capturePath string) (*Process, error) {
	log := s.cfg.Logger

	if _, err := os.Stat(s.cfg.ExePath); err != nil {
		return nil, fmt.Errorf("vendorproc: vendor executable: %w", err)
	}

	p := &Process{
		stdout: &lockedBuffer{},
		stderr: &lockedBuffer{},
		logger: log,
		done:   make(chan struct{}),
	}

	cmd := exec.Command(s.cfg.ExePath, capturePath)
	cmd.Dir = filepath.Dir(s.cfg.ExePath)
	cmd.Env = SanitizeEnv(os.Environ())
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("vendorproc: start %s: %w", s.cfg.ExePath, err)
	}
	p.cmd = cmd

	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()

	log.Info("vendorproc: launched",
		"exe", s.cfg.ExePath, "capture", capturePath, "pid", cmd.Process.Pid)
	return p, nil
}

// PID returns the child process ID.
func (p *Process) PID() int { return p.cmd.Process.Pid }

// Alive reports whether the child is still running.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Output returns captured stdout and stderr so far.
func (p *Process) Output() (stdout, stderr string) {
	return p.stdout.String(), p.stderr.String()
}

// Kill terminates the child and waits up to KillWait for it to exit.
func (s *Supervisor) Kill(p *Process) error {
	if p == nil || !p.Alive() {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("vendorproc: kill pid %d: %w", p.PID(), err)
	}
	select {
	case <-p.done:
		s.cfg.Logger.Info("vendorproc: killed", "pid", p.PID())
		return nil
	case <-time.After(s.cfg.KillWait):
		return fmt.Errorf("vendorproc: pid %d did not exit within %s", p.PID(), s.cfg.KillWait)
	}
}

// KillAll terminates every process whose image name matches the vendor
// executable. Called between files and on cleanup so a wedged vendor from a
// previous iteration never blocks the next one.
func (s *Supervisor) KillAll(ctx context.Context) (int, error) {
	n, err := killAllByName(ctx, s.ImageName())
	if n > 0 {
		s.cfg.Logger.Info("vendorproc: killed stragglers", "image", s.ImageName(), "count", n)
	}
	return n, err
}
