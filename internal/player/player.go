// Package player launches the scheduled program as a child process and
// requests its termination.
package player

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	logx "musictimer/pkg/logx"
)

// ErrEmptyPath is returned by Start when no program was selected.
var ErrEmptyPath = errors.New("program path is empty")

// Process is a started OS process.
type Process interface {
	Pid() int
	// Wait blocks until the process exits.
	Wait() error
	// Terminate requests a graceful exit.
	Terminate() error
	// Kill forces the process down.
	Kill() error
}

// Starter launches path. It must not wait for the program to exit.
type Starter func(path string) (Process, error)

// Spawner lets the caller own the goroutines created here (reapers and
// kill escalation). When nil, plain `go` is used.
type Spawner interface {
	Go(name string, fn func())
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(name string, fn func())

func (f SpawnerFunc) Go(name string, fn func()) { f(name, fn) }

// Handle identifies one running instance. The scheduler owns it exclusively
// while the task runs.
type Handle struct {
	ID        string
	Path      string
	PID       int
	StartedAt time.Time

	proc Process
	done chan struct{}

	mu       sync.Mutex
	exitErr  error
	stopping bool
}

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the process is gone.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Err returns the exit error once Exited is true.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// Controller starts and stops programs.
type Controller struct {
	log     logx.Logger
	start   Starter
	spawner Spawner
	// grace is how long Stop waits after the terminate request before killing.
	grace time.Duration
}

type Option func(*Controller)

// WithStarter replaces process creation (tests use fakes).
func WithStarter(s Starter) Option {
	return func(c *Controller) {
		if s != nil {
			c.start = s
		}
	}
}

func WithSpawner(s Spawner) Option { return func(c *Controller) { c.spawner = s } }

// WithKillGrace sets the delay before a terminated process is killed.
// Zero disables the escalation.
func WithKillGrace(d time.Duration) Option { return func(c *Controller) { c.grace = d } }

func New(log logx.Logger, opts ...Option) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Controller{
		log:   log,
		start: execStart,
		grace: 5 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start launches path and returns immediately. A background reaper marks the
// handle exited when the program ends on its own.
func (c *Controller) Start(ctx context.Context, path string) (*Handle, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrEmptyPath
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	proc, err := c.start(path)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", path, err)
	}
	h := &Handle{
		ID:        uuid.NewString(),
		Path:      path,
		PID:       proc.Pid(),
		StartedAt: time.Now(),
		proc:      proc,
		done:      make(chan struct{}),
	}
	c.goFn("player.reap", func() {
		err := proc.Wait()
		h.mu.Lock()
		h.exitErr = err
		stopping := h.stopping
		h.mu.Unlock()
		close(h.done)
		if !stopping {
			c.log.Info("program exited on its own", logx.String("path", path), logx.Int("pid", h.PID), logx.Err(err))
		}
	})
	c.log.Debug("program started", logx.String("path", path), logx.Int("pid", h.PID), logx.String("handle", h.ID))
	return h, nil
}

// Stop requests graceful termination. It is idempotent: a nil handle, an
// already exited process, or a repeated call returns nil.
func (c *Controller) Stop(h *Handle) error {
	if h == nil || h.Exited() {
		return nil
	}
	h.mu.Lock()
	if h.stopping {
		h.mu.Unlock()
		return nil
	}
	h.stopping = true
	h.mu.Unlock()

	if err := h.proc.Terminate(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("terminate %s (pid %d): %w", h.Path, h.PID, err)
	}
	if c.grace > 0 {
		c.goFn("player.kill_after_grace", func() {
			t := time.NewTimer(c.grace)
			defer t.Stop()
			select {
			case <-h.done:
			case <-t.C:
				if err := h.proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
					c.log.Warn("kill failed", logx.String("path", h.Path), logx.Int("pid", h.PID), logx.Err(err))
					return
				}
				c.log.Warn("program ignored terminate; killed", logx.String("path", h.Path), logx.Int("pid", h.PID))
			}
		})
	}
	return nil
}

func (c *Controller) goFn(name string, fn func()) {
	if c.spawner != nil {
		c.spawner.Go(name, fn)
		return
	}
	go fn()
}

type execProcess struct{ cmd *exec.Cmd }

func execStart(path string) (Process, error) {
	// Not bound to a context: the program outlives the request that started it.
	cmd := exec.Command(path)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd}, nil
}

func (p *execProcess) Pid() int         { return p.cmd.Process.Pid }
func (p *execProcess) Wait() error      { return p.cmd.Wait() }
func (p *execProcess) Terminate() error { return terminate(p.cmd.Process) }
func (p *execProcess) Kill() error      { return p.cmd.Process.Kill() }
