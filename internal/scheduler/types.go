package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"musictimer/internal/eventbus"
	"musictimer/internal/player"
	"musictimer/internal/task"
)

var (
	// ErrIndexOutOfRange is returned for an edit or delete of a missing task.
	ErrIndexOutOfRange = errors.New("task index out of range")
	// ErrTaskNotFound is returned for an edit by id of a task that is gone.
	ErrTaskNotFound = errors.New("task not found")
	// ErrStopped is returned when the loop is no longer running.
	ErrStopped = errors.New("scheduler stopped")
)

// Defaults.
const (
	DefaultTick    = time.Second
	DefaultFadeIn  = 10 * time.Second
	DefaultFadeOut = 10 * time.Second
)

// Config controls the loop. Zero durations take the defaults, except FadeIn
// where a negative value disables the ramp (the level is set at once).
type Config struct {
	Tick     time.Duration
	FadeIn   time.Duration
	FadeOut  time.Duration
	Timezone string // IANA TZ; empty means Local
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.FadeIn == 0 {
		c.FadeIn = DefaultFadeIn
	}
	if c.FadeIn < 0 {
		c.FadeIn = 0
	}
	if c.FadeOut <= 0 {
		c.FadeOut = DefaultFadeOut
	}
	c.Timezone = strings.TrimSpace(c.Timezone)
	return c
}

// Processes starts and stops the scheduled program.
type Processes interface {
	Start(ctx context.Context, path string) (*player.Handle, error)
	Stop(h *player.Handle) error
}

// Volume is the system-wide output level.
type Volume interface {
	SetVolume(level float64) error
	FadeOut(remainingSeconds float64) (float64, error)
	FadeIn(ctx context.Context, target float64, steps int, emit func(level float64)) error
}

// Automation runs player-specific key presses after a start. Optional.
type Automation interface {
	Run(ctx context.Context, h *player.Handle) error
}

// Persister saves the whole task list.
type Persister interface {
	Save(ctx context.Context, tasks []task.Task) error
}

// Spawner owns worker goroutines (the runtime supervisor satisfies it).
type Spawner interface {
	Go0(name string, fn func(ctx context.Context))
}

// Deps are the loop's collaborators. Store, Automation, Spawner, Bus and
// Clock are optional.
type Deps struct {
	Player     Processes
	Volume     Volume
	Store      Persister
	Automation Automation
	Spawner    Spawner
	Bus        eventbus.Bus
	Clock      func() time.Time
}

// View is a read-only snapshot of one task for display.
type View struct {
	Index     int       `json:"index"`
	ID        string    `json:"id"`
	Task      task.Task `json:"-"`
	Running   bool      `json:"running"`
	Fading    bool      `json:"fading"`
	Activated bool      `json:"activated"`
	PID       int       `json:"pid,omitempty"`
	NextStart time.Time `json:"next_start"`
}

// Status summarizes the loop.
type Status struct {
	StartedAt time.Time     `json:"started_at"`
	LastTick  time.Time     `json:"last_tick"`
	Timezone  string        `json:"timezone"`
	Tick      time.Duration `json:"tick"`
	FadeIn    time.Duration `json:"fade_in"`
	FadeOut   time.Duration `json:"fade_out"`
	Tasks     int           `json:"tasks"`
	Running   int           `json:"running"`
}

// Event types published on the bus.
const (
	EventStarted     = "task.started"
	EventStartFailed = "task.start_failed"
	EventStopped     = "task.stopped"
	EventRemoved     = "task.removed"
	EventSaved       = "task.saved"
)

// TaskEvent is the Data of every task.* event.
type TaskEvent struct {
	RunID  string `json:"run_id,omitempty"`
	TaskID string `json:"task_id,omitempty"`
	Path   string `json:"path,omitempty"`
	Window string `json:"window,omitempty"`
	Reason string `json:"reason,omitempty"`
	PID    int    `json:"pid,omitempty"`
	Err    string `json:"err,omitempty"`
	Count  int    `json:"count,omitempty"`
}

// entry is the loop-owned runtime state of one task.
type entry struct {
	id   string
	task task.Task

	handle *player.Handle
	// activated is set when the window was entered, whether or not the
	// start succeeded, so a one-shot task is still retired at its end.
	activated bool
	runID     string
	failures  int
	fading    bool

	fadeID     uint64
	fadeCancel context.CancelFunc
	autoCancel context.CancelFunc

	warn *rate.Limiter
}

func (e *entry) window() string { return e.task.Start.String() + "-" + e.task.End.String() }

func (e *entry) running() bool { return e.handle != nil && !e.handle.Exited() }

type fadeResult struct {
	id  uint64
	err error
}
