// Package volume controls the single system-wide output level and its mute
// flag, and implements the fade procedures tied to task boundaries.
package volume

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logx "musictimer/pkg/logx"
)

// ErrUnavailable is returned by backends that cannot reach an audio device.
var ErrUnavailable = errors.New("volume backend unavailable")

// Backend is the OS audio/session collaborator. Levels are fractions in [0, 1].
type Backend interface {
	Name() string
	Level(ctx context.Context) (float64, error)
	SetLevel(ctx context.Context, level float64) error
	SetMute(ctx context.Context, muted bool) error
}

// Controller serializes access to a Backend. Fade-in workers and the
// scheduler loop may call it concurrently.
type Controller struct {
	mu      sync.Mutex
	backend Backend
	log     logx.Logger

	// step is the spacing of fade-in steps.
	step time.Duration
	// sleep waits between fade-in steps; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
	// opTimeout bounds one backend call.
	opTimeout time.Duration
}

type Option func(*Controller)

// WithStep overrides the one-second fade-in step spacing.
func WithStep(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.step = d
		}
	}
}

// WithSleep replaces the fade-in wait (tests pass a no-op).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

func New(b Backend, log logx.Logger, opts ...Option) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	if b == nil {
		b = Noop{}
	}
	c := &Controller{
		backend:   b,
		log:       log,
		step:      time.Second,
		sleep:     sleepCtx,
		opTimeout: 3 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Backend returns the active backend.
func (c *Controller) Backend() Backend {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend
}

// SetBackend swaps the backend (config reload).
func (c *Controller) SetBackend(b Backend) {
	if b == nil {
		b = Noop{}
	}
	c.mu.Lock()
	c.backend = b
	c.mu.Unlock()
}

// Level reads the current output level.
func (c *Controller) Level() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.levelLocked()
}

// SetVolume clamps level into [0, 1] and mutes iff the result is 0.
func (c *Controller) SetVolume(level float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setLocked(level)
}

// FadeOut performs one fade-out step: the live level is reduced by
// level/remainingSeconds, floored at 0. Called once per tick inside the fade
// window, so the decrement is recomputed from the current level every time.
// It returns the new level.
func (c *Controller) FadeOut(remainingSeconds float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if remainingSeconds <= 0 {
		return 0, c.setLocked(0)
	}
	cur, err := c.levelLocked()
	if err != nil {
		return cur, err
	}
	next := FadeOutStep(cur, remainingSeconds)
	if err := c.setLocked(next); err != nil {
		return cur, err
	}
	c.log.Debug("fade out step", logx.Float64("from", cur), logx.Float64("to", next), logx.Float64("remaining_s", remainingSeconds))
	return next, nil
}

// FadeOutStep is the fade-out recurrence: level - level/remaining, floored at 0.
func FadeOutStep(level, remainingSeconds float64) float64 {
	if remainingSeconds <= 0 {
		return 0
	}
	next := level - level/remainingSeconds
	if next < 0 {
		return 0
	}
	return next
}

// FadeIn drops the level to 0, unmutes, then raises the level to target in
// steps equal increments, one step interval apart. It blocks for the whole
// ramp, so callers run it on a worker. emit, when non-nil, observes each level
// set. Cancelling ctx stops the ramp; a cancelled ramp never writes again, even
// when its step timer already fired.
func (c *Controller) FadeIn(ctx context.Context, target float64, steps int, emit func(level float64)) error {
	target = clamp(target)
	if steps <= 0 {
		if err := c.SetVolume(target); err != nil {
			return err
		}
		if emit != nil {
			emit(target)
		}
		return nil
	}

	c.mu.Lock()
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return err
	}
	name := c.backend.Name()
	err := c.call(func(cctx context.Context) error {
		if err := c.backend.SetLevel(cctx, 0); err != nil {
			return fmt.Errorf("set level: %w", err)
		}
		if err := c.backend.SetMute(cctx, false); err != nil {
			return fmt.Errorf("unmute: %w", err)
		}
		return nil
	})
	c.mu.Unlock()
	if err != nil {
		c.log.Warn("fade in setup failed", logx.String("backend", name), logx.Err(err))
	}

	for i := 1; i <= steps; i++ {
		if err := c.sleep(ctx, c.step); err != nil {
			return err
		}
		level := target * float64(i) / float64(steps)

		c.mu.Lock()
		if err := ctx.Err(); err != nil {
			c.mu.Unlock()
			return err
		}
		err := c.setLocked(level)
		c.mu.Unlock()
		if err != nil {
			// Device errors are logged inside setLocked; keep ramping.
			c.log.Debug("fade in step failed", logx.Int("step", i), logx.Err(err))
		}
		if emit != nil {
			emit(level)
		}
	}
	return nil
}

func (c *Controller) levelLocked() (float64, error) {
	var lvl float64
	err := c.call(func(cctx context.Context) error {
		v, err := c.backend.Level(cctx)
		lvl = v
		return err
	})
	if err != nil {
		c.log.Warn("read volume failed", logx.String("backend", c.backend.Name()), logx.Err(err))
		return 0, err
	}
	return clamp(lvl), nil
}

func (c *Controller) setLocked(level float64) error {
	level = clamp(level)
	err := c.call(func(cctx context.Context) error {
		if err := c.backend.SetLevel(cctx, level); err != nil {
			return fmt.Errorf("set level: %w", err)
		}
		if err := c.backend.SetMute(cctx, level == 0); err != nil {
			return fmt.Errorf("set mute: %w", err)
		}
		return nil
	})
	if err != nil {
		c.log.Warn("set volume failed", logx.String("backend", c.backend.Name()), logx.Float64("level", level), logx.Err(err))
		return err
	}
	c.log.Debug("volume set", logx.String("backend", c.backend.Name()), logx.Float64("level", level), logx.Bool("muted", level == 0))
	return nil
}

func (c *Controller) call(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opTimeout)
	defer cancel()
	return fn(ctx)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
