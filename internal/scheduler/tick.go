package scheduler

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"musictimer/internal/task"
	logx "musictimer/pkg/logx"
)

// tick is one evaluation pass. Entries are visited in reverse index order and
// retired one-shot tasks are removed after the whole pass.
func (s *Service) tick(now time.Time) {
	cfg, loc := s.settings()
	now = now.In(loc)
	wd := task.WeekdayIndex(now.Weekday())

	var retired []int
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.evaluateSafe(s.entries[i], now, wd, cfg) {
			retired = append(retired, i)
		}
	}

	if len(retired) > 0 {
		// retired is descending, so earlier indexes stay valid.
		for _, i := range retired {
			e := s.entries[i]
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			s.log.Info("one-shot task removed", logx.String("path", e.task.Path), logx.String("window", e.window()))
			s.publish(EventRemoved, TaskEvent{RunID: e.runID, TaskID: e.id, Path: e.task.Path, Window: e.window(), Reason: "one-shot finished"})
		}
		s.persist("one-shot finished")
	}
	s.lastTick.Store(now.UnixNano())
	s.log.Trace("tick", logx.Int("tasks", len(s.entries)), logx.Int("weekday", wd), logx.Int("retired", len(retired)))
}

func (s *Service) evaluateSafe(e *entry, now time.Time, wd int, cfg Config) (retire bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task evaluation panicked", logx.String("path", e.task.Path), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			retire = false
		}
	}()
	return s.evaluate(e, now, wd, cfg)
}

// evaluate applies at most one transition to e and reports whether the
// entry must be removed.
func (s *Service) evaluate(e *entry, now time.Time, wd int, cfg Config) bool {
	t := e.task
	if t.EligibleOn(wd) && t.Contains(now) {
		if e.handle == nil {
			s.startEntry(e, cfg)
			return false
		}
		if rem := t.Remaining(now); rem <= cfg.FadeOut {
			s.fadeOutEntry(e, rem)
		}
		return false
	}
	if (e.handle != nil || e.activated) && t.Ended(now) {
		s.stopEntry(e, "window ended")
		return t.IsOneShot()
	}
	return false
}

func (s *Service) startEntry(e *entry, cfg Config) {
	if !e.activated {
		e.activated = true
		e.runID = uuid.NewString()
		e.failures = 0
	}

	h, err := s.deps.Player.Start(s.ctx, e.task.Path)
	if err != nil {
		e.failures++
		if e.failures == 1 || e.warn.Allow() {
			s.log.Warn("start failed; retrying next tick",
				logx.String("path", e.task.Path), logx.String("window", e.window()),
				logx.Int("attempts", e.failures), logx.Err(err))
		}
		if e.failures == 1 {
			s.publish(EventStartFailed, TaskEvent{RunID: e.runID, TaskID: e.id, Path: e.task.Path, Window: e.window(), Err: err.Error()})
		}
		return
	}

	e.handle = h
	e.fading = false
	s.log.Info("task started",
		logx.String("path", e.task.Path), logx.String("window", e.window()),
		logx.Int("pid", h.PID), logx.Float64("volume", e.task.Volume))
	s.publish(EventStarted, TaskEvent{RunID: e.runID, TaskID: e.id, Path: e.task.Path, Window: e.window(), PID: h.PID})

	s.beginFadeIn(e, cfg)
	s.beginAutomation(e)
}

func (s *Service) beginFadeIn(e *entry, cfg Config) {
	target := e.task.Volume
	if cfg.FadeIn <= 0 {
		if err := s.deps.Volume.SetVolume(target); err != nil {
			s.warnf(e, "set volume failed", err)
		}
		return
	}
	steps := int((cfg.FadeIn + time.Second - 1) / time.Second)

	s.fadeSeq++
	id := s.fadeSeq
	ctx, cancel := context.WithCancel(s.ctx)
	e.fadeID = id
	e.fadeCancel = cancel

	vol := s.deps.Volume
	fadeDone := s.fadeDone
	done := s.done
	s.spawn("scheduler.fade_in", func(context.Context) {
		defer cancel()
		err := vol.FadeIn(ctx, target, steps, nil)
		select {
		case fadeDone <- fadeResult{id: id, err: err}:
		case <-done:
		}
	})
}

// fadeFinished clears the bookkeeping of a completed or cancelled ramp.
func (s *Service) fadeFinished(r fadeResult) {
	for _, e := range s.entries {
		if e.fadeID != r.id {
			continue
		}
		e.fadeID = 0
		e.fadeCancel = nil
		if r.err != nil && !errors.Is(r.err, context.Canceled) {
			s.warnf(e, "fade in failed", r.err)
		}
		return
	}
}

func (s *Service) cancelFadeIn(e *entry) {
	if e.fadeCancel != nil {
		e.fadeCancel()
		e.fadeCancel = nil
		e.fadeID = 0
	}
}

func (s *Service) beginAutomation(e *entry) {
	if s.deps.Automation == nil {
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	e.autoCancel = cancel
	h := e.handle
	auto := s.deps.Automation
	log := s.log
	s.spawn("scheduler.automation", func(context.Context) {
		defer cancel()
		if err := auto.Run(ctx, h); err != nil && ctx.Err() == nil {
			log.Warn("player automation failed", logx.String("path", h.Path), logx.Err(err))
		}
	})
}

func (s *Service) fadeOutEntry(e *entry, remaining time.Duration) {
	s.cancelFadeIn(e)
	if !e.fading {
		e.fading = true
		s.log.Debug("fade out begins", logx.String("path", e.task.Path), logx.Duration("remaining", remaining))
	}
	if _, err := s.deps.Volume.FadeOut(remaining.Seconds()); err != nil {
		s.warnf(e, "fade out step failed", err)
	}
}

// stopEntry ends the current run of e: cancels workers, terminates the
// program, mutes, and resets the runtime state.
func (s *Service) stopEntry(e *entry, reason string) {
	s.cancelFadeIn(e)
	if e.autoCancel != nil {
		e.autoCancel()
		e.autoCancel = nil
	}

	if h := e.handle; h != nil {
		if err := s.deps.Player.Stop(h); err != nil {
			s.warnf(e, "stop failed", err)
		}
		if err := s.deps.Volume.SetVolume(0); err != nil {
			s.warnf(e, "mute failed", err)
		}
		s.log.Info("task stopped", logx.String("path", e.task.Path), logx.String("window", e.window()), logx.String("reason", reason))
		s.publish(EventStopped, TaskEvent{RunID: e.runID, TaskID: e.id, Path: e.task.Path, Window: e.window(), Reason: reason, PID: h.PID})
	} else if e.activated {
		s.log.Info("window ended without a running program", logx.String("path", e.task.Path), logx.String("window", e.window()), logx.Int("failed_starts", e.failures))
	}

	e.handle = nil
	e.activated = false
	e.fading = false
	e.failures = 0
}

func (s *Service) warnf(e *entry, msg string, err error) {
	if e.warn.Allow() {
		s.log.Warn(msg, logx.String("path", e.task.Path), logx.String("window", e.window()), logx.Err(err))
	}
}
