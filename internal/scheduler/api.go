package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"musictimer/internal/task"
	logx "musictimer/pkg/logx"
)

// List returns every task in display order.
func (s *Service) List(ctx context.Context) ([]View, error) {
	var out []View
	err := s.do(ctx, func() {
		_, loc := s.settings()
		now := s.deps.Clock().In(loc)
		out = make([]View, 0, len(s.entries))
		for i, e := range s.entries {
			v := View{
				Index:     i,
				ID:        e.id,
				Task:      e.task,
				Running:   e.running(),
				Fading:    e.fading,
				Activated: e.activated,
			}
			if e.handle != nil {
				v.PID = e.handle.PID
			}
			if !e.activated {
				v.NextStart = NextStart(e.task, now)
			}
			out = append(out, v)
		}
	})
	return out, err
}

// AddOrUpdate appends t when index < 0, otherwise replaces the task at
// index. A running instance of the replaced task is stopped; the next pass
// re-evaluates the new fields. It returns the task's index.
func (s *Service) AddOrUpdate(ctx context.Context, index int, t task.Task) (int, error) {
	if err := t.Validate(); err != nil {
		return -1, err
	}
	var (
		at    int
		opErr error
	)
	err := s.do(ctx, func() {
		if index < 0 {
			s.entries = append(s.entries, newEntry(t))
			at = len(s.entries) - 1
			s.log.Info("task added", logx.Int("index", at), logx.String("task", t.Describe()))
			s.persist("task added")
			return
		}
		if index >= len(s.entries) {
			opErr = fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, index, len(s.entries))
			return
		}
		s.replaceAt(index, t)
		at = index
	})
	if err != nil {
		return -1, err
	}
	if opErr != nil {
		return -1, opErr
	}
	return at, nil
}

// Replace is AddOrUpdate for the entry with the given id. Indexes shift when
// one-shot tasks retire, ids do not.
func (s *Service) Replace(ctx context.Context, id string, t task.Task) (int, error) {
	if err := t.Validate(); err != nil {
		return -1, err
	}
	at := -1
	err := s.do(ctx, func() {
		for i, e := range s.entries {
			if e.id == id {
				s.replaceAt(i, t)
				at = i
				return
			}
		}
	})
	if err != nil {
		return -1, err
	}
	if at < 0 {
		return -1, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return at, nil
}

func (s *Service) replaceAt(index int, t task.Task) {
	e := s.entries[index]
	s.stopEntry(e, "task edited")
	e.task = t
	s.log.Info("task updated", logx.Int("index", index), logx.String("task", t.Describe()))
	s.persist("task updated")
}

// Delete stops a running instance of the task at index and removes it.
func (s *Service) Delete(ctx context.Context, index int) error {
	var opErr error
	err := s.do(ctx, func() {
		if index < 0 || index >= len(s.entries) {
			opErr = fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, index, len(s.entries))
			return
		}
		e := s.entries[index]
		s.stopEntry(e, "task deleted")
		s.entries = append(s.entries[:index], s.entries[index+1:]...)
		s.log.Info("task deleted", logx.Int("index", index), logx.String("task", e.task.Describe()))
		s.publish(EventRemoved, TaskEvent{RunID: e.runID, TaskID: e.id, Path: e.task.Path, Window: e.window(), Reason: "deleted"})
		s.persist("task deleted")
	})
	if err != nil {
		return err
	}
	return opErr
}

// Tasks returns the current task values.
func (s *Service) Tasks(ctx context.Context) ([]task.Task, error) {
	var out []task.Task
	err := s.do(ctx, func() {
		out = make([]task.Task, 0, len(s.entries))
		for _, e := range s.entries {
			out = append(out, e.task)
		}
	})
	return out, err
}

// Status summarizes the loop.
func (s *Service) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.do(ctx, func() {
		cfg, loc := s.settings()
		st = Status{
			StartedAt: s.started,
			LastTick:  s.LastTick(),
			Timezone:  loc.String(),
			Tick:      cfg.Tick,
			FadeIn:    cfg.FadeIn,
			FadeOut:   cfg.FadeOut,
			Tasks:     len(s.entries),
		}
		for _, e := range s.entries {
			if e.running() {
				st.Running++
			}
		}
	})
	return st, err
}

// NextStart is the next time t's window opens strictly after now, in now's
// location. One-shot tasks open every day. Zero when no schedule can be built.
func NextStart(t task.Task, now time.Time) time.Time {
	sched, err := cron.ParseStandard(cronSpec(t))
	if err != nil {
		return time.Time{}
	}
	return sched.Next(now)
}

// cronSpec renders the task's start as a standard five-field cron line.
// cron counts weekdays from Sunday = 0.
func cronSpec(t task.Task) string {
	dow := "*"
	if !t.IsOneShot() {
		days := make([]string, 0, 7)
		for i, on := range t.Days {
			if on {
				days = append(days, strconv.Itoa((i+1)%7))
			}
		}
		dow = strings.Join(days, ",")
	}
	return fmt.Sprintf("%d %d * * %s", t.Start.Minute, t.Start.Hour, dow)
}
