// Package task defines the scheduled playback window and its persisted form.
//
// A Task is a pure value: it carries no runtime process state. The scheduler
// owns the per-task runtime bookkeeping (process handle, fades) separately.
package task

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is an hour:minute wall-clock value.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24h clock).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// MustTimeOfDay is ParseTimeOfDay for constants; it panics on bad input.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// Seconds returns the offset from midnight.
func (t TimeOfDay) Seconds() int { return t.Hour*3600 + t.Minute*60 }

func (t TimeOfDay) Before(o TimeOfDay) bool { return t.Seconds() < o.Seconds() }

// secondsOfDay is the wall-clock offset from midnight of now, truncated to seconds.
func secondsOfDay(now time.Time) int {
	h, m, s := now.Clock()
	return h*3600 + m*60 + s
}

// Weekdays flags the days a task recurs on, Monday first.
type Weekdays [7]bool

var dayNames = [7]string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

// WeekdayIndex maps Go's Sunday-first weekday to the Monday-first index.
func WeekdayIndex(d time.Weekday) int { return (int(d) + 6) % 7 }

// Any reports whether at least one day is set.
func (w Weekdays) Any() bool {
	for _, v := range w {
		if v {
			return true
		}
	}
	return false
}

// String renders the set days as "mon,wed", or "once" when none is set.
func (w Weekdays) String() string {
	names := make([]string, 0, 7)
	for i, v := range w {
		if v {
			names = append(names, dayNames[i])
		}
	}
	if len(names) == 0 {
		return "once"
	}
	return strings.Join(names, ",")
}

// ParseWeekdays accepts a comma list of day names ("mon,tue"), ranges
// ("mon-fri"), "daily", or "" / "once" for none.
func ParseWeekdays(s string) (Weekdays, error) {
	var w Weekdays
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "once":
		return w, nil
	case "daily", "everyday", "all":
		for i := range w {
			w[i] = true
		}
		return w, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if from, to, ok := strings.Cut(part, "-"); ok {
			a, err := dayIndex(from)
			if err != nil {
				return Weekdays{}, err
			}
			b, err := dayIndex(to)
			if err != nil {
				return Weekdays{}, err
			}
			for i := a; ; i = (i + 1) % 7 {
				w[i] = true
				if i == b {
					break
				}
			}
			continue
		}
		i, err := dayIndex(part)
		if err != nil {
			return Weekdays{}, err
		}
		w[i] = true
	}
	return w, nil
}

func dayIndex(name string) (int, error) {
	name = strings.TrimSpace(name)
	if len(name) >= 3 {
		name = name[:3]
	}
	for i, n := range dayNames {
		if n == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", name)
}

// Task is one scheduled playback window [Start, End).
type Task struct {
	Start  TimeOfDay
	End    TimeOfDay
	Days   Weekdays
	Volume float64
	Path   string
}

// Validate enforces the construction invariants.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Path) == "" {
		return &ValidationError{Field: "path", Reason: "no program selected"}
	}
	if !t.Start.Before(t.End) {
		return &ValidationError{Field: "end_time", Reason: fmt.Sprintf("end %s must be after start %s", t.End, t.Start)}
	}
	if t.Volume < 0 || t.Volume > 1 {
		return &ValidationError{Field: "volume", Reason: fmt.Sprintf("volume %.2f out of range [0, 1]", t.Volume)}
	}
	return nil
}

// IsOneShot reports whether no weekday is set. Such a task runs on whatever
// day it is first reached and is deleted after its window ends.
//
// "No days" could also be read as "never recurs"; the run-once-then-delete
// meaning is the one persisted data relies on.
func (t Task) IsOneShot() bool { return !t.Days.Any() }

// EligibleOn reports whether the task may run on the Monday-first weekday index.
func (t Task) EligibleOn(weekday int) bool {
	if weekday < 0 || weekday > 6 {
		return false
	}
	return t.Days[weekday] || t.IsOneShot()
}

// Contains reports whether the wall-clock time of now falls in [Start, End).
func (t Task) Contains(now time.Time) bool {
	s := secondsOfDay(now)
	return t.Start.Seconds() <= s && s < t.End.Seconds()
}

// Ended reports whether the wall-clock time of now is at or past End.
func (t Task) Ended(now time.Time) bool {
	return secondsOfDay(now) >= t.End.Seconds()
}

// Remaining is the time left until End; negative once past it.
func (t Task) Remaining(now time.Time) time.Duration {
	return time.Duration(t.End.Seconds()-secondsOfDay(now)) * time.Second
}

// Describe renders the list line shown to users.
func (t Task) Describe() string {
	return fmt.Sprintf("%s - %s - %s - volume %.0f%% - %s",
		t.Start, t.End, filepath.Base(t.Path), t.Volume*100, t.Days)
}
