package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"

	"musictimer/internal/control"
	"musictimer/internal/task"
)

func setOf(names ...string) func(string) bool {
	m := map[string]bool{}
	for _, n := range names {
		m[n] = true
	}
	return func(name string) bool { return m[name] }
}

func TestTaskInputAdd(t *testing.T) {
	in := taskInput{start: "09:00", end: "09:30", path: " /usr/bin/mpv ", days: "mon-fri", volume: 60, set: setOf()}
	r, err := in.apply(task.Record{}, true)
	require.NoError(t, err)
	assert.Equal(t, "09:00", r.StartTime)
	assert.Equal(t, "/usr/bin/mpv", r.Path)
	assert.Equal(t, []bool{true, true, true, true, true, false, false}, r.Days)
	assert.InDelta(t, 0.6, r.Volume, 1e-9)
}

func TestAddDefaultsToFullVolume(t *testing.T) {
	for _, f := range taskCmdFlags(true) {
		if v, ok := f.(cli.IntFlag); ok && v.Name == "volume, v" {
			assert.Equal(t, 100, v.Value)
			return
		}
	}
	t.Fatal("volume flag missing")
}

func TestTaskInputRejects(t *testing.T) {
	cases := []taskInput{
		{start: "10:00", end: "09:00", path: "/x", days: "once", volume: 50},
		{start: "09:00", end: "10:00", path: "", days: "once", volume: 50},
		{start: "09:00", end: "10:00", path: "/x", days: "someday", volume: 50},
		{start: "09:00", end: "10:00", path: "/x", days: "once", volume: 150},
		{start: "9", end: "10:00", path: "/x", days: "once", volume: 50},
	}
	for _, in := range cases {
		in.set = setOf()
		_, err := in.apply(task.Record{}, true)
		assert.Error(t, err, "%+v", in)
	}
}

func TestTaskInputEditKeepsUnsetFields(t *testing.T) {
	base := task.Record{StartTime: "09:00", EndTime: "09:30", Path: "/usr/bin/mpv", Days: make([]bool, 7), Volume: 0.4}
	in := taskInput{end: "10:00", volume: 0, set: setOf("end")}
	r, err := in.apply(base, false)
	require.NoError(t, err)
	assert.Equal(t, "09:00", r.StartTime)
	assert.Equal(t, "10:00", r.EndTime)
	assert.Equal(t, "/usr/bin/mpv", r.Path)
	assert.InDelta(t, 0.4, r.Volume, 1e-9)
}

func TestNextOf(t *testing.T) {
	assert.Equal(t, "-", nextOf(&control.TaskItem{}, time.Now()))

	now := time.Date(2024, 1, 1, 8, 0, 0, 0, time.Local)
	next := now.Add(2 * time.Hour)
	got := nextOf(&control.TaskItem{NextStart: &next}, now)
	assert.Contains(t, got, "Mon 10:00")
	assert.Contains(t, got, "from now")
}
