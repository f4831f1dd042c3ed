package volume

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "musictimer/pkg/logx"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func TestSetVolumeClampsAndMutes(t *testing.T) {
	mem := NewMemory(0.5)
	c := New(mem, logx.Nop())

	require.NoError(t, c.SetVolume(-0.3))
	lvl, err := c.Level()
	require.NoError(t, err)
	assert.Equal(t, 0.0, lvl)
	assert.True(t, mem.Muted())

	require.NoError(t, c.SetVolume(1.7))
	lvl, err = c.Level()
	require.NoError(t, err)
	assert.Equal(t, 1.0, lvl)
	assert.False(t, mem.Muted())
}

func TestFadeOutSingleStep(t *testing.T) {
	c := New(NewMemory(0.5), logx.Nop())
	got, err := c.FadeOut(10)
	require.NoError(t, err)
	assert.InDelta(t, 0.45, got, 1e-12)
}

func TestFadeOutStrictlyDecreasing(t *testing.T) {
	mem := NewMemory(0.8)
	c := New(mem, logx.Nop())

	prev := 0.8
	for remaining := 10.0; remaining >= 2; remaining-- {
		got, err := c.FadeOut(remaining)
		require.NoError(t, err)
		assert.Less(t, got, prev, "remaining=%v", remaining)
		assert.GreaterOrEqual(t, got, 0.0)
		prev = got
	}

	// The final second brings the level to exactly zero and mutes.
	got, err := c.FadeOut(1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)
	assert.True(t, mem.Muted())

	got, err = c.FadeOut(0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)
}

func TestFadeOutStepNeverNegative(t *testing.T) {
	assert.Equal(t, 0.0, FadeOutStep(0.3, 0.5))
	assert.Equal(t, 0.0, FadeOutStep(0.3, -1))
	assert.InDelta(t, 0.2, FadeOutStep(0.3, 3), 1e-12)
}

func TestFadeOutReadFailure(t *testing.T) {
	mem := NewMemory(0.5)
	mem.Fail(ErrUnavailable)
	c := New(mem, logx.Nop())
	_, err := c.FadeOut(5)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFadeInSequence(t *testing.T) {
	mem := NewMemory(0)
	require.NoError(t, mem.SetMute(context.Background(), true))
	c := New(mem, logx.Nop(), WithSleep(func(ctx context.Context, _ time.Duration) error {
		// mute must already be cleared when the first step is due
		assert.False(t, mem.Muted())
		return nil
	}))

	var emitted []float64
	require.NoError(t, c.FadeIn(context.Background(), 0.6, 10, func(l float64) { emitted = append(emitted, l) }))

	require.Len(t, emitted, 10)
	for i, l := range emitted {
		assert.InDelta(t, 0.06*float64(i+1), l, 1e-9, "step %d", i+1)
	}
	lvl, err := c.Level()
	require.NoError(t, err)
	assert.InDelta(t, 0.6, lvl, 1e-9)
}

func TestFadeInCancelled(t *testing.T) {
	mem := NewMemory(0)
	ctx, cancel := context.WithCancel(context.Background())
	steps := 0
	c := New(mem, logx.Nop(), WithSleep(noSleep))

	err := c.FadeIn(ctx, 1, 10, func(float64) {
		steps++
		if steps == 3 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, steps)
}

func TestFadeInStartsFromSilence(t *testing.T) {
	mem := NewMemory(0.9)
	var first []float64
	c := New(mem, logx.Nop(), WithSleep(func(ctx context.Context, _ time.Duration) error {
		if first == nil {
			lvl, err := mem.Level(ctx)
			require.NoError(t, err)
			first = []float64{lvl}
			assert.False(t, mem.Muted())
		}
		return nil
	}))

	require.NoError(t, c.FadeIn(context.Background(), 0.5, 5, nil))
	assert.Equal(t, []float64{0}, first)
	sets := mem.Sets()
	require.Len(t, sets, 6)
	assert.Equal(t, 0.0, sets[0])
	assert.InDelta(t, 0.1, sets[1], 1e-9)
	assert.InDelta(t, 0.5, sets[5], 1e-9)
}

func TestFadeInCancelledAfterTimerFiredDoesNotWrite(t *testing.T) {
	mem := NewMemory(0)
	ctx, cancel := context.WithCancel(context.Background())
	fired := make(chan struct{})
	release := make(chan struct{})
	c := New(mem, logx.Nop(), WithSleep(func(context.Context, time.Duration) error {
		close(fired)
		<-release
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- c.FadeIn(ctx, 0.6, 10, nil) }()

	<-fired
	cancel()
	require.NoError(t, c.SetVolume(0))
	close(release)

	assert.ErrorIs(t, <-done, context.Canceled)
	lvl, err := c.Level()
	require.NoError(t, err)
	assert.Equal(t, 0.0, lvl)
	assert.True(t, mem.Muted())
}

func TestSetBackendDuringFadeIn(t *testing.T) {
	first, second := NewMemory(0.5), NewMemory(0.5)
	c := New(first, logx.Nop(), WithSleep(noSleep))

	done := make(chan error, 1)
	go func() { done <- c.FadeIn(context.Background(), 0.8, 50, nil) }()
	c.SetBackend(second)
	require.NoError(t, <-done)

	lvl, err := c.Level()
	require.NoError(t, err)
	assert.InDelta(t, 0.8, lvl, 1e-9)
	assert.Equal(t, "memory", c.Backend().Name())
}

func TestFadeInZeroStepsSetsDirectly(t *testing.T) {
	mem := NewMemory(0)
	c := New(mem, logx.Nop())
	require.NoError(t, c.FadeIn(context.Background(), 0.7, 0, nil))
	assert.Equal(t, []float64{0.7}, mem.Sets())
}

func TestNilBackendIsNoop(t *testing.T) {
	c := New(nil, logx.Nop())
	assert.Equal(t, "none", c.Backend().Name())
	require.NoError(t, c.SetVolume(0.4))
	_, err := c.FadeOut(3)
	require.NoError(t, err)
}

func TestPactlCommands(t *testing.T) {
	var calls []string
	p := NewPactl("")
	p.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, name+" "+strings.Join(args, " "))
		return []byte("Volume: front-left: 32768 /  50% / -18.06 dB,   front-right: 32768 /  50% / -18.06 dB"), nil
	}

	lvl, err := p.Level(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, lvl, 1e-9)
	require.NoError(t, p.SetLevel(context.Background(), 0.25))
	require.NoError(t, p.SetMute(context.Background(), true))

	assert.Equal(t, []string{
		"pactl get-sink-volume @DEFAULT_SINK@",
		"pactl set-sink-volume @DEFAULT_SINK@ 25.00%",
		"pactl set-sink-mute @DEFAULT_SINK@ 1",
	}, calls)
}

func TestAmixerCommands(t *testing.T) {
	var calls []string
	a := NewAmixer("")
	a.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, name+" "+strings.Join(args, " "))
		return []byte("  Front Left: Playback 41 [64%] [on]"), nil
	}

	lvl, err := a.Level(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.64, lvl, 1e-9)
	require.NoError(t, a.SetLevel(context.Background(), 0.333))
	require.NoError(t, a.SetMute(context.Background(), false))

	assert.Equal(t, []string{
		"amixer -M get Master",
		"amixer -q -M set Master 33%",
		"amixer -q set Master unmute",
	}, calls)
}

func TestParsePercentRejectsGarbage(t *testing.T) {
	_, err := parsePercent([]byte("no sink"))
	assert.Error(t, err)
}

func TestNewBackendSelection(t *testing.T) {
	orig := lookPath
	t.Cleanup(func() { lookPath = orig })

	missing := func(string) (string, error) { return "", exec.ErrNotFound }
	found := func(name string) (string, error) { return "/usr/bin/" + name, nil }

	cases := []struct {
		name     string
		cfg      BackendConfig
		look     func(string) (string, error)
		wantName string
		wantErr  bool
	}{
		{name: "auto prefers pactl", cfg: BackendConfig{}, look: found, wantName: "pactl"},
		{name: "auto degrades", cfg: BackendConfig{Name: "auto"}, look: missing, wantName: "none"},
		{name: "pactl missing", cfg: BackendConfig{Name: "pactl"}, look: missing, wantName: "none"},
		{name: "amixer", cfg: BackendConfig{Name: "AMIXER"}, look: found, wantName: "amixer"},
		{name: "memory", cfg: BackendConfig{Name: "memory"}, look: missing, wantName: "memory"},
		{name: "none", cfg: BackendConfig{Name: "none"}, look: found, wantName: "none"},
		{name: "unknown", cfg: BackendConfig{Name: "coreaudio"}, look: found, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lookPath = tc.look
			b, err := NewBackend(tc.cfg, logx.Nop())
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantName, b.Name())
		})
	}
}

func TestAutoFallsBackToAmixer(t *testing.T) {
	orig := lookPath
	t.Cleanup(func() { lookPath = orig })
	lookPath = func(name string) (string, error) {
		if name == "amixer" {
			return "/usr/bin/amixer", nil
		}
		return "", errors.New("not found")
	}
	b, err := NewBackend(BackendConfig{Name: "auto", Device: "PCM"}, logx.Nop())
	require.NoError(t, err)
	require.Equal(t, "amixer", b.Name())
	assert.Equal(t, "PCM", b.(*Amixer).Control)
}
