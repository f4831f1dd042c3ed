package volume

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	logx "musictimer/pkg/logx"
)

// Noop is used when no audio backend is present. Every operation succeeds
// without touching a device.
type Noop struct{}

func (Noop) Name() string                                  { return "none" }
func (Noop) Level(ctx context.Context) (float64, error)    { return 0, nil }
func (Noop) SetLevel(ctx context.Context, _ float64) error { return nil }
func (Noop) SetMute(ctx context.Context, _ bool) error     { return nil }

// Memory is an in-process backend for dry runs and tests.
type Memory struct {
	mu     sync.Mutex
	level  float64
	muted  bool
	sets   []float64
	failOn error
}

func NewMemory(initial float64) *Memory { return &Memory{level: clamp(initial)} }

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Level(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != nil {
		return 0, m.failOn
	}
	return m.level, nil
}

func (m *Memory) SetLevel(ctx context.Context, level float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != nil {
		return m.failOn
	}
	m.level = level
	m.sets = append(m.sets, level)
	return nil
}

func (m *Memory) SetMute(ctx context.Context, muted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != nil {
		return m.failOn
	}
	m.muted = muted
	return nil
}

// Muted reports the mute flag.
func (m *Memory) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// Sets returns every level written so far.
func (m *Memory) Sets() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.sets...)
}

// Fail makes every subsequent call return err (nil restores).
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	m.failOn = err
	m.mu.Unlock()
}

// runFunc executes an external command and returns its combined output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

var percentRe = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)

func parsePercent(out []byte) (float64, error) {
	m := percentRe.FindSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("no volume percentage in %q", strings.TrimSpace(string(out)))
	}
	v, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil {
		return 0, err
	}
	return v / 100, nil
}

func formatPercent(level float64) string {
	return strconv.FormatFloat(clamp(level)*100, 'f', 2, 64) + "%"
}

// Pactl drives the default (or a named) PulseAudio/PipeWire sink.
type Pactl struct {
	Sink string
	run  runFunc
}

func NewPactl(sink string) *Pactl {
	if strings.TrimSpace(sink) == "" {
		sink = "@DEFAULT_SINK@"
	}
	return &Pactl{Sink: sink, run: runCommand}
}

func (p *Pactl) Name() string { return "pactl" }

func (p *Pactl) Level(ctx context.Context) (float64, error) {
	out, err := p.run(ctx, "pactl", "get-sink-volume", p.Sink)
	if err != nil {
		return 0, err
	}
	return parsePercent(out)
}

func (p *Pactl) SetLevel(ctx context.Context, level float64) error {
	_, err := p.run(ctx, "pactl", "set-sink-volume", p.Sink, formatPercent(level))
	return err
}

func (p *Pactl) SetMute(ctx context.Context, muted bool) error {
	v := "0"
	if muted {
		v = "1"
	}
	_, err := p.run(ctx, "pactl", "set-sink-mute", p.Sink, v)
	return err
}

// Amixer drives an ALSA mixer control (Master by default).
type Amixer struct {
	Control string
	run     runFunc
}

func NewAmixer(control string) *Amixer {
	if strings.TrimSpace(control) == "" {
		control = "Master"
	}
	return &Amixer{Control: control, run: runCommand}
}

func (a *Amixer) Name() string { return "amixer" }

func (a *Amixer) Level(ctx context.Context) (float64, error) {
	out, err := a.run(ctx, "amixer", "-M", "get", a.Control)
	if err != nil {
		return 0, err
	}
	return parsePercent(out)
}

func (a *Amixer) SetLevel(ctx context.Context, level float64) error {
	pct := strconv.Itoa(int(clamp(level)*100+0.5)) + "%"
	_, err := a.run(ctx, "amixer", "-q", "-M", "set", a.Control, pct)
	return err
}

func (a *Amixer) SetMute(ctx context.Context, muted bool) error {
	v := "unmute"
	if muted {
		v = "mute"
	}
	_, err := a.run(ctx, "amixer", "-q", "set", a.Control, v)
	return err
}

// BackendConfig selects a backend.
//
// Name values: "auto" (default: pactl, then amixer, then none), "pactl",
// "amixer", "memory", "none".
type BackendConfig struct {
	Name   string
	Device string // sink for pactl, mixer control for amixer
}

var lookPath = exec.LookPath

// NewBackend resolves cfg to a Backend. A backend whose binary is missing
// degrades to Noop with a warning instead of failing startup.
func NewBackend(cfg BackendConfig, log logx.Logger) (Backend, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	name := strings.ToLower(strings.TrimSpace(cfg.Name))
	switch name {
	case "", "auto":
		if _, err := lookPath("pactl"); err == nil {
			return NewPactl(cfg.Device), nil
		}
		if _, err := lookPath("amixer"); err == nil {
			return NewAmixer(cfg.Device), nil
		}
		log.Warn("no volume backend found; volume changes are ignored")
		return Noop{}, nil
	case "pactl":
		if _, err := lookPath("pactl"); err != nil {
			log.Warn("pactl not found; volume changes are ignored", logx.Err(err))
			return Noop{}, nil
		}
		return NewPactl(cfg.Device), nil
	case "amixer":
		if _, err := lookPath("amixer"); err != nil {
			log.Warn("amixer not found; volume changes are ignored", logx.Err(err))
			return Noop{}, nil
		}
		return NewAmixer(cfg.Device), nil
	case "memory":
		return NewMemory(0), nil
	case "none":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown volume backend %q", cfg.Name)
	}
}
