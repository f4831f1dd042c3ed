package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Config is the daemon configuration. Files may be JSON or YAML; decoding is
// strict (unknown keys and trailing data are rejected). Omitted keys keep the
// values from Default().
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Store     StoreConfig     `json:"store"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Volume    VolumeConfig    `json:"volume"`
	Player    PlayerConfig    `json:"player"`
	Control   ControlConfig   `json:"control"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StoreConfig selects the task store.
//
// Example:
//
//	"store": { "driver": "file", "path": "./tasks.json" }
type StoreConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls the tick loop. Durations are Go duration strings.
//
// fade_in: "" keeps the 10s default, "0s" sets the level at once.
type SchedulerConfig struct {
	Tick     string `json:"tick"`
	FadeIn   string `json:"fade_in"`
	FadeOut  string `json:"fade_out"`
	Timezone string `json:"timezone,omitempty"`
}

// VolumeConfig selects the audio backend: auto, pactl, amixer, memory, none.
type VolumeConfig struct {
	Backend string `json:"backend"`
	Device  string `json:"device,omitempty"`
}

// PlayerConfig controls process launch and the optional key automation.
type PlayerConfig struct {
	Settle     string           `json:"settle"`
	KillGrace  string           `json:"kill_grace,omitempty"`
	KeySender  string           `json:"key_sender,omitempty"` // xdotool binary
	Automation []AutomationRule `json:"automation,omitempty"`
}

// AutomationRule sends Keys after start when Match occurs in the program path.
type AutomationRule struct {
	Match string   `json:"match"`
	Keys  []string `json:"keys"`
}

// ControlConfig is the local JSON-RPC endpoint used by the CLI.
type ControlConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Pprof   bool   `json:"pprof,omitempty"` // serve /debug/pprof/ on the same address
}

const (
	DefaultControlAddr = "127.0.0.1:7317"
	DefaultStorePath   = "./tasks.json"
)

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Store:   StoreConfig{Driver: "file", Path: DefaultStorePath},
		Scheduler: SchedulerConfig{
			Tick:    "1s",
			FadeIn:  "10s",
			FadeOut: "10s",
		},
		Volume:  VolumeConfig{Backend: "auto"},
		Player:  PlayerConfig{Settle: "7s", KillGrace: "5s"},
		Control: ControlConfig{Enabled: true, Addr: DefaultControlAddr},
	}
}

// Validate checks every field that is only interpreted later, so a bad
// reload is rejected before it is committed.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error

	switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	if _, err := ParseDurationField("store.busy_timeout", c.Store.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	for path, raw := range map[string]string{
		"scheduler.tick":     c.Scheduler.Tick,
		"scheduler.fade_in":  c.Scheduler.FadeIn,
		"scheduler.fade_out": c.Scheduler.FadeOut,
		"player.settle":      c.Player.Settle,
		"player.kill_grace":  c.Player.KillGrace,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if tick, err := ParseDurationField("scheduler.tick", c.Scheduler.Tick); err == nil && tick > time.Minute {
		errs = append(errs, fmt.Errorf("scheduler.tick: %s is longer than a window's minute resolution", tick))
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Volume.Backend)) {
	case "", "auto", "pactl", "amixer", "memory", "none":
	default:
		errs = append(errs, fmt.Errorf("volume.backend: unknown backend %q", c.Volume.Backend))
	}

	for i, r := range c.Player.Automation {
		if strings.TrimSpace(r.Match) == "" {
			errs = append(errs, fmt.Errorf("player.automation[%d].match: empty", i))
		}
		if len(r.Keys) == 0 {
			errs = append(errs, fmt.Errorf("player.automation[%d].keys: empty", i))
		}
	}

	if c.Control.Enabled {
		if _, _, err := net.SplitHostPort(c.ControlAddr()); err != nil {
			errs = append(errs, fmt.Errorf("control.addr: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ControlAddr returns the configured control address or the default.
func (c *Config) ControlAddr() string {
	if a := strings.TrimSpace(c.Control.Addr); a != "" {
		return a
	}
	return DefaultControlAddr
}
