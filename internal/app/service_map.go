package app

import (
	"time"

	"musictimer/internal/config"
	"musictimer/internal/player"
	"musictimer/internal/scheduler"
	"musictimer/internal/volume"
	logx "musictimer/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapSchedulerConfig keeps the distinction between an omitted fade_in
// (default ramp) and an explicit "0s" (level set at once).
func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	tick, err := config.ParseDurationOrDefault("scheduler.tick", sc.Tick, scheduler.DefaultTick)
	if err != nil {
		return scheduler.Config{}, err
	}
	fadeIn, set, err := config.ParseOptionalDuration("scheduler.fade_in", sc.FadeIn)
	if err != nil {
		return scheduler.Config{}, err
	}
	if set && fadeIn == 0 {
		fadeIn = -1
	}
	fadeOut, err := config.ParseDurationOrDefault("scheduler.fade_out", sc.FadeOut, scheduler.DefaultFadeOut)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Tick:     tick,
		FadeIn:   fadeIn,
		FadeOut:  fadeOut,
		Timezone: sc.Timezone,
	}, nil
}

func mapVolumeConfig(cfg *config.Config) volume.BackendConfig {
	return volume.BackendConfig{Name: cfg.Volume.Backend, Device: cfg.Volume.Device}
}

type automationConfig struct {
	rules  []player.Rule
	settle time.Duration
	sender player.KeySender
}

func mapAutomationConfig(cfg *config.Config) (automationConfig, error) {
	settle, err := config.ParseDurationOrDefault("player.settle", cfg.Player.Settle, player.DefaultSettle)
	if err != nil {
		return automationConfig{}, err
	}
	rules := make([]player.Rule, 0, len(cfg.Player.Automation))
	for _, r := range cfg.Player.Automation {
		rules = append(rules, player.Rule{Match: r.Match, Keys: r.Keys})
	}
	return automationConfig{
		rules:  rules,
		settle: settle,
		sender: player.NewXdotoolSender(cfg.Player.KeySender),
	}, nil
}
