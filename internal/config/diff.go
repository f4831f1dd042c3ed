package config

import (
	"reflect"
	"strings"

	logx "musictimer/pkg/logx"
)

// SummarizeConfigChange lists the sections that differ between oldCfg and
// newCfg together with log fields describing the new values.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Store != newCfg.Store {
		// The store is opened once; a change takes effect after restart.
		changed = append(changed, "store")
		attrs = append(attrs,
			logx.String("store.driver", newCfg.Store.Driver),
			logx.String("store.path", newCfg.Store.Path),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.tick", newCfg.Scheduler.Tick),
			logx.String("scheduler.fade_in", newCfg.Scheduler.FadeIn),
			logx.String("scheduler.fade_out", newCfg.Scheduler.FadeOut),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}
	if oldCfg.Volume != newCfg.Volume {
		changed = append(changed, "volume")
		attrs = append(attrs,
			logx.String("volume.backend", newCfg.Volume.Backend),
			logx.String("volume.device", newCfg.Volume.Device),
		)
	}
	if !reflect.DeepEqual(oldCfg.Player, newCfg.Player) {
		changed = append(changed, "player")
		attrs = append(attrs,
			logx.String("player.settle", newCfg.Player.Settle),
			logx.Int("player.automation_rules", len(newCfg.Player.Automation)),
		)
	}
	if oldCfg.Control != newCfg.Control {
		changed = append(changed, "control")
		attrs = append(attrs,
			logx.Bool("control.enabled", newCfg.Control.Enabled),
			logx.String("control.addr", newCfg.Control.Addr),
		)
	}
	return changed, attrs
}

// RestartRequired reports sections that only take effect after a restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if s == "store" || s == "control" {
			out = append(out, s)
		}
	}
	return out
}
