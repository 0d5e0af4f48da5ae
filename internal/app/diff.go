package app

import (
	"reflect"
	"strings"

	"drillbot/internal/config"
	logx "drillbot/pkg/logx"
)

// summarizeChange lists the config sections that differ and safe fields for
// the reload log line. The bot token is never logged.
func summarizeChange(oldCfg, newCfg *config.Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &config.Config{}
	}
	if newCfg == nil {
		newCfg = &config.Config{}
	}
	changed := make([]string, 0, 6)
	fields := make([]logx.Field, 0, 12)

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		strings.TrimSpace(oldCfg.Telegram.GroupLog) != strings.TrimSpace(newCfg.Telegram.GroupLog) {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	if !reflect.DeepEqual(oldCfg.Training, newCfg.Training) {
		changed = append(changed, "training")
		fields = append(fields,
			logx.String("training.interval", newCfg.Training.Interval),
			logx.String("training.timezone", newCfg.Training.Timezone),
			logx.Bool("training.scenario_changed", oldCfg.Training.ScenarioPath != newCfg.Training.ScenarioPath),
		)
	}
	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		fields = append(fields,
			logx.Int("delivery.workers", newCfg.Delivery.Workers),
			logx.Int("delivery.rate_per_sec", newCfg.Delivery.RatePerSec),
		)
	}
	if oldCfg.Export != newCfg.Export {
		changed = append(changed, "export")
	}
	return changed, fields
}

// restartOnly lists changed keys that take effect only after a restart.
func restartOnly(oldCfg, newCfg *config.Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token {
		out = append(out, "telegram.token")
	}
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		out = append(out, "telegram.poll_timeout")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		out = append(out, "storage")
	}
	if oldCfg.Export != newCfg.Export {
		out = append(out, "export")
	}
	return out
}
