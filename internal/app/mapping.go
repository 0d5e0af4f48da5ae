package app

import (
	"strconv"
	"strings"
	"time"

	"drillbot/internal/bot"
	"drillbot/internal/config"
	"drillbot/internal/schedule"
	"drillbot/internal/storage"
	"drillbot/internal/training"
	logx "drillbot/pkg/logx"
)

// runtimeSettings is everything the running services take from the config
// file, resolved and validated.
type runtimeSettings struct {
	Window       training.Window
	Delivery     training.DeliveryConfig
	Schedule     schedule.Config
	Bot          bot.Settings
	ScenarioPath string
}

func mapRuntime(cfg *config.Config) (runtimeSettings, error) {
	tr, err := cfg.TrainingSettings()
	if err != nil {
		return runtimeSettings{}, err
	}
	d, err := cfg.DeliverySettings()
	if err != nil {
		return runtimeSettings{}, err
	}
	window := training.Window{Start: tr.WorkStart, End: tr.WorkEnd, Loc: tr.Location}
	return runtimeSettings{
		Window:   window,
		Delivery: training.DeliveryConfig{Workers: d.Workers, RatePerSec: d.RatePerSec},
		Schedule: schedule.Config{Interval: tr.Interval, Location: tr.Location},
		Bot: bot.Settings{
			Interval: tr.Interval,
			Window:   window,
			Owners:   append([]int64(nil), cfg.Telegram.OwnerUserIDs...),
		},
		ScenarioPath: tr.ScenarioPath,
	}, nil
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOr("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Path: strings.TrimSpace(cfg.Storage.Path), BusyTimeout: busy}, nil
}

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// groupLogChat parses telegram.group_log; 0 means unset or invalid.
func groupLogChat(cfg *config.Config) int64 {
	s := strings.TrimSpace(cfg.Telegram.GroupLog)
	if s == "" {
		return 0
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
