package config

// Config is the on-disk configuration (JSON, or YAML coerced to JSON).
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Training TrainingConfig `json:"training"`
	Delivery DeliveryConfig `json:"delivery,omitempty"`
	Export   ExportConfig   `json:"export,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied via DRILLBOT_TOKEN.
	Token string `json:"token"`
	// OwnerUserIDs may use the admin panel and admin commands.
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id that receives warning/error logs.
	GroupLog string `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig locates the SQLite database file.
//
// Example:
//
//	"storage": { "path": "./data/trainer.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// TrainingConfig drives the progression engine.
//
// Defaults (when omitted/zero):
//   - interval: "40m"
//   - work_start_hour: 10, work_end_hour: 20 (half-open [start, end))
//   - timezone: "Europe/Moscow"
//   - scenario_path: "" (use the embedded scenario)
type TrainingConfig struct {
	Interval      string `json:"interval,omitempty"`
	WorkStartHour *int   `json:"work_start_hour,omitempty"`
	WorkEndHour   *int   `json:"work_end_hour,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
	ScenarioPath  string `json:"scenario_path,omitempty"`
}

// DeliveryConfig bounds the per-tick fan-out.
//
// Defaults: workers 4, rate_per_sec 20 (below Telegram's ~30 msg/s bot limit).
type DeliveryConfig struct {
	Workers    int `json:"workers,omitempty"`
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type ExportConfig struct {
	// Dir keeps a copy of every CSV export; empty disables the copy.
	Dir string `json:"dir,omitempty"`
}
