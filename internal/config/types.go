package config

type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token" env:"RELAYBOT_TELEGRAM_TOKEN"`
	// OwnerUserIDs gate operator-only commands (/stats).
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id used as the operator log sink (empty = disabled).
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
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

// StorageConfig controls the SQLite message store.
//
// Example:
//
//	"storage": { "path": "./relaybot.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Path string `json:"path" env:"RELAYBOT_DB_PATH"`
	// BusyTimeout is a Go duration string (e.g. "5s").
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// MaintenanceConfig controls the scheduled housekeeping job
// (WAL checkpoint + usage snapshot log).
type MaintenanceConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron spec (5-field). Empty defaults to daily at 03:30.
	Schedule string `json:"schedule,omitempty"`
}
