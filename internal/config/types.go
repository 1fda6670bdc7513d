package config

// Config is the full bot configuration. The file may be JSON or YAML; both
// go through the same strict decoder (unknown fields are rejected).
//
// The Telegram token itself is never put in the file: it comes from the
// TELEGRAM_BOT_TOKEN environment variable (optionally via a .env file).
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	State    StateConfig    `json:"state"`
	Audit    *AuditConfig   `json:"audit,omitempty"`
}

type TelegramConfig struct {
	// AdminUserIDs may manage the event (create/delete/open/close) and
	// operate on any team.
	AdminUserIDs []int64 `json:"admin_user_ids"`

	// PollTimeout is a Go duration string for long polling (default "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`

	// RatePerSec caps outgoing replies (default 1).
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StateConfig controls the persisted event-state snapshot.
//
// Path changes do not take effect on hot reload; restart the bot to move the
// snapshot.
type StateConfig struct {
	// Path of the snapshot file (default "./event_data.json").
	Path string `json:"path,omitempty"`

	// Checkpoint is a cron spec or @every interval for the periodic
	// save-if-dirty and expiry sweep (default "@every 1m").
	Checkpoint string `json:"checkpoint,omitempty"`

	// ExpiryGrace is how long after the event day the state is kept
	// before being cleared (Go duration string, default "24h").
	ExpiryGrace string `json:"expiry_grace,omitempty"`
}

// AuditConfig controls the optional mutation audit trail.
//
// Example:
//
//	"audit": { "driver": "file", "path": "./data/audit.jsonl" }
type AuditConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// Defaults for omitted fields.
const (
	DefaultStatePath  = "./event_data.json"
	DefaultCheckpoint = "@every 1m"
)
