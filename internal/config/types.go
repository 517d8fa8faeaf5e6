package config

// Config is the on-disk configuration for scriptd.
//
// The file may be JSON, YAML or TOML (picked by extension). All formats are
// decoded through the strict JSON decoder, so unknown keys are rejected.
type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Runner      RunnerConfig      `json:"runner"`
	Storage     StorageConfig     `json:"storage"`
	ActivityLog ActivityLogConfig `json:"activity_log"`

	// Notifier controls outbound run notifications.
	// If the whole section is omitted, notifications are disabled.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
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

// SchedulerConfig controls cron triggering.
type SchedulerConfig struct {
	// Timezone is an IANA TZ name (e.g. "Europe/Berlin"). Empty means Local.
	Timezone string `json:"timezone,omitempty"`
}

// RunnerConfig controls how scripts are executed.
//
// Python and Bash are interpreter command lines split with shell quoting rules
// (no shell is involved); the script path is appended as the last argument.
//
// Defaults:
//   - python: "$VIRTUAL_ENV/bin/python" when VIRTUAL_ENV is set, else "python3"
//   - bash: "bash"
//   - scripts_dir: "./scripts"
//   - timeout: "0s" (no timeout)
type RunnerConfig struct {
	Python     string `json:"python,omitempty"`
	Bash       string `json:"bash,omitempty"`
	ScriptsDir string `json:"scripts_dir,omitempty"`
	Timeout    string `json:"timeout,omitempty"`

	// Env restricts the script environment to PATH, HOME and the listed
	// names. Empty inherits the whole environment.
	Env []string `json:"env,omitempty"`
}

// StorageConfig selects where scripts and scheduler state are kept.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data" }
//
// For driver=file, path is a directory holding scripts.json and
// scheduler-state.json. For driver=sqlite, path is the database file.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ActivityLogConfig controls the per-script JSON-lines logs.
//
// Defaults: dir "./data/logs", 5 MB per file, 10 backups, 30 days.
type ActivityLogConfig struct {
	Dir        string `json:"dir,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// OnSuccess/OnFailure default to true, OnScheduled to false.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`

	OnSuccess   *bool `json:"on_success,omitempty"`
	OnFailure   *bool `json:"on_failure,omitempty"`
	OnScheduled *bool `json:"on_scheduled,omitempty"`

	Discord  *DiscordConfig  `json:"discord,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

type DiscordConfig struct {
	Webhook string `json:"webhook"`
}

type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
	// ThreadID targets a forum topic (0 if none).
	ThreadID int `json:"thread_id,omitempty"`
}
