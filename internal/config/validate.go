package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	DefaultStorageDriver   = "file"
	DefaultStoragePath     = "./data"
	DefaultScriptsDir      = "./scripts"
	DefaultActivityLogDir  = "./data/logs"
	DefaultLogMaxSizeMB    = 5
	DefaultLogMaxBackups   = 10
	DefaultLogMaxAgeDays   = 30
	DefaultSQLiteBusyAfter = 5 * time.Second
)

// Validate checks values that cannot be expressed by the decoder alone.
// Every problem is reported, joined into one error.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level: unknown level %q", cfg.Logging.Level)
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("scheduler.timezone: %v", err)
		}
	}

	for name, raw := range map[string]string{"runner.python": cfg.Runner.Python, "runner.bash": cfg.Runner.Bash} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if _, err := shellquote.Split(raw); err != nil {
			add("%s: %v", name, err)
		}
	}
	if _, err := ParseDurationField("runner.timeout", cfg.Runner.Timeout); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3":
	default:
		add("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	if cfg.ActivityLog.MaxSizeMB < 0 || cfg.ActivityLog.MaxBackups < 0 || cfg.ActivityLog.MaxAgeDays < 0 {
		add("activity_log: limits must be >= 0")
	}

	if n := cfg.Notifier; n != nil {
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 {
			add("notifier: workers, queue_size, rate_per_sec and retry_max must be >= 0")
		}
		if _, err := ParseDurationField("notifier.retry_base", n.RetryBase); err != nil {
			errs = append(errs, err)
		}
		if _, err := ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
			errs = append(errs, err)
		}
		if n.Discord != nil && strings.TrimSpace(n.Discord.Webhook) == "" {
			add("notifier.discord.webhook is required")
		}
		if n.Telegram != nil {
			if strings.TrimSpace(n.Telegram.Token) == "" {
				add("notifier.telegram.token is required")
			}
			if n.Telegram.ChatID == 0 {
				add("notifier.telegram.chat_id is required")
			}
		}
	}

	return errors.Join(errs...)
}

// StorageDriver returns the normalized driver name.
func (c StorageConfig) StorageDriver() string {
	switch d := strings.ToLower(strings.TrimSpace(c.Driver)); d {
	case "", "json":
		return DefaultStorageDriver
	case "sqlite3":
		return "sqlite"
	default:
		return d
	}
}

func (c StorageConfig) StoragePath() string {
	if p := strings.TrimSpace(c.Path); p != "" {
		return p
	}
	if c.StorageDriver() == "sqlite" {
		return filepath.Join(DefaultStoragePath, "scriptd.db")
	}
	return DefaultStoragePath
}

func (c StorageConfig) BusyTimeoutDuration() time.Duration {
	d, err := ParseDurationOrDefault("storage.busy_timeout", c.BusyTimeout, DefaultSQLiteBusyAfter)
	if err != nil {
		return DefaultSQLiteBusyAfter
	}
	return d
}

// PythonCommand returns the configured interpreter command line or the default.
func (c RunnerConfig) PythonCommand() string {
	if s := strings.TrimSpace(c.Python); s != "" {
		return s
	}
	if venv := strings.TrimSpace(os.Getenv("VIRTUAL_ENV")); venv != "" {
		return shellquote.Join(filepath.Join(venv, "bin", "python"))
	}
	return "python3"
}

func (c RunnerConfig) BashCommand() string {
	if s := strings.TrimSpace(c.Bash); s != "" {
		return s
	}
	return "bash"
}

func (c RunnerConfig) Dir() string {
	if s := strings.TrimSpace(c.ScriptsDir); s != "" {
		return s
	}
	return DefaultScriptsDir
}

func (c RunnerConfig) TimeoutDuration() time.Duration {
	d, _ := ParseDurationField("runner.timeout", c.Timeout)
	return d
}

func (c ActivityLogConfig) Effective() ActivityLogConfig {
	out := c
	if strings.TrimSpace(out.Dir) == "" {
		out.Dir = DefaultActivityLogDir
	}
	if out.MaxSizeMB <= 0 {
		out.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if out.MaxBackups <= 0 {
		out.MaxBackups = DefaultLogMaxBackups
	}
	if out.MaxAgeDays <= 0 {
		out.MaxAgeDays = DefaultLogMaxAgeDays
	}
	return out
}
