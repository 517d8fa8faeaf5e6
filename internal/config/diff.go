package config

import (
	"reflect"
	"sort"
	"strings"

	logx "scriptd/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes tokens or webhook URLs),
// and (3) the changed sections that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	restart := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		restart = append(restart, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)))
	}

	if !reflect.DeepEqual(oldCfg.Runner, newCfg.Runner) {
		changed = append(changed, "runner")
		restart = append(restart, "runner")
		attrs = append(attrs,
			logx.String("runner.python", newCfg.Runner.PythonCommand()),
			logx.String("runner.bash", newCfg.Runner.BashCommand()),
			logx.String("runner.timeout", strings.TrimSpace(newCfg.Runner.Timeout)),
		)
	}

	if oldCfg.Storage.StorageDriver() != newCfg.Storage.StorageDriver() ||
		oldCfg.Storage.StoragePath() != newCfg.Storage.StoragePath() ||
		strings.TrimSpace(oldCfg.Storage.BusyTimeout) != strings.TrimSpace(newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.StorageDriver()),
			logx.String("storage.path", newCfg.Storage.StoragePath()),
		)
	}

	if oldCfg.ActivityLog.Effective() != newCfg.ActivityLog.Effective() {
		changed = append(changed, "activity_log")
		restart = append(restart, "activity_log")
		attrs = append(attrs, logx.String("activity_log.dir", newCfg.ActivityLog.Effective().Dir))
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		n := newCfg.Notifier
		if n == nil {
			n = &NotifierConfig{}
		}
		attrs = append(attrs,
			logx.Bool("notifier.enabled", n.Enabled),
			logx.Int("notifier.workers", n.Workers),
			logx.Int("notifier.rate_per_sec", n.RatePerSec),
			logx.Bool("notifier.discord_set", n.Discord != nil && strings.TrimSpace(n.Discord.Webhook) != ""),
			logx.Bool("notifier.telegram_set", n.Telegram != nil && strings.TrimSpace(n.Telegram.Token) != ""),
		)
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}
