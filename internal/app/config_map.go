package app

import (
	"fmt"
	"net/http"
	"time"

	"scriptd/internal/activitylog"
	"scriptd/internal/config"
	"scriptd/internal/notifier"
	"scriptd/internal/runner"
	"scriptd/internal/storage"
	logx "scriptd/pkg/logx"
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

func mapStorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      cfg.Storage.StorageDriver(),
		Path:        cfg.Storage.StoragePath(),
		BusyTimeout: cfg.Storage.BusyTimeoutDuration(),
	}
}

func mapRunnerConfig(cfg *config.Config) runner.Config {
	return runner.Config{
		Python:     cfg.Runner.PythonCommand(),
		Bash:       cfg.Runner.BashCommand(),
		ScriptsDir: cfg.Runner.Dir(),
		Timeout:    cfg.Runner.TimeoutDuration(),
		Env:        append([]string(nil), cfg.Runner.Env...),
	}
}

func mapActivityLogConfig(cfg *config.Config) activitylog.Config {
	al := cfg.ActivityLog.Effective()
	return activitylog.Config{
		Dir:        al.Dir,
		MaxSize:    al.MaxSizeMB,
		MaxBackups: al.MaxBackups,
		MaxAge:     al.MaxAgeDays,
	}
}

// mapNotifierConfig builds the notifier config and its channels. A missing
// notifier section yields a disabled config with no channels.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, []notifier.Channel, error) {
	nc := cfg.Notifier
	if nc == nil {
		return notifier.Config{}, nil, nil
	}
	def := notifier.DefaultConfig()

	base, err := config.ParseDurationOrDefault("notifier.retry_base", nc.RetryBase, def.RetryBase)
	if err != nil {
		return notifier.Config{}, nil, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", nc.RetryMaxDelay, def.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, nil, err
	}

	out := notifier.Config{
		Enabled:       nc.Enabled,
		Workers:       nc.Workers,
		QueueSize:     nc.QueueSize,
		RatePerSec:    nc.RatePerSec,
		RetryMax:      nc.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		OnSuccess:     boolOr(nc.OnSuccess, def.OnSuccess),
		OnFailure:     boolOr(nc.OnFailure, def.OnFailure),
		OnScheduled:   boolOr(nc.OnScheduled, def.OnScheduled),
	}

	var channels []notifier.Channel
	if nc.Discord != nil {
		d, err := notifier.NewDiscord(nc.Discord.Webhook, &http.Client{Timeout: 10 * time.Second})
		if err != nil {
			return notifier.Config{}, nil, fmt.Errorf("notifier.discord: %w", err)
		}
		channels = append(channels, d)
	}
	if nc.Telegram != nil {
		t, err := notifier.NewTelegram(notifier.TelegramConfig{
			Token:    nc.Telegram.Token,
			ChatID:   nc.Telegram.ChatID,
			ThreadID: nc.Telegram.ThreadID,
		})
		if err != nil {
			return notifier.Config{}, nil, fmt.Errorf("notifier.telegram: %w", err)
		}
		channels = append(channels, t)
	}
	return out, channels, nil
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
