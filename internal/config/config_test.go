package config

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "scriptd/pkg/logx"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadFormats(t *testing.T) {
	cases := []struct {
		name string
		file string
		body string
	}{
		{
			name: "json",
			file: "scriptd.json",
			body: `{"scheduler":{"timezone":"UTC"},"storage":{"driver":"sqlite","path":"x.db"},"runner":{"bash":"/bin/bash --norc"}}`,
		},
		{
			name: "yaml",
			file: "scriptd.yaml",
			body: "scheduler:\n  timezone: UTC\nstorage:\n  driver: sqlite\n  path: x.db\nrunner:\n  bash: /bin/bash --norc\n",
		},
		{
			name: "toml",
			file: "scriptd.toml",
			body: "[scheduler]\ntimezone = \"UTC\"\n[storage]\ndriver = \"sqlite\"\npath = \"x.db\"\n[runner]\nbash = \"/bin/bash --norc\"\n",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := writeFile(t, t.TempDir(), tc.file, tc.body)
			m := NewManager(p)
			cfg, err := m.Load()
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if cfg.Scheduler.Timezone != "UTC" {
				t.Fatalf("timezone=%q", cfg.Scheduler.Timezone)
			}
			if cfg.Storage.StorageDriver() != "sqlite" || cfg.Storage.StoragePath() != "x.db" {
				t.Fatalf("storage=%+v", cfg.Storage)
			}
			if cfg.Runner.BashCommand() != "/bin/bash --norc" {
				t.Fatalf("bash=%q", cfg.Runner.BashCommand())
			}
			if m.Get() != cfg {
				t.Fatalf("expected loaded config to be committed")
			}
		})
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	if _, err := Decode("c.json", []byte(`{"scheduler":{"zone":"UTC"}}`)); err == nil {
		t.Fatalf("expected unknown field error")
	}
	if _, err := Decode("c.yaml", []byte("bogus: 1\n")); err == nil {
		t.Fatalf("expected unknown field error for yaml")
	}
	if _, err := Decode("c.json", []byte(`{} {}`)); err == nil {
		t.Fatalf("expected trailing data error")
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Scheduler: SchedulerConfig{Timezone: "Not/AZone"},
		Runner:    RunnerConfig{Python: `python3 "unterminated`, Timeout: "-1s"},
		Storage:   StorageConfig{Driver: "postgres"},
		Notifier:  &NotifierConfig{Enabled: true, Telegram: &TelegramConfig{}},
	}
	err := Validate(cfg)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	for _, want := range []string{"scheduler.timezone", "runner.python", "runner.timeout", "storage.driver", "telegram.token", "telegram.chat_id"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}

	if err := Validate(&Config{}); err != nil {
		t.Fatalf("zero config should be valid: %v", err)
	}
}

func TestDefaults(t *testing.T) {
	t.Setenv("VIRTUAL_ENV", "")
	var r RunnerConfig
	if r.PythonCommand() != "python3" || r.BashCommand() != "bash" || r.Dir() != DefaultScriptsDir {
		t.Fatalf("unexpected runner defaults: %q %q %q", r.PythonCommand(), r.BashCommand(), r.Dir())
	}
	if r.TimeoutDuration() != 0 {
		t.Fatalf("expected no timeout by default")
	}

	t.Setenv("VIRTUAL_ENV", "/opt/venv")
	if got := r.PythonCommand(); got != "/opt/venv/bin/python" {
		t.Fatalf("venv python=%q", got)
	}

	al := ActivityLogConfig{}.Effective()
	if al.MaxSizeMB != 5 || al.MaxBackups != 10 || al.MaxAgeDays != 30 {
		t.Fatalf("activity log defaults=%+v", al)
	}

	var s StorageConfig
	if s.StorageDriver() != "file" || s.StoragePath() != DefaultStoragePath {
		t.Fatalf("storage defaults=%q %q", s.StorageDriver(), s.StoragePath())
	}
	if s.BusyTimeoutDuration() != DefaultSQLiteBusyAfter {
		t.Fatalf("busy timeout=%v", s.BusyTimeoutDuration())
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := &Config{Logging: LoggingConfig{Level: "info"}}
	newCfg := &Config{
		Logging:  LoggingConfig{Level: "debug"},
		Storage:  StorageConfig{Driver: "sqlite"},
		Notifier: &NotifierConfig{Enabled: true, Discord: &DiscordConfig{Webhook: "https://discord.example/secret"}},
	}
	changed, attrs, restart := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "logging,notifier,storage" {
		t.Fatalf("changed=%v", changed)
	}
	if strings.Join(restart, ",") != "storage" {
		t.Fatalf("restart=%v", restart)
	}
	var buf bytes.Buffer
	logx.NewJSON(&buf, "debug").Info("config changed", attrs...)
	if strings.Contains(buf.String(), "secret") {
		t.Fatalf("webhook leaked in log attrs: %s", buf.String())
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "scriptd.json", `{"logging":{"level":"info"}}`)
	m := NewManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "scriptd.json", `{"logging":{"level":"debug"}}`)

	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("level=%q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for config update")
	}
	cancel()
	<-done
}

func TestParseDurationField(t *testing.T) {
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: " 750ms ", want: 750 * time.Millisecond},
		{raw: "1m30s", want: 90 * time.Second},
		{raw: "-1s", wantErr: true},
		{raw: "10", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("x", tc.raw)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("%q: err=%v, want ErrInvalidConfig", tc.raw, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: got %v, %v; want %v", tc.raw, got, err, tc.want)
		}
	}

	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	if err != nil || d != 3*time.Second {
		t.Fatalf("default: %v, %v", d, err)
	}
}
