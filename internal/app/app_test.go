package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"scriptd/internal/config"
	"scriptd/internal/scheduler"
	"scriptd/internal/script"
)

func writeConfig(t *testing.T, dir string, extra string) string {
	t.Helper()
	body := fmt.Sprintf(`{
  "logging": {"level": "error"},
  "scheduler": {"timezone": "UTC"},
  "runner": {"scripts_dir": %q},
  "storage": {"driver": "file", "path": %q},
  "activity_log": {"dir": %q}%s
}`, filepath.Join(dir, "scripts"), filepath.Join(dir, "data"), filepath.Join(dir, "logs"), extra)
	p := filepath.Join(dir, "scriptd.json")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func newTestApp(t *testing.T, extra string) *App {
	t.Helper()
	a, err := NewApp(writeConfig(t, t.TempDir(), extra))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopCommand)
	})
	return a
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "scriptd.json")
	if err := os.WriteFile(p, []byte(`{"storage":{"driver":"mongo"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewApp(p); err == nil {
		t.Fatalf("expected error for unknown storage driver")
	}
}

func TestOneShotRunRecordsExecution(t *testing.T) {
	a := newTestApp(t, "")
	ctx := context.Background()

	sc, err := a.Controller().CreateScript(ctx, script.Script{Name: "hello", Type: script.TypeBash, Code: "echo hi"})
	if err != nil {
		t.Fatalf("CreateScript: %v", err)
	}
	ex, err := a.Controller().RunNow(ctx, sc.ID)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if ex.Status != script.StatusSuccess || ex.Log != "hi\n" || ex.TriggeredBySchedule {
		t.Fatalf("unexpected execution: %+v", ex)
	}

	got, err := a.Store().GetScript(ctx, sc.ID)
	if err != nil {
		t.Fatalf("GetScript: %v", err)
	}
	if len(got.Executions) != 1 || got.Executions[0].ID != ex.ID {
		t.Fatalf("execution not persisted: %+v", got.Executions)
	}

	entries, err := a.Activity().Executions(sc.ID, 10)
	if err != nil {
		t.Fatalf("Executions: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("activity entries = %d, want 1", len(entries))
	}
}

func TestStartRegistersSchedulesAndReloadPicksUpEdits(t *testing.T) {
	a := newTestApp(t, "")
	ctx := context.Background()

	first, err := a.Controller().CreateScript(ctx, script.Script{
		Name: "nightly", Type: script.TypeBash, Code: "true", Schedules: []string{"0 0 * * *"},
	})
	if err != nil {
		t.Fatalf("CreateScript: %v", err)
	}
	a.Start(ctx)
	assertActive(t, a, scheduler.Key{ScriptID: first.ID, Expr: "0 0 * * *"})

	// another process edits the store directly
	second, err := a.Store().CreateScript(ctx, script.Script{
		Name: "often", Type: script.TypeBash, Code: "true", Schedules: []string{"*/5 * * * *"}, IsSchedulerEnabled: true,
	})
	if err != nil {
		t.Fatalf("store CreateScript: %v", err)
	}
	if err := a.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	assertActive(t, a, scheduler.Key{ScriptID: first.ID, Expr: "0 0 * * *"})
	assertActive(t, a, scheduler.Key{ScriptID: second.ID, Expr: "*/5 * * * *"})
}

func TestStartSurvivesCorruptStateUntilReload(t *testing.T) {
	dir := t.TempDir()
	a, err := NewApp(writeConfig(t, dir, ""))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopCommand)
	})
	ctx := context.Background()

	sc, err := a.Store().CreateScript(ctx, script.Script{
		Name: "nightly", Type: script.TypeBash, Code: "true", Schedules: []string{"0 0 * * *"}, IsSchedulerEnabled: true,
	})
	if err != nil {
		t.Fatalf("store CreateScript: %v", err)
	}
	statePath := filepath.Join(dir, "data", "scheduler-state.json")
	if err := os.WriteFile(statePath, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	a.Start(ctx)
	if !a.started {
		t.Fatalf("app not marked started")
	}
	if n := len(a.registry.Keys()); n != 0 {
		t.Fatalf("jobs registered from a corrupt state: %d", n)
	}
	if err := a.Reload(ctx); err == nil {
		t.Fatalf("Reload succeeded with the state still corrupt")
	}

	if err := os.WriteFile(statePath, []byte(`{"globalEnabled": true, "scriptStates": {}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := a.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	assertActive(t, a, scheduler.Key{ScriptID: sc.ID, Expr: "0 0 * * *"})
}

func assertActive(t *testing.T, a *App, key scheduler.Key) {
	t.Helper()
	st, err := a.Controller().Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	for _, j := range st.Jobs {
		if j.Key == key {
			if !j.Active {
				t.Fatalf("job %s registered but inactive", key)
			}
			return
		}
	}
	t.Fatalf("job %s not registered; jobs=%+v", key, st.Jobs)
}

func TestApplyConfigStartsNotifier(t *testing.T) {
	got := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content string `json:"content"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		got <- body.Content
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := newTestApp(t, "")
	if a.Notifier().Enabled() {
		t.Fatalf("notifier should start disabled without a notifier section")
	}

	oldCfg := a.Config()
	newCfg := *oldCfg
	newCfg.Notifier = &config.NotifierConfig{
		Enabled: true,
		Discord: &config.DiscordConfig{Webhook: srv.URL},
	}
	a.applyConfig(oldCfg, &newCfg)
	if !a.Notifier().Enabled() {
		t.Fatalf("notifier not enabled after apply")
	}

	ctx := context.Background()
	sc, err := a.Controller().CreateScript(ctx, script.Script{Name: "ping", Type: script.TypeBash, Code: "echo pong"})
	if err != nil {
		t.Fatalf("CreateScript: %v", err)
	}
	if _, err := a.Controller().RunNow(ctx, sc.ID); err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	select {
	case msg := <-got:
		if !strings.Contains(msg, `"ping"`) || !strings.Contains(msg, "executed successfully") {
			t.Fatalf("unexpected notification %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no notification delivered")
	}
}

func TestMapNotifierConfig(t *testing.T) {
	off := false
	cfg := &config.Config{}
	ncfg, channels, err := mapNotifierConfig(cfg)
	if err != nil || ncfg.Enabled || len(channels) != 0 {
		t.Fatalf("missing section: cfg=%+v channels=%d err=%v", ncfg, len(channels), err)
	}

	cfg.Notifier = &config.NotifierConfig{
		Enabled:   true,
		RetryBase: "1s",
		RetryMax:  2,
		OnFailure: &off,
		Discord:   &config.DiscordConfig{Webhook: "https://discord.invalid/api/webhooks/1/x"},
		Telegram:  &config.TelegramConfig{Token: "123:abc", ChatID: 42},
	}
	ncfg, channels, err = mapNotifierConfig(cfg)
	if err != nil {
		t.Fatalf("mapNotifierConfig: %v", err)
	}
	if !ncfg.OnSuccess || ncfg.OnFailure || ncfg.OnScheduled {
		t.Fatalf("toggles = %v/%v/%v, want true/false/false", ncfg.OnSuccess, ncfg.OnFailure, ncfg.OnScheduled)
	}
	if ncfg.RetryBase != time.Second || ncfg.RetryMax != 2 {
		t.Fatalf("retry = %v/%d", ncfg.RetryBase, ncfg.RetryMax)
	}
	if len(channels) != 2 || channels[0].Name() != "discord" || channels[1].Name() != "telegram" {
		t.Fatalf("unexpected channels %d", len(channels))
	}
}
