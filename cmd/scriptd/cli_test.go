package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`{
  "logging": {"level": "error"},
  "runner": {"scripts_dir": %q},
  "storage": {"driver": "sqlite", "path": %q},
  "activity_log": {"dir": %q}
}`, filepath.Join(dir, "scripts"), filepath.Join(dir, "scriptd.db"), filepath.Join(dir, "logs"))
	p := filepath.Join(dir, "scriptd.json")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func execute(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", cfg}, args...))
	err := root.Execute()
	return out.String(), err
}

func mustExecute(t *testing.T, cfg string, args ...string) string {
	t.Helper()
	out, err := execute(t, cfg, args...)
	if err != nil {
		t.Fatalf("scriptd %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestScriptLifecycle(t *testing.T) {
	cfg := testConfig(t)

	id := strings.TrimSpace(mustExecute(t, cfg, "scripts", "add", "--name", "hello", "--type", "bash", "--code", "echo hi"))
	if id == "" {
		t.Fatalf("add printed no id")
	}

	out := mustExecute(t, cfg, "run", id)
	if !strings.Contains(out, "success") || !strings.HasSuffix(out, "---\nhi\n") {
		t.Fatalf("run output:\n%s", out)
	}

	// unquoted expression split over several arguments
	out = mustExecute(t, cfg, "schedule", "add", id, "*/5", "*", "*", "*", "*")
	if !strings.Contains(out, "*/5 * * * *") {
		t.Fatalf("schedule add output: %s", out)
	}
	if _, err := execute(t, cfg, "schedule", "add", id, "* * * *"); err == nil {
		t.Fatalf("4-field expression accepted")
	}

	out = mustExecute(t, cfg, "scheduler", "status")
	if !strings.Contains(out, "scheduler: on") || !strings.Contains(out, "*/5 * * * *") {
		t.Fatalf("status output:\n%s", out)
	}

	out = mustExecute(t, cfg, "scheduler", "script", id, "off")
	if !strings.Contains(out, "scheduler off") {
		t.Fatalf("script off output: %s", out)
	}
	out = mustExecute(t, cfg, "scheduler", "status")
	if !strings.Contains(out, id+"  off") {
		t.Fatalf("override missing from status:\n%s", out)
	}

	out = mustExecute(t, cfg, "history", id, "--log")
	if strings.Count(out, "success") != 1 || !strings.Contains(out, "hi\n") {
		t.Fatalf("history output:\n%s", out)
	}
	out = mustExecute(t, cfg, "history", id, "--activity")
	if !strings.Contains(out, "success") {
		t.Fatalf("activity history output:\n%s", out)
	}

	mustExecute(t, cfg, "scripts", "rm", id)
	if _, err := execute(t, cfg, "scripts", "show", id); err == nil {
		t.Fatalf("show after rm succeeded")
	}
}

func TestRunFailureReturnsError(t *testing.T) {
	cfg := testConfig(t)
	id := strings.TrimSpace(mustExecute(t, cfg, "scripts", "add", "--name", "bad", "--type", "bash", "--code", "echo oops >&2; exit 2"))

	out, err := execute(t, cfg, "run", id)
	if err == nil {
		t.Fatalf("failed run returned nil error")
	}
	if !strings.Contains(out, "failed") || !strings.Contains(out, "Errors/Warnings:\noops") {
		t.Fatalf("run output:\n%s", out)
	}
}

func TestAddFromFileInfersType(t *testing.T) {
	cfg := testConfig(t)
	src := filepath.Join(t.TempDir(), "job.sh")
	if err := os.WriteFile(src, []byte("echo from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	id := strings.TrimSpace(mustExecute(t, cfg, "scripts", "add", "--name", "file", "--file", src, "--tag", "ops"))

	out := mustExecute(t, cfg, "scripts", "show", id, "--code")
	if !strings.Contains(out, "type:      Bash") || !strings.Contains(out, "echo from-file") {
		t.Fatalf("show output:\n%s", out)
	}
	out = mustExecute(t, cfg, "scripts", "list", "--tag", "ops")
	if !strings.Contains(out, id) {
		t.Fatalf("list --tag output:\n%s", out)
	}
	out = mustExecute(t, cfg, "scripts", "list", "--tag", "other")
	if strings.Contains(out, id) {
		t.Fatalf("list filtered by another tag still shows %s", id)
	}
}

func TestEditReplacesSchedules(t *testing.T) {
	cfg := testConfig(t)
	id := strings.TrimSpace(mustExecute(t, cfg, "scripts", "add", "--name", "e", "--type", "bash", "--code", "true", "--schedule", "0 0 * * *"))

	out := mustExecute(t, cfg, "scripts", "edit", id, "--name", "renamed", "--schedule", "30 14 * * 1,3,5")
	if !strings.Contains(out, "name:      renamed") || !strings.Contains(out, "schedules: 30 14 * * 1,3,5\n") {
		t.Fatalf("edit output:\n%s", out)
	}
}

func TestGlobalSwitch(t *testing.T) {
	cfg := testConfig(t)
	mustExecute(t, cfg, "scheduler", "disable")
	if out := mustExecute(t, cfg, "scheduler", "status"); !strings.Contains(out, "scheduler: off") {
		t.Fatalf("status after disable:\n%s", out)
	}
	mustExecute(t, cfg, "scheduler", "enable")
	if out := mustExecute(t, cfg, "scheduler", "status"); !strings.Contains(out, "scheduler: on") {
		t.Fatalf("status after enable:\n%s", out)
	}
}
