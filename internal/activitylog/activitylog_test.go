package activitylog

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	logx "scriptd/pkg/logx"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := New(Config{Dir: t.TempDir(), MaxSize: 5, MaxBackups: 10, MaxAge: 30}, logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestWriteProducesJSONLines(t *testing.T) {
	l := newTestLog(t)
	l.Info("abc", "Script executed successfully", map[string]any{"status": "success", "runtime": 12})
	l.Error("abc", "Script execution failed", map[string]any{"status": "failed"})
	l.Warn("abc", "note", nil)

	raw, err := os.ReadFile(filepath.Join(l.cfg.Dir, "abc.log"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %s", len(lines), raw)
	}
	for _, key := range []string{`"level":"info"`, `"timestamp":`, `"message":"Script executed successfully"`, `"metadata":{`} {
		if !strings.Contains(lines[0], key) {
			t.Fatalf("line %q missing %s", lines[0], key)
		}
	}
}

func TestExecutionsFiltersAndLimits(t *testing.T) {
	l := newTestLog(t)
	for i := 0; i < 5; i++ {
		l.Info("s1", "run", map[string]any{"status": "success", "n": i})
		l.Info("s1", "unrelated", nil)
	}
	l.Info("s2", "run", map[string]any{"status": "failed"})

	got, err := l.Executions("s1", 3)
	if err != nil {
		t.Fatalf("executions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if n, _ := got[0].Metadata["n"].(float64); n != 4 {
		t.Fatalf("expected newest first, got %+v", got[0])
	}

	none, err := l.Executions("missing", 10)
	if err != nil || len(none) != 0 {
		t.Fatalf("missing subject: %v %v", none, err)
	}
}

func TestSubjectIsSanitized(t *testing.T) {
	l := newTestLog(t)
	l.Info("../escape", "x", nil)
	if _, err := os.Stat(filepath.Join(l.cfg.Dir, "_escape.log")); err != nil {
		t.Fatalf("expected sanitized file: %v", err)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	w := reportingWriter{w: failingWriter{}, log: logx.NewJSON(&buf, "debug"), subject: "abc"}

	zl := zerolog.New(w)
	zl.Info().Msg("Script executed successfully")

	out := buf.String()
	for _, want := range []string{"activity log write failed", `"subject":"abc"`, "disk full"} {
		if !strings.Contains(out, want) {
			t.Fatalf("write failure not reported (missing %s): %s", want, out)
		}
	}
}
