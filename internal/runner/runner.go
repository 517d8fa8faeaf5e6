// Package runner executes one script as a child process and records the
// outcome.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"scriptd/internal/activitylog"
	"scriptd/internal/eventbus"
	"scriptd/internal/notifier"
	"scriptd/internal/script"
	logx "scriptd/pkg/logx"
)

// stderrMarker separates stdout from stderr in an execution log.
const stderrMarker = "\nErrors/Warnings:\n"

type Config struct {
	// Python and Bash are interpreter command lines; the script path is
	// appended as the last argument.
	Python     string
	Bash       string
	ScriptsDir string
	// Timeout kills the child after this long. Zero means no limit.
	Timeout time.Duration
	// Env restricts the child environment to PATH, HOME and these names.
	// Empty inherits the whole environment.
	Env []string
}

// Store receives the finished execution.
type Store interface {
	AppendExecution(ctx context.Context, id string, e script.Execution) error
}

type ActivityLog interface {
	Write(subject string, level activitylog.Level, msg string, meta map[string]any)
}

type Notifier interface {
	Notify(msg string, kind notifier.Kind)
}

type Option func(*Runner)

func WithActivityLog(a ActivityLog) Option { return func(r *Runner) { r.activity = a } }
func WithNotifier(n Notifier) Option       { return func(r *Runner) { r.notify = n } }
func WithBus(b eventbus.Bus) Option        { return func(r *Runner) { r.bus = b } }
func WithLogger(l logx.Logger) Option      { return func(r *Runner) { r.log = l } }

// Runner is the execution engine. Execute may be called concurrently.
type Runner struct {
	cfg    Config
	interp map[script.Type][]string

	store    Store
	activity ActivityLog
	notify   Notifier
	bus      eventbus.Bus
	log      logx.Logger
}

func New(cfg Config, store Store, opts ...Option) (*Runner, error) {
	if strings.TrimSpace(cfg.ScriptsDir) == "" {
		return nil, errors.New("runner: scripts dir is required")
	}
	if err := os.MkdirAll(cfg.ScriptsDir, 0o700); err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	r := &Runner{cfg: cfg, store: store, interp: map[script.Type][]string{}}
	for name, raw := range map[script.Type]string{script.TypePython: cfg.Python, script.TypeBash: cfg.Bash} {
		argv, err := shellquote.Split(raw)
		if err != nil {
			return nil, fmt.Errorf("runner: %s interpreter: %w", name, err)
		}
		if len(argv) > 0 {
			r.interp[name] = argv
		}
	}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.With(logx.String("comp", "runner"))
	return r, nil
}

// Execute runs sc once and returns the execution record. It never returns an
// error: a process that cannot start is a failed execution whose log holds
// the reason. The record is persisted, logged, published and notified before
// Execute returns.
func (r *Runner) Execute(ctx context.Context, sc script.Script, triggeredBySchedule bool) script.Execution {
	start := time.Now()
	ex := script.Execution{
		ID:                  script.NewID(),
		Timestamp:           start.UTC(),
		TriggeredBySchedule: triggeredBySchedule,
	}

	stdout, stderr, err := r.run(ctx, sc)
	ex.Runtime = time.Since(start).Milliseconds()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		ex.Status = script.StatusSuccess
		ex.Log = joinLog(stdout, stderr)
	case errors.As(err, &exitErr):
		ex.Status = script.StatusFailed
		ex.Log = joinLog(stdout, stderr)
	default:
		ex.Status = script.StatusFailed
		ex.Log = err.Error()
	}

	log := r.log.With(
		logx.String("script_id", sc.ID),
		logx.String("execution_id", ex.ID),
		logx.Bool("scheduled", triggeredBySchedule),
	)
	if ex.Status == script.StatusSuccess {
		log.Info("script executed", logx.Int64("runtime_ms", ex.Runtime))
	} else {
		log.Warn("script failed", logx.Int64("runtime_ms", ex.Runtime), logx.Err(err))
	}

	// A store failure must not lose the in-memory result.
	if r.store != nil {
		if perr := r.store.AppendExecution(context.WithoutCancel(ctx), sc.ID, ex); perr != nil {
			log.Error("execution not persisted", logx.Err(perr))
		}
	}
	r.record(sc, ex, stdout, stderr, err)
	return ex
}

// outputDrainDelay bounds how long Wait keeps reading stdout and stderr after
// the script exits or its timeout fires.
const outputDrainDelay = 2 * time.Second

// run writes the code to a private temp file and executes it. The file is
// removed on every path.
func (r *Runner) run(ctx context.Context, sc script.Script) (string, string, error) {
	argv, ok := r.interp[sc.Type]
	if !ok {
		return "", "", fmt.Errorf("unsupported script type %q", sc.Type)
	}

	f, err := os.CreateTemp(r.cfg.ScriptsDir, "script-*"+sc.Type.Ext())
	if err != nil {
		return "", "", fmt.Errorf("create script file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.WriteString(sc.Code); err != nil {
		_ = f.Close()
		return "", "", fmt.Errorf("write script file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", "", fmt.Errorf("write script file: %w", err)
	}

	// Disabling a schedule or shutting down does not kill a running child;
	// only the configured timeout does.
	runCtx := context.WithoutCancel(ctx)
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, r.cfg.Timeout)
		defer cancel()
	}

	args := append(append([]string(nil), argv[1:]...), path)
	cmd := exec.CommandContext(runCtx, argv[0], args...)
	cmd.Env = r.env()
	cmd.WaitDelay = outputDrainDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success() {
		// the script exited 0 but left a background child holding its output
		r.log.Debug("output still open after exit; keeping what was captured", logx.String("script_id", sc.ID))
		err = nil
	}
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		stderr.WriteString(fmt.Sprintf("execution timed out after %s\n", r.cfg.Timeout))
	}
	return stdout.String(), stderr.String(), err
}

func (r *Runner) env() []string {
	if len(r.cfg.Env) == 0 {
		return nil
	}
	names := append([]string{"PATH", "HOME"}, r.cfg.Env...)
	out := make([]string, 0, len(names))
	seen := map[string]bool{}
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		if v, ok := os.LookupEnv(n); ok {
			out = append(out, n+"="+v)
		}
	}
	return out
}

func joinLog(stdout, stderr string) string {
	if stderr == "" {
		return stdout
	}
	return stdout + stderrMarker + stderr
}
