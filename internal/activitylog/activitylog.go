// Package activitylog keeps one rotated JSON-lines log per subject (usually a
// script id) under a directory.
//
// Each line is {"level", "timestamp", "metadata", "message"}.
package activitylog

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	logx "scriptd/pkg/logx"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelDebug Level = "debug"
)

type Config struct {
	Dir string
	// MaxSize is in megabytes.
	MaxSize    int
	MaxBackups int
	// MaxAge is in days.
	MaxAge int
}

// Entry is one decoded log line.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Log appends entries to per-subject files. It is safe for concurrent use.
type Log struct {
	cfg Config
	log logx.Logger

	mu      sync.Mutex
	writers map[string]*lumberjack.Logger
}

func New(cfg Config, log logx.Logger) (*Log, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("activity log dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, err
	}
	return &Log{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "activitylog")),
		writers: map[string]*lumberjack.Logger{},
	}, nil
}

func (l *Log) path(subject string) string {
	return filepath.Join(l.cfg.Dir, sanitizeSubject(subject)+".log")
}

func (l *Log) writer(subject string) *lumberjack.Logger {
	key := sanitizeSubject(subject)
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.writers[key]
	if !ok {
		w = &lumberjack.Logger{
			Filename:   l.path(subject),
			MaxSize:    l.cfg.MaxSize,
			MaxBackups: l.cfg.MaxBackups,
			MaxAge:     l.cfg.MaxAge,
		}
		l.writers[key] = w
	}
	return w
}

// Write appends one entry. Failures are logged and otherwise ignored so the
// caller's work never depends on the activity log.
func (l *Log) Write(subject string, level Level, msg string, meta map[string]any) {
	if l == nil {
		return
	}
	zl := zerolog.New(reportingWriter{w: l.writer(subject), log: l.log, subject: subject})
	ev := zl.WithLevel(zerologLevel(level)).Str("timestamp", time.Now().UTC().Format(time.RFC3339Nano))
	if len(meta) > 0 {
		ev = ev.Interface("metadata", meta)
	}
	ev.Msg(msg)
}

// reportingWriter logs write errors, which zerolog otherwise drops.
type reportingWriter struct {
	w       io.Writer
	log     logx.Logger
	subject string
}

func (r reportingWriter) Write(p []byte) (int, error) {
	n, err := r.w.Write(p)
	if err != nil {
		r.log.Warn("activity log write failed", logx.String("subject", r.subject), logx.Err(err))
	}
	return n, err
}

func (l *Log) Info(subject, msg string, meta map[string]any) { l.Write(subject, LevelInfo, msg, meta) }
func (l *Log) Warn(subject, msg string, meta map[string]any) { l.Write(subject, LevelWarn, msg, meta) }
func (l *Log) Error(subject, msg string, meta map[string]any) {
	l.Write(subject, LevelError, msg, meta)
}

// Entries returns the subject's current-file entries, newest first.
// Lines that do not decode are skipped. A subject with no file has no entries.
func (l *Log) Entries(subject string) ([]Entry, error) {
	f, err := os.Open(l.path(subject))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	// the file is append-only, so reversing gives newest first
	slices.Reverse(out)
	return out, nil
}

// Executions returns at most limit entries that describe a completed run
// (their metadata carries a status), newest first. limit <= 0 means all.
func (l *Log) Executions(subject string, limit int) ([]Entry, error) {
	all, err := l.Entries(subject)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		if _, ok := e.Metadata["status"]; !ok {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Close releases every open file.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for key, w := range l.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(l.writers, key)
	}
	return errors.Join(errs...)
}

func zerologLevel(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func sanitizeSubject(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	s = strings.TrimLeft(r.Replace(s), ".")
	if s == "" {
		return "_"
	}
	return s
}
