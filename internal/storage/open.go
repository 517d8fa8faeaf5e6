package storage

import (
	"errors"
	"strings"
	"sync"

	logx "scriptd/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	var (
		b   backend
		err error
	)
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file", "json":
		b, err = openFile(cfg, log)
	case "sqlite", "sqlite3":
		b, err = openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
	if err != nil {
		return nil, err
	}
	return &Store{b: b, log: log.With(logx.String("comp", "storage"))}, nil
}

// Store is the Script Store and the Scheduler State Store.
//
// Each document has its own mutex; every Update* call holds it across the
// whole read-modify-write so concurrent writers never lose each other's
// changes.
type Store struct {
	b   backend
	log logx.Logger

	scriptsMu sync.Mutex
	stateMu   sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func (s *Store) Close() error {
	if s == nil || s.b == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.scriptsMu.Lock()
		s.stateMu.Lock()
		s.closeErr = s.b.close()
		s.stateMu.Unlock()
		s.scriptsMu.Unlock()
	})
	return s.closeErr
}
