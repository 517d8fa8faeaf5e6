package storage

import (
	"context"
	"errors"
	"time"
)

// ErrIO marks an unreadable, unwritable or corrupt document.
var ErrIO = errors.New("store i/o failure")

const (
	docScripts = "scripts"
	docState   = "scheduler-state"
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON documents in the directory named by Path
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// backend reads and replaces whole named documents.
// read reports ok=false when the document does not exist yet.
type backend interface {
	read(ctx context.Context, name string) (body []byte, ok bool, err error)
	write(ctx context.Context, name string, body []byte) error
	close() error
}
