package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage: closed")

// Config configures storage.
//
// Driver values:
//   - "" or "memory": in-process store
//   - "file": <path>.jobs.json snapshot + <path>.fires.jsonl journal
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
