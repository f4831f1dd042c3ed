package storage

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/afero"

	"musictimer/internal/task"
)

var (
	// ErrMalformed marks a persisted document that cannot be parsed. It is
	// fatal at startup; there is no partial recovery.
	ErrMalformed = errors.New("malformed task store")

	ErrClosed = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file" (default): JSON document at Path
//   - "sqlite": SQLite database file at Path (optional build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Fs overrides the filesystem used by the file driver (tests use afero.NewMemMapFs).
	Fs afero.Fs
}

// Store is the persistence API used by the scheduler and the history recorder.
type Store interface {
	// Load returns the persisted task list. A missing document yields an
	// empty list.
	Load(ctx context.Context) ([]task.Task, error)
	// Save replaces the whole document with tasks.
	Save(ctx context.Context, tasks []task.Task) error

	AppendHistory(ctx context.Context, e HistoryEntry) error
	// History returns the newest limit entries, oldest first. limit <= 0 returns all.
	History(ctx context.Context, limit int) ([]HistoryEntry, error)

	Close() error
}

// HistoryEntry records one lifecycle transition of a task.
// Keep it compact and schema-stable.
type HistoryEntry struct {
	RunID  string    `json:"run_id"`
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"` // started, start_failed, stopped, removed
	Path   string    `json:"path"`
	Window string    `json:"window"` // "HH:MM-HH:MM"
	Error  string    `json:"error,omitempty"`
}
