package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"musictimer/internal/task"
	logx "musictimer/pkg/logx"
)

// fileStore keeps the task list as a single JSON document.
//
// Files:
//   - <path>                    (task document, replaced via <path>.tmp + rename)
//   - <prefix>.history.jsonl    (append-only JSON Lines)
type fileStore struct {
	log logx.Logger
	fs  afero.Fs

	mu     sync.Mutex
	closed bool

	path        string
	historyPath string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	prefix := filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base)))

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	return &fileStore{
		log:         log,
		fs:          fs,
		path:        path,
		historyPath: prefix + ".history.jsonl",
	}, nil
}

func (s *fileStore) Load(ctx context.Context) ([]task.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	b, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.log.Debug("task document missing; starting empty", logx.String("path", s.path))
			return []task.Task{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	tasks, err := task.DecodeDocument(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, s.path, err)
	}
	return tasks, nil
}

func (s *fileStore) Save(ctx context.Context, tasks []task.Task) error {
	_ = ctx
	data, err := task.EncodeDocument(tasks)
	if err != nil {
		return fmt.Errorf("encode tasks: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

func (s *fileStore) AppendHistory(ctx context.Context, e HistoryEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	f, err := s.fs.OpenFile(s.historyPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(e); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *fileStore) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	f, err := s.fs.Open(s.historyPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []HistoryEntry{}, nil
		}
		return nil, err
	}
	defer f.Close()

	out := []HistoryEntry{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e HistoryEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			// A torn last line after a crash is skipped.
			continue
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
