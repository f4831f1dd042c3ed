//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"musictimer/internal/task"
	logx "musictimer/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT start_time, end_time, path, days, volume FROM tasks ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []task.Task{}
	for rows.Next() {
		var (
			r    task.Record
			days string
		)
		if err := rows.Scan(&r.StartTime, &r.EndTime, &r.Path, &days, &r.Volume); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(days), &r.Days); err != nil {
			return nil, fmt.Errorf("%w: task %d days: %v", ErrMalformed, len(out), err)
		}
		t, err := r.ValidTask()
		if err != nil {
			return nil, fmt.Errorf("%w: task %d: %v", ErrMalformed, len(out), err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Save rewrites the table in one transaction so readers never see a partial list.
func (s *sqliteStore) Save(ctx context.Context, tasks []task.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return err
	}
	for i, t := range tasks {
		r := t.ToRecord()
		days, err := json.Marshal(r.Days)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tasks(position, start_time, end_time, path, days, volume) VALUES(?,?,?,?,?,?)`,
			i, r.StartTime, r.EndTime, r.Path, string(days), r.Volume,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) AppendHistory(ctx context.Context, e HistoryEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history(run_id, at, kind, path, span, err) VALUES(?,?,?,?,?,?)`,
		e.RunID, e.At.Format(time.RFC3339Nano), e.Kind, e.Path, e.Window, nullStr(e.Error),
	)
	return err
}

func (s *sqliteStore) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	q := `SELECT run_id, at, kind, path, span, err FROM history ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []HistoryEntry{}
	for rows.Next() {
		var (
			e      HistoryEntry
			at     string
			errStr sql.NullString
		)
		if err := rows.Scan(&e.RunID, &at, &e.Kind, &e.Path, &e.Window, &errStr); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.Error = errStr.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// oldest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
