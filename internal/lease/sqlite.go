package lease

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "taskfleet/pkg/logx"
)

//go:embed migrations_sqlite.sql
var sqliteMigrationsFS embed.FS

type sqliteStore struct {
	db           *sql.DB
	log          logx.Logger
	reclaimAfter time.Duration
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
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log, reclaimAfter: cfg.ReclaimAfter}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := sqliteMigrationsFS.ReadFile("migrations_sqlite.sql")
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

func (s *sqliteStore) EnsureRow(ctx context.Context, taskID string, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_leases(task_id, enabled) VALUES(?,?)
		 ON CONFLICT(task_id) DO NOTHING`,
		taskID, boolInt(enabled),
	)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *sqliteStore) TryClaim(ctx context.Context, taskID string, now time.Time) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if s.reclaimAfter > 0 {
		cutoff := now.Add(-s.reclaimAfter).UnixMilli()
		res, err = s.db.ExecContext(ctx,
			`UPDATE task_leases SET locked_at = ?
			 WHERE task_id = ? AND enabled = 1 AND (locked_at IS NULL OR locked_at < ?)`,
			now.UnixMilli(), taskID, cutoff,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE task_leases SET locked_at = ?
			 WHERE task_id = ? AND enabled = 1 AND locked_at IS NULL`,
			now.UnixMilli(), taskID,
		)
	}
	if err != nil {
		return false, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

func (s *sqliteStore) Release(ctx context.Context, taskID string, result string, executedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_leases SET locked_at = NULL, last_executed_at = ?, last_result = ?
		 WHERE task_id = ?`,
		executedAt.UnixMilli(), result, taskID,
	)
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) SetEnabled(ctx context.Context, taskID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_leases SET enabled = ? WHERE task_id = ?`,
		boolInt(enabled), taskID,
	)
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, taskID string) (TaskLease, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT task_id, locked_at, last_executed_at, last_result, enabled
		 FROM task_leases WHERE task_id = ?`, taskID)
	l, err := scanSQLiteLease(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return TaskLease{}, ErrNotFound
	}
	if err != nil {
		return TaskLease{}, unavailable(err)
	}
	return l, nil
}

func (s *sqliteStore) List(ctx context.Context) ([]TaskLease, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, locked_at, last_executed_at, last_result, enabled
		 FROM task_leases ORDER BY task_id`)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []TaskLease
	for rows.Next() {
		l, err := scanSQLiteLease(rows.Scan)
		if err != nil {
			return nil, unavailable(err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func scanSQLiteLease(scan func(dest ...any) error) (TaskLease, error) {
	var (
		l        TaskLease
		lockedMS sql.NullInt64
		execMS   sql.NullInt64
		enabled  int
	)
	if err := scan(&l.TaskID, &lockedMS, &execMS, &l.LastResult, &enabled); err != nil {
		return TaskLease{}, err
	}
	if lockedMS.Valid {
		t := time.UnixMilli(lockedMS.Int64)
		l.LockedAt = &t
	}
	if execMS.Valid {
		t := time.UnixMilli(execMS.Int64)
		l.LastExecutedAt = &t
	}
	l.Enabled = enabled != 0
	return l, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
