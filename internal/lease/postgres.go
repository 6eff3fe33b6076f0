package lease

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"strings"
	"time"

	_ "github.com/lib/pq"

	logx "taskfleet/pkg/logx"
)

//go:embed migrations_postgres.sql
var postgresMigrationsFS embed.FS

const (
	pgMaxOpenConns    = 10
	pgMaxIdleConns    = 5
	pgConnMaxLifetime = 5 * time.Minute
)

type postgresStore struct {
	db           *sql.DB
	log          logx.Logger
	reclaimAfter time.Duration
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(pgMaxOpenConns)
	db.SetMaxIdleConns(pgMaxIdleConns)
	db.SetConnMaxLifetime(pgConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, unavailable(err)
	}

	st := &postgresStore{db: db, log: log, reclaimAfter: cfg.ReclaimAfter}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *postgresStore) migrate(ctx context.Context) error {
	b, err := postgresMigrationsFS.ReadFile("migrations_postgres.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *postgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *postgresStore) EnsureRow(ctx context.Context, taskID string, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_leases(task_id, enabled) VALUES($1,$2)
		 ON CONFLICT (task_id) DO NOTHING`,
		taskID, enabled,
	)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *postgresStore) TryClaim(ctx context.Context, taskID string, now time.Time) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if s.reclaimAfter > 0 {
		res, err = s.db.ExecContext(ctx,
			`UPDATE task_leases SET locked_at = $1
			 WHERE task_id = $2 AND enabled AND (locked_at IS NULL OR locked_at < $3)`,
			now, taskID, now.Add(-s.reclaimAfter),
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE task_leases SET locked_at = $1
			 WHERE task_id = $2 AND enabled AND locked_at IS NULL`,
			now, taskID,
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

func (s *postgresStore) Release(ctx context.Context, taskID string, result string, executedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_leases SET locked_at = NULL, last_executed_at = $1, last_result = $2
		 WHERE task_id = $3`,
		executedAt, result, taskID,
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

func (s *postgresStore) SetEnabled(ctx context.Context, taskID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_leases SET enabled = $1 WHERE task_id = $2`,
		enabled, taskID,
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

func (s *postgresStore) Get(ctx context.Context, taskID string) (TaskLease, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT task_id, locked_at, last_executed_at, last_result, enabled
		 FROM task_leases WHERE task_id = $1`, taskID)
	l, err := scanPostgresLease(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return TaskLease{}, ErrNotFound
	}
	if err != nil {
		return TaskLease{}, unavailable(err)
	}
	return l, nil
}

func (s *postgresStore) List(ctx context.Context) ([]TaskLease, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, locked_at, last_executed_at, last_result, enabled
		 FROM task_leases ORDER BY task_id`)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []TaskLease
	for rows.Next() {
		l, err := scanPostgresLease(rows.Scan)
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

func scanPostgresLease(scan func(dest ...any) error) (TaskLease, error) {
	var (
		l      TaskLease
		locked sql.NullTime
		exec   sql.NullTime
	)
	if err := scan(&l.TaskID, &locked, &exec, &l.LastResult, &l.Enabled); err != nil {
		return TaskLease{}, err
	}
	if locked.Valid {
		t := locked.Time
		l.LockedAt = &t
	}
	if exec.Valid {
		t := exec.Time
		l.LastExecutedAt = &t
	}
	return l, nil
}
