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

	"dashcap/internal/jobs"
	"dashcap/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteStore, error) {
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
	// one connection keeps UpdateJob transactions serialized
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("sqlite store opened", logx.String("path", path))
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

func (s *sqliteStore) ListJobs(ctx context.Context) ([]jobs.Definition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM jobs ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []jobs.Definition
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var d jobs.Definition
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	jobs.SortDefinitions(out)
	return out, nil
}

func (s *sqliteStore) GetJob(ctx context.Context, id string) (jobs.Definition, error) {
	return getJob(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getJob(ctx context.Context, q queryer, id string) (jobs.Definition, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT data FROM jobs WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.Definition{}, fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}
	if err != nil {
		return jobs.Definition{}, err
	}
	var d jobs.Definition
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return jobs.Definition{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	return d, nil
}

func (s *sqliteStore) CreateJob(ctx context.Context, def jobs.Definition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, name, active, next_due, created_at, data) VALUES(?,?,?,?,?,?)`,
		def.ID, def.Name, def.Active, unixOrNull(def.NextDue), def.CreatedAt.UnixNano(), string(raw),
	)
	return err
}

func (s *sqliteStore) UpdateJob(ctx context.Context, id string, fn func(*jobs.Definition) error) (jobs.Definition, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return jobs.Definition{}, err
	}
	defer func() { _ = tx.Rollback() }()

	d, err := getJob(ctx, tx, id)
	if err != nil {
		return jobs.Definition{}, err
	}
	if err := fn(&d); err != nil {
		return jobs.Definition{}, err
	}
	d.ID = id
	raw, err := json.Marshal(d)
	if err != nil {
		return jobs.Definition{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET name = ?, active = ?, next_due = ?, data = ? WHERE id = ?`,
		d.Name, d.Active, unixOrNull(d.NextDue), string(raw), id,
	); err != nil {
		return jobs.Definition{}, err
	}
	if err := tx.Commit(); err != nil {
		return jobs.Definition{}, err
	}
	return d, nil
}

func (s *sqliteStore) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}
	return nil
}

func (s *sqliteStore) AppendFire(ctx context.Context, rec jobs.FireRecord) (jobs.FireRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return jobs.FireRecord{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO fires(job_id, fired_at, status, data) VALUES(?,?,?,'{}')`,
		rec.JobID, rec.FiredAt.UnixNano(), string(rec.Status),
	)
	if err != nil {
		return jobs.FireRecord{}, err
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return jobs.FireRecord{}, err
	}
	rec.Seq = seq
	raw, err := json.Marshal(rec)
	if err != nil {
		return jobs.FireRecord{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE fires SET data = ? WHERE seq = ?`, string(raw), seq); err != nil {
		return jobs.FireRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return jobs.FireRecord{}, err
	}
	return rec, nil
}

func (s *sqliteStore) ListFires(ctx context.Context, jobID string, limit int) ([]jobs.FireRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	var (
		rows *sql.Rows
		err  error
	)
	if jobID == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT data FROM fires ORDER BY fired_at DESC, seq DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT data FROM fires WHERE job_id = ? ORDER BY fired_at DESC, seq DESC LIMIT ?`, jobID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []jobs.FireRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec jobs.FireRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.log.Warn("skipping undecodable fire record", logx.Err(err))
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func unixOrNull(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
