// Package sqlite keeps run history in a single SQLite file for one-host use.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"cpdispatch/pkg/models"
	"cpdispatch/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  status TEXT NOT NULL,
  job_count INTEGER NOT NULL DEFAULT 0,
  failed_count INTEGER NOT NULL DEFAULT 0,
  error_message TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  started_at INTEGER,
  completed_at INTEGER
);
CREATE TABLE IF NOT EXISTS run_jobs (
  run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
  job_name TEXT NOT NULL,
  state TEXT NOT NULL,
  exit_code INTEGER,
  pid INTEGER NOT NULL DEFAULT 0,
  log_uri TEXT NOT NULL DEFAULT '',
  started_at INTEGER,
  finished_at INTEGER,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (run_id, job_name)
);
`

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Job state hooks fire from several goroutines; one connection keeps
	// writers from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) CreateRun(ctx context.Context, run *models.Run, jobNames []string) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = models.RunPending
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, name, status, job_count, created_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID.String(), run.Name, string(run.Status), run.JobCount, run.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return storage.ErrConflict
		}
		return fmt.Errorf("failed to create run: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, name := range jobNames {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_jobs (run_id, job_name, state, updated_at) VALUES (?, ?, ?, ?)`,
			run.ID.String(), name, string(models.JobSubmitted), now,
		); err != nil {
			return fmt.Errorf("failed to create run job %q: %w", name, err)
		}
	}
	return tx.Commit()
}

func (s *Store) SetRunStatus(ctx context.Context, id uuid.UUID, status models.RunStatus) error {
	var startedAt any
	if status == models.RunRunning {
		startedAt = time.Now().UnixMilli()
	}
	return s.execOne(ctx,
		`UPDATE runs SET status = ?, started_at = COALESCE(?, started_at) WHERE id = ?`,
		string(status), startedAt, id.String(),
	)
}

func (s *Store) UpdateJobState(ctx context.Context, runID uuid.UUID, job string, state models.JobState) error {
	now := time.Now().UnixMilli()
	var startedAt any
	if state == models.JobRunning {
		startedAt = now
	}
	return s.execOne(ctx,
		`UPDATE run_jobs SET state = ?, started_at = COALESCE(?, started_at), updated_at = ?
         WHERE run_id = ? AND job_name = ?`,
		string(state), startedAt, now, runID.String(), job,
	)
}

func (s *Store) RecordOutcome(ctx context.Context, runID uuid.UUID, outcome models.Outcome, logURI string) error {
	return s.execOne(ctx,
		`UPDATE run_jobs
         SET state = ?, exit_code = ?, pid = ?, log_uri = ?, started_at = ?, finished_at = ?, updated_at = ?
         WHERE run_id = ? AND job_name = ?`,
		string(models.JobLogged), outcome.ExitCode, outcome.Pid, logURI,
		nullMillis(outcome.StartedAt), nullMillis(outcome.FinishedAt), time.Now().UnixMilli(),
		runID.String(), outcome.JobName,
	)
}

func (s *Store) CompleteRun(ctx context.Context, id uuid.UUID, status models.RunStatus, failedCount int, errMsg string) error {
	return s.execOne(ctx,
		`UPDATE runs SET status = ?, failed_count = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		string(status), failedCount, errMsg, time.Now().UnixMilli(), id.String(),
	)
}

func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, status, job_count, failed_count, error_message, created_at, started_at, completed_at
       FROM runs WHERE id = ?`, id.String(),
	)
	var (
		rid, name, status, errMsg string
		jobCount, failedCount     int
		createdMs                 int64
		startedMs, completedMs    sql.NullInt64
	)
	if err := row.Scan(&rid, &name, &status, &jobCount, &failedCount, &errMsg, &createdMs, &startedMs, &completedMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	parsed, err := uuid.Parse(rid)
	if err != nil {
		return nil, err
	}
	return &models.Run{
		ID:          parsed,
		Name:        name,
		Status:      models.RunStatus(status),
		JobCount:    jobCount,
		FailedCount: failedCount,
		Error:       errMsg,
		CreatedAt:   time.UnixMilli(createdMs),
		StartedAt:   timePtr(startedMs),
		CompletedAt: timePtr(completedMs),
	}, nil
}

func (s *Store) ListRunJobs(ctx context.Context, id uuid.UUID) ([]models.RunJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_name, state, exit_code, pid, log_uri, started_at, finished_at, updated_at
       FROM run_jobs WHERE run_id = ? ORDER BY job_name ASC`, id.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RunJob
	for rows.Next() {
		var (
			name, state, logURI   string
			exitCode              sql.NullInt64
			pid                   int
			startedMs, finishedMs sql.NullInt64
			updatedMs             int64
		)
		if err := rows.Scan(&name, &state, &exitCode, &pid, &logURI, &startedMs, &finishedMs, &updatedMs); err != nil {
			return nil, err
		}
		job := models.RunJob{
			RunID:      id,
			JobName:    name,
			State:      models.JobState(state),
			Pid:        pid,
			LogURI:     logURI,
			StartedAt:  timePtr(startedMs),
			FinishedAt: timePtr(finishedMs),
			UpdatedAt:  time.UnixMilli(updatedMs),
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			job.ExitCode = &code
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func nullMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func timePtr(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := time.UnixMilli(ms.Int64)
	return &t
}

var _ storage.RunStore = (*Store)(nil)
