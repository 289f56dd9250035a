package run

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "github.com/ahmethakanbesel/quotekeeper/internal/job"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, run *domain.Run) error {
	const query = `INSERT INTO job_runs (job, status, catch_up, sources, started_at)
		VALUES (?, ?, ?, ?, ?)`

	sources, err := encodeSources(run.Sources)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, query,
		run.Job, string(run.Status), run.CatchUp, sources,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	run.ID, _ = res.LastInsertId()
	return nil
}

func (r *Repository) Finish(ctx context.Context, run *domain.Run) error {
	const query = `UPDATE job_runs SET status = ?, sources = ?, error = ?, finished_at = ?
		WHERE id = ?`

	sources, err := encodeSources(run.Sources)
	if err != nil {
		return err
	}
	var finished, errText sql.NullString
	if run.FinishedAt != nil {
		finished = sql.NullString{String: run.FinishedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	if run.Error != "" {
		errText = sql.NullString{String: run.Error, Valid: true}
	}

	if _, err := r.db.ExecContext(ctx, query, string(run.Status), sources, errText, finished, run.ID); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func (r *Repository) List(ctx context.Context, job string, limit int) ([]domain.Run, error) {
	query := `SELECT id, job, status, catch_up, sources, error, started_at, finished_at
		FROM job_runs WHERE 1=1`

	var args []any
	if job != "" {
		query += " AND job = ?"
		args = append(args, job)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := []domain.Run{}
	for rows.Next() {
		var (
			run                 domain.Run
			status, sources     string
			startedStr          string
			errText, finishedNS sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Job, &status, &run.CatchUp, &sources, &errText, &startedStr, &finishedNS); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}

		run.Status = domain.Status(status)
		if errText.Valid {
			run.Error = errText.String
		}
		if err := json.Unmarshal([]byte(sources), &run.Sources); err != nil {
			return nil, fmt.Errorf("decode run sources: %w", err)
		}
		run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedStr)
		if finishedNS.Valid {
			t, _ := time.Parse(time.RFC3339Nano, finishedNS.String)
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func (r *Repository) LastSuccess(ctx context.Context, job string) (time.Time, error) {
	const query = `SELECT started_at FROM job_runs
		WHERE job = ? AND status = 'succeeded'
		ORDER BY id DESC LIMIT 1`

	var startedStr string
	err := r.db.QueryRowContext(ctx, query, job).Scan(&startedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("last success: %w", err)
	}
	t, _ := time.Parse(time.RFC3339Nano, startedStr)
	return t, nil
}

// RecoverStale fails runs left running by a process that died mid-job.
func (r *Repository) RecoverStale(ctx context.Context) (int64, error) {
	const query = `UPDATE job_runs SET status = 'failed', error = 'interrupted',
		finished_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE status = 'running'`

	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("recover stale runs: %w", err)
	}

	return res.RowsAffected()
}

func encodeSources(m map[string]string) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode run sources: %w", err)
	}
	return string(b), nil
}
