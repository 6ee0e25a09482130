package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wayback-fetcher/internal/domain"
	"wayback-fetcher/internal/repository"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	domain TEXT NOT NULL,
	status TEXT NOT NULL,
	output_dir TEXT NOT NULL DEFAULT '',
	total_records INTEGER NOT NULL DEFAULT 0,
	target_records INTEGER NOT NULL DEFAULT 0,
	multi_version_urls INTEGER NOT NULL DEFAULT 0,
	tasks INTEGER NOT NULL DEFAULT 0,
	succeeded INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	duplicates_removed INTEGER NOT NULL DEFAULT 0,
	s3_location TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	started_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	finished_at DATETIME NULL
);
`

const selectRun = `
SELECT id, domain, status, output_dir, total_records, target_records, multi_version_urls, tasks, succeeded, failed, duplicates_removed, s3_location, error_message, started_at, updated_at, finished_at
FROM runs`

type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) repository.RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createRunsTable); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	return nil
}

func (r *RunRepository) Create(ctx context.Context, run *domain.Run) error {
	now := time.Now().UTC()
	run.StartedAt = now
	run.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
INSERT INTO runs (id, domain, status, output_dir, started_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Domain,
		string(run.Status),
		run.OutputDir,
		run.StartedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (r *RunRepository) UpdateStatus(ctx context.Context, id string, status domain.RunStatus, errorMessage *string) error {
	msg := ""
	if errorMessage != nil {
		msg = *errorMessage
	}
	now := time.Now().UTC()

	var finished any
	if status == domain.RunStatusFailed || status == domain.RunStatusCompleted {
		finished = now
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE runs
SET status=?, error_message=?, updated_at=?, finished_at=COALESCE(?, finished_at)
WHERE id=?`,
		string(status),
		msg,
		now,
		finished,
		id,
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return expectOne(res, id)
}

func (r *RunRepository) Finish(ctx context.Context, id string, s domain.RunSummary, finishedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE runs
SET status=?, total_records=?, target_records=?, multi_version_urls=?, tasks=?, succeeded=?, failed=?, duplicates_removed=?, s3_location=?, updated_at=?, finished_at=?
WHERE id=?`,
		string(domain.RunStatusCompleted),
		s.TotalRecords,
		s.TargetRecords,
		s.MultiVersionURLs,
		s.Tasks,
		s.Succeeded,
		s.Failed,
		s.DuplicatesRemoved,
		s.S3Location,
		time.Now().UTC(),
		finishedAt.UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return expectOne(res, id)
}

func (r *RunRepository) Get(ctx context.Context, id string) (*domain.Run, error) {
	row := r.db.QueryRowContext(ctx, selectRun+` WHERE id=?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, repository.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (r *RunRepository) List(ctx context.Context) ([]domain.Run, error) {
	rows, err := r.db.QueryContext(ctx, selectRun+` ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*domain.Run, error) {
	var (
		run        domain.Run
		status     string
		finishedAt sql.NullTime
	)
	if err := scanner.Scan(
		&run.ID,
		&run.Domain,
		&status,
		&run.OutputDir,
		&run.TotalRecords,
		&run.TargetRecords,
		&run.MultiVersionURLs,
		&run.Tasks,
		&run.Succeeded,
		&run.Failed,
		&run.DuplicatesRemoved,
		&run.S3Location,
		&run.ErrorMessage,
		&run.StartedAt,
		&run.UpdatedAt,
		&finishedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Status = domain.RunStatus(status)
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func expectOne(res sql.Result, id string) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("run rows affected: %w", err)
	}
	if aff == 0 {
		return fmt.Errorf("run %s: %w", id, repository.ErrNotFound)
	}
	return nil
}
