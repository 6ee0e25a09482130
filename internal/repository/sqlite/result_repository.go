package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"wayback-fetcher/internal/domain"
	"wayback-fetcher/internal/repository"
)

const createResultsTable = `
CREATE TABLE IF NOT EXISTS results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	task_id INTEGER NOT NULL,
	url_key TEXT NOT NULL,
	variant TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	original_url TEXT NOT NULL,
	source_url TEXT NOT NULL,
	capture_timestamp TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	stored_path TEXT NOT NULL DEFAULT '',
	byte_size INTEGER NOT NULL DEFAULT 0,
	content_hash TEXT NOT NULL DEFAULT '',
	error_kind TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	attempt_count INTEGER NOT NULL DEFAULT 0,
	removed INTEGER NOT NULL DEFAULT 0,
	duplicate_of TEXT NOT NULL DEFAULT '',
	completed_at DATETIME NOT NULL,
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_results_run_id ON results(run_id);
`

type ResultRepository struct {
	db *sql.DB
}

func NewResultRepository(db *sql.DB) repository.ResultRepository {
	return &ResultRepository{db: db}
}

func (r *ResultRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createResultsTable); err != nil {
		return fmt.Errorf("create results table: %w", err)
	}
	return nil
}

func (r *ResultRepository) ReplaceForRun(ctx context.Context, runID string, results []domain.DownloadResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // safe no-op on commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE run_id=?`, runID); err != nil {
		return fmt.Errorf("delete results: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO results (run_id, seq, task_id, url_key, variant, endpoint, original_url, source_url, capture_timestamp, status, stored_path, byte_size, content_hash, error_kind, error_message, attempt_count, removed, duplicate_of, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare result insert: %w", err)
	}
	defer stmt.Close()

	for _, res := range results {
		captured := ""
		if res.Task.Record != nil {
			captured = res.Task.Record.Timestamp
		}
		if _, err := stmt.ExecContext(ctx,
			runID,
			res.Seq,
			res.Task.ID,
			res.Task.URLKey,
			string(res.Task.Variant),
			string(res.Task.Endpoint),
			res.Task.OriginalURL,
			res.Task.SourceURL,
			captured,
			string(res.Status),
			res.StoredPath,
			res.ByteSize,
			res.ContentHash,
			string(res.ErrorKind),
			res.Error,
			res.AttemptCount,
			res.Removed,
			res.DuplicateOf,
			res.CompletedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *ResultRepository) ListByRun(ctx context.Context, runID string, statuses ...domain.ResultStatus) ([]domain.DownloadResult, error) {
	query := `
SELECT seq, task_id, url_key, variant, endpoint, original_url, source_url, capture_timestamp, status, stored_path, byte_size, content_hash, error_kind, error_message, attempt_count, removed, duplicate_of, completed_at
FROM results
WHERE run_id=?`
	args := []any{runID}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, s := range statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		query += fmt.Sprintf(` AND status IN (%s)`, strings.Join(placeholders, ","))
	}
	query += ` ORDER BY seq ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []domain.DownloadResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
	}
	return results, rows.Err()
}

func scanResult(scanner interface {
	Scan(dest ...any) error
}) (*domain.DownloadResult, error) {
	var (
		res         domain.DownloadResult
		variant     string
		endpoint    string
		captured    string
		status      string
		errorKind   string
		completedAt time.Time
	)
	if err := scanner.Scan(
		&res.Seq,
		&res.Task.ID,
		&res.Task.URLKey,
		&variant,
		&endpoint,
		&res.Task.OriginalURL,
		&res.Task.SourceURL,
		&captured,
		&status,
		&res.StoredPath,
		&res.ByteSize,
		&res.ContentHash,
		&errorKind,
		&res.Error,
		&res.AttemptCount,
		&res.Removed,
		&res.DuplicateOf,
		&completedAt,
	); err != nil {
		return nil, fmt.Errorf("scan result: %w", err)
	}

	res.Task.Variant = domain.Variant(variant)
	res.Task.Endpoint = domain.EndpointClass(endpoint)
	if captured != "" {
		res.Task.Record = &domain.ArchiveRecord{
			URLKey:      res.Task.URLKey,
			Timestamp:   captured,
			OriginalURL: res.Task.OriginalURL,
		}
	}
	res.Status = domain.ResultStatus(status)
	res.ErrorKind = domain.ErrorKind(errorKind)
	res.CompletedAt = completedAt
	return &res, nil
}
