package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"wayback-fetcher/internal/domain"
	"wayback-fetcher/internal/repository"
)

const createRecordsTable = `
CREATE TABLE IF NOT EXISTS records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	url_key TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	original_url TEXT NOT NULL,
	mime_type TEXT NOT NULL DEFAULT '',
	status_code INTEGER NOT NULL DEFAULT 0,
	digest TEXT NOT NULL DEFAULT '',
	length INTEGER NOT NULL DEFAULT 0,
	target INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_records_run_id ON records(run_id);
`

type RecordRepository struct {
	db *sql.DB
}

func NewRecordRepository(db *sql.DB) repository.RecordRepository {
	return &RecordRepository{db: db}
}

func (r *RecordRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createRecordsTable); err != nil {
		return fmt.Errorf("create records table: %w", err)
	}
	return nil
}

func (r *RecordRepository) ReplaceForRun(ctx context.Context, runID string, records []domain.IndexedRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // safe no-op on commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE run_id=?`, runID); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO records (run_id, url_key, timestamp, original_url, mime_type, status_code, digest, length, target)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare record insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			runID,
			rec.URLKey,
			rec.Timestamp,
			rec.OriginalURL,
			rec.MIMEType,
			rec.StatusCode,
			rec.Digest,
			rec.Length,
			rec.Target,
		); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *RecordRepository) ListByRun(ctx context.Context, runID string, targetsOnly bool) ([]domain.IndexedRecord, error) {
	query := `
SELECT url_key, timestamp, original_url, mime_type, status_code, digest, length, target
FROM records
WHERE run_id=?`
	if targetsOnly {
		query += ` AND target=1`
	}
	query += ` ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []domain.IndexedRecord
	for rows.Next() {
		var rec domain.IndexedRecord
		if err := rows.Scan(
			&rec.URLKey,
			&rec.Timestamp,
			&rec.OriginalURL,
			&rec.MIMEType,
			&rec.StatusCode,
			&rec.Digest,
			&rec.Length,
			&rec.Target,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
