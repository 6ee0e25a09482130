package repository

import (
	"context"
	"errors"
	"time"

	"wayback-fetcher/internal/domain"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// RunRepository persists Run rows.
type RunRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, run *domain.Run) error
	UpdateStatus(ctx context.Context, id string, status domain.RunStatus, errorMessage *string) error
	Finish(ctx context.Context, id string, summary domain.RunSummary, finishedAt time.Time) error
	Get(ctx context.Context, id string) (*domain.Run, error)
	List(ctx context.Context) ([]domain.Run, error)
}

// RecordRepository stores the status-gated index of a run.
type RecordRepository interface {
	Init(ctx context.Context) error
	ReplaceForRun(ctx context.Context, runID string, records []domain.IndexedRecord) error
	ListByRun(ctx context.Context, runID string, targetsOnly bool) ([]domain.IndexedRecord, error)
}

// ResultRepository stores download results of a run.
type ResultRepository interface {
	Init(ctx context.Context) error
	ReplaceForRun(ctx context.Context, runID string, results []domain.DownloadResult) error
	ListByRun(ctx context.Context, runID string, statuses ...domain.ResultStatus) ([]domain.DownloadResult, error)
}
