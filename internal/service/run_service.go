package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"wayback-fetcher/internal/domain"
	"wayback-fetcher/internal/repository"
)

// RunService records the progress and outcome of pipeline runs.
type RunService interface {
	StartRun(ctx context.Context, domainName, outputDir string) (*domain.Run, error)
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	ListRuns(ctx context.Context) ([]domain.Run, error)
	MarkDownloading(ctx context.Context, id string) error
	RecordIndex(ctx context.Context, id string, indexed, targets []domain.ArchiveRecord) error
	RecordResults(ctx context.Context, id string, results []domain.DownloadResult) error
	FinishRun(ctx context.Context, id string, summary domain.RunSummary) error
	FailRun(ctx context.Context, id string, cause error) error
	ListRecords(ctx context.Context, id string, targetsOnly bool) ([]domain.IndexedRecord, error)
	ListResults(ctx context.Context, id string, statuses ...domain.ResultStatus) ([]domain.DownloadResult, error)
}

type runService struct {
	runs    repository.RunRepository
	records repository.RecordRepository
	results repository.ResultRepository
}

func NewRunService(runs repository.RunRepository, records repository.RecordRepository, results repository.ResultRepository) RunService {
	return &runService{
		runs:    runs,
		records: records,
		results: results,
	}
}

func (s *runService) StartRun(ctx context.Context, domainName, outputDir string) (*domain.Run, error) {
	if strings.TrimSpace(domainName) == "" {
		return nil, errors.New("domain is required")
	}

	run := &domain.Run{
		ID:        uuid.NewString(),
		Domain:    domainName,
		Status:    domain.RunStatusIndexing,
		OutputDir: outputDir,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *runService) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return s.runs.Get(ctx, id)
}

func (s *runService) ListRuns(ctx context.Context) ([]domain.Run, error) {
	return s.runs.List(ctx)
}

func (s *runService) MarkDownloading(ctx context.Context, id string) error {
	return s.runs.UpdateStatus(ctx, id, domain.RunStatusDownloading, nil)
}

// RecordIndex stores the status-gated records, flagging those that are
// download targets. Identical captures are matched one for one.
func (s *runService) RecordIndex(ctx context.Context, id string, indexed, targets []domain.ArchiveRecord) error {
	pending := make(map[string]int, len(targets))
	for _, t := range targets {
		pending[t.Key()]++
	}

	out := make([]domain.IndexedRecord, len(indexed))
	for i, rec := range indexed {
		out[i] = domain.IndexedRecord{ArchiveRecord: rec}
		if pending[rec.Key()] > 0 {
			pending[rec.Key()]--
			out[i].Target = true
		}
	}
	return s.records.ReplaceForRun(ctx, id, out)
}

func (s *runService) RecordResults(ctx context.Context, id string, results []domain.DownloadResult) error {
	return s.results.ReplaceForRun(ctx, id, results)
}

func (s *runService) FinishRun(ctx context.Context, id string, summary domain.RunSummary) error {
	return s.runs.Finish(ctx, id, summary, time.Now())
}

func (s *runService) FailRun(ctx context.Context, id string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return s.runs.UpdateStatus(ctx, id, domain.RunStatusFailed, &msg)
}

func (s *runService) ListRecords(ctx context.Context, id string, targetsOnly bool) ([]domain.IndexedRecord, error) {
	return s.records.ListByRun(ctx, id, targetsOnly)
}

func (s *runService) ListResults(ctx context.Context, id string, statuses ...domain.ResultStatus) ([]domain.DownloadResult, error) {
	return s.results.ListByRun(ctx, id, statuses...)
}
