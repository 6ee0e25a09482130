package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wayback-fetcher/internal/domain"
	"wayback-fetcher/internal/repository"
	"wayback-fetcher/internal/repository/sqlite"
)

type repos struct {
	runs    repository.RunRepository
	records repository.RecordRepository
	results repository.ResultRepository
}

func openLedger(t *testing.T) repos {
	t.Helper()
	db, err := sqlite.Open(sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	r := repos{
		runs:    sqlite.NewRunRepository(db),
		records: sqlite.NewRecordRepository(db),
		results: sqlite.NewResultRepository(db),
	}
	require.NoError(t, sqlite.InitAll(context.Background(), r.runs, r.records, r.results))
	return r
}

func TestRunRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	r := openLedger(t)

	run := &domain.Run{ID: "run-1", Domain: "example.com", Status: domain.RunStatusIndexing, OutputDir: "out/example.com"}
	require.NoError(t, r.runs.Create(ctx, run))
	assert.False(t, run.StartedAt.IsZero())

	require.NoError(t, r.runs.UpdateStatus(ctx, "run-1", domain.RunStatusDownloading, nil))
	got, err := r.runs.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusDownloading, got.Status)
	assert.Nil(t, got.FinishedAt)

	finished := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.runs.Finish(ctx, "run-1", domain.RunSummary{
		TotalRecords:      10,
		TargetRecords:     4,
		MultiVersionURLs:  1,
		Tasks:             5,
		Succeeded:         4,
		Failed:            1,
		DuplicatesRemoved: 2,
		S3Location:        "s3://bucket/prefix",
	}, finished))

	got, err = r.runs.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, got.Status)
	assert.Equal(t, 10, got.TotalRecords)
	assert.Equal(t, 2, got.DuplicatesRemoved)
	assert.Equal(t, "s3://bucket/prefix", got.S3Location)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, finished.Equal(*got.FinishedAt))
}

func TestRunRepository_FailedAndMissing(t *testing.T) {
	ctx := context.Background()
	r := openLedger(t)

	require.NoError(t, r.runs.Create(ctx, &domain.Run{ID: "a", Domain: "a.com", Status: domain.RunStatusIndexing}))
	msg := "archive index unavailable"
	require.NoError(t, r.runs.UpdateStatus(ctx, "a", domain.RunStatusFailed, &msg))

	got, err := r.runs.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, got.Status)
	assert.Equal(t, msg, got.ErrorMessage)
	assert.NotNil(t, got.FinishedAt)

	_, err = r.runs.Get(ctx, "nope")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, r.runs.UpdateStatus(ctx, "nope", domain.RunStatusFailed, nil), repository.ErrNotFound)

	runs, err := r.runs.List(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRecordRepository(t *testing.T) {
	ctx := context.Background()
	r := openLedger(t)
	require.NoError(t, r.runs.Create(ctx, &domain.Run{ID: "run", Domain: "example.com", Status: domain.RunStatusIndexing}))

	rec := domain.ArchiveRecord{URLKey: "k", Timestamp: "20200101000000", OriginalURL: "https://example.com/k", MIMEType: "text/html", StatusCode: 200, Digest: "D", Length: 9}
	other := rec
	other.URLKey = "j"

	require.NoError(t, r.records.ReplaceForRun(ctx, "run", []domain.IndexedRecord{
		{ArchiveRecord: rec, Target: true},
		{ArchiveRecord: other},
	}))

	all, err := r.records.ListByRun(ctx, "run", false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, rec, all[0].ArchiveRecord)
	assert.True(t, all[0].Target)

	targets, err := r.records.ListByRun(ctx, "run", true)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "k", targets[0].URLKey)

	assert.Error(t, r.records.ReplaceForRun(ctx, "missing-run", []domain.IndexedRecord{{ArchiveRecord: rec}}),
		"records must belong to a run")
}

func TestResultRepository(t *testing.T) {
	ctx := context.Background()
	r := openLedger(t)
	require.NoError(t, r.runs.Create(ctx, &domain.Run{ID: "run", Domain: "example.com", Status: domain.RunStatusDownloading}))

	capture := &domain.ArchiveRecord{URLKey: "k", Timestamp: "20200101000000", OriginalURL: "https://example.com/k"}
	done := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	results := []domain.DownloadResult{
		{
			Task:         domain.DownloadTask{ID: 1, URLKey: "k", Record: capture, OriginalURL: capture.OriginalURL, Variant: domain.VariantFirst, Endpoint: domain.EndpointArchive, SourceURL: "https://web.archive.org/web/20200101000000im_/https://example.com/k"},
			Status:       domain.ResultSuccess,
			StoredPath:   "files/k-20200101000000",
			ByteSize:     12,
			ContentHash:  "abc",
			AttemptCount: 1,
			Seq:          2,
			CompletedAt:  done,
			Removed:      true,
			DuplicateOf:  "files/k-current",
		},
		{
			Task:         domain.DownloadTask{ID: 2, URLKey: "k", OriginalURL: capture.OriginalURL, Variant: domain.VariantCurrent, Endpoint: domain.EndpointOrigin, SourceURL: capture.OriginalURL},
			Status:       domain.ResultFailed,
			ErrorKind:    domain.ErrorKindConnection,
			Error:        "connection refused",
			AttemptCount: 3,
			Seq:          1,
			CompletedAt:  done,
		},
	}
	require.NoError(t, r.results.ReplaceForRun(ctx, "run", results))

	all, err := r.results.ListByRun(ctx, "run")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].Seq, "ordered by completion")
	assert.Nil(t, all[0].Task.Record)
	assert.Equal(t, domain.ErrorKindConnection, all[0].ErrorKind)

	ok := all[1]
	assert.Equal(t, domain.VariantFirst, ok.Task.Variant)
	require.NotNil(t, ok.Task.Record)
	assert.Equal(t, "20200101000000", ok.Task.Record.Timestamp)
	assert.True(t, ok.Removed)
	assert.Equal(t, "files/k-current", ok.DuplicateOf)
	assert.True(t, done.Equal(ok.CompletedAt))

	failed, err := r.results.ListByRun(ctx, "run", domain.ResultFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, int64(2), failed[0].Task.ID)
}
