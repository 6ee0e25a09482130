package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wayback-fetcher/internal/domain"
	api "wayback-fetcher/internal/http"
	"wayback-fetcher/internal/metrics"
	"wayback-fetcher/internal/repository/sqlite"
	"wayback-fetcher/internal/service"
	"wayback-fetcher/internal/storage"
)

type fakeStorage struct {
	prefixes []string
}

func (f *fakeStorage) UploadDirectory(context.Context, string, storage.UploadOptions) (string, error) {
	return "", nil
}

func (f *fakeStorage) ListObjects(_ context.Context, _ string, prefix string) ([]storage.ObjectInfo, error) {
	f.prefixes = append(f.prefixes, prefix)
	return []storage.ObjectInfo{{Key: prefix + "/files/a.pdf", Size: 3}}, nil
}

func (f *fakeStorage) DeletePrefix(context.Context, string, string) error { return nil }

type fixture struct {
	router *gin.Engine
	runs   service.RunService
	store  *fakeStorage
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sqlite.Open(sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	runs := sqlite.NewRunRepository(db)
	records := sqlite.NewRecordRepository(db)
	results := sqlite.NewResultRepository(db)
	require.NoError(t, sqlite.InitAll(context.Background(), runs, records, results))
	svc := service.NewRunService(runs, records, results)

	store := &fakeStorage{}
	m := metrics.New(nil)
	require.NoError(t, m.Register(metrics.NewLedgerCollector(svc)))

	router := gin.New()
	api.NewHandler(svc, store, "mirror", m.Handler()).RegisterRoutes(router)
	return fixture{router: router, runs: svc, store: store}
}

func (f fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func seedRun(t *testing.T, svc service.RunService) *domain.Run {
	t.Helper()
	ctx := context.Background()
	run, err := svc.StartRun(ctx, "example.com", "out")
	require.NoError(t, err)

	a := domain.ArchiveRecord{URLKey: "com,example)/a.pdf", Timestamp: "20200101000000", OriginalURL: "https://example.com/a.pdf", MIMEType: "application/pdf", StatusCode: 200, Digest: "AAA"}
	b := domain.ArchiveRecord{URLKey: "com,example)/", Timestamp: "20200101000000", OriginalURL: "https://example.com/", MIMEType: "text/html", StatusCode: 200, Digest: "BBB"}
	require.NoError(t, svc.RecordIndex(ctx, run.ID, []domain.ArchiveRecord{a, b}, []domain.ArchiveRecord{a}))

	results := []domain.DownloadResult{
		{Task: domain.DownloadTask{ID: 1, URLKey: a.URLKey, Record: &a, Variant: domain.VariantFirst, Endpoint: domain.EndpointArchive}, Status: domain.ResultSuccess, StoredPath: "out/files/a-20200101000000.pdf", AttemptCount: 1, Seq: 1, CompletedAt: time.Now()},
		{Task: domain.DownloadTask{ID: 2, URLKey: a.URLKey, OriginalURL: a.OriginalURL, Variant: domain.VariantCurrent, Endpoint: domain.EndpointOrigin}, Status: domain.ResultFailed, ErrorKind: domain.ErrorKindHTTPStatus, Error: "status 404", AttemptCount: 1, Seq: 2, CompletedAt: time.Now()},
	}
	require.NoError(t, svc.RecordResults(ctx, run.ID, results))
	require.NoError(t, svc.FinishRun(ctx, run.ID, domain.RunSummary{TotalRecords: 2, TargetRecords: 1, Tasks: 2, Succeeded: 1, Failed: 1, S3Location: "s3://mirror/wayback/" + run.ID}))
	return run
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, f.get(t, "/api/health", &body))
	assert.Equal(t, "ok", body["ok"])
}

func TestRuns(t *testing.T) {
	f := newFixture(t)
	run := seedRun(t, f.runs)

	var list []api.RunResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/runs", &list))
	require.Len(t, list, 1)
	assert.Equal(t, run.ID, list[0].ID)

	var got api.RunResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/runs/"+run.ID, &got))
	assert.Equal(t, domain.RunStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Tasks)
	assert.NotNil(t, got.FinishedAt)

	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/runs/missing", nil))
}

func TestRecords(t *testing.T) {
	f := newFixture(t)
	run := seedRun(t, f.runs)

	var all []api.RecordResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/runs/"+run.ID+"/records", &all))
	assert.Len(t, all, 2)

	var targets []api.RecordResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/runs/"+run.ID+"/records?targets=true", &targets))
	require.Len(t, targets, 1)
	assert.Equal(t, "https://example.com/a.pdf", targets[0].OriginalURL)
	assert.True(t, targets[0].Target)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/runs/"+run.ID+"/records?targets=maybe", nil))
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/runs/missing/records", nil))
}

func TestResults(t *testing.T) {
	f := newFixture(t)
	run := seedRun(t, f.runs)

	var all []api.ResultResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/runs/"+run.ID+"/results", &all))
	assert.Len(t, all, 2)

	var failed []api.ResultResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/runs/"+run.ID+"/results?status=failed", &failed))
	require.Len(t, failed, 1)
	assert.Equal(t, domain.ErrorKindHTTPStatus, failed[0].ErrorKind)
	assert.Equal(t, domain.VariantCurrent, failed[0].Variant)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/runs/"+run.ID+"/results?status=pending", nil))
}

func TestObjects(t *testing.T) {
	f := newFixture(t)
	run := seedRun(t, f.runs)

	var objects []api.StorageObjectResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/runs/"+run.ID+"/objects", &objects))
	require.Len(t, objects, 1)
	assert.Equal(t, []string{"wayback/" + run.ID}, f.store.prefixes)
}

func TestMetricsReportLedger(t *testing.T) {
	f := newFixture(t)
	seedRun(t, f.runs)
	_, err := f.runs.StartRun(context.Background(), "example.org", "out2")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `wayback_runs{status="completed"} 1`)
	assert.Contains(t, body, `wayback_runs{status="indexing"} 1`)
	assert.Contains(t, body, `wayback_run_downloads{status="success"} 1`)
	assert.Contains(t, body, `wayback_run_downloads{status="failed"} 1`)
	assert.Contains(t, body, "wayback_index_records_total 0")
}

func TestCORS(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/runs", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
