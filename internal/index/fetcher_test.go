package index_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wayback-fetcher/internal/index"
	"wayback-fetcher/internal/retry"
)

var header = []string{"urlkey", "timestamp", "original", "mimetype", "statuscode", "digest", "length"}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func row(key, ts, digest string) []string {
	return []string{key, ts, "https://example.com/" + key, "text/html", "200", digest, "512"}
}

func writePage(t *testing.T, w http.ResponseWriter, rows [][]string, resumeKey string) {
	t.Helper()
	out := append([][]string{header}, rows...)
	if resumeKey != "" {
		out = append(out, []string{}, []string{resumeKey})
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(out))
}

func newFetcher(endpoint string, cfg index.Config) *index.Fetcher {
	cfg.Endpoint = endpoint
	cfg.Logger = quietLogger()
	return index.NewFetcher(cfg)
}

func TestFetchRecords_FollowsResumeKey(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		q := r.URL.Query()
		assert.Equal(t, "example.com/*", q.Get("url"))
		assert.Equal(t, "json", q.Get("output"))
		assert.Equal(t, "urlkey,timestamp,original,mimetype,statuscode,digest,length", q.Get("fl"))
		assert.Equal(t, "true", q.Get("showResumeKey"))

		switch q.Get("resumeKey") {
		case "":
			writePage(t, w, [][]string{
				row("com,example)/a", "20200101000000", "AAA"),
				row("com,example)/b", "20200102000000", "BBB"),
			}, "page-2")
		case "page-2":
			writePage(t, w, [][]string{
				row("com,example)/c", "20200103000000", "CCC"),
			}, "")
		default:
			t.Errorf("unexpected resume key %q", q.Get("resumeKey"))
		}
	}))
	defer srv.Close()

	f := newFetcher(srv.URL, index.Config{PageSize: 2})
	records, err := f.FetchRecords(context.Background(), "example.com")

	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "com,example)/a", records[0].URLKey)
	assert.Equal(t, "CCC", records[2].Digest)
	assert.Equal(t, int32(2), requests.Load())
}

func TestStream_StopsAtLimit(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		writePage(t, w, [][]string{
			row("com,example)/a", "20200101000000", "AAA"),
			row("com,example)/b", "20200102000000", "BBB"),
		}, "more")
	}))
	defer srv.Close()

	f := newFetcher(srv.URL, index.Config{PageSize: 100, Limit: 2})
	stream := f.Open("example.com")

	var n int
	for stream.Next(context.Background()) {
		n++
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, stream.Fetched())
	assert.Equal(t, int32(1), requests.Load())
	assert.False(t, stream.Next(context.Background()), "stream must not restart")
}

func TestStream_EmptyIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "[]")
	}))
	defer srv.Close()

	records, err := newFetcher(srv.URL, index.Config{}).FetchRecords(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFetchRecords_RetriesTransientFailures(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writePage(t, w, [][]string{row("com,example)/a", "20200101000000", "AAA")}, "")
	}))
	defer srv.Close()

	f := newFetcher(srv.URL, index.Config{Retry: retry.Policy{Retries: 2, Delay: time.Millisecond}})
	records, err := f.FetchRecords(context.Background(), "example.com")

	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int32(2), requests.Load())
}

func TestFetchRecords_FailureModes(t *testing.T) {
	tests := []struct {
		name         string
		handler      http.HandlerFunc
		wantRequests int32
		wantErr      error
	}{
		{
			name:         "server errors exhaust retries",
			handler:      func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			wantRequests: 3,
			wantErr:      index.ErrIndexUnavailable,
		},
		{
			name:         "throttling exhausts retries",
			handler:      func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTooManyRequests) },
			wantRequests: 3,
			wantErr:      index.ErrIndexUnavailable,
		},
		{
			name:         "client error is permanent",
			handler:      func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusForbidden) },
			wantRequests: 1,
			wantErr:      index.ErrIndexUnavailable,
		},
		{
			name:         "undecodable page",
			handler:      func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "<html>") },
			wantRequests: 3,
			wantErr:      index.ErrIndexUnavailable,
		},
		{
			name: "malformed row",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, `[["com,example)/a","not-a-time","https://example.com/a","text/html","200","AAA","1"]]`)
			},
			wantRequests: 1,
			wantErr:      index.ErrMalformedRow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requests atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				requests.Add(1)
				tt.handler(w, r)
			}))
			defer srv.Close()

			f := newFetcher(srv.URL, index.Config{Retry: retry.Policy{Retries: 2, Delay: time.Millisecond}})
			records, err := f.FetchRecords(context.Background(), "example.com")

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, records)
			assert.Equal(t, tt.wantRequests, requests.Load())
		})
	}
}

type pageCounter struct {
	pages, rows int
}

func (p *pageCounter) ObserveIndexPage(rows int) {
	p.pages++
	p.rows += rows
}

func TestStream_ReportsPagesToObserver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writePage(t, w, [][]string{row("com,example)/a", "20200101000000", "AAA")}, "")
	}))
	defer srv.Close()

	obs := &pageCounter{}
	_, err := newFetcher(srv.URL, index.Config{Observer: obs}).FetchRecords(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, obs.pages)
	assert.Equal(t, 1, obs.rows)
}
