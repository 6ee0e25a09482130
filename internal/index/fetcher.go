// Package index reads the archive's CDX index for a domain, page by page.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"wayback-fetcher/internal/domain"
	"wayback-fetcher/internal/retry"
)

// DefaultEndpoint is the public CDX search endpoint of the Wayback Machine.
const DefaultEndpoint = "https://web.archive.org/cdx/search/cdx"

// ErrIndexUnavailable is returned when a page could not be fetched or decoded
// within the retry policy. It aborts the run.
var ErrIndexUnavailable = errors.New("archive index unavailable")

// PageObserver is told about every page the fetcher receives.
type PageObserver interface {
	ObserveIndexPage(rows int)
}

type Config struct {
	Endpoint      string
	UseHTTP       bool
	PageSize      int
	Limit         int
	Timeout       time.Duration
	RatePerSecond float64
	Retry         retry.Policy
	UserAgent     string
	Client        *http.Client
	Observer      PageObserver
	Logger        *logrus.Logger
}

// Fetcher is a paginated client over the CDX API.
type Fetcher struct {
	cfg     Config
	limiter *rate.Limiter
}

func NewFetcher(cfg Config) *Fetcher {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	f := &Fetcher{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
	}
	f.cfg.Retry.IsRetryable = isRetryable
	return f
}

// Open starts a new stream of index rows for domainName. Nothing is requested
// until the first call to Next.
func (f *Fetcher) Open(domainName string) *Stream {
	return &Stream{
		fetcher: f,
		domain:  domainName,
	}
}

// FetchRecords drains a stream and normalizes every row.
func (f *Fetcher) FetchRecords(ctx context.Context, domainName string) ([]domain.ArchiveRecord, error) {
	stream := f.Open(domainName)

	var records []domain.ArchiveRecord
	for stream.Next(ctx) {
		rec, err := Normalize(stream.Row())
		if err != nil {
			return nil, fmt.Errorf("normalize row %d: %w", stream.Fetched(), err)
		}
		records = append(records, rec)
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	f.cfg.Logger.WithFields(logrus.Fields{
		"domain":  domainName,
		"records": len(records),
		"pages":   stream.Pages(),
	}).Info("archive index fetched")
	return records, nil
}

func (f *Fetcher) endpoint() (*url.URL, error) {
	u, err := url.Parse(f.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse index endpoint: %w", err)
	}
	if f.cfg.UseHTTP {
		u.Scheme = "http"
	}
	return u, nil
}

func (f *Fetcher) pageURL(domainName string, limit int, resumeKey string) (string, error) {
	u, err := f.endpoint()
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("url", domainName+"/*")
	q.Set("output", "json")
	q.Set("fl", strings.Join(Fields, ","))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("showResumeKey", "true")
	if resumeKey != "" {
		q.Set("resumeKey", resumeKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type page struct {
	rows      []Row
	resumeKey string
}

// fetchPage requests one page, retrying transient failures.
func (f *Fetcher) fetchPage(ctx context.Context, pageURL string) (page, error) {
	var result page

	policy := f.cfg.Retry
	policy.OnRetry = func(attempt int, err error) {
		f.cfg.Logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err,
		}).Warn("index page failed, retrying")
	}

	attempts, err := retry.Do(ctx, policy, func(int) error {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
		p, err := f.requestPage(ctx, pageURL)
		if err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return page{}, fmt.Errorf("%w: %d attempts: %w", ErrIndexUnavailable, attempts, err)
	}
	return result, nil
}

func (f *Fetcher) requestPage(ctx context.Context, pageURL string) (page, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return page{}, &permanentError{err: fmt.Errorf("build index request: %w", err)}
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := f.cfg.Client.Do(req)
	if err != nil {
		return page{}, fmt.Errorf("request index page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return page{}, &statusError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return page{}, fmt.Errorf("read index page: %w", err)
	}
	return parsePage(body)
}

// parsePage decodes a JSON page. A header row is skipped; an empty row marks
// the start of the resume-key trailer.
func parsePage(body []byte) (page, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return page{}, nil
	}

	var raw [][]string
	if err := json.Unmarshal(body, &raw); err != nil {
		return page{}, fmt.Errorf("decode index page: %w", err)
	}

	var p page
	for i, row := range raw {
		if len(row) == 0 {
			if i+1 < len(raw) && len(raw[i+1]) == 1 {
				p.resumeKey = raw[i+1][0]
			}
			break
		}
		if i == 0 && row[0] == Fields[0] {
			continue
		}
		p.rows = append(p.rows, Row(row))
	}
	return p, nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("index responded with status %d", e.code)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= http.StatusInternalServerError
	}
	// timeouts, resets, truncated bodies and undecodable pages
	return !errors.Is(err, context.Canceled)
}
