package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"wayback-fetcher/internal/domain"
)

// Fetcher streams the body behind a URL into w.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, w io.Writer) (int64, error)
}

// HTTPFetcher fetches over plain HTTP(S), following redirects.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

func NewHTTPFetcher(client *http.Client, userAgent string) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPFetcher{client: client, userAgent: userAgent}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, w io.Writer) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, invalidURL(fmt.Errorf("parse url: %w", err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return 0, &taskError{
			kind: domain.ErrorKindUnsupportedScheme,
			err:  fmt.Errorf("unsupported scheme %q", u.Scheme),
		}
	}
	if u.Host == "" {
		return 0, invalidURL(fmt.Errorf("url %q has no host", rawURL))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, invalidURL(fmt.Errorf("build request: %w", err))
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, &StatusError{Code: resp.StatusCode}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("copy body: %w", err)
	}
	return n, nil
}
