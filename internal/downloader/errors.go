package downloader

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"wayback-fetcher/internal/domain"
	"wayback-fetcher/internal/retry"
)

// StatusError is returned when a server answers with a non-success status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Transient reports whether the status is worth another attempt.
func (e *StatusError) Transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// taskError carries a terminal failure that is already classified.
type taskError struct {
	kind domain.ErrorKind
	err  error
}

func (e *taskError) Error() string { return e.err.Error() }
func (e *taskError) Unwrap() error { return e.err }

func fsError(err error) error {
	return &taskError{kind: domain.ErrorKindFilesystem, err: err}
}

func invalidURL(err error) error {
	return &taskError{kind: domain.ErrorKindInvalidURL, err: err}
}

func isRetryable(err error) bool {
	var te *taskError
	if errors.As(err, &te) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	// timeouts, refused or reset connections, truncated bodies
	return !errors.Is(err, context.Canceled)
}

func classify(ctx context.Context, err error) domain.ErrorKind {
	if ctx.Err() != nil || errors.Is(err, retry.ErrContextCancelled) {
		return domain.ErrorKindCanceled
	}
	var te *taskError
	if errors.As(err, &te) {
		return te.kind
	}
	var se *StatusError
	if errors.As(err, &se) {
		return domain.ErrorKindHTTPStatus
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrorKindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.ErrorKindTimeout
	}
	return domain.ErrorKindConnection
}
