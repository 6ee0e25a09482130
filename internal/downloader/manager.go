package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"wayback-fetcher/internal/domain"
	"wayback-fetcher/internal/retry"
)

const (
	MinThreads = 1
	MaxThreads = 64
)

// Manager runs download tasks on a bounded worker pool.
type Manager interface {
	Run(ctx context.Context, tasks []domain.DownloadTask) []domain.DownloadResult
}

// Observer is told about task state changes. Every TaskStarted is followed by
// exactly one TaskFinished. Calls come from worker goroutines.
type Observer interface {
	TaskStarted(task domain.DownloadTask)
	AttemptStarted(task domain.DownloadTask, attempt int)
	TaskFinished(result domain.DownloadResult)
}

// TimeoutPolicy bounds a single attempt. Override, when set, applies to both
// endpoint classes.
type TimeoutPolicy struct {
	Archive  time.Duration
	Origin   time.Duration
	Override time.Duration
}

// For returns the attempt timeout for an endpoint class.
func (p TimeoutPolicy) For(endpoint domain.EndpointClass) time.Duration {
	if p.Override > 0 {
		return p.Override
	}
	if endpoint == domain.EndpointOrigin {
		return p.Origin
	}
	return p.Archive
}

type Config struct {
	FilesDir   string
	Threads    int
	Structured bool
	Timeouts   TimeoutPolicy
	Retry      retry.Policy
	UserAgent  string
	Observer   Observer
	Logger     *logrus.Logger
}

type manager struct {
	cfg     Config
	fetcher Fetcher
}

// collector appends results in completion order and numbers them.
type collector struct {
	mu       sync.Mutex
	results  []domain.DownloadResult
	observer Observer
}

func (c *collector) add(res domain.DownloadResult) {
	c.mu.Lock()
	res.Seq = int64(len(c.results) + 1)
	res.CompletedAt = time.Now().UTC()
	c.results = append(c.results, res)
	c.mu.Unlock()

	if c.observer != nil {
		c.observer.TaskFinished(res)
	}
}

// ClampThreads keeps a requested pool size inside [MinThreads, MaxThreads].
func ClampThreads(n int) int {
	if n < MinThreads {
		return MinThreads
	}
	if n > MaxThreads {
		return MaxThreads
	}
	return n
}

// NewManager builds a manager. A nil fetcher means plain HTTP with cfg.UserAgent.
func NewManager(cfg Config, fetcher Fetcher) Manager {
	cfg.Threads = ClampThreads(cfg.Threads)
	if cfg.Timeouts.Archive <= 0 {
		cfg.Timeouts.Archive = 120 * time.Second
	}
	if cfg.Timeouts.Origin <= 0 {
		cfg.Timeouts.Origin = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if fetcher == nil {
		fetcher = NewHTTPFetcher(nil, cfg.UserAgent)
	}
	cfg.Retry.IsRetryable = isRetryable
	return &manager{
		cfg:     cfg,
		fetcher: fetcher,
	}
}

// Run downloads every task and returns one result per task in completion order.
// Cancelling ctx stops new attempts; unfinished tasks report ErrorKindCanceled.
func (m *manager) Run(ctx context.Context, tasks []domain.DownloadTask) []domain.DownloadResult {
	c := &collector{
		results:  make([]domain.DownloadResult, 0, len(tasks)),
		observer: m.cfg.Observer,
	}
	if len(tasks) == 0 {
		return c.results
	}

	placement := NewPlacement(m.cfg.FilesDir, m.cfg.Structured)
	placement.Reserve(tasks)

	queue := make(chan domain.DownloadTask, len(tasks))
	for _, t := range tasks {
		queue <- t
	}
	close(queue)

	workers := m.cfg.Threads
	if workers > len(tasks) {
		workers = len(tasks)
	}

	m.cfg.Logger.WithFields(logrus.Fields{
		"tasks":   len(tasks),
		"threads": workers,
	}).Info("downloads started")

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range queue {
				c.add(m.handleTask(ctx, placement, task))
			}
		}()
	}
	wg.Wait()

	var failed int
	for _, r := range c.results {
		if !r.Succeeded() {
			failed++
		}
	}
	m.cfg.Logger.WithFields(logrus.Fields{
		"succeeded": len(c.results) - failed,
		"failed":    failed,
	}).Info("downloads finished")
	return c.results
}

func (m *manager) handleTask(ctx context.Context, placement *Placement, task domain.DownloadTask) domain.DownloadResult {
	logger := m.cfg.Logger.WithFields(logrus.Fields{
		"task_id": task.ID,
		"variant": task.Variant,
	})

	if m.cfg.Observer != nil {
		m.cfg.Observer.TaskStarted(task)
	}
	if err := ctx.Err(); err != nil {
		return failure(task, domain.ErrorKindCanceled, 0, err)
	}

	var (
		stored  string
		written int64
		sum     string
	)

	policy := m.cfg.Retry
	policy.OnRetry = func(attempt int, err error) {
		logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err,
		}).Debug("download attempt failed, retrying")
	}

	attempts, err := retry.Do(ctx, policy, func(attempt int) error {
		if m.cfg.Observer != nil {
			m.cfg.Observer.AttemptStarted(task, attempt)
		}
		logger.WithField("attempt", attempt).Debugf("fetching %s", task.SourceURL)

		path, n, h, err := m.attempt(ctx, placement, task)
		if err != nil {
			return err
		}
		stored, written, sum = path, n, h
		return nil
	})
	if err != nil {
		kind := classify(ctx, err)
		logger.WithFields(logrus.Fields{
			"url":      task.SourceURL,
			"attempts": attempts,
			"kind":     kind,
		}).Warnf("download failed: %v", err)
		return failure(task, kind, attempts, err)
	}

	logger.WithFields(logrus.Fields{
		"path": stored,
		"size": formatBytes(written),
	}).Debug("download completed")

	return domain.DownloadResult{
		Task:         task,
		Status:       domain.ResultSuccess,
		StoredPath:   stored,
		ByteSize:     written,
		ContentHash:  sum,
		AttemptCount: attempts,
	}
}

// attempt fetches the task into a temp file beside its destination and moves
// it into place once the body has been read completely.
func (m *manager) attempt(ctx context.Context, placement *Placement, task domain.DownloadTask) (string, int64, string, error) {
	loc, err := placement.Locate(task)
	if err != nil {
		return "", 0, "", err
	}
	if err := os.MkdirAll(loc.Dir, 0o755); err != nil {
		return "", 0, "", fsError(fmt.Errorf("create destination dir: %w", err))
	}

	tmpPath := filepath.Join(loc.Dir, "."+uuid.NewString()+".part")
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", 0, "", fsError(fmt.Errorf("create temp file: %w", err))
	}
	keep := false
	defer func() {
		if !keep {
			_ = f.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeouts.For(task.Endpoint))
	defer cancel()

	h := sha256.New()
	n, err := m.fetcher.Fetch(attemptCtx, task.SourceURL, &hashingWriter{file: f, hash: h})
	if err != nil {
		return "", 0, "", err
	}
	if err := f.Close(); err != nil {
		return "", 0, "", fsError(fmt.Errorf("close temp file: %w", err))
	}

	sum := hex.EncodeToString(h.Sum(nil))
	final := placement.Claim(loc, task.ID, sum)
	if err := os.Rename(tmpPath, final); err != nil {
		placement.Release(final)
		return "", 0, "", fsError(fmt.Errorf("move into place: %w", err))
	}
	keep = true
	return final, n, sum, nil
}

// hashingWriter writes to the temp file first, so a disk error is reported as
// such rather than as a transfer failure.
type hashingWriter struct {
	file *os.File
	hash hash.Hash
}

func (w *hashingWriter) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	if err != nil {
		return n, fsError(fmt.Errorf("write temp file: %w", err))
	}
	w.hash.Write(p[:n])
	return n, nil
}

func failure(task domain.DownloadTask, kind domain.ErrorKind, attempts int, err error) domain.DownloadResult {
	return domain.DownloadResult{
		Task:         task,
		Status:       domain.ResultFailed,
		ErrorKind:    kind,
		Error:        err.Error(),
		AttemptCount: attempts,
	}
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB",
		float64(b)/float64(div),
		"KMGTPE"[exp],
	)
}
