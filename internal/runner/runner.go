// Package runner drives one fetch run: index, filter, select, download,
// deduplicate, report, mirror.
package runner

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"wayback-fetcher/internal/config"
	"wayback-fetcher/internal/dedup"
	"wayback-fetcher/internal/domain"
	"wayback-fetcher/internal/downloader"
	"wayback-fetcher/internal/filter"
	"wayback-fetcher/internal/index"
	"wayback-fetcher/internal/metrics"
	"wayback-fetcher/internal/report"
	"wayback-fetcher/internal/selector"
	"wayback-fetcher/internal/service"
	"wayback-fetcher/internal/storage"
)

// FilesDir is the folder under the output directory that holds downloads.
const FilesDir = "files"

// ConfirmFunc is asked before downloading a domain without any content filter.
type ConfirmFunc func(prompt string) bool

// Deps are the collaborators of a Runner. Storage, Metrics and Confirm are optional.
type Deps struct {
	Runs    service.RunService
	Storage storage.Service
	Metrics *metrics.Metrics
	Confirm ConfirmFunc
	Client  *http.Client
	Logger  *logrus.Logger
	Now     func() time.Time
}

type Runner struct {
	cfg  config.Config
	deps Deps
}

// New expects cfg to be validated already.
func New(cfg config.Config, deps Deps) *Runner {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if deps.Client == nil {
		deps.Client = &http.Client{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Runner{cfg: cfg, deps: deps}
}

// Run executes the pipeline and returns the finished run as stored in the
// ledger. A failing index or ledger aborts the run; failed downloads do not.
func (r *Runner) Run(ctx context.Context) (*domain.Run, error) {
	logger := r.deps.Logger.WithField("domain", r.cfg.Domain)

	outputDir := r.cfg.OutputDir(r.deps.Now())
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output folder: %w", err)
	}

	run, err := r.deps.Runs.StartRun(ctx, r.cfg.Domain, outputDir)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	logger = logger.WithField("run_id", run.ID)
	logger.Infof("run started, output in %s", outputDir)

	summary, err := r.execute(ctx, run, logger)
	// the ledger must still be written after an interrupt
	ledgerCtx := context.WithoutCancel(ctx)
	if err != nil {
		logger.WithError(err).Error("run failed")
		if ferr := r.deps.Runs.FailRun(ledgerCtx, run.ID, err); ferr != nil {
			logger.WithError(ferr).Error("mark run failed")
		}
		return nil, err
	}

	if err := r.deps.Runs.FinishRun(ledgerCtx, run.ID, summary); err != nil {
		return nil, fmt.Errorf("finish run: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"records":    summary.TotalRecords,
		"targets":    summary.TargetRecords,
		"tasks":      summary.Tasks,
		"succeeded":  summary.Succeeded,
		"failed":     summary.Failed,
		"duplicates": summary.DuplicatesRemoved,
	}).Info("run completed")
	return r.deps.Runs.GetRun(ledgerCtx, run.ID)
}

func (r *Runner) execute(ctx context.Context, run *domain.Run, logger *logrus.Entry) (domain.RunSummary, error) {
	var summary domain.RunSummary

	criteria, err := r.cfg.FilterCriteria()
	if err != nil {
		return summary, err
	}
	formats, err := r.cfg.OutputFormats()
	if err != nil {
		return summary, err
	}
	writer := &report.Writer{Dir: run.OutputDir, Formats: formats, Logger: r.deps.Logger}

	records, err := r.fetchIndex(ctx)
	if err != nil {
		return summary, err
	}

	res := filter.Apply(records, criteria)
	summary.TotalRecords = len(res.Indexed)
	summary.TargetRecords = len(res.Targets)
	logger.WithFields(logrus.Fields{
		"fetched": len(records),
		"indexed": len(res.Indexed),
		"targets": len(res.Targets),
	}).Info("records filtered")

	if err := r.deps.Runs.RecordIndex(ctx, run.ID, res.Indexed, res.Targets); err != nil {
		return summary, fmt.Errorf("record index: %w", err)
	}
	if err := writer.WriteIndex(res); err != nil {
		return summary, fmt.Errorf("write index report: %w", err)
	}

	groups := selector.Group(res.Targets)
	for _, g := range groups {
		if g.HasMultipleVersions {
			summary.MultiVersionURLs++
		}
	}
	if err := writer.WriteMultipleVersions(groups); err != nil {
		return summary, fmt.Errorf("write versions report: %w", err)
	}

	opts := r.cfg.SelectorOptions()
	if !opts.Any() {
		logger.Info("no download variant selected, skipping downloads")
		return summary, nil
	}
	if r.cfg.NeedsConfirmation() && r.deps.Confirm != nil {
		prompt := fmt.Sprintf("No filter is set, %d URLs of %s would be downloaded. Do you want to continue?", len(groups), r.cfg.Domain)
		if !r.deps.Confirm(prompt) {
			logger.Info("downloads declined")
			return summary, nil
		}
	}

	tasks := selector.Tasks(groups, opts, r.cfg.Endpoints())
	summary.Tasks = len(tasks)
	if len(tasks) == 0 {
		return summary, nil
	}
	if err := r.deps.Runs.MarkDownloading(ctx, run.ID); err != nil {
		return summary, fmt.Errorf("mark downloading: %w", err)
	}

	filesDir := filepath.Join(run.OutputDir, FilesDir)
	results := r.download(ctx, filesDir, tasks)

	// reports and ledger are written even when the run was interrupted
	ledgerCtx := context.WithoutCancel(ctx)

	if r.cfg.Download.Deduplicate {
		outcome, err := dedup.Run(results, dedup.RemoveFile)
		if err != nil {
			logger.WithError(err).Error("some duplicates could not be removed")
		}
		results = outcome.Results
		summary.DuplicatesRemoved = outcome.Removed
		if r.deps.Metrics != nil {
			r.deps.Metrics.ObserveDuplicates(outcome.Removed)
		}
		logger.Infof("removed %d duplicate files", outcome.Removed)
	}

	for _, res := range results {
		if res.Succeeded() {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	if err := writer.WriteDownloads(results); err != nil {
		return summary, fmt.Errorf("write download report: %w", err)
	}
	if err := r.deps.Runs.RecordResults(ledgerCtx, run.ID, results); err != nil {
		return summary, fmt.Errorf("record results: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("downloads interrupted: %w", err)
	}

	if summary.Succeeded > 0 {
		location, err := r.mirror(ctx, run, filesDir, logger)
		if err != nil {
			return summary, err
		}
		summary.S3Location = location
	}
	return summary, nil
}

func (r *Runner) fetchIndex(ctx context.Context) ([]domain.ArchiveRecord, error) {
	ic := r.cfg.IndexConfig()
	ic.Client = r.deps.Client
	ic.Logger = r.deps.Logger
	if r.deps.Metrics != nil {
		ic.Observer = r.deps.Metrics
	}
	return index.NewFetcher(ic).FetchRecords(ctx, r.cfg.Domain)
}

func (r *Runner) download(ctx context.Context, filesDir string, tasks []domain.DownloadTask) []domain.DownloadResult {
	cfg := downloader.Config{
		FilesDir:   filesDir,
		Threads:    r.cfg.Download.Threads,
		Structured: r.cfg.Download.Structured,
		Timeouts:   r.cfg.TimeoutPolicy(),
		Retry:      r.cfg.DownloadRetry(),
		UserAgent:  r.cfg.Download.UserAgent,
		Logger:     r.deps.Logger,
	}
	if r.deps.Metrics != nil {
		cfg.Observer = r.deps.Metrics
	}
	fetcher := downloader.NewHTTPFetcher(r.deps.Client, r.cfg.Download.UserAgent)
	return downloader.NewManager(cfg, fetcher).Run(ctx, tasks)
}

// mirror uploads the downloaded files when a bucket is configured and returns
// the s3:// location, or "" when mirroring is off.
func (r *Runner) mirror(ctx context.Context, run *domain.Run, filesDir string, logger *logrus.Entry) (string, error) {
	st := r.cfg.Storage
	if r.deps.Storage == nil || st.Bucket == "" {
		return "", nil
	}
	prefix := path.Join(st.KeyPrefix, run.Domain, run.ID)

	if st.Replace {
		if err := r.deps.Storage.DeletePrefix(ctx, st.Bucket, prefix); err != nil {
			return "", fmt.Errorf("clear mirror prefix: %w", err)
		}
	}

	opts := storage.UploadOptions{
		Bucket:      st.Bucket,
		KeyPrefix:   prefix,
		Concurrency: st.Concurrency,
	}
	opts.ProgressCallback = newUploadProgressLogger(logger)

	logger.Infof("upload started from %s", filesDir)
	location, err := r.deps.Storage.UploadDirectory(ctx, filesDir, opts)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}

	objects, err := r.deps.Storage.ListObjects(ctx, st.Bucket, prefix)
	if err != nil {
		logger.WithError(err).Warn("list mirrored objects")
	} else {
		logger.Infof("mirrored %d objects to %s", len(objects), location)
	}
	return location, nil
}

func newUploadProgressLogger(logger *logrus.Entry) func(done, total int64) {
	var lastLog time.Time
	return func(done, total int64) {
		now := time.Now()
		if now.Sub(lastLog) < 500*time.Millisecond && done != total {
			return
		}
		lastLog = now
		if total == 0 {
			logger.Infof("upload progress: %s uploaded", formatBytes(done))
			return
		}
		percent := float64(done) / float64(total) * 100
		logger.Infof("upload progress: %.1f%% (%s/%s)", percent, formatBytes(done), formatBytes(total))
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
