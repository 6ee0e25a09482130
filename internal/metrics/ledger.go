package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"wayback-fetcher/internal/domain"
)

// RunLister is the part of the run ledger the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context) ([]domain.Run, error)
}

// LedgerCollector reports totals from the run ledger at scrape time, so a
// process that never runs the pipeline itself can still expose its results.
type LedgerCollector struct {
	runs    RunLister
	timeout time.Duration

	runsDesc       *prometheus.Desc
	downloadsDesc  *prometheus.Desc
	duplicatesDesc *prometheus.Desc
}

func NewLedgerCollector(runs RunLister) *LedgerCollector {
	c := &LedgerCollector{runs: runs, timeout: 5 * time.Second}
	c.runsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, "", "runs"),
		"Runs recorded in the ledger by status.",
		[]string{"status"}, nil,
	)
	c.downloadsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, "run", "downloads"),
		"Download results of finished runs by status.",
		[]string{"status"}, nil,
	)
	c.duplicatesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, "run", "duplicates_removed"),
		"Duplicate files removed by finished runs.",
		nil, nil,
	)
	return c
}

func (c *LedgerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.runsDesc
	ch <- c.downloadsDesc
	ch <- c.duplicatesDesc
}

func (c *LedgerCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	runs, err := c.runs.ListRuns(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.runsDesc, fmt.Errorf("list runs: %w", err))
		return
	}

	byStatus := map[domain.RunStatus]int{
		domain.RunStatusIndexing:    0,
		domain.RunStatusDownloading: 0,
		domain.RunStatusCompleted:   0,
		domain.RunStatusFailed:      0,
	}
	var succeeded, failed, duplicates int
	for _, run := range runs {
		byStatus[run.Status]++
		succeeded += run.Succeeded
		failed += run.Failed
		duplicates += run.DuplicatesRemoved
	}

	for status, n := range byStatus {
		ch <- prometheus.MustNewConstMetric(c.runsDesc, prometheus.GaugeValue, float64(n), string(status))
	}
	ch <- prometheus.MustNewConstMetric(c.downloadsDesc, prometheus.GaugeValue, float64(succeeded), string(domain.ResultSuccess))
	ch <- prometheus.MustNewConstMetric(c.downloadsDesc, prometheus.GaugeValue, float64(failed), string(domain.ResultFailed))
	ch <- prometheus.MustNewConstMetric(c.duplicatesDesc, prometheus.GaugeValue, float64(duplicates))
}
