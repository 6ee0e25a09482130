// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wayback-fetcher/internal/domain"
)

const Namespace = "wayback"

// Metrics implements the index page observer and the download observer.
type Metrics struct {
	IndexRecords      prometheus.Counter
	IndexPages        prometheus.Counter
	DownloadAttempts  *prometheus.CounterVec
	Downloads         *prometheus.CounterVec
	InFlight          prometheus.Gauge
	DuplicatesRemoved prometheus.Counter

	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
}

// New registers the metrics with reg, or a fresh registry when reg is nil.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		IndexRecords: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "index_records_total",
			Help:      "Rows received from the archive index.",
		}),
		IndexPages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "index_pages_total",
			Help:      "Index pages fetched.",
		}),
		DownloadAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "download_attempts_total",
			Help:      "Download attempts by endpoint class.",
		}, []string{"endpoint"}),
		Downloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "downloads_total",
			Help:      "Finished download tasks by variant and status.",
		}, []string{"variant", "status"}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "downloads_in_flight",
			Help:      "Download tasks currently being worked on.",
		}),
		DuplicatesRemoved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "duplicates_removed_total",
			Help:      "Downloaded files removed as duplicates.",
		}),
		registerer: reg,
		gatherer:   reg,
	}
}

func (m *Metrics) ObserveIndexPage(rows int) {
	m.IndexPages.Inc()
	m.IndexRecords.Add(float64(rows))
}

func (m *Metrics) TaskStarted(domain.DownloadTask) {
	m.InFlight.Inc()
}

func (m *Metrics) AttemptStarted(task domain.DownloadTask, _ int) {
	m.DownloadAttempts.WithLabelValues(string(task.Endpoint)).Inc()
}

func (m *Metrics) TaskFinished(res domain.DownloadResult) {
	m.InFlight.Dec()
	m.Downloads.WithLabelValues(string(res.Task.Variant), string(res.Status)).Inc()
}

func (m *Metrics) ObserveDuplicates(n int) {
	m.DuplicatesRemoved.Add(float64(n))
}

// Register adds another collector, such as a LedgerCollector, to the registry
// behind Handler.
func (m *Metrics) Register(c prometheus.Collector) error {
	return m.registerer.Register(c)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
