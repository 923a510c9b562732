// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Directory classification outcomes, used as the "outcome" label.
const (
	OutcomeSkip    = "skip"
	OutcomeFull    = "full"
	OutcomePartial = "partial"
)

// Crawl metrics
var (
	CrawlRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dicomcat_crawl_runs_total",
			Help: "Total number of crawl runs by final status",
		},
		[]string{"status"},
	)

	CrawlDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dicomcat_crawl_duration_seconds",
			Help:    "Duration of crawl runs in seconds",
			Buckets: []float64{1, 5, 30, 60, 300, 900, 1800, 3600, 7200, 21600},
		},
	)

	CrawlIsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dicomcat_crawl_running",
			Help: "Whether a crawl is currently running (1 = running, 0 = idle)",
		},
	)

	DirectoriesClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dicomcat_directories_classified_total",
			Help: "Directories seen by the classifier, by outcome",
		},
		[]string{"outcome"},
	)

	DirectoriesExcluded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dicomcat_directories_excluded_total",
			Help: "Directories dropped by the path exclusion list",
		},
	)
)

// Scanner metrics
var (
	FilesCatalogued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dicomcat_files_catalogued_total",
			Help: "Files whose header was read and written to dicomdb",
		},
	)

	FilesErrored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dicomcat_files_errored_total",
			Help: "Files whose header could not be read",
		},
	)

	IdentifierFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dicomcat_identifier_fallbacks_total",
			Help: "Identifier fields substituted with the file path",
		},
		[]string{"field"},
	)

	HeaderReadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dicomcat_header_read_duration_seconds",
			Help:    "Time spent reading one file header",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)
)

// Store metrics
var (
	StoreRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dicomcat_store_write_retries_total",
			Help: "Store writes retried after SQLITE_BUSY or SQLITE_LOCKED",
		},
		[]string{"table"},
	)

	StoreWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dicomcat_store_write_duration_seconds",
			Help:    "Insert-if-absent duration including retries",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"table"},
	)
)
