package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framegrab_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "framegrab_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "framegrab_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framegrab_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "framegrab_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "framegrab_db_transaction_duration_seconds",
			Help:    "Database transaction duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"result"}, // "commit" or "rollback"
	)

	DBRowsAffected = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "framegrab_db_rows_affected",
			Help:    "Rows affected by write statements",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
		},
		[]string{"operation"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "framegrab_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	DBSizeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "framegrab_db_size_bytes",
			Help: "Size of SQLite database files in bytes",
		},
		[]string{"file"}, // "main", "wal", "shm"
	)
)

// Scanner metrics
var (
	ScannerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framegrab_scanner_runs_total",
			Help: "Total number of library scans by outcome",
		},
		[]string{"status"}, // "complete", "cancelled", "error"
	)

	ScannerFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framegrab_scanner_files_total",
			Help: "Video files seen by the scanner, by classification",
		},
		[]string{"result"}, // "new", "changed", "unchanged", "removed"
	)

	ScannerLastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "framegrab_scanner_last_run_timestamp",
			Help: "Unix timestamp of the last completed scan",
		},
	)

	ScannerLastRunDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "framegrab_scanner_last_run_duration_seconds",
			Help: "Duration of the last scan in seconds",
		},
	)

	ScannerRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "framegrab_scanner_running",
			Help: "Whether a scan is currently running (1 = running, 0 = idle)",
		},
	)

	ScannerParallelWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "framegrab_scanner_parallel_workers",
			Help: "Number of directory walker workers used by the last scan",
		},
	)

	ScannerWatcherEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framegrab_scanner_watcher_events_total",
			Help: "Total number of filesystem watcher events",
		},
		[]string{"event_type"},
	)

	ScannerWatcherErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "framegrab_scanner_watcher_errors_total",
			Help: "Total number of filesystem watcher errors",
		},
	)

	ScannerWatchedDirectories = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "framegrab_scanner_watched_directories",
			Help: "Number of directories watched for changes",
		},
	)
)

// Extractor metrics
var (
	ExtractorInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framegrab_extractor_invocations_total",
			Help: "Frame extractions by outcome",
		},
		[]string{"status"}, // "success", "error", "timeout"
	)

	ExtractorDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "framegrab_extractor_duration_seconds",
			Help:    "Wall-clock time of a single frame extraction",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	ExtractorRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "framegrab_extractor_retries_total",
			Help: "Transient extraction failures that were retried",
		},
	)

	ExtractorOverlayFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "framegrab_extractor_overlay_fallbacks_total",
			Help: "Frames written without overlay because compositing failed",
		},
	)

	ExtractorTimestampClamps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "framegrab_extractor_timestamp_clamps_total",
			Help: "Requested timestamps clamped to the video duration",
		},
	)

	ExtractorProbeCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framegrab_extractor_probe_cache_total",
			Help: "ffprobe cache lookups",
		},
		[]string{"result"}, // "hit", "miss"
	)

	ExtractorProcessesRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "framegrab_extractor_processes_running",
			Help: "Number of ffmpeg/ffprobe subprocesses currently running",
		},
	)
)

// Job queue metrics
var (
	JobQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "framegrab_jobs_queue_depth",
			Help: "Extraction jobs waiting in the queue",
		},
	)

	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "framegrab_jobs_in_flight",
			Help: "Extraction jobs currently being processed by workers",
		},
	)

	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framegrab_jobs_total",
			Help: "Extraction jobs by outcome",
		},
		[]string{"outcome"}, // "persisted", "failed", "drained", "discarded"
	)

	JobWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "framegrab_jobs_workers",
			Help: "Number of extraction workers",
		},
	)

	GenerationBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framegrab_generation_batches_total",
			Help: "Screenshot generation batches started",
		},
		[]string{"trigger"}, // "manual", "auto", "fallback"
	)
)

// Persistence metrics
var (
	ScreenshotSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framegrab_screenshot_saves_total",
			Help: "Screenshot row writes by status",
		},
		[]string{"status"}, // "success", "error"
	)

	ScreenshotsCleared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "framegrab_screenshots_cleared_total",
			Help: "Screenshot rows removed by regeneration",
		},
	)
)

// Sync metrics
var (
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framegrab_sync_runs_total",
			Help: "Reconciliation runs by status",
		},
		[]string{"status"},
	)

	SyncFindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framegrab_sync_findings_total",
			Help: "Reconciliation findings and repairs by kind",
		},
		[]string{"kind"}, // "orphaned", "missing", "synced", "restored", "removed", "discarded"
	)
)

// Served image metrics
var (
	ImageResizeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framegrab_image_resize_total",
			Help: "Served image resizes by backend and status",
		},
		[]string{"backend", "status"},
	)

	ImageResizeCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framegrab_image_resize_cache_total",
			Help: "Resize cache lookups",
		},
		[]string{"result"},
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "framegrab_memory_usage_ratio",
			Help: "Heap allocation as a fraction of the configured limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "framegrab_memory_paused",
			Help: "Whether workers are paused for memory pressure (1 = paused)",
		},
	)

	MemoryGCPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "framegrab_memory_gc_pauses_total",
			Help: "Times processing was paused for memory pressure",
		},
	)
)

// Filesystem metrics
var (
	FilesystemOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "framegrab_filesystem_operation_duration_seconds",
			Help:    "Filesystem operation duration by volume and operation",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"volume", "operation"},
	)

	FilesystemOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framegrab_filesystem_operation_errors_total",
			Help: "Filesystem operation errors by volume and operation",
		},
		[]string{"volume", "operation"},
	)

	FilesystemRetryEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framegrab_filesystem_retry_events_total",
			Help: "Stale NFS handle retries by volume, operation and event (stale, retry, recovered, exhausted)",
		},
		[]string{"volume", "operation", "event"},
	)
)

// Library metrics
var (
	LibraryMoviesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "framegrab_library_movies_total",
			Help: "Number of indexed movies",
		},
	)

	LibraryScreenshotsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "framegrab_library_screenshots_total",
			Help: "Number of screenshot rows",
		},
	)

	LibraryMoviesWithoutScreenshots = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "framegrab_library_movies_without_screenshots",
			Help: "Movies with no screenshot rows",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "framegrab_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
