// Package metrics provides Prometheus instrumentation for framegrab.
//
// All metrics are registered with promauto at package init and prefixed
// with "framegrab_". They are grouped by subsystem:
//
//   - HTTP: request counts, durations and in-flight requests
//   - Database: query counts and durations, transactions, connections
//   - Scanner: runs, per-file classification, watcher events
//   - Extractor: ffmpeg invocations, retries, overlay fallbacks, clamps
//   - Jobs: queue depth, in-flight jobs, outcomes, generation batches
//   - Persistence and sync: saves, clears, reconciliation findings
//   - Memory and filesystem: backpressure state, NFS retry behaviour
//   - Library: movie and screenshot totals refreshed by [Collector]
//
// [InitializeMetrics] pre-creates label combinations so dashboards see
// zero values before the first event.
package metrics
