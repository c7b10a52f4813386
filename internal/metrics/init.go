package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	for _, status := range []string{"complete", "cancelled", "error"} {
		ScannerRunsTotal.WithLabelValues(status)
	}
	for _, result := range []string{"new", "changed", "unchanged", "removed"} {
		ScannerFilesTotal.WithLabelValues(result)
	}

	for _, status := range []string{"success", "error", "timeout"} {
		ExtractorInvocationsTotal.WithLabelValues(status)
	}
	for _, result := range []string{"hit", "miss"} {
		ExtractorProbeCache.WithLabelValues(result)
		ImageResizeCache.WithLabelValues(result)
	}

	for _, outcome := range []string{"persisted", "failed", "drained", "discarded"} {
		JobsTotal.WithLabelValues(outcome)
	}
	for _, trigger := range []string{"manual", "auto", "fallback"} {
		GenerationBatchesTotal.WithLabelValues(trigger)
	}

	for _, status := range []string{"success", "error"} {
		ScreenshotSavesTotal.WithLabelValues(status)
		SyncRunsTotal.WithLabelValues(status)
	}
	for _, kind := range []string{"orphaned", "missing", "synced", "restored", "removed", "discarded"} {
		SyncFindingsTotal.WithLabelValues(kind)
	}

	for _, backend := range []string{"vips", "imaging"} {
		ImageResizeTotal.WithLabelValues(backend, "success")
		ImageResizeTotal.WithLabelValues(backend, "error")
	}

	volumes := []string{"media", "screenshots", "database", "unknown"}
	for _, vol := range volumes {
		for _, op := range []string{"stat", "open", "write", "readdir"} {
			FilesystemOperationDuration.WithLabelValues(vol, op)
			FilesystemOperationErrors.WithLabelValues(vol, op)
		}
		for _, op := range []string{"stat", "open"} {
			for _, ev := range []string{"stale", "retry", "recovered", "exhausted"} {
				FilesystemRetryEvents.WithLabelValues(vol, op, ev)
			}
		}
	}

	for _, op := range []string{"migrate", "upsert_movie", "delete_movies", "get_movie",
		"list_movies", "save_screenshot", "clear_screenshots", "delete_screenshot", "get_screenshot",
		"list_screenshots", "count_screenshots", "set_representative", "stats",
		"get_metadata", "set_metadata"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}

	for _, t := range []string{"commit", "rollback"} {
		DBTransactionDuration.WithLabelValues(t)
	}
}
