package metrics

import (
	"time"

	"framegrab/internal/filesystem"
)

type filesystemObserver struct{}

// NewFilesystemObserver returns the observer passed to filesystem.SetObserver.
func NewFilesystemObserver() filesystem.Observer {
	return filesystemObserver{}
}

func (filesystemObserver) ObserveOperation(volume, operation string, d time.Duration, err error) {
	FilesystemOperationDuration.WithLabelValues(volume, operation).Observe(d.Seconds())
	if err != nil {
		FilesystemOperationErrors.WithLabelValues(volume, operation).Inc()
	}
}

func (filesystemObserver) ObserveRetry(volume, operation string, event filesystem.RetryEvent) {
	FilesystemRetryEvents.WithLabelValues(volume, operation, string(event)).Inc()
}
