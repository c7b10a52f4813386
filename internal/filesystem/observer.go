package filesystem

import (
	"sync/atomic"
	"time"
)

// RetryEvent is one step of a stale-handle retry loop.
type RetryEvent string

const (
	RetryStale     RetryEvent = "stale"
	RetryAttempt   RetryEvent = "retry"
	RetryRecovered RetryEvent = "recovered"
	RetryExhausted RetryEvent = "exhausted"
)

// Observer receives filesystem timings. The metrics package implements it;
// filesystem cannot import metrics without a cycle.
type Observer interface {
	// ObserveOperation is called once per operation. For retried
	// operations d covers every attempt and the waits between them.
	ObserveOperation(volume, operation string, d time.Duration, err error)
	ObserveRetry(volume, operation string, event RetryEvent)
}

type observerBox struct{ Observer }

var currentObserver atomic.Pointer[observerBox]

// SetObserver installs o for the whole process. nil disables reporting.
func SetObserver(o Observer) {
	if o == nil {
		currentObserver.Store(nil)
		return
	}
	currentObserver.Store(&observerBox{o})
}

func observeOperation(volume, operation string, start time.Time, err error) {
	if box := currentObserver.Load(); box != nil {
		box.ObserveOperation(volume, operation, time.Since(start), err)
	}
}

func observeRetry(volume, operation string, event RetryEvent) {
	if box := currentObserver.Load(); box != nil {
		box.ObserveRetry(volume, operation, event)
	}
}
