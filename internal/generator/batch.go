package generator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Batch states reported by Progress.
const (
	StateRunning   = "running"
	StateComplete  = "complete"
	StateCancelled = "cancelled"
)

// Batch triggers, used as the metrics label.
const (
	TriggerManual   = "manual"
	TriggerAuto     = "auto"
	TriggerFallback = "fallback"
)

// batch is one generation run for one movie.
type batch struct {
	id        string
	movieID   int64
	trigger   string
	total     int
	startedAt time.Time

	done       atomic.Int32
	failed     atomic.Int32
	skipped    atomic.Int32
	cancelled  atomic.Bool
	superseded atomic.Bool
	submitted  atomic.Int32
	produced   atomic.Bool
	logged     atomic.Bool
	finishedAt atomic.Int64 // unix nanos, set by settle

	ctx      context.Context
	stop     context.CancelFunc
	stopOnce sync.Once
}

func newBatch(parent context.Context, movieID int64, trigger string, total int) *batch {
	ctx, stop := context.WithCancel(parent)
	return &batch{
		id:        uuid.NewString(),
		movieID:   movieID,
		trigger:   trigger,
		total:     total,
		startedAt: time.Now().UTC(),
		ctx:       ctx,
		stop:      stop,
	}
}

// cancel stops the producer. Queued jobs are skipped; running ones finish.
func (b *batch) cancel() {
	b.stopOnce.Do(func() {
		b.cancelled.Store(true)
		b.stop()
	})
}

// supersede cancels the batch and marks its late results for discarding.
func (b *batch) supersede() {
	b.superseded.Store(true)
	b.cancel()
}

// finished reports whether the producer has stopped and every job it
// submitted has settled.
func (b *batch) finished() bool {
	if !b.produced.Load() {
		return false
	}
	settled := b.done.Load() + b.failed.Load() + b.skipped.Load()
	return settled >= b.submitted.Load()
}

// BatchStatus is a snapshot of a batch.
type BatchStatus struct {
	ID        string    `json:"id"`
	Trigger   string    `json:"trigger"`
	State     string    `json:"state"`
	Total     int       `json:"total"`
	Done      int       `json:"done"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Finished  bool      `json:"finished"`
	StartedAt time.Time `json:"startedAt"`
}

func (b *batch) status() BatchStatus {
	state := StateRunning
	switch {
	case b.cancelled.Load():
		state = StateCancelled
	case b.finished():
		state = StateComplete
	}
	return BatchStatus{
		ID:        b.id,
		Trigger:   b.trigger,
		State:     state,
		Total:     b.total,
		Done:      int(b.done.Load()),
		Failed:    int(b.failed.Load()),
		Skipped:   int(b.skipped.Load()),
		Finished:  b.finished(),
		StartedAt: b.startedAt,
	}
}
