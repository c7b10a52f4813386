package workers

import (
	"context"
	"errors"
	"sync"

	"framegrab/internal/logging"
	"framegrab/internal/metrics"
)

// ErrPoolClosed is returned by Submit after Stop.
var ErrPoolClosed = errors.New("worker pool closed")

// Gate delays job starts. *memory.Monitor implements it.
type Gate interface {
	WaitIfPaused(ctx context.Context) bool
}

// Handler processes one job. The context is cancelled when the pool stops.
type Handler[T any] func(ctx context.Context, job T)

// Pool runs a fixed number of workers draining a bounded queue. Submit
// blocks while the queue is full.
type Pool[T any] struct {
	jobs     chan T
	handler  Handler[T]
	gate     Gate
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	workers  int
}

// NewPool starts workers goroutines that call handler for each submitted
// job. gate may be nil.
func NewPool[T any](workers, queueSize int, handler Handler[T], gate Gate) *Pool[T] {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool[T]{
		jobs:    make(chan T, queueSize),
		handler: handler,
		gate:    gate,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		workers: workers,
	}

	metrics.JobWorkers.Set(float64(workers))
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	logging.Debug("Worker pool started: %d workers, queue size %d", workers, queueSize)
	return p
}

// Submit enqueues job, waiting for space until ctx is done or the pool stops.
func (p *Pool[T]) Submit(ctx context.Context, job T) error {
	select {
	case <-p.done:
		return ErrPoolClosed
	default:
	}

	select {
	case p.jobs <- job:
		metrics.JobQueueDepth.Set(float64(len(p.jobs)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolClosed
	}
}

// Workers returns the number of workers.
func (p *Pool[T]) Workers() int {
	return p.workers
}

// QueueLen returns the number of jobs waiting for a worker.
func (p *Pool[T]) QueueLen() int {
	return len(p.jobs)
}

// Stop stops accepting jobs, drops whatever is still queued and waits for
// running handlers to return. Handlers see their context cancelled.
func (p *Pool[T]) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.cancel()
	})
	p.wg.Wait()

	dropped := 0
	for {
		select {
		case <-p.jobs:
			dropped++
			continue
		default:
		}
		break
	}
	if dropped > 0 {
		logging.Info("Worker pool stopped, %d queued jobs dropped", dropped)
	}
	metrics.JobQueueDepth.Set(0)
}

func (p *Pool[T]) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case job := <-p.jobs:
			metrics.JobQueueDepth.Set(float64(len(p.jobs)))
			if p.gate != nil && !p.gate.WaitIfPaused(p.ctx) {
				return
			}
			p.run(job)
		}
	}
}

func (p *Pool[T]) run(job T) {
	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	defer func() {
		if r := recover(); r != nil {
			logging.Error("Worker recovered from panic: %v", r)
		}
	}()

	p.handler(p.ctx, job)
}
