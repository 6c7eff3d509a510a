// Package queue buffers submissions between intake and the worker pool.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/assay/internal/domain/model"
	"github.com/okian/assay/pkg/metrics"
)

const defaultCapacity = 10000

// Job is one submission waiting for evaluation.
type Job struct {
	Submission model.Submission
	EnqueuedAt time.Time
}

// Queue provides non-blocking enqueue and channel-based dequeue.
type Queue interface {
	// Enqueue adds a job or fails with ErrQueueFull or ErrQueueClosed.
	Enqueue(ctx context.Context, sub model.Submission) error

	// Dequeue returns a channel of jobs. It is closed once the queue is
	// closed and drained, or when ctx ends.
	Dequeue(ctx context.Context) <-chan Job

	// Len returns the number of queued jobs.
	Len() int

	// Close stops accepting jobs. Queued jobs are still delivered.
	Close() error
}

// InMemoryQueue is a bounded channel queue.
type InMemoryQueue struct {
	jobs     chan Job
	capacity int
	now      func() time.Time

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.jobs = make(chan Job, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	q.observe()
	return q
}

// Enqueue adds a submission without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, sub model.Submission) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.rejected("closed")
		return ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		q.rejected("context_cancelled")
		return err
	}
	select {
	case q.jobs <- Job{Submission: sub, EnqueuedAt: q.now()}:
		metrics.RecordQueueEnqueue()
		q.observe()
		return nil
	default:
		q.rejected("queue_full")
		return ErrQueueFull
	}
}

// Dequeue streams queued jobs and records their wait time.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Job {
	out := make(chan Job)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case job, ok := <-q.jobs:
				if !ok {
					return
				}
				select {
				case out <- job:
					metrics.RecordQueueDequeue()
					metrics.RecordQueueProcessingLatency(float64(q.now().Sub(job.EnqueuedAt).Milliseconds()))
					q.observe()
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Len returns the number of queued jobs.
func (q *InMemoryQueue) Len() int { return len(q.jobs) }

// Close stops intake. It is safe to call more than once.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.jobs)
	q.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

func (q *InMemoryQueue) observe() {
	size := len(q.jobs)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}

func (q *InMemoryQueue) rejected(reason string) {
	metrics.RecordQueueEnqueueError()
	metrics.RecordErrorByComponent("queue", reason)
}
