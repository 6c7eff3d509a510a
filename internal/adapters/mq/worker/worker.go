// Package worker drains the submission queue with a fixed pool of workers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/okian/assay/internal/adapters/mq/queue"
	"github.com/okian/assay/internal/domain/model"
	"github.com/okian/assay/pkg/logger"
	"github.com/okian/assay/pkg/metrics"
)

const defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()

// ErrShutdownTimeout is returned when workers do not finish in time.
var ErrShutdownTimeout = errors.New("worker shutdown timed out")

// Queue is where workers read jobs from.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Processor handles one submission.
type Processor interface {
	Process(ctx context.Context, sub model.Submission) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, sub model.Submission) error

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, sub model.Submission) error { return f(ctx, sub) }

// InMemoryWorker runs jobs one at a time until the queue closes or ctx ends.
type InMemoryWorker struct {
	queue     Queue
	processor Processor
	name      string
	logger    logger.Logger
	done      chan struct{}
}

// NewInMemoryWorker creates a worker.
func NewInMemoryWorker(q Queue, p Processor, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     q,
		processor: p,
		name:      "worker",
		logger:    logger.Get().Named("worker"),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes jobs until the queue is drained or ctx is cancelled.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)
	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			w.handle(ctx, job)
		}
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

func (w *InMemoryWorker) handle(ctx context.Context, job queue.Job) {
	start := time.Now()
	metrics.AddWorkerActive(1)
	err := w.processor.Process(ctx, job.Submission)
	metrics.AddWorkerActive(-1)
	metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "process")
		w.logger.Error(ctx, "processing submission failed",
			logger.String("worker", w.name),
			logger.String("submission_id", job.Submission.ID),
			logger.Error(err))
	}
}

// Pool manages a fixed set of workers over one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates workerCount workers. A non-positive count uses twice the
// number of CPUs.
func NewPool(workerCount int, q Queue, p Processor) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}
	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range pool.workers {
		name := "worker-" + strconv.Itoa(i)
		pool.workers[i] = NewInMemoryWorker(q, p, WithName(name), WithLogger(pool.logger.Named(name)))
	}
	metrics.UpdateWorkerCount(workerCount)
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start launches every worker.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	p.logger.Info(ctx, "worker pool started", logger.Int("workers", len(p.workers)))
}

// Shutdown closes the queue and waits for workers to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}
	for i, w := range p.workers {
		select {
		case <-w.Done():
		case <-ctx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return fmt.Errorf("%w: %w", ErrShutdownTimeout, ctx.Err())
		}
	}
	p.logger.Info(ctx, "worker pool stopped")
	return nil
}
