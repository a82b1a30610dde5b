package enrich

import (
	"context"
	"errors"
	"sync"
)

type job func(ctx context.Context)

// WorkerPool runs jobs on a fixed number of goroutines.
type WorkerPool struct {
	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan job
	wg     sync.WaitGroup
	once   sync.Once
}

// NewWorkerPool creates a pool with the given concurrency and queue size.
func NewWorkerPool(parent context.Context, concurrency, queueSize int) (*WorkerPool, error) {
	if concurrency <= 0 || queueSize <= 0 {
		return nil, errors.New("worker pool requires positive concurrency and queue size")
	}
	ctx, cancel := context.WithCancel(parent)
	pool := &WorkerPool{
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan job, queueSize),
	}
	for range concurrency {
		pool.wg.Add(1)
		go pool.work()
	}
	return pool, nil
}

func (p *WorkerPool) work() {
	defer p.wg.Done()
	for fn := range p.jobs {
		if p.ctx.Err() != nil {
			continue
		}
		fn(p.ctx)
	}
}

// Submit queues a job. It blocks while the queue is full.
func (p *WorkerPool) Submit(ctx context.Context, fn job) error {
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	case p.jobs <- fn:
		return nil
	}
}

// Wait stops accepting jobs and blocks until queued jobs have run.
// Jobs still queued after the pool context is cancelled are skipped.
func (p *WorkerPool) Wait() {
	p.once.Do(func() { close(p.jobs) })
	p.wg.Wait()
	p.cancel()
}

// Stop cancels running jobs and waits for the workers to exit.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.Wait()
}
