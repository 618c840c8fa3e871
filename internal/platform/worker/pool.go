// Package worker provides a fixed-size worker pool. The prefetch
// strategy drains its queue through one so at most N fetches run at a
// time and a finishing worker immediately frees a slot for the next task.
package worker

import (
	"context"
	"sync"
)

// Job is a unit of work keyed by the cache key it serves.
type Job struct {
	// Key identifies the job in results and logs.
	Key string
	// Run is the function to execute.
	Run func(ctx context.Context) error
}

// Result is the outcome of one job.
type Result struct {
	Key string
	Err error
}

// Pool processes jobs with a fixed number of worker goroutines.
type Pool struct {
	workers  int
	jobQueue chan Job
	results  chan Result
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	closeOne sync.Once
}

// NewPool creates a pool with the given worker count and queue buffer.
// Workers start immediately.
func NewPool(ctx context.Context, workers int, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	poolCtx, cancel := context.WithCancel(ctx)

	p := &Pool{
		workers:  workers,
		jobQueue: make(chan Job, queueSize),
		results:  make(chan Result, queueSize+workers),
		ctx:      poolCtx,
		cancel:   cancel,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			err := job.Run(p.ctx)
			// Drop the result rather than block a worker on a slow consumer.
			select {
			case p.results <- Result{Key: job.Key, Err: err}:
			default:
			}
		}
	}
}

// Submit queues a job, blocking while the queue is full. Returns the
// context error if the pool is shut down.
func (p *Pool) Submit(job Job) error {
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.jobQueue <- job:
		return nil
	}
}

// Results returns the channel of job outcomes.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Workers returns the configured worker count.
func (p *Pool) Workers() int {
	return p.workers
}

// QueueLen returns the number of queued jobs not yet picked up.
func (p *Pool) QueueLen() int {
	return len(p.jobQueue)
}

// Close stops accepting jobs and waits for workers to drain.
func (p *Pool) Close() {
	p.closeOne.Do(func() {
		p.cancel()
		close(p.jobQueue)
		p.wg.Wait()
		close(p.results)
	})
}
