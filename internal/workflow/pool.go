package workflow

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueFull is returned when the workflow queue cannot accept more work.
var ErrQueueFull = errors.New("workflow queue is full")

// Pool runs queued workflow jobs on a fixed set of workers, so a burst of
// workflow launches cannot exhaust system threads. Submission never blocks.
type Pool struct {
	queue chan func()
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool

	logger *slog.Logger
}

// NewPool starts workers goroutines consuming a queue of the given depth.
func NewPool(workers, queueDepth int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}

	p := &Pool{
		queue:  make(chan func(), queueDepth),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit enqueues a job, returning ErrQueueFull when the queue is at
// capacity or the pool has been closed.
func (p *Pool) Submit(job func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrQueueFull
	}
	select {
	case p.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs and blocks until queued jobs finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.queue {
		p.run(job)
	}
}

// run executes one job, recovering panics so a buggy workflow cannot take
// down its worker.
func (p *Pool) run(job func()) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("workflow job panicked", "panic", rec)
		}
	}()
	job()
}
