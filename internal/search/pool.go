package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPoolClosed is returned by futures submitted after Close.
var ErrPoolClosed = errors.New("search pool closed")

// Task is a blocking search call executed on a pool worker.
type Task func(ctx context.Context) ([]string, error)

type outcome struct {
	links []string
	err   error
}

type job struct {
	ctx  context.Context
	task Task
	done chan outcome
}

// Future is the pending result of a submitted Task.
type Future struct {
	done chan outcome
}

// Await blocks until the task finishes or ctx is done.
func (f *Future) Await(ctx context.Context) ([]string, error) {
	select {
	case res := <-f.done:
		return res.links, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("await fallback search: %w", ctx.Err())
	}
}

// Pool runs blocking tasks on a fixed number of workers, isolated from the
// goroutines that fan out primary searches.
type Pool struct {
	jobs      chan job
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewPool starts workers goroutines (default 2).
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 2
	}
	p := &Pool{jobs: make(chan job)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for j := range p.jobs {
		if err := j.ctx.Err(); err != nil {
			j.done <- outcome{err: err}
			continue
		}
		links, err := j.task(j.ctx)
		j.done <- outcome{links: links, err: err}
	}
}

// Submit queues task and returns its future. Submission waits for a free
// worker unless ctx is done first.
func (p *Pool) Submit(ctx context.Context, task Task) *Future {
	f := &Future{done: make(chan outcome, 1)}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		f.done <- outcome{err: ErrPoolClosed}
		return f
	}
	select {
	case p.jobs <- job{ctx: ctx, task: task, done: f.done}:
	case <-ctx.Done():
		f.done <- outcome{err: ctx.Err()}
	}
	return f
}

// Close stops accepting tasks and waits for running ones to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
		p.wg.Wait()
	})
}
