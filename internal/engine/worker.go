package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// PoolMetrics is a snapshot of a pool's completion counters.
type PoolMetrics struct {
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// WorkerPool bounds how many workflow branches run at once. Each parallel
// group and each concurrently iterated loop drains its own pool before the
// step finishes, so pools are short-lived and never shared between steps.
type WorkerPool struct {
	slots chan struct{}
	quit  chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool

	completed atomic.Int64
	failed    atomic.Int64
}

// NewWorkerPool creates a pool running at most size branches concurrently.
func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{
		slots: make(chan struct{}, size),
		quit:  make(chan struct{}),
	}
}

// Submit blocks until a slot frees up, then runs fn on its own goroutine.
// The block is the backpressure point: callers submitting branches in order
// are paused here, which lets them observe sibling failures before launching
// the next branch. Waiting ends early on context cancellation or shutdown.
func (p *WorkerPool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolShutdown
	}

	// Shutdown may have raced the slot acquisition; wg.Add must not happen
	// after Shutdown's wg.Wait has started.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.failed.Add(1)
			}
			<-p.slots
			p.wg.Done()
		}()
		if err := fn(ctx); err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
	}()
	return nil
}

// Wait blocks until every submitted branch has finished.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Shutdown rejects further submissions and waits for in-flight branches.
// Safe to call more than once.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.quit)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics reports how many branches completed and how many failed.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}
