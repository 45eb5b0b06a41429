package core

// pool.go implements admission control for async imports.
//
// The pool runs at most maxConcurrent executors at once. Further work waits
// in a bounded queue; once the queue is full TrySubmit fails fast with
// ErrTooManyImports so the gateway can reject the request before creating a
// job. Every task runs with panic recovery so a broken task cannot take a
// worker slot down with it.
//
// Shutdown drains gracefully: it closes the queue, waits for queued and
// running tasks, and cancels the tasks' context only when the caller's
// deadline runs out.

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrTooManyImports is returned when the import queue is full.
// Clients should retry after a short delay.
var ErrTooManyImports = errors.New("too many imports in progress, please try again later")

// ErrPoolClosed is returned when submitting to a pool that is shutting down.
var ErrPoolClosed = errors.New("import pool is shut down")

const (
	// DefaultMaxConcurrentImports is the default number of parallel executors.
	DefaultMaxConcurrentImports = 4

	// DefaultMaxQueuedImports is the default number of imports waiting for a worker.
	DefaultMaxQueuedImports = 32
)

// ExecutorPool is a bounded worker pool with a bounded queue.
type ExecutorPool struct {
	queue     chan func(context.Context)
	workers   int
	maxQueued int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.RWMutex
	active  int
	pending int
	closed  bool
}

// NewExecutorPool starts maxConcurrent workers bound to ctx. Cancelling ctx
// is seen by running tasks; queued tasks still run and observe the
// cancelled context.
func NewExecutorPool(ctx context.Context, maxConcurrent, maxQueued int) *ExecutorPool {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxQueued < 0 {
		maxQueued = DefaultMaxQueuedImports
	}

	ctx, cancel := context.WithCancel(ctx)
	// The channel holds every admitted task that has not started yet, so it
	// is sized for a full queue plus tasks handed to idle workers.
	p := &ExecutorPool{
		queue:     make(chan func(context.Context), maxConcurrent+maxQueued),
		workers:   maxConcurrent,
		maxQueued: maxQueued,
		ctx:       ctx,
		cancel:    cancel,
	}

	p.wg.Add(maxConcurrent)
	for i := 0; i < maxConcurrent; i++ {
		go p.worker()
	}
	return p
}

// TrySubmit queues task without blocking. It returns ErrTooManyImports when
// every worker is busy and the queue is full.
func (p *ExecutorPool) TrySubmit(task func(context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	if p.active+p.pending >= p.workers+p.maxQueued {
		return ErrTooManyImports
	}

	select {
	case p.queue <- task:
		p.pending++
		return nil
	default:
		return ErrTooManyImports
	}
}

// Admit reports whether TrySubmit would currently accept a task.
func (p *ExecutorPool) Admit() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	if p.active+p.pending >= p.workers+p.maxQueued {
		return ErrTooManyImports
	}
	return nil
}

func (p *ExecutorPool) worker() {
	defer p.wg.Done()
	for task := range p.queue {
		p.mu.Lock()
		p.pending--
		p.active++
		p.mu.Unlock()

		p.run(task)

		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}
}

func (p *ExecutorPool) run(task func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in import worker", "panic", r)
		}
	}()
	task(p.ctx)
}

// ActiveCount returns the number of running tasks.
func (p *ExecutorPool) ActiveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

// QueuedCount returns the number of tasks waiting for a worker.
func (p *ExecutorPool) QueuedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pending
}

// WaitForDrain blocks until no task is queued or running, or ctx is done.
func (p *ExecutorPool) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		p.mu.RLock()
		idle := p.active == 0 && p.pending == 0
		p.mu.RUnlock()
		if idle {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown stops accepting work and waits for queued and running tasks to
// finish. The tasks' context is cancelled only once ctx is done, so running
// imports are asked to stop only when the drain deadline has passed.
func (p *ExecutorPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	err := p.WaitForDrain(ctx)
	p.cancel()
	return err
}

// PoolStatus is a snapshot of the pool's current state.
type PoolStatus struct {
	Active        int `json:"active"`
	Queued        int `json:"queued"`
	MaxConcurrent int `json:"max_concurrent"`
	MaxQueued     int `json:"max_queued"`
}

// Status returns the current pool state for monitoring.
func (p *ExecutorPool) Status() PoolStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return PoolStatus{
		Active:        p.active,
		Queued:        p.pending,
		MaxConcurrent: p.workers,
		MaxQueued:     p.maxQueued,
	}
}
