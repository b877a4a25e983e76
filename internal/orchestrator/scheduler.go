package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Scheduler runs job work in the background
type Scheduler interface {
	Schedule(fn func(ctx context.Context)) error
}

// ErrSchedulerClosed is returned by Schedule after Shutdown
var ErrSchedulerClosed = errors.New("scheduler is shut down")

// PoolScheduler runs at most maxConcurrent jobs at once. Extra jobs wait
// for a slot in their own goroutine.
type PoolScheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	slots  *semaphore.Weighted
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewPoolScheduler creates a PoolScheduler
func NewPoolScheduler(maxConcurrent int64, logger *slog.Logger) *PoolScheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PoolScheduler{
		ctx:    ctx,
		cancel: cancel,
		slots:  semaphore.NewWeighted(maxConcurrent),
		logger: logger,
	}
}

// Schedule queues fn. fn receives a context cancelled by Shutdown.
func (p *PoolScheduler) Schedule(fn func(ctx context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrSchedulerClosed
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.slots.Acquire(p.ctx, 1); err != nil {
			return
		}
		defer p.slots.Release(1)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("scheduled job panicked", "panic", r)
			}
		}()
		fn(p.ctx)
	}()
	return nil
}

// Shutdown stops accepting work and waits for running jobs. When ctx
// expires first, running jobs are cancelled and ctx's error is returned.
func (p *PoolScheduler) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
