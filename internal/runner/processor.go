// Package runner provides the queue processors that decouple event intake
// from execution. Each processor owns a buffered queue and a fixed pool of
// workers; scheduling is cheap so the event loop never waits on Snowflake.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrStopped is returned by Schedule after Stop.
var ErrStopped = fmt.Errorf("processor stopped")

// Processor runs queued items through a handler on a fixed worker pool.
type Processor[T any] struct {
	name    string
	workers int
	handler func(context.Context, T)
	log     *slog.Logger
	queue   chan T

	mu      sync.RWMutex
	stopped bool
	group   *errgroup.Group
}

// New creates a processor. Items scheduled beyond the buffer block the
// caller until a worker frees a slot.
func New[T any](name string, workers, buffer int, handler func(context.Context, T), log *slog.Logger) *Processor[T] {
	if workers < 1 {
		workers = 1
	}
	if buffer < 1 {
		buffer = 1
	}
	return &Processor[T]{
		name:    name,
		workers: workers,
		handler: handler,
		log:     log,
		queue:   make(chan T, buffer),
	}
}

// Start launches the worker pool. The context bounds handler execution;
// cancelling it abandons queued work.
func (p *Processor[T]) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.group != nil {
		return
	}
	group, groupCtx := errgroup.WithContext(ctx)
	p.group = group
	for i := 0; i < p.workers; i++ {
		group.Go(func() error {
			p.run(groupCtx)
			return nil
		})
	}
	p.log.Info("processor started", "name", p.name, "workers", p.workers)
}

// Stop closes the queue, lets the workers drain what is already scheduled,
// and waits for them to exit.
func (p *Processor[T]) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	group := p.group
	p.mu.Unlock()

	if group != nil {
		_ = group.Wait()
	}
	p.log.Info("processor stopped", "name", p.name)
}

// Schedule queues one item. It blocks while the buffer is full and fails
// only after Stop or when ctx expires first.
func (p *Processor[T]) Schedule(ctx context.Context, item T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.queue <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued items.
func (p *Processor[T]) Pending() int { return len(p.queue) }

func (p *Processor[T]) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-p.queue:
			if !ok {
				return
			}
			p.handle(ctx, item)
		}
	}
}

// handle isolates handler panics so one poisoned item cannot take down the
// worker pool.
func (p *Processor[T]) handle(ctx context.Context, item T) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("processor handler panicked", "name", p.name, "panic", r)
		}
	}()
	p.handler(ctx, item)
}
