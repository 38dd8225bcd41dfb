// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package shield

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// =============================================================================
// Query Worker Pool
// =============================================================================

// Pool runs query work on a fixed set of workers with a bounded queue.
// Work past the queue depth is rejected, not buffered: backpressure
// reaches the caller as ErrOverloaded.
//
// Thread Safety: All methods are safe for concurrent use.
type Pool struct {
	tasks   chan func()
	quit    chan struct{}
	wg      sync.WaitGroup
	workers int
	active  atomic.Int64

	rejected metric.Int64Counter
}

// NewPool starts a pool with the given worker count and queue depth.
func NewPool(workers, queueDepth int) *Pool {
	if workers <= 0 {
		workers = 32
	}
	if queueDepth <= 0 {
		queueDepth = 128
	}
	p := &Pool{
		tasks:   make(chan func(), queueDepth),
		quit:    make(chan struct{}),
		workers: workers,
	}
	meter := otel.Meter("shield.service")
	p.rejected, _ = meter.Int64Counter("shield.pool.rejected",
		metric.WithDescription("Query requests rejected by the worker pool"))

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case task := <-p.tasks:
			p.active.Add(1)
			task()
			p.active.Add(-1)
		}
	}
}

// Do runs fn on a pool worker and waits for it to finish.
//
// Outputs:
//
//	error - ErrOverloaded when the queue is full, ErrShuttingDown
//	after Shutdown, or the context error if the deadline expires
//	before fn completes. fn observes the same context and is expected
//	to abandon work cooperatively.
func (p *Pool) Do(ctx context.Context, fn func(context.Context)) error {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn(ctx)
	}
	select {
	case <-p.quit:
		return ErrShuttingDown
	case p.tasks <- task:
	default:
		if p.rejected != nil {
			p.rejected.Add(ctx, 1)
		}
		return ErrOverloaded
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrShuttingDown
	}
}

// QueueDepth returns the number of queued tasks.
func (p *Pool) QueueDepth() int { return len(p.tasks) }

// QueueCapacity returns the queue bound.
func (p *Pool) QueueCapacity() int { return cap(p.tasks) }

// Active returns the number of workers currently running a task.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Shutdown stops the workers. Queued tasks are dropped; their waiters
// unblock with ErrShuttingDown.
func (p *Pool) Shutdown() {
	close(p.quit)
	p.wg.Wait()
}
