// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package traversal implements bounded structural pattern search over the
// fraud graph: fan-out/fan-in stars, temporal laundering cycles, bounded
// path tracing, bipartite collusion pairs, and shared-attribute similarity
// clusters.
//
// Every traversal is bounded twice: by a visited-node budget and by the
// caller's context deadline. When either bound is hit the traversal stops
// at its next bounds check and returns the partial result with
// Truncated=true. Traversals hold no locks and never mutate graph state,
// so cooperative abandonment is always safe.
package traversal

import (
	"context"
	"time"

	"github.com/AleutianAI/AleutianShield/services/shield/graph"
	"go.opentelemetry.io/otel"
)

// Default traversal bounds.
const (
	// DefaultMaxVisited is the default visited-node budget per traversal.
	DefaultMaxVisited = 100_000

	// DefaultTimeout bounds a traversal when the caller's context carries
	// no deadline.
	DefaultTimeout = 2 * time.Second
)

var tracer = otel.Tracer("shield.traversal")

// Options configures engine-wide traversal bounds.
type Options struct {
	// MaxVisited is the visited-node budget per traversal.
	// Default: 100,000
	MaxVisited int

	// Timeout bounds traversals whose context has no deadline.
	// Default: 2s
	Timeout time.Duration
}

// Validate checks options and applies defaults for invalid values.
func (o *Options) Validate() {
	if o.MaxVisited <= 0 {
		o.MaxVisited = DefaultMaxVisited
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxVisited: DefaultMaxVisited,
		Timeout:    DefaultTimeout,
	}
}

// Engine runs pattern searches against the live store.
//
// Thread Safety: Safe for concurrent use. The engine holds only a
// read-only store reference and per-call state.
type Engine struct {
	store *graph.Store
	opts  Options
}

// NewEngine creates a traversal engine over the given store.
func NewEngine(store *graph.Store, opts Options) *Engine {
	opts.Validate()
	return &Engine{store: store, opts: opts}
}

// Match is one reported pattern instance: an ordered node sequence (a
// cycle or path), the edges traversed, the aggregated amount, and the
// elapsed time span. Ephemeral, produced per query, never persisted.
type Match struct {
	// NodeIDs is the ordered node sequence.
	NodeIDs []string `json:"node_ids"`

	// Edges are the traversed edges, in path order.
	Edges []*graph.Edge `json:"-"`

	// TotalAmount is the sum of transaction amounts along the match.
	TotalAmount float64 `json:"total_amount"`

	// SpanSeconds is the elapsed time between the earliest and latest
	// edge timestamp, in seconds.
	SpanSeconds float64 `json:"span_seconds"`
}

// TimeWindow restricts a pattern search to edges inside [From, To].
// A zero bound is open.
type TimeWindow struct {
	From time.Time
	To   time.Time
}

// Contains reports whether ts falls inside the window.
func (w TimeWindow) Contains(ts time.Time) bool {
	if !w.From.IsZero() && ts.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && ts.After(w.To) {
		return false
	}
	return true
}

// budget tracks the two traversal bounds: visited nodes and wall clock.
//
// Checks are cooperative; traversals call spent() at every expansion and
// stop with a truncated result when it reports true.
type budget struct {
	visited    int
	maxVisited int
	ctx        context.Context
	cancel     context.CancelFunc
}

// newBudget derives a bounded context and visit counter for one traversal.
func (e *Engine) newBudget(ctx context.Context) *budget {
	b := &budget{maxVisited: e.opts.MaxVisited, ctx: ctx}
	if _, ok := ctx.Deadline(); !ok {
		b.ctx, b.cancel = context.WithTimeout(ctx, e.opts.Timeout)
	}
	return b
}

// close releases the derived context, if any.
func (b *budget) close() {
	if b.cancel != nil {
		b.cancel()
	}
}

// spend records one node expansion and reports whether a bound is hit.
func (b *budget) spend() (exhausted bool) {
	b.visited++
	if b.visited > b.maxVisited {
		return true
	}
	if b.visited%256 == 0 && b.ctx.Err() != nil {
		return true
	}
	return false
}

// exhausted reports whether a bound is already hit without spending.
func (b *budget) exhausted() bool {
	return b.visited > b.maxVisited || b.ctx.Err() != nil
}

// spanSeconds computes the elapsed seconds between the earliest and
// latest timestamp on the given edges.
func spanSeconds(edges []*graph.Edge) float64 {
	var lo, hi time.Time
	for _, e := range edges {
		ts, ok := e.Timestamp()
		if !ok {
			continue
		}
		if lo.IsZero() || ts.Before(lo) {
			lo = ts
		}
		if hi.IsZero() || ts.After(hi) {
			hi = ts
		}
	}
	if lo.IsZero() || hi.IsZero() {
		return 0
	}
	return hi.Sub(lo).Seconds()
}

// totalAmount sums transaction amounts over the given edges.
func totalAmount(edges []*graph.Edge) float64 {
	var sum float64
	for _, e := range edges {
		sum += e.Amount()
	}
	return sum
}
