// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package traversal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianShield/services/shield/graph"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Temporal Cycle Detection
// =============================================================================

// Cycle detection defaults.
const (
	// DefaultMinHops is the default minimum cycle length.
	DefaultMinHops = 3

	// DefaultMaxHops is the default maximum cycle length.
	DefaultMaxHops = 6
)

// CycleOptions configures cycle detection.
type CycleOptions struct {
	// MinHops is the minimum cycle length in edges. Default: 3
	MinHops int

	// MaxHops is the maximum cycle length in edges. Default: 6
	MaxHops int

	// MinEdgeAmount prunes edges below this amount during traversal.
	MinEdgeAmount float64

	// MinTotalAmount suppresses cycles whose aggregate amount is below
	// this value, checked at close time.
	MinTotalAmount float64
}

// Validate checks options and applies defaults for invalid values.
func (o *CycleOptions) Validate() {
	if o.MinHops <= 0 {
		o.MinHops = DefaultMinHops
	}
	if o.MaxHops <= 0 {
		o.MaxHops = DefaultMaxHops
	}
	if o.MaxHops < o.MinHops {
		o.MaxHops = o.MinHops
	}
}

// CycleResult contains the cycles found from one start node.
type CycleResult struct {
	// Cycles are the canonical cycles found. Rotations of the same cycle
	// are reported once, starting at the lexicographically smallest id.
	Cycles []Match

	// Truncated is true when a traversal bound stopped the search early.
	Truncated bool

	// Visited is the number of node expansions spent.
	Visited int

	// Elapsed is the wall-clock search duration.
	Elapsed time.Duration
}

// DetectCycles finds temporal transaction cycles through a start node.
//
// Description:
//
//	Depth-bounded DFS over TRANSACTION out-edges. A path only extends
//	when the next edge's timestamp is at or after the previous edge's
//	timestamp, and when the target is unvisited on the current path,
//	except for the closing hop back to the start. Cycles are reported
//	at close, canonicalized by rotating to the lexicographically
//	smallest node id, and deduplicated. Edges without a timestamp do
//	not participate.
//
// Inputs:
//
//	ctx - Carries the request deadline. Must not be nil.
//	start - Node id the cycles must pass through. Must exist.
//	opts - Hop bounds and amount filters.
//
// Outputs:
//
//	*CycleResult - Canonical cycles, possibly partial when Truncated.
//	error - Non-nil only if the start node is unknown.
//
// Thread Safety: Safe for concurrent use with ongoing ingestion.
func (e *Engine) DetectCycles(ctx context.Context, start string, opts CycleOptions) (*CycleResult, error) {
	opts.Validate()
	ctx, span := tracer.Start(ctx, "traversal.DetectCycles",
		trace.WithAttributes(
			attribute.String("start", start),
			attribute.Int("min_hops", opts.MinHops),
			attribute.Int("max_hops", opts.MaxHops),
		),
	)
	defer span.End()

	if !e.store.HasNode(start) {
		err := fmt.Errorf("cycle start: %w: %s", graph.ErrNodeNotFound, start)
		span.RecordError(err)
		return nil, err
	}

	began := time.Now()
	b := e.newBudget(ctx)
	defer b.close()

	search := &cycleSearch{
		engine: e,
		opts:   opts,
		start:  start,
		budget: b,
		onPath: map[string]bool{start: true},
		seen:   make(map[string]struct{}),
		result: &CycleResult{},
	}
	search.pathNodes = append(search.pathNodes, start)
	search.dfs(start, time.Time{})

	search.result.Visited = b.visited
	search.result.Elapsed = time.Since(began)
	span.SetAttributes(
		attribute.Int("cycles", len(search.result.Cycles)),
		attribute.Bool("truncated", search.result.Truncated),
	)
	return search.result, nil
}

// cycleSearch is the per-call DFS state.
type cycleSearch struct {
	engine    *Engine
	opts      CycleOptions
	start     string
	budget    *budget
	onPath    map[string]bool
	pathNodes []string
	pathEdges []*graph.Edge
	seen      map[string]struct{}
	result    *CycleResult
}

// dfs extends the current path from cur. lastTS is the timestamp of the
// most recent edge on the path; the zero value means no edge yet.
func (s *cycleSearch) dfs(cur string, lastTS time.Time) {
	if s.budget.spend() {
		s.result.Truncated = true
		return
	}

	for nbr, edge := range s.engine.store.Neighbors(cur, graph.EdgeTypeTransaction, graph.DirectionOut) {
		if s.budget.exhausted() {
			s.result.Truncated = true
			return
		}
		ts, ok := edge.Timestamp()
		if !ok {
			continue
		}
		if !lastTS.IsZero() && ts.Before(lastTS) {
			continue
		}
		if s.opts.MinEdgeAmount > 0 && edge.Amount() < s.opts.MinEdgeAmount {
			continue
		}

		hops := len(s.pathEdges) + 1
		if nbr == s.start {
			if hops >= s.opts.MinHops && hops <= s.opts.MaxHops {
				s.close(edge)
			}
			continue
		}
		if s.onPath[nbr] || hops >= s.opts.MaxHops {
			continue
		}

		s.onPath[nbr] = true
		s.pathNodes = append(s.pathNodes, nbr)
		s.pathEdges = append(s.pathEdges, edge)
		s.dfs(nbr, ts)
		s.pathEdges = s.pathEdges[:len(s.pathEdges)-1]
		s.pathNodes = s.pathNodes[:len(s.pathNodes)-1]
		delete(s.onPath, nbr)
	}
}

// close reports a cycle ending with the given closing edge, if its
// canonical form is new and it passes the total-amount filter.
func (s *cycleSearch) close(closing *graph.Edge) {
	edges := make([]*graph.Edge, 0, len(s.pathEdges)+1)
	edges = append(edges, s.pathEdges...)
	edges = append(edges, closing)

	total := totalAmount(edges)
	if s.opts.MinTotalAmount > 0 && total < s.opts.MinTotalAmount {
		return
	}

	nodes := canonicalRotation(s.pathNodes)
	key := strings.Join(nodes, "\x00")
	if _, dup := s.seen[key]; dup {
		return
	}
	s.seen[key] = struct{}{}

	s.result.Cycles = append(s.result.Cycles, Match{
		NodeIDs:     nodes,
		Edges:       edges,
		TotalAmount: total,
		SpanSeconds: spanSeconds(edges),
	})
}

// canonicalRotation rotates a cycle's node sequence so it starts at the
// lexicographically smallest id. The input is not modified.
func canonicalRotation(nodes []string) []string {
	if len(nodes) == 0 {
		return nil
	}
	min := 0
	for i := 1; i < len(nodes); i++ {
		if nodes[i] < nodes[min] {
			min = i
		}
	}
	out := make([]string, 0, len(nodes))
	out = append(out, nodes[min:]...)
	out = append(out, nodes[:min]...)
	return out
}
