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
	"sort"
	"time"

	"github.com/AleutianAI/AleutianShield/services/shield/graph"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Path Tracing
// =============================================================================

// DefaultPathMaxHops is the default upper hop bound for path tracing.
const DefaultPathMaxHops = 4

// PathOptions configures variable-length path tracing.
type PathOptions struct {
	// EdgeType selects the edge class to walk. Default: TRANSACTION
	EdgeType graph.EdgeType

	// MaxHops is the upper bound of the *1..max traversal. Default: 4
	MaxHops int

	// TopK keeps only the K most recent paths, ranked by the latest
	// edge timestamp on the path. 0 keeps all.
	TopK int
}

// Validate checks options and applies defaults for invalid values.
func (o *PathOptions) Validate() {
	if o.EdgeType <= graph.EdgeTypeUnknown || o.EdgeType >= graph.NumEdgeTypes {
		o.EdgeType = graph.EdgeTypeTransaction
	}
	if o.MaxHops <= 0 {
		o.MaxHops = DefaultPathMaxHops
	}
}

// PathResult contains the directed paths found between two nodes.
type PathResult struct {
	// Paths are the discovered paths, most recent first when ranked.
	Paths []Match

	// Truncated is true when a traversal bound stopped the search
	// before exhaustion.
	Truncated bool

	// Visited is the number of node expansions spent.
	Visited int

	// Elapsed is the wall-clock search duration.
	Elapsed time.Duration
}

// TracePaths finds all directed paths from src to dst up to MaxHops.
//
// Description:
//
//	Depth-bounded DFS with a visited-node budget. Nodes may appear in
//	many distinct paths but never twice on one path. When the budget or
//	the context deadline is hit, the search stops at its next bounds
//	check and the partial result is flagged Truncated.
//
// Inputs:
//
//	ctx - Carries the request deadline. Must not be nil.
//	src, dst - Endpoint node ids. Both must exist.
//	opts - Edge class, hop bound, top-K ranking.
//
// Thread Safety: Safe for concurrent use with ongoing ingestion.
func (e *Engine) TracePaths(ctx context.Context, src, dst string, opts PathOptions) (*PathResult, error) {
	opts.Validate()
	ctx, span := tracer.Start(ctx, "traversal.TracePaths",
		trace.WithAttributes(
			attribute.String("src", src),
			attribute.String("dst", dst),
			attribute.Int("max_hops", opts.MaxHops),
		),
	)
	defer span.End()

	for _, id := range []string{src, dst} {
		if !e.store.HasNode(id) {
			err := fmt.Errorf("path endpoint: %w: %s", graph.ErrNodeNotFound, id)
			span.RecordError(err)
			return nil, err
		}
	}

	began := time.Now()
	b := e.newBudget(ctx)
	defer b.close()

	search := &pathSearch{
		engine: e,
		opts:   opts,
		dst:    dst,
		budget: b,
		onPath: map[string]bool{src: true},
		result: &PathResult{},
	}
	search.pathNodes = append(search.pathNodes, src)
	search.dfs(src)

	if opts.TopK > 0 {
		rankByRecency(search.result.Paths)
		if len(search.result.Paths) > opts.TopK {
			search.result.Paths = search.result.Paths[:opts.TopK]
		}
	}

	search.result.Visited = b.visited
	search.result.Elapsed = time.Since(began)
	span.SetAttributes(
		attribute.Int("paths", len(search.result.Paths)),
		attribute.Bool("truncated", search.result.Truncated),
	)
	return search.result, nil
}

// pathSearch is the per-call DFS state.
type pathSearch struct {
	engine    *Engine
	opts      PathOptions
	dst       string
	budget    *budget
	onPath    map[string]bool
	pathNodes []string
	pathEdges []*graph.Edge
	result    *PathResult
}

func (s *pathSearch) dfs(cur string) {
	if s.budget.spend() {
		s.result.Truncated = true
		return
	}

	for nbr, edge := range s.engine.store.Neighbors(cur, s.opts.EdgeType, graph.DirectionOut) {
		if s.budget.exhausted() {
			s.result.Truncated = true
			return
		}
		if nbr == s.dst {
			s.emit(edge)
			continue
		}
		if s.onPath[nbr] || len(s.pathEdges)+1 >= s.opts.MaxHops {
			continue
		}
		s.onPath[nbr] = true
		s.pathNodes = append(s.pathNodes, nbr)
		s.pathEdges = append(s.pathEdges, edge)
		s.dfs(nbr)
		s.pathEdges = s.pathEdges[:len(s.pathEdges)-1]
		s.pathNodes = s.pathNodes[:len(s.pathNodes)-1]
		delete(s.onPath, nbr)
	}
}

// emit records a completed path ending with the given final edge.
func (s *pathSearch) emit(final *graph.Edge) {
	edges := make([]*graph.Edge, 0, len(s.pathEdges)+1)
	edges = append(edges, s.pathEdges...)
	edges = append(edges, final)

	nodes := make([]string, 0, len(s.pathNodes)+1)
	nodes = append(nodes, s.pathNodes...)
	nodes = append(nodes, s.dst)

	s.result.Paths = append(s.result.Paths, Match{
		NodeIDs:     nodes,
		Edges:       edges,
		TotalAmount: totalAmount(edges),
		SpanSeconds: spanSeconds(edges),
	})
}

// rankByRecency sorts paths by their latest edge timestamp, newest first.
func rankByRecency(paths []Match) {
	latest := func(m Match) time.Time {
		var hi time.Time
		for _, e := range m.Edges {
			if ts, ok := e.Timestamp(); ok && ts.After(hi) {
				hi = ts
			}
		}
		return hi
	}
	sort.SliceStable(paths, func(i, j int) bool {
		return latest(paths[i]).After(latest(paths[j]))
	})
}
