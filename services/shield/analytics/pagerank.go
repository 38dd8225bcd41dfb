// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analytics

import (
	"context"
	"math"

	"github.com/AleutianAI/AleutianShield/services/shield/graph"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Weighted PageRank
// =============================================================================

var pageRankTracer = otel.Tracer("shield.analytics.pagerank")

// PageRank configuration constants.
const (
	// DefaultDampingFactor is the probability of following an edge
	// versus restarting the walk. Standard value from the original
	// PageRank paper.
	DefaultDampingFactor = 0.85

	// DefaultMaxIterations is the power-iteration cap.
	DefaultMaxIterations = 20

	// DefaultTolerance is the L1 change across all scores below which
	// the iteration stops.
	DefaultTolerance = 1e-6
)

// PageRankOptions configures the PageRank algorithm.
type PageRankOptions struct {
	// DampingFactor is the probability of following an edge.
	// Must be in [0, 1]. Default: 0.85
	DampingFactor float64

	// MaxIterations is the power-iteration cap. Default: 20
	MaxIterations int

	// Tolerance is the L1 convergence threshold. Default: 1e-6
	Tolerance float64

	// TransactionsOnly restricts edges to TRANSACTION, weighting by
	// amount. When false, every edge participates with its snapshot
	// weight. Default behavior: transactions only.
	AllEdges bool
}

// Validate checks options and applies defaults for invalid values.
func (o *PageRankOptions) Validate() {
	if o.DampingFactor < 0 || o.DampingFactor > 1 {
		o.DampingFactor = DefaultDampingFactor
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.Tolerance <= 0 {
		o.Tolerance = DefaultTolerance
	}
}

// DefaultPageRankOptions returns sensible defaults.
func DefaultPageRankOptions() *PageRankOptions {
	return &PageRankOptions{
		DampingFactor: DefaultDampingFactor,
		MaxIterations: DefaultMaxIterations,
		Tolerance:     DefaultTolerance,
	}
}

// PageRankResult contains the output of PageRank computation.
//
// PageRank always returns a result, never an error: hitting the
// iteration cap before the tolerance simply leaves Converged false.
type PageRankResult struct {
	// Scores maps node id to PageRank score. Scores are non-negative
	// and sum to approximately 1.0.
	Scores map[string]float64 `json:"scores"`

	// Iterations is the number of power iterations performed.
	Iterations int `json:"iterations"`

	// Converged is true when the L1 change fell below the tolerance
	// before the iteration cap.
	Converged bool `json:"converged"`

	// L1Diff is the final L1 score change.
	L1Diff float64 `json:"l1_diff"`
}

// PageRank computes weighted PageRank scores over a snapshot.
//
// Description:
//
//	Power iteration of
//
//	  score[v] = (1-d)/N + d * Σ score[u] * w(u,v) / outweight(u)
//
//	over each in-edge of v, with transaction amounts as weights. Sink
//	mass (nodes with zero out-weight) is redistributed evenly so rank
//	does not leak. Iteration stops when the L1 change falls below the
//	tolerance or the cap is hit, whichever comes first.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	snap - Snapshot to rank. Must not be nil.
//	opts - Configuration. If nil, defaults are used.
//
// Outputs:
//
//	*PageRankResult - Always non-nil; cancellation and cap both yield
//	a flagged, usable result.
//
// Thread Safety: Safe for concurrent use; the snapshot is immutable.
//
// Complexity: O(k × E) for k iterations.
func PageRank(ctx context.Context, snap *graph.Snapshot, opts *PageRankOptions) *PageRankResult {
	ctx, span := pageRankTracer.Start(ctx, "analytics.PageRank",
		trace.WithAttributes(
			attribute.Int("node_count", snap.NodeCount()),
			attribute.Int("edge_count", snap.EdgeCount()),
		),
	)
	defer span.End()

	n := snap.NodeCount()
	if n == 0 {
		span.AddEvent("empty_snapshot")
		return &PageRankResult{Scores: map[string]float64{}, Converged: true}
	}
	if opts == nil {
		opts = DefaultPageRankOptions()
	} else {
		opts.Validate()
	}
	d := opts.DampingFactor
	N := float64(n)

	include := func(w graph.WeightedEdge) bool {
		return opts.AllEdges || w.Type == graph.EdgeTypeTransaction
	}

	// Cache out-weights; zero out-weight marks a sink.
	outWeight := make([]float64, n)
	for i := 0; i < n; i++ {
		for _, w := range snap.Out(int32(i)) {
			if include(w) {
				outWeight[i] += w.Weight
			}
		}
	}

	scores := make([]float64, n)
	next := make([]float64, n)
	for i := range scores {
		scores[i] = 1.0 / N
	}

	var iterations int
	var converged bool
	var l1 float64

	for iter := 0; iter < opts.MaxIterations; iter++ {
		if ctx.Err() != nil {
			span.AddEvent("cancelled", trace.WithAttributes(
				attribute.Int("iterations_completed", iter)))
			break
		}

		sink := 0.0
		for i := 0; i < n; i++ {
			if outWeight[i] == 0 {
				sink += scores[i]
			}
		}
		base := (1-d)/N + d*sink/N

		for i := 0; i < n; i++ {
			acc := base
			for _, w := range snap.In(int32(i)) {
				if !include(w) {
					continue
				}
				if ow := outWeight[w.To]; ow > 0 {
					acc += d * scores[w.To] * w.Weight / ow
				}
			}
			next[i] = acc
		}

		l1 = 0.0
		for i := 0; i < n; i++ {
			l1 += math.Abs(next[i] - scores[i])
		}
		scores, next = next, scores
		iterations = iter + 1

		if l1 < opts.Tolerance {
			converged = true
			break
		}
	}

	result := &PageRankResult{
		Scores:     make(map[string]float64, n),
		Iterations: iterations,
		Converged:  converged,
		L1Diff:     l1,
	}
	for i := 0; i < n; i++ {
		result.Scores[snap.NodeID(int32(i))] = scores[i]
	}

	span.SetAttributes(
		attribute.Int("iterations", iterations),
		attribute.Bool("converged", converged),
	)
	return result
}
