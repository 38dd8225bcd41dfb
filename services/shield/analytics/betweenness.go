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
	"math/rand/v2"
	"runtime"
	"sync"

	"github.com/AleutianAI/AleutianShield/services/shield/graph"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// Betweenness Centrality (Brandes)
// =============================================================================

var betweennessTracer = otel.Tracer("shield.analytics.betweenness")

// Betweenness configuration constants.
const (
	// DefaultExactNodeCeiling is the node count above which sampled
	// approximation kicks in.
	DefaultExactNodeCeiling = 10_000

	// DefaultSampleSources is the number of source nodes sampled in
	// approximate mode.
	DefaultSampleSources = 256
)

// BetweennessOptions configures centrality computation.
type BetweennessOptions struct {
	// ExactNodeCeiling is the max node count for exact Brandes. Larger
	// graphs run source-sampled approximation. Default: 10000
	ExactNodeCeiling int

	// SampleSources is the sample size in approximate mode.
	// Default: 256
	SampleSources int

	// Parallelism bounds the worker count. Default: GOMAXPROCS
	Parallelism int

	// AllEdges includes every edge type; by default only transaction
	// edges contribute.
	AllEdges bool
}

// Validate checks options and applies defaults for invalid values.
func (o *BetweennessOptions) Validate() {
	if o.ExactNodeCeiling <= 0 {
		o.ExactNodeCeiling = DefaultExactNodeCeiling
	}
	if o.SampleSources <= 0 {
		o.SampleSources = DefaultSampleSources
	}
	if o.Parallelism <= 0 {
		o.Parallelism = runtime.GOMAXPROCS(0)
	}
}

// DefaultBetweennessOptions returns sensible defaults.
func DefaultBetweennessOptions() *BetweennessOptions {
	return &BetweennessOptions{
		ExactNodeCeiling: DefaultExactNodeCeiling,
		SampleSources:    DefaultSampleSources,
		Parallelism:      runtime.GOMAXPROCS(0),
	}
}

// BetweennessResult contains centrality scores.
type BetweennessResult struct {
	// Scores maps node id to betweenness centrality. Approximate runs
	// scale sampled totals by V/k.
	Scores map[string]float64 `json:"scores"`

	// Approximate is true when source sampling was used.
	Approximate bool `json:"approximate"`

	// SourceCount is the number of sources actually processed.
	SourceCount int `json:"source_count"`
}

// Betweenness computes shortest-path betweenness centrality.
//
// Description:
//
//	Brandes' single-source accumulation, run from every node on small
//	graphs and from a uniform sample of sources above the ceiling,
//	with sampled totals scaled by V/k. Edges are unweighted hops for
//	shortest-path purposes. Sources run in parallel; accumulation
//	into the shared score vector is serialized per source.
//
//	High scores mark money-mule brokers: nodes that sit on many
//	shortest transaction paths between otherwise separate clusters.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	snap - Snapshot to analyze. Must not be nil.
//	opts - Configuration. If nil, defaults are used.
//
// Outputs:
//
//	*BetweennessResult - Always non-nil; cancellation yields scores
//	accumulated from the sources finished so far.
//
// Complexity: O(V*E) exact, O(k*E) sampled.
//
// Thread Safety: Safe for concurrent use; the snapshot is immutable.
func Betweenness(ctx context.Context, snap *graph.Snapshot, opts *BetweennessOptions) *BetweennessResult {
	ctx, span := betweennessTracer.Start(ctx, "analytics.Betweenness",
		trace.WithAttributes(
			attribute.Int("node_count", snap.NodeCount()),
			attribute.Int("edge_count", snap.EdgeCount()),
		),
	)
	defer span.End()

	if opts == nil {
		opts = DefaultBetweennessOptions()
	} else {
		opts.Validate()
	}

	n := snap.NodeCount()
	result := &BetweennessResult{Scores: make(map[string]float64, n)}
	if n == 0 {
		return result
	}

	include := func(w graph.WeightedEdge) bool {
		return opts.AllEdges || w.Type == graph.EdgeTypeTransaction
	}

	sources := make([]int32, n)
	for i := range sources {
		sources[i] = int32(i)
	}
	if n > opts.ExactNodeCeiling {
		result.Approximate = true
		rand.Shuffle(n, func(i, j int) {
			sources[i], sources[j] = sources[j], sources[i]
		})
		// Requests can ask for more samples than the graph has nodes.
		if opts.SampleSources > n {
			opts.SampleSources = n
		}
		sources = sources[:opts.SampleSources]
	}

	scores := make([]float64, n)
	var mu sync.Mutex
	var processed int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)
	for _, src := range sources {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			delta := brandesSource(snap, src, include)
			mu.Lock()
			for i, d := range delta {
				scores[i] += d
			}
			processed++
			mu.Unlock()
			return nil
		})
	}
	// The only error is context cancellation; partial scores stand.
	_ = g.Wait()

	scale := 1.0
	if result.Approximate && processed > 0 {
		scale = float64(n) / float64(processed)
	}
	for i, s := range scores {
		result.Scores[snap.NodeID(int32(i))] = s * scale
	}
	result.SourceCount = processed

	span.SetAttributes(
		attribute.Bool("approximate", result.Approximate),
		attribute.Int("source_count", result.SourceCount),
	)
	return result
}

// brandesSource runs one single-source shortest-path accumulation and
// returns the per-node dependency contributions.
func brandesSource(snap *graph.Snapshot, src int32, include func(graph.WeightedEdge) bool) []float64 {
	n := snap.NodeCount()
	dist := make([]int, n)
	for i := range dist {
		dist[i] = -1
	}
	sigma := make([]float64, n)
	preds := make([][]int32, n)
	stack := make([]int32, 0, n)
	queue := make([]int32, 0, n)

	dist[src] = 0
	sigma[src] = 1
	queue = append(queue, src)

	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		stack = append(stack, v)
		for _, w := range snap.Out(v) {
			if !include(w) {
				continue
			}
			u := w.To
			if dist[u] < 0 {
				dist[u] = dist[v] + 1
				queue = append(queue, u)
			}
			if dist[u] == dist[v]+1 {
				sigma[u] += sigma[v]
				preds[u] = append(preds[u], v)
			}
		}
	}

	delta := make([]float64, n)
	for i := len(stack) - 1; i >= 0; i-- {
		w := stack[i]
		for _, v := range preds[w] {
			delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
		}
	}
	delta[src] = 0
	return delta
}
