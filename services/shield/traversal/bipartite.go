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
	"sort"
	"time"

	"github.com/AleutianAI/AleutianShield/services/shield/graph"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Bipartite Collusion Pattern
// =============================================================================

// DefaultSharedThreshold is the default shared-neighbor count for
// reporting a cross-class pair.
const DefaultSharedThreshold = 3

// BipartiteOptions configures the collusion pair search.
type BipartiteOptions struct {
	// ClassA and ClassB are the two node-type classes to pair across,
	// e.g. Customer and Merchant. Defaults: Customer, Merchant.
	ClassA graph.NodeType
	ClassB graph.NodeType

	// EdgeType selects the edge class connecting both sides to their
	// shared neighbors. Default: TRANSACTION
	EdgeType graph.EdgeType

	// SharedThreshold is the shared-neighbor count at which a pair is
	// reported. Default: 3
	SharedThreshold int

	// Window restricts counting to edges inside the window. Edges
	// without a timestamp always count.
	Window TimeWindow
}

// Validate checks options and applies defaults for invalid values.
func (o *BipartiteOptions) Validate() {
	if o.ClassA <= graph.NodeTypeUnknown || o.ClassA >= graph.NumNodeTypes {
		o.ClassA = graph.NodeTypeCustomer
	}
	if o.ClassB <= graph.NodeTypeUnknown || o.ClassB >= graph.NumNodeTypes {
		o.ClassB = graph.NodeTypeMerchant
	}
	if o.EdgeType <= graph.EdgeTypeUnknown || o.EdgeType >= graph.NumEdgeTypes {
		o.EdgeType = graph.EdgeTypeTransaction
	}
	if o.SharedThreshold <= 0 {
		o.SharedThreshold = DefaultSharedThreshold
	}
}

// CollusionPair is a cross-class node pair with a suspicious number of
// shared neighbors inside the window.
type CollusionPair struct {
	// A is the ClassA node id.
	A string `json:"a"`

	// B is the ClassB node id.
	B string `json:"b"`

	// SharedCount is the number of distinct shared neighbors.
	SharedCount int `json:"shared_count"`

	// SharedIDs are the shared neighbor ids.
	SharedIDs []string `json:"shared_ids"`
}

// BipartiteResult contains the reported pairs.
type BipartiteResult struct {
	// Pairs are the cross-class pairs at or above the threshold,
	// ordered by descending shared count.
	Pairs []CollusionPair

	// Truncated is true when a traversal bound stopped the scan early.
	Truncated bool

	// Visited is the number of node expansions spent.
	Visited int

	// Elapsed is the wall-clock scan duration.
	Elapsed time.Duration
}

// DetectBipartite finds cross-class node pairs whose shared-neighbor
// count inside the window reaches the threshold.
//
// Description:
//
//	Two-hop counting walk: for every ClassB node, each in-window
//	neighbor is expanded once more, and every ClassA node reached this
//	way increments the (A, B) pair counter keyed by the shared
//	intermediate. This surfaces e.g. many customers moving money into
//	the same merchant through shared accounts, without a pairwise scan
//	over the classes.
//
// Thread Safety: Safe for concurrent use with ongoing ingestion.
func (e *Engine) DetectBipartite(ctx context.Context, opts BipartiteOptions) (*BipartiteResult, error) {
	opts.Validate()
	ctx, span := tracer.Start(ctx, "traversal.DetectBipartite",
		trace.WithAttributes(
			attribute.String("class_a", opts.ClassA.String()),
			attribute.String("class_b", opts.ClassB.String()),
			attribute.Int("shared_threshold", opts.SharedThreshold),
		),
	)
	defer span.End()

	began := time.Now()
	b := e.newBudget(ctx)
	defer b.close()

	result := &BipartiteResult{}
	type pairKey struct{ a, b string }
	shared := make(map[pairKey]map[string]struct{})

scan:
	for hub := range e.store.NodesByType(opts.ClassB) {
		if b.spend() {
			result.Truncated = true
			break
		}
		for mid, edge := range e.store.Neighbors(hub, opts.EdgeType, graph.DirectionBoth) {
			if ts, ok := edge.Timestamp(); ok && !opts.Window.Contains(ts) {
				continue
			}
			if b.spend() {
				result.Truncated = true
				break scan
			}
			for far, farEdge := range e.store.Neighbors(mid, opts.EdgeType, graph.DirectionBoth) {
				if far == hub {
					continue
				}
				if ts, ok := farEdge.Timestamp(); ok && !opts.Window.Contains(ts) {
					continue
				}
				node, err := e.store.GetNode(far)
				if err != nil || node.Type != opts.ClassA {
					continue
				}
				key := pairKey{a: far, b: hub}
				set, ok := shared[key]
				if !ok {
					set = make(map[string]struct{})
					shared[key] = set
				}
				set[mid] = struct{}{}
			}
		}
	}

	for key, mids := range shared {
		if len(mids) < opts.SharedThreshold {
			continue
		}
		ids := make([]string, 0, len(mids))
		for id := range mids {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		result.Pairs = append(result.Pairs, CollusionPair{
			A:           key.a,
			B:           key.b,
			SharedCount: len(mids),
			SharedIDs:   ids,
		})
	}
	sort.Slice(result.Pairs, func(i, j int) bool {
		if result.Pairs[i].SharedCount != result.Pairs[j].SharedCount {
			return result.Pairs[i].SharedCount > result.Pairs[j].SharedCount
		}
		if result.Pairs[i].B != result.Pairs[j].B {
			return result.Pairs[i].B < result.Pairs[j].B
		}
		return result.Pairs[i].A < result.Pairs[j].A
	})

	result.Visited = b.visited
	result.Elapsed = time.Since(began)
	span.SetAttributes(
		attribute.Int("pairs", len(result.Pairs)),
		attribute.Bool("truncated", result.Truncated),
	)
	return result, nil
}
