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
	"time"

	"github.com/AleutianAI/AleutianShield/services/shield/graph"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Star Patterns (fan-out / fan-in)
// =============================================================================

// DefaultStarThreshold is the default distinct-neighbor count for
// flagging a hub (e.g. five accounts on one device).
const DefaultStarThreshold = 5

// StarOptions configures hub detection.
type StarOptions struct {
	// EdgeType selects the edge class to count. Default: USED_DEVICE
	EdgeType graph.EdgeType

	// Direction selects fan-out (out), fan-in (in), or both.
	// Default: DirectionBoth
	Direction graph.Direction

	// Threshold is the distinct-neighbor count at which the hub is
	// flagged. Default: 5
	Threshold int

	// Window restricts counting to edges inside the window. Edges
	// without a timestamp always count.
	Window TimeWindow

	// Exact forces a full count. When false, counting short-circuits
	// once the threshold is confirmed.
	Exact bool
}

// Validate checks options and applies defaults for invalid values.
func (o *StarOptions) Validate() {
	if o.EdgeType <= graph.EdgeTypeUnknown || o.EdgeType >= graph.NumEdgeTypes {
		o.EdgeType = graph.EdgeTypeUsedDevice
	}
	if o.Direction < graph.DirectionBoth || o.Direction > graph.DirectionIn {
		o.Direction = graph.DirectionBoth
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultStarThreshold
	}
}

// StarResult is the outcome of hub detection for one node.
type StarResult struct {
	// Hub is the inspected node id.
	Hub string

	// NeighborCount is the distinct neighbors counted. A lower bound
	// when the count short-circuited.
	NeighborCount int

	// Neighbors are the distinct neighbor ids counted.
	Neighbors []string

	// Flagged is true when NeighborCount reached the threshold.
	Flagged bool

	// ShortCircuited is true when counting stopped at the threshold.
	ShortCircuited bool

	// Elapsed is the wall-clock duration.
	Elapsed time.Duration
}

// DetectStar counts distinct neighbors of a hub within a time window and
// flags the hub when the count reaches the threshold.
//
// Description:
//
//	O(degree) single scan over one adjacency list. When Exact is false
//	the scan stops as soon as the threshold is confirmed; callers that
//	need the precise count set Exact.
//
// Inputs:
//
//	ctx - Carries the request deadline. Must not be nil.
//	hub - Candidate hub node id. Must exist.
//	opts - Edge class, direction, threshold, window.
//
// Thread Safety: Safe for concurrent use with ongoing ingestion.
func (e *Engine) DetectStar(ctx context.Context, hub string, opts StarOptions) (*StarResult, error) {
	opts.Validate()
	_, span := tracer.Start(ctx, "traversal.DetectStar",
		trace.WithAttributes(
			attribute.String("hub", hub),
			attribute.String("edge_type", opts.EdgeType.String()),
			attribute.Int("threshold", opts.Threshold),
		),
	)
	defer span.End()

	if !e.store.HasNode(hub) {
		err := fmt.Errorf("star hub: %w: %s", graph.ErrNodeNotFound, hub)
		span.RecordError(err)
		return nil, err
	}

	began := time.Now()
	result := &StarResult{Hub: hub}
	distinct := make(map[string]struct{})

	for nbr, edge := range e.store.Neighbors(hub, opts.EdgeType, opts.Direction) {
		if ts, ok := edge.Timestamp(); ok && !opts.Window.Contains(ts) {
			continue
		}
		if _, dup := distinct[nbr]; dup {
			continue
		}
		distinct[nbr] = struct{}{}
		result.Neighbors = append(result.Neighbors, nbr)
		if !opts.Exact && len(distinct) >= opts.Threshold {
			result.ShortCircuited = true
			break
		}
	}

	result.NeighborCount = len(distinct)
	result.Flagged = result.NeighborCount >= opts.Threshold
	result.Elapsed = time.Since(began)
	span.SetAttributes(
		attribute.Int("neighbor_count", result.NeighborCount),
		attribute.Bool("flagged", result.Flagged),
	)
	return result, nil
}
