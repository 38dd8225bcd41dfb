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
	"sort"

	"github.com/AleutianAI/AleutianShield/services/shield/graph"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Louvain Community Detection
// =============================================================================

var louvainTracer = otel.Tracer("shield.analytics.louvain")

// Louvain configuration constants.
const (
	// DefaultMaxPasses caps the outer move-then-coarsen passes.
	DefaultMaxPasses = 10

	// DefaultLouvainTolerance stops passes once the modularity gain
	// falls below it.
	DefaultLouvainTolerance = 1e-4

	// DefaultMinRingSize is the lower bound of the suspicious
	// community size range.
	DefaultMinRingSize = 5

	// DefaultMaxRingSize is the upper bound of the suspicious
	// community size range.
	DefaultMaxRingSize = 50

	// DefaultMinRingModularity is the partition quality floor for
	// reporting candidate fraud rings.
	DefaultMinRingModularity = 0.6

	// maxSweepsPerPass bounds the local-moving sweeps inside one pass.
	maxSweepsPerPass = 100
)

// LouvainOptions configures community detection.
type LouvainOptions struct {
	// MaxPasses caps the move-then-coarsen passes. Default: 10
	MaxPasses int

	// Tolerance stops passes once modularity gain < this. Default: 1e-4
	Tolerance float64

	// MinRingSize / MaxRingSize is the community size range flagged as
	// a candidate fraud ring. Defaults: 5, 50
	MinRingSize int
	MaxRingSize int

	// MinRingModularity is the partition Q floor for flagging rings.
	// Default: 0.6
	MinRingModularity float64
}

// Validate checks options and applies defaults for invalid values.
func (o *LouvainOptions) Validate() {
	if o.MaxPasses <= 0 {
		o.MaxPasses = DefaultMaxPasses
	}
	if o.Tolerance <= 0 {
		o.Tolerance = DefaultLouvainTolerance
	}
	if o.MinRingSize <= 0 {
		o.MinRingSize = DefaultMinRingSize
	}
	if o.MaxRingSize <= 0 {
		o.MaxRingSize = DefaultMaxRingSize
	}
	if o.MinRingModularity <= 0 {
		o.MinRingModularity = DefaultMinRingModularity
	}
}

// DefaultLouvainOptions returns sensible defaults.
func DefaultLouvainOptions() *LouvainOptions {
	return &LouvainOptions{
		MaxPasses:         DefaultMaxPasses,
		Tolerance:         DefaultLouvainTolerance,
		MinRingSize:       DefaultMinRingSize,
		MaxRingSize:       DefaultMaxRingSize,
		MinRingModularity: DefaultMinRingModularity,
	}
}

// Community is one detected node cluster.
type Community struct {
	// ID is the community identifier within this result.
	ID int `json:"id"`

	// NodeIDs are the member node ids, sorted.
	NodeIDs []string `json:"node_ids"`

	// Size is len(NodeIDs).
	Size int `json:"size"`

	// SuspiciousRing is true when the community size falls in the
	// configured range and the partition Q clears the floor.
	SuspiciousRing bool `json:"suspicious_ring"`
}

// LouvainResult contains the full community detection output.
type LouvainResult struct {
	// Assignments maps node id to community id.
	Assignments map[string]int `json:"assignments"`

	// Communities are the detected communities, largest first.
	Communities []Community `json:"communities"`

	// Modularity is the achieved partition quality Q.
	Modularity float64 `json:"modularity"`

	// Passes is the number of move-then-coarsen passes completed.
	Passes int `json:"passes"`

	// Converged is true when the gain tolerance was reached before the
	// pass cap.
	Converged bool `json:"converged"`
}

// Louvain runs iterative modularity optimization over a snapshot.
//
// Description:
//
//	Each pass greedily moves nodes to the neighboring community with
//	the largest positive modularity gain until no move improves Q,
//	then contracts communities into super-nodes and repeats on the
//	coarsened graph. Passes stop when the gain falls below the
//	tolerance or the pass cap is hit. Q never decreases between
//	passes: only strictly improving moves are accepted.
//
//	The snapshot's directed edges are folded into an undirected
//	weighted graph for modularity purposes.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	snap - Snapshot to partition. Must not be nil.
//	opts - Configuration. If nil, defaults are used.
//
// Outputs:
//
//	*LouvainResult - Always non-nil; cancellation yields the partition
//	reached so far with Converged false.
//
// Thread Safety: Safe for concurrent use; the snapshot is immutable.
func Louvain(ctx context.Context, snap *graph.Snapshot, opts *LouvainOptions) *LouvainResult {
	ctx, span := louvainTracer.Start(ctx, "analytics.Louvain",
		trace.WithAttributes(
			attribute.Int("node_count", snap.NodeCount()),
			attribute.Int("edge_count", snap.EdgeCount()),
		),
	)
	defer span.End()

	if opts == nil {
		opts = DefaultLouvainOptions()
	} else {
		opts.Validate()
	}

	n := snap.NodeCount()
	result := &LouvainResult{Assignments: make(map[string]int, n)}
	if n == 0 {
		result.Converged = true
		return result
	}

	lv := levelFromSnapshot(snap)

	// membership[i] is the original node's community on the current level.
	membership := make([]int, n)
	for i := range membership {
		membership[i] = i
	}

	prevQ := lv.modularity(identityPartition(lv.size()))
	var converged bool

	for pass := 0; pass < opts.MaxPasses; pass++ {
		if ctx.Err() != nil {
			span.AddEvent("cancelled", trace.WithAttributes(attribute.Int("passes", pass)))
			break
		}

		comm, moved := lv.localMoving(ctx)
		q := lv.modularity(comm)
		result.Passes = pass + 1

		// Project this level's assignment onto the original nodes.
		for i := range membership {
			membership[i] = comm[membership[i]]
		}

		if !moved || q-prevQ < opts.Tolerance {
			prevQ = q
			converged = true
			break
		}
		prevQ = q
		lv, membership = lv.coarsen(comm, membership)
	}

	result.Modularity = prevQ
	result.Converged = converged
	result.buildCommunities(snap, membership, opts)

	span.SetAttributes(
		attribute.Float64("modularity", result.Modularity),
		attribute.Int("communities", len(result.Communities)),
		attribute.Bool("converged", result.Converged),
	)
	return result
}

// buildCommunities renumbers memberships densely and fills the report.
func (r *LouvainResult) buildCommunities(snap *graph.Snapshot, membership []int, opts *LouvainOptions) {
	dense := make(map[int]int)
	byComm := make(map[int][]string)
	for i, c := range membership {
		id, ok := dense[c]
		if !ok {
			id = len(dense)
			dense[c] = id
		}
		nodeID := snap.NodeID(int32(i))
		r.Assignments[nodeID] = id
		byComm[id] = append(byComm[id], nodeID)
	}
	for id, nodes := range byComm {
		sort.Strings(nodes)
		c := Community{ID: id, NodeIDs: nodes, Size: len(nodes)}
		c.SuspiciousRing = c.Size >= opts.MinRingSize && c.Size <= opts.MaxRingSize &&
			r.Modularity >= opts.MinRingModularity
		r.Communities = append(r.Communities, c)
	}
	sort.Slice(r.Communities, func(i, j int) bool {
		if r.Communities[i].Size != r.Communities[j].Size {
			return r.Communities[i].Size > r.Communities[j].Size
		}
		return r.Communities[i].ID < r.Communities[j].ID
	})
}

// =============================================================================
// Level graph (undirected, weighted, coarsenable)
// =============================================================================

// levelEdge is one undirected adjacency entry on a level.
type levelEdge struct {
	to int
	w  float64
}

// level is the working graph for one Louvain pass.
type level struct {
	adj      [][]levelEdge
	selfLoop []float64
	degree   []float64 // weighted degree incl. 2*selfLoop
	total2m  float64   // sum of all degrees
}

func (l *level) size() int { return len(l.adj) }

// levelFromSnapshot folds the snapshot's directed edges into an
// undirected weighted level graph.
func levelFromSnapshot(snap *graph.Snapshot) *level {
	n := snap.NodeCount()
	agg := make([]map[int]float64, n)
	self := make([]float64, n)
	for i := 0; i < n; i++ {
		for _, w := range snap.Out(int32(i)) {
			j := int(w.To)
			if j == i {
				self[i] += w.Weight
				continue
			}
			if agg[i] == nil {
				agg[i] = make(map[int]float64)
			}
			if agg[j] == nil {
				agg[j] = make(map[int]float64)
			}
			agg[i][j] += w.Weight
			agg[j][i] += w.Weight
		}
	}
	lv := &level{
		adj:      make([][]levelEdge, n),
		selfLoop: self,
		degree:   make([]float64, n),
	}
	for i := 0; i < n; i++ {
		for j, w := range agg[i] {
			lv.adj[i] = append(lv.adj[i], levelEdge{to: j, w: w})
			lv.degree[i] += w
		}
		lv.degree[i] += 2 * self[i]
		lv.total2m += lv.degree[i]
	}
	return lv
}

// identityPartition assigns every node its own community.
func identityPartition(n int) []int {
	comm := make([]int, n)
	for i := range comm {
		comm[i] = i
	}
	return comm
}

// localMoving greedily reassigns nodes to neighboring communities while
// any move strictly increases modularity. Returns the community
// assignment and whether any move happened.
func (l *level) localMoving(ctx context.Context) (comm []int, moved bool) {
	n := l.size()
	comm = identityPartition(n)
	sumTot := make([]float64, n)
	copy(sumTot, l.degree)

	if l.total2m == 0 {
		return comm, false
	}

	for sweep := 0; sweep < maxSweepsPerPass; sweep++ {
		if ctx.Err() != nil {
			return comm, moved
		}
		improved := false
		for i := 0; i < n; i++ {
			cur := comm[i]

			// Weight from i to each neighboring community.
			toComm := make(map[int]float64)
			for _, e := range l.adj[i] {
				toComm[comm[e.to]] += e.w
			}

			// Remove i from its community.
			sumTot[cur] -= l.degree[i]

			best := cur
			bestGain := toComm[cur] - sumTot[cur]*l.degree[i]/l.total2m
			for c, kIn := range toComm {
				if c == cur {
					continue
				}
				gain := kIn - sumTot[c]*l.degree[i]/l.total2m
				if gain > bestGain {
					bestGain = gain
					best = c
				}
			}

			sumTot[best] += l.degree[i]
			if best != cur {
				comm[i] = best
				improved = true
				moved = true
			}
		}
		if !improved {
			break
		}
	}
	return comm, moved
}

// modularity computes Q for an assignment on this level.
func (l *level) modularity(comm []int) float64 {
	if l.total2m == 0 {
		return 0
	}
	in := make(map[int]float64)
	tot := make(map[int]float64)
	for i := 0; i < l.size(); i++ {
		tot[comm[i]] += l.degree[i]
		in[comm[i]] += 2 * l.selfLoop[i]
		for _, e := range l.adj[i] {
			if comm[e.to] == comm[i] {
				in[comm[i]] += e.w
			}
		}
	}
	var q float64
	for c, t := range tot {
		q += in[c]/l.total2m - (t/l.total2m)*(t/l.total2m)
	}
	return q
}

// coarsen contracts communities into super-nodes and remaps the original
// membership onto the new level.
func (l *level) coarsen(comm []int, membership []int) (*level, []int) {
	dense := make(map[int]int)
	for _, c := range comm {
		if _, ok := dense[c]; !ok {
			dense[c] = len(dense)
		}
	}
	m := len(dense)

	agg := make([]map[int]float64, m)
	self := make([]float64, m)
	for i := 0; i < l.size(); i++ {
		ci := dense[comm[i]]
		self[ci] += l.selfLoop[i]
		for _, e := range l.adj[i] {
			cj := dense[comm[e.to]]
			if ci == cj {
				// Each undirected edge appears in both adjacency lists;
				// halve to avoid double-counting the loop weight.
				self[ci] += e.w / 2
				continue
			}
			if agg[ci] == nil {
				agg[ci] = make(map[int]float64)
			}
			agg[ci][cj] += e.w
		}
	}

	next := &level{
		adj:      make([][]levelEdge, m),
		selfLoop: self,
		degree:   make([]float64, m),
	}
	for i := 0; i < m; i++ {
		for j, w := range agg[i] {
			next.adj[i] = append(next.adj[i], levelEdge{to: j, w: w})
			next.degree[i] += w
		}
		next.degree[i] += 2 * self[i]
		next.total2m += next.degree[i]
	}

	// membership is already projected onto this level's community labels.
	remapped := make([]int, len(membership))
	for i, c := range membership {
		remapped[i] = dense[c]
	}
	return next, remapped
}
