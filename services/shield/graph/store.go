// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"hash/fnv"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// Sharded Store
// =============================================================================

// streamKey identifies a (source node, edge type) append stream for
// timestamp ordering checks.
type streamKey struct {
	src string
	et  EdgeType
}

// adjacency holds the per-node edge lists, partitioned by edge type.
//
// Slices are append-only: existing elements are never overwritten, so a
// slice header captured under the shard read lock remains a consistent
// point-in-time view while writers keep appending.
type adjacency struct {
	out [NumEdgeTypes][]*Edge
	in  [NumEdgeTypes][]*Edge
}

// shard is one lock partition of the store.
type shard struct {
	idx    int
	mu     sync.RWMutex
	nodes  map[string]*Node
	adj    map[string]*adjacency
	lastTS map[streamKey]time.Time

	// nodesByType is a secondary index for by-class enumeration.
	// Append-only, like the adjacency lists.
	nodesByType [NumNodeTypes][]string
}

// Store is the sharded, concurrency-safe fraud-graph store.
//
// Thread Safety:
//
//	Safe for concurrent use. Ingestion takes a narrow per-shard write
//	lock per node/edge append; queries take per-shard read locks only
//	long enough to capture immutable slice headers.
type Store struct {
	opts      StoreOptions
	shards    []*shard
	shardMask uint32

	nodeCount atomic.Int64
	edgeCount atomic.Int64

	// attrIndex maps string attribute (key, value) pairs to the node ids
	// carrying them. Backs the similarity pattern without pairwise scans.
	attrMu    sync.RWMutex
	attrIndex map[string]map[string][]string
}

// NewStore creates an empty store.
//
// Inputs:
//
//	opts - Store configuration. Zero values are replaced with defaults.
func NewStore(opts StoreOptions) *Store {
	opts.Validate()
	shards := make([]*shard, opts.ShardCount)
	for i := range shards {
		shards[i] = &shard{
			idx:    i,
			nodes:  make(map[string]*Node),
			adj:    make(map[string]*adjacency),
			lastTS: make(map[streamKey]time.Time),
		}
	}
	return &Store{
		opts:      opts,
		shards:    shards,
		shardMask: uint32(opts.ShardCount - 1),
		attrIndex: make(map[string]map[string][]string),
	}
}

// Options returns the effective store configuration.
func (s *Store) Options() StoreOptions {
	return s.opts
}

// shardFor returns the shard owning the given node id.
func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return s.shards[h.Sum32()&s.shardMask]
}

// NodeCount returns the number of nodes in the store.
func (s *Store) NodeCount() int {
	return int(s.nodeCount.Load())
}

// EdgeCount returns the number of edges in the store.
func (s *Store) EdgeCount() int {
	return int(s.edgeCount.Load())
}

// =============================================================================
// Ingestion
// =============================================================================

// UpsertNode admits a node, or refreshes its attributes if it already exists.
//
// Description:
//
//	Idempotent: upserting the same (id, type) repeatedly is a no-op apart
//	from attribute refresh. The node type is immutable; a conflicting type
//	fails with ErrTypeConflict. Attribute refresh replaces the published
//	node pointer with a new Node so admitted nodes stay immutable.
//
// Inputs:
//
//	id - Unique node identifier. Must be non-empty.
//	typ - Entity class. Must be a known NodeType.
//	attrs - Attribute map. May be nil. Validated at admission.
//
// Outputs:
//
//	error - ErrTypeConflict, ErrUnknownAttributeKind, ErrMaxNodesExceeded,
//	        or nil.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) UpsertNode(id string, typ NodeType, attrs Attrs) error {
	if id == "" {
		return fmt.Errorf("%w: empty node id", ErrNodeNotFound)
	}
	if typ <= NodeTypeUnknown || typ >= NumNodeTypes {
		return fmt.Errorf("invalid node type %d", typ)
	}
	if err := attrs.Validate(); err != nil {
		return err
	}

	sh := s.shardFor(id)
	sh.mu.Lock()
	existing, ok := sh.nodes[id]
	if ok {
		if existing.Type != typ {
			sh.mu.Unlock()
			return fmt.Errorf("%w: %s is %s, got %s", ErrTypeConflict, id, existing.Type, typ)
		}
		if len(attrs) > 0 {
			sh.nodes[id] = &Node{
				ID:        id,
				Type:      typ,
				Attrs:     mergeAttrs(existing.Attrs, attrs),
				Inactive:  existing.Inactive,
				FirstSeen: existing.FirstSeen,
			}
		}
		sh.mu.Unlock()
		s.indexAttrs(id, attrs)
		return nil
	}
	if int(s.nodeCount.Load()) >= s.opts.MaxNodes {
		sh.mu.Unlock()
		return ErrMaxNodesExceeded
	}
	sh.nodes[id] = &Node{
		ID:        id,
		Type:      typ,
		Attrs:     attrs,
		FirstSeen: time.Now(),
	}
	sh.adj[id] = &adjacency{}
	sh.nodesByType[typ] = append(sh.nodesByType[typ], id)
	sh.mu.Unlock()

	s.nodeCount.Add(1)
	s.indexAttrs(id, attrs)
	recordNodeAdmitted(typ)
	return nil
}

// mergeAttrs overlays updates on base without mutating either map.
func mergeAttrs(base, updates Attrs) Attrs {
	merged := make(Attrs, len(base)+len(updates))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}
	return merged
}

// AppendEdge admits a directed edge between two existing nodes.
//
// Description:
//
//	Both endpoints must already exist, otherwise the edge is rejected
//	atomically with ErrUnknownEndpoint. Timestamps must be non-decreasing
//	per (source, edge type) stream; regressions are admitted with a
//	warning or rejected with ErrOutOfOrderEdge depending on the
//	configured OutOfOrderPolicy.
//
// Inputs:
//
//	typ - Edge type. Must be a known EdgeType.
//	src, dst - Endpoint node ids.
//	attrs - Attribute map. May be nil. Validated at admission.
//
// Outputs:
//
//	*Edge - The admitted edge, or nil on rejection.
//	error - ErrUnknownEndpoint, ErrOutOfOrderEdge, ErrUnknownAttributeKind,
//	        ErrMaxEdgesExceeded, or nil.
//
// Thread Safety: Safe for concurrent use. Locks at most two shards, in
// index order, to keep the endpoint check and the append atomic.
func (s *Store) AppendEdge(typ EdgeType, src, dst string, attrs Attrs) (*Edge, error) {
	if typ <= EdgeTypeUnknown || typ >= NumEdgeTypes {
		return nil, fmt.Errorf("invalid edge type %d", typ)
	}
	if err := attrs.Validate(); err != nil {
		return nil, err
	}
	if int(s.edgeCount.Load()) >= s.opts.MaxEdges {
		return nil, ErrMaxEdgesExceeded
	}

	edge := &Edge{FromID: src, ToID: dst, Type: typ, Attrs: attrs}

	srcShard := s.shardFor(src)
	dstShard := s.shardFor(dst)
	lockOrdered(srcShard, dstShard)
	defer unlockOrdered(srcShard, dstShard)

	srcAdj, ok := srcShard.adj[src]
	if !ok {
		return nil, fmt.Errorf("%w: source %s", ErrUnknownEndpoint, src)
	}
	dstAdj, ok := dstShard.adj[dst]
	if !ok {
		return nil, fmt.Errorf("%w: target %s", ErrUnknownEndpoint, dst)
	}

	if ts, has := edge.Timestamp(); has {
		key := streamKey{src: src, et: typ}
		if last, seen := srcShard.lastTS[key]; seen && ts.Before(last) {
			if s.opts.OutOfOrder == OutOfOrderReject {
				return nil, fmt.Errorf("%w: %s/%s %s < %s", ErrOutOfOrderEdge,
					src, typ, ts.Format(time.RFC3339), last.Format(time.RFC3339))
			}
			slog.Warn("Out-of-order edge admitted",
				"src", src, "edge_type", typ.String(),
				"timestamp", ts, "stream_high_water", last)
			recordOutOfOrderEdge(typ)
		} else {
			srcShard.lastTS[key] = ts
		}
	}

	srcAdj.out[typ] = append(srcAdj.out[typ], edge)
	dstAdj.in[typ] = append(dstAdj.in[typ], edge)

	s.edgeCount.Add(1)
	recordEdgeAdmitted(typ)
	return edge, nil
}

// lockOrdered locks one or two shards in a stable order.
func lockOrdered(a, b *shard) {
	if a == b {
		a.mu.Lock()
		return
	}
	if a.idx < b.idx {
		a.mu.Lock()
		b.mu.Lock()
	} else {
		b.mu.Lock()
		a.mu.Lock()
	}
}

// unlockOrdered releases what lockOrdered took.
func unlockOrdered(a, b *shard) {
	if a == b {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	b.mu.Unlock()
}

// indexAttrs records string attribute values in the inverted index.
func (s *Store) indexAttrs(id string, attrs Attrs) {
	if len(attrs) == 0 {
		return
	}
	s.attrMu.Lock()
	defer s.attrMu.Unlock()
	for key, v := range attrs {
		if v.Kind != AttrKindString || v.Str == "" {
			continue
		}
		byValue, ok := s.attrIndex[key]
		if !ok {
			byValue = make(map[string][]string)
			s.attrIndex[key] = byValue
		}
		ids := byValue[v.Str]
		if slices.Contains(ids, id) {
			continue
		}
		byValue[v.Str] = append(ids, id)
	}
}

// MarkInactive retires a node without deleting it.
//
// Inactive nodes keep their id, attributes, and edges so historical
// patterns remain traversable.
func (s *Store) MarkInactive(id string) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	node, ok := sh.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if node.Inactive {
		return nil
	}
	clone := *node
	clone.Inactive = true
	sh.nodes[id] = &clone
	return nil
}

// =============================================================================
// Queries
// =============================================================================

// GetNode returns the node with the given id.
func (s *Store) GetNode(id string) (*Node, error) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	node, ok := sh.nodes[id]
	sh.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return node, nil
}

// HasNode reports whether the id is admitted.
func (s *Store) HasNode(id string) bool {
	sh := s.shardFor(id)
	sh.mu.RLock()
	_, ok := sh.nodes[id]
	sh.mu.RUnlock()
	return ok
}

// Neighbors produces a lazy, restartable sequence of (neighbor id, edge)
// pairs for one node, edge type, and direction.
//
// Description:
//
//	The sequence captures the adjacency slice headers under the shard
//	read lock when iteration starts, then yields without holding any
//	lock. Each range over the sequence restarts from a fresh capture,
//	eventually observing every admitted edge (liveness). Never mutates.
//
// Complexity: O(degree) per full iteration.
//
// Thread Safety: Safe for concurrent use with ongoing ingestion.
func (s *Store) Neighbors(nodeID string, et EdgeType, dir Direction) iter.Seq2[string, *Edge] {
	return func(yield func(string, *Edge) bool) {
		outs, ins := s.captureAdjacency(nodeID, et, dir)
		for _, e := range outs {
			if !yield(e.ToID, e) {
				return
			}
		}
		for _, e := range ins {
			if !yield(e.FromID, e) {
				return
			}
		}
	}
}

// captureAdjacency snapshots the adjacency slice headers for one node.
func (s *Store) captureAdjacency(nodeID string, et EdgeType, dir Direction) (outs, ins []*Edge) {
	sh := s.shardFor(nodeID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	a, ok := sh.adj[nodeID]
	if !ok {
		return nil, nil
	}
	if dir == DirectionOut || dir == DirectionBoth {
		outs = a.out[et]
	}
	if dir == DirectionIn || dir == DirectionBoth {
		ins = a.in[et]
	}
	return outs, ins
}

// Degree returns the edge count for one node, edge type, and direction.
func (s *Store) Degree(nodeID string, et EdgeType, dir Direction) int {
	outs, ins := s.captureAdjacency(nodeID, et, dir)
	return len(outs) + len(ins)
}

// NodesByType produces a lazy, restartable sequence of node ids in one
// entity class. Same capture semantics as Neighbors.
func (s *Store) NodesByType(typ NodeType) iter.Seq[string] {
	return func(yield func(string) bool) {
		if typ <= NodeTypeUnknown || typ >= NumNodeTypes {
			return
		}
		for _, sh := range s.shards {
			sh.mu.RLock()
			ids := sh.nodesByType[typ]
			sh.mu.RUnlock()
			for _, id := range ids {
				if !yield(id) {
					return
				}
			}
		}
	}
}

// NodesSharingAttr returns ids of nodes whose string attribute key carries
// the given value. Backed by the inverted attribute index.
func (s *Store) NodesSharingAttr(key, value string) []string {
	s.attrMu.RLock()
	defer s.attrMu.RUnlock()
	ids := s.attrIndex[key][value]
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// VerifyEdge checks the referential invariant for an edge at read time.
//
// A violation means store corruption: it is the only fatal condition in
// the error taxonomy and surfaces as ErrStoreCorrupted.
func (s *Store) VerifyEdge(e *Edge) error {
	if !s.HasNode(e.FromID) || !s.HasNode(e.ToID) {
		return fmt.Errorf("%w: edge %s->%s references missing endpoint",
			ErrStoreCorrupted, e.FromID, e.ToID)
	}
	return nil
}
