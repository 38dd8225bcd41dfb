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
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Algorithm Snapshots
// =============================================================================

// WeightedEdge is one adjacency entry in a snapshot.
//
// To is the neighbor's snapshot index: the target for out-edges, the
// source for in-edges. Weight is the transaction amount for TRANSACTION
// edges and 1 for everything else.
type WeightedEdge struct {
	To     int32
	Weight float64
	Type   EdgeType
}

// Snapshot is an immutable, versioned view of the graph's adjacency
// structure, used as input to batch algorithms so long runs are insulated
// from concurrent ingestion.
//
// Snapshots are reference counted: the manager holds one reference while
// the snapshot is current, and every algorithm run holds one for its
// duration. A superseded snapshot is evicted once its count reaches zero.
//
// Thread Safety: All accessors are safe for concurrent use; the structure
// is immutable after construction.
type Snapshot struct {
	// ID is the unique snapshot identifier.
	ID string

	// CreatedAt is when the snapshot was materialized.
	CreatedAt time.Time

	nodeIDs []string
	types   []NodeType
	index   map[string]int32
	out     [][]WeightedEdge
	in      [][]WeightedEdge
	edges   int

	refs    atomic.Int64
	onEvict func(*Snapshot)
}

// NodeCount returns the number of nodes captured.
func (s *Snapshot) NodeCount() int { return len(s.nodeIDs) }

// EdgeCount returns the number of edges captured.
func (s *Snapshot) EdgeCount() int { return s.edges }

// NodeID returns the node id at a snapshot index.
func (s *Snapshot) NodeID(i int32) string { return s.nodeIDs[i] }

// NodeType returns the node type at a snapshot index.
func (s *Snapshot) NodeType(i int32) NodeType { return s.types[i] }

// IndexOf returns the snapshot index for a node id.
func (s *Snapshot) IndexOf(id string) (int32, bool) {
	i, ok := s.index[id]
	return i, ok
}

// Out returns the out-adjacency for a snapshot index. Read-only.
func (s *Snapshot) Out(i int32) []WeightedEdge { return s.out[i] }

// In returns the in-adjacency for a snapshot index. Read-only.
func (s *Snapshot) In(i int32) []WeightedEdge { return s.in[i] }

// Acquire takes a reference for the duration of an algorithm run.
//
// Outputs:
//
//	error - ErrSnapshotReleased if the count already reached zero.
func (s *Snapshot) Acquire() error {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return ErrSnapshotReleased
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops a reference. The final release evicts the snapshot.
func (s *Snapshot) Release() {
	if s.refs.Add(-1) == 0 && s.onEvict != nil {
		s.onEvict(s)
	}
}

// buildSnapshot materializes a point-in-time view of the store.
//
// Two phases: collect the committed node set, then capture each node's
// adjacency slice headers. Edges whose endpoint was admitted after the
// node collection are skipped, keeping the view consistent with a single
// point in time. Edge data is shared structurally, never copied.
func buildSnapshot(ctx context.Context, store *Store) (*Snapshot, error) {
	snap := &Snapshot{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		index:     make(map[string]int32),
	}

	for _, sh := range store.shards {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("snapshot build cancelled: %w", err)
		}
		sh.mu.RLock()
		for id, node := range sh.nodes {
			snap.index[id] = int32(len(snap.nodeIDs))
			snap.nodeIDs = append(snap.nodeIDs, id)
			snap.types = append(snap.types, node.Type)
		}
		sh.mu.RUnlock()
	}

	snap.out = make([][]WeightedEdge, len(snap.nodeIDs))
	snap.in = make([][]WeightedEdge, len(snap.nodeIDs))

	for _, sh := range store.shards {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("snapshot build cancelled: %w", err)
		}
		type captured struct {
			idx int32
			out [NumEdgeTypes][]*Edge
		}
		sh.mu.RLock()
		caps := make([]captured, 0, len(sh.adj))
		for id, adj := range sh.adj {
			idx, ok := snap.index[id]
			if !ok {
				continue
			}
			caps = append(caps, captured{idx: idx, out: adj.out})
		}
		sh.mu.RUnlock()

		// Convert outside the lock; captured headers are immutable views.
		for _, c := range caps {
			for et := EdgeTypeUnknown + 1; et < NumEdgeTypes; et++ {
				for _, e := range c.out[et] {
					to, ok := snap.index[e.ToID]
					if !ok {
						continue
					}
					w := 1.0
					if et == EdgeTypeTransaction {
						if amt := e.Amount(); amt > 0 {
							w = amt
						}
					}
					snap.out[c.idx] = append(snap.out[c.idx], WeightedEdge{To: to, Weight: w, Type: et})
					snap.in[to] = append(snap.in[to], WeightedEdge{To: c.idx, Weight: w, Type: et})
					snap.edges++
				}
			}
		}
	}

	snap.refs.Store(1)
	recordSnapshotCreated()
	return snap, nil
}

// =============================================================================
// Snapshot Manager
// =============================================================================

// SnapshotManager owns the snapshot lifecycle: creation on demand or on a
// schedule, lookup by id, and eviction of superseded snapshots once no
// in-flight algorithm run references them.
//
// Thread Safety: Safe for concurrent use.
type SnapshotManager struct {
	store *Store

	mu      sync.Mutex
	current *Snapshot
	byID    map[string]*Snapshot
}

// NewSnapshotManager creates a manager over the given store.
func NewSnapshotManager(store *Store) *SnapshotManager {
	return &SnapshotManager{
		store: store,
		byID:  make(map[string]*Snapshot),
	}
}

// Current returns the current snapshot, materializing one if none exists.
//
// The returned snapshot carries a reference for the caller, who must call
// Release when done.
func (m *SnapshotManager) Current(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	if m.current != nil {
		snap := m.current
		err := snap.Acquire()
		m.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return snap, nil
	}
	m.mu.Unlock()
	return m.Refresh(ctx)
}

// Refresh materializes a new snapshot and supersedes the old one.
//
// The returned snapshot carries a reference for the caller, who must call
// Release when done.
func (m *SnapshotManager) Refresh(ctx context.Context) (*Snapshot, error) {
	snap, err := buildSnapshot(ctx, m.store)
	if err != nil {
		return nil, err
	}
	snap.onEvict = m.evict

	m.mu.Lock()
	prev := m.current
	m.current = snap
	m.byID[snap.ID] = snap
	// Caller reference on top of the manager's own.
	_ = snap.Acquire()
	m.mu.Unlock()

	if prev != nil {
		// Drop the manager's reference outside the lock: the final release
		// re-enters evict, which takes m.mu. In-flight runs keep it alive.
		prev.Release()
	}
	slog.Info("Snapshot materialized",
		"snapshot_id", snap.ID,
		"nodes", snap.NodeCount(),
		"edges", snap.EdgeCount())
	return snap, nil
}

// Get returns a snapshot by id, taking a reference for the caller.
func (m *SnapshotManager) Get(id string) (*Snapshot, error) {
	m.mu.Lock()
	snap, ok := m.byID[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: snapshot %s", ErrSnapshotReleased, id)
	}
	if err := snap.Acquire(); err != nil {
		return nil, err
	}
	return snap, nil
}

// evict removes a fully released snapshot from the lookup table.
func (m *SnapshotManager) evict(snap *Snapshot) {
	m.mu.Lock()
	delete(m.byID, snap.ID)
	m.mu.Unlock()
	recordSnapshotEvicted()
	slog.Debug("Snapshot evicted", "snapshot_id", snap.ID)
}

// Run refreshes the snapshot on the given interval until ctx is done.
//
// Intended to be started as a goroutine at service startup when periodic
// batch jobs are scheduled.
func (m *SnapshotManager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := m.Refresh(ctx)
			if err != nil {
				slog.Error("Scheduled snapshot refresh failed", "error", err)
				continue
			}
			// Refresh took a caller reference we don't need here.
			snap.Release()
		}
	}
}
