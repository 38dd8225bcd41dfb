// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the typed fraud-graph store.
//
// The graph package holds accounts, customers, devices, and merchants as
// typed nodes connected by directed, attributed edges (transactions, device
// usage, shared attributes). It is the single owner of all node and edge
// data; every other component holds only transient read-only views.
//
// # Ownership Model
//
// The store owns all nodes and edges it admits:
//   - Nodes and edges MUST NOT be mutated after admission
//   - Callers receive pointers for read access only
//   - Snapshots share edge storage structurally and never copy edge data
//
// # Thread Safety
//
// Store is safe for concurrent use. Writes take a narrow per-shard lock
// only while appending a single node or edge; reads capture immutable
// slice headers under a read lock and then iterate lock-free. Appends
// never mutate previously published elements, so a captured header is a
// consistent point-in-time view.
//
// # Lifecycle
//
// A typical store lifecycle:
//  1. Create with NewStore()
//  2. Ingest continuously with UpsertNode() and AppendEdge()
//  3. Query live with Neighbors()
//  4. Take Snapshot() views for batch algorithms
package graph

import "errors"

// Sentinel errors for store operations.
var (
	// ErrTypeConflict is returned when upserting a node whose id already
	// exists with a different node type. Node types are immutable.
	ErrTypeConflict = errors.New("node exists with different type")

	// ErrUnknownEndpoint is returned when an edge references a node id
	// that has not been admitted. Both endpoints must exist before an
	// edge can be appended; the rejection is atomic.
	ErrUnknownEndpoint = errors.New("edge endpoint does not exist")

	// ErrOutOfOrderEdge is returned when an edge timestamp regresses
	// within its (source, edge type) stream and the store is configured
	// to reject out-of-order edges.
	ErrOutOfOrderEdge = errors.New("edge timestamp out of order for stream")

	// ErrUnknownAttributeKind is returned when an attribute value fails
	// kind validation at ingestion.
	ErrUnknownAttributeKind = errors.New("unknown attribute value kind")

	// ErrNodeNotFound is returned when a query references a node id that
	// is not in the store.
	ErrNodeNotFound = errors.New("node not found")

	// ErrMaxNodesExceeded is returned when the store has reached its
	// configured maximum node capacity.
	ErrMaxNodesExceeded = errors.New("maximum node count exceeded")

	// ErrMaxEdgesExceeded is returned when the store has reached its
	// configured maximum edge capacity.
	ErrMaxEdgesExceeded = errors.New("maximum edge count exceeded")

	// ErrSnapshotReleased is returned when a caller uses a snapshot whose
	// reference count has already dropped to zero.
	ErrSnapshotReleased = errors.New("snapshot already released")

	// ErrStoreCorrupted is returned when an internal invariant violation
	// is detected at read time. This is the only fatal error in the
	// taxonomy and requires operator intervention.
	ErrStoreCorrupted = errors.New("store invariant violated")
)
