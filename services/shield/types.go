// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package shield

import "time"

// ServiceVersion is the shield service version.
const ServiceVersion = "0.1.0"

// =============================================================================
// Request Types
// =============================================================================

// PatternQueryRequest is the unified pattern query body. The Pattern
// field selects which parameter group applies; unused fields are
// ignored.
type PatternQueryRequest struct {
	// Pattern selects the traversal: star, cycle, path, bipartite, or
	// similarity.
	Pattern string `json:"pattern" binding:"required"`

	// NodeID is the start node (cycle, path, similarity) or hub (star).
	NodeID string `json:"node_id,omitempty"`

	// DeadlineMS overrides the endpoint's default deadline.
	DeadlineMS int `json:"deadline_ms,omitempty" binding:"omitempty,min=1,max=60000"`

	// EdgeType filters the traversed edge type where applicable.
	EdgeType string `json:"edge_type,omitempty"`

	// WindowFrom / WindowTo bound edge timestamps where applicable.
	WindowFrom *time.Time `json:"window_from,omitempty"`
	WindowTo   *time.Time `json:"window_to,omitempty"`

	// Cycle parameters.
	MinHops        int     `json:"min_hops,omitempty" binding:"omitempty,min=2"`
	MaxHops        int     `json:"max_hops,omitempty" binding:"omitempty,max=12"`
	MinEdgeAmount  float64 `json:"min_edge_amount,omitempty"`
	MinTotalAmount float64 `json:"min_total_amount,omitempty"`

	// Star parameters.
	Threshold int    `json:"threshold,omitempty"`
	Direction string `json:"direction,omitempty"`
	Exact     bool   `json:"exact,omitempty"`

	// Path parameters.
	TargetID string `json:"target_id,omitempty"`
	TopK     int    `json:"top_k,omitempty"`

	// Bipartite parameters.
	ClassA          string `json:"class_a,omitempty"`
	ClassB          string `json:"class_b,omitempty"`
	SharedThreshold int    `json:"shared_threshold,omitempty"`

	// Similarity parameters.
	AttrKeys []string `json:"attr_keys,omitempty"`
}

// JobRequest submits a batch analytics job.
type JobRequest struct {
	// Algorithm is one of louvain, pagerank, betweenness.
	Algorithm string `json:"algorithm" binding:"required"`

	// PageRank overrides.
	Damping       float64 `json:"damping,omitempty"`
	MaxIterations int     `json:"max_iterations,omitempty"`
	Tolerance     float64 `json:"tolerance,omitempty"`

	// Louvain overrides.
	MaxPasses int `json:"max_passes,omitempty"`

	// Betweenness overrides.
	SampleSources int `json:"sample_sources,omitempty"`
}

// =============================================================================
// Response Types
// =============================================================================

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// NodeResponse acknowledges a node upsert.
type NodeResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// EdgeResponse acknowledges an edge append.
type EdgeResponse struct {
	Type   string `json:"type"`
	Src    string `json:"src"`
	Dst    string `json:"dst"`
	Status string `json:"status"`
}

// PatternQueryResponse is the unified pattern query result.
type PatternQueryResponse struct {
	// Pattern echoes the requested pattern.
	Pattern string `json:"pattern"`

	// Matches is the pattern-specific result payload.
	Matches any `json:"matches"`

	// Truncated is true when a budget cut the search short.
	Truncated bool `json:"truncated"`

	// ElapsedMS is the wall-clock query time.
	ElapsedMS int64 `json:"elapsed_ms"`
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse is the readiness check payload.
type ReadyResponse struct {
	Ready     bool `json:"ready"`
	NodeCount int  `json:"node_count"`
	EdgeCount int  `json:"edge_count"`
}

// StatsResponse is the debug stats payload.
type StatsResponse struct {
	NodeCount      int    `json:"node_count"`
	EdgeCount      int    `json:"edge_count"`
	SnapshotID     string `json:"snapshot_id,omitempty"`
	SnapshotNodes  int    `json:"snapshot_nodes,omitempty"`
	SnapshotEdges  int    `json:"snapshot_edges,omitempty"`
	QueueDepth     int    `json:"queue_depth"`
	QueueCapacity  int    `json:"queue_capacity"`
	WorkersRunning int    `json:"workers_running"`
}
