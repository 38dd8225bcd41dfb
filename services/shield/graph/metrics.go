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
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for store operations.
var meter = otel.Meter("shield.graph")

// Metrics for ingestion and snapshot operations.
var (
	nodesAdmitted    metric.Int64Counter
	edgesAdmitted    metric.Int64Counter
	outOfOrderEdges  metric.Int64Counter
	snapshotsCreated metric.Int64Counter
	snapshotsEvicted metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		nodesAdmitted, err = meter.Int64Counter(
			"shield_graph_nodes_admitted_total",
			metric.WithDescription("Total nodes admitted to the store"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		edgesAdmitted, err = meter.Int64Counter(
			"shield_graph_edges_admitted_total",
			metric.WithDescription("Total edges admitted to the store"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		outOfOrderEdges, err = meter.Int64Counter(
			"shield_graph_out_of_order_edges_total",
			metric.WithDescription("Edges admitted or rejected with a regressed timestamp"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		snapshotsCreated, err = meter.Int64Counter(
			"shield_graph_snapshots_created_total",
			metric.WithDescription("Snapshots materialized from the live store"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		snapshotsEvicted, err = meter.Int64Counter(
			"shield_graph_snapshots_evicted_total",
			metric.WithDescription("Superseded snapshots released and evicted"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordNodeAdmitted increments the node counter. Best effort.
func recordNodeAdmitted(typ NodeType) {
	if initMetrics() != nil {
		return
	}
	nodesAdmitted.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("node_type", typ.String())))
}

// recordEdgeAdmitted increments the edge counter. Best effort.
func recordEdgeAdmitted(typ EdgeType) {
	if initMetrics() != nil {
		return
	}
	edgesAdmitted.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("edge_type", typ.String())))
}

// recordOutOfOrderEdge increments the out-of-order counter. Best effort.
func recordOutOfOrderEdge(typ EdgeType) {
	if initMetrics() != nil {
		return
	}
	outOfOrderEdges.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("edge_type", typ.String())))
}

// recordSnapshotCreated increments the snapshot counter. Best effort.
func recordSnapshotCreated() {
	if initMetrics() != nil {
		return
	}
	snapshotsCreated.Add(context.Background(), 1)
}

// recordSnapshotEvicted increments the eviction counter. Best effort.
func recordSnapshotEvicted() {
	if initMetrics() != nil {
		return
	}
	snapshotsEvicted.Add(context.Background(), 1)
}
