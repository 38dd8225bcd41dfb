// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scoring computes bounded-latency risk scores for accounts.
//
// Features read the live graph store rather than a snapshot: score
// freshness matters more than point-in-time consistency here. Every
// feature runs under a slice of the request's latency budget; a slow
// sub-query degrades to a neutral value instead of blocking the
// response.
//
// # Ownership
//
// The Scorer holds a read-only reference to the graph store. It owns
// no mutable state beyond its configuration.
//
// # Thread Safety
//
// All exported functions and methods are safe for concurrent use.
package scoring

import (
	"context"
	"time"

	"github.com/AleutianAI/AleutianShield/services/shield/graph"
)

// =============================================================================
// Feature Extraction
// =============================================================================

// DefaultFeatureWindow is the trailing window features look back over.
const DefaultFeatureWindow = 24 * time.Hour

// Features holds the raw per-account signals before weighting.
type Features struct {
	// Velocity is the transaction count in the trailing window.
	Velocity int `json:"velocity"`

	// Diversity is the distinct counterparty count in the window.
	Diversity int `json:"diversity"`

	// Volume is the summed transaction amount in the window.
	Volume float64 `json:"volume"`

	// DeviceSharing is the count of other accounts sharing any device
	// this account has used.
	DeviceSharing int `json:"device_sharing"`

	// Degraded marks features that fell back to neutral values because
	// their budget slice expired.
	Degraded bool `json:"degraded"`
}

// extractor runs feature sub-queries against the live store.
type extractor struct {
	store  *graph.Store
	window time.Duration
	now    time.Time
}

// Extract computes all features for one account. The remaining budget
// is split evenly across the two store walks; a walk that exhausts its
// slice leaves its features at neutral zero values and sets Degraded.
func (e *extractor) Extract(ctx context.Context, accountID string) Features {
	var f Features

	txCtx, txCancel := e.sliceContext(ctx, 2)
	f.Velocity, f.Diversity, f.Volume = e.transactionFeatures(txCtx, accountID, &f.Degraded)
	txCancel()

	devCtx, devCancel := e.sliceContext(ctx, 1)
	f.DeviceSharing = e.deviceSharing(devCtx, accountID, &f.Degraded)
	devCancel()
	return f
}

// sliceContext carves the remaining budget into `remaining` equal
// slices and returns a context bounded by one of them.
func (e *extractor) sliceContext(ctx context.Context, remaining int) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	slice := time.Until(deadline) / time.Duration(remaining)
	return context.WithTimeout(ctx, slice)
}

// transactionFeatures walks the account's transaction edges once,
// accumulating velocity, diversity, and volume together.
func (e *extractor) transactionFeatures(ctx context.Context, accountID string, degraded *bool) (velocity, diversity int, volume float64) {
	cutoff := e.now.Add(-e.window)
	counterparties := make(map[string]struct{})
	var visited int
	for peer, edge := range e.store.Neighbors(accountID, graph.EdgeTypeTransaction, graph.DirectionBoth) {
		visited++
		if visited%64 == 0 && ctx.Err() != nil {
			*degraded = true
			return 0, 0, 0
		}
		ts, ok := edge.Timestamp()
		if !ok || ts.Before(cutoff) {
			continue
		}
		velocity++
		volume += edge.Amount()
		counterparties[peer] = struct{}{}
	}
	if ctx.Err() != nil {
		*degraded = true
		return 0, 0, 0
	}
	return velocity, len(counterparties), volume
}

// deviceSharing counts distinct other accounts reachable through any
// device this account has used.
func (e *extractor) deviceSharing(ctx context.Context, accountID string, degraded *bool) int {
	peers := make(map[string]struct{})
	var visited int
	for device := range e.store.Neighbors(accountID, graph.EdgeTypeUsedDevice, graph.DirectionOut) {
		for peer := range e.store.Neighbors(device, graph.EdgeTypeUsedDevice, graph.DirectionIn) {
			visited++
			if visited%64 == 0 && ctx.Err() != nil {
				*degraded = true
				return 0
			}
			if peer != accountID {
				peers[peer] = struct{}{}
			}
		}
	}
	if ctx.Err() != nil {
		*degraded = true
		return 0
	}
	return len(peers)
}
