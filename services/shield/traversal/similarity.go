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
	"sort"
	"time"

	"github.com/AleutianAI/AleutianShield/services/shield/graph"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Similarity Pattern (shared PII attributes)
// =============================================================================

// defaultSimilarityKeys are the attribute keys inspected when the caller
// supplies none.
var defaultSimilarityKeys = []string{"ssn", "address", "phone"}

// SimilarityOptions configures shared-attribute clustering.
type SimilarityOptions struct {
	// Keys are the attribute keys to match on.
	// Default: ssn, address, phone
	Keys []string
}

// Validate checks options and applies defaults for invalid values.
func (o *SimilarityOptions) Validate() {
	if len(o.Keys) == 0 {
		o.Keys = defaultSimilarityKeys
	}
}

// SimilarityCluster is one connected component of nodes linked by shared
// attribute values. Clusters, not raw pairs, are what separate an actual
// fraud ring from pairwise PII-match noise.
type SimilarityCluster struct {
	// NodeIDs are the component members, sorted.
	NodeIDs []string `json:"node_ids"`

	// MatchKinds are the attribute keys that link the component, sorted.
	MatchKinds []string `json:"match_kinds"`
}

// SimilarityResult contains the clusters around a target node.
type SimilarityResult struct {
	// Clusters are the connected components, largest first. The
	// component containing the target is always present when any
	// match exists.
	Clusters []SimilarityCluster

	// MatchedNodes is the total number of distinct matched nodes.
	MatchedNodes int

	// Elapsed is the wall-clock duration.
	Elapsed time.Duration
}

// DetectSimilar finds nodes sharing attribute values with a target and
// groups all matches into connected components.
//
// Description:
//
//	For each configured key, the target's value is looked up in the
//	store's inverted attribute index, so matching is proportional to
//	the number of actual matches rather than the node population.
//	Matched nodes sharing a value are unioned into one component, and
//	existing SHARES_ATTRIBUTE edges between matched nodes are folded
//	in as well (union-find over matched pairs).
//
// Inputs:
//
//	ctx - Carries the request deadline. Must not be nil.
//	target - Node id whose attributes seed the search. Must exist.
//	opts - Attribute keys to match on.
//
// Thread Safety: Safe for concurrent use with ongoing ingestion.
func (e *Engine) DetectSimilar(ctx context.Context, target string, opts SimilarityOptions) (*SimilarityResult, error) {
	opts.Validate()
	_, span := tracer.Start(ctx, "traversal.DetectSimilar",
		trace.WithAttributes(attribute.String("target", target)),
	)
	defer span.End()

	node, err := e.store.GetNode(target)
	if err != nil {
		err = fmt.Errorf("similarity target: %w", err)
		span.RecordError(err)
		return nil, err
	}

	began := time.Now()
	uf := newUnionFind()
	uf.add(target)

	// (member, kind) pairs; roots are resolved only after all unions.
	type matchKind struct{ member, kind string }
	var kinds []matchKind

	for _, key := range opts.Keys {
		v, ok := node.Attrs[key]
		if !ok || v.Kind != graph.AttrKindString || v.Str == "" {
			continue
		}
		for _, other := range e.store.NodesSharingAttr(key, v.Str) {
			if other == target {
				continue
			}
			uf.add(other)
			uf.union(target, other)
			kinds = append(kinds, matchKind{member: other, kind: key})
		}
	}

	// Fold in explicit SHARES_ATTRIBUTE edges radiating from the matched
	// set, one hop out, so pre-linked ring members join the component.
	for _, member := range uf.members() {
		for nbr, edge := range e.store.Neighbors(member, graph.EdgeTypeSharesAttribute, graph.DirectionBoth) {
			kind := edge.MatchKind()
			if kind == "" {
				kind = "linked"
			}
			uf.add(nbr)
			uf.union(member, nbr)
			kinds = append(kinds, matchKind{member: nbr, kind: kind})
		}
	}

	result := &SimilarityResult{Elapsed: time.Since(began)}
	byRoot := make(map[string][]string)
	for _, id := range uf.members() {
		root := uf.find(id)
		byRoot[root] = append(byRoot[root], id)
	}
	kindsByRoot := make(map[string]map[string]struct{})
	for _, mk := range kinds {
		root := uf.find(mk.member)
		if kindsByRoot[root] == nil {
			kindsByRoot[root] = make(map[string]struct{})
		}
		kindsByRoot[root][mk.kind] = struct{}{}
	}
	for root, ids := range byRoot {
		if len(ids) < 2 {
			continue
		}
		sort.Strings(ids)
		var kindList []string
		for k := range kindsByRoot[root] {
			kindList = append(kindList, k)
		}
		sort.Strings(kindList)
		result.Clusters = append(result.Clusters, SimilarityCluster{NodeIDs: ids, MatchKinds: kindList})
		result.MatchedNodes += len(ids)
	}
	sort.Slice(result.Clusters, func(i, j int) bool {
		return len(result.Clusters[i].NodeIDs) > len(result.Clusters[j].NodeIDs)
	})

	span.SetAttributes(attribute.Int("clusters", len(result.Clusters)))
	return result, nil
}

// =============================================================================
// Union-Find
// =============================================================================

// unionFind is a path-compressing disjoint-set forest over node ids.
type unionFind struct {
	parent map[string]string
	rank   map[string]int
}

func newUnionFind() *unionFind {
	return &unionFind{
		parent: make(map[string]string),
		rank:   make(map[string]int),
	}
}

// add registers an id as its own singleton set, if new.
func (u *unionFind) add(id string) {
	if _, ok := u.parent[id]; !ok {
		u.parent[id] = id
	}
}

// find returns the set representative with path compression.
func (u *unionFind) find(id string) string {
	root := id
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[id] != root {
		id, u.parent[id] = u.parent[id], root
	}
	return root
}

// union merges the sets containing a and b, by rank.
func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
}

// members returns every registered id.
func (u *unionFind) members() []string {
	ids := make([]string, 0, len(u.parent))
	for id := range u.parent {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
