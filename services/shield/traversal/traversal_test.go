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
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianShield/services/shield/graph"
)

// =============================================================================
// Test Helpers
// =============================================================================

var baseTime = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type testGraph struct {
	t     *testing.T
	store *graph.Store
}

func newTestGraph(t *testing.T) *testGraph {
	t.Helper()
	return &testGraph{t: t, store: graph.NewStore(graph.DefaultStoreOptions())}
}

func (g *testGraph) engine() *Engine {
	return NewEngine(g.store, DefaultOptions())
}

func (g *testGraph) node(id string, typ graph.NodeType, attrs graph.Attrs) {
	g.t.Helper()
	if err := g.store.UpsertNode(id, typ, attrs); err != nil {
		g.t.Fatalf("UpsertNode(%s): %v", id, err)
	}
}

func (g *testGraph) accounts(ids ...string) {
	g.t.Helper()
	for _, id := range ids {
		g.node(id, graph.NodeTypeAccount, nil)
	}
}

// tx appends a transaction edge with the given amount, offset minutes
// after baseTime.
func (g *testGraph) tx(src, dst string, amount float64, offsetMin int) {
	g.t.Helper()
	attrs := graph.Attrs{
		graph.AttrAmount:    graph.Number(amount),
		graph.AttrTimestamp: graph.Timestamp(baseTime.Add(time.Duration(offsetMin) * time.Minute)),
	}
	if _, err := g.store.AppendEdge(graph.EdgeTypeTransaction, src, dst, attrs); err != nil {
		g.t.Fatalf("AppendEdge(%s->%s): %v", src, dst, err)
	}
}

func (g *testGraph) usedDevice(acct, dev string, offsetMin int) {
	g.t.Helper()
	attrs := graph.Attrs{
		graph.AttrTimestamp: graph.Timestamp(baseTime.Add(time.Duration(offsetMin) * time.Minute)),
	}
	if _, err := g.store.AppendEdge(graph.EdgeTypeUsedDevice, acct, dev, attrs); err != nil {
		g.t.Fatalf("AppendEdge(%s->%s): %v", acct, dev, err)
	}
}

// =============================================================================
// Cycle Detection
// =============================================================================

func TestDetectCyclesLaunderingRing(t *testing.T) {
	// Four accounts moving shrinking amounts around a ring over four hours.
	g := newTestGraph(t)
	g.accounts("acct-A", "acct-B", "acct-C", "acct-D")
	g.tx("acct-A", "acct-B", 18500, 0)
	g.tx("acct-B", "acct-C", 17700, 60)
	g.tx("acct-C", "acct-D", 16900, 120)
	g.tx("acct-D", "acct-A", 16100, 180)

	res, err := g.engine().DetectCycles(context.Background(), "acct-A", CycleOptions{MinHops: 3, MaxHops: 6})
	if err != nil {
		t.Fatalf("DetectCycles: %v", err)
	}
	if len(res.Cycles) != 1 {
		t.Fatalf("cycles = %d, want exactly 1", len(res.Cycles))
	}
	c := res.Cycles[0]
	want := []string{"acct-A", "acct-B", "acct-C", "acct-D"}
	if !slices.Equal(c.NodeIDs, want) {
		t.Fatalf("cycle nodes = %v, want %v", c.NodeIDs, want)
	}
	if c.TotalAmount != 69200 {
		t.Fatalf("TotalAmount = %v, want 69200", c.TotalAmount)
	}
	if len(c.Edges) != 4 {
		t.Fatalf("cycle length = %d, want 4", len(c.Edges))
	}
	if c.SpanSeconds != 3*3600 {
		t.Fatalf("SpanSeconds = %v, want %v", c.SpanSeconds, 3*3600)
	}
	if res.Truncated {
		t.Fatal("small graph must not truncate")
	}
}

func TestDetectCyclesTemporalOrdering(t *testing.T) {
	// Same ring, but one hop goes backwards in time: not a laundering
	// sequence, so no cycle is reported.
	g := newTestGraph(t)
	g.accounts("a", "b", "c")
	g.tx("a", "b", 100, 60)
	g.tx("b", "c", 100, 0) // earlier than a->b
	g.tx("c", "a", 100, 120)

	res, err := g.engine().DetectCycles(context.Background(), "a", CycleOptions{})
	if err != nil {
		t.Fatalf("DetectCycles: %v", err)
	}
	if len(res.Cycles) != 0 {
		t.Fatalf("cycles = %d, want 0 (time-regressed hop)", len(res.Cycles))
	}
}

func TestDetectCyclesHopBounds(t *testing.T) {
	g := newTestGraph(t)
	g.accounts("a", "b", "c", "d")
	g.tx("a", "b", 100, 0)
	g.tx("b", "c", 100, 10)
	g.tx("c", "d", 100, 20)
	g.tx("d", "a", 100, 30)

	tests := []struct {
		name string
		opts CycleOptions
		want int
	}{
		{"within bounds", CycleOptions{MinHops: 3, MaxHops: 6}, 1},
		{"min above length", CycleOptions{MinHops: 5, MaxHops: 6}, 0},
		{"max below length", CycleOptions{MinHops: 3, MaxHops: 3}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := g.engine().DetectCycles(context.Background(), "a", tt.opts)
			if err != nil {
				t.Fatalf("DetectCycles: %v", err)
			}
			if len(res.Cycles) != tt.want {
				t.Fatalf("cycles = %d, want %d", len(res.Cycles), tt.want)
			}
		})
	}
}

func TestDetectCyclesAmountFilters(t *testing.T) {
	g := newTestGraph(t)
	g.accounts("a", "b", "c")
	g.tx("a", "b", 50, 0)
	g.tx("b", "c", 50, 10)
	g.tx("c", "a", 50, 20)

	res, err := g.engine().DetectCycles(context.Background(), "a", CycleOptions{MinEdgeAmount: 100})
	if err != nil {
		t.Fatalf("DetectCycles: %v", err)
	}
	if len(res.Cycles) != 0 {
		t.Fatal("edge amount filter must prune the cycle")
	}

	res, err = g.engine().DetectCycles(context.Background(), "a", CycleOptions{MinTotalAmount: 1000})
	if err != nil {
		t.Fatalf("DetectCycles: %v", err)
	}
	if len(res.Cycles) != 0 {
		t.Fatal("total amount filter must suppress the cycle")
	}
}

func TestDetectCyclesUnknownStart(t *testing.T) {
	g := newTestGraph(t)
	_, err := g.engine().DetectCycles(context.Background(), "ghost", CycleOptions{})
	if !errors.Is(err, graph.ErrNodeNotFound) {
		t.Fatalf("unknown start: got %v, want ErrNodeNotFound", err)
	}
}

func TestDetectCyclesTruncation(t *testing.T) {
	// Dense mesh: every account pays every later account, far more
	// expansions than the budget allows.
	g := newTestGraph(t)
	const n = 30
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("m-%02d", i)
	}
	g.accounts(ids...)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				g.tx(ids[i], ids[j], 10, i)
			}
		}
	}

	eng := NewEngine(g.store, Options{MaxVisited: 50, Timeout: time.Second})
	res, err := eng.DetectCycles(context.Background(), ids[0], CycleOptions{MinHops: 3, MaxHops: 6})
	if err != nil {
		t.Fatalf("DetectCycles: %v", err)
	}
	if !res.Truncated {
		t.Fatal("budget-limited search must report Truncated")
	}
	if res.Visited == 0 {
		t.Fatal("Visited not recorded")
	}
}

// =============================================================================
// Star Detection
// =============================================================================

func TestDetectStarThreshold(t *testing.T) {
	build := func(t *testing.T, accounts int) *testGraph {
		g := newTestGraph(t)
		g.node("dev-1", graph.NodeTypeDevice, nil)
		for i := 0; i < accounts; i++ {
			id := fmt.Sprintf("acct-%d", i)
			g.accounts(id)
			g.usedDevice(id, "dev-1", i)
		}
		return g
	}

	t.Run("five accounts flags the device", func(t *testing.T) {
		g := build(t, 5)
		res, err := g.engine().DetectStar(context.Background(), "dev-1", StarOptions{Threshold: 5})
		if err != nil {
			t.Fatalf("DetectStar: %v", err)
		}
		if !res.Flagged {
			t.Fatal("five distinct accounts must flag the hub")
		}
		if !res.ShortCircuited {
			t.Fatal("non-exact count must short-circuit at the threshold")
		}
	})

	t.Run("four accounts stays unflagged", func(t *testing.T) {
		g := build(t, 4)
		res, err := g.engine().DetectStar(context.Background(), "dev-1", StarOptions{Threshold: 5})
		if err != nil {
			t.Fatalf("DetectStar: %v", err)
		}
		if res.Flagged {
			t.Fatal("four distinct accounts must not flag the hub")
		}
		if res.NeighborCount != 4 {
			t.Fatalf("NeighborCount = %d, want 4", res.NeighborCount)
		}
	})
}

func TestDetectStarDistinctNeighbors(t *testing.T) {
	// One account touching the device many times counts once.
	g := newTestGraph(t)
	g.node("dev-1", graph.NodeTypeDevice, nil)
	g.accounts("acct-1")
	for i := 0; i < 10; i++ {
		g.usedDevice("acct-1", "dev-1", i)
	}

	res, err := g.engine().DetectStar(context.Background(), "dev-1", StarOptions{Threshold: 5, Exact: true})
	if err != nil {
		t.Fatalf("DetectStar: %v", err)
	}
	if res.NeighborCount != 1 {
		t.Fatalf("NeighborCount = %d, want 1 (distinct)", res.NeighborCount)
	}
	if res.Flagged {
		t.Fatal("one distinct neighbor must not flag")
	}
}

func TestDetectStarWindow(t *testing.T) {
	g := newTestGraph(t)
	g.node("dev-1", graph.NodeTypeDevice, nil)
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("acct-%d", i)
		g.accounts(id)
		g.usedDevice(id, "dev-1", i*60) // one per hour
	}

	// Window covering only the first three hours.
	res, err := g.engine().DetectStar(context.Background(), "dev-1", StarOptions{
		Threshold: 5,
		Exact:     true,
		Window:    TimeWindow{From: baseTime, To: baseTime.Add(2*time.Hour + time.Minute)},
	})
	if err != nil {
		t.Fatalf("DetectStar: %v", err)
	}
	if res.NeighborCount != 3 {
		t.Fatalf("windowed NeighborCount = %d, want 3", res.NeighborCount)
	}
	if res.Flagged {
		t.Fatal("windowed count below threshold must not flag")
	}
}

func TestDetectStarExactCount(t *testing.T) {
	g := newTestGraph(t)
	g.node("dev-1", graph.NodeTypeDevice, nil)
	for i := 0; i < 9; i++ {
		id := fmt.Sprintf("acct-%d", i)
		g.accounts(id)
		g.usedDevice(id, "dev-1", i)
	}

	res, err := g.engine().DetectStar(context.Background(), "dev-1", StarOptions{Threshold: 5, Exact: true})
	if err != nil {
		t.Fatalf("DetectStar: %v", err)
	}
	if res.NeighborCount != 9 {
		t.Fatalf("exact NeighborCount = %d, want 9", res.NeighborCount)
	}
	if res.ShortCircuited {
		t.Fatal("exact count must not short-circuit")
	}
}

func TestDetectStarDefaultDirection(t *testing.T) {
	// A device hub only carries incoming USED_DEVICE edges, so a
	// query that leaves Direction unset must walk both lists.
	g := newTestGraph(t)
	g.node("dev-1", graph.NodeTypeDevice, nil)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("acct-%d", i)
		g.accounts(id)
		g.usedDevice(id, "dev-1", i)
	}

	res, err := g.engine().DetectStar(context.Background(), "dev-1", StarOptions{Threshold: 5})
	if err != nil {
		t.Fatalf("DetectStar: %v", err)
	}
	if res.NeighborCount != 3 {
		t.Fatalf("NeighborCount = %d, want 3", res.NeighborCount)
	}
}

// =============================================================================
// Path Tracing
// =============================================================================

func TestTracePathsFindsAll(t *testing.T) {
	// Two routes from src to dst: direct, and through a mule.
	g := newTestGraph(t)
	g.accounts("src", "mule", "dst")
	g.tx("src", "dst", 500, 0)
	g.tx("src", "mule", 400, 10)
	g.tx("mule", "dst", 390, 20)

	res, err := g.engine().TracePaths(context.Background(), "src", "dst", PathOptions{MaxHops: 4})
	if err != nil {
		t.Fatalf("TracePaths: %v", err)
	}
	if len(res.Paths) != 2 {
		t.Fatalf("paths = %d, want 2", len(res.Paths))
	}
	var lengths []int
	for _, p := range res.Paths {
		lengths = append(lengths, len(p.Edges))
	}
	slices.Sort(lengths)
	if !slices.Equal(lengths, []int{1, 2}) {
		t.Fatalf("path lengths = %v, want [1 2]", lengths)
	}
}

func TestTracePathsHopBound(t *testing.T) {
	g := newTestGraph(t)
	g.accounts("a", "b", "c", "d")
	g.tx("a", "b", 100, 0)
	g.tx("b", "c", 100, 10)
	g.tx("c", "d", 100, 20)

	res, err := g.engine().TracePaths(context.Background(), "a", "d", PathOptions{MaxHops: 2})
	if err != nil {
		t.Fatalf("TracePaths: %v", err)
	}
	if len(res.Paths) != 0 {
		t.Fatalf("paths = %d, want 0 under 2-hop bound", len(res.Paths))
	}

	res, err = g.engine().TracePaths(context.Background(), "a", "d", PathOptions{MaxHops: 3})
	if err != nil {
		t.Fatalf("TracePaths: %v", err)
	}
	if len(res.Paths) != 1 {
		t.Fatalf("paths = %d, want 1 under 3-hop bound", len(res.Paths))
	}
}

func TestTracePathsTopKRecency(t *testing.T) {
	g := newTestGraph(t)
	g.accounts("src", "old", "new", "dst")
	g.tx("src", "old", 100, 0)
	g.tx("old", "dst", 100, 10)
	g.tx("src", "new", 100, 500)
	g.tx("new", "dst", 100, 510)

	res, err := g.engine().TracePaths(context.Background(), "src", "dst", PathOptions{MaxHops: 3, TopK: 1})
	if err != nil {
		t.Fatalf("TracePaths: %v", err)
	}
	if len(res.Paths) != 1 {
		t.Fatalf("paths = %d, want 1 after TopK", len(res.Paths))
	}
	want := []string{"src", "new", "dst"}
	if !slices.Equal(res.Paths[0].NodeIDs, want) {
		t.Fatalf("kept path = %v, want most recent %v", res.Paths[0].NodeIDs, want)
	}
}

func TestTracePathsUnknownEndpoint(t *testing.T) {
	g := newTestGraph(t)
	g.accounts("a")
	if _, err := g.engine().TracePaths(context.Background(), "a", "ghost", PathOptions{}); !errors.Is(err, graph.ErrNodeNotFound) {
		t.Fatalf("unknown dst: got %v, want ErrNodeNotFound", err)
	}
	if _, err := g.engine().TracePaths(context.Background(), "ghost", "a", PathOptions{}); !errors.Is(err, graph.ErrNodeNotFound) {
		t.Fatalf("unknown src: got %v, want ErrNodeNotFound", err)
	}
}

// =============================================================================
// Bipartite Collusion
// =============================================================================

func TestDetectBipartitePairs(t *testing.T) {
	// Customer c-1 and merchant m-1 share three mule accounts; c-2 and
	// m-1 share only one.
	g := newTestGraph(t)
	g.node("c-1", graph.NodeTypeCustomer, nil)
	g.node("c-2", graph.NodeTypeCustomer, nil)
	g.node("m-1", graph.NodeTypeMerchant, nil)
	g.accounts("mule-1", "mule-2", "mule-3")

	for i, mule := range []string{"mule-1", "mule-2", "mule-3"} {
		g.tx("c-1", mule, 200, i*10)
		g.tx(mule, "m-1", 195, i*10+5)
	}
	g.tx("c-2", "mule-1", 50, 100)

	res, err := g.engine().DetectBipartite(context.Background(), BipartiteOptions{
		ClassA:          graph.NodeTypeCustomer,
		ClassB:          graph.NodeTypeMerchant,
		SharedThreshold: 3,
	})
	if err != nil {
		t.Fatalf("DetectBipartite: %v", err)
	}
	if len(res.Pairs) != 1 {
		t.Fatalf("pairs = %d, want 1", len(res.Pairs))
	}
	p := res.Pairs[0]
	if p.A != "c-1" || p.B != "m-1" {
		t.Fatalf("pair = (%s, %s), want (c-1, m-1)", p.A, p.B)
	}
	if p.SharedCount != 3 {
		t.Fatalf("SharedCount = %d, want 3", p.SharedCount)
	}
	wantShared := []string{"mule-1", "mule-2", "mule-3"}
	if !slices.Equal(p.SharedIDs, wantShared) {
		t.Fatalf("SharedIDs = %v, want %v", p.SharedIDs, wantShared)
	}
}

func TestDetectBipartiteBelowThreshold(t *testing.T) {
	g := newTestGraph(t)
	g.node("c-1", graph.NodeTypeCustomer, nil)
	g.node("m-1", graph.NodeTypeMerchant, nil)
	g.accounts("mule-1", "mule-2")
	for i, mule := range []string{"mule-1", "mule-2"} {
		g.tx("c-1", mule, 100, i*10)
		g.tx(mule, "m-1", 95, i*10+5)
	}

	res, err := g.engine().DetectBipartite(context.Background(), BipartiteOptions{SharedThreshold: 3})
	if err != nil {
		t.Fatalf("DetectBipartite: %v", err)
	}
	if len(res.Pairs) != 0 {
		t.Fatalf("pairs = %d, want 0 below threshold", len(res.Pairs))
	}
}

// =============================================================================
// Similarity
// =============================================================================

func TestDetectSimilarSharedAttributes(t *testing.T) {
	g := newTestGraph(t)
	g.node("c-1", graph.NodeTypeCustomer, graph.Attrs{"ssn": graph.String("123-45-6789")})
	g.node("c-2", graph.NodeTypeCustomer, graph.Attrs{"ssn": graph.String("123-45-6789")})
	g.node("c-3", graph.NodeTypeCustomer, graph.Attrs{
		"ssn":     graph.String("999-99-9999"),
		"address": graph.String("12 Main St"),
	})

	res, err := g.engine().DetectSimilar(context.Background(), "c-1", SimilarityOptions{})
	if err != nil {
		t.Fatalf("DetectSimilar: %v", err)
	}
	if len(res.Clusters) != 1 {
		t.Fatalf("clusters = %d, want 1", len(res.Clusters))
	}
	c := res.Clusters[0]
	if !slices.Equal(c.NodeIDs, []string{"c-1", "c-2"}) {
		t.Fatalf("cluster members = %v, want [c-1 c-2]", c.NodeIDs)
	}
	if !slices.Equal(c.MatchKinds, []string{"ssn"}) {
		t.Fatalf("match kinds = %v, want [ssn]", c.MatchKinds)
	}
}

func TestDetectSimilarFoldsLinkedEdges(t *testing.T) {
	// c-2 matches c-1 by SSN; c-3 is pre-linked to c-2 with an explicit
	// SHARES_ATTRIBUTE edge, so all three form one component.
	g := newTestGraph(t)
	g.node("c-1", graph.NodeTypeCustomer, graph.Attrs{"ssn": graph.String("123-45-6789")})
	g.node("c-2", graph.NodeTypeCustomer, graph.Attrs{"ssn": graph.String("123-45-6789")})
	g.node("c-3", graph.NodeTypeCustomer, nil)
	attrs := graph.Attrs{graph.AttrMatchKind: graph.String("address")}
	if _, err := g.store.AppendEdge(graph.EdgeTypeSharesAttribute, "c-2", "c-3", attrs); err != nil {
		t.Fatalf("AppendEdge: %v", err)
	}

	res, err := g.engine().DetectSimilar(context.Background(), "c-1", SimilarityOptions{})
	if err != nil {
		t.Fatalf("DetectSimilar: %v", err)
	}
	if len(res.Clusters) != 1 {
		t.Fatalf("clusters = %d, want 1", len(res.Clusters))
	}
	c := res.Clusters[0]
	if !slices.Equal(c.NodeIDs, []string{"c-1", "c-2", "c-3"}) {
		t.Fatalf("cluster members = %v, want [c-1 c-2 c-3]", c.NodeIDs)
	}
	if !slices.Contains(c.MatchKinds, "address") || !slices.Contains(c.MatchKinds, "ssn") {
		t.Fatalf("match kinds = %v, want both ssn and address", c.MatchKinds)
	}
}

func TestDetectSimilarNoMatches(t *testing.T) {
	g := newTestGraph(t)
	g.node("c-1", graph.NodeTypeCustomer, graph.Attrs{"ssn": graph.String("123-45-6789")})

	res, err := g.engine().DetectSimilar(context.Background(), "c-1", SimilarityOptions{})
	if err != nil {
		t.Fatalf("DetectSimilar: %v", err)
	}
	if len(res.Clusters) != 0 || res.MatchedNodes != 0 {
		t.Fatalf("unexpected matches: %+v", res)
	}
}
