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
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Test Helpers
// =============================================================================

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(DefaultStoreOptions())
}

func mustNode(t *testing.T, s *Store, id string, typ NodeType) {
	t.Helper()
	if err := s.UpsertNode(id, typ, nil); err != nil {
		t.Fatalf("UpsertNode(%s): %v", id, err)
	}
}

func txAttrs(amount float64, ts time.Time) Attrs {
	return Attrs{
		AttrAmount:    Number(amount),
		AttrTimestamp: Timestamp(ts),
	}
}

// =============================================================================
// Node Admission
// =============================================================================

func TestUpsertNodeIdempotent(t *testing.T) {
	s := newTestStore(t)
	mustNode(t, s, "acct-1", NodeTypeAccount)
	mustNode(t, s, "acct-1", NodeTypeAccount)

	if got := s.NodeCount(); got != 1 {
		t.Fatalf("NodeCount = %d, want 1", got)
	}
}

func TestUpsertNodeTypeConflict(t *testing.T) {
	s := newTestStore(t)
	mustNode(t, s, "x", NodeTypeAccount)

	err := s.UpsertNode("x", NodeTypeDevice, nil)
	if !errors.Is(err, ErrTypeConflict) {
		t.Fatalf("UpsertNode type conflict: got %v, want ErrTypeConflict", err)
	}
	// Original node untouched.
	node, err := s.GetNode("x")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if node.Type != NodeTypeAccount {
		t.Fatalf("node type = %s, want account", node.Type)
	}
}

func TestUpsertNodeAttrRefresh(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertNode("c-1", NodeTypeCustomer, Attrs{"phone": String("555-0100")}); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}
	before, _ := s.GetNode("c-1")

	if err := s.UpsertNode("c-1", NodeTypeCustomer, Attrs{"address": String("12 Main St")}); err != nil {
		t.Fatalf("UpsertNode refresh: %v", err)
	}
	after, _ := s.GetNode("c-1")

	if after == before {
		t.Fatal("attribute refresh must publish a new Node pointer")
	}
	if after.Attrs["phone"].Str != "555-0100" {
		t.Fatalf("refresh dropped existing attribute: %+v", after.Attrs)
	}
	if after.Attrs["address"].Str != "12 Main St" {
		t.Fatalf("refresh missing new attribute: %+v", after.Attrs)
	}
	if len(before.Attrs) != 1 {
		t.Fatalf("original node mutated: %+v", before.Attrs)
	}
}

func TestUpsertNodeRejectsInvalidAttr(t *testing.T) {
	s := newTestStore(t)
	err := s.UpsertNode("bad", NodeTypeAccount, Attrs{"oops": {}})
	if !errors.Is(err, ErrUnknownAttributeKind) {
		t.Fatalf("invalid attr: got %v, want ErrUnknownAttributeKind", err)
	}
	if s.HasNode("bad") {
		t.Fatal("rejected node must not be admitted")
	}
}

func TestUpsertNodeCapacity(t *testing.T) {
	s := NewStore(StoreOptions{MaxNodes: 2, MaxEdges: 10, ShardCount: 4})
	mustNode(t, s, "a", NodeTypeAccount)
	mustNode(t, s, "b", NodeTypeAccount)

	if err := s.UpsertNode("c", NodeTypeAccount, nil); !errors.Is(err, ErrMaxNodesExceeded) {
		t.Fatalf("over capacity: got %v, want ErrMaxNodesExceeded", err)
	}
	// Upsert of an existing node still succeeds at capacity.
	mustNode(t, s, "a", NodeTypeAccount)
}

func TestMarkInactiveKeepsNodeTraversable(t *testing.T) {
	s := newTestStore(t)
	mustNode(t, s, "a", NodeTypeAccount)
	mustNode(t, s, "b", NodeTypeAccount)
	ts := time.Now()
	if _, err := s.AppendEdge(EdgeTypeTransaction, "a", "b", txAttrs(10, ts)); err != nil {
		t.Fatalf("AppendEdge: %v", err)
	}

	if err := s.MarkInactive("a"); err != nil {
		t.Fatalf("MarkInactive: %v", err)
	}
	node, err := s.GetNode("a")
	if err != nil {
		t.Fatalf("GetNode after retire: %v", err)
	}
	if !node.Inactive {
		t.Fatal("node not marked inactive")
	}
	if got := s.Degree("a", EdgeTypeTransaction, DirectionOut); got != 1 {
		t.Fatalf("inactive node lost edges: degree = %d, want 1", got)
	}

	if err := s.MarkInactive("ghost"); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("MarkInactive(ghost): got %v, want ErrNodeNotFound", err)
	}
}

// =============================================================================
// Edge Admission
// =============================================================================

func TestAppendEdgeUnknownEndpoint(t *testing.T) {
	s := newTestStore(t)
	mustNode(t, s, "a", NodeTypeAccount)

	if _, err := s.AppendEdge(EdgeTypeTransaction, "a", "ghost", nil); !errors.Is(err, ErrUnknownEndpoint) {
		t.Fatalf("missing target: got %v, want ErrUnknownEndpoint", err)
	}
	if _, err := s.AppendEdge(EdgeTypeTransaction, "ghost", "a", nil); !errors.Is(err, ErrUnknownEndpoint) {
		t.Fatalf("missing source: got %v, want ErrUnknownEndpoint", err)
	}
	if got := s.EdgeCount(); got != 0 {
		t.Fatalf("rejected edges admitted: EdgeCount = %d", got)
	}
}

func TestAppendEdgeVisibleBothDirections(t *testing.T) {
	s := newTestStore(t)
	mustNode(t, s, "a", NodeTypeAccount)
	mustNode(t, s, "b", NodeTypeAccount)
	edge, err := s.AppendEdge(EdgeTypeTransaction, "a", "b", txAttrs(125.50, time.Now()))
	if err != nil {
		t.Fatalf("AppendEdge: %v", err)
	}
	if edge.Amount() != 125.50 {
		t.Fatalf("Amount = %v, want 125.50", edge.Amount())
	}

	var outNbrs, inNbrs []string
	for nbr := range s.Neighbors("a", EdgeTypeTransaction, DirectionOut) {
		outNbrs = append(outNbrs, nbr)
	}
	for nbr := range s.Neighbors("b", EdgeTypeTransaction, DirectionIn) {
		inNbrs = append(inNbrs, nbr)
	}
	if len(outNbrs) != 1 || outNbrs[0] != "b" {
		t.Fatalf("out neighbors of a = %v, want [b]", outNbrs)
	}
	if len(inNbrs) != 1 || inNbrs[0] != "a" {
		t.Fatalf("in neighbors of b = %v, want [a]", inNbrs)
	}
}

func TestAppendEdgeOutOfOrderPolicies(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("warn admits regressions", func(t *testing.T) {
		s := NewStore(StoreOptions{OutOfOrder: OutOfOrderWarn})
		mustNode(t, s, "a", NodeTypeAccount)
		mustNode(t, s, "b", NodeTypeAccount)
		if _, err := s.AppendEdge(EdgeTypeTransaction, "a", "b", txAttrs(1, base)); err != nil {
			t.Fatalf("first edge: %v", err)
		}
		if _, err := s.AppendEdge(EdgeTypeTransaction, "a", "b", txAttrs(2, base.Add(-time.Hour))); err != nil {
			t.Fatalf("regressed edge under warn: %v", err)
		}
		if got := s.EdgeCount(); got != 2 {
			t.Fatalf("EdgeCount = %d, want 2", got)
		}
	})

	t.Run("reject refuses regressions", func(t *testing.T) {
		s := NewStore(StoreOptions{OutOfOrder: OutOfOrderReject})
		mustNode(t, s, "a", NodeTypeAccount)
		mustNode(t, s, "b", NodeTypeAccount)
		if _, err := s.AppendEdge(EdgeTypeTransaction, "a", "b", txAttrs(1, base)); err != nil {
			t.Fatalf("first edge: %v", err)
		}
		_, err := s.AppendEdge(EdgeTypeTransaction, "a", "b", txAttrs(2, base.Add(-time.Hour)))
		if !errors.Is(err, ErrOutOfOrderEdge) {
			t.Fatalf("regressed edge under reject: got %v, want ErrOutOfOrderEdge", err)
		}
		if got := s.EdgeCount(); got != 1 {
			t.Fatalf("EdgeCount = %d, want 1", got)
		}
	})

	t.Run("streams are independent per source and type", func(t *testing.T) {
		s := NewStore(StoreOptions{OutOfOrder: OutOfOrderReject})
		mustNode(t, s, "a", NodeTypeAccount)
		mustNode(t, s, "b", NodeTypeAccount)
		mustNode(t, s, "dev", NodeTypeDevice)
		if _, err := s.AppendEdge(EdgeTypeTransaction, "a", "b", txAttrs(1, base)); err != nil {
			t.Fatalf("transaction edge: %v", err)
		}
		// Earlier timestamp, but a different edge-type stream.
		attrs := Attrs{AttrTimestamp: Timestamp(base.Add(-time.Hour))}
		if _, err := s.AppendEdge(EdgeTypeUsedDevice, "a", "dev", attrs); err != nil {
			t.Fatalf("used-device edge: %v", err)
		}
		// Earlier timestamp, different source.
		if _, err := s.AppendEdge(EdgeTypeTransaction, "b", "a", txAttrs(1, base.Add(-time.Hour))); err != nil {
			t.Fatalf("edge from other source: %v", err)
		}
	})
}

func TestAppendEdgeCapacity(t *testing.T) {
	s := NewStore(StoreOptions{MaxNodes: 10, MaxEdges: 1, ShardCount: 4})
	mustNode(t, s, "a", NodeTypeAccount)
	mustNode(t, s, "b", NodeTypeAccount)
	if _, err := s.AppendEdge(EdgeTypeTransaction, "a", "b", nil); err != nil {
		t.Fatalf("first edge: %v", err)
	}
	if _, err := s.AppendEdge(EdgeTypeTransaction, "b", "a", nil); !errors.Is(err, ErrMaxEdgesExceeded) {
		t.Fatalf("over capacity: got %v, want ErrMaxEdgesExceeded", err)
	}
}

func TestSelfLoopAdmitted(t *testing.T) {
	s := newTestStore(t)
	mustNode(t, s, "a", NodeTypeAccount)
	if _, err := s.AppendEdge(EdgeTypeTransaction, "a", "a", txAttrs(5, time.Now())); err != nil {
		t.Fatalf("self loop: %v", err)
	}
	if got := s.Degree("a", EdgeTypeTransaction, DirectionBoth); got != 2 {
		t.Fatalf("self loop degree = %d, want 2 (out + in)", got)
	}
}

// =============================================================================
// Queries
// =============================================================================

func TestNodesByType(t *testing.T) {
	s := newTestStore(t)
	mustNode(t, s, "acct-1", NodeTypeAccount)
	mustNode(t, s, "acct-2", NodeTypeAccount)
	mustNode(t, s, "dev-1", NodeTypeDevice)

	accounts := make(map[string]bool)
	for id := range s.NodesByType(NodeTypeAccount) {
		accounts[id] = true
	}
	if len(accounts) != 2 || !accounts["acct-1"] || !accounts["acct-2"] {
		t.Fatalf("accounts = %v, want {acct-1, acct-2}", accounts)
	}

	var devices int
	for range s.NodesByType(NodeTypeDevice) {
		devices++
	}
	if devices != 1 {
		t.Fatalf("devices = %d, want 1", devices)
	}
}

func TestNeighborsEarlyStop(t *testing.T) {
	s := newTestStore(t)
	mustNode(t, s, "hub", NodeTypeAccount)
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("n-%d", i)
		mustNode(t, s, id, NodeTypeAccount)
		if _, err := s.AppendEdge(EdgeTypeTransaction, "hub", id, nil); err != nil {
			t.Fatalf("AppendEdge: %v", err)
		}
	}

	var seen int
	for range s.Neighbors("hub", EdgeTypeTransaction, DirectionOut) {
		seen++
		if seen == 3 {
			break
		}
	}
	if seen != 3 {
		t.Fatalf("early stop consumed %d, want 3", seen)
	}

	// The sequence restarts from a fresh capture.
	var total int
	for range s.Neighbors("hub", EdgeTypeTransaction, DirectionOut) {
		total++
	}
	if total != 10 {
		t.Fatalf("full iteration saw %d, want 10", total)
	}
}

func TestNodesSharingAttr(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertNode("c-1", NodeTypeCustomer, Attrs{"ssn": String("123-45-6789")}); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}
	if err := s.UpsertNode("c-2", NodeTypeCustomer, Attrs{"ssn": String("123-45-6789")}); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}
	if err := s.UpsertNode("c-3", NodeTypeCustomer, Attrs{"ssn": String("999-99-9999")}); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}

	ids := s.NodesSharingAttr("ssn", "123-45-6789")
	if len(ids) != 2 {
		t.Fatalf("NodesSharingAttr = %v, want 2 ids", ids)
	}
	if s.NodesSharingAttr("ssn", "000-00-0000") != nil {
		t.Fatal("unmatched value must return nil")
	}
}

func TestNodesSharingAttrRepeatedUpserts(t *testing.T) {
	// Interleaved re-upserts of nodes sharing a value must not grow
	// the inverted index.
	s := newTestStore(t)
	attrs := Attrs{"ssn": String("123-45-6789")}
	for i := 0; i < 3; i++ {
		if err := s.UpsertNode("c-1", NodeTypeCustomer, attrs); err != nil {
			t.Fatalf("UpsertNode(c-1): %v", err)
		}
		if err := s.UpsertNode("c-2", NodeTypeCustomer, attrs); err != nil {
			t.Fatalf("UpsertNode(c-2): %v", err)
		}
	}

	ids := s.NodesSharingAttr("ssn", "123-45-6789")
	if len(ids) != 2 {
		t.Fatalf("NodesSharingAttr = %v, want exactly [c-1 c-2]", ids)
	}
}

func TestVerifyEdge(t *testing.T) {
	s := newTestStore(t)
	mustNode(t, s, "a", NodeTypeAccount)
	mustNode(t, s, "b", NodeTypeAccount)
	edge, err := s.AppendEdge(EdgeTypeTransaction, "a", "b", nil)
	if err != nil {
		t.Fatalf("AppendEdge: %v", err)
	}
	if err := s.VerifyEdge(edge); err != nil {
		t.Fatalf("VerifyEdge: %v", err)
	}
	phantom := &Edge{FromID: "a", ToID: "ghost", Type: EdgeTypeTransaction}
	if err := s.VerifyEdge(phantom); !errors.Is(err, ErrStoreCorrupted) {
		t.Fatalf("phantom edge: got %v, want ErrStoreCorrupted", err)
	}
}

// =============================================================================
// Concurrency
// =============================================================================

func TestConcurrentIngestConsistency(t *testing.T) {
	const (
		writers        = 8
		edgesPerWriter = 200
	)
	s := newTestStore(t)
	for i := 0; i < writers; i++ {
		mustNode(t, s, fmt.Sprintf("w-%d", i), NodeTypeAccount)
	}

	var wg sync.WaitGroup
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			src := fmt.Sprintf("w-%d", w)
			dst := fmt.Sprintf("w-%d", (w+1)%writers)
			for i := 0; i < edgesPerWriter; i++ {
				attrs := txAttrs(float64(i), base.Add(time.Duration(i)*time.Second))
				if _, err := s.AppendEdge(EdgeTypeTransaction, src, dst, attrs); err != nil {
					t.Errorf("writer %d edge %d: %v", w, i, err)
					return
				}
			}
		}(w)
	}

	// Concurrent readers must always observe consistent edges.
	done := make(chan struct{})
	var rg sync.WaitGroup
	for r := 0; r < 4; r++ {
		rg.Add(1)
		go func() {
			defer rg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				for _, edge := range s.Neighbors("w-0", EdgeTypeTransaction, DirectionBoth) {
					if err := s.VerifyEdge(edge); err != nil {
						t.Errorf("reader saw corrupt edge: %v", err)
						return
					}
				}
			}
		}()
	}

	wg.Wait()
	close(done)
	rg.Wait()

	if got := s.EdgeCount(); got != writers*edgesPerWriter {
		t.Fatalf("EdgeCount = %d, want %d", got, writers*edgesPerWriter)
	}
	for w := 0; w < writers; w++ {
		id := fmt.Sprintf("w-%d", w)
		if got := s.Degree(id, EdgeTypeTransaction, DirectionOut); got != edgesPerWriter {
			t.Fatalf("out degree of %s = %d, want %d", id, got, edgesPerWriter)
		}
		if got := s.Degree(id, EdgeTypeTransaction, DirectionIn); got != edgesPerWriter {
			t.Fatalf("in degree of %s = %d, want %d", id, got, edgesPerWriter)
		}
	}
}

// =============================================================================
// Type Parsing
// =============================================================================

func TestParseNodeType(t *testing.T) {
	tests := []struct {
		in      string
		want    NodeType
		wantErr bool
	}{
		{"account", NodeTypeAccount, false},
		{"ACCOUNT", NodeTypeAccount, false},
		{"Merchant", NodeTypeMerchant, false},
		{"device", NodeTypeDevice, false},
		{"customer", NodeTypeCustomer, false},
		{"unknown", NodeTypeUnknown, true},
		{"", NodeTypeUnknown, true},
		{"wallet", NodeTypeUnknown, true},
	}
	for _, tt := range tests {
		got, err := ParseNodeType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseNodeType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseNodeType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseEdgeType(t *testing.T) {
	tests := []struct {
		in      string
		want    EdgeType
		wantErr bool
	}{
		{"TRANSACTION", EdgeTypeTransaction, false},
		{"transaction", EdgeTypeTransaction, false},
		{"USED_DEVICE", EdgeTypeUsedDevice, false},
		{"shares_attribute", EdgeTypeSharesAttribute, false},
		{"unknown", EdgeTypeUnknown, true},
		{"", EdgeTypeUnknown, true},
	}
	for _, tt := range tests {
		got, err := ParseEdgeType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseEdgeType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseEdgeType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
