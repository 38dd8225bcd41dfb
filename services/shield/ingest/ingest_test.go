// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianShield/services/shield/graph"
)

func newTestIngestor(t *testing.T, opts Options) (*Ingestor, *graph.Store) {
	t.Helper()
	store := graph.NewStore(graph.DefaultStoreOptions())
	return NewIngestor(store, nil, opts), store
}

func TestUpsertNodeAdmits(t *testing.T) {
	in, store := newTestIngestor(t, Options{})
	err := in.UpsertNode(context.Background(), &NodeRequest{
		ID:   "acct-1",
		Type: "ACCOUNT",
		Attrs: map[string]any{
			"opened_at": "2026-01-15T10:00:00Z",
			"balance":   float64(1250),
			"verified":  true,
			"region":    "us-west",
		},
	})
	if err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}
	node, err := store.GetNode("acct-1")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if node.Attrs["opened_at"].Kind != graph.AttrKindTimestamp {
		t.Errorf("opened_at kind = %v, want timestamp", node.Attrs["opened_at"].Kind)
	}
	if node.Attrs["balance"].Kind != graph.AttrKindNumber {
		t.Errorf("balance kind = %v, want number", node.Attrs["balance"].Kind)
	}
	if node.Attrs["region"].Kind != graph.AttrKindString {
		t.Errorf("region kind = %v, want string", node.Attrs["region"].Kind)
	}
}

func TestUpsertNodeValidation(t *testing.T) {
	in, _ := newTestIngestor(t, Options{})
	tests := []struct {
		name string
		req  *NodeRequest
	}{
		{"missing id", &NodeRequest{Type: "ACCOUNT"}},
		{"missing type", &NodeRequest{ID: "acct-1"}},
		{"bad type", &NodeRequest{ID: "acct-1", Type: "WAREHOUSE"}},
		{"bad attr value", &NodeRequest{ID: "acct-1", Type: "ACCOUNT",
			Attrs: map[string]any{"nested": map[string]any{"x": 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := in.UpsertNode(context.Background(), tt.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestAppendEdgePassesThroughStoreErrors(t *testing.T) {
	in, _ := newTestIngestor(t, Options{})
	_, err := in.AppendEdge(context.Background(), &EdgeRequest{
		Type: "TRANSACTION", Src: "acct-x", Dst: "acct-y",
	})
	if !errors.Is(err, graph.ErrUnknownEndpoint) {
		t.Fatalf("err = %v, want ErrUnknownEndpoint", err)
	}
}

func TestAppendEdgeAdmits(t *testing.T) {
	in, store := newTestIngestor(t, Options{})
	for _, id := range []string{"acct-a", "acct-b"} {
		if err := in.UpsertNode(context.Background(), &NodeRequest{ID: id, Type: "ACCOUNT"}); err != nil {
			t.Fatalf("UpsertNode(%s): %v", id, err)
		}
	}
	edge, err := in.AppendEdge(context.Background(), &EdgeRequest{
		Type: "TRANSACTION", Src: "acct-a", Dst: "acct-b",
		Attrs: map[string]any{
			"amount":    float64(950),
			"currency":  "USD",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		t.Fatalf("AppendEdge: %v", err)
	}
	if edge.Amount() != 950 {
		t.Errorf("amount = %f, want 950", edge.Amount())
	}
	if _, ok := edge.Timestamp(); !ok {
		t.Error("expected timestamp attr on edge")
	}
	if store.EdgeCount() != 1 {
		t.Errorf("edge count = %d, want 1", store.EdgeCount())
	}
}

func TestRateLimitRejects(t *testing.T) {
	in, _ := newTestIngestor(t, Options{RateLimit: 1, Burst: 1})
	ctx := context.Background()
	if err := in.UpsertNode(ctx, &NodeRequest{ID: "acct-1", Type: "ACCOUNT"}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	err := in.UpsertNode(ctx, &NodeRequest{ID: "acct-2", Type: "ACCOUNT"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestConvertAttrsEmpty(t *testing.T) {
	attrs, err := ConvertAttrs(nil)
	if err != nil {
		t.Fatalf("ConvertAttrs(nil): %v", err)
	}
	if attrs != nil {
		t.Errorf("expected nil attrs, got %v", attrs)
	}
}
