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
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianShield/services/shield/graph"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

// =============================================================================
// Ingestor
// =============================================================================

// Ingestion defaults.
const (
	// DefaultRateLimit is the sustained admissions per second.
	DefaultRateLimit = 5000

	// DefaultBurst is the burst size above the sustained rate.
	DefaultBurst = 1000
)

// NodeRequest is the wire form of a node upsert.
type NodeRequest struct {
	ID    string         `json:"id" validate:"required,max=256"`
	Type  string         `json:"type" validate:"required"`
	Attrs map[string]any `json:"attrs" validate:"omitempty,max=64"`
}

// EdgeRequest is the wire form of an edge append.
type EdgeRequest struct {
	Type  string         `json:"type" validate:"required"`
	Src   string         `json:"src" validate:"required,max=256"`
	Dst   string         `json:"dst" validate:"required,max=256"`
	Attrs map[string]any `json:"attrs" validate:"omitempty,max=64"`
}

// Options configures the ingestor.
type Options struct {
	// RateLimit is the sustained admissions per second. Default: 5000
	RateLimit float64

	// Burst is the token bucket burst size. Default: 1000
	Burst int
}

// Validate checks options and applies defaults for invalid values.
func (o *Options) Validate() {
	if o.RateLimit <= 0 {
		o.RateLimit = DefaultRateLimit
	}
	if o.Burst <= 0 {
		o.Burst = DefaultBurst
	}
}

// Ingestor validates and admits nodes and edges into the store.
type Ingestor struct {
	store    *graph.Store
	validate *validator.Validate
	limiter  *rate.Limiter
	logger   *slog.Logger

	nodesRejected metric.Int64Counter
	edgesRejected metric.Int64Counter
}

// NewIngestor creates an ingestor over the given store.
func NewIngestor(store *graph.Store, logger *slog.Logger, opts Options) *Ingestor {
	opts.Validate()
	if logger == nil {
		logger = slog.Default()
	}
	in := &Ingestor{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		limiter:  rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst),
		logger:   logger.With("component", "ingest"),
	}
	meter := otel.Meter("shield.ingest")
	in.nodesRejected, _ = meter.Int64Counter("shield.ingest.nodes.rejected",
		metric.WithDescription("Node upserts rejected before the store"))
	in.edgesRejected, _ = meter.Int64Counter("shield.ingest.edges.rejected",
		metric.WithDescription("Edge appends rejected before the store"))
	return in
}

// UpsertNode validates and admits one node.
//
// Outputs:
//
//	error - ErrInvalidRequest for malformed requests, ErrRateLimited
//	under admission pressure, or a store error
//	(graph.ErrTypeConflict, graph.ErrMaxNodesExceeded).
func (in *Ingestor) UpsertNode(ctx context.Context, req *NodeRequest) error {
	if err := in.validate.Struct(req); err != nil {
		in.reject(ctx, in.nodesRejected)
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	typ, err := graph.ParseNodeType(req.Type)
	if err != nil {
		in.reject(ctx, in.nodesRejected)
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	attrs, err := ConvertAttrs(req.Attrs)
	if err != nil {
		in.reject(ctx, in.nodesRejected)
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !in.limiter.Allow() {
		in.reject(ctx, in.nodesRejected)
		return ErrRateLimited
	}
	return in.store.UpsertNode(req.ID, typ, attrs)
}

// AppendEdge validates and admits one edge.
//
// Outputs:
//
//	error - ErrInvalidRequest for malformed requests, ErrRateLimited
//	under admission pressure, or a store error
//	(graph.ErrUnknownEndpoint, graph.ErrOutOfOrderEdge,
//	graph.ErrMaxEdgesExceeded).
func (in *Ingestor) AppendEdge(ctx context.Context, req *EdgeRequest) (*graph.Edge, error) {
	if err := in.validate.Struct(req); err != nil {
		in.reject(ctx, in.edgesRejected)
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	typ, err := graph.ParseEdgeType(req.Type)
	if err != nil {
		in.reject(ctx, in.edgesRejected)
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	attrs, err := ConvertAttrs(req.Attrs)
	if err != nil {
		in.reject(ctx, in.edgesRejected)
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !in.limiter.Allow() {
		in.reject(ctx, in.edgesRejected)
		return nil, ErrRateLimited
	}
	return in.store.AppendEdge(typ, req.Src, req.Dst, attrs)
}

func (in *Ingestor) reject(ctx context.Context, counter metric.Int64Counter) {
	if counter != nil {
		counter.Add(ctx, 1)
	}
}

// ConvertAttrs maps a loosely-typed wire attribute map to typed store
// values. JSON numbers and bools map directly; strings that parse as
// RFC 3339 become timestamps, all other strings stay strings.
func ConvertAttrs(raw map[string]any) (graph.Attrs, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	attrs := make(graph.Attrs, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			if ts, err := time.Parse(time.RFC3339, t); err == nil {
				attrs[k] = graph.Timestamp(ts)
			} else {
				attrs[k] = graph.String(t)
			}
		case float64:
			attrs[k] = graph.Number(t)
		case int:
			attrs[k] = graph.Number(float64(t))
		case int64:
			attrs[k] = graph.Number(float64(t))
		case bool:
			attrs[k] = graph.Bool(t)
		default:
			return nil, fmt.Errorf("%w: key %q has type %T", ErrBadAttrValue, k, v)
		}
	}
	return attrs, nil
}
