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

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianShield/services/shield/analytics"
	"github.com/AleutianAI/AleutianShield/services/shield/config"
	"github.com/AleutianAI/AleutianShield/services/shield/graph"
	"github.com/AleutianAI/AleutianShield/services/shield/ingest"
	"github.com/AleutianAI/AleutianShield/services/shield/scoring"
	"github.com/AleutianAI/AleutianShield/services/shield/traversal"
)

// =============================================================================
// Service
// =============================================================================

// Service wires the graph store and every component built on it.
type Service struct {
	cfg    *config.Manager
	logger *slog.Logger

	store     *graph.Store
	snapshots *graph.SnapshotManager
	jobs      *analytics.JobManager
	ingestor  *ingest.Ingestor
	pool      *Pool

	cancelBackground context.CancelFunc
}

// NewService builds a service from the loaded configuration.
func NewService(cfg *config.Manager, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config manager")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := cfg.Current()

	outOfOrder := graph.OutOfOrderWarn
	switch c.Store.OutOfOrder {
	case "warn", "":
	case "reject":
		outOfOrder = graph.OutOfOrderReject
	default:
		return nil, fmt.Errorf("invalid out_of_order policy %q", c.Store.OutOfOrder)
	}

	store := graph.NewStore(graph.StoreOptions{
		MaxNodes:   int(c.Store.MaxNodes),
		MaxEdges:   int(c.Store.MaxEdges),
		ShardCount: c.Store.ShardCount,
		OutOfOrder: outOfOrder,
	})
	snapshots := graph.NewSnapshotManager(store)

	s := &Service{
		cfg:       cfg,
		logger:    logger.With("service", "shield"),
		store:     store,
		snapshots: snapshots,
		jobs: analytics.NewJobManager(snapshots, logger, analytics.JobManagerOptions{
			MaxConcurrent: c.Analytics.MaxConcurrentJobs,
		}),
		ingestor: ingest.NewIngestor(store, logger, ingest.Options{
			RateLimit: c.Ingest.RateLimit,
			Burst:     c.Ingest.Burst,
		}),
		pool: NewPool(c.Server.Workers, c.Server.QueueDepth),
	}
	return s, nil
}

// Start launches the background snapshot refresh and config watch
// loops. Call once; Shutdown stops them.
func (s *Service) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelBackground = cancel

	go s.snapshots.Run(ctx, s.cfg.Current().Store.SnapshotInterval)
	go func() {
		if err := s.cfg.Watch(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("Config watch stopped", "error", err)
		}
	}()
}

// Shutdown stops background loops, drains in-flight jobs, and stops
// the worker pool.
func (s *Service) Shutdown() {
	if s.cancelBackground != nil {
		s.cancelBackground()
	}
	s.pool.Shutdown()
	s.jobs.Wait()
}

// Store exposes the graph store for readiness and stats reporting.
func (s *Service) Store() *graph.Store { return s.store }

// =============================================================================
// Ingestion
// =============================================================================

// UpsertNode admits one node through the ingestor.
func (s *Service) UpsertNode(ctx context.Context, req *ingest.NodeRequest) error {
	return s.ingestor.UpsertNode(ctx, req)
}

// AppendEdge admits one edge through the ingestor.
func (s *Service) AppendEdge(ctx context.Context, req *ingest.EdgeRequest) (*graph.Edge, error) {
	return s.ingestor.AppendEdge(ctx, req)
}

// =============================================================================
// Pattern Queries
// =============================================================================

// QueryPattern runs one pattern query on the worker pool under the
// endpoint deadline.
//
// Outputs:
//
//	*PatternQueryResponse - The pattern-specific matches.
//	error - ErrOverloaded under queue pressure, ErrUnknownPattern for
//	an unrecognized pattern, a validation error, or a store error.
func (s *Service) QueryPattern(ctx context.Context, req *PatternQueryRequest) (*PatternQueryResponse, error) {
	c := s.cfg.Current()
	deadline := c.Server.QueryDeadline
	if req.DeadlineMS > 0 {
		deadline = time.Duration(req.DeadlineMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	engine := traversal.NewEngine(s.store, traversal.Options{
		MaxVisited: c.Traversal.MaxVisited,
		Timeout:    deadline,
	})

	started := time.Now()
	var (
		resp *PatternQueryResponse
		err  error
	)
	poolErr := s.pool.Do(ctx, func(ctx context.Context) {
		resp, err = s.dispatchPattern(ctx, engine, req, c)
	})
	if poolErr != nil {
		return nil, poolErr
	}
	if err != nil {
		return nil, err
	}
	resp.Pattern = req.Pattern
	resp.ElapsedMS = time.Since(started).Milliseconds()
	return resp, nil
}

// dispatchPattern routes the request to the matching traversal.
func (s *Service) dispatchPattern(ctx context.Context, engine *traversal.Engine, req *PatternQueryRequest, c *config.ShieldConfig) (*PatternQueryResponse, error) {
	window := traversal.TimeWindow{}
	if req.WindowFrom != nil {
		window.From = *req.WindowFrom
	}
	if req.WindowTo != nil {
		window.To = *req.WindowTo
	}

	switch req.Pattern {
	case "cycle":
		opts := traversal.CycleOptions{
			MinHops:        req.MinHops,
			MaxHops:        req.MaxHops,
			MinEdgeAmount:  req.MinEdgeAmount,
			MinTotalAmount: req.MinTotalAmount,
		}
		if opts.MinHops <= 0 {
			opts.MinHops = c.Traversal.CycleMinHops
		}
		if opts.MaxHops <= 0 {
			opts.MaxHops = c.Traversal.CycleMaxHops
		}
		result, err := engine.DetectCycles(ctx, req.NodeID, opts)
		if err != nil {
			return nil, err
		}
		return &PatternQueryResponse{Matches: result.Cycles, Truncated: result.Truncated}, nil

	case "star":
		et, err := parseOptionalEdgeType(req.EdgeType)
		if err != nil {
			return nil, err
		}
		dir, err := graph.ParseDirection(req.Direction)
		if err != nil {
			return nil, err
		}
		opts := traversal.StarOptions{
			EdgeType:  et,
			Direction: dir,
			Threshold: req.Threshold,
			Window:    window,
			Exact:     req.Exact,
		}
		if opts.Threshold <= 0 {
			opts.Threshold = c.Traversal.StarThreshold
		}
		result, err := engine.DetectStar(ctx, req.NodeID, opts)
		if err != nil {
			return nil, err
		}
		return &PatternQueryResponse{Matches: result}, nil

	case "path":
		et, err := parseOptionalEdgeType(req.EdgeType)
		if err != nil {
			return nil, err
		}
		opts := traversal.PathOptions{
			EdgeType: et,
			MaxHops:  req.MaxHops,
			TopK:     req.TopK,
		}
		if opts.MaxHops <= 0 {
			opts.MaxHops = c.Traversal.PathMaxHops
		}
		result, err := engine.TracePaths(ctx, req.NodeID, req.TargetID, opts)
		if err != nil {
			return nil, err
		}
		return &PatternQueryResponse{Matches: result.Paths, Truncated: result.Truncated}, nil

	case "bipartite":
		opts := traversal.BipartiteOptions{
			SharedThreshold: req.SharedThreshold,
			Window:          window,
		}
		if req.ClassA != "" {
			t, err := graph.ParseNodeType(req.ClassA)
			if err != nil {
				return nil, err
			}
			opts.ClassA = t
		}
		if req.ClassB != "" {
			t, err := graph.ParseNodeType(req.ClassB)
			if err != nil {
				return nil, err
			}
			opts.ClassB = t
		}
		if opts.SharedThreshold <= 0 {
			opts.SharedThreshold = c.Traversal.SharedThreshold
		}
		result, err := engine.DetectBipartite(ctx, opts)
		if err != nil {
			return nil, err
		}
		return &PatternQueryResponse{Matches: result.Pairs, Truncated: result.Truncated}, nil

	case "similarity":
		opts := traversal.SimilarityOptions{Keys: req.AttrKeys}
		result, err := engine.DetectSimilar(ctx, req.NodeID, opts)
		if err != nil {
			return nil, err
		}
		return &PatternQueryResponse{Matches: result.Clusters}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPattern, req.Pattern)
	}
}

func parseOptionalEdgeType(s string) (graph.EdgeType, error) {
	if s == "" {
		return graph.EdgeTypeUnknown, nil
	}
	return graph.ParseEdgeType(s)
}

// =============================================================================
// Batch Jobs
// =============================================================================

// SubmitJob starts a batch analytics job against the current snapshot.
func (s *Service) SubmitJob(ctx context.Context, req *JobRequest) (*analytics.Job, error) {
	algo, err := analytics.ParseAlgorithm(req.Algorithm)
	if err != nil {
		return nil, err
	}
	c := s.cfg.Current()

	var params any
	switch algo {
	case analytics.AlgorithmPageRank:
		opts := &analytics.PageRankOptions{
			DampingFactor: c.Analytics.PageRankDamping,
			MaxIterations: c.Analytics.PageRankIterations,
			Tolerance:     c.Analytics.PageRankTolerance,
		}
		if req.Damping > 0 {
			opts.DampingFactor = req.Damping
		}
		if req.MaxIterations > 0 {
			opts.MaxIterations = req.MaxIterations
		}
		if req.Tolerance > 0 {
			opts.Tolerance = req.Tolerance
		}
		params = opts
	case analytics.AlgorithmLouvain:
		opts := &analytics.LouvainOptions{
			MaxPasses: c.Analytics.LouvainMaxPasses,
			Tolerance: c.Analytics.LouvainTolerance,
		}
		if req.MaxPasses > 0 {
			opts.MaxPasses = req.MaxPasses
		}
		params = opts
	case analytics.AlgorithmBetweenness:
		opts := &analytics.BetweennessOptions{
			ExactNodeCeiling: c.Analytics.BetweennessExactCeiling,
			SampleSources:    c.Analytics.BetweennessSampleSources,
		}
		if req.SampleSources > 0 {
			opts.SampleSources = req.SampleSources
		}
		params = opts
	}
	return s.jobs.Submit(ctx, algo, params)
}

// GetJob returns the status and result of one job.
func (s *Service) GetJob(id string) (*analytics.Job, error) {
	return s.jobs.Get(id)
}

// CancelJob requests cancellation of one job.
func (s *Service) CancelJob(id string) error {
	return s.jobs.Cancel(id)
}

// ListJobs returns all retained jobs, newest first.
func (s *Service) ListJobs() []*analytics.Job {
	return s.jobs.List()
}

// =============================================================================
// Scoring
// =============================================================================

// Score computes the risk score for one account on the worker pool.
func (s *Service) Score(ctx context.Context, accountID string) (*scoring.RiskScore, error) {
	c := s.cfg.Current()
	ctx, cancel := context.WithTimeout(ctx, c.Server.ScoreDeadline+c.Scoring.Budget)
	defer cancel()

	scorer := scoring.NewScorer(s.store, &scoring.Options{
		Budget:              c.Scoring.Budget,
		Window:              c.Scoring.Window,
		SubScoreCap:         c.Scoring.SubScoreCap,
		VelocityWeight:      c.Scoring.VelocityWeight,
		DiversityWeight:     c.Scoring.DiversityWeight,
		VolumeWeight:        c.Scoring.VolumeWeight,
		DeviceSharingWeight: c.Scoring.DeviceSharingWeight,
		CriticalThreshold:   c.Scoring.CriticalThreshold,
		HighThreshold:       c.Scoring.HighThreshold,
		MediumThreshold:     c.Scoring.MediumThreshold,
	})

	var (
		result *scoring.RiskScore
		err    error
	)
	poolErr := s.pool.Do(ctx, func(ctx context.Context) {
		result, err = scorer.Score(ctx, accountID)
	})
	if poolErr != nil {
		return nil, poolErr
	}
	return result, err
}

// =============================================================================
// Stats
// =============================================================================

// Stats reports store and pool state for the debug endpoint.
func (s *Service) Stats(ctx context.Context) StatsResponse {
	stats := StatsResponse{
		NodeCount:      s.store.NodeCount(),
		EdgeCount:      s.store.EdgeCount(),
		QueueDepth:     s.pool.QueueDepth(),
		QueueCapacity:  s.pool.QueueCapacity(),
		WorkersRunning: s.pool.Active(),
	}
	if snap, err := s.snapshots.Current(ctx); err == nil {
		stats.SnapshotID = snap.ID
		stats.SnapshotNodes = snap.NodeCount()
		stats.SnapshotEdges = snap.EdgeCount()
		snap.Release()
	}
	return stats
}
