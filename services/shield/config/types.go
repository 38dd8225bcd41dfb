// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and watches the shield service configuration.
//
// The configuration lives at ~/.aleutian/shield.yaml and is created
// with defaults on first run. Tunables (traversal bounds, algorithm
// caps, scoring weights and thresholds) hot-reload on file change;
// structural settings (listen address, store sizing) require a
// restart.
package config

import "time"

// ShieldConfig is the full service configuration.
type ShieldConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Traversal TraversalConfig `yaml:"traversal"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds the HTTP surface settings. Restart required.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// Worker pool bounds for query endpoints. Requests past the queue
	// depth are rejected with an overloaded error.
	Workers    int `yaml:"workers"`
	QueueDepth int `yaml:"queue_depth"`

	// Request deadlines per endpoint class.
	QueryDeadline time.Duration `yaml:"query_deadline"`
	ScoreDeadline time.Duration `yaml:"score_deadline"`
}

// StoreConfig sizes the graph store. Restart required.
type StoreConfig struct {
	MaxNodes   int64  `yaml:"max_nodes"`
	MaxEdges   int64  `yaml:"max_edges"`
	ShardCount int    `yaml:"shard_count"`
	OutOfOrder string `yaml:"out_of_order"` // warn | reject

	// SnapshotInterval is the background snapshot refresh cadence.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// TraversalConfig tunes pattern queries. Hot-reloadable.
type TraversalConfig struct {
	MaxVisited      int           `yaml:"max_visited"`
	Timeout         time.Duration `yaml:"timeout"`
	CycleMinHops    int           `yaml:"cycle_min_hops"`
	CycleMaxHops    int           `yaml:"cycle_max_hops"`
	StarThreshold   int           `yaml:"star_threshold"`
	PathMaxHops     int           `yaml:"path_max_hops"`
	SharedThreshold int           `yaml:"shared_threshold"`
}

// AnalyticsConfig tunes batch algorithms. Hot-reloadable.
type AnalyticsConfig struct {
	PageRankDamping    float64 `yaml:"pagerank_damping"`
	PageRankIterations int     `yaml:"pagerank_iterations"`
	PageRankTolerance  float64 `yaml:"pagerank_tolerance"`

	LouvainMaxPasses int     `yaml:"louvain_max_passes"`
	LouvainTolerance float64 `yaml:"louvain_tolerance"`

	BetweennessExactCeiling  int `yaml:"betweenness_exact_ceiling"`
	BetweennessSampleSources int `yaml:"betweenness_sample_sources"`

	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`
}

// ScoringConfig tunes risk scoring. Hot-reloadable.
type ScoringConfig struct {
	Budget time.Duration `yaml:"budget"`
	Window time.Duration `yaml:"window"`

	SubScoreCap         float64 `yaml:"sub_score_cap"`
	VelocityWeight      float64 `yaml:"velocity_weight"`
	DiversityWeight     float64 `yaml:"diversity_weight"`
	VolumeWeight        float64 `yaml:"volume_weight"`
	DeviceSharingWeight float64 `yaml:"device_sharing_weight"`

	CriticalThreshold float64 `yaml:"critical_threshold"`
	HighThreshold     float64 `yaml:"high_threshold"`
	MediumThreshold   float64 `yaml:"medium_threshold"`
}

// IngestConfig tunes the admission limiter. Hot-reloadable.
type IngestConfig struct {
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// TelemetryConfig selects exporters. Restart required.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	TraceExporter  string `yaml:"trace_exporter"`  // otlp | stdout | none
	MetricExporter string `yaml:"metric_exporter"` // prometheus | stdout | none
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() *ShieldConfig {
	return &ShieldConfig{
		Server: ServerConfig{
			ListenAddr:    ":8092",
			Workers:       32,
			QueueDepth:    128,
			QueryDeadline: 2 * time.Second,
			ScoreDeadline: 100 * time.Millisecond,
		},
		Store: StoreConfig{
			MaxNodes:         10_000_000,
			MaxEdges:         100_000_000,
			ShardCount:       64,
			OutOfOrder:       "warn",
			SnapshotInterval: 5 * time.Minute,
		},
		Traversal: TraversalConfig{
			MaxVisited:      100_000,
			Timeout:         2 * time.Second,
			CycleMinHops:    3,
			CycleMaxHops:    6,
			StarThreshold:   5,
			PathMaxHops:     4,
			SharedThreshold: 3,
		},
		Analytics: AnalyticsConfig{
			PageRankDamping:          0.85,
			PageRankIterations:       20,
			PageRankTolerance:        1e-6,
			LouvainMaxPasses:         10,
			LouvainTolerance:         1e-4,
			BetweennessExactCeiling:  10_000,
			BetweennessSampleSources: 256,
			MaxConcurrentJobs:        2,
		},
		Scoring: ScoringConfig{
			Budget:              100 * time.Millisecond,
			Window:              24 * time.Hour,
			SubScoreCap:         25,
			VelocityWeight:      1.0,
			DiversityWeight:     1.5,
			VolumeWeight:        0.0002,
			DeviceSharingWeight: 3.0,
			CriticalThreshold:   90,
			HighThreshold:       70,
			MediumThreshold:     40,
		},
		Ingest: IngestConfig{
			RateLimit: 5000,
			Burst:     1000,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "aleutian-shield",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
		},
	}
}
