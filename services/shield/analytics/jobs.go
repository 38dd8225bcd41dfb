// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianShield/services/shield/graph"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// =============================================================================
// Batch Job Manager
// =============================================================================

// Algorithm identifies a batch analytics algorithm.
type Algorithm string

// Supported algorithms.
const (
	AlgorithmLouvain     Algorithm = "louvain"
	AlgorithmPageRank    Algorithm = "pagerank"
	AlgorithmBetweenness Algorithm = "betweenness"
)

// ParseAlgorithm maps a wire name to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case AlgorithmLouvain, AlgorithmPageRank, AlgorithmBetweenness:
		return Algorithm(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
	}
}

// JobStatus is the lifecycle state of a batch job.
type JobStatus string

// Job lifecycle states.
const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Job is one batch analytics run.
type Job struct {
	// ID is the unique job identifier.
	ID string `json:"id"`

	// Algorithm names the algorithm this job runs.
	Algorithm Algorithm `json:"algorithm"`

	// Status is the current lifecycle state.
	Status JobStatus `json:"status"`

	// SnapshotID is the snapshot the job runs against.
	SnapshotID string `json:"snapshot_id"`

	// SubmittedAt / StartedAt / FinishedAt track the lifecycle.
	SubmittedAt time.Time `json:"submitted_at"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`

	// Error holds the failure message for failed jobs.
	Error string `json:"error,omitempty"`

	// Result holds the algorithm output once completed. The concrete
	// type depends on Algorithm.
	Result any `json:"result,omitempty"`
}

// JobManagerOptions configures the job manager.
type JobManagerOptions struct {
	// MaxConcurrent bounds simultaneously running jobs. Default: 2
	MaxConcurrent int

	// MaxRetained bounds finished jobs kept for status queries.
	// Default: 256
	MaxRetained int
}

// Validate checks options and applies defaults for invalid values.
func (o *JobManagerOptions) Validate() {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 2
	}
	if o.MaxRetained <= 0 {
		o.MaxRetained = 256
	}
}

// JobManager runs batch algorithms against snapshots with bounded
// concurrency.
//
// Thread Safety: All methods are safe for concurrent use.
type JobManager struct {
	opts      JobManagerOptions
	snapshots *graph.SnapshotManager
	logger    *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*Job
	cancels map[string]context.CancelFunc
	order   []string // insertion order, for retention trimming
	running int

	wg sync.WaitGroup

	jobsSubmitted metric.Int64Counter
	jobsFinished  metric.Int64Counter
}

// NewJobManager creates a job manager backed by a snapshot manager.
func NewJobManager(snapshots *graph.SnapshotManager, logger *slog.Logger, opts JobManagerOptions) *JobManager {
	opts.Validate()
	if logger == nil {
		logger = slog.Default()
	}
	m := &JobManager{
		opts:      opts,
		snapshots: snapshots,
		logger:    logger.With("component", "analytics.jobs"),
		jobs:      make(map[string]*Job),
		cancels:   make(map[string]context.CancelFunc),
	}
	meter := otel.Meter("shield.analytics")
	m.jobsSubmitted, _ = meter.Int64Counter("shield.analytics.jobs.submitted",
		metric.WithDescription("Batch jobs accepted"))
	m.jobsFinished, _ = meter.Int64Counter("shield.analytics.jobs.finished",
		metric.WithDescription("Batch jobs reaching a terminal state"))
	return m
}

// Submit accepts a batch job and starts it in the background.
//
// Description:
//
//	Acquires the current snapshot, registers the job, and runs the
//	algorithm on a background goroutine. The snapshot reference is
//	held for the duration of the run and released when it finishes.
//
// Outputs:
//
//	*Job - A copy of the accepted job in pending state.
//	error - ErrTooManyJobs when the concurrency bound is reached,
//	ErrUnknownAlgorithm for an unrecognized algorithm, or a snapshot
//	build failure.
func (m *JobManager) Submit(ctx context.Context, algo Algorithm, params any) (*Job, error) {
	if _, err := ParseAlgorithm(string(algo)); err != nil {
		return nil, err
	}

	snap, err := m.snapshots.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring snapshot: %w", err)
	}

	m.mu.Lock()
	if m.running >= m.opts.MaxConcurrent {
		m.mu.Unlock()
		snap.Release()
		return nil, fmt.Errorf("%w: %d running", ErrTooManyJobs, m.opts.MaxConcurrent)
	}

	job := &Job{
		ID:          uuid.NewString(),
		Algorithm:   algo,
		Status:      JobPending,
		SnapshotID:  snap.ID,
		SubmittedAt: time.Now().UTC(),
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.jobs[job.ID] = job
	m.cancels[job.ID] = cancel
	m.order = append(m.order, job.ID)
	m.running++
	m.trimLocked()
	accepted := *job
	m.mu.Unlock()

	if m.jobsSubmitted != nil {
		m.jobsSubmitted.Add(ctx, 1)
	}
	m.logger.Info("job submitted", "job_id", job.ID, "algorithm", algo, "snapshot_id", job.SnapshotID)

	m.wg.Add(1)
	go m.run(runCtx, job.ID, algo, params, snap)
	return &accepted, nil
}

// run executes the algorithm and records the terminal state.
func (m *JobManager) run(ctx context.Context, id string, algo Algorithm, params any, snap *graph.Snapshot) {
	defer m.wg.Done()
	defer snap.Release()

	m.mu.Lock()
	if job := m.jobs[id]; job != nil {
		job.Status = JobRunning
		job.StartedAt = time.Now().UTC()
	}
	m.mu.Unlock()

	result, err := m.execute(ctx, algo, params, snap)

	m.mu.Lock()
	job := m.jobs[id]
	if job != nil {
		job.FinishedAt = time.Now().UTC()
		switch {
		case ctx.Err() != nil:
			job.Status = JobCancelled
			job.Error = ctx.Err().Error()
		case err != nil:
			job.Status = JobFailed
			job.Error = err.Error()
		default:
			job.Status = JobCompleted
			job.Result = result
		}
	}
	delete(m.cancels, id)
	m.running--
	m.mu.Unlock()

	if m.jobsFinished != nil {
		m.jobsFinished.Add(context.Background(), 1)
	}
	if job != nil {
		m.logger.Info("job finished", "job_id", id, "algorithm", algo,
			"status", job.Status, "duration", job.FinishedAt.Sub(job.StartedAt))
	}
}

// execute dispatches to the requested algorithm. A panic inside an
// algorithm fails the job rather than the process.
func (m *JobManager) execute(ctx context.Context, algo Algorithm, params any, snap *graph.Snapshot) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%s panicked: %v", algo, r)
			m.logger.Error("algorithm panic", "algorithm", algo, "panic", r)
		}
	}()

	switch algo {
	case AlgorithmLouvain:
		opts, _ := params.(*LouvainOptions)
		result = Louvain(ctx, snap, opts)
	case AlgorithmPageRank:
		opts, _ := params.(*PageRankOptions)
		result = PageRank(ctx, snap, opts)
	case AlgorithmBetweenness:
		opts, _ := params.(*BetweennessOptions)
		result = Betweenness(ctx, snap, opts)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algo)
	}
	return result, err
}

// Get returns a copy of the job with the given id.
func (m *JobManager) Get(id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrJobNotFound, id)
	}
	cp := *job
	return &cp, nil
}

// Cancel requests cancellation of a pending or running job.
//
// Outputs:
//
//	error - ErrJobNotFound for unknown ids, ErrJobNotCancellable when
//	the job already reached a terminal state.
func (m *JobManager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return fmt.Errorf("%w: %q", ErrJobNotFound, id)
	}
	cancel, ok := m.cancels[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrJobNotCancellable, id)
	}
	cancel()
	return nil
}

// List returns copies of all retained jobs, newest first.
func (m *JobManager) List() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Job, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		if job, ok := m.jobs[m.order[i]]; ok {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out
}

// Wait blocks until all in-flight jobs finish. Used during shutdown.
func (m *JobManager) Wait() {
	m.wg.Wait()
}

// trimLocked drops the oldest finished jobs beyond the retention bound.
// Caller must hold m.mu.
func (m *JobManager) trimLocked() {
	for len(m.order) > m.opts.MaxRetained {
		oldest := m.order[0]
		job := m.jobs[oldest]
		if job != nil && (job.Status == JobPending || job.Status == JobRunning) {
			break
		}
		delete(m.jobs, oldest)
		m.order = m.order[1:]
	}
}
