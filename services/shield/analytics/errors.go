// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analytics implements the batch graph algorithms: Louvain
// community detection, weighted PageRank, and Brandes betweenness
// centrality, plus the job manager that schedules them.
//
// Every algorithm operates only on a graph.Snapshot, never on the live
// store, so a long run cannot be corrupted by concurrent ingestion and
// never blocks it. Algorithms are read-only, independently cancellable
// via context, and bounded by explicit iteration or pass caps on top of
// their tolerance checks. Hitting a cap is not an error: the result is
// returned with its Converged or Approximate flag set.
package analytics

import "errors"

// Sentinel errors for job scheduling.
var (
	// ErrUnknownAlgorithm is returned for an unrecognized algorithm name.
	ErrUnknownAlgorithm = errors.New("unknown algorithm")

	// ErrJobNotFound is returned when a job id is not in the registry.
	ErrJobNotFound = errors.New("job not found")

	// ErrTooManyJobs is a backpressure signal: the bounded job queue is
	// full. Callers retry with backoff.
	ErrTooManyJobs = errors.New("job queue full")

	// ErrJobNotCancellable is returned when cancelling a finished job.
	ErrJobNotCancellable = errors.New("job already finished")
)
