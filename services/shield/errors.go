// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package shield exposes the fraud graph engine over HTTP.
//
// The service wires the graph store, traversal engine, batch job
// manager, risk scorer, and ingestor behind a gin router. Query
// endpoints run on a bounded worker pool: when the queue is full the
// service rejects with an overloaded error instead of buffering
// without bound.
//
// # Ownership
//
// The Service owns the store and every component built on it. Handlers
// hold only a reference to the Service.
//
// # Lifecycle
//
// Create with NewService, register routes with RegisterRoutes, and
// stop with Shutdown, which drains in-flight jobs and background
// loops.
package shield

import "errors"

// Service errors.
var (
	// ErrOverloaded indicates the query worker pool queue is full.
	ErrOverloaded = errors.New("service overloaded")

	// ErrUnknownPattern indicates an unrecognized pattern name in a
	// query request.
	ErrUnknownPattern = errors.New("unknown pattern")

	// ErrShuttingDown indicates the service no longer accepts work.
	ErrShuttingDown = errors.New("service shutting down")
)
