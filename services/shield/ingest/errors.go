// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest admits nodes and edges into the graph store.
//
// The ingestor validates wire-format requests, converts loosely-typed
// attribute maps into the store's typed attribute values, and applies
// an admission rate limit before writing. Store-level failures
// (type conflicts, unknown endpoints, capacity) pass through
// unwrapped so callers can map them with errors.Is.
//
// # Thread Safety
//
// The Ingestor is safe for concurrent use.
package ingest

import "errors"

// Ingestion errors.
var (
	// ErrInvalidRequest indicates the request failed validation before
	// reaching the store.
	ErrInvalidRequest = errors.New("invalid ingestion request")

	// ErrRateLimited indicates the admission rate limit rejected the
	// request.
	ErrRateLimited = errors.New("ingestion rate limit exceeded")

	// ErrBadAttrValue indicates an attribute value that cannot be
	// converted to a typed store value.
	ErrBadAttrValue = errors.New("unsupported attribute value")
)
