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
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/AleutianShield/services/shield/analytics"
	"github.com/AleutianAI/AleutianShield/services/shield/graph"
	"github.com/AleutianAI/AleutianShield/services/shield/ingest"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handlers contains the HTTP handlers for the shield service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleUpsertNode handles POST /v1/shield/nodes.
//
// Description:
//
//	Idempotently admits a node. Re-upserting with identical type merges
//	attributes; a different type is rejected.
//
// Request Body:
//
//	ingest.NodeRequest
//
// Response:
//
//	200 OK: NodeResponse
//	400 Bad Request: Validation error or type conflict
//	429 Too Many Requests: Admission rate limit
//	507 Insufficient Storage: Node capacity reached
func (h *Handlers) HandleUpsertNode(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleUpsertNode")

	var req ingest.NodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	if err := h.svc.UpsertNode(c.Request.Context(), &req); err != nil {
		h.writeIngestError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, NodeResponse{ID: req.ID, Status: "ok"})
}

// HandleAppendEdge handles POST /v1/shield/edges.
//
// Description:
//
//	Appends a directed typed edge. Both endpoints must already exist.
//
// Request Body:
//
//	ingest.EdgeRequest
//
// Response:
//
//	200 OK: EdgeResponse
//	400 Bad Request: Validation error, unknown endpoint, or
//	out-of-order timestamp under the reject policy
//	429 Too Many Requests: Admission rate limit
//	507 Insufficient Storage: Edge capacity reached
func (h *Handlers) HandleAppendEdge(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleAppendEdge")

	var req ingest.EdgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	if _, err := h.svc.AppendEdge(c.Request.Context(), &req); err != nil {
		h.writeIngestError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, EdgeResponse{
		Type: req.Type, Src: req.Src, Dst: req.Dst, Status: "ok",
	})
}

// HandlePatternQuery handles POST /v1/shield/patterns/query.
//
// Description:
//
//	Runs one bounded pattern traversal (star, cycle, path, bipartite,
//	or similarity) and returns its matches. Budget-truncated searches
//	return partial results flagged truncated, not an error.
//
// Request Body:
//
//	PatternQueryRequest
//
// Response:
//
//	200 OK: PatternQueryResponse
//	400 Bad Request: Unknown pattern or bad parameters
//	404 Not Found: Unknown start node
//	503 Service Unavailable: Worker pool saturated
func (h *Handlers) HandlePatternQuery(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandlePatternQuery")

	var req PatternQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	logger.Info("Pattern query", "pattern", req.Pattern, "node_id", req.NodeID)

	resp, err := h.svc.QueryPattern(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, ErrOverloaded), errors.Is(err, ErrShuttingDown):
			c.Header("Retry-After", "1")
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{
				Error: "Service overloaded",
				Code:  "OVERLOADED",
			})
		case errors.Is(err, graph.ErrNodeNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: err.Error(),
				Code:  "NODE_NOT_FOUND",
			})
		case errors.Is(err, ErrUnknownPattern):
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: err.Error(),
				Code:  "UNKNOWN_PATTERN",
			})
		default:
			logger.Warn("Pattern query failed", "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: err.Error(),
				Code:  "QUERY_FAILED",
			})
		}
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleSubmitJob handles POST /v1/shield/jobs.
//
// Description:
//
//	Submits a batch analytics job (louvain, pagerank, betweenness)
//	against the current snapshot and returns its id immediately.
//
// Request Body:
//
//	JobRequest
//
// Response:
//
//	202 Accepted: analytics.Job
//	400 Bad Request: Unknown algorithm
//	429 Too Many Requests: Job concurrency bound reached
func (h *Handlers) HandleSubmitJob(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSubmitJob")

	var req JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	job, err := h.svc.SubmitJob(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, analytics.ErrUnknownAlgorithm):
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: err.Error(),
				Code:  "UNKNOWN_ALGORITHM",
			})
		case errors.Is(err, analytics.ErrTooManyJobs):
			c.Header("Retry-After", "5")
			c.JSON(http.StatusTooManyRequests, ErrorResponse{
				Error: err.Error(),
				Code:  "TOO_MANY_JOBS",
			})
		default:
			logger.Error("Job submission failed", "error", err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error: "Failed to submit job",
				Code:  "JOB_SUBMIT_FAILED",
			})
		}
		return
	}

	logger.Info("Job accepted", "job_id", job.ID, "algorithm", job.Algorithm)
	c.JSON(http.StatusAccepted, job)
}

// HandleGetJob handles GET /v1/shield/jobs/:id.
//
// Response:
//
//	200 OK: analytics.Job with status and, when completed, result
//	404 Not Found: Unknown job id
func (h *Handlers) HandleGetJob(c *gin.Context) {
	job, err := h.svc.GetJob(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "JOB_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, job)
}

// HandleCancelJob handles DELETE /v1/shield/jobs/:id.
//
// Response:
//
//	202 Accepted: Cancellation requested
//	404 Not Found: Unknown job id
//	409 Conflict: Job already finished
func (h *Handlers) HandleCancelJob(c *gin.Context) {
	err := h.svc.CancelJob(c.Param("id"))
	switch {
	case err == nil:
		c.Status(http.StatusAccepted)
	case errors.Is(err, analytics.ErrJobNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "JOB_NOT_FOUND",
		})
	case errors.Is(err, analytics.ErrJobNotCancellable):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: err.Error(),
			Code:  "JOB_NOT_CANCELLABLE",
		})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "CANCEL_FAILED",
		})
	}
}

// HandleListJobs handles GET /v1/shield/jobs.
//
// Response:
//
//	200 OK: []analytics.Job, newest first
func (h *Handlers) HandleListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.ListJobs())
}

// HandleScore handles GET /v1/shield/score/:account_id.
//
// Description:
//
//	Computes a multi-factor risk score against the live store. The
//	response always arrives within the scoring budget; slow features
//	degrade to neutral values and flag the response degraded.
//
// Response:
//
//	200 OK: scoring.RiskScore
//	404 Not Found: Unknown account
//	503 Service Unavailable: Worker pool saturated
func (h *Handlers) HandleScore(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleScore")

	accountID := c.Param("account_id")
	result, err := h.svc.Score(c.Request.Context(), accountID)
	if err != nil {
		switch {
		case errors.Is(err, graph.ErrNodeNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: err.Error(),
				Code:  "ACCOUNT_NOT_FOUND",
			})
		case errors.Is(err, ErrOverloaded), errors.Is(err, ErrShuttingDown):
			c.Header("Retry-After", "1")
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{
				Error: "Service overloaded",
				Code:  "OVERLOADED",
			})
		default:
			logger.Error("Scoring failed", "account_id", accountID, "error", err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error: "Failed to compute score",
				Code:  "SCORE_FAILED",
			})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleHealth handles GET /v1/shield/health.
//
// Response:
//
//	200 OK: HealthResponse
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleReady handles GET /v1/shield/ready.
//
// Response:
//
//	200 OK: ReadyResponse
func (h *Handlers) HandleReady(c *gin.Context) {
	store := h.svc.Store()
	c.JSON(http.StatusOK, ReadyResponse{
		Ready:     true,
		NodeCount: store.NodeCount(),
		EdgeCount: store.EdgeCount(),
	})
}

// HandleStats handles GET /v1/shield/debug/stats.
//
// Response:
//
//	200 OK: StatsResponse
func (h *Handlers) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Stats(c.Request.Context()))
}

// writeIngestError maps ingestion and store errors to HTTP statuses.
func (h *Handlers) writeIngestError(c *gin.Context, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, ingest.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_REQUEST",
		})
	case errors.Is(err, ingest.ErrRateLimited):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error: err.Error(),
			Code:  "RATE_LIMITED",
		})
	case errors.Is(err, graph.ErrTypeConflict):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: err.Error(),
			Code:  "TYPE_CONFLICT",
		})
	case errors.Is(err, graph.ErrUnknownEndpoint):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "UNKNOWN_ENDPOINT",
		})
	case errors.Is(err, graph.ErrOutOfOrderEdge):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "OUT_OF_ORDER_EDGE",
		})
	case errors.Is(err, graph.ErrMaxNodesExceeded), errors.Is(err, graph.ErrMaxEdgesExceeded):
		c.JSON(http.StatusInsufficientStorage, ErrorResponse{
			Error: err.Error(),
			Code:  "CAPACITY_EXCEEDED",
		})
	default:
		logger.Error("Ingestion failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Ingestion failed",
			Code:  "INGEST_FAILED",
		})
	}
}

// getOrCreateRequestID returns the X-Request-ID header, creating one
// when absent, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
