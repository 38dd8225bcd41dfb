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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all shield routes with the router.
//
// Description:
//
//	Registers all /v1/shield/* endpoints with the given Gin router
//	group. The router group should already have any required
//	middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Ingestion Endpoints:
//
//	POST /v1/shield/nodes - Upsert a node
//	POST /v1/shield/edges - Append an edge
//
// Query Endpoints:
//
//	POST /v1/shield/patterns/query - Run a pattern traversal
//	GET  /v1/shield/score/:account_id - Compute a risk score
//
// Batch Job Endpoints:
//
//	POST   /v1/shield/jobs - Submit an analytics job
//	GET    /v1/shield/jobs - List retained jobs
//	GET    /v1/shield/jobs/:id - Job status and result
//	DELETE /v1/shield/jobs/:id - Cancel a job
//
// Health Endpoints:
//
//	GET /v1/shield/health - Health check
//	GET /v1/shield/ready - Readiness check
//
// Example:
//
//	service, _ := shield.NewService(cfg, logger)
//	handlers := shield.NewHandlers(service)
//
//	v1 := router.Group("/v1")
//	shield.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	sh := rg.Group("/shield")
	{
		// Ingestion
		sh.POST("/nodes", handlers.HandleUpsertNode)
		sh.POST("/edges", handlers.HandleAppendEdge)

		// Pattern queries
		sh.POST("/patterns/query", handlers.HandlePatternQuery)

		// Batch jobs
		sh.POST("/jobs", handlers.HandleSubmitJob)
		sh.GET("/jobs", handlers.HandleListJobs)
		sh.GET("/jobs/:id", handlers.HandleGetJob)
		sh.DELETE("/jobs/:id", handlers.HandleCancelJob)

		// Scoring
		sh.GET("/score/:account_id", handlers.HandleScore)

		// Health checks
		sh.GET("/health", handlers.HandleHealth)
		sh.GET("/ready", handlers.HandleReady)

		debug := sh.Group("/debug")
		{
			debug.GET("/stats", handlers.HandleStats)
		}
	}
}
