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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianShield/services/shield/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Test Helpers
// =============================================================================

func newTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	mgr, err := config.Load(filepath.Join(t.TempDir(), "shield.yaml"))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewService(mgr, logger)
	require.NoError(t, err)
	t.Cleanup(svc.Shutdown)

	router := gin.New()
	v1 := router.Group("/v1")
	RegisterRoutes(v1, NewHandlers(svc))
	return router, svc
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func postNode(t *testing.T, router *gin.Engine, id, typ string) {
	t.Helper()
	w := doJSON(t, router, "POST", "/v1/shield/nodes", gin.H{"id": id, "type": typ})
	require.Equal(t, http.StatusOK, w.Code, "node %s: %s", id, w.Body.String())
}

func postEdge(t *testing.T, router *gin.Engine, typ, src, dst string, attrs gin.H) {
	t.Helper()
	w := doJSON(t, router, "POST", "/v1/shield/edges", gin.H{
		"type": typ, "src": src, "dst": dst, "attrs": attrs,
	})
	require.Equal(t, http.StatusOK, w.Code, "edge %s->%s: %s", src, dst, w.Body.String())
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// =============================================================================
// Ingestion Endpoints
// =============================================================================

func TestHandleUpsertNode(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, "POST", "/v1/shield/nodes", gin.H{"id": "acct-1", "type": "account"})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp NodeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "acct-1", resp.ID)
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHandleUpsertNodeInvalidType(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, "POST", "/v1/shield/nodes", gin.H{"id": "x", "type": "wallet"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", decodeError(t, w).Code)
}

func TestHandleUpsertNodeTypeConflict(t *testing.T) {
	router, _ := newTestRouter(t)
	postNode(t, router, "x", "account")

	w := doJSON(t, router, "POST", "/v1/shield/nodes", gin.H{"id": "x", "type": "device"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "TYPE_CONFLICT", decodeError(t, w).Code)
}

func TestHandleUpsertNodeMalformedBody(t *testing.T) {
	router, _ := newTestRouter(t)

	req, _ := http.NewRequest("POST", "/v1/shield/nodes", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleAppendEdge(t *testing.T) {
	router, _ := newTestRouter(t)
	postNode(t, router, "a", "account")
	postNode(t, router, "b", "account")

	w := doJSON(t, router, "POST", "/v1/shield/edges", gin.H{
		"type": "TRANSACTION", "src": "a", "dst": "b",
		"attrs": gin.H{"amount": 250.0, "timestamp": "2026-08-01T10:00:00Z"},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp EdgeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "a", resp.Src)
}

func TestHandleAppendEdgeUnknownEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	postNode(t, router, "a", "account")

	w := doJSON(t, router, "POST", "/v1/shield/edges", gin.H{
		"type": "TRANSACTION", "src": "a", "dst": "ghost",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "UNKNOWN_ENDPOINT", decodeError(t, w).Code)
}

// =============================================================================
// Pattern Query Endpoint
// =============================================================================

func TestHandlePatternQueryCycle(t *testing.T) {
	router, _ := newTestRouter(t)
	for _, id := range []string{"acct-A", "acct-B", "acct-C", "acct-D"} {
		postNode(t, router, id, "account")
	}
	hops := []struct {
		src, dst string
		amount   float64
		ts       string
	}{
		{"acct-A", "acct-B", 18500, "2026-08-01T09:00:00Z"},
		{"acct-B", "acct-C", 17700, "2026-08-01T10:00:00Z"},
		{"acct-C", "acct-D", 16900, "2026-08-01T11:00:00Z"},
		{"acct-D", "acct-A", 16100, "2026-08-01T12:00:00Z"},
	}
	for _, h := range hops {
		postEdge(t, router, "TRANSACTION", h.src, h.dst, gin.H{"amount": h.amount, "timestamp": h.ts})
	}

	w := doJSON(t, router, "POST", "/v1/shield/patterns/query", gin.H{
		"pattern": "cycle", "node_id": "acct-A",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Pattern   string `json:"pattern"`
		Truncated bool   `json:"truncated"`
		Matches   []struct {
			NodeIDs     []string `json:"node_ids"`
			TotalAmount float64  `json:"total_amount"`
		} `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "cycle", resp.Pattern)
	assert.False(t, resp.Truncated)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, []string{"acct-A", "acct-B", "acct-C", "acct-D"}, resp.Matches[0].NodeIDs)
	assert.Equal(t, 69200.0, resp.Matches[0].TotalAmount)
}

func TestHandlePatternQueryStar(t *testing.T) {
	router, _ := newTestRouter(t)
	postNode(t, router, "dev-1", "device")
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("acct-%d", i)
		postNode(t, router, id, "account")
		postEdge(t, router, "USED_DEVICE", id, "dev-1", nil)
	}

	w := doJSON(t, router, "POST", "/v1/shield/patterns/query", gin.H{
		"pattern": "star", "node_id": "dev-1", "threshold": 5, "exact": true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Matches struct {
			Hub           string `json:"Hub"`
			NeighborCount int    `json:"NeighborCount"`
			Flagged       bool   `json:"Flagged"`
		} `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "dev-1", resp.Matches.Hub)
	assert.Equal(t, 5, resp.Matches.NeighborCount)
	assert.True(t, resp.Matches.Flagged)
}

func TestHandlePatternQueryUnknownPattern(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, "POST", "/v1/shield/patterns/query", gin.H{
		"pattern": "pentagram", "node_id": "x",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "UNKNOWN_PATTERN", decodeError(t, w).Code)
}

func TestHandlePatternQueryUnknownNode(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, "POST", "/v1/shield/patterns/query", gin.H{
		"pattern": "cycle", "node_id": "ghost",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NODE_NOT_FOUND", decodeError(t, w).Code)
}

func TestHandlePatternQueryMissingPattern(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, "POST", "/v1/shield/patterns/query", gin.H{"node_id": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Job Endpoints
// =============================================================================

func TestHandleJobLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)
	for _, id := range []string{"a", "b", "c"} {
		postNode(t, router, id, "account")
	}
	postEdge(t, router, "TRANSACTION", "a", "b", gin.H{"amount": 10.0})
	postEdge(t, router, "TRANSACTION", "b", "c", gin.H{"amount": 10.0})
	postEdge(t, router, "TRANSACTION", "c", "a", gin.H{"amount": 10.0})

	w := doJSON(t, router, "POST", "/v1/shield/jobs", gin.H{"algorithm": "pagerank"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var submitted struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitted))
	require.NotEmpty(t, submitted.ID)

	// Poll until the job reaches a terminal state.
	var final struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Error  string `json:"error"`
		Result any    `json:"result"`
	}
	require.Eventually(t, func() bool {
		gw := doJSON(t, router, "GET", "/v1/shield/jobs/"+submitted.ID, nil)
		require.Equal(t, http.StatusOK, gw.Code)
		require.NoError(t, json.Unmarshal(gw.Body.Bytes(), &final))
		return final.Status == "completed" || final.Status == "failed"
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, "completed", final.Status, "job error: %s", final.Error)
	assert.NotNil(t, final.Result)

	// The finished job is listed.
	lw := doJSON(t, router, "GET", "/v1/shield/jobs", nil)
	require.Equal(t, http.StatusOK, lw.Code)
	var jobs []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(lw.Body.Bytes(), &jobs))
	require.NotEmpty(t, jobs)
	assert.Equal(t, submitted.ID, jobs[0].ID)

	// Cancelling a finished job conflicts.
	cw := doJSON(t, router, "DELETE", "/v1/shield/jobs/"+submitted.ID, nil)
	assert.Equal(t, http.StatusConflict, cw.Code)
}

func TestHandleSubmitJobUnknownAlgorithm(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, "POST", "/v1/shield/jobs", gin.H{"algorithm": "dijkstra"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "UNKNOWN_ALGORITHM", decodeError(t, w).Code)
}

func TestHandleGetJobNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, "GET", "/v1/shield/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decodeError(t, w).Code)
}

// =============================================================================
// Scoring Endpoint
// =============================================================================

func TestHandleScore(t *testing.T) {
	router, _ := newTestRouter(t)
	postNode(t, router, "acct-1", "account")
	postNode(t, router, "acct-2", "account")
	ts := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	postEdge(t, router, "TRANSACTION", "acct-1", "acct-2", gin.H{"amount": 100.0, "timestamp": ts})

	w := doJSON(t, router, "GET", "/v1/shield/score/acct-1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		AccountID string         `json:"account_id"`
		Score     float64        `json:"score"`
		Level     string         `json:"level"`
		Factors   map[string]any `json:"factors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "acct-1", resp.AccountID)
	assert.GreaterOrEqual(t, resp.Score, 0.0)
	assert.LessOrEqual(t, resp.Score, 100.0)
	assert.NotEmpty(t, resp.Level)
	assert.Contains(t, resp.Factors, "velocity")
}

func TestHandleScoreUnknownAccount(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, "GET", "/v1/shield/score/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ACCOUNT_NOT_FOUND", decodeError(t, w).Code)
}

// =============================================================================
// Health and Stats
// =============================================================================

func TestHandleHealth(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, "GET", "/v1/shield/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
}

func TestHandleReady(t *testing.T) {
	router, _ := newTestRouter(t)
	postNode(t, router, "a", "account")

	w := doJSON(t, router, "GET", "/v1/shield/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp ReadyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Ready)
	assert.Equal(t, 1, resp.NodeCount)
}

func TestHandleStats(t *testing.T) {
	router, _ := newTestRouter(t)
	postNode(t, router, "a", "account")
	postNode(t, router, "b", "account")
	postEdge(t, router, "TRANSACTION", "a", "b", nil)

	w := doJSON(t, router, "GET", "/v1/shield/debug/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.NodeCount)
	assert.Equal(t, 1, resp.EdgeCount)
	assert.NotEmpty(t, resp.SnapshotID)
	assert.Greater(t, resp.QueueCapacity, 0)
}

func TestRequestIDEchoed(t *testing.T) {
	router, _ := newTestRouter(t)

	req, _ := http.NewRequest("POST", "/v1/shield/nodes", bytes.NewBufferString(`{"id":"a","type":"account"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "trace-me-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "trace-me-123", w.Header().Get("X-Request-ID"))
}
