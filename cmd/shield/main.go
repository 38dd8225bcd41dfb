// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command shield starts the Aleutian Shield API server.
//
// Aleutian Shield provides graph analytics for network-based fraud
// detection:
//   - Sharded in-memory typed graph of accounts, customers, devices,
//     and merchants
//   - Bounded pattern queries (cycles, stars, paths, bipartite, similarity)
//   - Asynchronous batch analytics (PageRank, Louvain, betweenness)
//     over consistent snapshots
//   - Real-time account risk scoring with a hard latency budget
//
// Usage:
//
//	go run ./cmd/shield serve
//	go run ./cmd/shield serve --addr :9090 --debug
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8092/v1/shield/health
//
//	# Ingest a node
//	curl -X POST http://localhost:8092/v1/shield/nodes \
//	  -H "Content-Type: application/json" \
//	  -d '{"id": "acct-1", "type": "account"}'
//
//	# Run a cycle query
//	curl -X POST http://localhost:8092/v1/shield/patterns/query \
//	  -H "Content-Type: application/json" \
//	  -d '{"pattern": "cycle", "node_id": "acct-1"}'
//
//	# Submit a batch job
//	curl -X POST http://localhost:8092/v1/shield/jobs \
//	  -H "Content-Type: application/json" \
//	  -d '{"algorithm": "pagerank"}'
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianShield/pkg/logging"
	shield "github.com/AleutianAI/AleutianShield/services/shield"
	"github.com/AleutianAI/AleutianShield/services/shield/config"
	"github.com/AleutianAI/AleutianShield/services/shield/telemetry"
)

var (
	flagConfig string
	flagAddr   string
	flagDebug  bool
	flagLogDir string

	rootCmd = &cobra.Command{
		Use:   "shield",
		Short: "Aleutian Shield graph analytics server",
		Long: "Aleutian Shield serves a fraud-detection graph: transaction\n" +
			"ingestion, bounded pattern queries, batch analytics jobs, and\n" +
			"real-time account risk scoring.",
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the Shield API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the Shield version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("aleutian-shield %s\n", shield.ServiceVersion)
		},
	}
)

func init() {
	serveCmd.Flags().StringVar(&flagConfig, "config", "", "Path to shield.yaml (default: ~/.aleutian/shield.yaml)")
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (overrides config)")
	serveCmd.Flags().BoolVar(&flagDebug, "debug", false, "Enable debug logging and Gin debug mode")
	serveCmd.Flags().StringVar(&flagLogDir, "log-dir", "", "Directory for JSON log files (default: stderr only)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe() error {
	level := logging.LevelInfo
	if flagDebug {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  flagLogDir,
		Service: "shield",
	})
	defer logger.Close()
	logger.SetAsDefault()

	// Load config, creating the default file on first run.
	path := flagConfig
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return fmt.Errorf("resolving config path: %w", err)
		}
	}
	cfgMgr, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", path, err)
	}
	cfg := cfgMgr.Current()
	logger.Info("Configuration loaded", "path", path)

	// Telemetry before anything that records metrics.
	telCfg := telemetry.DefaultConfig()
	if cfg.Telemetry.ServiceName != "" {
		telCfg.ServiceName = cfg.Telemetry.ServiceName
	}
	if cfg.Telemetry.TraceExporter != "" {
		telCfg.TraceExporter = cfg.Telemetry.TraceExporter
	}
	if cfg.Telemetry.MetricExporter != "" {
		telCfg.MetricExporter = cfg.Telemetry.MetricExporter
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		telCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	telShutdown, err := telemetry.Init(context.Background(), telCfg)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telShutdown(ctx); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	svc, err := shield.NewService(cfgMgr, logger.Slog())
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}
	svc.Start()

	if flagDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(telemetry.GinMiddleware("shield.http"))
	if mh := telemetry.MetricsHandler(); mh != nil {
		router.GET("/metrics", gin.WrapH(mh))
	}

	v1 := router.Group("/v1")
	shield.RegisterRoutes(v1, shield.NewHandlers(svc))

	addr := flagAddr
	if addr == "" {
		addr = cfg.Server.ListenAddr
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	printBanner(addr)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		svc.Shutdown()
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		logger.Info("Shutting down Aleutian Shield server", "signal", sig.String())
	}

	// Stop accepting connections, then drain the service: in-flight
	// HTTP requests finish before the worker pool stops.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	svc.Shutdown()
	logger.Info("Shutdown complete")
	return nil
}

func printBanner(addr string) {
	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                     ALEUTIAN SHIELD SERVER                        ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Graph analytics for network-based fraud detection.               ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost%s/v1/shield/health                 │  ║
║  │                                                             │  ║
║  │ # Ingest a node                                             │  ║
║  │ curl -X POST http://localhost%s/v1/shield/nodes \        │  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"id": "acct-1", "type": "account"}'                  │  ║
║  │                                                             │  ║
║  │ # Detect cycles from a node                                 │  ║
║  │ curl -X POST http://localhost%s/v1/shield/patterns/query \ ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"pattern": "cycle", "node_id": "acct-1"}'            │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── Ingest: POST /nodes, POST /edges                             ║
║  ├── Query:  POST /patterns/query                                 ║
║  ├── Jobs:   POST /jobs, GET /jobs, GET|DELETE /jobs/:id          ║
║  ├── Score:  GET /score/:account_id                               ║
║  └── Ops:    /health, /ready, /debug/stats, /metrics              ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, addr, addr, addr)
}
