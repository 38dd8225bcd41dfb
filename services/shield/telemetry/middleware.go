// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware traces every request and records request metrics.
//
// Description:
//
//	Wraps each request in a server span with standard HTTP semantic
//	attributes, extracting upstream trace context from the incoming
//	headers. Records request count and latency with method, route,
//	and status labels. Route templates (not raw paths) label metrics
//	to keep cardinality bounded.
//
// Inputs:
//
//	tracerName - Name for the tracer (e.g., "shield.http").
//
// Thread Safety: Safe for concurrent use.
func GinMiddleware(tracerName string) gin.HandlerFunc {
	tracer := otel.Tracer(tracerName)
	meter := otel.Meter(tracerName)

	requests, _ := meter.Int64Counter("shield.http.requests",
		metric.WithDescription("HTTP requests served"))
	latency, _ := meter.Float64Histogram("shield.http.latency",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("ms"))
	inFlight, _ := meter.Int64UpDownCounter("shield.http.in_flight",
		metric.WithDescription("HTTP requests currently in flight"))

	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(
			c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		spanName := c.Request.Method + " " + route
		ctx, span := tracer.Start(ctx, spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", route),
				attribute.String("http.target", c.Request.URL.Path),
				attribute.String("http.host", c.Request.Host),
				attribute.String("http.user_agent", c.Request.UserAgent()),
				attribute.String("net.peer.ip", c.ClientIP()),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)

		if inFlight != nil {
			inFlight.Add(ctx, 1)
		}
		started := time.Now()
		c.Next()
		elapsed := time.Since(started)
		if inFlight != nil {
			inFlight.Add(ctx, -1)
		}

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		switch {
		case status >= 500:
			span.SetStatus(codes.Error, http.StatusText(status))
		case status >= 400:
			span.SetStatus(codes.Unset, "")
		default:
			span.SetStatus(codes.Ok, "")
		}

		labels := metric.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("route", route),
			attribute.Int("status", status),
		)
		if requests != nil {
			requests.Add(ctx, 1, labels)
		}
		if latency != nil {
			latency.Record(ctx, float64(elapsed.Microseconds())/1000.0, labels)
		}
	}
}
