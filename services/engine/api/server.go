// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package api exposes the engine over HTTP.
//
// Two query endpoints share one pipeline: POST /v1/query blocks and returns
// the final result as JSON, POST /v1/query/stream delivers the event stream
// as NDJSON lines, flushed per event. Health and Prometheus metrics round
// out the surface.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/ParagrafAI/ParagrafCore/services/engine/orchestrator"
	"github.com/ParagrafAI/ParagrafCore/services/engine/telemetry"
)

var (
	streamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_http_streams_active",
		Help: "NDJSON streams currently open",
	})

	streamEventsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_http_stream_events_written_total",
		Help: "Events written to NDJSON streams",
	})
)

// Server is the HTTP front of the orchestration engine.
//
// Thread Safety: Safe for concurrent use once constructed.
type Server struct {
	orchestrator *orchestrator.Orchestrator
	logger       *slog.Logger
	engine       *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds the HTTP server around an orchestrator.
//
// Inputs:
//
//	orch - The query pipeline. Must not be nil.
//	opts - Optional configuration.
//
// Outputs:
//
//	*Server - Ready to serve; mount via Handler or start via Run.
//	error - Non-nil if orch is nil.
func New(orch *orchestrator.Orchestrator, opts ...Option) (*Server, error) {
	if orch == nil {
		return nil, errors.New("api: orchestrator is required")
	}

	s := &Server{
		orchestrator: orch,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("paragraf-engine"))

	engine.GET("/health", s.handleHealth)
	engine.GET("/metrics", s.handleMetrics)

	v1 := engine.Group("/v1")
	{
		v1.POST("/query", s.handleQuery)
		v1.POST("/query/stream", s.handleQueryStream)
	}

	s.engine = engine
	return s, nil
}

// Handler returns the routed http.Handler for mounting or testing.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until the listener fails.
func (s *Server) Run(addr string) error {
	s.logger.Info("http server listening", slog.String("addr", addr))
	return s.engine.Run(addr)
}

// queryRequest is the body of both query endpoints.
type queryRequest struct {
	ID          string                   `json:"id"`
	SessionID   string                   `json:"session_id"`
	Query       string                   `json:"query" binding:"required"`
	Preferences orchestrator.Preferences `json:"preferences"`
}

func (r queryRequest) toRequest() orchestrator.Request {
	return orchestrator.Request{
		ID:          r.ID,
		SessionID:   r.SessionID,
		Query:       r.Query,
		Preferences: r.Preferences,
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleMetrics(c *gin.Context) {
	h := telemetry.MetricsHandler()
	if h == nil {
		h = promhttp.Handler()
	}
	h.ServeHTTP(c.Writer, c.Request)
}

// handleQuery runs the pipeline to completion and returns the final result.
//
// Description:
//
//	Internal failure detail stays in the logs; clients get a generic
//	message. A request canceled by the client maps to 499 in the access
//	log convention but the response is moot at that point.
func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := s.orchestrator.Process(c.Request.Context(), req.toRequest())
	if err != nil {
		if errors.Is(err, orchestrator.ErrEmptyQuery) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "query is empty"})
			return
		}
		s.logger.Error("query failed",
			slog.String("request_id", result.RequestID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query processing failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleQueryStream streams pipeline events as NDJSON.
//
// Description:
//
//	Each event is one JSON line, flushed immediately. The stream always
//	ends with exactly one FINAL_RESULT or ERROR line. When the client
//	disconnects, the request context cancels the pipeline; the remaining
//	events are drained so the producer can shut down.
//
// Limitations:
//
//   - Errors after the first write arrive as ERROR lines, not HTTP status.
func (s *Server) handleQueryStream(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	streamsActive.Inc()
	defer streamsActive.Dec()

	stream := s.orchestrator.ProcessStream(c.Request.Context(), req.toRequest())

	for event := range stream {
		line, err := event.NDJSON()
		if err != nil {
			s.logger.Error("event serialization failed",
				slog.String("type", string(event.Type)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if _, err := c.Writer.Write(line); err != nil {
			s.logger.Debug("stream client disconnected", slog.String("error", err.Error()))
			for range stream {
			}
			return
		}
		c.Writer.Flush()
		streamEventsWritten.Inc()
	}
}
