// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("engine.retrieval")

var (
	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_retrieval_searches_total",
		Help: "Retrieval searches by outcome",
	}, []string{"outcome"})

	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_retrieval_duration_seconds",
		Help:    "Retrieval search latency",
		Buckets: prometheus.DefBuckets,
	})
)

// ErrEmptyQuery is returned for a blank search query.
var ErrEmptyQuery = errors.New("search query is empty")

// DefaultClassName is the Weaviate class holding indexed legal documents.
const DefaultClassName = "LegalDocument"

// WeaviateConfig configures the Weaviate-backed searcher.
type WeaviateConfig struct {
	// Host is the Weaviate host:port (no scheme).
	Host string

	// Scheme is http or https. Default: http.
	Scheme string

	// ClassName is the document class. Default: DefaultClassName.
	ClassName string

	// HealthInterval is the minimum gap between readiness probes.
	// Default: 10s.
	HealthInterval time.Duration

	// Logger for search operations. Default: slog.Default().
	Logger *slog.Logger
}

// WeaviateSearcher is a Searcher over a Weaviate nearText index.
//
// Description:
//
//	Searches run a nearText GraphQL query against the document class.
//	A readiness gate in front of the query keeps an unavailable backend
//	from stalling requests: while unhealthy, searches return an empty
//	Degraded result immediately, and readiness is re-probed at most once
//	per HealthInterval.
//
// Thread Safety: Safe for concurrent use.
type WeaviateSearcher struct {
	client    *weaviate.Client
	className string
	interval  time.Duration
	logger    *slog.Logger

	// healthy and lastProbe gate the backend without a background goroutine.
	healthy   atomic.Bool
	lastProbe atomic.Int64
}

// NewWeaviateSearcher creates a searcher over the given backend.
//
// Inputs:
//
//	cfg - Backend location and tuning. Host is required.
//
// Outputs:
//
//	*WeaviateSearcher - The configured searcher, initially assumed healthy.
//	error - Non-nil if the host is missing or the client rejects the config.
func NewWeaviateSearcher(cfg WeaviateConfig) (*WeaviateSearcher, error) {
	if cfg.Host == "" {
		return nil, errors.New("retrieval: weaviate host is required")
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if cfg.ClassName == "" {
		cfg.ClassName = DefaultClassName
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   cfg.Host,
		Scheme: cfg.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval: create weaviate client: %w", err)
	}

	s := &WeaviateSearcher{
		client:    client,
		className: cfg.ClassName,
		interval:  cfg.HealthInterval,
		logger:    cfg.Logger,
	}
	s.healthy.Store(true)
	return s, nil
}

var _ Searcher = (*WeaviateSearcher)(nil)

// Search implements Searcher.
func (s *WeaviateSearcher) Search(ctx context.Context, query string, limit int) (ResultSet, error) {
	ctx, span := tracer.Start(ctx, "retrieval.WeaviateSearcher.Search",
		trace.WithAttributes(attribute.Int("limit", limit)),
	)
	defer span.End()

	if query == "" {
		span.SetStatus(codes.Error, ErrEmptyQuery.Error())
		return ResultSet{}, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = 10
	}

	if !s.gate(ctx) {
		span.SetAttributes(attribute.Bool("degraded", true))
		searchesTotal.WithLabelValues("degraded").Inc()
		return ResultSet{Degraded: true}, nil
	}

	start := time.Now()
	docs, err := s.query(ctx, query, limit)
	searchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		// Backend trouble degrades the request instead of failing it.
		s.healthy.Store(false)
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("degraded", true))
		searchesTotal.WithLabelValues("error_degraded").Inc()
		s.logger.Warn("retrieval degraded",
			slog.String("error", err.Error()),
		)
		return ResultSet{Degraded: true}, nil
	}

	span.SetAttributes(attribute.Int("documents", len(docs)))
	searchesTotal.WithLabelValues("ok").Inc()
	return ResultSet{Documents: docs}, nil
}

// gate reports whether the backend should be queried, re-probing readiness
// at most once per interval while unhealthy.
func (s *WeaviateSearcher) gate(ctx context.Context) bool {
	if s.healthy.Load() {
		return true
	}

	now := time.Now().UnixNano()
	last := s.lastProbe.Load()
	if now-last < s.interval.Nanoseconds() || !s.lastProbe.CompareAndSwap(last, now) {
		return false
	}

	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil || !ready {
		return false
	}

	s.healthy.Store(true)
	s.logger.Info("retrieval backend recovered")
	return true
}

// query runs the nearText search.
func (s *WeaviateSearcher) query(ctx context.Context, query string, limit int) ([]Document, error) {
	nearText := s.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "sourceType"},
		{Name: "reference"},
		{Name: "_additional { id certainty }"},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("nearText search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("nearText search: %s", result.Errors[0].Message)
	}

	data := make(map[string]any, len(result.Data))
	for k, v := range result.Data {
		data[k] = v
	}
	return s.parse(data)
}

// parse unpacks the GraphQL response into documents.
func (s *WeaviateSearcher) parse(data map[string]any) ([]Document, error) {
	get, ok := data["Get"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected response shape: missing Get")
	}
	raw, ok := get[s.className].([]any)
	if !ok {
		// The class exists but matched nothing.
		return nil, nil
	}

	docs := make([]Document, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		doc := Document{
			Content:    stringField(obj, "content"),
			SourceType: stringField(obj, "sourceType"),
			Reference:  stringField(obj, "reference"),
		}
		if add, ok := obj["_additional"].(map[string]any); ok {
			doc.ID = stringField(add, "id")
			if certainty, ok := add["certainty"].(float64); ok {
				doc.Certainty = certainty
			}
		}
		if doc.Content == "" {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func stringField(obj map[string]any, key string) string {
	v, _ := obj[key].(string)
	return v
}
