// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/ParagrafAI/ParagrafCore/services/engine/llm"
	"github.com/ParagrafAI/ParagrafCore/services/engine/orchestrator"
	"github.com/ParagrafAI/ParagrafCore/services/engine/retrieval"
)

// Environment variables wiring the engine to its backends. The engine is
// built for local-first deployments; the defaults assume an Ollama-style
// server on the local machine.
const (
	envWeaviateURL = "PARAGRAF_WEAVIATE_URL"
	envLLMURL      = "PARAGRAF_LLM_URL"
	envLLMModel    = "PARAGRAF_LLM_MODEL"
	envLLMAPIKey   = "PARAGRAF_LLM_API_KEY"
)

const defaultModel = "llama3.1"

// buildOrchestrator wires retrieval, workers, and the generator into one
// pipeline. Missing retrieval degrades; a missing model is fatal.
func buildOrchestrator(provider orchestrator.WeightsProvider, logger *slog.Logger) (*orchestrator.Orchestrator, error) {
	searcher, err := newSearcher(logger)
	if err != nil {
		return nil, fmt.Errorf("build searcher: %w", err)
	}

	client, err := newGenerator(logger)
	if err != nil {
		return nil, fmt.Errorf("build llm client: %w", err)
	}

	registry, err := newWorkerRegistry(searcher, client)
	if err != nil {
		return nil, fmt.Errorf("build worker registry: %w", err)
	}

	return orchestrator.New(provider, searcher, registry, client,
		orchestrator.WithModelFallback(llm.NewIntentAdapter(client)),
		orchestrator.WithLogger(logger),
	)
}

// newSearcher connects to Weaviate when configured, and otherwise returns
// a searcher that reports every result set as degraded so the pipeline
// keeps answering from model knowledge alone.
func newSearcher(logger *slog.Logger) (retrieval.Searcher, error) {
	raw := strings.Trim(os.Getenv(envWeaviateURL), "\"' ")
	if raw == "" {
		logger.Warn("retrieval disabled, no vector store configured",
			slog.String("env", envWeaviateURL))
		return offlineSearcher{}, nil
	}

	scheme, host := "http", raw
	if strings.Contains(raw, "://") {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Host == "" {
			return nil, fmt.Errorf("invalid %s %q", envWeaviateURL, raw)
		}
		scheme, host = parsed.Scheme, parsed.Host
	}

	return retrieval.NewWeaviateSearcher(retrieval.WeaviateConfig{
		Host:   host,
		Scheme: scheme,
		Logger: logger,
	})
}

func newGenerator(logger *slog.Logger) (llm.Client, error) {
	model := os.Getenv(envLLMModel)
	if model == "" {
		model = defaultModel
	}
	apiKey := os.Getenv(envLLMAPIKey)
	if apiKey == "" {
		// Local inference servers accept any non-empty key.
		apiKey = "local"
	}

	return llm.NewOpenAIClient(llm.Config{
		APIKey:  apiKey,
		BaseURL: strings.Trim(os.Getenv(envLLMURL), "\"' "),
		Model:   model,
		Logger:  logger,
	})
}

// offlineSearcher stands in when no vector store is configured.
type offlineSearcher struct{}

var _ retrieval.Searcher = offlineSearcher{}

func (offlineSearcher) Search(context.Context, string, int) (retrieval.ResultSet, error) {
	return retrieval.ResultSet{Degraded: true}, nil
}
