// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides the text generation client the engine reasons with.
//
// The client speaks the OpenAI chat-completion API, which local inference
// servers expose as well; BaseURL points it at either.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("engine.llm")

var (
	completionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_llm_completions_total",
		Help: "Chat completions by outcome",
	}, []string{"outcome"})

	completionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_llm_completion_duration_seconds",
		Help:    "Chat completion latency",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
)

// ErrNoChoices marks a completion response with no candidates.
var ErrNoChoices = errors.New("model returned no choices")

// Client is the generation capability used by phases and task workers.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Client interface {
	// Generate completes the prompt within the token budget.
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Config configures the OpenAI-compatible client.
type Config struct {
	// APIKey authenticates against the backend. Local servers usually
	// accept any non-empty value.
	APIKey string

	// BaseURL overrides the API endpoint for local inference servers
	// (e.g. "http://localhost:11434/v1"). Empty uses the OpenAI default.
	BaseURL string

	// Model is the model identifier. Required.
	Model string

	// SystemPrompt seeds every conversation. Empty uses a default
	// German legal assistant persona.
	SystemPrompt string

	// Logger for request logging. Default: slog.Default().
	Logger *slog.Logger
}

const defaultSystemPrompt = "Du bist ein juristischer Assistent für deutsches Recht. " +
	"Antworte präzise, nenne einschlägige Normen und kennzeichne unsichere Aussagen."

// OpenAIClient is the production Client over the chat-completion API.
//
// Thread Safety: Safe for concurrent use.
type OpenAIClient struct {
	client       *openai.Client
	model        string
	systemPrompt string
	logger       *slog.Logger
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client from the given config.
//
// Outputs:
//
//	*OpenAIClient - The configured client.
//	error - Non-nil if the model is missing.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if cfg.Model == "" {
		return nil, errors.New("llm: model is required")
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		logger:       cfg.Logger,
	}, nil
}

// Generate implements Client.
//
// Description:
//
//	Sends one chat completion with the configured system prompt and the
//	given user prompt. maxTokens bounds the completion; values below 1
//	leave the backend default in place.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	ctx, span := tracer.Start(ctx, "llm.OpenAIClient.Generate",
		trace.WithAttributes(
			attribute.String("model", c.model),
			attribute.Int("max_tokens", maxTokens),
		),
	)
	defer span.End()

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if maxTokens > 0 {
		req.MaxCompletionTokens = maxTokens
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	completionDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		completionsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("chat completion failed",
			slog.String("model", c.model),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		completionsTotal.WithLabelValues("empty").Inc()
		span.SetStatus(codes.Error, ErrNoChoices.Error())
		return "", ErrNoChoices
	}

	completionsTotal.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.String("finish_reason", string(resp.Choices[0].FinishReason)))
	return resp.Choices[0].Message.Content, nil
}
