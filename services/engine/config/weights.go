// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config provides the externally loaded tuning tables for the
// orchestration engine.
//
// All weight tables (question-word weights, domain keyword weights, intent
// patterns, budget factors) are configuration data passed into constructors,
// never constants baked into engine code. The deployment path for retuning is
// a new weights file, not a source edit.
//
// Thread Safety:
//
//	All exported functions and types are safe for concurrent use.
package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gopkg.in/yaml.v3"
)

const (
	// MaxWeightsFileSize is the maximum allowed weights file size (1MB).
	MaxWeightsFileSize = 1024 * 1024

	// MaxIntentPatterns is the maximum intent patterns allowed per file.
	MaxIntentPatterns = 200

	// MaxKeywords is the maximum complexity keywords allowed per file.
	MaxKeywords = 500
)

//go:embed weights.yaml
var defaultWeightsYAML []byte

var (
	weightsLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_weights_loads_total",
		Help: "Total weight table loads by source and status",
	}, []string{"source", "status"})
)

// ComplexityWeights configures the complexity analyzer.
type ComplexityWeights struct {
	// QuestionWords maps leading question words to base scores (1-10 scale).
	QuestionWords map[string]float64 `yaml:"question_words" validate:"required,min=1"`

	// Keywords maps domain keywords to additive score bonuses.
	// Matching is case-insensitive substring; each keyword counts once.
	Keywords map[string]float64 `yaml:"keywords" validate:"max=500"`

	// SubQuestionBonus is added per '?' or ';' beyond the first.
	SubQuestionBonus float64 `yaml:"sub_question_bonus" validate:"gte=0"`

	// LongSentenceWords is the word count above which LongSentenceBonus applies.
	LongSentenceWords int `yaml:"long_sentence_words" validate:"gt=0"`

	// LongSentenceBonus is added when the query exceeds LongSentenceWords.
	LongSentenceBonus float64 `yaml:"long_sentence_bonus" validate:"gte=0"`

	// ListBonus is added when the query contains list structure (bullets, enumerations).
	ListBonus float64 `yaml:"list_bonus" validate:"gte=0"`
}

// IntentPattern is one weighted classification rule.
//
// Rules are evaluated in file order; order defines rule priority for tie
// breaking (first registered wins).
type IntentPattern struct {
	// Intent names the bucket this rule contributes to
	// (quick_answer, explanation, analysis, research).
	Intent string `yaml:"intent" validate:"required,oneof=quick_answer explanation analysis research"`

	// Pattern is a Go regular expression matched against the raw query.
	Pattern string `yaml:"pattern" validate:"required"`

	// Weight is the score this rule contributes on match.
	Weight float64 `yaml:"weight" validate:"gt=0"`
}

// IntentWeights configures the intent classifier.
type IntentWeights struct {
	// ConfidenceThreshold is the rule confidence below which the model
	// fallback is consulted (default 0.7).
	ConfidenceThreshold float64 `yaml:"confidence_threshold" validate:"gt=0,lte=1"`

	// ModelTimeout bounds a single model fallback call.
	ModelTimeout time.Duration `yaml:"model_timeout" validate:"gt=0"`

	// Multipliers maps intent names to budget multipliers.
	Multipliers map[string]float64 `yaml:"multipliers" validate:"required,min=1"`

	// Patterns are the ordered classification rules.
	Patterns []IntentPattern `yaml:"patterns" validate:"required,min=1,dive"`
}

// BudgetWeights configures the token budget calculator.
type BudgetWeights struct {
	// BaseTokens is the starting budget before any factor applies.
	BaseTokens int `yaml:"base_tokens" validate:"gt=0"`

	// MinTokens is the floor the final budget is clamped to.
	MinTokens int `yaml:"min_tokens" validate:"gt=0"`

	// MaxTokens is the ceiling the final budget is clamped to.
	MaxTokens int `yaml:"max_tokens" validate:"gt=0,gtefield=MinTokens"`

	// ComplexityBase and ComplexitySlope define the linear complexity factor:
	// factor = ComplexityBase + ComplexitySlope*complexity.
	ComplexityBase  float64 `yaml:"complexity_base" validate:"gt=0"`
	ComplexitySlope float64 `yaml:"complexity_slope" validate:"gte=0"`

	// ChunkBonusTokens is the additive bonus per retrieved chunk.
	ChunkBonusTokens int `yaml:"chunk_bonus_tokens" validate:"gte=0"`

	// ChunkBonusMax caps the total chunk bonus so retrieval noise cannot
	// grow the budget without bound.
	ChunkBonusMax int `yaml:"chunk_bonus_max" validate:"gte=0"`

	// SourceDiversityStep grows the diversity factor per distinct source
	// type beyond the first; SourceDiversityMax caps the factor.
	SourceDiversityStep float64 `yaml:"source_diversity_step" validate:"gte=0"`
	SourceDiversityMax  float64 `yaml:"source_diversity_max" validate:"gte=1"`

	// AgentScalingStep grows the agent factor per worker beyond the first;
	// AgentScalingMax caps the factor.
	AgentScalingStep float64 `yaml:"agent_scaling_step" validate:"gte=0"`
	AgentScalingMax  float64 `yaml:"agent_scaling_max" validate:"gte=1"`

	// ConfidenceBase and ConfidenceSlope define the optional confidence
	// adjustment: factor = ConfidenceBase + ConfidenceSlope*confidence.
	ConfidenceBase  float64 `yaml:"confidence_base" validate:"gt=0"`
	ConfidenceSlope float64 `yaml:"confidence_slope" validate:"gte=0"`
}

// ExecutorWeights configures task execution limits.
type ExecutorWeights struct {
	// MaxConcurrency bounds concurrent tasks within one execution group.
	MaxConcurrency int `yaml:"max_concurrency" validate:"gt=0"`

	// TaskTimeout is the per-task invocation deadline.
	TaskTimeout time.Duration `yaml:"task_timeout" validate:"gt=0"`
}

// Weights is the full tuning table set for one engine instance.
//
// A Weights value is immutable after Load returns it. Hot reload swaps the
// whole value; readers holding an old pointer keep a consistent table.
type Weights struct {
	Complexity ComplexityWeights `yaml:"complexity" validate:"required"`
	Intent     IntentWeights     `yaml:"intent" validate:"required"`
	Budget     BudgetWeights     `yaml:"budget" validate:"required"`
	Executor   ExecutorWeights   `yaml:"executor" validate:"required"`
}

var validate = validator.New()

// Default returns the embedded default weight tables.
//
// Outputs:
//
//	*Weights - Parsed embedded defaults.
//	error - Non-nil only if the embedded file is corrupt (a build defect).
func Default() (*Weights, error) {
	w, err := parse(defaultWeightsYAML)
	if err != nil {
		weightsLoadsTotal.WithLabelValues("embedded", "error").Inc()
		return nil, fmt.Errorf("embedded weights are invalid: %w", err)
	}
	weightsLoadsTotal.WithLabelValues("embedded", "ok").Inc()
	return w, nil
}

// Load reads weight tables from a YAML file.
//
// Description:
//
//	Reads, parses, and validates the file. Files exceeding
//	MaxWeightsFileSize or failing struct validation are rejected; the
//	caller keeps whatever table it already holds.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	path - Path to the weights YAML file.
//
// Outputs:
//
//	*Weights - The parsed, validated tables.
//	error - Non-nil if reading, parsing, or validation fails.
//
// Thread Safety: Safe for concurrent use.
func Load(ctx context.Context, path string) (*Weights, error) {
	_, span := otel.Tracer("engine.config").Start(ctx, "config.Load")
	defer span.End()
	span.SetAttributes(attribute.String("weights.path", path))

	info, err := os.Stat(path)
	if err != nil {
		weightsLoadsTotal.WithLabelValues("file", "error").Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("stat weights file: %w", err)
	}
	if info.Size() > MaxWeightsFileSize {
		weightsLoadsTotal.WithLabelValues("file", "too_large").Inc()
		err := fmt.Errorf("weights file %s exceeds %d bytes", path, MaxWeightsFileSize)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		weightsLoadsTotal.WithLabelValues("file", "error").Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("read weights file: %w", err)
	}

	w, err := parse(data)
	if err != nil {
		weightsLoadsTotal.WithLabelValues("file", "invalid").Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("parse weights file %s: %w", path, err)
	}

	weightsLoadsTotal.WithLabelValues("file", "ok").Inc()
	return w, nil
}

// parse unmarshals and validates a weights document.
func parse(data []byte) (*Weights, error) {
	var w Weights
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := validate.Struct(&w); err != nil {
		return nil, fmt.Errorf("validate weights: %w", err)
	}

	if len(w.Intent.Patterns) > MaxIntentPatterns {
		return nil, fmt.Errorf("too many intent patterns: %d > %d",
			len(w.Intent.Patterns), MaxIntentPatterns)
	}
	if len(w.Complexity.Keywords) > MaxKeywords {
		return nil, fmt.Errorf("too many complexity keywords: %d > %d",
			len(w.Complexity.Keywords), MaxKeywords)
	}

	// Reject unparseable patterns at load time, not first classification.
	for i, p := range w.Intent.Patterns {
		if _, err := regexp.Compile(p.Pattern); err != nil {
			return nil, fmt.Errorf("intent pattern %d (%q): %w", i, p.Pattern, err)
		}
	}

	// Multipliers must cover every intent the patterns can produce.
	for _, p := range w.Intent.Patterns {
		if _, ok := w.Intent.Multipliers[p.Intent]; !ok {
			return nil, fmt.Errorf("intent %q has patterns but no budget multiplier", p.Intent)
		}
	}

	return &w, nil
}
