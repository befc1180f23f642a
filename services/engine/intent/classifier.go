// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package intent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/ParagrafAI/ParagrafCore/services/engine/config"
)

var tracer = otel.Tracer("engine.intent")

// compiledRule is one classification rule ready for matching.
// Rules keep their file order; earlier rules win score ties.
type compiledRule struct {
	intent   Intent
	pattern  *regexp.Regexp
	weight   float64
	priority int
}

// Classifier is the rule-based intent classifier with optional model fallback.
//
// Thread Safety: Safe for concurrent use after construction.
type Classifier struct {
	rules     []compiledRule
	threshold float64
	timeout   time.Duration

	// group deduplicates concurrent identical fallback calls so a burst of
	// the same query costs one model invocation.
	group singleflight.Group

	// cache keeps recent model verdicts so repeated low-confidence queries
	// skip the model entirely.
	cache *predictionCache
}

const (
	fallbackCacheTTL  = 5 * time.Minute
	fallbackCacheSize = 512
)

// Rule-pattern construction happens once; Load already validated every
// pattern, so a compile failure here is a programming error.

// NewClassifier creates a classifier from configured intent tables.
//
// Inputs:
//
//	weights - Intent tables, normally from config.Default() or a deployed
//	          weights file. Patterns must already be validated.
//
// Outputs:
//
//	*Classifier - The configured classifier.
//	error - Non-nil if a pattern fails to compile.
func NewClassifier(weights config.IntentWeights) (*Classifier, error) {
	rules := make([]compiledRule, 0, len(weights.Patterns))
	for i, p := range weights.Patterns {
		compiled, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile intent pattern %d (%q): %w", i, p.Pattern, err)
		}
		rules = append(rules, compiledRule{
			intent:   Intent(p.Intent),
			pattern:  compiled,
			weight:   p.Weight,
			priority: i,
		})
	}

	threshold := weights.ConfidenceThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = 0.7
	}
	timeout := weights.ModelTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Classifier{
		rules:     rules,
		threshold: threshold,
		timeout:   timeout,
		cache:     newPredictionCache(fallbackCacheTTL, fallbackCacheSize),
	}, nil
}

// Classify predicts the intent of a query using rules only.
//
// Description:
//
//	Every matching rule contributes its weight to its intent bucket; the
//	bucket with the highest aggregate score wins. Confidence is the
//	winning bucket's share of the total score. Ties go to the bucket whose
//	earliest-registered rule matched first. Queries matching no rule
//	default to Explanation with low confidence.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	text - The raw query text.
//
// Outputs:
//
//	Prediction - The rule-based prediction, Method=MethodRule.
//
// Thread Safety: Safe for concurrent use.
func (c *Classifier) Classify(ctx context.Context, text string) Prediction {
	if ctx == nil {
		ctx = context.Background()
	}

	_, span := tracer.Start(ctx, "intent.Classifier.Classify",
		trace.WithAttributes(attribute.Int("query_length", len(text))),
	)
	defer span.End()

	normalized := strings.TrimSpace(text)

	scores := make(map[Intent]float64, 4)
	firstMatch := make(map[Intent]int, 4)
	total := 0.0

	for _, rule := range c.rules {
		if !rule.pattern.MatchString(normalized) {
			continue
		}
		scores[rule.intent] += rule.weight
		total += rule.weight
		if _, seen := firstMatch[rule.intent]; !seen {
			firstMatch[rule.intent] = rule.priority
		}
	}

	if total == 0 {
		span.SetAttributes(attribute.String("intent", string(Explanation)),
			attribute.String("outcome", "no_rule_matched"))
		return Prediction{
			Intent:     Explanation,
			Confidence: 0.25,
			Method:     MethodRule,
			Rationale:  "no rule matched; defaulting to explanation",
		}
	}

	winner := Explanation
	best := -1.0
	for intentName, score := range scores {
		switch {
		case score > best:
			winner, best = intentName, score
		case score == best && firstMatch[intentName] < firstMatch[winner]:
			// Tie: first-registered rule wins.
			winner = intentName
		}
	}

	prediction := Prediction{
		Intent:     winner,
		Confidence: best / total,
		Method:     MethodRule,
		Rationale: fmt.Sprintf("rules scored %s %.2f of %.2f total",
			winner, best, total),
	}

	span.SetAttributes(
		attribute.String("intent", string(prediction.Intent)),
		attribute.Float64("confidence", prediction.Confidence),
	)
	return prediction
}

// ClassifyWithFallback predicts intent, consulting the model when rule
// confidence is below the threshold.
//
// Description:
//
//	Runs the rule classifier first. If its confidence is at or above the
//	threshold, or no model is supplied, the rule prediction is returned
//	unchanged. Otherwise the model capability is called under the
//	configured timeout; a model error or timeout degrades gracefully to
//	the rule prediction. A model prediction carries its own computed
//	confidence, but never reports less certainty than the rules already
//	established while agreeing with them.
//
// Inputs:
//
//	ctx - Context for tracing and cancellation. Must not be nil.
//	text - The raw query text.
//	model - Optional model fallback capability. Nil disables fallback.
//
// Outputs:
//
//	Prediction - The final prediction. Never an error; degradation is
//	             expressed through Method and Confidence.
//
// Thread Safety: Safe for concurrent use.
func (c *Classifier) ClassifyWithFallback(ctx context.Context, text string, model ModelClassifier) Prediction {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracer.Start(ctx, "intent.Classifier.ClassifyWithFallback")
	defer span.End()

	ruleBased := c.Classify(ctx, text)
	if model == nil || ruleBased.Confidence >= c.threshold {
		span.SetAttributes(attribute.String("outcome", "rule_sufficient"))
		return ruleBased
	}

	key := strings.ToLower(strings.TrimSpace(text))
	if cached, ok := c.cache.get(key); ok {
		span.SetAttributes(attribute.String("outcome", "cache_hit"))
		return cached
	}

	result, err, _ := c.group.Do(text, func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return model.ClassifyViaModel(callCtx, text)
	})
	if err != nil {
		span.SetAttributes(attribute.String("outcome", "model_failed"))
		return ruleBased
	}

	modelBased, ok := result.(Prediction)
	if !ok || !modelBased.Intent.Valid() {
		span.SetAttributes(attribute.String("outcome", "model_invalid"))
		return ruleBased
	}

	modelBased.Method = MethodModel
	if modelBased.Intent == ruleBased.Intent && modelBased.Confidence < ruleBased.Confidence {
		// Agreement must not read as new doubt.
		modelBased.Confidence = ruleBased.Confidence
	}
	c.cache.set(key, modelBased)

	span.SetAttributes(
		attribute.String("outcome", "model_used"),
		attribute.String("intent", string(modelBased.Intent)),
		attribute.Float64("confidence", modelBased.Confidence),
	)
	return modelBased
}

// Threshold returns the configured fallback threshold.
func (c *Classifier) Threshold() float64 {
	return c.threshold
}
