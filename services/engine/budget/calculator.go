// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package budget computes the output token budget for a generation step.
//
// The budget is recomputed at several checkpoints of a request's life as
// more information becomes available (before retrieval, after retrieval,
// after worker selection). Every computation produces a fresh immutable
// Breakdown recording each factor, so operators can diff successive
// checkpoints to explain budget growth.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ParagrafAI/ParagrafCore/services/engine/complexity"
	"github.com/ParagrafAI/ParagrafCore/services/engine/config"
	"github.com/ParagrafAI/ParagrafCore/services/engine/intent"
)

var tracer = otel.Tracer("engine.budget")

var (
	budgetTokens = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_budget_tokens",
		Help:    "Final token budget per checkpoint",
		Buckets: []float64{256, 512, 1024, 2048, 4096, 8192},
	}, []string{"checkpoint"})

	budgetClampsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_budget_clamps_total",
		Help: "Budget computations clamped to the floor or ceiling",
	}, []string{"bound"})
)

// Checkpoint names the point in a request's life a budget was computed at.
type Checkpoint string

const (
	// CheckpointBeforeRetrieval is the first estimate, query signals only.
	CheckpointBeforeRetrieval Checkpoint = "before_retrieval"

	// CheckpointAfterRetrieval folds in chunk count and source diversity.
	CheckpointAfterRetrieval Checkpoint = "after_retrieval"

	// CheckpointAfterPlanning folds in the selected worker count.
	CheckpointAfterPlanning Checkpoint = "after_planning"
)

// Factor is one applied step of the budget formula.
type Factor struct {
	// Name identifies the factor (complexity, chunk_bonus, ...).
	Name string `json:"name"`

	// Value is the multiplier, or the token amount for additive steps.
	Value float64 `json:"value"`

	// Additive marks token-amount steps; all others multiply.
	Additive bool `json:"additive"`
}

// Breakdown records one budget computation end to end.
//
// A Breakdown is immutable once returned by Calculate.
type Breakdown struct {
	// Checkpoint is where in the request this computation ran.
	Checkpoint Checkpoint `json:"checkpoint"`

	// Complexity is the analyzer score that seeded the formula.
	Complexity float64 `json:"complexity"`

	// Factors lists every step in application order.
	Factors []Factor `json:"factors"`

	// Raw is the unclamped result of the formula.
	Raw float64 `json:"raw"`

	// Final is the clamped integer budget.
	Final int `json:"final"`

	// Clamped reports whether Min/MaxTokens bounded the result.
	Clamped bool `json:"clamped"`

	// ComputedAt is when this breakdown was produced.
	ComputedAt time.Time `json:"computed_at"`
}

// Input carries everything a budget computation may consider.
//
// Zero values are legal everywhere: ChunkCount=0 and AgentCount=0 yield
// neutral 1.0 factors rather than errors.
type Input struct {
	// Query is the raw request text.
	Query string

	// ChunkCount is the number of retrieved documents (0 before retrieval).
	ChunkCount int

	// SourceTypes are the distinct retrieval source types seen so far.
	SourceTypes []string

	// AgentCount is the number of selected workers (0 before planning).
	AgentCount int

	// Intent is the classified intent category.
	Intent intent.Intent

	// Confidence optionally adjusts the budget; nil skips the adjustment.
	Confidence *float64
}

// Calculator turns request signals into a bounded token budget.
//
// Thread Safety: Safe for concurrent use. History is guarded internally.
type Calculator struct {
	weights  config.BudgetWeights
	analyzer *complexity.Analyzer
	intents  map[string]float64

	mu      sync.Mutex
	history []Breakdown
}

// NewCalculator creates a calculator from configured budget tables.
//
// Inputs:
//
//	weights - Budget factor tables.
//	intents - Intent multiplier table (intent name -> multiplier).
//	analyzer - The complexity analyzer. Must not be nil.
func NewCalculator(weights config.BudgetWeights, intents map[string]float64, analyzer *complexity.Analyzer) *Calculator {
	return &Calculator{
		weights:  weights,
		analyzer: analyzer,
		intents:  intents,
	}
}

// Calculate computes the token budget for the given signals.
//
// Description:
//
//	Applies the factor chain in fixed order: the complexity factor scales
//	the base, the capped chunk bonus adds, then source diversity, agent
//	scaling, intent weight, and the optional confidence adjustment each
//	multiply. The result is clamped to [MinTokens, MaxTokens]. Each call
//	produces a fresh Breakdown appended to the calculator's history.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	checkpoint - Which pipeline checkpoint this computation belongs to.
//	in - The request signals. Zero counts are legal.
//
// Outputs:
//
//	int - The final clamped budget.
//	Breakdown - The immutable record of this computation.
//
// Thread Safety: Safe for concurrent use.
func (c *Calculator) Calculate(ctx context.Context, checkpoint Checkpoint, in Input) (int, Breakdown) {
	_, span := tracer.Start(ctx, "budget.Calculator.Calculate")
	defer span.End()

	score := c.analyzer.Analyze(in.Query)
	factors := make([]Factor, 0, 6)

	running := float64(c.weights.BaseTokens)
	factors = append(factors, Factor{Name: "base_tokens", Value: running, Additive: true})

	complexityFactor := c.weights.ComplexityBase + c.weights.ComplexitySlope*score
	running *= complexityFactor
	factors = append(factors, Factor{Name: "complexity", Value: complexityFactor})

	chunkBonus := float64(c.chunkBonus(in.ChunkCount))
	running += chunkBonus
	factors = append(factors, Factor{Name: "chunk_bonus", Value: chunkBonus, Additive: true})

	diversity := c.diversityFactor(distinctCount(in.SourceTypes))
	running *= diversity
	factors = append(factors, Factor{Name: "source_diversity", Value: diversity})

	agents := c.agentFactor(in.AgentCount)
	running *= agents
	factors = append(factors, Factor{Name: "agent_scaling", Value: agents})

	intentWeight := c.intentWeight(in.Intent)
	running *= intentWeight
	factors = append(factors, Factor{Name: "intent_weight", Value: intentWeight})

	if in.Confidence != nil {
		adj := c.weights.ConfidenceBase + c.weights.ConfidenceSlope*clamp01(*in.Confidence)
		running *= adj
		factors = append(factors, Factor{Name: "confidence_adjustment", Value: adj})
	}

	final, clamped := c.clampTokens(running)

	breakdown := Breakdown{
		Checkpoint: checkpoint,
		Complexity: score,
		Factors:    factors,
		Raw:        running,
		Final:      final,
		Clamped:    clamped,
		ComputedAt: time.Now(),
	}

	c.mu.Lock()
	c.history = append(c.history, breakdown)
	c.mu.Unlock()

	budgetTokens.WithLabelValues(string(checkpoint)).Observe(float64(final))
	span.SetAttributes(
		attribute.String("checkpoint", string(checkpoint)),
		attribute.Float64("complexity", score),
		attribute.Int("budget", final),
		attribute.Bool("clamped", clamped),
	)

	return final, breakdown
}

// History returns a copy of all breakdowns computed so far, oldest first.
//
// Thread Safety: Safe for concurrent use.
func (c *Calculator) History() []Breakdown {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Breakdown, len(c.history))
	copy(out, c.history)
	return out
}

// chunkBonus is additive and capped so retrieval noise cannot grow the
// budget without bound.
func (c *Calculator) chunkBonus(chunks int) int {
	if chunks <= 0 {
		return 0
	}
	bonus := chunks * c.weights.ChunkBonusTokens
	if c.weights.ChunkBonusMax > 0 && bonus > c.weights.ChunkBonusMax {
		return c.weights.ChunkBonusMax
	}
	return bonus
}

func (c *Calculator) diversityFactor(distinct int) float64 {
	if distinct <= 1 {
		return 1.0
	}
	factor := 1.0 + c.weights.SourceDiversityStep*float64(distinct-1)
	if c.weights.SourceDiversityMax > 0 && factor > c.weights.SourceDiversityMax {
		return c.weights.SourceDiversityMax
	}
	return factor
}

func (c *Calculator) agentFactor(agents int) float64 {
	if agents <= 1 {
		return 1.0
	}
	factor := 1.0 + c.weights.AgentScalingStep*float64(agents-1)
	if c.weights.AgentScalingMax > 0 && factor > c.weights.AgentScalingMax {
		return c.weights.AgentScalingMax
	}
	return factor
}

func (c *Calculator) intentWeight(i intent.Intent) float64 {
	if w, ok := c.intents[string(i)]; ok {
		return w
	}
	return 1.0
}

func (c *Calculator) clampTokens(raw float64) (int, bool) {
	if raw < float64(c.weights.MinTokens) {
		budgetClampsTotal.WithLabelValues("floor").Inc()
		return c.weights.MinTokens, true
	}
	if raw > float64(c.weights.MaxTokens) {
		budgetClampsTotal.WithLabelValues("ceiling").Inc()
		return c.weights.MaxTokens, true
	}
	return int(raw), false
}

func distinctCount(values []string) int {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}
	return len(seen)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Describe renders a breakdown for log lines and operator diffing.
func (b Breakdown) Describe() string {
	return fmt.Sprintf("%s: complexity=%.1f raw=%.0f final=%d clamped=%t",
		b.Checkpoint, b.Complexity, b.Raw, b.Final, b.Clamped)
}
