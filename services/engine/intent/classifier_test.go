// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package intent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ParagrafAI/ParagrafCore/services/engine/config"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	w, err := config.Default()
	require.NoError(t, err)
	c, err := NewClassifier(w.Intent)
	require.NoError(t, err)
	return c
}

// stubModel is a ModelClassifier returning a fixed prediction or error.
type stubModel struct {
	prediction Prediction
	err        error
	delay      time.Duration
	calls      int
}

func (s *stubModel) ClassifyViaModel(ctx context.Context, _ string) (Prediction, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Prediction{}, ctx.Err()
		}
	}
	return s.prediction, s.err
}

func TestClassify_RuleBuckets(t *testing.T) {
	classifier := newTestClassifier(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		query    string
		expected Intent
	}{
		{
			name:     "definition question is quick answer",
			query:    "Was ist ein Verwaltungsakt?",
			expected: QuickAnswer,
		},
		{
			name:     "english definition question",
			query:    "What is negligence?",
			expected: QuickAnswer,
		},
		{
			name:     "explain question",
			query:    "Erkläre den Unterschied zwischen Anfechtung und Rücktritt",
			expected: Explanation,
		},
		{
			name:     "assessment question",
			query:    "Prüfe, ob ein Anspruch auf Schadensersatz besteht",
			expected: Analysis,
		},
		{
			name:     "deep research request",
			query:    "Recherchiere die Rechtsprechung zu Ermessensfehlern umfassend",
			expected: Research,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := classifier.Classify(ctx, tt.query)
			assert.Equal(t, tt.expected, p.Intent)
			assert.Equal(t, MethodRule, p.Method)
			assert.GreaterOrEqual(t, p.Confidence, 0.0)
			assert.LessOrEqual(t, p.Confidence, 1.0)
		})
	}
}

func TestClassify_NoRuleMatchDefaults(t *testing.T) {
	classifier := newTestClassifier(t)

	p := classifier.Classify(context.Background(), "Guten Morgen!")
	assert.Equal(t, Explanation, p.Intent)
	assert.Less(t, p.Confidence, classifier.Threshold())
	assert.Equal(t, MethodRule, p.Method)
}

func TestClassify_TieBrokenByRuleOrder(t *testing.T) {
	c, err := NewClassifier(config.IntentWeights{
		ConfidenceThreshold: 0.7,
		ModelTimeout:        time.Second,
		Multipliers: map[string]float64{
			"quick_answer": 0.5,
			"research":     2.0,
		},
		Patterns: []config.IntentPattern{
			{Intent: "research", Pattern: `tie`, Weight: 1.0},
			{Intent: "quick_answer", Pattern: `tie`, Weight: 1.0},
		},
	})
	require.NoError(t, err)

	p := c.Classify(context.Background(), "this is a tie")
	assert.Equal(t, Research, p.Intent, "first-registered rule must win ties")
}

func TestClassifyWithFallback_HighConfidenceSkipsModel(t *testing.T) {
	classifier := newTestClassifier(t)
	model := &stubModel{prediction: Prediction{Intent: Research, Confidence: 0.9}}

	p := classifier.ClassifyWithFallback(context.Background(), "Was ist ein Vertrag?", model)
	assert.Equal(t, QuickAnswer, p.Intent)
	assert.Equal(t, MethodRule, p.Method)
	assert.Zero(t, model.calls, "model must not be consulted above threshold")
}

func TestClassifyWithFallback_UnavailableModelDegradesToRules(t *testing.T) {
	classifier := newTestClassifier(t)
	model := &stubModel{err: errors.New("model unavailable")}

	// A query that matches nothing sits well below the 0.7 threshold.
	ruleOnly := classifier.Classify(context.Background(), "Servus")
	withFallback := classifier.ClassifyWithFallback(context.Background(), "Servus", model)

	assert.Equal(t, ruleOnly, withFallback, "failed fallback must return rule prediction unchanged")
	assert.Equal(t, MethodRule, withFallback.Method)
}

func TestClassifyWithFallback_SlowModelDegradesToRules(t *testing.T) {
	c, err := NewClassifier(config.IntentWeights{
		ConfidenceThreshold: 0.7,
		ModelTimeout:        20 * time.Millisecond,
		Multipliers:         map[string]float64{"quick_answer": 0.5},
		Patterns: []config.IntentPattern{
			{Intent: "quick_answer", Pattern: `never-matches-xyzzy`, Weight: 1.0},
		},
	})
	require.NoError(t, err)

	model := &stubModel{
		prediction: Prediction{Intent: Research, Confidence: 0.95},
		delay:      500 * time.Millisecond,
	}

	p := c.ClassifyWithFallback(context.Background(), "anything", model)
	assert.Equal(t, MethodRule, p.Method, "timed-out fallback must keep rule prediction")
}

func TestClassifyWithFallback_ModelPredictionTagged(t *testing.T) {
	classifier := newTestClassifier(t)
	model := &stubModel{prediction: Prediction{Intent: Research, Confidence: 0.9}}

	p := classifier.ClassifyWithFallback(context.Background(), "Servus", model)
	assert.Equal(t, Research, p.Intent)
	assert.Equal(t, MethodModel, p.Method)
	assert.InDelta(t, 0.9, p.Confidence, 1e-9)
}

func TestClassifyWithFallback_MonotonicConfidenceOnAgreement(t *testing.T) {
	c, err := NewClassifier(config.IntentWeights{
		ConfidenceThreshold: 0.9, // force fallback even on decent rule scores
		ModelTimeout:        time.Second,
		Multipliers: map[string]float64{
			"quick_answer": 0.5,
			"explanation":  1.0,
		},
		Patterns: []config.IntentPattern{
			{Intent: "quick_answer", Pattern: `(?i)was ist`, Weight: 2.0},
			{Intent: "explanation", Pattern: `(?i)bedeutet`, Weight: 1.0},
		},
	})
	require.NoError(t, err)

	ruleOnly := c.Classify(context.Background(), "Was ist Ermessen?")
	require.Equal(t, QuickAnswer, ruleOnly.Intent)

	model := &stubModel{prediction: Prediction{Intent: QuickAnswer, Confidence: 0.1}}
	p := c.ClassifyWithFallback(context.Background(), "Was ist Ermessen?", model)

	assert.Equal(t, QuickAnswer, p.Intent)
	assert.GreaterOrEqual(t, p.Confidence, ruleOnly.Confidence,
		"agreeing model must not lower confidence below the rule score")
}
