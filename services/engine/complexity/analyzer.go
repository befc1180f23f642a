// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package complexity scores query text on a 1-10 scale from structural and
// lexical signals.
//
// The analyzer is pure: no side effects, no clock, no randomness. Identical
// input always yields an identical score, which the budget tests rely on.
package complexity

import (
	"strings"
	"unicode"

	"github.com/ParagrafAI/ParagrafCore/services/engine/config"
)

const (
	// MinScore is the floor of the complexity scale.
	MinScore = 1.0

	// MaxScore is the ceiling of the complexity scale.
	MaxScore = 10.0

	// defaultBaseScore applies when no question word matches.
	defaultBaseScore = 3.0
)

// Analyzer scores query complexity from configured weight tables.
//
// Thread Safety: Safe for concurrent use after construction.
type Analyzer struct {
	questionWords map[string]float64
	keywords      map[string]float64

	subQuestionBonus  float64
	longSentenceWords int
	longSentenceBonus float64
	listBonus         float64
}

// NewAnalyzer creates an analyzer from the given weight tables.
//
// Inputs:
//
//	weights - Complexity tables, normally from config.Default() or a
//	          deployed weights file. Keyword keys are lowercased here so
//	          matching stays case-insensitive regardless of file casing.
//
// Outputs:
//
//	*Analyzer - The configured analyzer.
func NewAnalyzer(weights config.ComplexityWeights) *Analyzer {
	questionWords := make(map[string]float64, len(weights.QuestionWords))
	for word, score := range weights.QuestionWords {
		questionWords[strings.ToLower(word)] = score
	}

	keywords := make(map[string]float64, len(weights.Keywords))
	for keyword, bonus := range weights.Keywords {
		keywords[strings.ToLower(keyword)] = bonus
	}

	return &Analyzer{
		questionWords:     questionWords,
		keywords:          keywords,
		subQuestionBonus:  weights.SubQuestionBonus,
		longSentenceWords: weights.LongSentenceWords,
		longSentenceBonus: weights.LongSentenceBonus,
		listBonus:         weights.ListBonus,
	}
}

// Analyze scores the query text in [1,10].
//
// Description:
//
//	Base score comes from the first matching question word. Each configured
//	domain keyword found as a case-insensitive substring adds its bonus
//	once, regardless of how often it occurs. Additional bonuses apply per
//	sub-question separator beyond the first, for long sentences, and for
//	list structure. The result is clamped to [1,10].
//
// Inputs:
//
//	text - The raw query text. Empty text scores MinScore.
//
// Outputs:
//
//	float64 - The complexity score in [MinScore, MaxScore].
//
// Thread Safety: Safe for concurrent use.
func (a *Analyzer) Analyze(text string) float64 {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return MinScore
	}

	lower := strings.ToLower(trimmed)
	score := a.baseScore(lower)

	for keyword, bonus := range a.keywords {
		if strings.Contains(lower, keyword) {
			score += bonus
		}
	}

	if n := countSubQuestions(trimmed); n > 1 {
		score += float64(n-1) * a.subQuestionBonus
	}

	if a.longSentenceWords > 0 && len(strings.Fields(trimmed)) > a.longSentenceWords {
		score += a.longSentenceBonus
	}

	if hasListStructure(trimmed) {
		score += a.listBonus
	}

	return clamp(score)
}

// baseScore finds the weight of the first word that is a configured
// question word; words later in the sentence do not set the base.
func (a *Analyzer) baseScore(lower string) float64 {
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(fields) == 0 {
		return defaultBaseScore
	}
	if score, ok := a.questionWords[fields[0]]; ok {
		return score
	}
	return defaultBaseScore
}

// countSubQuestions counts '?' and ';' as sub-question separators.
func countSubQuestions(text string) int {
	return strings.Count(text, "?") + strings.Count(text, ";")
}

// hasListStructure reports whether the text contains bullet or numbered
// list markers at line starts.
func hasListStructure(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			return true
		}
		if len(trimmed) >= 2 && unicode.IsDigit(rune(trimmed[0])) &&
			(trimmed[1] == '.' || trimmed[1] == ')') {
			return true
		}
	}
	return false
}

func clamp(score float64) float64 {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
