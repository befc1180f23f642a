// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package intent classifies queries into coarse answer-depth categories.
//
// Classification is rule-first: an ordered list of weighted regex rules
// scores each intent bucket, and a model fallback is consulted only when
// rule confidence falls below the configured threshold. A failed or slow
// model call never errors the caller; the rule prediction stands.
package intent

import (
	"context"
	"fmt"
)

// Intent is the coarse category of answer depth a query wants.
type Intent string

const (
	// QuickAnswer is a short factual answer ("Was ist X?").
	QuickAnswer Intent = "quick_answer"

	// Explanation is a didactic walkthrough of a concept.
	Explanation Intent = "explanation"

	// Analysis is a structured legal assessment of a concrete situation.
	Analysis Intent = "analysis"

	// Research is a deep multi-source investigation.
	Research Intent = "research"
)

// Valid reports whether the intent is one of the known categories.
func (i Intent) Valid() bool {
	switch i {
	case QuickAnswer, Explanation, Analysis, Research:
		return true
	}
	return false
}

// Method identifies how a prediction was produced.
type Method string

const (
	// MethodRule marks a prediction from the weighted pattern rules.
	MethodRule Method = "rule"

	// MethodModel marks a prediction from the model fallback.
	MethodModel Method = "model"
)

// Prediction is the result of classifying one query.
//
// Prediction values are immutable after creation.
type Prediction struct {
	// Intent is the winning category.
	Intent Intent `json:"intent"`

	// Confidence is the normalized score ratio in [0,1].
	Confidence float64 `json:"confidence"`

	// Method records whether rules or the model produced this prediction.
	Method Method `json:"method"`

	// Rationale is a short human-readable justification.
	Rationale string `json:"rationale"`
}

// String implements fmt.Stringer for log lines.
func (p Prediction) String() string {
	return fmt.Sprintf("%s (%.2f, %s)", p.Intent, p.Confidence, p.Method)
}

// ModelClassifier is the external model capability used as a fallback when
// rule confidence is low.
//
// Thread Safety: Implementations must be safe for concurrent use.
type ModelClassifier interface {
	// ClassifyViaModel predicts the intent of the query text.
	//
	// Inputs:
	//   ctx - Context carrying the fallback deadline.
	//   text - The raw query text.
	//
	// Outputs:
	//   Prediction - The model's prediction. Method is overwritten with
	//                MethodModel by the caller.
	//   error - Non-nil if the model call failed; the caller degrades to
	//           the rule prediction.
	ClassifyViaModel(ctx context.Context, text string) (Prediction, error)
}
