// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ParagrafAI/ParagrafCore/services/engine/intent"
)

const intentPromptTemplate = `Ordne die folgende Nutzeranfrage genau einer Kategorie zu:
quick_answer (kurze Faktenantwort), explanation (Erklärung eines Konzepts),
analysis (rechtliche Prüfung eines Sachverhalts), research (tiefgehende Recherche).

Antworte in genau einer Zeile: <kategorie> <konfidenz zwischen 0.0 und 1.0>

Anfrage: %s`

// intentMaxTokens bounds the classification reply; one line suffices.
const intentMaxTokens = 16

// IntentAdapter exposes a Client as the classifier's model fallback.
//
// Thread Safety: Safe for concurrent use.
type IntentAdapter struct {
	client Client
}

// NewIntentAdapter wraps a generation client for intent classification.
func NewIntentAdapter(client Client) *IntentAdapter {
	return &IntentAdapter{client: client}
}

var _ intent.ModelClassifier = (*IntentAdapter)(nil)

// ClassifyViaModel implements intent.ModelClassifier.
//
// Description:
//
//	Prompts the model for a single-line "<category> <confidence>" verdict
//	and parses it strictly. Any malformed reply is an error; the caller
//	degrades to its rule-based prediction.
func (a *IntentAdapter) ClassifyViaModel(ctx context.Context, text string) (intent.Prediction, error) {
	reply, err := a.client.Generate(ctx, fmt.Sprintf(intentPromptTemplate, text), intentMaxTokens)
	if err != nil {
		return intent.Prediction{}, fmt.Errorf("intent model call: %w", err)
	}

	prediction, err := parseIntentReply(reply)
	if err != nil {
		return intent.Prediction{}, fmt.Errorf("intent model reply %q: %w", reply, err)
	}
	return prediction, nil
}

// parseIntentReply parses "<category> <confidence>" from the first line.
func parseIntentReply(reply string) (intent.Prediction, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(reply), "\n")
	fields := strings.Fields(line)
	if len(fields) < 1 {
		return intent.Prediction{}, fmt.Errorf("empty reply")
	}

	category := intent.Intent(strings.ToLower(strings.Trim(fields[0], ".,:")))
	if !category.Valid() {
		return intent.Prediction{}, fmt.Errorf("unknown category %q", fields[0])
	}

	confidence := 0.5
	if len(fields) > 1 {
		parsed, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || parsed < 0 || parsed > 1 {
			return intent.Prediction{}, fmt.Errorf("bad confidence %q", fields[1])
		}
		confidence = parsed
	}

	return intent.Prediction{
		Intent:     category,
		Confidence: confidence,
		Method:     intent.MethodModel,
		Rationale:  "model classification",
	}, nil
}
