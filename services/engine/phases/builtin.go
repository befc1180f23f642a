// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package phases

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Generator is the text generation capability the builtin phases run on.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Generator interface {
	// Generate completes the prompt within the given token budget.
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// promptPhase is the shared shape of the builtin LLM-backed phases.
type promptPhase struct {
	name       Name
	generator  Generator
	maxTokens  int
	confidence float64
	build      func(pc *Context) string
}

func (p *promptPhase) Name() Name { return p.name }

func (p *promptPhase) Run(ctx context.Context, pc *Context) (Output, error) {
	prompt := p.build(pc)
	text, err := p.generator.Generate(ctx, prompt, p.maxTokens)
	if err != nil {
		return Output{}, fmt.Errorf("%s generation: %w", p.name, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Output{}, fmt.Errorf("%s generation: empty response", p.name)
	}

	out := Output{Text: text, Confidence: p.confidence}

	// Missing prior phases degrade later output without failing it.
	if p.name != Hypothesis && anyFailed(pc) {
		out.Partial = true
		out.Confidence = p.confidence * 0.8
	}
	return out, nil
}

func anyFailed(pc *Context) bool {
	for _, r := range pc.Results() {
		if r.Status == StatusFailed {
			return true
		}
	}
	return false
}

// NewDefaultChain builds the six builtin phases over one generator.
//
// Description:
//
//	Every phase prompts the generator with the request, the retrieved
//	excerpts, the executed task notes, and all prior phase outputs. The
//	Conclusion phase produces the user-facing answer; Metacognition
//	reviews the whole chain and reports only a confidence score.
//
// Inputs:
//
//	generator - The text generation capability. Must not be nil.
//	maxTokens - Per-phase generation budget from the budget calculator.
//
// Outputs:
//
//	[]Phase - The chain in sequence order, ready for NewCoordinator.
func NewDefaultChain(generator Generator, maxTokens int) []Phase {
	return []Phase{
		&promptPhase{
			name: Hypothesis, generator: generator, maxTokens: maxTokens, confidence: 0.6,
			build: func(pc *Context) string {
				return join(
					"Formuliere erste Hypothesen zur folgenden Rechtsfrage. Nenne die einschlägigen Normen und möglichen Anspruchsgrundlagen.",
					section("Frage", pc.Request()),
					section("Quellen", strings.Join(pc.Chunks(), "\n---\n")),
				)
			},
		},
		&promptPhase{
			name: Synthesis, generator: generator, maxTokens: maxTokens, confidence: 0.65,
			build: func(pc *Context) string {
				return join(
					"Führe die Rechercheergebnisse zu einem kohärenten Bild zusammen. Ordne die Fundstellen den Hypothesen zu.",
					section("Frage", pc.Request()),
					section("Rechercheergebnisse", strings.Join(pc.TaskNotes(), "\n---\n")),
					section("Bisherige Schritte", strings.Join(pc.PriorOutputs(), "\n\n")),
				)
			},
		},
		&promptPhase{
			name: Analysis, generator: generator, maxTokens: maxTokens, confidence: 0.7,
			build: func(pc *Context) string {
				return join(
					"Prüfe die Rechtsfrage gutachterlich anhand des zusammengeführten Materials. Subsumiere Schritt für Schritt.",
					section("Frage", pc.Request()),
					section("Bisherige Schritte", strings.Join(pc.PriorOutputs(), "\n\n")),
				)
			},
		},
		&promptPhase{
			name: Validation, generator: generator, maxTokens: maxTokens, confidence: 0.7,
			build: func(pc *Context) string {
				return join(
					"Prüfe die bisherige Argumentation auf Lücken, Gegenauffassungen und widersprechende Rechtsprechung.",
					section("Frage", pc.Request()),
					section("Bisherige Schritte", strings.Join(pc.PriorOutputs(), "\n\n")),
				)
			},
		},
		&promptPhase{
			name: Conclusion, generator: generator, maxTokens: maxTokens, confidence: 0.75,
			build: func(pc *Context) string {
				return join(
					"Formuliere die abschließende Antwort auf die Rechtsfrage. Klar, mit Normzitaten, für die fragende Person verständlich.",
					section("Frage", pc.Request()),
					section("Bisherige Schritte", strings.Join(pc.PriorOutputs(), "\n\n")),
				)
			},
		},
		&metacognitionPhase{generator: generator, maxTokens: maxTokens},
	}
}

// metacognitionPhase reviews the chain and reports a confidence score.
// Its text output is advisory and never becomes part of the answer.
type metacognitionPhase struct {
	generator Generator
	maxTokens int
}

func (p *metacognitionPhase) Name() Name { return Metacognition }

func (p *metacognitionPhase) Run(ctx context.Context, pc *Context) (Output, error) {
	prompt := join(
		"Bewerte die Verlässlichkeit der folgenden Antwortkette. Antworte in der ersten Zeile nur mit einer Zahl zwischen 0.0 und 1.0, danach eine kurze Begründung.",
		section("Frage", pc.Request()),
		section("Kette", strings.Join(pc.PriorOutputs(), "\n\n")),
	)

	text, err := p.generator.Generate(ctx, prompt, p.maxTokens)
	if err != nil {
		return Output{}, fmt.Errorf("metacognition generation: %w", err)
	}

	confidence := parseLeadingScore(text)
	if confidence == 0 {
		confidence = pc.ConfidenceAverage()
	}
	return Output{Text: strings.TrimSpace(text), Confidence: confidence}, nil
}

// parseLeadingScore extracts the score from the first line, 0 if absent.
func parseLeadingScore(text string) float64 {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	line = strings.TrimSpace(line)
	score, err := strconv.ParseFloat(line, 64)
	if err != nil || score < 0 || score > 1 {
		return 0
	}
	return score
}

func section(title, body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	return fmt.Sprintf("## %s\n%s", title, body)
}

func join(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
