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
	"sort"
	"strings"

	"github.com/ParagrafAI/ParagrafCore/services/engine/exec"
	"github.com/ParagrafAI/ParagrafCore/services/engine/llm"
	"github.com/ParagrafAI/ParagrafCore/services/engine/plan"
	"github.com/ParagrafAI/ParagrafCore/services/engine/retrieval"
)

const (
	workerMaxTokens   = 512
	workerSearchLimit = 6
)

// newWorkerRegistry registers one research worker per source domain.
func newWorkerRegistry(searcher retrieval.Searcher, client llm.Client) (*exec.Registry, error) {
	builder := exec.NewRegistryBuilder()
	for _, d := range []plan.Domain{
		plan.DomainStatute, plan.DomainCaseLaw, plan.DomainCommentary,
		plan.DomainProcedure, plan.DomainDefinitions,
	} {
		builder.Register(d, &domainWorker{domain: d, searcher: searcher, client: client})
	}
	return builder.Build()
}

// domainWorker answers one task: retrieve documents for the task payload,
// then summarize them for the worker's domain, folding in the outputs of
// upstream tasks.
//
// Thread Safety: Safe for concurrent use.
type domainWorker struct {
	domain   plan.Domain
	searcher retrieval.Searcher
	client   llm.Client
}

var _ exec.Invoker = (*domainWorker)(nil)

// Invoke implements exec.Invoker.
func (w *domainWorker) Invoke(ctx context.Context, task plan.Task, inputs map[string]string) (string, error) {
	rs, err := w.searcher.Search(ctx, task.Payload, workerSearchLimit)
	if err != nil {
		return "", err
	}
	return w.client.Generate(ctx, w.prompt(task, rs, inputs), workerMaxTokens)
}

func (w *domainWorker) prompt(task plan.Task, rs retrieval.ResultSet, inputs map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Untersuche die folgende Frage mit Blick auf %s.\n\nFrage: %s\n",
		domainFocus(w.domain), task.Payload)

	if docs := rs.Contents(); len(docs) > 0 {
		b.WriteString("\nQuellen:\n")
		for _, doc := range docs {
			fmt.Fprintf(&b, "- %s\n", doc)
		}
	}

	if len(inputs) > 0 {
		ids := make([]string, 0, len(inputs))
		for id := range inputs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		b.WriteString("\nVorarbeiten:\n")
		for _, id := range ids {
			fmt.Fprintf(&b, "[%s] %s\n", id, inputs[id])
		}
	}

	b.WriteString("\nFasse die Ergebnisse knapp und mit Fundstellen zusammen.")
	return b.String()
}

func domainFocus(d plan.Domain) string {
	switch d {
	case plan.DomainStatute:
		return "die einschlägigen Gesetzesnormen und Paragraphen"
	case plan.DomainCaseLaw:
		return "die maßgebliche Rechtsprechung und ihre Leitsätze"
	case plan.DomainCommentary:
		return "die Kommentarliteratur und die herrschende Meinung"
	case plan.DomainProcedure:
		return "das Verfahrensrecht, Zuständigkeiten und Fristen"
	case plan.DomainDefinitions:
		return "die Begriffsdefinitionen und Tatbestandsmerkmale"
	}
	return string(d)
}
