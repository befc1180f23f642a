// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ParagrafAI/ParagrafCore/services/engine/llm"
	"github.com/ParagrafAI/ParagrafCore/services/engine/plan"
	"github.com/ParagrafAI/ParagrafCore/services/engine/retrieval"
)

type cannedSearcher struct {
	result retrieval.ResultSet
}

func (c cannedSearcher) Search(context.Context, string, int) (retrieval.ResultSet, error) {
	return c.result, nil
}

func TestNewWorkerRegistry_CoversAllDomains(t *testing.T) {
	registry, err := newWorkerRegistry(offlineSearcher{}, llm.NewMockClient())
	require.NoError(t, err)

	assert.Len(t, registry.Domains(), 5)
	for _, d := range []plan.Domain{
		plan.DomainStatute, plan.DomainCaseLaw, plan.DomainCommentary,
		plan.DomainProcedure, plan.DomainDefinitions,
	} {
		_, ok := registry.Lookup(d)
		assert.True(t, ok, "domain %s must have a worker", d)
	}
}

func TestDomainWorker_PromptCarriesSourcesAndInputs(t *testing.T) {
	searcher := cannedSearcher{result: retrieval.ResultSet{
		Documents: []retrieval.Document{
			{Content: "§ 35 VwVfG: Verwaltungsakt ist ...", Reference: "§ 35 VwVfG"},
		},
	}}
	client := llm.NewMockClient()
	client.Default = "zusammengefasst"

	worker := &domainWorker{domain: plan.DomainStatute, searcher: searcher, client: client}
	out, err := worker.Invoke(context.Background(),
		plan.Task{ID: "statutes", Domain: plan.DomainStatute, Payload: "Was ist ein Verwaltungsakt?"},
		map[string]string{"definitions": "VA-Begriff geklärt"})
	require.NoError(t, err)
	assert.Equal(t, "zusammengefasst", out)

	calls := client.Calls()
	require.Len(t, calls, 1)
	prompt := calls[0]
	assert.Contains(t, prompt, "Was ist ein Verwaltungsakt?")
	assert.Contains(t, prompt, "§ 35 VwVfG")
	assert.Contains(t, prompt, "[definitions] VA-Begriff geklärt")
	assert.Contains(t, prompt, "Gesetzesnormen")
}

func TestDomainWorker_DegradedRetrievalOmitsSources(t *testing.T) {
	client := llm.NewMockClient()
	client.Default = "aus Modellwissen"

	worker := &domainWorker{domain: plan.DomainCaseLaw, searcher: offlineSearcher{}, client: client}
	_, err := worker.Invoke(context.Background(),
		plan.Task{ID: "cases", Domain: plan.DomainCaseLaw, Payload: "Ermessen"}, nil)
	require.NoError(t, err)

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.NotContains(t, calls[0], "Quellen:")
}

func TestDomainFocus_NamesEveryDomain(t *testing.T) {
	seen := map[string]bool{}
	for _, d := range []plan.Domain{
		plan.DomainStatute, plan.DomainCaseLaw, plan.DomainCommentary,
		plan.DomainProcedure, plan.DomainDefinitions,
	} {
		focus := domainFocus(d)
		assert.NotEmpty(t, focus)
		assert.False(t, seen[focus], "focus text for %s must be distinct", d)
		seen[focus] = true
		assert.False(t, strings.EqualFold(focus, string(d)))
	}
}
