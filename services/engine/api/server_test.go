// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ParagrafAI/ParagrafCore/services/engine/config"
	"github.com/ParagrafAI/ParagrafCore/services/engine/events"
	"github.com/ParagrafAI/ParagrafCore/services/engine/exec"
	"github.com/ParagrafAI/ParagrafCore/services/engine/llm"
	"github.com/ParagrafAI/ParagrafCore/services/engine/orchestrator"
	"github.com/ParagrafAI/ParagrafCore/services/engine/plan"
	"github.com/ParagrafAI/ParagrafCore/services/engine/retrieval"
)

type stubSearcher struct{}

func (stubSearcher) Search(context.Context, string, int) (retrieval.ResultSet, error) {
	return retrieval.ResultSet{
		Documents: []retrieval.Document{
			{Content: "§ 35 VwVfG ...", SourceType: "statute", Reference: "§ 35 VwVfG"},
		},
	}, nil
}

func testServer(t *testing.T) *Server {
	t.Helper()

	w, err := config.Default()
	require.NoError(t, err)

	builder := exec.NewRegistryBuilder()
	for _, d := range []plan.Domain{
		plan.DomainStatute, plan.DomainCaseLaw, plan.DomainCommentary,
		plan.DomainProcedure, plan.DomainDefinitions,
	} {
		builder.Register(d, exec.InvokerFunc(
			func(_ context.Context, task plan.Task, _ map[string]string) (string, error) {
				return "worker output for " + task.ID, nil
			}))
	}
	registry, err := builder.Build()
	require.NoError(t, err)

	generator := llm.NewMockClient().
		Respond("abschließende Antwort", "Ein Verwaltungsakt ist in § 35 VwVfG definiert.").
		Respond("Verlässlichkeit", "0.9\nkonsistent")

	orch, err := orchestrator.New(
		orchestrator.StaticWeights{Weights: w}, stubSearcher{}, registry, generator)
	require.NoError(t, err)

	server, err := New(orch)
	require.NoError(t, err)
	return server
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestNew_RequiresOrchestrator(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	server := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetrics(t *testing.T) {
	server := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "engine_")
}

func TestQuery_ReturnsFinalResult(t *testing.T) {
	server := testServer(t)

	rec := postJSON(t, server.Handler(), "/v1/query",
		`{"query":"Was ist ein Verwaltungsakt?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result orchestrator.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "Ein Verwaltungsakt ist in § 35 VwVfG definiert.", result.Answer)
	assert.NotEmpty(t, result.RequestID)
	assert.Len(t, result.Phases, 6)
	assert.Contains(t, result.Sources, "§ 35 VwVfG")
}

func TestQuery_MissingQueryRejected(t *testing.T) {
	server := testServer(t)

	rec := postJSON(t, server.Handler(), "/v1/query", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuery_MalformedBodyRejected(t *testing.T) {
	server := testServer(t)

	rec := postJSON(t, server.Handler(), "/v1/query", `{"query": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryStream_DeliversNDJSON(t *testing.T) {
	server := testServer(t)

	rec := postJSON(t, server.Handler(), "/v1/query/stream",
		`{"query":"Was ist ein Verwaltungsakt?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.NotEmpty(t, lines)

	type line struct {
		Type events.Type `json:"type"`
	}
	var parsed []line
	for _, raw := range lines {
		var l line
		require.NoError(t, json.Unmarshal([]byte(raw), &l), "line must be valid JSON: %s", raw)
		parsed = append(parsed, l)
	}

	assert.Equal(t, events.TypeProgress, parsed[0].Type)
	assert.Equal(t, events.TypeFinalResult, parsed[len(parsed)-1].Type)

	terminals := 0
	for _, l := range parsed {
		if l.Type.Terminal() {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals, "exactly one terminal line per stream")
}

func TestQueryStream_MissingQueryRejected(t *testing.T) {
	server := testServer(t)

	rec := postJSON(t, server.Handler(), "/v1/query/stream", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEqual(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
}
