// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_EmbeddedTablesAreValid(t *testing.T) {
	w, err := Default()
	require.NoError(t, err)

	assert.NotEmpty(t, w.Complexity.QuestionWords)
	assert.NotEmpty(t, w.Intent.Patterns)
	assert.Greater(t, w.Budget.MaxTokens, w.Budget.MinTokens)
	assert.Greater(t, w.Intent.ConfidenceThreshold, 0.0)
	assert.Greater(t, w.Executor.MaxConcurrency, 0)

	// Every intent referenced by a pattern must have a budget multiplier.
	for _, p := range w.Intent.Patterns {
		_, ok := w.Intent.Multipliers[p.Intent]
		assert.True(t, ok, "intent %q missing multiplier", p.Intent)
	}
}

func TestLoad_RejectsInvalidFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "not yaml",
			content: "{{{",
		},
		{
			name: "bad regex pattern",
			content: `
complexity:
  question_words: {what: 2.0}
  long_sentence_words: 25
intent:
  confidence_threshold: 0.7
  model_timeout: 10s
  multipliers: {quick_answer: 0.5}
  patterns:
    - intent: quick_answer
      pattern: '(['
      weight: 1.0
budget:
  base_tokens: 512
  min_tokens: 256
  max_tokens: 4096
  complexity_base: 0.5
  complexity_slope: 0.15
  source_diversity_max: 1.6
  agent_scaling_max: 1.5
  confidence_base: 0.8
executor:
  max_concurrency: 4
  task_timeout: 30s
`,
		},
		{
			name: "pattern intent without multiplier",
			content: `
complexity:
  question_words: {what: 2.0}
  long_sentence_words: 25
intent:
  confidence_threshold: 0.7
  model_timeout: 10s
  multipliers: {quick_answer: 0.5}
  patterns:
    - intent: research
      pattern: 'research'
      weight: 1.0
budget:
  base_tokens: 512
  min_tokens: 256
  max_tokens: 4096
  complexity_base: 0.5
  complexity_slope: 0.15
  source_diversity_max: 1.6
  agent_scaling_max: 1.5
  confidence_base: 0.8
executor:
  max_concurrency: 4
  task_timeout: 30s
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "weights.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			_, err := Load(ctx, path)
			assert.Error(t, err)
		})
	}
}

func TestStore_ReloadKeepsLastGoodTables(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "weights.yaml")

	initial, err := Default()
	require.NoError(t, err)

	store := NewStore(initial, path, nil)
	require.Same(t, initial, store.Current())

	// A broken file must not replace the active tables.
	require.NoError(t, os.WriteFile(path, []byte(":::"), 0o600))
	assert.Error(t, store.Reload(ctx))
	assert.Same(t, initial, store.Current())

	// A valid file swaps the tables.
	require.NoError(t, os.WriteFile(path, defaultWeightsYAML, 0o600))
	require.NoError(t, store.Reload(ctx))
	assert.NotSame(t, initial, store.Current())
	assert.NotEmpty(t, store.Current().Intent.Patterns)
}
