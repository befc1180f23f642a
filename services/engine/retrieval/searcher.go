// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval finds legal document excerpts relevant to a query.
//
// The engine consumes retrieval opportunistically: an unavailable backend
// yields an empty result set, never a failed request. Budgeting only needs
// the chunk count and the distinct source types.
package retrieval

import (
	"context"
)

// Document is one retrieved excerpt.
type Document struct {
	// ID is the backend object ID.
	ID string `json:"id"`

	// Content is the excerpt text.
	Content string `json:"content"`

	// SourceType classifies the origin (statute, case_law, commentary, ...).
	SourceType string `json:"source_type"`

	// Reference is the human citation (e.g. "§ 433 BGB", "BGH VIII ZR 91/19").
	Reference string `json:"reference,omitempty"`

	// Certainty is the backend's semantic match score in [0,1].
	Certainty float64 `json:"certainty"`
}

// ResultSet is the outcome of one search.
type ResultSet struct {
	// Documents are the matched excerpts, best first.
	Documents []Document `json:"documents"`

	// Degraded marks a result produced while the backend was unavailable.
	Degraded bool `json:"degraded"`
}

// SourceTypes returns the distinct source types present, unordered.
func (r ResultSet) SourceTypes() []string {
	seen := make(map[string]struct{}, 4)
	out := make([]string, 0, 4)
	for _, d := range r.Documents {
		if d.SourceType == "" {
			continue
		}
		if _, ok := seen[d.SourceType]; ok {
			continue
		}
		seen[d.SourceType] = struct{}{}
		out = append(out, d.SourceType)
	}
	return out
}

// Contents returns the excerpt texts in rank order.
func (r ResultSet) Contents() []string {
	out := make([]string, len(r.Documents))
	for i, d := range r.Documents {
		out[i] = d.Content
	}
	return out
}

// References returns the non-empty citations in rank order.
func (r ResultSet) References() []string {
	out := make([]string, 0, len(r.Documents))
	for _, d := range r.Documents {
		if d.Reference != "" {
			out = append(out, d.Reference)
		}
	}
	return out
}

// Searcher is the retrieval capability the orchestrator depends on.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Searcher interface {
	// Search returns excerpts relevant to the query.
	//
	// Implementations degrade rather than fail: backend unavailability
	// yields an empty, Degraded result and a nil error. A non-nil error
	// is reserved for caller mistakes (empty query, invalid limit).
	Search(ctx context.Context, query string, limit int) (ResultSet, error)
}
