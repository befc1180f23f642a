// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"strings"
	"sync"
)

// MockClient is a scriptable Client for tests and offline development.
//
// Thread Safety: Safe for concurrent use.
type MockClient struct {
	mu sync.Mutex

	// Responses maps a prompt substring to a canned reply. The first
	// matching entry wins; iteration order is the registration order.
	markers []string
	replies map[string]string

	// Err, when set, fails every call.
	Err error

	// Default is returned when no marker matches. Empty falls back to
	// a generic reply.
	Default string

	calls []string
}

// NewMockClient creates an empty mock.
func NewMockClient() *MockClient {
	return &MockClient{replies: make(map[string]string)}
}

var _ Client = (*MockClient)(nil)

// Respond registers a canned reply for prompts containing marker.
func (m *MockClient) Respond(marker, reply string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.replies[marker]; !exists {
		m.markers = append(m.markers, marker)
	}
	m.replies[marker] = reply
	return m
}

// Generate implements Client.
func (m *MockClient) Generate(_ context.Context, prompt string, _ int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, prompt)
	if m.Err != nil {
		return "", m.Err
	}
	for _, marker := range m.markers {
		if strings.Contains(prompt, marker) {
			return m.replies[marker], nil
		}
	}
	if m.Default != "" {
		return m.Default, nil
	}
	return "mock reply", nil
}

// Calls returns the prompts seen so far.
func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}
