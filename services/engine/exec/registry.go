// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package exec runs layered execution plans against registered domain workers.
//
// Groups run in order with a barrier between them; tasks within a group run
// concurrently under a configurable bound. A failed or timed-out task marks
// its transitive dependents skipped, and every task still appears in the
// result set with an explicit status.
package exec

import (
	"context"
	"fmt"
	"sort"

	"github.com/ParagrafAI/ParagrafCore/services/engine/plan"
)

// Invoker is one domain worker capable of running tasks.
//
// Thread Safety: Implementations must be safe for concurrent use; the
// executor invokes them from multiple goroutines.
type Invoker interface {
	// Invoke runs the task and returns its output.
	//
	// Inputs:
	//   ctx - Context carrying the per-task deadline.
	//   task - The task to run.
	//   inputs - Outputs of the task's dependencies, keyed by task ID.
	//
	// Outputs:
	//   string - The task output.
	//   error - Non-nil marks the task failed.
	Invoke(ctx context.Context, task plan.Task, inputs map[string]string) (string, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, task plan.Task, inputs map[string]string) (string, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, task plan.Task, inputs map[string]string) (string, error) {
	return f(ctx, task, inputs)
}

// Registry maps task domains to their workers.
//
// A Registry is read-only once built; construct it fully before handing it
// to an Executor.
//
// Thread Safety: Safe for concurrent reads after Build.
type Registry struct {
	invokers map[plan.Domain]Invoker
}

// RegistryBuilder accumulates worker registrations.
type RegistryBuilder struct {
	invokers map[plan.Domain]Invoker
	err      error
}

// NewRegistryBuilder creates an empty builder.
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{invokers: make(map[plan.Domain]Invoker)}
}

// Register binds a worker to a domain. Duplicate registrations and nil
// workers are deferred errors surfaced by Build.
func (b *RegistryBuilder) Register(domain plan.Domain, invoker Invoker) *RegistryBuilder {
	if b.err != nil {
		return b
	}
	if !domain.Valid() {
		b.err = fmt.Errorf("register worker: invalid domain %q", domain)
		return b
	}
	if invoker == nil {
		b.err = fmt.Errorf("register worker for %q: nil invoker", domain)
		return b
	}
	if _, exists := b.invokers[domain]; exists {
		b.err = fmt.Errorf("register worker for %q: already registered", domain)
		return b
	}
	b.invokers[domain] = invoker
	return b
}

// Build finalizes the registry.
//
// Outputs:
//
//	*Registry - The immutable registry.
//	error - Non-nil if any registration was invalid.
func (b *RegistryBuilder) Build() (*Registry, error) {
	if b.err != nil {
		return nil, b.err
	}
	invokers := make(map[plan.Domain]Invoker, len(b.invokers))
	for d, inv := range b.invokers {
		invokers[d] = inv
	}
	return &Registry{invokers: invokers}, nil
}

// Lookup returns the worker for a domain.
func (r *Registry) Lookup(domain plan.Domain) (Invoker, bool) {
	inv, ok := r.invokers[domain]
	return inv, ok
}

// Domains returns the registered domains, sorted.
func (r *Registry) Domains() []plan.Domain {
	out := make([]plan.Domain, 0, len(r.invokers))
	for d := range r.invokers {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
