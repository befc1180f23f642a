// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package plan

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("engine.plan")

// Resolver turns a flat task list into a layered execution plan.
//
// Thread Safety: Resolver is stateless and safe for concurrent use.
type Resolver struct{}

// NewResolver creates a resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve layers the task set by dependency depth.
//
// Description:
//
//	Validates the task set (unique IDs, all dependencies present), then
//	performs Kahn's algorithm level by level: each round collects every
//	task whose remaining in-degree is zero into one group. Tasks left
//	over when no progress can be made form a cycle and are reported in
//	the error. Input order does not affect the result; groups are sorted
//	by task ID so equivalent task sets produce identical plans.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	tasks - The flat task set. May be empty.
//
// Outputs:
//
//	ExecutionPlan - The layered schedule. Empty input yields an empty plan.
//	error - *DuplicateTaskError, *UnknownDependencyError, or *CycleError.
//
// Thread Safety: Safe for concurrent use.
func (r *Resolver) Resolve(ctx context.Context, tasks []Task) (ExecutionPlan, error) {
	_, span := tracer.Start(ctx, "plan.Resolver.Resolve",
		trace.WithAttributes(attribute.Int("task_count", len(tasks))))
	defer span.End()

	if len(tasks) == 0 {
		return ExecutionPlan{}, nil
	}

	byID := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		if _, exists := byID[t.ID]; exists {
			err := &DuplicateTaskError{TaskID: t.ID}
			span.SetStatus(codes.Error, err.Error())
			return ExecutionPlan{}, err
		}
		byID[t.ID] = t
	}

	inDegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		inDegree[t.ID] += 0
		for _, dep := range t.DependsOn {
			if _, ok := byID[dep]; !ok {
				err := &UnknownDependencyError{TaskID: t.ID, DependencyID: dep}
				span.SetStatus(codes.Error, err.Error())
				return ExecutionPlan{}, err
			}
			inDegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var groups [][]Task
	remaining := len(tasks)

	for remaining > 0 {
		readyIDs := make([]string, 0, remaining)
		for id, deg := range inDegree {
			if deg == 0 {
				readyIDs = append(readyIDs, id)
			}
		}
		if len(readyIDs) == 0 {
			// Everything left participates in (or depends on) a cycle.
			members := make([]string, 0, remaining)
			for id := range inDegree {
				members = append(members, id)
			}
			sort.Strings(members)
			err := &CycleError{Members: members}
			span.SetStatus(codes.Error, err.Error())
			return ExecutionPlan{}, err
		}

		sort.Strings(readyIDs)

		group := make([]Task, 0, len(readyIDs))
		for _, id := range readyIDs {
			group = append(group, byID[id])
			delete(inDegree, id)
			for _, dependent := range dependents[id] {
				if _, pending := inDegree[dependent]; pending {
					inDegree[dependent]--
				}
			}
		}

		groups = append(groups, group)
		remaining -= len(group)
	}

	span.SetAttributes(attribute.Int("group_count", len(groups)))
	return ExecutionPlan{Groups: groups}, nil
}
