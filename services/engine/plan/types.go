// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package plan resolves task dependency graphs into layered execution plans.
//
// A plan is an ordered list of groups. Every task in a group depends only on
// tasks in earlier groups, so all tasks within one group can run in parallel.
package plan

import (
	"fmt"
	"strings"
)

// Domain names the legal source area a task operates on. The executor maps
// domains to registered workers.
type Domain string

const (
	// DomainStatute covers codified law (BGB, StGB, VwVfG, ...).
	DomainStatute Domain = "statute"

	// DomainCaseLaw covers court decisions.
	DomainCaseLaw Domain = "case_law"

	// DomainCommentary covers academic and practitioner commentary.
	DomainCommentary Domain = "commentary"

	// DomainProcedure covers procedural rules and deadlines.
	DomainProcedure Domain = "procedure"

	// DomainDefinitions covers term definitions and glossaries.
	DomainDefinitions Domain = "definitions"
)

// Valid reports whether the domain is one of the known source areas.
func (d Domain) Valid() bool {
	switch d {
	case DomainStatute, DomainCaseLaw, DomainCommentary, DomainProcedure, DomainDefinitions:
		return true
	}
	return false
}

// Task is one unit of retrieval or reasoning work.
type Task struct {
	// ID uniquely identifies the task within a request.
	ID string `json:"id"`

	// DependsOn lists the IDs whose outputs this task consumes.
	DependsOn []string `json:"depends_on,omitempty"`

	// Domain selects the worker that will run this task.
	Domain Domain `json:"domain"`

	// Payload is the task-specific instruction, typically a sub-query.
	Payload string `json:"payload"`
}

// ExecutionPlan is the layered schedule produced by the resolver.
//
// Groups are ordered; tasks within one group have no dependencies on each
// other and may run concurrently.
type ExecutionPlan struct {
	Groups [][]Task `json:"groups"`
}

// TaskCount returns the total number of tasks across all groups.
func (p ExecutionPlan) TaskCount() int {
	n := 0
	for _, g := range p.Groups {
		n += len(g)
	}
	return n
}

// Flatten returns all tasks in execution order, group by group.
func (p ExecutionPlan) Flatten() []Task {
	out := make([]Task, 0, p.TaskCount())
	for _, g := range p.Groups {
		out = append(out, g...)
	}
	return out
}

// CycleError reports a dependency cycle. The plan is unusable; the request
// must fail before any task runs.
type CycleError struct {
	// Members are the task IDs participating in the cycle, sorted.
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle among tasks: %s", strings.Join(e.Members, ", "))
}

// UnknownDependencyError reports a task depending on an ID that is not in
// the task set.
type UnknownDependencyError struct {
	// TaskID is the task declaring the dependency.
	TaskID string

	// DependencyID is the missing dependency.
	DependencyID string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("task %q depends on unknown task %q", e.TaskID, e.DependencyID)
}

// DuplicateTaskError reports two tasks sharing one ID.
type DuplicateTaskError struct {
	TaskID string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("duplicate task id %q", e.TaskID)
}
