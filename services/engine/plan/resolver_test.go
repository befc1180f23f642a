// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package plan

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_EmptyTaskSet(t *testing.T) {
	p, err := NewResolver().Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, p.Groups)
	assert.Zero(t, p.TaskCount())
}

func TestResolve_DiamondLayering(t *testing.T) {
	tasks := []Task{
		{ID: "root", Domain: DomainDefinitions, Payload: "Begriff klären"},
		{ID: "statutes", DependsOn: []string{"root"}, Domain: DomainStatute},
		{ID: "cases", DependsOn: []string{"root"}, Domain: DomainCaseLaw},
		{ID: "merge", DependsOn: []string{"statutes", "cases"}, Domain: DomainCommentary},
	}

	p, err := NewResolver().Resolve(context.Background(), tasks)
	require.NoError(t, err)

	require.Len(t, p.Groups, 3)
	assert.Equal(t, []string{"root"}, groupIDs(p.Groups[0]))
	assert.Equal(t, []string{"cases", "statutes"}, groupIDs(p.Groups[1]))
	assert.Equal(t, []string{"merge"}, groupIDs(p.Groups[2]))
}

func TestResolve_SingleDependencyFansOut(t *testing.T) {
	tasks := []Task{
		{ID: "A", Domain: DomainStatute},
		{ID: "B", DependsOn: []string{"A"}, Domain: DomainCaseLaw},
		{ID: "C", DependsOn: []string{"A"}, Domain: DomainCommentary},
	}

	p, err := NewResolver().Resolve(context.Background(), tasks)
	require.NoError(t, err)

	require.Len(t, p.Groups, 2)
	assert.Equal(t, []string{"A"}, groupIDs(p.Groups[0]))
	assert.Equal(t, []string{"B", "C"}, groupIDs(p.Groups[1]))
}

func TestResolve_OrderIndependent(t *testing.T) {
	tasks := []Task{
		{ID: "a", Domain: DomainStatute},
		{ID: "b", DependsOn: []string{"a"}, Domain: DomainCaseLaw},
		{ID: "c", DependsOn: []string{"a"}, Domain: DomainProcedure},
		{ID: "d", DependsOn: []string{"b", "c"}, Domain: DomainCommentary},
		{ID: "e", Domain: DomainDefinitions},
	}

	reference, err := NewResolver().Resolve(context.Background(), tasks)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := make([]Task, len(tasks))
		copy(shuffled, tasks)
		rng.Shuffle(len(shuffled), func(x, y int) {
			shuffled[x], shuffled[y] = shuffled[y], shuffled[x]
		})

		p, err := NewResolver().Resolve(context.Background(), shuffled)
		require.NoError(t, err)
		assert.Equal(t, reference, p, "plan must not depend on input order")
	}
}

func TestResolve_TopologicalProperty(t *testing.T) {
	tasks := []Task{
		{ID: "t1", Domain: DomainStatute},
		{ID: "t2", DependsOn: []string{"t1"}, Domain: DomainCaseLaw},
		{ID: "t3", DependsOn: []string{"t1"}, Domain: DomainCommentary},
		{ID: "t4", DependsOn: []string{"t2"}, Domain: DomainProcedure},
		{ID: "t5", DependsOn: []string{"t2", "t3"}, Domain: DomainDefinitions},
	}

	p, err := NewResolver().Resolve(context.Background(), tasks)
	require.NoError(t, err)

	layer := make(map[string]int)
	for i, g := range p.Groups {
		for _, task := range g {
			layer[task.ID] = i
		}
	}

	for _, task := range tasks {
		for _, dep := range task.DependsOn {
			assert.Less(t, layer[dep], layer[task.ID],
				"dependency %s must run in an earlier group than %s", dep, task.ID)
		}
	}

	assert.Len(t, p.Flatten(), len(tasks))
}

func TestResolve_CycleDetected(t *testing.T) {
	tasks := []Task{
		{ID: "x", DependsOn: []string{"z"}, Domain: DomainStatute},
		{ID: "y", DependsOn: []string{"x"}, Domain: DomainCaseLaw},
		{ID: "z", DependsOn: []string{"y"}, Domain: DomainCommentary},
	}

	_, err := NewResolver().Resolve(context.Background(), tasks)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"x", "y", "z"}, cycleErr.Members)
}

func TestResolve_SelfDependencyIsCycle(t *testing.T) {
	tasks := []Task{{ID: "loop", DependsOn: []string{"loop"}, Domain: DomainStatute}}

	_, err := NewResolver().Resolve(context.Background(), tasks)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"loop"}, cycleErr.Members)
}

func TestResolve_UnknownDependency(t *testing.T) {
	tasks := []Task{
		{ID: "a", DependsOn: []string{"ghost"}, Domain: DomainStatute},
	}

	_, err := NewResolver().Resolve(context.Background(), tasks)
	var unknownErr *UnknownDependencyError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "a", unknownErr.TaskID)
	assert.Equal(t, "ghost", unknownErr.DependencyID)
}

func TestResolve_DuplicateTaskID(t *testing.T) {
	tasks := []Task{
		{ID: "dup", Domain: DomainStatute},
		{ID: "dup", Domain: DomainCaseLaw},
	}

	_, err := NewResolver().Resolve(context.Background(), tasks)
	var dupErr *DuplicateTaskError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "dup", dupErr.TaskID)
	assert.False(t, errors.Is(err, context.Canceled))
}

func groupIDs(tasks []Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}
