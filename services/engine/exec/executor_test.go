// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package exec

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ParagrafAI/ParagrafCore/services/engine/config"
	"github.com/ParagrafAI/ParagrafCore/services/engine/plan"
)

func testLimits() config.ExecutorWeights {
	return config.ExecutorWeights{
		MaxConcurrency: 4,
		TaskTimeout:    time.Second,
	}
}

func echoInvoker() Invoker {
	return InvokerFunc(func(_ context.Context, task plan.Task, _ map[string]string) (string, error) {
		return "done:" + task.ID, nil
	})
}

func resolvePlan(t *testing.T, tasks []plan.Task) plan.ExecutionPlan {
	t.Helper()
	p, err := plan.NewResolver().Resolve(context.Background(), tasks)
	require.NoError(t, err)
	return p
}

func resultByID(results []TaskResult, id string) (TaskResult, bool) {
	for _, r := range results {
		if r.TaskID == id {
			return r, true
		}
	}
	return TaskResult{}, false
}

func TestExecute_AllTasksSucceed(t *testing.T) {
	registry, err := NewRegistryBuilder().
		Register(plan.DomainStatute, echoInvoker()).
		Register(plan.DomainCaseLaw, echoInvoker()).
		Build()
	require.NoError(t, err)

	executor, err := NewExecutor(registry, testLimits())
	require.NoError(t, err)

	p := resolvePlan(t, []plan.Task{
		{ID: "a", Domain: plan.DomainStatute},
		{ID: "b", DependsOn: []string{"a"}, Domain: plan.DomainCaseLaw},
	})

	results, err := executor.Execute(context.Background(), p, Hooks{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, StatusSuccess, r.Status)
		assert.Equal(t, "done:"+r.TaskID, r.Output)
	}
}

func TestExecute_FailureCascadesToDependents(t *testing.T) {
	registry, err := NewRegistryBuilder().
		Register(plan.DomainStatute, InvokerFunc(func(context.Context, plan.Task, map[string]string) (string, error) {
			return "", errors.New("source unavailable")
		})).
		Register(plan.DomainCaseLaw, echoInvoker()).
		Register(plan.DomainCommentary, echoInvoker()).
		Build()
	require.NoError(t, err)

	executor, err := NewExecutor(registry, testLimits())
	require.NoError(t, err)

	// a fails, b depends on a, c depends on b: both must be skipped.
	p := resolvePlan(t, []plan.Task{
		{ID: "a", Domain: plan.DomainStatute},
		{ID: "b", DependsOn: []string{"a"}, Domain: plan.DomainCaseLaw},
		{ID: "c", DependsOn: []string{"b"}, Domain: plan.DomainCommentary},
	})

	results, err := executor.Execute(context.Background(), p, Hooks{})
	require.NoError(t, err)
	require.Len(t, results, 3)

	a, _ := resultByID(results, "a")
	assert.Equal(t, StatusFailed, a.Status)
	assert.Contains(t, a.Reason, "source unavailable")

	b, _ := resultByID(results, "b")
	assert.Equal(t, StatusSkipped, b.Status)
	assert.Contains(t, b.Reason, `"a"`)

	c, _ := resultByID(results, "c")
	assert.Equal(t, StatusSkipped, c.Status, "skip must cascade transitively")
}

func TestExecute_SiblingIsolation(t *testing.T) {
	registry, err := NewRegistryBuilder().
		Register(plan.DomainStatute, echoInvoker()).
		Register(plan.DomainCaseLaw, InvokerFunc(func(context.Context, plan.Task, map[string]string) (string, error) {
			return "", errors.New("boom")
		})).
		Register(plan.DomainCommentary, echoInvoker()).
		Build()
	require.NoError(t, err)

	executor, err := NewExecutor(registry, testLimits())
	require.NoError(t, err)

	p := resolvePlan(t, []plan.Task{
		{ID: "root", Domain: plan.DomainStatute},
		{ID: "ok", DependsOn: []string{"root"}, Domain: plan.DomainCommentary},
		{ID: "bad", DependsOn: []string{"root"}, Domain: plan.DomainCaseLaw},
	})

	results, err := executor.Execute(context.Background(), p, Hooks{})
	require.NoError(t, err)

	ok, _ := resultByID(results, "ok")
	assert.Equal(t, StatusSuccess, ok.Status, "sibling failure must not abort the group")

	bad, _ := resultByID(results, "bad")
	assert.Equal(t, StatusFailed, bad.Status)
}

func TestExecute_TaskTimeoutMarksFailed(t *testing.T) {
	registry, err := NewRegistryBuilder().
		Register(plan.DomainStatute, InvokerFunc(func(ctx context.Context, _ plan.Task, _ map[string]string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})).
		Build()
	require.NoError(t, err)

	executor, err := NewExecutor(registry, config.ExecutorWeights{
		MaxConcurrency: 2,
		TaskTimeout:    20 * time.Millisecond,
	})
	require.NoError(t, err)

	p := resolvePlan(t, []plan.Task{{ID: "slow", Domain: plan.DomainStatute}})

	results, err := executor.Execute(context.Background(), p, Hooks{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusFailed, results[0].Status)
	assert.Contains(t, results[0].Reason, "deadline")
}

func TestExecute_ConcurrencyBounded(t *testing.T) {
	var active, peak int32

	registry, err := NewRegistryBuilder().
		Register(plan.DomainStatute, InvokerFunc(func(context.Context, plan.Task, map[string]string) (string, error) {
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			return "", nil
		})).
		Build()
	require.NoError(t, err)

	executor, err := NewExecutor(registry, config.ExecutorWeights{
		MaxConcurrency: 2,
		TaskTimeout:    time.Second,
	})
	require.NoError(t, err)

	tasks := make([]plan.Task, 8)
	for i := range tasks {
		tasks[i] = plan.Task{ID: string(rune('a' + i)), Domain: plan.DomainStatute}
	}

	_, err = executor.Execute(context.Background(), resolvePlan(t, tasks), Hooks{})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2),
		"no more than MaxConcurrency tasks may run at once")
}

func TestExecute_DependencyOutputsDelivered(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]map[string]string)

	record := InvokerFunc(func(_ context.Context, task plan.Task, inputs map[string]string) (string, error) {
		mu.Lock()
		seen[task.ID] = inputs
		mu.Unlock()
		return "out:" + task.ID, nil
	})

	registry, err := NewRegistryBuilder().
		Register(plan.DomainStatute, record).
		Register(plan.DomainCaseLaw, record).
		Build()
	require.NoError(t, err)

	executor, err := NewExecutor(registry, testLimits())
	require.NoError(t, err)

	p := resolvePlan(t, []plan.Task{
		{ID: "a", Domain: plan.DomainStatute},
		{ID: "b", DependsOn: []string{"a"}, Domain: plan.DomainCaseLaw},
	})

	_, err = executor.Execute(context.Background(), p, Hooks{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "out:a"}, seen["b"])
}

func TestExecute_UnregisteredDomainFails(t *testing.T) {
	registry, err := NewRegistryBuilder().
		Register(plan.DomainStatute, echoInvoker()).
		Build()
	require.NoError(t, err)

	executor, err := NewExecutor(registry, testLimits())
	require.NoError(t, err)

	p := resolvePlan(t, []plan.Task{{ID: "x", Domain: plan.DomainProcedure}})

	results, err := executor.Execute(context.Background(), p, Hooks{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusFailed, results[0].Status)
	assert.Contains(t, results[0].Reason, "no worker registered")
}

func TestExecute_CancellationSkipsTrailingGroups(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	registry, err := NewRegistryBuilder().
		Register(plan.DomainStatute, InvokerFunc(func(context.Context, plan.Task, map[string]string) (string, error) {
			cancel() // cancel while the first group is in flight
			return "first", nil
		})).
		Register(plan.DomainCaseLaw, echoInvoker()).
		Build()
	require.NoError(t, err)

	executor, err := NewExecutor(registry, testLimits())
	require.NoError(t, err)

	p := resolvePlan(t, []plan.Task{
		{ID: "a", Domain: plan.DomainStatute},
		{ID: "b", DependsOn: []string{"a"}, Domain: plan.DomainCaseLaw},
	})

	results, execErr := executor.Execute(ctx, p, Hooks{})
	assert.ErrorIs(t, execErr, context.Canceled)
	require.Len(t, results, 2, "every task must still get a terminal result")

	a, _ := resultByID(results, "a")
	assert.Equal(t, StatusSuccess, a.Status, "in-flight group must finish")

	b, _ := resultByID(results, "b")
	assert.Equal(t, StatusSkipped, b.Status)
	assert.Contains(t, b.Reason, "canceled")
}

func TestExecute_CancellationDoesNotKillInFlightTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	registry, err := NewRegistryBuilder().
		Register(plan.DomainStatute, InvokerFunc(func(taskCtx context.Context, _ plan.Task, _ map[string]string) (string, error) {
			cancel()
			// The request is gone, but a started worker runs under its own
			// deadline and must be allowed to complete.
			select {
			case <-taskCtx.Done():
				return "", taskCtx.Err()
			case <-time.After(50 * time.Millisecond):
				return "finished naturally", nil
			}
		})).
		Register(plan.DomainCaseLaw, echoInvoker()).
		Build()
	require.NoError(t, err)

	executor, err := NewExecutor(registry, testLimits())
	require.NoError(t, err)

	p := resolvePlan(t, []plan.Task{
		{ID: "a", Domain: plan.DomainStatute},
		{ID: "b", DependsOn: []string{"a"}, Domain: plan.DomainCaseLaw},
	})

	results, execErr := executor.Execute(ctx, p, Hooks{})
	assert.ErrorIs(t, execErr, context.Canceled)
	require.Len(t, results, 2)

	a, _ := resultByID(results, "a")
	assert.Equal(t, StatusSuccess, a.Status, "started task must not see the request cancellation")
	assert.Equal(t, "finished naturally", a.Output)

	b, _ := resultByID(results, "b")
	assert.Equal(t, StatusSkipped, b.Status)
	assert.Equal(t, "execution canceled", b.Reason)
}

func TestExecute_HooksFireForEveryTask(t *testing.T) {
	registry, err := NewRegistryBuilder().
		Register(plan.DomainStatute, InvokerFunc(func(context.Context, plan.Task, map[string]string) (string, error) {
			return "", errors.New("nope")
		})).
		Register(plan.DomainCaseLaw, echoInvoker()).
		Build()
	require.NoError(t, err)

	executor, err := NewExecutor(registry, testLimits())
	require.NoError(t, err)

	var mu sync.Mutex
	started := make([]string, 0, 2)
	ended := make([]string, 0, 3)
	groups := 0

	hooks := Hooks{
		OnTaskStart: func(task plan.Task, _ int) {
			mu.Lock()
			started = append(started, task.ID)
			mu.Unlock()
		},
		OnTaskEnd: func(r TaskResult) {
			mu.Lock()
			ended = append(ended, r.TaskID)
			mu.Unlock()
		},
		OnGroupDone: func(int, []TaskResult) {
			mu.Lock()
			groups++
			mu.Unlock()
		},
	}

	p := resolvePlan(t, []plan.Task{
		{ID: "a", Domain: plan.DomainStatute},
		{ID: "b", DependsOn: []string{"a"}, Domain: plan.DomainCaseLaw},
	})

	_, err = executor.Execute(context.Background(), p, hooks)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, started, "skipped tasks never start")
	assert.ElementsMatch(t, []string{"a", "b"}, ended, "every task ends, skipped included")
	assert.Equal(t, 2, groups)
}

func TestRegistryBuilder_RejectsDuplicates(t *testing.T) {
	_, err := NewRegistryBuilder().
		Register(plan.DomainStatute, echoInvoker()).
		Register(plan.DomainStatute, echoInvoker()).
		Build()
	assert.Error(t, err)
}

func TestRegistryBuilder_RejectsInvalidDomain(t *testing.T) {
	_, err := NewRegistryBuilder().
		Register(plan.Domain("bogus"), echoInvoker()).
		Build()
	assert.Error(t, err)
}
