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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ParagrafAI/ParagrafCore/services/engine/config"
	"github.com/ParagrafAI/ParagrafCore/services/engine/plan"
)

var tracer = otel.Tracer("engine.exec")

var (
	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_task_duration_seconds",
		Help:    "Wall time per executed task",
		Buckets: prometheus.DefBuckets,
	}, []string{"domain", "status"})

	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_tasks_total",
		Help: "Task completions by terminal status",
	}, []string{"status"})

	activeTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_tasks_active",
		Help: "Tasks currently executing",
	})
)

// ErrNoInvoker marks a task whose domain has no registered worker.
var ErrNoInvoker = errors.New("no worker registered for domain")

// ErrTaskTimeout marks a task stopped by the per-task deadline.
var ErrTaskTimeout = errors.New("task deadline exceeded")

// Status is the terminal state of one task.
type Status string

const (
	// StatusSuccess means the worker returned output.
	StatusSuccess Status = "SUCCESS"

	// StatusFailed means the worker errored, timed out, or was missing.
	StatusFailed Status = "FAILED"

	// StatusSkipped means a dependency did not succeed, so the task never ran.
	StatusSkipped Status = "SKIPPED"
)

// TaskResult is the terminal record of one task.
type TaskResult struct {
	// TaskID identifies the task.
	TaskID string `json:"task_id"`

	// Domain is the task's worker domain.
	Domain plan.Domain `json:"domain"`

	// Status is the terminal state.
	Status Status `json:"status"`

	// Output is the worker output; empty unless StatusSuccess.
	Output string `json:"output,omitempty"`

	// Reason explains a FAILED or SKIPPED status for logs and events.
	Reason string `json:"reason,omitempty"`

	// Duration is the wall time spent running; zero for skipped tasks.
	Duration time.Duration `json:"duration"`

	// GroupIndex is the plan layer the task belonged to.
	GroupIndex int `json:"group_index"`
}

// Hooks receives task lifecycle notifications for event streaming.
//
// All callbacks are optional and must return quickly; they run on the
// executing goroutine.
type Hooks struct {
	// OnTaskStart fires just before a task's worker is invoked.
	OnTaskStart func(task plan.Task, groupIndex int)

	// OnTaskEnd fires with every terminal result, skipped tasks included.
	OnTaskEnd func(result TaskResult)

	// OnGroupDone fires after a group's barrier, with all group results.
	OnGroupDone func(groupIndex int, results []TaskResult)
}

// Executor runs execution plans with bounded parallelism.
//
// Thread Safety: Safe for concurrent use. Multiple plans can run
// concurrently on one Executor.
type Executor struct {
	registry *Registry
	limits   config.ExecutorWeights
	logger   *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the execution logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor creates an executor over the given worker registry.
//
// Inputs:
//
//	registry - The worker registry. Must not be nil.
//	limits - Concurrency bound and per-task timeout.
//	opts - Optional configuration.
//
// Outputs:
//
//	*Executor - The configured executor.
//	error - Non-nil if registry is nil or limits are invalid.
func NewExecutor(registry *Registry, limits config.ExecutorWeights, opts ...Option) (*Executor, error) {
	if registry == nil {
		return nil, errors.New("exec: nil registry")
	}
	if limits.MaxConcurrency <= 0 {
		return nil, fmt.Errorf("exec: max concurrency must be positive, got %d", limits.MaxConcurrency)
	}
	if limits.TaskTimeout <= 0 {
		return nil, fmt.Errorf("exec: task timeout must be positive, got %s", limits.TaskTimeout)
	}

	e := &Executor{
		registry: registry,
		limits:   limits,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Execute runs the plan group by group.
//
// Description:
//
//	Groups run sequentially with a barrier: every task in a group reaches
//	a terminal state before the next group starts. Within a group, tasks
//	run concurrently bounded by MaxConcurrency. Each task gets its own
//	deadline of TaskTimeout. A task whose dependencies did not all
//	succeed is skipped without invoking its worker, and the skip cascades
//	transitively. Sibling tasks are isolated; one failure never aborts
//	the group. Cancellation stops new groups from starting but lets the
//	in-flight group finish.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing. Must not be nil.
//	p - The layered plan from the resolver.
//	hooks - Lifecycle callbacks; zero value disables them.
//
// Outputs:
//
//	[]TaskResult - One result per task, in plan order. Always complete,
//	               even when cancellation skipped trailing groups.
//	error - Non-nil only on cancellation before all groups ran.
//
// Thread Safety: Safe for concurrent use.
func (e *Executor) Execute(ctx context.Context, p plan.ExecutionPlan, hooks Hooks) ([]TaskResult, error) {
	ctx, span := tracer.Start(ctx, "exec.Executor.Execute",
		trace.WithAttributes(
			attribute.Int("task_count", p.TaskCount()),
			attribute.Int("group_count", len(p.Groups)),
		),
	)
	defer span.End()

	start := time.Now()
	outputs := make(map[string]string, p.TaskCount())
	failed := make(map[string]string, 4)
	results := make([]TaskResult, 0, p.TaskCount())
	sem := make(chan struct{}, e.limits.MaxConcurrency)

	var execErr error

	for groupIndex, group := range p.Groups {
		if err := ctx.Err(); err != nil {
			// Trailing groups are recorded skipped so every task has a
			// terminal status.
			for gi := groupIndex; gi < len(p.Groups); gi++ {
				for _, task := range p.Groups[gi] {
					r := TaskResult{
						TaskID:     task.ID,
						Domain:     task.Domain,
						Status:     StatusSkipped,
						Reason:     "execution canceled",
						GroupIndex: gi,
					}
					results = append(results, r)
					tasksTotal.WithLabelValues(string(StatusSkipped)).Inc()
					if hooks.OnTaskEnd != nil {
						hooks.OnTaskEnd(r)
					}
				}
			}
			execErr = err
			break
		}

		groupResults := e.executeGroup(ctx, group, groupIndex, outputs, failed, sem, hooks)
		results = append(results, groupResults...)

		for _, r := range groupResults {
			switch r.Status {
			case StatusSuccess:
				outputs[r.TaskID] = r.Output
			default:
				failed[r.TaskID] = r.Reason
			}
		}

		if hooks.OnGroupDone != nil {
			hooks.OnGroupDone(groupIndex, groupResults)
		}
	}

	succeeded := 0
	for _, r := range results {
		if r.Status == StatusSuccess {
			succeeded++
		}
	}

	span.SetAttributes(
		attribute.Int("succeeded", succeeded),
		attribute.Int("failed_or_skipped", len(results)-succeeded),
	)
	if execErr != nil {
		span.SetStatus(codes.Error, execErr.Error())
	}

	e.logger.Info("plan execution finished",
		slog.Int("tasks", len(results)),
		slog.Int("succeeded", succeeded),
		slog.Duration("duration", time.Since(start)),
	)

	return results, execErr
}

// executeGroup runs one layer to its barrier.
func (e *Executor) executeGroup(
	ctx context.Context,
	group []plan.Task,
	groupIndex int,
	outputs map[string]string,
	failed map[string]string,
	sem chan struct{},
	hooks Hooks,
) []TaskResult {
	results := make([]TaskResult, len(group))
	var wg sync.WaitGroup

	for i, task := range group {
		// Skip decisions are made on the coordinating goroutine; earlier
		// groups are already final at this point.
		if blocker, blocked := e.blockedBy(task, failed); blocked {
			r := TaskResult{
				TaskID:     task.ID,
				Domain:     task.Domain,
				Status:     StatusSkipped,
				Reason:     fmt.Sprintf("dependency %q did not succeed", blocker),
				GroupIndex: groupIndex,
			}
			results[i] = r
			tasksTotal.WithLabelValues(string(StatusSkipped)).Inc()
			if hooks.OnTaskEnd != nil {
				hooks.OnTaskEnd(r)
			}
			continue
		}

		inputs := make(map[string]string, len(task.DependsOn))
		for _, dep := range task.DependsOn {
			inputs[dep] = outputs[dep]
		}

		wg.Add(1)
		go func(i int, task plan.Task) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if hooks.OnTaskStart != nil {
				hooks.OnTaskStart(task, groupIndex)
			}

			r := e.runTask(ctx, task, groupIndex, inputs)
			results[i] = r
			tasksTotal.WithLabelValues(string(r.Status)).Inc()
			if hooks.OnTaskEnd != nil {
				hooks.OnTaskEnd(r)
			}
		}(i, task)
	}

	wg.Wait()
	return results
}

// blockedBy returns the first dependency that did not succeed.
func (e *Executor) blockedBy(task plan.Task, failed map[string]string) (string, bool) {
	for _, dep := range task.DependsOn {
		if _, bad := failed[dep]; bad {
			return dep, true
		}
	}
	return "", false
}

// runTask invokes one worker under the per-task deadline.
func (e *Executor) runTask(ctx context.Context, task plan.Task, groupIndex int, inputs map[string]string) TaskResult {
	ctx, span := tracer.Start(ctx, "exec.task",
		trace.WithAttributes(
			attribute.String("task.id", task.ID),
			attribute.String("task.domain", string(task.Domain)),
		),
	)
	defer span.End()

	activeTasks.Inc()
	defer activeTasks.Dec()

	result := TaskResult{
		TaskID:     task.ID,
		Domain:     task.Domain,
		GroupIndex: groupIndex,
	}

	invoker, ok := e.registry.Lookup(task.Domain)
	if !ok {
		result.Status = StatusFailed
		result.Reason = fmt.Sprintf("%s: %s", ErrNoInvoker, task.Domain)
		span.SetStatus(codes.Error, result.Reason)
		taskDuration.WithLabelValues(string(task.Domain), string(StatusFailed)).Observe(0)
		return result
	}

	// A started task is never killed by request cancellation; only its own
	// deadline stops it. Execute refuses to open new groups once the
	// request context is canceled.
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.limits.TaskTimeout)
	defer cancel()

	start := time.Now()
	output, err := invoker.Invoke(taskCtx, task, inputs)
	result.Duration = time.Since(start)

	if err != nil {
		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %s", ErrTaskTimeout, task.ID)
		}
		result.Status = StatusFailed
		result.Reason = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("task failed",
			slog.String("task", task.ID),
			slog.String("domain", string(task.Domain)),
			slog.Duration("duration", result.Duration),
			slog.String("error", err.Error()),
		)
	} else {
		result.Status = StatusSuccess
		result.Output = output
		span.SetStatus(codes.Ok, "")
		e.logger.Debug("task completed",
			slog.String("task", task.ID),
			slog.Duration("duration", result.Duration),
		)
	}

	taskDuration.WithLabelValues(string(task.Domain), string(result.Status)).Observe(result.Duration.Seconds())
	return result
}
