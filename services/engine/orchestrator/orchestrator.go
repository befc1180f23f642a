// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator is the façade driving one request through the whole
// pipeline: intent classification, budgeting, retrieval, task planning and
// execution, and the reasoning phase chain.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ParagrafAI/ParagrafCore/services/engine/budget"
	"github.com/ParagrafAI/ParagrafCore/services/engine/complexity"
	"github.com/ParagrafAI/ParagrafCore/services/engine/config"
	"github.com/ParagrafAI/ParagrafCore/services/engine/events"
	"github.com/ParagrafAI/ParagrafCore/services/engine/exec"
	"github.com/ParagrafAI/ParagrafCore/services/engine/intent"
	"github.com/ParagrafAI/ParagrafCore/services/engine/phases"
	"github.com/ParagrafAI/ParagrafCore/services/engine/plan"
	"github.com/ParagrafAI/ParagrafCore/services/engine/retrieval"
)

var tracer = otel.Tracer("engine.orchestrator")

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_requests_total",
		Help: "Requests by terminal outcome",
	}, []string{"outcome", "intent"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_request_duration_seconds",
		Help:    "End-to-end request latency",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})
)

// ErrEmptyQuery rejects blank requests.
var ErrEmptyQuery = errors.New("query is empty")

// WeightsProvider hands out the current tuning tables. config.Store
// implements it with hot reload; StaticWeights pins one table set.
type WeightsProvider interface {
	Current() *config.Weights
}

// StaticWeights is a WeightsProvider over a fixed table set.
type StaticWeights struct {
	Weights *config.Weights
}

// Current implements WeightsProvider.
func (s StaticWeights) Current() *config.Weights { return s.Weights }

// Request is one user query.
type Request struct {
	// ID identifies the request; empty generates one.
	ID string `json:"id,omitempty"`

	// SessionID groups the requests of one conversation. Optional; the
	// engine passes it through untouched.
	SessionID string `json:"session_id,omitempty"`

	// Query is the user's question.
	Query string `json:"query"`

	// Preferences carries caller answer preferences, passed through for
	// downstream consumers.
	Preferences Preferences `json:"preferences,omitempty"`
}

// Preferences are caller-supplied answer preferences.
type Preferences struct {
	// Verbosity hints at answer length: "kurz", "normal", "ausführlich".
	Verbosity string `json:"verbosity,omitempty"`
}

// Result is the terminal product of a request.
type Result struct {
	RequestID  string             `json:"request_id"`
	SessionID  string             `json:"session_id,omitempty"`
	Answer     string             `json:"answer"`
	Confidence float64            `json:"confidence"`
	Intent     intent.Prediction  `json:"intent"`
	Budget     int                `json:"budget"`
	Breakdowns []budget.Breakdown `json:"breakdowns"`
	Sources    []string           `json:"sources,omitempty"`
	Tasks      []exec.TaskResult  `json:"tasks"`
	Phases     []phases.Result    `json:"phases"`
	Degraded   bool               `json:"degraded"`
	Duration   time.Duration      `json:"duration"`
}

// Generator is the phase generation capability (see phases.Generator).
type Generator = phases.Generator

// Orchestrator drives requests through the pipeline.
//
// Thread Safety: Safe for concurrent use; per-request state is local.
type Orchestrator struct {
	weights   WeightsProvider
	searcher  retrieval.Searcher
	registry  *exec.Registry
	generator Generator
	fallback  intent.ModelClassifier
	logger    *slog.Logger
	buffer    int

	// The classifier is reused across requests so its fallback verdict
	// cache and singleflight group stay effective; it is rebuilt only
	// when the weights snapshot changes (hot reload swaps the pointer).
	mu                sync.Mutex
	classifier        *intent.Classifier
	classifierWeights *config.Weights
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithModelFallback enables the model fallback for low-confidence intent.
func WithModelFallback(fallback intent.ModelClassifier) Option {
	return func(o *Orchestrator) { o.fallback = fallback }
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStreamBuffer sets the event stream buffer capacity.
func WithStreamBuffer(capacity int) Option {
	return func(o *Orchestrator) { o.buffer = capacity }
}

// New creates an orchestrator.
//
// Inputs:
//
//	weights - Tuning table provider. Must not be nil.
//	searcher - Retrieval capability. Must not be nil.
//	registry - Task worker registry. Must not be nil.
//	generator - Phase generation capability. Must not be nil.
//	opts - Optional configuration.
//
// Outputs:
//
//	*Orchestrator - The configured orchestrator.
//	error - Non-nil if a required collaborator is missing.
func New(weights WeightsProvider, searcher retrieval.Searcher, registry *exec.Registry, generator Generator, opts ...Option) (*Orchestrator, error) {
	if weights == nil || weights.Current() == nil {
		return nil, errors.New("orchestrator: weights provider is required")
	}
	if searcher == nil {
		return nil, errors.New("orchestrator: searcher is required")
	}
	if registry == nil {
		return nil, errors.New("orchestrator: worker registry is required")
	}
	if generator == nil {
		return nil, errors.New("orchestrator: generator is required")
	}

	o := &Orchestrator{
		weights:   weights,
		searcher:  searcher,
		registry:  registry,
		generator: generator,
		logger:    slog.Default(),
		buffer:    events.DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(o)
	}

	// Surface invalid intent patterns at construction, not mid-request.
	if _, err := o.classifierFor(weights.Current()); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	return o, nil
}

// classifierFor returns the classifier for the given weights snapshot,
// rebuilding only when the snapshot pointer changes.
//
// Thread Safety: Safe for concurrent use.
func (o *Orchestrator) classifierFor(weights *config.Weights) (*intent.Classifier, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.classifier != nil && o.classifierWeights == weights {
		return o.classifier, nil
	}

	classifier, err := intent.NewClassifier(weights.Intent)
	if err != nil {
		return nil, fmt.Errorf("build classifier: %w", err)
	}
	o.classifier = classifier
	o.classifierWeights = weights
	return classifier, nil
}

// Process runs the request to completion and returns the final result.
//
// Thread Safety: Safe for concurrent use.
func (o *Orchestrator) Process(ctx context.Context, req Request) (Result, error) {
	emitter := events.NewEmitter(o.buffer)
	// Nobody consumes in blocking mode; drain so producers never stall.
	go func() {
		for range emitter.Events() {
		}
	}()
	return o.run(ctx, req, emitter)
}

// ProcessStream runs the request and streams events as they happen.
//
// Description:
//
//	The returned channel delivers events in pipeline order: PROGRESS(0),
//	per-step STEP_STARTED/STEP_COMPLETED pairs, one PHASE_COMPLETED per
//	reasoning phase, PROGRESS(100), then exactly one FINAL_RESULT, or
//	exactly one ERROR on unrecoverable failure. The channel closes after
//	the terminal event. Cancel ctx when the consumer goes away: the
//	in-flight task group finishes, nothing further starts.
//
// Outputs:
//
//	<-chan events.Event - The single-consumer stream.
//
// Thread Safety: Safe for concurrent use.
func (o *Orchestrator) ProcessStream(ctx context.Context, req Request) <-chan events.Event {
	emitter := events.NewEmitter(o.buffer)
	go func() {
		if _, err := o.run(ctx, req, emitter); err != nil {
			// run emitted the ERROR event; nothing more to do here.
			o.logger.Debug("stream ended with error", slog.String("error", err.Error()))
		}
		emitter.Close()
	}()
	return emitter.Events()
}

// run is the shared pipeline.
func (o *Orchestrator) run(ctx context.Context, req Request, emitter *events.Emitter) (Result, error) {
	start := time.Now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ctx, span := tracer.Start(ctx, "orchestrator.Process",
		trace.WithAttributes(attribute.String("request_id", req.ID)),
	)
	defer span.End()

	result := Result{RequestID: req.ID, SessionID: req.SessionID}

	fail := func(stage string, err error, recoverable bool) (Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		requestsTotal.WithLabelValues("error", string(result.Intent.Intent)).Inc()
		emitter.Emit(events.TypeError, events.ErrorData{
			Error:       err.Error(),
			Code:        stage,
			Recoverable: recoverable,
		})
		o.logger.Error("request failed",
			slog.String("request_id", req.ID),
			slog.String("stage", stage),
			slog.String("error", err.Error()),
		)
		return result, err
	}

	if req.Query == "" {
		return fail("invalid_request", ErrEmptyQuery, false)
	}

	weights := o.weights.Current()
	classifier, err := o.classifierFor(weights)
	if err != nil {
		return fail("internal", err, false)
	}
	calculator := budget.NewCalculator(
		weights.Budget,
		weights.Intent.Multipliers,
		complexity.NewAnalyzer(weights.Complexity),
	)

	emitter.Emit(events.TypeProgress, events.ProgressData{Percent: 0, Stage: "classify_intent"})

	// Checkpoint 1: query signals only.
	o.step(emitter, "classify_intent", func() {
		result.Intent = classifier.ClassifyWithFallback(ctx, req.Query, o.fallback)
	})
	conf := result.Intent.Confidence
	tokens, _ := calculator.Calculate(ctx, budget.CheckpointBeforeRetrieval, budget.Input{
		Query:      req.Query,
		Intent:     result.Intent.Intent,
		Confidence: &conf,
	})
	result.Budget = tokens

	// Checkpoint 2: retrieval folds in chunk count and source diversity.
	var rs retrieval.ResultSet
	o.step(emitter, "retrieve", func() {
		rs, _ = o.searcher.Search(ctx, req.Query, retrievalLimit(result.Intent.Intent))
	})
	result.Degraded = rs.Degraded
	result.Sources = rs.References()

	tokens, _ = calculator.Calculate(ctx, budget.CheckpointAfterRetrieval, budget.Input{
		Query:       req.Query,
		ChunkCount:  len(rs.Documents),
		SourceTypes: rs.SourceTypes(),
		Intent:      result.Intent.Intent,
		Confidence:  &conf,
	})
	result.Budget = tokens

	// Plan, then checkpoint 3 with the selected worker count.
	tasks := buildTasks(result.Intent.Intent, req.Query)
	executionPlan, err := plan.NewResolver().Resolve(ctx, tasks)
	if err != nil {
		return fail("plan", err, false)
	}

	tokens, _ = calculator.Calculate(ctx, budget.CheckpointAfterPlanning, budget.Input{
		Query:       req.Query,
		ChunkCount:  len(rs.Documents),
		SourceTypes: rs.SourceTypes(),
		AgentCount:  executionPlan.TaskCount(),
		Intent:      result.Intent.Intent,
		Confidence:  &conf,
	})
	result.Budget = tokens
	result.Breakdowns = calculator.History()

	executor, err := exec.NewExecutor(o.registry, weights.Executor, exec.WithLogger(o.logger))
	if err != nil {
		return fail("internal", err, false)
	}

	taskResults, execErr := executor.Execute(ctx, executionPlan, exec.Hooks{
		OnTaskStart: func(task plan.Task, _ int) {
			emitter.Emit(events.TypeStepStarted, events.StepData{
				Step:   "task",
				TaskID: task.ID,
				Domain: string(task.Domain),
			})
		},
		OnTaskEnd: func(r exec.TaskResult) {
			emitter.Emit(events.TypeStepCompleted, events.StepData{
				Step:       "task",
				TaskID:     r.TaskID,
				Domain:     string(r.Domain),
				Status:     string(r.Status),
				DurationMS: r.Duration.Milliseconds(),
			})
		},
	})
	result.Tasks = taskResults
	if execErr != nil {
		return fail("canceled", execErr, true)
	}

	// Reasoning chain over retrieval and task outputs.
	coordinator, err := phases.NewCoordinator(
		phases.NewDefaultChain(o.generator, result.Budget),
		phases.WithLogger(o.logger),
		phases.WithPhaseCallback(func(r phases.Result) {
			emitter.Emit(events.TypePhaseCompleted, events.PhaseData{
				Phase:      string(r.Phase),
				Status:     string(r.Status),
				Confidence: r.Confidence,
				DurationMS: r.Duration.Milliseconds(),
				Summary:    truncate(r.Output, 200),
			})
		}),
	)
	if err != nil {
		return fail("internal", err, false)
	}

	pc := phases.NewContext(req.Query, rs.Contents(), taskNotes(taskResults))
	outcome, err := coordinator.Run(ctx, pc)
	result.Phases = outcome.Results
	if err != nil {
		recoverable := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		return fail("phases", err, recoverable)
	}

	result.Answer = outcome.Answer
	result.Confidence = outcome.Confidence
	result.Duration = time.Since(start)

	emitter.Emit(events.TypeProgress, events.ProgressData{Percent: 100, Stage: "done"})
	emitter.Emit(events.TypeFinalResult, events.FinalResultData{
		Answer:     result.Answer,
		Confidence: result.Confidence,
		Intent:     string(result.Intent.Intent),
		Budget:     result.Budget,
		Sources:    result.Sources,
		DurationMS: result.Duration.Milliseconds(),
	})

	requestDuration.Observe(result.Duration.Seconds())
	requestsTotal.WithLabelValues("ok", string(result.Intent.Intent)).Inc()
	span.SetAttributes(
		attribute.String("intent", string(result.Intent.Intent)),
		attribute.Int("budget", result.Budget),
		attribute.Float64("confidence", result.Confidence),
	)

	o.logger.Info("request completed",
		slog.String("request_id", req.ID),
		slog.String("intent", string(result.Intent.Intent)),
		slog.Int("budget", result.Budget),
		slog.Float64("confidence", result.Confidence),
		slog.Duration("duration", result.Duration),
	)

	return result, nil
}

// step wraps a pipeline stage in a STEP_STARTED/STEP_COMPLETED pair.
func (o *Orchestrator) step(emitter *events.Emitter, name string, fn func()) {
	emitter.Emit(events.TypeStepStarted, events.StepData{Step: name})
	start := time.Now()
	fn()
	emitter.Emit(events.TypeStepCompleted, events.StepData{
		Step:       name,
		DurationMS: time.Since(start).Milliseconds(),
	})
}

// retrievalLimit scales document fetch depth with answer depth.
func retrievalLimit(i intent.Intent) int {
	switch i {
	case intent.QuickAnswer:
		return 5
	case intent.Explanation:
		return 8
	case intent.Analysis:
		return 12
	case intent.Research:
		return 20
	}
	return 8
}

// buildTasks selects the worker tasks for an intent. Deeper intents fan out
// across more source domains with a definitions root feeding the rest.
func buildTasks(i intent.Intent, query string) []plan.Task {
	switch i {
	case intent.QuickAnswer:
		return []plan.Task{
			{ID: "definitions", Domain: plan.DomainDefinitions, Payload: query},
		}
	case intent.Explanation:
		return []plan.Task{
			{ID: "definitions", Domain: plan.DomainDefinitions, Payload: query},
			{ID: "statutes", DependsOn: []string{"definitions"}, Domain: plan.DomainStatute, Payload: query},
		}
	case intent.Analysis:
		return []plan.Task{
			{ID: "definitions", Domain: plan.DomainDefinitions, Payload: query},
			{ID: "statutes", DependsOn: []string{"definitions"}, Domain: plan.DomainStatute, Payload: query},
			{ID: "cases", DependsOn: []string{"definitions"}, Domain: plan.DomainCaseLaw, Payload: query},
			{ID: "procedure", DependsOn: []string{"statutes"}, Domain: plan.DomainProcedure, Payload: query},
		}
	case intent.Research:
		return []plan.Task{
			{ID: "definitions", Domain: plan.DomainDefinitions, Payload: query},
			{ID: "statutes", DependsOn: []string{"definitions"}, Domain: plan.DomainStatute, Payload: query},
			{ID: "cases", DependsOn: []string{"definitions"}, Domain: plan.DomainCaseLaw, Payload: query},
			{ID: "commentary", DependsOn: []string{"statutes", "cases"}, Domain: plan.DomainCommentary, Payload: query},
			{ID: "procedure", DependsOn: []string{"statutes"}, Domain: plan.DomainProcedure, Payload: query},
		}
	}
	return []plan.Task{
		{ID: "definitions", Domain: plan.DomainDefinitions, Payload: query},
	}
}

// taskNotes flattens successful task outputs for the phase context.
func taskNotes(results []exec.TaskResult) []string {
	notes := make([]string, 0, len(results))
	for _, r := range results {
		if r.Status == exec.StatusSuccess && r.Output != "" {
			notes = append(notes, fmt.Sprintf("[%s] %s", r.TaskID, r.Output))
		}
	}
	return notes
}

// truncate shortens s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
