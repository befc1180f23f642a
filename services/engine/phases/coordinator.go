// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package phases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("engine.phases")

var (
	phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_phase_duration_seconds",
		Help:    "Wall time per reasoning phase",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase", "status"})
)

// ErrNoConclusion marks a run where the Conclusion phase produced no answer.
var ErrNoConclusion = errors.New("conclusion phase produced no answer")

// ErrPhasePanic marks an unrecoverable fault inside a phase.
var ErrPhasePanic = errors.New("phase panicked")

// Phase is one step of the reasoning chain.
type Phase interface {
	// Name returns the phase identity.
	Name() Name

	// Run produces the phase output from the accumulated context.
	//
	// Inputs:
	//   ctx - Context for cancellation and tracing.
	//   pc - The read-only accumulated context.
	//
	// Outputs:
	//   Output - The phase contribution. Partial marks degraded output.
	//   error - Non-nil records the phase FAILED; the chain continues.
	Run(ctx context.Context, pc *Context) (Output, error)
}

// Outcome is the terminal product of a full chain run.
type Outcome struct {
	// Answer is the Conclusion phase output.
	Answer string `json:"answer"`

	// Confidence is the final score: the Metacognition advisory confidence
	// when reported, otherwise the running average.
	Confidence float64 `json:"confidence"`

	// Results are all phase results in order.
	Results []Result `json:"results"`

	// Duration is the total chain wall time.
	Duration time.Duration `json:"duration"`
}

// Coordinator drives the fixed phase sequence.
//
// Thread Safety: Safe for concurrent use; each Run works on its own context.
type Coordinator struct {
	phases []Phase
	logger *slog.Logger

	// onPhase, when set, fires after each phase result is recorded.
	onPhase func(Result)
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the chain logger.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPhaseCallback registers a callback fired after every phase completes,
// used to emit PHASE_COMPLETED stream events.
func WithPhaseCallback(fn func(Result)) CoordinatorOption {
	return func(c *Coordinator) { c.onPhase = fn }
}

// NewCoordinator creates a coordinator over the given phases.
//
// Description:
//
//	The phase list must cover the fixed sequence exactly, in order. This
//	is validated at construction so a misassembled chain fails fast.
//
// Inputs:
//
//	chain - The six phases in sequence order.
//	opts - Optional configuration.
//
// Outputs:
//
//	*Coordinator - The configured coordinator.
//	error - Non-nil if the chain does not match the fixed sequence.
func NewCoordinator(chain []Phase, opts ...CoordinatorOption) (*Coordinator, error) {
	want := Sequence()
	if len(chain) != len(want) {
		return nil, fmt.Errorf("phase chain has %d phases, want %d", len(chain), len(want))
	}
	for i, p := range chain {
		if p == nil {
			return nil, fmt.Errorf("phase %d is nil", i)
		}
		if p.Name() != want[i] {
			return nil, fmt.Errorf("phase %d is %q, want %q", i, p.Name(), want[i])
		}
	}

	c := &Coordinator{
		phases: chain,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run executes the full chain over the given context.
//
// Description:
//
//	Phases run strictly in sequence. A phase error is recorded as a FAILED
//	result and the chain continues; later phases see the gap through the
//	context. A panic escaping a phase is the one fatal condition: the run
//	aborts with ErrPhasePanic. The answer comes from the Conclusion phase;
//	Metacognition only contributes the advisory final confidence and never
//	alters the answer. Cancellation between phases stops the chain.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing. Must not be nil.
//	pc - The phase context seeded with request, chunks, and task notes.
//
// Outputs:
//
//	Outcome - The answer, final confidence, and all phase results.
//	error - ErrPhasePanic, ErrNoConclusion, or the cancellation cause.
//
// Thread Safety: Safe for concurrent use.
func (c *Coordinator) Run(ctx context.Context, pc *Context) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "phases.Coordinator.Run")
	defer span.End()

	start := time.Now()

	for _, phase := range c.phases {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "canceled")
			return Outcome{Results: pc.Results(), Duration: time.Since(start)}, err
		}

		result, err := c.runPhase(ctx, phase, pc)
		if err != nil {
			// A panic escaping a phase is unrecoverable for this request.
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Outcome{Results: pc.Results(), Duration: time.Since(start)}, err
		}

		pc.append(result)
		phaseDuration.WithLabelValues(string(result.Phase), string(result.Status)).
			Observe(result.Duration.Seconds())

		if c.onPhase != nil {
			c.onPhase(result)
		}

		c.logger.Debug("phase recorded",
			slog.String("phase", string(result.Phase)),
			slog.String("status", string(result.Status)),
			slog.Float64("confidence", result.Confidence),
			slog.Duration("duration", result.Duration),
		)
	}

	outcome := Outcome{
		Results:  pc.Results(),
		Duration: time.Since(start),
	}

	conclusion, ok := pc.ResultFor(Conclusion)
	if !ok || conclusion.Output == "" {
		span.SetStatus(codes.Error, ErrNoConclusion.Error())
		return outcome, ErrNoConclusion
	}
	outcome.Answer = conclusion.Output

	// Metacognition is advisory: it sets the score, never the answer.
	if meta, ok := pc.ResultFor(Metacognition); ok && meta.Confidence > 0 {
		outcome.Confidence = meta.Confidence
	} else {
		outcome.Confidence = pc.ConfidenceAverage()
	}

	span.SetAttributes(
		attribute.Float64("confidence", outcome.Confidence),
		attribute.Int("phase_count", len(outcome.Results)),
	)
	return outcome, nil
}

// runPhase executes one phase with panic containment.
func (c *Coordinator) runPhase(ctx context.Context, phase Phase, pc *Context) (result Result, fatal error) {
	ctx, span := tracer.Start(ctx, "phases.phase",
		trace.WithAttributes(attribute.String("phase", string(phase.Name()))),
	)
	defer span.End()

	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			fatal = fmt.Errorf("%w: %s: %v", ErrPhasePanic, phase.Name(), r)
			span.SetStatus(codes.Error, fatal.Error())
			c.logger.Error("phase panicked",
				slog.String("phase", string(phase.Name())),
				slog.Any("panic", r),
			)
		}
	}()

	output, err := phase.Run(ctx, pc)
	duration := time.Since(start)

	result = Result{
		Phase:      phase.Name(),
		Confidence: output.Confidence,
		Output:     output.Text,
		Duration:   duration,
	}

	switch {
	case err != nil:
		result.Status = StatusFailed
		result.Output = ""
		result.Confidence = 0
		result.Reason = err.Error()
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("phase failed",
			slog.String("phase", string(phase.Name())),
			slog.String("error", err.Error()),
		)
	case output.Partial:
		result.Status = StatusPartial
		span.SetStatus(codes.Ok, "")
	default:
		result.Status = StatusSuccess
		span.SetStatus(codes.Ok, "")
	}

	return result, nil
}
