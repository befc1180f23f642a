// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package phases runs the fixed six-phase reasoning chain over a request.
//
// The sequence is non-branching: Hypothesis, Synthesis, Analysis, Validation,
// Conclusion, Metacognition. Each phase appends its result to the shared
// context and never touches earlier entries, so any phase can be replayed
// deterministically from the context up to that point. A failed phase is
// recorded and the chain continues; later phases must tolerate missing prior
// output.
package phases

import (
	"fmt"
	"time"
)

// Name identifies one reasoning phase.
type Name string

const (
	Hypothesis    Name = "hypothesis"
	Synthesis     Name = "synthesis"
	Analysis      Name = "analysis"
	Validation    Name = "validation"
	Conclusion    Name = "conclusion"
	Metacognition Name = "metacognition"
)

// Sequence returns the fixed phase order.
func Sequence() []Name {
	return []Name{Hypothesis, Synthesis, Analysis, Validation, Conclusion, Metacognition}
}

// Status is the outcome of one phase.
type Status string

const (
	// StatusSuccess means the phase produced its full output.
	StatusSuccess Status = "SUCCESS"

	// StatusPartial means the phase produced degraded output worth keeping.
	StatusPartial Status = "PARTIAL"

	// StatusFailed means the phase produced nothing usable.
	StatusFailed Status = "FAILED"
)

// Output is what a phase hands back to the coordinator.
type Output struct {
	// Text is the phase's contribution to the reasoning chain.
	Text string

	// Confidence is the phase's self-assessed confidence in [0,1].
	// Zero means the phase declines to report one.
	Confidence float64

	// Partial marks output produced under degraded conditions.
	Partial bool
}

// Result is the recorded outcome of one phase, as appended to the context.
type Result struct {
	// Phase names the phase that produced this result.
	Phase Name `json:"phase"`

	// Status is the phase outcome.
	Status Status `json:"status"`

	// Confidence is the reported confidence, zero if none.
	Confidence float64 `json:"confidence"`

	// Output is the phase text; empty on failure.
	Output string `json:"output,omitempty"`

	// Reason explains a PARTIAL or FAILED status.
	Reason string `json:"reason,omitempty"`

	// Duration is the phase wall time.
	Duration time.Duration `json:"duration"`
}

// Context is the accumulator passed between phases.
//
// Context grows by appending only. The coordinator owns it for the duration
// of a run; phases receive it read-only through accessor methods.
//
// Thread Safety: Not safe for concurrent use. Phases run sequentially.
type Context struct {
	request   string
	chunks    []string
	taskNotes []string
	started   time.Time
	results   []Result
}

// NewContext creates a phase context for one request.
//
// Inputs:
//
//	request - The original user request text.
//	chunks - Retrieved document excerpts available to all phases.
//	taskNotes - Outputs of the executed task plan, in plan order.
func NewContext(request string, chunks []string, taskNotes []string) *Context {
	return &Context{
		request:   request,
		chunks:    chunks,
		taskNotes: taskNotes,
		started:   time.Now(),
	}
}

// Request returns the original request text.
func (c *Context) Request() string { return c.request }

// Chunks returns the retrieved document excerpts.
func (c *Context) Chunks() []string { return c.chunks }

// TaskNotes returns the executed task outputs.
func (c *Context) TaskNotes() []string { return c.taskNotes }

// Elapsed returns the time since the context was created.
func (c *Context) Elapsed() time.Duration { return time.Since(c.started) }

// Results returns the phase results recorded so far, in phase order.
func (c *Context) Results() []Result {
	out := make([]Result, len(c.results))
	copy(out, c.results)
	return out
}

// ResultFor returns the recorded result for a phase, if it has run.
func (c *Context) ResultFor(phase Name) (Result, bool) {
	for _, r := range c.results {
		if r.Phase == phase {
			return r, true
		}
	}
	return Result{}, false
}

// PriorOutputs returns the non-empty outputs of all completed phases.
func (c *Context) PriorOutputs() []string {
	out := make([]string, 0, len(c.results))
	for _, r := range c.results {
		if r.Output != "" {
			out = append(out, fmt.Sprintf("[%s] %s", r.Phase, r.Output))
		}
	}
	return out
}

// ConfidenceAverage returns the running mean over phases that reported a
// confidence above zero. Zero if none did.
func (c *Context) ConfidenceAverage() float64 {
	sum := 0.0
	n := 0
	for _, r := range c.results {
		if r.Confidence > 0 {
			sum += r.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// append records a phase result. Coordinator use only.
func (c *Context) append(r Result) {
	c.results = append(c.results, r)
}
