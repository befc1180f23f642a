// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package events defines the typed stream events a request emits and the
// single-consumer emitter that orders them.
//
// A stream is forward-only and append-only. It carries exactly one terminal
// event: FINAL_RESULT on success or ERROR on unrecoverable failure, never
// both.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type discriminates stream events.
type Type string

const (
	// TypeProgress reports coarse pipeline progress.
	TypeProgress Type = "PROGRESS"

	// TypeStepStarted marks a pipeline step or task beginning.
	TypeStepStarted Type = "STEP_STARTED"

	// TypeStepCompleted marks a pipeline step or task reaching a terminal state.
	TypeStepCompleted Type = "STEP_COMPLETED"

	// TypePhaseCompleted marks one reasoning phase recorded.
	TypePhaseCompleted Type = "PHASE_COMPLETED"

	// TypeFinalResult carries the answer. Terminal.
	TypeFinalResult Type = "FINAL_RESULT"

	// TypeError carries the unrecoverable failure. Terminal.
	TypeError Type = "ERROR"
)

// Terminal reports whether the type ends a stream.
func (t Type) Terminal() bool {
	return t == TypeFinalResult || t == TypeError
}

// Event is one entry in a request's stream.
type Event struct {
	// Type discriminates the Data payload.
	Type Type `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"timestamp"`

	// Data is the type-specific payload.
	Data any `json:"data"`
}

// NDJSON renders the event as one newline-terminated JSON line.
func (e Event) NDJSON() ([]byte, error) {
	line, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.Type, err)
	}
	return append(line, '\n'), nil
}

// ProgressData is the payload of PROGRESS events.
type ProgressData struct {
	// Percent is coarse completion in [0,100].
	Percent int `json:"percent"`

	// Stage names the pipeline stage in flight.
	Stage string `json:"stage"`
}

// StepData is the payload of STEP_STARTED and STEP_COMPLETED events.
type StepData struct {
	// Step names the pipeline step (classify_intent, execute_tasks, ...)
	// or carries the task ID prefix for task-level steps.
	Step string `json:"step"`

	// TaskID identifies the task for task-level steps.
	TaskID string `json:"task_id,omitempty"`

	// Domain is the task's worker domain, if any.
	Domain string `json:"domain,omitempty"`

	// Status is the terminal task status on STEP_COMPLETED.
	Status string `json:"status,omitempty"`

	// DurationMS is the step wall time on STEP_COMPLETED.
	DurationMS int64 `json:"duration_ms,omitempty"`
}

// PhaseData is the payload of PHASE_COMPLETED events.
type PhaseData struct {
	Phase      string  `json:"phase"`
	Status     string  `json:"status"`
	Confidence float64 `json:"confidence"`
	DurationMS int64   `json:"duration_ms"`

	// Summary is a truncated preview of the phase output.
	Summary string `json:"summary,omitempty"`
}

// FinalResultData is the payload of the FINAL_RESULT event.
type FinalResultData struct {
	Answer     string   `json:"answer"`
	Confidence float64  `json:"confidence"`
	Intent     string   `json:"intent"`
	Budget     int      `json:"budget"`
	Sources    []string `json:"sources,omitempty"`
	DurationMS int64    `json:"duration_ms"`
}

// ErrorData is the payload of the ERROR event.
type ErrorData struct {
	// Error is the user-safe message.
	Error string `json:"error"`

	// Code is a stable machine-readable identifier.
	Code string `json:"code"`

	// Recoverable hints whether retrying the request can help.
	Recoverable bool `json:"recoverable"`
}
