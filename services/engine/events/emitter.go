// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_stream_events_total",
		Help: "Stream events emitted by type",
	}, []string{"type"})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_stream_events_dropped_total",
		Help: "Events dropped after the stream closed or the terminal event",
	})
)

// DefaultBufferSize is the emitter channel capacity. Sized so a full
// pipeline (steps, phases, terminal) rarely blocks on a slow consumer.
const DefaultBufferSize = 64

// Emitter produces a single-consumer, forward-only event stream.
//
// Description:
//
//	Events are delivered in emission order over a buffered channel. After
//	a terminal event (FINAL_RESULT or ERROR) the stream closes and every
//	further emission is dropped, enforcing the one-terminal invariant at
//	the source. Close abandons the stream when the consumer goes away; a
//	producer blocked on a full buffer unblocks and its event is dropped.
//	The emitter also keeps an in-memory log of accepted events for
//	post-hoc inspection.
//
// Thread Safety: Safe for concurrent producers. The channel side is
// single-consumer.
type Emitter struct {
	ch   chan Event
	done chan struct{}

	// mu guards admission state and the log.
	mu       sync.Mutex
	closed   bool
	terminal bool
	log      []Event

	// sendMu serializes channel sends with the channel close.
	sendMu   sync.Mutex
	chClosed bool
}

// NewEmitter creates an emitter with the given channel capacity.
// Capacity below 1 falls back to DefaultBufferSize.
func NewEmitter(capacity int) *Emitter {
	if capacity < 1 {
		capacity = DefaultBufferSize
	}
	return &Emitter{
		ch:   make(chan Event, capacity),
		done: make(chan struct{}),
		log:  make([]Event, 0, capacity),
	}
}

// Events returns the consumer side of the stream. The channel closes after
// the terminal event or Close.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Emit appends an event to the stream.
//
// Description:
//
//	Blocks until buffer space is available or the stream is closed.
//	Emissions after the terminal event or Close are dropped. A terminal
//	event closes the stream behind itself.
//
// Outputs:
//
//	bool - False if the event was dropped.
//
// Thread Safety: Safe for concurrent use.
func (e *Emitter) Emit(eventType Type, data any) bool {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	e.mu.Lock()
	if e.closed || e.terminal {
		e.mu.Unlock()
		eventsDropped.Inc()
		return false
	}
	isTerminal := eventType.Terminal()
	if isTerminal {
		e.terminal = true
	}
	e.log = append(e.log, event)
	e.mu.Unlock()

	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	if e.chClosed {
		eventsDropped.Inc()
		return false
	}

	select {
	case e.ch <- event:
	case <-e.done:
		eventsDropped.Inc()
		return false
	}

	if isTerminal {
		e.chClosed = true
		close(e.ch)
	}

	eventsEmitted.WithLabelValues(string(eventType)).Inc()
	return true
}

// Close ends the stream without a terminal event, releasing any blocked
// producer. Used when the consumer goes away before the pipeline finishes.
//
// Thread Safety: Safe for concurrent use; idempotent.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	close(e.done)

	e.sendMu.Lock()
	if !e.chClosed {
		e.chClosed = true
		close(e.ch)
	}
	e.sendMu.Unlock()
}

// Log returns a copy of all accepted events in order.
//
// Thread Safety: Safe for concurrent use.
func (e *Emitter) Log() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Event, len(e.log))
	copy(out, e.log)
	return out
}
