// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package agent

import (
	"context"
	"sync"
)

// DefaultStreamBuffer is the event channel capacity used when none is
// configured.
const DefaultStreamBuffer = 16

// Stream is a single-use, ordered view of one run. The run blocks while the
// buffer is full; it never drops events. The channel returned by Events is
// closed after the terminal done or error event, or once the consumer
// detaches.
type Stream struct {
	events   chan Event
	detach   chan struct{}
	finished chan struct{}
	once     sync.Once

	result *Result
	err    error
}

// Stream starts a run in the background and returns its event stream.
// Cancelling ctx or calling Close detaches the consumer: no further events
// are sent, and the run ends after the model or tool call in flight.
func (l *Loop) Stream(ctx context.Context, message string) *Stream {
	s := &Stream{
		events:   make(chan Event, l.streamBuffer),
		detach:   make(chan struct{}),
		finished: make(chan struct{}),
	}

	go func() {
		defer close(s.finished)
		defer close(s.events)

		out := &emitter{send: func(ev Event) bool { return s.send(ctx, ev) }}
		s.result, s.err = l.execute(ctx, message, out)
		if s.err != nil {
			out.emit(Event{Kind: EventError, Err: s.err})
		}
	}()
	return s
}

func (s *Stream) send(ctx context.Context, ev Event) bool {
	select {
	case <-s.detach:
		return false
	case <-ctx.Done():
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.detach:
		return false
	case <-ctx.Done():
		return false
	}
}

// Events returns the event channel.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Close detaches the consumer. It does not wait for the run to end; use
// Wait for that. Safe to call more than once.
func (s *Stream) Close() {
	s.once.Do(func() { close(s.detach) })
}

// Wait blocks until the run has ended and returns its result.
func (s *Stream) Wait() (*Result, error) {
	<-s.finished
	return s.result, s.err
}

// Done is closed when the run has ended.
func (s *Stream) Done() <-chan struct{} {
	return s.finished
}
