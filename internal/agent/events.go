// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package agent

// Outcome is how a run ended.
type Outcome string

const (
	// OutcomeAnswered means the model replied without tool calls.
	OutcomeAnswered Outcome = "answered"
	// OutcomeIncomplete means the round cap was reached first.
	OutcomeIncomplete Outcome = "incomplete"
	// OutcomeDetached means the stream consumer went away and the run
	// stopped after its in-flight call.
	OutcomeDetached Outcome = "detached"
	// OutcomeFailed means the run aborted with an execution error.
	OutcomeFailed Outcome = "failed"
)

// EventKind identifies a loop event.
type EventKind string

const (
	// EventText is a model text delta, emitted as it arrives. Text in a
	// round that ends with tool calls is reasoning; text in the final round
	// is the answer.
	EventText       EventKind = "text"
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
	EventDone       EventKind = "done"
	EventError      EventKind = "error"
)

// Event is one step of a run in production order.
type Event struct {
	Kind EventKind
	// Text is a model text delta, the arguments of a tool call, or the
	// observation of a tool result.
	Text    string
	Tool    string
	CallID  string
	Round   int
	Outcome Outcome
	Err     error
}

// Fragment types on the wire.
const (
	FragmentToken = "token"
	FragmentDone  = "done"
	FragmentError = "error"
)

// Fragment is the transport form of an Event.
type Fragment struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Tool    string `json:"tool,omitempty"`
	Message string `json:"message,omitempty"`
}

// Fragment converts the event to its wire form.
func (e Event) Fragment() Fragment {
	switch e.Kind {
	case EventDone:
		return Fragment{Type: FragmentDone}
	case EventError:
		msg := "run failed"
		if e.Err != nil {
			msg = e.Err.Error()
		}
		return Fragment{Type: FragmentError, Message: msg}
	default:
		return Fragment{Type: FragmentToken, Kind: string(e.Kind), Content: e.Text, Tool: e.Tool}
	}
}

// emitter forwards events until the consumer detaches, then drops the rest.
type emitter struct {
	send func(Event) bool
	gone bool
}

func (e *emitter) emit(ev Event) bool {
	if e.gone {
		return false
	}
	if e.send != nil && !e.send(ev) {
		e.gone = true
	}
	return !e.gone
}

func (e *emitter) detached() bool {
	return e.gone
}
