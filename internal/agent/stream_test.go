// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package agent_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tally-dev/tally/internal/agent"
	"github.com/tally-dev/tally/internal/proposal"
	"github.com/tally-dev/tally/internal/provider"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func collect(t *testing.T, s *agent.Stream) []agent.Event {
	t.Helper()
	var events []agent.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("stream did not finish")
			return nil
		}
	}
}

func kinds(events []agent.Event) []agent.EventKind {
	out := make([]agent.EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestStream_Ordering(t *testing.T) {
	p := &scriptedProvider{rounds: [][]provider.ChatEvent{
		round(
			text("Let me "),
			text("check."),
			call("c1", "load_plan", map[string]any{"plan_id": "C-1001"}),
		),
		round(text("All "), text("good.")),
	}}
	l := newLoop(t, p, newDispatcher(t, newProposalStore()), 0)

	s := l.Stream(context.Background(), "check")
	events := collect(t, s)

	assert.Equal(t, []agent.EventKind{
		agent.EventText, agent.EventText,
		agent.EventToolCall, agent.EventToolResult,
		agent.EventText, agent.EventText,
		agent.EventDone,
	}, kinds(events))
	assert.Equal(t, 1, events[0].Round)
	assert.Equal(t, 2, events[4].Round)
	assert.Equal(t, "load_plan", events[2].Tool)
	assert.Equal(t, events[2].CallID, events[3].CallID)
	assert.Equal(t, agent.OutcomeAnswered, events[6].Outcome)

	res, err := s.Wait()
	require.NoError(t, err)
	assert.Equal(t, "All good.", res.Answer)

	frag := events[4].Fragment()
	assert.Equal(t, agent.Fragment{Type: "token", Kind: "text", Content: "All "}, frag)
	assert.Equal(t, agent.Fragment{Type: "done"}, events[6].Fragment())
}

// gatedProvider sends its first delta, then holds the model call open until
// gate is closed.
type gatedProvider struct {
	scriptedProvider
	first string
	rest  []provider.ChatEvent
	gate  chan struct{}
}

func (p *gatedProvider) Chat(_ context.Context, _ provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	ch := make(chan provider.ChatEvent)
	go func() {
		defer close(ch)
		ch <- text(p.first)
		<-p.gate
		for _, ev := range p.rest {
			ch <- ev
		}
	}()
	return ch, nil
}

func TestStream_TextIsForwardedBeforeModelCallEnds(t *testing.T) {
	p := &gatedProvider{
		first: "first answer token ",
		rest:  round(text("and the rest.")),
		gate:  make(chan struct{}),
	}
	l := newLoop(t, p, newDispatcher(t, newProposalStore()), 0)

	s := l.Stream(context.Background(), "check")
	var once sync.Once
	release := func() { once.Do(func() { close(p.gate) }) }
	t.Cleanup(release)

	select {
	case ev := <-s.Events():
		assert.Equal(t, agent.EventText, ev.Kind)
		assert.Equal(t, "first answer token ", ev.Text)
	case <-time.After(time.Second):
		t.Fatal("no fragment while the model call is still open")
	}

	release()
	rest := collect(t, s)
	assert.Equal(t, []agent.EventKind{agent.EventText, agent.EventDone}, kinds(rest))

	res, err := s.Wait()
	require.NoError(t, err)
	assert.Equal(t, agent.OutcomeAnswered, res.Outcome)
	assert.Equal(t, "first answer token and the rest.", res.Answer)
}

func TestStream_IncompleteEndsWithSingleDone(t *testing.T) {
	p := &scriptedProvider{fallback: round(call("", "load_plan", map[string]any{"plan_id": "C-1001"}))}
	l := newLoop(t, p, newDispatcher(t, newProposalStore()), 2)

	events := collect(t, l.Stream(context.Background(), "check"))
	require.Len(t, events, 5)
	last := events[len(events)-1]
	assert.Equal(t, agent.EventDone, last.Kind)
	assert.Equal(t, agent.OutcomeIncomplete, last.Outcome)
	assert.Equal(t, agent.Fragment{Type: "done"}, last.Fragment())
}

func TestStream_ErrorIsTerminal(t *testing.T) {
	p := &scriptedProvider{rounds: [][]provider.ChatEvent{
		{text("half"), provider.ErrorEvent("connection reset")},
	}}
	l := newLoop(t, p, newDispatcher(t, newProposalStore()), 0)

	s := l.Stream(context.Background(), "check")
	events := collect(t, s)
	require.Len(t, events, 2)
	assert.Equal(t, agent.EventText, events[0].Kind)
	assert.Equal(t, agent.EventError, events[1].Kind, "error is the last fragment")
	frag := events[1].Fragment()
	assert.Equal(t, "error", frag.Type)
	assert.Contains(t, frag.Message, "connection reset")

	_, err := s.Wait()
	assert.Error(t, err)
}

// blockingTools holds every dispatch until release is closed.
type blockingTools struct {
	inner    agent.ToolRunner
	started  chan struct{}
	release  chan struct{}
	finished atomic.Int32
}

func (b *blockingTools) Definitions() []provider.ToolDefinition { return b.inner.Definitions() }

func (b *blockingTools) Dispatch(ctx context.Context, call provider.ToolCall) agent.Observation {
	b.started <- struct{}{}
	<-b.release
	obs := b.inner.Dispatch(ctx, call)
	b.finished.Add(1)
	return obs
}

func TestStream_DetachLetsInFlightToolFinish(t *testing.T) {
	tests := []struct {
		name   string
		detach func(s *agent.Stream, cancel context.CancelFunc)
	}{
		{name: "close", detach: func(s *agent.Stream, _ context.CancelFunc) { s.Close() }},
		{name: "context cancel", detach: func(_ *agent.Stream, cancel context.CancelFunc) { cancel() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := newProposalStore()
			tools := &blockingTools{
				inner:   newDispatcher(t, ps),
				started: make(chan struct{}, 1),
				release: make(chan struct{}),
			}
			p := &scriptedProvider{fallback: round(call("c1", "propose_recovery_invoice", map[string]any{
				"plan_id": "C-1001", "amount": 10000, "currency": "USD", "reason": "April missing",
			}))}
			l := newLoop(t, p, tools, 0)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			s := l.Stream(ctx, "check")

			first := <-s.Events()
			require.Equal(t, agent.EventToolCall, first.Kind)
			<-tools.started

			tt.detach(s, cancel)
			close(tools.release)

			res, err := s.Wait()
			require.NoError(t, err)
			assert.Equal(t, agent.OutcomeDetached, res.Outcome)
			assert.EqualValues(t, 1, tools.finished.Load(), "in-flight tool call completes")
			assert.Equal(t, 1, p.calls(), "no model call after detach")

			all, err := ps.List(context.Background(), proposal.ListOptions{})
			require.NoError(t, err)
			assert.Len(t, all, 1, "proposal write is not torn")

			for ev := range s.Events() {
				assert.NotEqual(t, agent.EventToolResult, ev.Kind)
			}
		})
	}
}

func TestStream_BackpressureNeverDrops(t *testing.T) {
	const n = 200
	deltas := make([]provider.ChatEvent, 0, n+1)
	for range n {
		deltas = append(deltas, text("x"))
	}
	p := &scriptedProvider{rounds: [][]provider.ChatEvent{round(deltas...)}}
	l, err := agent.NewLoop(agent.LoopConfig{
		Router:       staticRouter{p: p},
		Tools:        newDispatcher(t, newProposalStore()),
		StreamBuffer: 1,
	})
	require.NoError(t, err)

	s := l.Stream(context.Background(), "check")
	var gotDeltas int
	for ev := range s.Events() {
		if ev.Kind == agent.EventText {
			gotDeltas++
		}
		time.Sleep(100 * time.Microsecond)
	}
	assert.Equal(t, n, gotDeltas)
	_, err = s.Wait()
	require.NoError(t, err)
}
