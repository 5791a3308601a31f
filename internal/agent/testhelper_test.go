// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package agent_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/tally-dev/tally/internal/agent"
	"github.com/tally-dev/tally/internal/dataset"
	"github.com/tally-dev/tally/internal/proposal"
	"github.com/tally-dev/tally/internal/provider"
	"github.com/tally-dev/tally/internal/store"
)

// scriptedProvider replays one scripted event list per Chat call. Once the
// script runs out, every further call replays fallback.
type scriptedProvider struct {
	mu       sync.Mutex
	rounds   [][]provider.ChatEvent
	fallback []provider.ChatEvent
	chatErr  error
	requests []provider.ChatRequest
}

func (p *scriptedProvider) Name() string                     { return "scripted" }
func (p *scriptedProvider) Available(_ context.Context) bool { return true }
func (p *scriptedProvider) Close() error                     { return nil }

func (p *scriptedProvider) Status(_ context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{Available: true, Provider: "scripted"}, nil
}

func (p *scriptedProvider) Chat(_ context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.chatErr != nil {
		return nil, p.chatErr
	}

	// Copy so later appends by the loop do not alter the recorded request.
	req.Messages = append([]provider.Message(nil), req.Messages...)
	idx := len(p.requests)
	p.requests = append(p.requests, req)

	events := p.fallback
	if idx < len(p.rounds) {
		events = p.rounds[idx]
	}
	ch := make(chan provider.ChatEvent, len(events)+1)
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) request(i int) provider.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

type staticRouter struct {
	p provider.Provider
}

func (r staticRouter) Route(_ context.Context, _ string) (provider.Provider, string, error) {
	return r.p, "test-model", nil
}

func text(s string) provider.ChatEvent {
	return provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: s}
}

func call(id, name string, args any) provider.ChatEvent {
	var raw string
	switch v := args.(type) {
	case string:
		raw = v
	default:
		b, _ := json.Marshal(v)
		raw = string(b)
	}
	return provider.ChatEvent{
		Type:     provider.EventTypeToolCall,
		ToolCall: &provider.ToolCall{ID: id, Name: name, Arguments: raw},
	}
}

func done() provider.ChatEvent {
	return provider.ChatEvent{Type: provider.EventTypeDone}
}

func round(events ...provider.ChatEvent) []provider.ChatEvent {
	return append(events, done())
}

func loadCorpus(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.Load(afero.NewOsFs(), "../../data")
	require.NoError(t, err)
	return ds
}

func newProposalStore() *proposal.Store {
	return proposal.NewStore(store.NewMemoryStore())
}

func newDispatcher(t *testing.T, proposals agent.ProposalCreator) *agent.Dispatcher {
	t.Helper()
	d, err := agent.NewDispatcher(agent.DispatcherConfig{
		Dataset:   loadCorpus(t),
		Proposals: proposals,
	})
	require.NoError(t, err)
	return d
}

func newLoop(t *testing.T, p provider.Provider, tools agent.ToolRunner, maxIter int) *agent.Loop {
	t.Helper()
	l, err := agent.NewLoop(agent.LoopConfig{
		Router:        staticRouter{p: p},
		Tools:         tools,
		MaxIterations: maxIter,
	})
	require.NoError(t, err)
	return l
}

// decodeObservation unmarshals an observation payload into a generic map.
func decodeObservation(t *testing.T, content string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(content), &m))
	return m
}
