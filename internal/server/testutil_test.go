// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/tally-dev/tally/internal/agent"
	"github.com/tally-dev/tally/internal/dataset"
	"github.com/tally-dev/tally/internal/metrics"
	"github.com/tally-dev/tally/internal/mission"
	"github.com/tally-dev/tally/internal/proposal"
	"github.com/tally-dev/tally/internal/provider"
	"github.com/tally-dev/tally/internal/server"
	"github.com/tally-dev/tally/internal/store"
)

// scriptedProvider replays one event list per Chat call, then fallback.
type scriptedProvider struct {
	mu       sync.Mutex
	rounds   [][]provider.ChatEvent
	fallback []provider.ChatEvent
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

// firstUserMessage returns the user message of the first recorded request.
func (p *scriptedProvider) firstUserMessage() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.requests[0].Messages {
		if m.Role == provider.MessageRoleUser {
			return m.Content
		}
	}
	return ""
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

func toolCall(id, name, args string) provider.ChatEvent {
	return provider.ChatEvent{
		Type:     provider.EventTypeToolCall,
		ToolCall: &provider.ToolCall{ID: id, Name: name, Arguments: args},
	}
}

func round(events ...provider.ChatEvent) []provider.ChatEvent {
	return append(events, provider.ChatEvent{Type: provider.EventTypeDone})
}

// testEnv is a server wired to real proposal, mission and agent components
// with a scripted model.
type testEnv struct {
	srv       *server.Server
	model     *scriptedProvider
	proposals *proposal.Store
	metrics   *metrics.Metrics
}

type envOption func(*server.Config)

func withChatLimit(rate float64, burst int) envOption {
	return func(c *server.Config) {
		c.ChatRate = rate
		c.ChatBurst = burst
	}
}

func newTestEnv(t *testing.T, model *scriptedProvider, opts ...envOption) *testEnv {
	t.Helper()

	ds, err := dataset.Load(afero.NewOsFs(), "../../data")
	require.NoError(t, err)

	m := metrics.New()
	proposals := proposal.NewStore(store.NewMemoryStore(), proposal.WithObserver(m))

	tools, err := agent.NewDispatcher(agent.DispatcherConfig{Dataset: ds, Proposals: proposals})
	require.NoError(t, err)

	if model == nil {
		model = &scriptedProvider{fallback: round(text("Nothing to report."))}
	}
	loop, err := agent.NewLoop(agent.LoopConfig{
		Router:        staticRouter{p: model},
		Tools:         tools,
		MaxIterations: 4,
		Observer:      m,
	})
	require.NoError(t, err)

	catalog, err := mission.Default()
	require.NoError(t, err)

	cfg := server.Config{ListenAddr: "127.0.0.1:0", Metrics: m}
	for _, opt := range opts {
		opt(&cfg)
	}
	srv, err := server.New(cfg)
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	svc, err := server.NewServices(loop, proposals, catalog)
	require.NoError(t, err)
	srv.RegisterServices(svc)

	return &testEnv{srv: srv, model: model, proposals: proposals, metrics: m}
}

// do sends a request to the server and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func mustStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	require.Equal(t, want, w.Code, "body: %s", w.Body.String())
}
