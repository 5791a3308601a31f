// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package provider_test

import (
	"context"
	"errors"

	"github.com/tally-dev/tally/internal/provider"
)

// mockProvider is a reusable provider.Provider for registry tests.
type mockProvider struct {
	name      string
	available bool
	closeErr  error
	closed    bool
}

func newMockProvider(name string, available bool) *mockProvider {
	return &mockProvider{name: name, available: available}
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Available(context.Context) bool { return m.available }

func (m *mockProvider) Chat(context.Context, provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	ch := make(chan provider.ChatEvent, 2)
	ch <- provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: "hello from " + m.name}
	ch <- provider.ChatEvent{Type: provider.EventTypeDone}
	close(ch)
	return ch, nil
}

func (m *mockProvider) Status(context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{Available: m.available, Provider: m.name}, nil
}

func (m *mockProvider) Close() error {
	m.closed = true
	return m.closeErr
}

var errCloseFailed = errors.New("close failed")
