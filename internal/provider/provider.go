// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

// Package provider defines the streaming language-model interface the agent
// loop talks to, and a registry that routes "provider/model" references to
// concrete adapters.
package provider

import (
	"context"
	"encoding/json"
)

// Provider is the core interface for LLM providers.
type Provider interface {
	Name() string
	Available(ctx context.Context) bool
	// Chat starts a streaming completion. The returned channel is closed
	// after a done or error event.
	Chat(ctx context.Context, req ChatRequest) (<-chan ChatEvent, error)
	Status(ctx context.Context) (ProviderStatus, error)
	Close() error
}

// ChatRequest represents a request to the LLM.
type ChatRequest struct {
	Model        string
	Messages     []Message
	Tools        []ToolDefinition
	SystemPrompt string
	Options      ChatOptions
}

// ChatOptions contains model configuration.
type ChatOptions struct {
	// Temperature is left to the provider default when nil.
	Temperature *float64
	MaxTokens   int
}

// Message represents a conversation message. Assistant messages may carry
// the tool calls the model issued; tool messages carry the observation for
// the call named by ToolCallID.
type Message struct {
	Role       MessageRole
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
}

// MessageRole defines the role of a message sender.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
	MessageRoleTool      MessageRole = "tool"
)

// ToolDefinition describes a tool available to the agent.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ChatEvent is a streaming response event.
type ChatEvent struct {
	Type     EventType
	Text     string
	ToolCall *ToolCall
	Usage    *Usage
	Error    string
}

// EventType defines the type of chat event.
type EventType string

const (
	EventTypeTextDelta EventType = "text_delta"
	EventTypeToolCall  EventType = "tool_call"
	EventTypeUsage     EventType = "usage"
	EventTypeDone      EventType = "done"
	EventTypeError     EventType = "error"
)

// ToolCall represents a tool invocation by the LLM.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ProviderStatus indicates provider health.
type ProviderStatus struct {
	Available bool   `json:"available"`
	Provider  string `json:"provider"`
	Message   string `json:"message,omitempty"`
}

// ErrorEvent builds a terminal error event.
func ErrorEvent(msg string) ChatEvent {
	return ChatEvent{Type: EventTypeError, Error: msg}
}

// ReplayArguments returns a JSON object to send back as the arguments of a
// tool call from an earlier turn. Model output is replayed as-is when it is
// an object; anything else is kept under "invalid_arguments" so the model
// can see what it sent next to the error observation.
func ReplayArguments(args string) json.RawMessage {
	if args == "" {
		return json.RawMessage("{}")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(args), &obj); err == nil && obj != nil {
		return json.RawMessage(args)
	}
	wrapped, _ := json.Marshal(map[string]string{"invalid_arguments": args})
	return wrapped
}
