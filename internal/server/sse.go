// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/tally-dev/tally/internal/agent"
	"github.com/tally-dev/tally/internal/mission"
	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

// ChatRequest is the body of both chat endpoints. At least one of Message
// and Mission is required; with a mission, Message adds instructions.
type ChatRequest struct {
	Message string           `json:"message,omitempty" doc:"Investigation request in plain language"`
	Mission *mission.Request `json:"mission,omitempty" doc:"Predefined investigation to run"`
}

// ChatStep is one tool call of an aggregate chat response.
type ChatStep struct {
	Tool        string `json:"tool" doc:"Tool name"`
	Observation string `json:"observation" doc:"Raw tool observation"`
}

// ChatResult is the aggregate chat response.
type ChatResult struct {
	RunID   string        `json:"run_id"`
	Answer  string        `json:"answer" doc:"Final answer, or the last partial text when incomplete"`
	Outcome agent.Outcome `json:"outcome" enum:"answered,incomplete,detached,failed"`
	Rounds  int           `json:"rounds"`
	Steps   []ChatStep    `json:"steps"`
}

type chatInput struct {
	Body ChatRequest
}

type chatOutput struct {
	Body ChatResult
}

func (s *Server) registerChatRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "chat",
		Method:      http.MethodPost,
		Path:        "/api/v1/chat",
		Summary:     "Run an investigation and return the final answer",
		Tags:        []string{"chat"},
	}, s.handleChat)

	s.router.Post("/api/v1/chat/stream", s.handleChatStream)

	// The streaming handler needs raw http.ResponseWriter access, so it is
	// served by chi and only documented here.
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "chat-stream",
		Method:      http.MethodPost,
		Path:        "/api/v1/chat/stream",
		Summary:     "Stream an investigation as fragments",
		Description: "Set Accept: text/event-stream for SSE (event: <type>, data: <fragment>); otherwise the response is a JSON array of fragments.",
		Tags:        []string{"chat"},
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"application/json": {
					Schema: &huma.Schema{
						Type: "object",
						Properties: map[string]*huma.Schema{
							"message": {Type: "string", Description: "Investigation request in plain language"},
							"mission": {Type: "object", Description: "Predefined investigation to run"},
						},
					},
				},
			},
		},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Fragment stream (SSE or JSON depending on Accept header)",
				Content: map[string]*huma.MediaType{
					"text/event-stream": {Schema: &huma.Schema{Type: "string", Description: "Server-sent event stream"}},
					"application/json": {Schema: &huma.Schema{
						Type:  "array",
						Items: &huma.Schema{Type: "object"},
					}},
				},
			},
			"400": {Description: "Neither message nor a valid mission given"},
			"429": {Description: "Chat rate limit exceeded"},
		},
	})
}

// resolveMessage turns a chat request into the run's user message.
func (s *Server) resolveMessage(req ChatRequest) (string, error) {
	if req.Mission != nil {
		return s.services.Missions().Render(*req.Mission, req.Message)
	}
	if strings.TrimSpace(req.Message) == "" {
		return "", tallyerr.New(tallyerr.CodeServerRequestInvalid, "message or mission is required")
	}
	return req.Message, nil
}

func (s *Server) handleChat(ctx context.Context, input *chatInput) (*chatOutput, error) {
	if err := s.checkChatLimit(ctx, "chat"); err != nil {
		return nil, err
	}
	msg, err := s.resolveMessage(input.Body)
	if err != nil {
		return nil, s.apiError("chat", err)
	}

	res, err := s.services.Agent().Run(ctx, msg)
	if err != nil {
		return nil, s.apiError("chat", err)
	}

	out := &chatOutput{Body: ChatResult{
		RunID:   res.RunID,
		Answer:  res.Answer,
		Outcome: res.Outcome,
		Rounds:  res.Rounds,
		Steps:   make([]ChatStep, 0, len(res.Steps)),
	}}
	for _, step := range res.Steps {
		out.Body.Steps = append(out.Body.Steps, ChatStep{Tool: step.Tool, Observation: step.Observation})
	}
	return out, nil
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, huma.NewError(http.StatusBadRequest, "invalid request body"))
		return
	}
	if err := s.checkChatLimit(r.Context(), "chat-stream"); err != nil {
		writeProblem(w, err)
		return
	}
	msg, err := s.resolveMessage(req)
	if err != nil {
		writeProblem(w, s.apiError("chat-stream", err))
		return
	}

	stream := s.services.Agent().Stream(r.Context(), msg)
	defer stream.Close()

	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.writeSSE(w, stream)
		return
	}
	s.writeFragments(w, stream)
}

func (s *Server) writeSSE(w http.ResponseWriter, stream *agent.Stream) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// httptest.ResponseRecorder does not flush; events are still written.
	flusher, _ := w.(http.Flusher)

	for ev := range stream.Events() {
		frag := ev.Fragment()
		data, err := json.Marshal(frag)
		if err != nil {
			s.logger.Error("encoding fragment", "error", err)
			return
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frag.Type, data); err != nil {
			s.logger.Debug("client went away mid-stream", "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) writeFragments(w http.ResponseWriter, stream *agent.Stream) {
	frags := make([]agent.Fragment, 0, 16)
	for ev := range stream.Events() {
		frags = append(frags, ev.Fragment())
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(frags); err != nil {
		s.logger.Debug("writing fragments", "error", err)
	}
}

// writeProblem writes a huma status error outside a huma handler.
func writeProblem(w http.ResponseWriter, err error) {
	var se huma.StatusError
	if !errors.As(err, &se) {
		se = huma.NewError(http.StatusInternalServerError, err.Error())
	}
	var he huma.HeadersError
	if errors.As(err, &he) {
		for k, vs := range he.GetHeaders() {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(se.GetStatus())
	_ = json.NewEncoder(w).Encode(se)
}
