// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tally-dev/tally/internal/provider"
	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

// DefaultMaxIterations is the round cap used when none is configured.
const DefaultMaxIterations = 15

// ToolRunner dispatches tool calls. *Dispatcher satisfies it.
type ToolRunner interface {
	Definitions() []provider.ToolDefinition
	Dispatch(ctx context.Context, call provider.ToolCall) Observation
}

// RunObserver receives run and tool metrics.
type RunObserver interface {
	ObserveRun(outcome Outcome, rounds int, elapsed time.Duration)
	ObserveTool(tool string, isError bool, elapsed time.Duration)
}

// Step pairs a tool call with its observation.
type Step struct {
	Tool        string `json:"tool"`
	CallID      string `json:"call_id"`
	Arguments   string `json:"arguments"`
	Observation string `json:"observation"`
	IsError     bool   `json:"is_error,omitempty"`
}

// Result is the outcome of a run. On incomplete, Answer holds the last
// partial text, which may be empty.
type Result struct {
	RunID   string  `json:"run_id"`
	Answer  string  `json:"answer"`
	Outcome Outcome `json:"outcome"`
	Rounds  int     `json:"rounds"`
	Steps   []Step  `json:"steps"`
}

// LoopConfig holds dependencies for the Loop.
type LoopConfig struct {
	Router provider.Router
	Tools  ToolRunner
	// Model is a "provider/model" reference; empty uses the router default.
	Model         string
	MaxIterations int
	StreamBuffer  int
	Temperature   *float64
	MaxTokens     int
	Observer      RunObserver
	Logger        *slog.Logger
}

// Loop drives bounded reasoning rounds: call the model, dispatch the tool
// calls it requests, feed the observations back, and stop on a text-only
// reply or when the round cap is reached.
type Loop struct {
	router        provider.Router
	tools         ToolRunner
	model         string
	maxIterations int
	streamBuffer  int
	temperature   *float64
	maxTokens     int
	observer      RunObserver
	logger        *slog.Logger
}

// NewLoop creates a Loop. Returns an error if Router or Tools is missing.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.Router == nil {
		return nil, tallyerr.New(tallyerr.CodeAgentLoopInvalidInput, "Router is required")
	}
	if cfg.Tools == nil {
		return nil, tallyerr.New(tallyerr.CodeAgentLoopInvalidInput, "Tools is required")
	}

	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	buf := cfg.StreamBuffer
	if buf <= 0 {
		buf = DefaultStreamBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Loop{
		router:        cfg.Router,
		tools:         cfg.Tools,
		model:         cfg.Model,
		maxIterations: maxIter,
		streamBuffer:  buf,
		temperature:   cfg.Temperature,
		maxTokens:     cfg.MaxTokens,
		observer:      cfg.Observer,
		logger:        logger,
	}, nil
}

// MaxIterations returns the configured round cap.
func (l *Loop) MaxIterations() int { return l.maxIterations }

// Run executes a run to completion without streaming.
func (l *Loop) Run(ctx context.Context, message string) (*Result, error) {
	return l.execute(ctx, message, &emitter{})
}

// execute is the round loop shared by Run and Stream. Model and tool calls
// run on a context detached from ctx so an in-flight call always finishes;
// the emitter reports when the consumer has gone.
func (l *Loop) execute(ctx context.Context, message string, out *emitter) (*Result, error) {
	if strings.TrimSpace(message) == "" {
		return nil, tallyerr.New(tallyerr.CodeAgentLoopInvalidInput, "message is required")
	}

	res := &Result{RunID: uuid.NewString(), Outcome: OutcomeIncomplete, Steps: []Step{}}
	log := l.logger.With(slog.String("run_id", res.RunID))
	work := context.WithoutCancel(ctx)
	started := time.Now()
	defer func() { l.observeRun(res, started) }()

	state := []provider.Message{{Role: provider.MessageRoleUser, Content: message}}
	log.Info("run started", slog.Int("max_iterations", l.maxIterations))

	for round := 1; round <= l.maxIterations; round++ {
		if out.detached() {
			res.Outcome = OutcomeDetached
			return res, nil
		}
		res.Rounds = round
		rlog := log.With(slog.Int("round", round))

		reply, err := l.callModel(work, state, round, out)
		if err != nil {
			rlog.Error("model call failed", slog.Any("error", err))
			res.Outcome = OutcomeFailed
			return res, err
		}
		res.Answer = reply.text

		if len(reply.calls) == 0 {
			res.Outcome = OutcomeAnswered
			rlog.Info("run answered", slog.Int("steps", len(res.Steps)))
			out.emit(Event{Kind: EventDone, Round: round, Outcome: OutcomeAnswered})
			return res, nil
		}

		state = append(state, provider.Message{
			Role:      provider.MessageRoleAssistant,
			Content:   reply.text,
			ToolCalls: reply.calls,
		})

		for _, call := range reply.calls {
			if !out.emit(Event{Kind: EventToolCall, Tool: call.Name, CallID: call.ID, Text: call.Arguments, Round: round}) {
				res.Outcome = OutcomeDetached
				return res, nil
			}

			obs := l.dispatch(work, call, rlog)
			state = append(state, provider.Message{
				Role:       provider.MessageRoleTool,
				Content:    obs.Content,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
			res.Steps = append(res.Steps, Step{
				Tool:        call.Name,
				CallID:      call.ID,
				Arguments:   call.Arguments,
				Observation: obs.Content,
				IsError:     obs.IsError,
			})

			if !out.emit(Event{Kind: EventToolResult, Tool: call.Name, CallID: call.ID, Text: obs.Content, Round: round}) {
				res.Outcome = OutcomeDetached
				return res, nil
			}
		}
	}

	log.Warn("round cap reached", slog.Int("rounds", res.Rounds))
	out.emit(Event{Kind: EventDone, Round: res.Rounds, Outcome: OutcomeIncomplete})
	return res, nil
}

type modelReply struct {
	text  string
	calls []provider.ToolCall
}

// callModel runs one model invocation. Text deltas are forwarded as they
// arrive; whether they were reasoning or the answer is only known once the
// round ends.
func (l *Loop) callModel(ctx context.Context, state []provider.Message, round int, out *emitter) (modelReply, error) {
	prov, model, err := l.router.Route(ctx, l.model)
	if err != nil {
		return modelReply{}, tallyerr.Wrapf(err, tallyerr.CodeAgentLoopFailure, "routing model %q", l.model)
	}

	req := provider.ChatRequest{
		Model:        model,
		Messages:     state,
		Tools:        l.tools.Definitions(),
		SystemPrompt: SystemPrompt,
		Options:      provider.ChatOptions{Temperature: l.temperature, MaxTokens: l.maxTokens},
	}
	events, err := prov.Chat(ctx, req)
	if err != nil {
		return modelReply{}, tallyerr.Wrapf(err, tallyerr.CodeProviderUpstreamFailure, "chat call to %s", prov.Name())
	}

	var text strings.Builder
	var calls []provider.ToolCall
	var streamErr error

	for ev := range events {
		switch ev.Type {
		case provider.EventTypeTextDelta:
			text.WriteString(ev.Text)
			out.emit(Event{Kind: EventText, Text: ev.Text, Round: round})
		case provider.EventTypeToolCall:
			if ev.ToolCall == nil {
				continue
			}
			tc := *ev.ToolCall
			if tc.ID == "" {
				tc.ID = "call_" + uuid.NewString()
			}
			calls = append(calls, tc)
		case provider.EventTypeError:
			// Keep draining so the provider goroutine can exit.
			if streamErr == nil {
				streamErr = tallyerr.New(tallyerr.CodeProviderUpstreamFailure, ev.Error,
					tallyerr.FieldProvider(prov.Name()))
			}
		}
	}
	if streamErr != nil {
		return modelReply{}, streamErr
	}
	return modelReply{text: text.String(), calls: calls}, nil
}

func (l *Loop) dispatch(ctx context.Context, call provider.ToolCall, log *slog.Logger) Observation {
	started := time.Now()
	obs := l.tools.Dispatch(ctx, call)
	elapsed := time.Since(started)

	log.Debug("tool dispatched",
		slog.String("tool", call.Name),
		slog.String("call_id", call.ID),
		slog.Bool("error", obs.IsError),
		slog.Duration("elapsed", elapsed),
	)
	if l.observer != nil {
		l.observer.ObserveTool(call.Name, obs.IsError, elapsed)
	}
	return obs
}

func (l *Loop) observeRun(res *Result, started time.Time) {
	if l.observer != nil {
		l.observer.ObserveRun(res.Outcome, res.Rounds, time.Since(started))
	}
}
