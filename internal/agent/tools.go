// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tally-dev/tally/internal/dataset"
	"github.com/tally-dev/tally/internal/proposal"
	"github.com/tally-dev/tally/internal/provider"
	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

// ProposalCreator persists drafted proposals. *proposal.Store satisfies it.
type ProposalCreator interface {
	Create(ctx context.Context, details proposal.Details) (*proposal.Proposal, error)
}

// Observation is the outcome of one tool call as fed back to the model.
type Observation struct {
	CallID  string
	Tool    string
	Content string
	IsError bool
}

// Error codes carried in error observations.
const (
	obsUnknownTool      = "unknown_tool"
	obsInvalidArguments = "invalid_arguments"
	obsInvalidCurrency  = "invalid_currency"
	obsNotFound         = "not_found"
	obsInternal         = "internal_error"
)

// toolError is the structured payload of an error observation.
type toolError struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Suggestion string `json:"suggestion,omitempty"`
}

// DispatcherConfig holds dependencies for Dispatcher.
type DispatcherConfig struct {
	Dataset   *dataset.Dataset
	Proposals ProposalCreator
	Logger    *slog.Logger
}

// Dispatcher validates tool calls against their schemas and runs the typed
// handler for each kind. It never returns an error to the loop: every
// failure becomes an error observation.
type Dispatcher struct {
	data      *dataset.Dataset
	proposals ProposalCreator
	schemas   map[ToolKind]*jsonschema.Schema
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher. Returns an error if a dependency is
// missing or a schema fails to compile.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Dataset == nil {
		return nil, tallyerr.New(tallyerr.CodeAgentLoopInvalidInput, "Dataset is required")
	}
	if cfg.Proposals == nil {
		return nil, tallyerr.New(tallyerr.CodeAgentLoopInvalidInput, "Proposals is required")
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		data:      cfg.Dataset,
		proposals: cfg.Proposals,
		schemas:   schemas,
		logger:    logger,
	}, nil
}

// Definitions returns the definitions of every tool the dispatcher serves.
func (d *Dispatcher) Definitions() []provider.ToolDefinition {
	return Definitions()
}

// Dispatch runs one tool call and returns its observation.
func (d *Dispatcher) Dispatch(ctx context.Context, call provider.ToolCall) Observation {
	obs := Observation{CallID: call.ID, Tool: call.Name}

	kind, ok := ParseToolKind(call.Name)
	if !ok {
		return d.fail(obs, toolError{
			Error:      "tool " + quote(call.Name) + " does not exist",
			Code:       obsUnknownTool,
			Suggestion: "available tools: " + strings.Join(toolNameList(), ", "),
		})
	}

	args := strings.TrimSpace(call.Arguments)
	if args == "" {
		args = "{}"
	}
	if err := d.validate(kind, args); err != nil {
		return d.fail(obs, toolError{Error: err.Error(), Code: obsInvalidArguments})
	}

	result, err := d.run(ctx, kind, []byte(args))
	if err != nil {
		return d.fail(obs, observationError(err))
	}

	content, err := json.Marshal(result)
	if err != nil {
		return d.fail(obs, toolError{Error: "encoding result: " + err.Error(), Code: obsInternal})
	}
	obs.Content = string(content)
	return obs
}

func (d *Dispatcher) validate(kind ToolKind, args string) error {
	dec := json.NewDecoder(strings.NewReader(args))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return errors.New("arguments are not valid JSON: " + err.Error())
	}
	if err := d.schemas[kind].Validate(v); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return errors.New(validationMessage(ve))
		}
		return err
	}
	return nil
}

func (d *Dispatcher) run(ctx context.Context, kind ToolKind, args []byte) (any, error) {
	switch kind {
	case ToolLoadPlan:
		var in loadPlanArgs
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return d.loadPlan(in)
	case ToolQueryInvoices:
		var in queryInvoicesArgs
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return d.queryInvoices(in)
	case ToolConvertCurrency:
		var in convertCurrencyArgs
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return d.convertCurrency(in)
	case ToolProposeRecoveryInvoice:
		var in proposal.RecoveryInvoice
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return d.propose(ctx, in)
	case ToolProposeCreditCorrection:
		var in proposal.CreditCorrection
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return d.propose(ctx, in)
	case ToolProposePlanChange:
		var in proposal.PlanChange
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return d.propose(ctx, in)
	default:
		return nil, tallyerr.Errorf(tallyerr.CodeAgentToolNotFound, "no handler for %s", kind)
	}
}

func (d *Dispatcher) fail(obs Observation, te toolError) Observation {
	d.logger.Debug("tool call failed",
		slog.String("tool", obs.Tool),
		slog.String("code", te.Code),
		slog.String("error", te.Error),
	)
	content, _ := json.Marshal(te)
	obs.Content = string(content)
	obs.IsError = true
	return obs
}

// observationError classifies a handler error for the model.
func observationError(err error) toolError {
	switch {
	case tallyerr.IsNotFound(err):
		return toolError{Error: err.Error(), Code: obsNotFound}
	case tallyerr.HasCode(err, tallyerr.CodeAgentToolCurrencyInvalid):
		return toolError{Error: err.Error(), Code: obsInvalidCurrency}
	case tallyerr.IsInvalidInput(err):
		return toolError{Error: err.Error(), Code: obsInvalidArguments}
	default:
		return toolError{Error: err.Error(), Code: obsInternal}
	}
}

func decodeArgs(args []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(args))
	if err := dec.Decode(dst); err != nil {
		return tallyerr.Wrap(err, tallyerr.CodeAgentToolInvalidInput, "decoding arguments")
	}
	return nil
}

// validationMessage flattens a schema validation error into one line naming
// each failing location.
func validationMessage(ve *jsonschema.ValidationError) string {
	var parts []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			parts = append(parts, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return "arguments do not match schema: " + strings.Join(parts, "; ")
}

func toolNameList() []string {
	names := make([]string, 0, len(toolNames))
	for _, k := range ToolKinds() {
		names = append(names, k.String())
	}
	return names
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
