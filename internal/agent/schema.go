// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package agent

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tally-dev/tally/internal/provider"
	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

type toolSpec struct {
	description string
	schema      map[string]any
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func date(desc string) map[string]any {
	return map[string]any{"type": "string", "format": "date", "description": desc}
}

func currencyCode(desc string) map[string]any {
	return map[string]any{"type": "string", "pattern": "^[A-Za-z]{3}$", "description": desc}
}

func positiveAmount(desc string) map[string]any {
	return map[string]any{"type": "number", "exclusiveMinimum": 0, "description": desc}
}

func object(props map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var toolSpecs = map[ToolKind]toolSpec{
	ToolLoadPlan: {
		description: "Load a billing plan by id: contract value, currency, cadence, start date, entitlements, notes, and amendment links.",
		schema: object(map[string]any{
			"plan_id": str("Billing plan id, for example C-1001 or C-1007-A1"),
		}, "plan_id"),
	},
	ToolQueryInvoices: {
		description: "List invoices filtered by plan id, customer name and issue date range. Every filter is optional; an empty result is valid.",
		schema: object(map[string]any{
			"plan_id":              str("Only invoices billed against this plan id"),
			"customer_name":        str("Case-insensitive substring of the customer name"),
			"date_from":            date("Earliest issue date, inclusive (YYYY-MM-DD)"),
			"date_to":              date("Latest issue date, inclusive (YYYY-MM-DD)"),
			"include_credit_memos": map[string]any{"type": "boolean", "description": "Attach credit memos issued against each invoice"},
		}),
	},
	ToolConvertCurrency: {
		description: "Convert an amount between currencies with the rate published for an exact date. Use the invoice issue date.",
		schema: object(map[string]any{
			"amount":        map[string]any{"type": "number", "description": "Amount to convert"},
			"from_currency": currencyCode("Source ISO 4217 code, for example EUR"),
			"to_currency":   currencyCode("Target ISO 4217 code, for example USD"),
			"date":          date("Rate date (YYYY-MM-DD)"),
		}, "amount", "from_currency", "to_currency", "date"),
	},
	ToolProposeRecoveryInvoice: {
		description: "Draft an invoice that recovers missing or underbilled revenue. Creates a pending proposal for human approval; nothing is billed.",
		schema: object(map[string]any{
			"plan_id":  str("Plan the recovery invoice bills against"),
			"amount":   positiveAmount("Amount to invoice"),
			"currency": currencyCode("ISO 4217 currency code"),
			"period":   str("Billing period being recovered, for example 2024-04"),
			"reason":   map[string]any{"type": "string", "minLength": 1, "description": "Evidence: what was missing and how the amount was calculated"},
		}, "plan_id", "amount", "currency", "reason"),
	},
	ToolProposeCreditCorrection: {
		description: "Draft a credit against an invoice that charged too much. Creates a pending proposal for human approval; nothing is credited.",
		schema: object(map[string]any{
			"invoice_id": str("Invoice being corrected"),
			"amount":     positiveAmount("Credit amount"),
			"currency":   currencyCode("ISO 4217 currency code"),
			"reason":     map[string]any{"type": "string", "minLength": 1, "description": "Evidence: what was overbilled and how the credit was calculated"},
		}, "invoice_id", "amount", "currency", "reason"),
	},
	ToolProposePlanChange: {
		description: "Draft an amendment to a billing plan. Creates a pending proposal for human approval; the plan is not changed.",
		schema: object(map[string]any{
			"plan_id": str("Plan to amend"),
			"changes": map[string]any{
				"type":          "object",
				"minProperties": 1,
				"description":   "Fields to change; at least one",
				"properties": map[string]any{
					"total_value":  positiveAmount("New total contract value"),
					"cadence":      map[string]any{"type": "string", "enum": []string{"monthly", "quarterly", "annual"}},
					"entitlements": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
			"reason": map[string]any{"type": "string", "minLength": 1, "description": "Evidence: why the amendment is needed"},
		}, "plan_id", "changes", "reason"),
	},
}

// compileSchemas compiles every tool's input schema as JSON Schema 2020-12.
func compileSchemas() (map[ToolKind]*jsonschema.Schema, error) {
	compiled := make(map[ToolKind]*jsonschema.Schema, len(toolSpecs))
	for _, kind := range ToolKinds() {
		raw, err := json.Marshal(toolSpecs[kind].schema)
		if err != nil {
			return nil, tallyerr.Wrapf(err, tallyerr.CodeAgentToolSchemaFailure, "encoding schema for %s", kind)
		}

		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		c.AssertFormat = true
		url := fmt.Sprintf("https://tally.local/tools/%s.schema.json", kind)
		if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
			return nil, tallyerr.Wrapf(err, tallyerr.CodeAgentToolSchemaFailure, "loading schema for %s", kind)
		}
		s, err := c.Compile(url)
		if err != nil {
			return nil, tallyerr.Wrapf(err, tallyerr.CodeAgentToolSchemaFailure, "compiling schema for %s", kind)
		}
		compiled[kind] = s
	}
	return compiled, nil
}

// Definitions returns the tool definitions sent to the model, in kind order.
func Definitions() []provider.ToolDefinition {
	defs := make([]provider.ToolDefinition, 0, len(toolSpecs))
	for _, kind := range ToolKinds() {
		spec := toolSpecs[kind]
		defs = append(defs, provider.ToolDefinition{
			Name:        kind.String(),
			Description: spec.description,
			InputSchema: spec.schema,
		})
	}
	return defs
}
