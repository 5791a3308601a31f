// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package agent_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tally-dev/tally/internal/agent"
	"github.com/tally-dev/tally/internal/proposal"
	"github.com/tally-dev/tally/internal/provider"
)

func dispatch(t *testing.T, d *agent.Dispatcher, name string, args any) agent.Observation {
	t.Helper()
	raw, ok := args.(string)
	if !ok {
		b, err := json.Marshal(args)
		require.NoError(t, err)
		raw = string(b)
	}
	return d.Dispatch(context.Background(), provider.ToolCall{ID: "c1", Name: name, Arguments: raw})
}

func TestToolKind_RoundTrip(t *testing.T) {
	require.Len(t, agent.ToolKinds(), 6)
	for _, k := range agent.ToolKinds() {
		got, ok := agent.ParseToolKind(k.String())
		require.True(t, ok, k.String())
		assert.Equal(t, k, got)
	}
	_, ok := agent.ParseToolKind("fx_convert")
	assert.False(t, ok)

	assert.False(t, agent.ToolLoadPlan.IsProposal())
	assert.True(t, agent.ToolProposePlanChange.IsProposal())
}

func TestDefinitions(t *testing.T) {
	defs := agent.Definitions()
	require.Len(t, defs, 6)
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
		assert.NotEmpty(t, d.Description)
		assert.Equal(t, "object", d.InputSchema["type"])
	}
	assert.Equal(t, []string{
		"load_plan", "query_invoices", "convert_currency",
		"propose_recovery_invoice", "propose_credit_correction", "propose_plan_change",
	}, names)
}

func TestNewDispatcher_RequiresDependencies(t *testing.T) {
	_, err := agent.NewDispatcher(agent.DispatcherConfig{})
	assert.Error(t, err)
}

func TestDispatch_LoadPlan(t *testing.T) {
	d := newDispatcher(t, newProposalStore())

	t.Run("found with amendments", func(t *testing.T) {
		obs := dispatch(t, d, "load_plan", map[string]any{"plan_id": "C-1007"})
		require.False(t, obs.IsError, obs.Content)
		got := decodeObservation(t, obs.Content)
		assert.Equal(t, "C-1007", got["plan_id"])
		assert.Equal(t, "Globex Industries", got["customer_name"])
		assert.Equal(t, []any{"C-1007-A1"}, got["amended_by"])
	})

	t.Run("amendment names its parent", func(t *testing.T) {
		obs := dispatch(t, d, "load_plan", map[string]any{"plan_id": "C-1007-A1"})
		got := decodeObservation(t, obs.Content)
		assert.Equal(t, "C-1007", got["amends"])
	})

	t.Run("not found is a structured result", func(t *testing.T) {
		obs := dispatch(t, d, "load_plan", map[string]any{"plan_id": "C-9999"})
		assert.False(t, obs.IsError)
		got := decodeObservation(t, obs.Content)
		assert.Equal(t, "not_found", got["code"])
		assert.Contains(t, got["error"], "C-9999")
	})
}

func TestDispatch_QueryInvoices(t *testing.T) {
	d := newDispatcher(t, newProposalStore())

	tests := []struct {
		name  string
		args  map[string]any
		count int
	}{
		{name: "by plan", args: map[string]any{"plan_id": "C-1001"}, count: 9},
		{name: "customer substring any case", args: map[string]any{"customer_name": "acme"}, count: 9},
		{name: "inclusive date range", args: map[string]any{"plan_id": "C-1003", "date_from": "2024-03-01", "date_to": "2024-05-01"}, count: 3},
		{name: "no filters", args: map[string]any{}, count: 31},
		{name: "empty result", args: map[string]any{"plan_id": "C-0000"}, count: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := dispatch(t, d, "query_invoices", tt.args)
			require.False(t, obs.IsError, obs.Content)
			got := decodeObservation(t, obs.Content)
			assert.EqualValues(t, tt.count, got["count"])
			assert.Len(t, got["invoices"], tt.count)
		})
	}

	t.Run("credit memos attached on request", func(t *testing.T) {
		obs := dispatch(t, d, "query_invoices", map[string]any{"plan_id": "C-1001", "include_credit_memos": true})
		var res struct {
			Invoices []struct {
				InvoiceID   string `json:"invoice_id"`
				CreditMemos []struct {
					MemoID string `json:"memo_id"`
				} `json:"credit_memos"`
			} `json:"invoices"`
		}
		require.NoError(t, json.Unmarshal([]byte(obs.Content), &res))
		var memos []string
		for _, inv := range res.Invoices {
			for _, m := range inv.CreditMemos {
				memos = append(memos, inv.InvoiceID+":"+m.MemoID)
			}
		}
		assert.Equal(t, []string{"INV-1001-02:CM-2002"}, memos)
	})

	t.Run("bad date fails schema", func(t *testing.T) {
		obs := dispatch(t, d, "query_invoices", map[string]any{"date_from": "May 1st"})
		assert.True(t, obs.IsError)
		assert.Equal(t, "invalid_arguments", decodeObservation(t, obs.Content)["code"])
	})
}

func TestDispatch_ConvertCurrency(t *testing.T) {
	d := newDispatcher(t, newProposalStore())

	t.Run("exact date rate", func(t *testing.T) {
		obs := dispatch(t, d, "convert_currency", map[string]any{
			"amount": 12000, "from_currency": "EUR", "to_currency": "USD", "date": "2024-04-10",
		})
		require.False(t, obs.IsError, obs.Content)
		got := decodeObservation(t, obs.Content)
		assert.InDelta(t, 13032.0, got["converted_amount"], 1e-9)
		assert.InDelta(t, 1.086, got["rate"], 1e-9)
		assert.Nil(t, got["inverse"])
	})

	t.Run("same currency short-circuits", func(t *testing.T) {
		obs := dispatch(t, d, "convert_currency", map[string]any{
			"amount": 99.999, "from_currency": "usd", "to_currency": "USD", "date": "1999-01-01",
		})
		got := decodeObservation(t, obs.Content)
		assert.EqualValues(t, 1, got["rate"])
		assert.InDelta(t, 100.0, got["converted_amount"], 1e-9)
		assert.Equal(t, "USD", got["from_currency"])
	})

	t.Run("inverse pair", func(t *testing.T) {
		obs := dispatch(t, d, "convert_currency", map[string]any{
			"amount": 1273, "from_currency": "USD", "to_currency": "GBP", "date": "2024-01-01",
		})
		got := decodeObservation(t, obs.Content)
		assert.Equal(t, true, got["inverse"])
		assert.InDelta(t, 1000.0, got["converted_amount"], 1e-9)
	})

	t.Run("missing rate is not found", func(t *testing.T) {
		obs := dispatch(t, d, "convert_currency", map[string]any{
			"amount": 10, "from_currency": "EUR", "to_currency": "USD", "date": "2024-04-11",
		})
		assert.False(t, obs.IsError)
		assert.Equal(t, "not_found", decodeObservation(t, obs.Content)["code"])
	})

	t.Run("unknown currency code", func(t *testing.T) {
		obs := dispatch(t, d, "convert_currency", map[string]any{
			"amount": 10, "from_currency": "ZZQ", "to_currency": "USD", "date": "2024-04-10",
		})
		assert.True(t, obs.IsError)
		assert.Equal(t, "invalid_currency", decodeObservation(t, obs.Content)["code"])
	})
}

func TestDispatch_InvalidCalls(t *testing.T) {
	d := newDispatcher(t, newProposalStore())

	tests := []struct {
		name string
		tool string
		args string
		code string
	}{
		{name: "unknown tool", tool: "fx_convert", args: `{}`, code: "unknown_tool"},
		{name: "malformed json", tool: "load_plan", args: `{"plan_id":`, code: "invalid_arguments"},
		{name: "missing required", tool: "load_plan", args: ``, code: "invalid_arguments"},
		{name: "wrong type", tool: "convert_currency", args: `{"amount":"ten","from_currency":"EUR","to_currency":"USD","date":"2024-04-10"}`, code: "invalid_arguments"},
		{name: "negative amount", tool: "propose_credit_correction", args: `{"invoice_id":"INV-1","amount":-5,"currency":"USD","reason":"x"}`, code: "invalid_arguments"},
		{name: "empty changes", tool: "propose_plan_change", args: `{"plan_id":"C-1007","changes":{},"reason":"x"}`, code: "invalid_arguments"},
		{name: "empty reason", tool: "propose_recovery_invoice", args: `{"plan_id":"C-1001","amount":1,"currency":"USD","reason":""}`, code: "invalid_arguments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := dispatch(t, d, tt.tool, tt.args)
			require.True(t, obs.IsError, obs.Content)
			assert.Equal(t, "c1", obs.CallID)
			assert.Equal(t, tt.code, decodeObservation(t, obs.Content)["code"])
		})
	}
}

func TestDispatch_Propose(t *testing.T) {
	ps := newProposalStore()
	d := newDispatcher(t, ps)
	ctx := context.Background()

	obs := dispatch(t, d, "propose_recovery_invoice", map[string]any{
		"plan_id": "C-1001", "amount": 10000, "currency": "usd", "period": "2024-04",
		"reason": "No invoice issued for April 2024",
	})
	require.False(t, obs.IsError, obs.Content)
	got := decodeObservation(t, obs.Content)
	assert.Equal(t, "recovery_invoice", got["type"])
	assert.Equal(t, "pending", got["status"])

	p, err := ps.Get(ctx, got["proposal_id"].(string))
	require.NoError(t, err)
	ri, ok := p.Details.(proposal.RecoveryInvoice)
	require.True(t, ok)
	assert.Equal(t, "USD", ri.Currency)
	assert.Equal(t, "2024-04", ri.Period)

	obs = dispatch(t, d, "propose_credit_correction", map[string]any{
		"invoice_id": "INV-1003-06", "amount": 1500, "currency": "GBP", "reason": "Billed 6500 against 5000 monthly",
	})
	require.False(t, obs.IsError, obs.Content)

	obs = dispatch(t, d, "propose_plan_change", map[string]any{
		"plan_id": "C-1007-A1", "changes": map[string]any{"cadence": "monthly"}, "reason": "Customer request",
	})
	require.False(t, obs.IsError, obs.Content)

	all, err := ps.List(ctx, proposal.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, p := range all {
		assert.Equal(t, proposal.StatusPending, p.Status)
	}
}

// TestConvertCurrency_RoundTripProperty converts an amount and converts the
// result back on the same date; the round trip must stay within one cent.
func TestConvertCurrency_RoundTripProperty(t *testing.T) {
	d := newDispatcher(t, newProposalStore())

	convert := func(amount float64, from, to string) (float64, bool) {
		args := fmt.Sprintf(`{"amount":%v,"from_currency":%q,"to_currency":%q,"date":"2024-06-01"}`, amount, from, to)
		obs := d.Dispatch(context.Background(), provider.ToolCall{ID: "p", Name: "convert_currency", Arguments: args})
		if obs.IsError {
			return 0, false
		}
		var res struct {
			ConvertedAmount *float64 `json:"converted_amount"`
		}
		if err := json.Unmarshal([]byte(obs.Content), &res); err != nil || res.ConvertedAmount == nil {
			return 0, false
		}
		return *res.ConvertedAmount, true
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("GBP to USD and back stays within 0.01", prop.ForAll(
		func(cents int64) bool {
			amount := float64(cents) / 100
			usd, ok := convert(amount, "GBP", "USD")
			if !ok {
				return false
			}
			back, ok := convert(usd, "USD", "GBP")
			if !ok {
				return false
			}
			return math.Abs(back-amount) <= 0.01
		},
		gen.Int64Range(1, 100_000_000),
	))

	properties.TestingRun(t)
}
