// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package agent

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/text/currency"

	"github.com/tally-dev/tally/internal/dataset"
	"github.com/tally-dev/tally/internal/proposal"
	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

type loadPlanArgs struct {
	PlanID string `json:"plan_id"`
}

type planResult struct {
	dataset.Plan
	AmendedBy []string `json:"amended_by,omitempty"`
}

func (d *Dispatcher) loadPlan(in loadPlanArgs) (any, error) {
	plan, ok := d.data.Plan(in.PlanID)
	if !ok {
		return notFound{
			Error:      fmt.Sprintf("plan %s not found", in.PlanID),
			Code:       obsNotFound,
			Suggestion: "check the plan id; invoices without a known plan are orphans",
		}, nil
	}
	return planResult{Plan: plan, AmendedBy: d.data.AmendedBy(plan.PlanID)}, nil
}

// notFound is a successful lookup that found nothing. It is returned as a
// normal result so the model can reason about the absence.
type notFound toolError

type queryInvoicesArgs struct {
	dataset.InvoiceFilter
	IncludeCreditMemos bool `json:"include_credit_memos,omitempty"`
}

type invoiceView struct {
	dataset.Invoice
	CreditMemos []dataset.CreditMemo `json:"credit_memos,omitempty"`
}

type queryInvoicesResult struct {
	Count          int               `json:"count"`
	FiltersApplied queryInvoicesArgs `json:"filters_applied"`
	Invoices       []invoiceView     `json:"invoices"`
}

func (d *Dispatcher) queryInvoices(in queryInvoicesArgs) (any, error) {
	invoices, err := d.data.Invoices(in.InvoiceFilter)
	if err != nil {
		return nil, err
	}
	views := make([]invoiceView, 0, len(invoices))
	for _, inv := range invoices {
		v := invoiceView{Invoice: inv}
		if in.IncludeCreditMemos {
			v.CreditMemos = d.data.CreditMemosForInvoice(inv.InvoiceID)
		}
		views = append(views, v)
	}
	return queryInvoicesResult{Count: len(views), FiltersApplied: in, Invoices: views}, nil
}

type convertCurrencyArgs struct {
	Amount       float64 `json:"amount"`
	FromCurrency string  `json:"from_currency"`
	ToCurrency   string  `json:"to_currency"`
	Date         string  `json:"date"`
}

type conversionResult struct {
	OriginalAmount  float64 `json:"original_amount"`
	FromCurrency    string  `json:"from_currency"`
	ConvertedAmount float64 `json:"converted_amount"`
	ToCurrency      string  `json:"to_currency"`
	Rate            float64 `json:"rate"`
	Date            string  `json:"date"`
	// Inverse is set when only the opposite pair was published and 1/rate
	// was used.
	Inverse bool   `json:"inverse,omitempty"`
	Note    string `json:"note,omitempty"`
}

func (d *Dispatcher) convertCurrency(in convertCurrencyArgs) (any, error) {
	from, err := parseCurrency(in.FromCurrency)
	if err != nil {
		return nil, err
	}
	to, err := parseCurrency(in.ToCurrency)
	if err != nil {
		return nil, err
	}

	res := conversionResult{
		OriginalAmount: in.Amount,
		FromCurrency:   from,
		ToCurrency:     to,
		Date:           in.Date,
	}
	if from == to {
		res.Rate = 1
		res.ConvertedAmount = roundCents(in.Amount)
		res.Note = "same currency, no conversion required"
		return res, nil
	}

	rate, ok := d.data.Rate(from, to, in.Date)
	if !ok {
		inv, invOK := d.data.Rate(to, from, in.Date)
		if !invOK {
			return notFound{
				Error:      fmt.Sprintf("no exchange rate for %s to %s on %s", from, to, in.Date),
				Code:       obsNotFound,
				Suggestion: "rates are published for exact dates only; check the invoice issue date",
			}, nil
		}
		rate = 1 / inv
		res.Inverse = true
	}
	res.Rate = rate
	res.ConvertedAmount = roundCents(in.Amount * rate)
	return res, nil
}

// parseCurrency canonicalises an ISO 4217 code.
func parseCurrency(code string) (string, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", tallyerr.Errorf(tallyerr.CodeAgentToolCurrencyInvalid,
			"%q is not an ISO 4217 currency code", code)
	}
	return unit.String(), nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

type proposalResult struct {
	ProposalID string          `json:"proposal_id"`
	Type       proposal.Type   `json:"type"`
	Status     proposal.Status `json:"status"`
	Message    string          `json:"message"`
}

// propose canonicalises the currency of variants that carry one and stores
// the draft as a pending proposal.
func (d *Dispatcher) propose(ctx context.Context, details proposal.Details) (any, error) {
	details, err := canonicalCurrency(details)
	if err != nil {
		return nil, err
	}

	p, err := d.proposals.Create(ctx, details)
	if err != nil {
		return nil, err
	}
	return proposalResult{
		ProposalID: p.ID,
		Type:       p.Type,
		Status:     p.Status,
		Message:    "proposal drafted and awaiting human approval",
	}, nil
}

func canonicalCurrency(details proposal.Details) (proposal.Details, error) {
	var err error
	switch v := details.(type) {
	case proposal.RecoveryInvoice:
		v.Currency, err = parseCurrency(v.Currency)
		return v, err
	case proposal.CreditCorrection:
		v.Currency, err = parseCurrency(v.Currency)
		return v, err
	default:
		return details, nil
	}
}
