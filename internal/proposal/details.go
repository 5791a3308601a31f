// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package proposal

import (
	"encoding/json"
	"fmt"
)

// Details carries the type-specific payload of a proposal. The concrete
// types are RecoveryInvoice, CreditCorrection and PlanChange.
type Details interface {
	ProposalType() Type
	// Justification is the human-readable reason for the action.
	Justification() string
	auditFields() map[string]any
}

// RecoveryInvoice drafts an invoice for revenue that was never billed.
type RecoveryInvoice struct {
	PlanID   string  `json:"plan_id" validate:"required"`
	Amount   float64 `json:"amount" validate:"gt=0"`
	Currency string  `json:"currency" validate:"required,iso4217"`
	// Period is the billing period being recovered, such as "2024-04".
	Period string `json:"period,omitempty"`
	Reason string `json:"reason" validate:"required"`
}

func (RecoveryInvoice) ProposalType() Type      { return TypeRecoveryInvoice }
func (d RecoveryInvoice) Justification() string { return d.Reason }

func (d RecoveryInvoice) auditFields() map[string]any {
	return map[string]any{"plan_id": d.PlanID, "amount": d.Amount, "currency": d.Currency, "reason": d.Reason}
}

// CreditCorrection drafts a credit against an overbilled invoice.
type CreditCorrection struct {
	InvoiceID string  `json:"invoice_id" validate:"required"`
	Amount    float64 `json:"amount" validate:"gt=0"`
	Currency  string  `json:"currency" validate:"required,iso4217"`
	Reason    string  `json:"reason" validate:"required"`
}

func (CreditCorrection) ProposalType() Type      { return TypeCreditCorrection }
func (d CreditCorrection) Justification() string { return d.Reason }

func (d CreditCorrection) auditFields() map[string]any {
	return map[string]any{"invoice_id": d.InvoiceID, "amount": d.Amount, "currency": d.Currency, "reason": d.Reason}
}

// PlanChange drafts an update to a billing plan's terms.
type PlanChange struct {
	PlanID  string      `json:"plan_id" validate:"required"`
	Changes PlanChanges `json:"changes"`
	Reason  string      `json:"reason" validate:"required"`
}

// PlanChanges lists the plan fields to update. At least one must be set.
type PlanChanges struct {
	TotalValue   *float64 `json:"total_value,omitempty" validate:"omitempty,gt=0"`
	Cadence      string   `json:"cadence,omitempty" validate:"omitempty,oneof=monthly quarterly annual"`
	Entitlements []string `json:"entitlements,omitempty" validate:"omitempty,dive,required"`
}

// Empty reports whether no change is requested.
func (c PlanChanges) Empty() bool {
	return c.TotalValue == nil && c.Cadence == "" && len(c.Entitlements) == 0
}

func (PlanChange) ProposalType() Type      { return TypePlanChange }
func (d PlanChange) Justification() string { return d.Reason }

func (d PlanChange) auditFields() map[string]any {
	return map[string]any{"plan_id": d.PlanID, "reason": d.Reason}
}

// DecodeDetails decodes raw into the Details variant for t.
func DecodeDetails(t Type, raw []byte) (Details, error) {
	switch t {
	case TypeRecoveryInvoice:
		var d RecoveryInvoice
		err := json.Unmarshal(raw, &d)
		return d, err
	case TypeCreditCorrection:
		var d CreditCorrection
		err := json.Unmarshal(raw, &d)
		return d, err
	case TypePlanChange:
		var d PlanChange
		err := json.Unmarshal(raw, &d)
		return d, err
	default:
		return nil, fmt.Errorf("unknown proposal type %q", t)
	}
}

// UnmarshalJSON decodes the details payload according to the proposal type.
func (p *Proposal) UnmarshalJSON(data []byte) error {
	type alias Proposal
	var raw struct {
		alias
		Details json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Proposal(raw.alias)

	if len(raw.Details) == 0 || string(raw.Details) == "null" {
		p.Details = nil
		return nil
	}
	d, err := DecodeDetails(p.Type, raw.Details)
	if err != nil {
		return err
	}
	p.Details = d
	return nil
}
