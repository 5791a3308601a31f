// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package agent

// ToolKind enumerates the tools the investigation loop can call. Wire names
// are only used when talking to a model.
type ToolKind int

const (
	ToolLoadPlan ToolKind = iota + 1
	ToolQueryInvoices
	ToolConvertCurrency
	ToolProposeRecoveryInvoice
	ToolProposeCreditCorrection
	ToolProposePlanChange
)

var toolNames = map[ToolKind]string{
	ToolLoadPlan:                "load_plan",
	ToolQueryInvoices:           "query_invoices",
	ToolConvertCurrency:         "convert_currency",
	ToolProposeRecoveryInvoice:  "propose_recovery_invoice",
	ToolProposeCreditCorrection: "propose_credit_correction",
	ToolProposePlanChange:       "propose_plan_change",
}

// ToolKinds returns every kind in declaration order.
func ToolKinds() []ToolKind {
	return []ToolKind{
		ToolLoadPlan,
		ToolQueryInvoices,
		ToolConvertCurrency,
		ToolProposeRecoveryInvoice,
		ToolProposeCreditCorrection,
		ToolProposePlanChange,
	}
}

// String returns the wire name of the tool.
func (k ToolKind) String() string {
	if name, ok := toolNames[k]; ok {
		return name
	}
	return "unknown"
}

// IsProposal reports whether the tool drafts a proposal rather than reading
// the dataset.
func (k ToolKind) IsProposal() bool {
	return k >= ToolProposeRecoveryInvoice && k <= ToolProposePlanChange
}

// ParseToolKind maps a wire name back to its kind.
func ParseToolKind(name string) (ToolKind, bool) {
	for k, n := range toolNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}
