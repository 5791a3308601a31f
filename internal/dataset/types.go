// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package dataset

// DateLayout is the calendar date format used throughout the corpus.
const DateLayout = "2006-01-02"

// Plan is a contracted billing plan.
type Plan struct {
	PlanID       string   `json:"plan_id" validate:"required"`
	CustomerName string   `json:"customer_name" validate:"required"`
	TotalValue   float64  `json:"total_value" validate:"gte=0"`
	Currency     string   `json:"currency" validate:"required,iso4217"`
	Cadence      string   `json:"cadence" validate:"required,oneof=monthly quarterly annual"`
	StartDate    string   `json:"start_date" validate:"required,datetime=2006-01-02"`
	Entitlements []string `json:"entitlements"`
	Notes        string   `json:"notes,omitempty"`
	// Amends names the plan this one supersedes, if any.
	Amends string `json:"amends,omitempty"`
}

// Invoice is an issued invoice. An empty PlanID marks an orphan.
type Invoice struct {
	InvoiceID      string  `json:"invoice_id" validate:"required"`
	PlanID         string  `json:"plan_id"`
	CustomerName   string  `json:"customer_name"`
	IssueDate      string  `json:"issue_date" validate:"required,datetime=2006-01-02"`
	DueDate        string  `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	AmountInvoiced float64 `json:"amount_invoiced"`
	Currency       string  `json:"currency" validate:"required,iso4217"`
	Status         string  `json:"status"`
	Description    string  `json:"description"`
}

// CreditMemo is a credit issued against an invoice.
type CreditMemo struct {
	MemoID    string  `json:"memo_id" validate:"required"`
	PlanID    string  `json:"plan_id"`
	InvoiceID string  `json:"invoice_id" validate:"required"`
	Amount    float64 `json:"amount" validate:"gte=0"`
	Currency  string  `json:"currency" validate:"required,iso4217"`
	IssueDate string  `json:"issue_date" validate:"required,datetime=2006-01-02"`
	Reason    string  `json:"reason"`
}

// ExchangeRate converts one unit of FromCurrency into ToCurrency on Date.
type ExchangeRate struct {
	Date         string  `json:"date" validate:"required,datetime=2006-01-02"`
	FromCurrency string  `json:"from_currency" validate:"required,iso4217"`
	ToCurrency   string  `json:"to_currency" validate:"required,iso4217"`
	Rate         float64 `json:"rate" validate:"gt=0"`
}

// InvoiceFilter selects invoices. Zero-valued fields do not filter.
type InvoiceFilter struct {
	PlanID string `json:"plan_id,omitempty"`
	// CustomerName matches as a case-insensitive substring.
	CustomerName string `json:"customer_name,omitempty"`
	// DateFrom and DateTo bound IssueDate inclusively.
	DateFrom string `json:"date_from,omitempty"`
	DateTo   string `json:"date_to,omitempty"`
}

// Counts summarises a loaded corpus.
type Counts struct {
	Plans         int `json:"plans"`
	Invoices      int `json:"invoices"`
	CreditMemos   int `json:"credit_memos"`
	ExchangeRates int `json:"exchange_rates"`
}
