// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

// Package dataset provides read-only access to the billing corpus: plans,
// invoices, credit memos and exchange rates. The corpus is loaded once and
// never mutated, so a *Dataset is safe for concurrent use.
package dataset

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"

	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

// File names inside the dataset directory.
const (
	PlansFile         = "billing_plans.json"
	InvoicesFile      = "invoices.json"
	CreditMemosFile   = "credit_memos.json"
	ExchangeRatesFile = "exchange_rates.json"
)

type rateKey struct {
	date, from, to string
}

// Dataset is an immutable, indexed view of the billing corpus.
type Dataset struct {
	plans    []Plan
	invoices []Invoice
	memos    []CreditMemo
	rates    []ExchangeRate

	planByID   map[string]int
	amendedBy  map[string][]string
	memosByInv map[string][]int
	rateByKey  map[rateKey]float64
}

// Load reads the four corpus files from dir on fsys.
func Load(fsys afero.Fs, dir string) (*Dataset, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	d := &Dataset{}

	if err := readJSON(fsys, dir, PlansFile, &d.plans, v); err != nil {
		return nil, err
	}
	if err := readJSON(fsys, dir, InvoicesFile, &d.invoices, v); err != nil {
		return nil, err
	}
	if err := readJSON(fsys, dir, CreditMemosFile, &d.memos, v); err != nil {
		return nil, err
	}
	if err := readJSON(fsys, dir, ExchangeRatesFile, &d.rates, v); err != nil {
		return nil, err
	}

	if err := d.index(); err != nil {
		return nil, err
	}
	return d, nil
}

// New builds a Dataset from in-memory records, applying the same checks
// as Load.
func New(plans []Plan, invoices []Invoice, memos []CreditMemo, rates []ExchangeRate) (*Dataset, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	for _, group := range []any{plans, invoices, memos, rates} {
		if err := validateAll(v, "records", group); err != nil {
			return nil, err
		}
	}
	d := &Dataset{
		plans:    slices.Clone(plans),
		invoices: slices.Clone(invoices),
		memos:    slices.Clone(memos),
		rates:    slices.Clone(rates),
	}
	if err := d.index(); err != nil {
		return nil, err
	}
	return d, nil
}

func readJSON[T any](fsys afero.Fs, dir, name string, dst *[]T, v *validator.Validate) error {
	path := filepath.Join(dir, name)
	raw, err := afero.ReadFile(fsys, path)
	if err != nil {
		return tallyerr.Wrap(err, tallyerr.CodeDatasetLoadFailure, "reading "+path)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return tallyerr.Wrap(err, tallyerr.CodeDatasetParseInvalid, "parsing "+path)
	}
	return validateAll(v, name, *dst)
}

func validateAll(v *validator.Validate, source string, records any) error {
	switch rs := records.(type) {
	case []Plan:
		return validateSlice(v, source, rs)
	case []Invoice:
		return validateSlice(v, source, rs)
	case []CreditMemo:
		return validateSlice(v, source, rs)
	case []ExchangeRate:
		return validateSlice(v, source, rs)
	default:
		return nil
	}
}

func validateSlice[T any](v *validator.Validate, source string, records []T) error {
	for i := range records {
		if err := v.Struct(&records[i]); err != nil {
			return tallyerr.Wrapf(err, tallyerr.CodeDatasetParseInvalid, "%s: record %d", source, i)
		}
	}
	return nil
}

func (d *Dataset) index() error {
	d.planByID = make(map[string]int, len(d.plans))
	d.amendedBy = make(map[string][]string)
	for i, p := range d.plans {
		if _, dup := d.planByID[p.PlanID]; dup {
			return tallyerr.New(tallyerr.CodeDatasetParseInvalid, "duplicate plan id", tallyerr.FieldPlanID(p.PlanID))
		}
		d.planByID[p.PlanID] = i
		if p.Amends != "" {
			d.amendedBy[p.Amends] = append(d.amendedBy[p.Amends], p.PlanID)
		}
	}

	d.memosByInv = make(map[string][]int)
	for i, m := range d.memos {
		d.memosByInv[m.InvoiceID] = append(d.memosByInv[m.InvoiceID], i)
	}

	d.rateByKey = make(map[rateKey]float64, len(d.rates))
	for _, r := range d.rates {
		d.rateByKey[rateKey{r.Date, strings.ToUpper(r.FromCurrency), strings.ToUpper(r.ToCurrency)}] = r.Rate
	}
	return nil
}

// Plan returns the plan with the given id.
func (d *Dataset) Plan(id string) (Plan, bool) {
	i, ok := d.planByID[id]
	if !ok {
		return Plan{}, false
	}
	return clonePlan(d.plans[i]), true
}

// Plans returns all plans in corpus order.
func (d *Dataset) Plans() []Plan {
	out := make([]Plan, len(d.plans))
	for i, p := range d.plans {
		out[i] = clonePlan(p)
	}
	return out
}

// AmendedBy returns the ids of plans that amend id.
func (d *Dataset) AmendedBy(id string) []string {
	return slices.Clone(d.amendedBy[id])
}

// PlanIDs returns every known plan id in corpus order.
func (d *Dataset) PlanIDs() []string {
	ids := make([]string, len(d.plans))
	for i, p := range d.plans {
		ids[i] = p.PlanID
	}
	return ids
}

// Invoices returns the invoices matching f in corpus order. The result is
// never nil.
func (d *Dataset) Invoices(f InvoiceFilter) ([]Invoice, error) {
	for _, bound := range []string{f.DateFrom, f.DateTo} {
		if bound == "" {
			continue
		}
		if _, err := time.Parse(DateLayout, bound); err != nil {
			return nil, tallyerr.Errorf(tallyerr.CodeDatasetQueryInvalidInput, "date %q is not YYYY-MM-DD", bound)
		}
	}

	needle := strings.ToLower(f.CustomerName)
	out := []Invoice{}
	for _, inv := range d.invoices {
		if f.PlanID != "" && inv.PlanID != f.PlanID {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(inv.CustomerName), needle) {
			continue
		}
		// ISO dates order lexicographically.
		if f.DateFrom != "" && inv.IssueDate < f.DateFrom {
			continue
		}
		if f.DateTo != "" && inv.IssueDate > f.DateTo {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

// CreditMemosForInvoice returns the memos issued against invoiceID.
func (d *Dataset) CreditMemosForInvoice(invoiceID string) []CreditMemo {
	idx := d.memosByInv[invoiceID]
	out := make([]CreditMemo, 0, len(idx))
	for _, i := range idx {
		out = append(out, d.memos[i])
	}
	return out
}

// Rate returns the exact-date rate converting from into to.
func (d *Dataset) Rate(from, to, date string) (float64, bool) {
	r, ok := d.rateByKey[rateKey{date, strings.ToUpper(from), strings.ToUpper(to)}]
	return r, ok
}

// Counts reports how many records of each kind were loaded.
func (d *Dataset) Counts() Counts {
	return Counts{
		Plans:         len(d.plans),
		Invoices:      len(d.invoices),
		CreditMemos:   len(d.memos),
		ExchangeRates: len(d.rates),
	}
}

func clonePlan(p Plan) Plan {
	p.Entitlements = slices.Clone(p.Entitlements)
	return p
}

// String implements fmt.Stringer for log output.
func (c Counts) String() string {
	return fmt.Sprintf("%d plans, %d invoices, %d credit memos, %d exchange rates",
		c.Plans, c.Invoices, c.CreditMemos, c.ExchangeRates)
}
