// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package proposal

import (
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func detailsValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateDetails checks a details payload before it becomes a proposal.
func ValidateDetails(d Details) error {
	if d == nil {
		return tallyerr.New(tallyerr.CodeProposalCreateInvalidInput, "proposal details are required")
	}
	if strings.TrimSpace(d.Justification()) == "" {
		return tallyerr.New(tallyerr.CodeProposalCreateInvalidInput, "proposal reason is required",
			tallyerr.Field("type", d.ProposalType()))
	}

	if err := detailsValidator().Struct(d); err != nil {
		return tallyerr.Wrap(err, tallyerr.CodeProposalCreateInvalidInput, "invalid proposal details",
			tallyerr.Field("type", d.ProposalType()))
	}

	if pc, ok := d.(PlanChange); ok && pc.Changes.Empty() {
		return tallyerr.New(tallyerr.CodeProposalCreateInvalidInput, "plan change must modify at least one field",
			tallyerr.FieldPlanID(pc.PlanID))
	}
	return nil
}
