// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tally-dev/tally/internal/proposal"
)

func newProposalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "proposals",
		Aliases: []string{"proposal"},
		Short:   "Review proposals drafted by the agent",
	}

	cmd.AddCommand(
		newProposalsListCmd(),
		newProposalsShowCmd(),
		newProposalsApplyCmd(),
		newProposalsRejectCmd(),
	)

	return cmd
}

func newProposalsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List proposals in creation order",
		RunE:  runProposalsList,
	}

	cmd.Flags().String("status", "", "filter by status (pending, applied, rejected)")
	cmd.Flags().String("type", "", "filter by type (recovery_invoice, credit_correction, plan_change)")

	return cmd
}

func runProposalsList(cmd *cobra.Command, _ []string) error {
	q := url.Values{}
	if status, _ := cmd.Flags().GetString("status"); status != "" {
		q.Set("status", status)
	}
	if typ, _ := cmd.Flags().GetString("type"); typ != "" {
		q.Set("type", typ)
	}
	path := "/api/v1/proposals"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var body struct {
		Proposals []*proposal.Proposal `json:"proposals"`
	}
	if err := newAPIClient(serverAddress()).getJSON(cmd.Context(), path, &body); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(body.Proposals) == 0 {
		_, err := fmt.Fprintln(out, "No proposals.")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tTARGET\tAMOUNT")
	for _, p := range body.Proposals {
		target, amount := summarizeDetails(p.Details)
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Type, p.Status, target, amount)
	}
	return tw.Flush()
}

func newProposalsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a proposal as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p proposal.Proposal
			if err := newAPIClient(serverAddress()).getJSON(cmd.Context(), "/api/v1/proposals/"+url.PathEscape(args[0]), &p); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), &p)
		},
	}
}

func newProposalsApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <id>",
		Short: "Approve a pending proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			by, _ := cmd.Flags().GetString("by")
			req := struct {
				ApprovedBy string `json:"approved_by,omitempty"`
			}{ApprovedBy: by}

			var a proposal.AppliedAction
			if err := newAPIClient(serverAddress()).postJSON(cmd.Context(),
				"/api/v1/proposals/"+url.PathEscape(args[0])+"/apply", req, &a); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Applied %s (%s) by %s\n", a.ID(), a.Proposal.Type, a.AppliedBy)
			return err
		},
	}
	cmd.Flags().String("by", "", "reviewer name recorded on the action")
	return cmd
}

func newProposalsRejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a pending proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			by, _ := cmd.Flags().GetString("by")
			reason, _ := cmd.Flags().GetString("reason")
			req := struct {
				RejectedBy string `json:"rejected_by,omitempty"`
				Reason     string `json:"reason,omitempty"`
			}{RejectedBy: by, Reason: reason}

			var p proposal.Proposal
			if err := newAPIClient(serverAddress()).postJSON(cmd.Context(),
				"/api/v1/proposals/"+url.PathEscape(args[0])+"/reject", req, &p); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Rejected %s by %s\n", p.ID, p.ResolvedBy)
			return err
		},
	}
	cmd.Flags().String("by", "", "reviewer name recorded on the proposal")
	cmd.Flags().String("reason", "", "why the proposal is rejected")
	return cmd
}

// summarizeDetails returns the record a proposal targets and its amount.
func summarizeDetails(d proposal.Details) (target, amount string) {
	switch d := d.(type) {
	case proposal.RecoveryInvoice:
		return d.PlanID, formatAmount(d.Amount, d.Currency)
	case proposal.CreditCorrection:
		return d.InvoiceID, formatAmount(d.Amount, d.Currency)
	case proposal.PlanChange:
		if d.Changes.TotalValue != nil {
			return d.PlanID, strconv.FormatFloat(*d.Changes.TotalValue, 'f', 2, 64)
		}
		return d.PlanID, "-"
	default:
		return "-", "-"
	}
}

func formatAmount(v float64, currency string) string {
	return strconv.FormatFloat(v, 'f', 2, 64) + " " + currency
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
