// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package main

import (
	"fmt"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tally-dev/tally/internal/proposal"
)

func newActionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "actions",
		Aliases: []string{"action"},
		Short:   "Inspect applied actions and record rollbacks",
	}

	cmd.AddCommand(
		newActionsListCmd(),
		newActionsRollbackCmd(),
	)

	return cmd
}

func newActionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List applied actions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var body struct {
				Actions []*proposal.AppliedAction `json:"actions"`
			}
			if err := newAPIClient(serverAddress()).getJSON(cmd.Context(), "/api/v1/actions", &body); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(body.Actions) == 0 {
				_, err := fmt.Fprintln(out, "No applied actions.")
				return err
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tTYPE\tAPPLIED BY\tAPPLIED AT\tROLLED BACK")
			for _, a := range body.Actions {
				rolledBack := "-"
				if a.RolledBack() {
					rolledBack = a.Rollback.At.Format(time.RFC3339) + " by " + a.Rollback.By
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					a.ID(), a.Proposal.Type, a.AppliedBy, a.AppliedAt.Format(time.RFC3339), rolledBack)
			}
			return tw.Flush()
		},
	}
}

func newActionsRollbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback <id>",
		Short: "Record that an applied action was reversed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			by, _ := cmd.Flags().GetString("by")
			reason, _ := cmd.Flags().GetString("reason")
			req := struct {
				Reason string `json:"reason,omitempty"`
				Actor  string `json:"actor,omitempty"`
			}{Reason: reason, Actor: by}

			var a proposal.AppliedAction
			if err := newAPIClient(serverAddress()).postJSON(cmd.Context(),
				"/api/v1/actions/"+url.PathEscape(args[0])+"/rollback", req, &a); err != nil {
				return err
			}
			if a.Rollback == nil {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %s\n", a.ID())
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %s by %s: %s\n", a.ID(), a.Rollback.By, a.Rollback.Reason)
			return err
		},
	}
	cmd.Flags().String("by", "", "who performs the rollback")
	cmd.Flags().String("reason", "", "why the action is rolled back")
	return cmd
}
