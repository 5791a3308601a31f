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

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit trail",
		Long:  "List audit entries in the order they were recorded, optionally for one proposal or action.",
		RunE:  runAudit,
	}

	cmd.Flags().String("subject", "", "only entries about this proposal or action id")

	return cmd
}

func runAudit(cmd *cobra.Command, _ []string) error {
	path := "/api/v1/audit"
	if subject, _ := cmd.Flags().GetString("subject"); subject != "" {
		path += "?" + url.Values{"subject_id": {subject}}.Encode()
	}

	var body struct {
		Entries []*proposal.AuditEntry `json:"entries"`
	}
	if err := newAPIClient(serverAddress()).getJSON(cmd.Context(), path, &body); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(body.Entries) == 0 {
		_, err := fmt.Fprintln(out, "No audit entries.")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tACTION\tSUBJECT\tACTOR")
	for _, e := range body.Entries {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.Action, e.SubjectID, e.Actor)
	}
	return tw.Flush()
}
