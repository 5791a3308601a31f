// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tally-dev/tally/internal/mission"
)

func newMissionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "missions",
		Short: "List predefined investigations",
		Long:  "List the built-in missions accepted by `tally chat --mission`.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := mission.Default()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tLABEL\tDEFAULT PLAN")
			for _, m := range catalog.List() {
				plan := m.DefaultPlanID
				if plan == "" {
					plan = "-"
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", m.ID, m.Label, plan)
			}
			return tw.Flush()
		},
	}
}
