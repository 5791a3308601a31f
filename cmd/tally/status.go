// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		Long:  "Check the running server's health endpoint.",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr := serverAddress()
	out := cmd.OutOrStdout()

	var body struct {
		Status string `json:"status"`
	}
	if err := newAPIClient(addr).getJSON(cmd.Context(), "/health", &body); err != nil {
		if tallyerr.HasCode(err, tallyerr.CodeCLIGatewayNotRunning) {
			_, _ = fmt.Fprintf(out, "Server at %s is not running (connection refused)\n", addr)
			return nil
		}
		_, _ = fmt.Fprintf(out, "Server at %s: %s\n", addr, err)
		return nil
	}

	_, _ = fmt.Fprintf(out, "Server at %s: %s\n", addr, body.Status)
	return nil
}
