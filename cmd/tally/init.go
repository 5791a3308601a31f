// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tally-dev/tally/internal/config"
	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long:  "Write the commented default tally.yaml. Fill in a provider API key before running `tally start`.",
		RunE:  runInit,
		// init must work before any config exists.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	}

	cmd.Flags().String("path", "", "where to write the config (default ~/.config/tally/tally.yaml)")
	cmd.Flags().Bool("force", false, "overwrite an existing file")

	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("path")
	if path == "" {
		p, err := config.DefaultConfigPath()
		if err != nil {
			return tallyerr.Wrapf(err, tallyerr.CodeCLISetupFailure, "resolving config path")
		}
		path = p
	}

	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(path); err == nil && !force {
		return tallyerr.Errorf(tallyerr.CodeCLIInputInvalid, "%s already exists (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return tallyerr.Wrapf(err, tallyerr.CodeCLISetupFailure, "creating config directory")
	}
	if err := os.WriteFile(path, config.DefaultConfigYAML, 0o600); err != nil {
		return tallyerr.Wrapf(err, tallyerr.CodeCLISetupFailure, "writing config")
	}

	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", successStyle.Render("Wrote"), path)
	return err
}
