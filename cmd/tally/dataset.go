// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package main

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tally-dev/tally/internal/dataset"
)

// datasetFs is the filesystem dataset commands read from. Tests replace it.
var datasetFs = afero.NewOsFs()

func newDatasetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Inspect the billing dataset",
	}

	cmd.AddCommand(newDatasetCheckCmd())

	return cmd
}

func newDatasetCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load and validate the dataset",
		Long:  "Load every dataset file, validate records and cross references, and print record counts.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = viper.GetString("dataset.dir")
			}

			data, err := dataset.Load(datasetFs, dir)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", dir, data.Counts())
			return err
		},
	}

	cmd.Flags().String("dir", "", "dataset directory (default dataset.dir)")

	return cmd
}
