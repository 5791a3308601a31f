// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tally-dev/tally/internal/config"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the tally server",
		Long:  "Load configuration and the dataset, wire the agent and proposal store, and serve the HTTP API.",
		RunE:  runStart,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	cmd.Flags().String("dataset", "", "override dataset directory")
	_ = viper.BindPFlag("networking.listen", cmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag("dataset.dir", cmd.Flags().Lookup("dataset"))

	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.Logging, viper.GetBool("verbose"))
	slog.SetDefault(logger)

	if used := viper.ConfigFileUsed(); used != "" {
		config.WarnInsecurePermissions(used)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := Wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); cerr != nil {
			logger.Warn("closing app", "error", cerr)
		}
	}()

	if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Starting tally on %s (model %s)\n",
		cfg.Networking.Listen, cfg.Models.Default); err != nil {
		return err
	}

	return app.Start(ctx)
}

// newLogger builds the process logger from the logging section. Verbose
// forces debug level.
func newLogger(w io.Writer, lc config.LoggingConfig, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	} else {
		_ = level.UnmarshalText([]byte(lc.Level))
	}

	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
