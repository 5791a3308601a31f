// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tally-dev/tally/internal/config"
	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

// openRouterKeyEnv lists environment variables holding an OpenRouter key,
// in order of preference.
var openRouterKeyEnv = []string{"OPENROUTER_API_KEY", "OPEN_ROUTER"}

// NewRootCmd creates the root tally command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tally",
		Short: "Tally, a billing investigation agent",
		Long: "Tally investigates billing plans, invoices and credit memos with a tool-using model, " +
			"and drafts corrective proposals for a human to apply or reject.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initViper(cmd)
		},
	}

	// Global flags; these map to viper keys via initViper.
	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("address", "", "server address for client commands (default networking.listen)")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newInitCmd(),
		newStartCmd(),
		newStatusCmd(),
		newChatCmd(),
		newProposalsCmd(),
		newActionsCmd(),
		newAuditCmd(),
		newMissionsCmd(),
		newDatasetCmd(),
		newVersionCmd(),
	)

	return root
}

// initViper sets up the global Viper with defaults, env bindings, flag
// bindings, and optional config file so the standard precedence
// (flag > env > file > defaults) is handled uniformly.
func initViper(cmd *cobra.Command) error {
	loadDotEnv()

	v := viper.GetViper()
	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return tallyerr.Errorf(tallyerr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
	} else {
		// SetConfigType is omitted: with it, Viper also tries the bare
		// name, which collides with a ./tally binary.
		v.SetConfigName("tally")
		for _, p := range config.SearchPaths() {
			v.AddConfigPath(p)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return tallyerr.Errorf(tallyerr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
			if path := config.BootstrapConfig(); path != "" {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return tallyerr.Errorf(tallyerr.CodeConfigLoadReadFailure, "reading bootstrapped config: %w", err)
				}
			}
		}
	}

	applyOpenRouterKey(v)

	if err := v.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose")); err != nil {
		return tallyerr.Errorf(tallyerr.CodeCLISetupFailure, "binding verbose flag: %w", err)
	}
	if err := v.BindPFlag("address", cmd.Root().PersistentFlags().Lookup("address")); err != nil {
		return tallyerr.Errorf(tallyerr.CodeCLISetupFailure, "binding address flag: %w", err)
	}

	return nil
}

// loadDotEnv reads ./.env into the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("ignoring unreadable .env file", "error", err)
	}
}

// applyOpenRouterKey fills providers.openrouter.api_key from the
// environment when the config leaves it empty.
func applyOpenRouterKey(v *viper.Viper) {
	if v.GetString("providers.openrouter.api_key") != "" {
		return
	}
	for _, name := range openRouterKeyEnv {
		if key := strings.TrimSpace(os.Getenv(name)); key != "" {
			v.Set("providers.openrouter.api_key", key)
			return
		}
	}
}

// serverAddress returns the host:port client commands talk to. A wildcard
// listen host is replaced with loopback.
func serverAddress() string {
	addr := viper.GetString("address")
	if addr == "" {
		addr = viper.GetString("networking.listen")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
