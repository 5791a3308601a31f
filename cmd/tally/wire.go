// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/tally-dev/tally/internal/agent"
	"github.com/tally-dev/tally/internal/config"
	"github.com/tally-dev/tally/internal/dataset"
	"github.com/tally-dev/tally/internal/metrics"
	"github.com/tally-dev/tally/internal/mission"
	"github.com/tally-dev/tally/internal/proposal"
	"github.com/tally-dev/tally/internal/provider"
	anthropicprov "github.com/tally-dev/tally/internal/provider/anthropic"
	googleprov "github.com/tally-dev/tally/internal/provider/google"
	openaiprov "github.com/tally-dev/tally/internal/provider/openai"
	"github.com/tally-dev/tally/internal/server"
	"github.com/tally-dev/tally/internal/store"
	_ "github.com/tally-dev/tally/internal/store/badger" // register badger backend
	_ "github.com/tally-dev/tally/internal/store/sqlite" // register sqlite backend
	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

// App holds all wired subsystems and manages their lifecycle.
type App struct {
	Server    *server.Server
	Records   store.RecordStore
	Proposals *proposal.Store
	Providers *provider.Registry
	Loop      *agent.Loop
	Dataset   *dataset.Dataset
	Metrics   *metrics.Metrics
}

// wireOptions carries dependencies tests replace.
type wireOptions struct {
	fs     afero.Fs
	logger *slog.Logger
}

// Wire creates all subsystems and wires them together.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	return wire(ctx, cfg, wireOptions{fs: afero.NewOsFs(), logger: logger})
}

func wire(_ context.Context, cfg *config.Config, opts wireOptions) (_ *App, err error) {
	logger := opts.logger
	if logger == nil {
		logger = slog.Default()
	}

	app := &App{}
	// Release whatever was opened if a later step fails.
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	// 1. Dataset. Loaded first so a bad corpus fails before anything is opened.
	data, err := dataset.Load(opts.fs, cfg.Dataset.Dir)
	if err != nil {
		return nil, tallyerr.Wrapf(err, tallyerr.CodeCLISetupFailure, "loading dataset from %s", cfg.Dataset.Dir)
	}
	app.Dataset = data
	logger.Info("dataset loaded", "dir", cfg.Dataset.Dir, "counts", data.Counts().String())

	// 2. Record store for proposals, actions and the audit trail.
	records, err := store.Open(&store.StorageConfig{Backend: cfg.Storage.Backend, Path: cfg.Storage.Path})
	if err != nil {
		return nil, tallyerr.Wrapf(err, tallyerr.CodeCLISetupFailure, "opening %s store", cfg.Storage.Backend)
	}
	app.Records = records

	// 3. Metrics and the proposal lifecycle.
	app.Metrics = metrics.New()
	app.Proposals = proposal.NewStore(records,
		proposal.WithObserver(app.Metrics),
		proposal.WithLogger(logger.With("component", "proposal")),
	)

	// 4. Provider registry: register built-in providers and wire routing.
	app.Providers = provider.NewRegistry()
	registerBuiltinProviders(cfg, app.Providers, logger)

	if err := app.Providers.SetDefault(cfg.Models.Default); err != nil {
		return nil, tallyerr.Wrapf(err, tallyerr.CodeCLISetupFailure, "setting default model: %s", cfg.Models.Default)
	}
	if len(cfg.Models.Failover) > 0 {
		if err := app.Providers.SetFailover(cfg.Models.Failover); err != nil {
			return nil, tallyerr.Wrapf(err, tallyerr.CodeCLISetupFailure, "setting failover chain")
		}
	}

	// 5. Tools and the agent loop.
	tools, err := agent.NewDispatcher(agent.DispatcherConfig{
		Dataset:   data,
		Proposals: app.Proposals,
		Logger:    logger.With("component", "tools"),
	})
	if err != nil {
		return nil, tallyerr.Wrapf(err, tallyerr.CodeCLISetupFailure, "creating tool dispatcher")
	}

	temperature := cfg.Models.Temperature
	app.Loop, err = agent.NewLoop(agent.LoopConfig{
		Router:        app.Providers,
		Tools:         tools,
		Model:         cfg.Models.Default,
		MaxIterations: cfg.Agent.MaxIterations,
		StreamBuffer:  cfg.Agent.StreamBuffer,
		Temperature:   &temperature,
		MaxTokens:     cfg.Models.MaxTokens,
		Observer:      app.Metrics,
		Logger:        logger.With("component", "agent"),
	})
	if err != nil {
		return nil, tallyerr.Wrapf(err, tallyerr.CodeCLISetupFailure, "creating agent loop")
	}

	missions, err := mission.Default()
	if err != nil {
		return nil, tallyerr.Wrapf(err, tallyerr.CodeCLISetupFailure, "loading missions")
	}

	// 6. HTTP server.
	services, err := server.NewServices(app.Loop, app.Proposals, missions)
	if err != nil {
		return nil, tallyerr.Wrapf(err, tallyerr.CodeCLISetupFailure, "creating services")
	}

	app.Server, err = server.New(server.Config{
		ListenAddr:  cfg.Networking.Listen,
		CORSOrigins: cfg.Networking.CORSOrigins,
		ChatRate:    cfg.Networking.ChatRate,
		ChatBurst:   cfg.Networking.ChatBurst,
		Metrics:     app.Metrics,
		Logger:      logger.With("component", "server"),
	})
	if err != nil {
		return nil, tallyerr.Wrapf(err, tallyerr.CodeCLISetupFailure, "creating server")
	}
	app.Server.RegisterServices(services)

	return app, nil
}

// Start runs the HTTP server and blocks until the context is cancelled.
func (a *App) Start(ctx context.Context) error {
	return a.Server.Start(ctx)
}

// Close releases all resources held by the app.
func (a *App) Close() error {
	if a.Server != nil {
		a.Server.Close()
	}

	var errs []error
	if a.Providers != nil {
		if err := a.Providers.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Records != nil {
		if err := a.Records.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// providerFactory builds a provider.Provider from a ProviderConfig.
type providerFactory func(config.ProviderConfig) (provider.Provider, error)

// builtinProviderFactories maps provider names to their constructors.
// Declared as a variable so tests can inject fakes.
var builtinProviderFactories = map[string]providerFactory{
	"anthropic": func(pc config.ProviderConfig) (provider.Provider, error) {
		return anthropicprov.New(anthropicprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
	"google": func(pc config.ProviderConfig) (provider.Provider, error) {
		return googleprov.New(googleprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
	"openai": func(pc config.ProviderConfig) (provider.Provider, error) {
		return openaiprov.New(openaiprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
	"openrouter": func(pc config.ProviderConfig) (provider.Provider, error) {
		return openaiprov.NewOpenRouter(pc.APIKey, pc.Endpoint)
	},
}

// registerBuiltinProviders registers a built-in implementation for each
// configured provider. Unknown names, empty API keys and construction
// failures are logged and skipped; SetDefault reports the consequence.
func registerBuiltinProviders(cfg *config.Config, reg *provider.Registry, logger *slog.Logger) {
	for name, pc := range cfg.Providers {
		if pc.APIKey == "" {
			logger.Warn("skipping provider with empty API key", "provider", name)
			continue
		}
		factory, ok := builtinProviderFactories[name]
		if !ok {
			logger.Warn("unknown provider in config, skipping", "provider", name)
			continue
		}
		p, err := factory(pc)
		if err != nil {
			logger.Warn("failed to create provider", "provider", name, "error", err)
			continue
		}
		reg.Register(name, p)
		logger.Info("registered provider", "provider", name)
	}
}
