// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package config

import (
	"errors"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

// Config is the top-level Tally configuration.
type Config struct {
	Networking NetworkingConfig          `mapstructure:"networking"`
	Providers  map[string]ProviderConfig `mapstructure:"providers"`
	Models     ModelsConfig              `mapstructure:"models"`
	Agent      AgentConfig               `mapstructure:"agent"`
	Dataset    DatasetConfig             `mapstructure:"dataset"`
	Storage    StorageConfig             `mapstructure:"storage"`
	Logging    LoggingConfig             `mapstructure:"logging"`
}

// NetworkingConfig controls the HTTP listener and chat admission.
type NetworkingConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	// ChatRate is the sustained number of chat requests admitted per second.
	ChatRate  float64 `mapstructure:"chat_rate"`
	ChatBurst int     `mapstructure:"chat_burst"`
}

// ProviderConfig holds credentials and endpoint for an LLM provider.
type ProviderConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// ModelsConfig controls model selection and sampling.
type ModelsConfig struct {
	Default     string   `mapstructure:"default"`
	Failover    []string `mapstructure:"failover"`
	Temperature float64  `mapstructure:"temperature"`
	MaxTokens   int      `mapstructure:"max_tokens"`
}

// AgentConfig bounds a single investigation run.
type AgentConfig struct {
	MaxIterations int `mapstructure:"max_iterations"`
	StreamBuffer  int `mapstructure:"stream_buffer"`
}

// DatasetConfig points at the billing corpus.
type DatasetConfig struct {
	Dir string `mapstructure:"dir"`
}

// StorageConfig selects the proposal storage backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// KnownProviders lists the provider names the server can construct.
var KnownProviders = []string{"anthropic", "google", "openai", "openrouter"}

// SetDefaults installs Tally's defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("networking.listen", "127.0.0.1:18790")
	v.SetDefault("networking.cors_origins", []string{"http://localhost:5173"})
	v.SetDefault("networking.chat_rate", 1.0)
	v.SetDefault("networking.chat_burst", 5)
	v.SetDefault("models.default", "openrouter/openai/gpt-4o")
	v.SetDefault("models.temperature", 0.0)
	v.SetDefault("models.max_tokens", 4096)
	v.SetDefault("agent.max_iterations", 15)
	v.SetDefault("agent.stream_buffer", 16)
	v.SetDefault("dataset.dir", "data")
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.path", "tally-data")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// SetupEnv binds TALLY_-prefixed environment variables, so that
// TALLY_NETWORKING_LISTEN overrides networking.listen.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("TALLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix TALLY_).
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, tallyerr.Errorf(tallyerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates an already-populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, tallyerr.Errorf(tallyerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, tallyerr.Errorf(tallyerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors, collecting every
// issue rather than stopping at the first.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateNetworking()...)
	errs = append(errs, c.validateProviders()...)
	errs = append(errs, c.validateModels()...)
	errs = append(errs, c.validateAgent()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

func invalid(format string, args ...any) error {
	return tallyerr.Errorf(tallyerr.CodeConfigValidateInvalidValue, "config: "+format, args...)
}

func (c *Config) validateNetworking() []error {
	var errs []error

	if c.Networking.Listen == "" {
		errs = append(errs, invalid("networking.listen must not be empty"))
	} else if _, portStr, err := net.SplitHostPort(c.Networking.Listen); err != nil {
		errs = append(errs, invalid("networking.listen must be a valid host:port address, got %q: %w", c.Networking.Listen, err))
	} else if port, err := strconv.Atoi(portStr); err != nil {
		errs = append(errs, invalid("networking.listen port must be a number, got %q", portStr))
	} else if port < 1 || port > 65535 {
		errs = append(errs, invalid("networking.listen port must be between 1 and 65535, got %d", port))
	}

	for i, origin := range c.Networking.CORSOrigins {
		if origin == "*" {
			continue
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, invalid("networking.cors_origins[%d] must be an absolute origin or \"*\", got %q", i, origin))
		}
	}

	if c.Networking.ChatRate <= 0 {
		errs = append(errs, invalid("networking.chat_rate must be greater than 0, got %g", c.Networking.ChatRate))
	}
	if c.Networking.ChatBurst <= 0 {
		errs = append(errs, invalid("networking.chat_burst must be greater than 0, got %d", c.Networking.ChatBurst))
	}

	return errs
}

func (c *Config) validateProviders() []error {
	var errs []error

	for name, p := range c.Providers {
		if !slices.Contains(KnownProviders, name) {
			errs = append(errs, invalid("providers.%s is not a supported provider (want one of %v)", name, KnownProviders))
		}
		if p.Endpoint != "" {
			if u, err := url.Parse(p.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, invalid("providers.%s.endpoint must be an absolute URL, got %q", name, p.Endpoint))
			}
		}
	}

	return errs
}

func (c *Config) validateModels() []error {
	var errs []error

	if c.Models.Default == "" {
		errs = append(errs, invalid("models.default must not be empty"))
	} else {
		errs = append(errs, c.checkModelRef("models.default", c.Models.Default)...)
	}

	for i, model := range c.Models.Failover {
		errs = append(errs, c.checkModelRef("models.failover["+strconv.Itoa(i)+"]", model)...)
	}

	if c.Models.Temperature < 0 || c.Models.Temperature > 2 {
		errs = append(errs, invalid("models.temperature must be between 0 and 2, got %g", c.Models.Temperature))
	}
	if c.Models.MaxTokens <= 0 {
		errs = append(errs, invalid("models.max_tokens must be greater than 0, got %d", c.Models.MaxTokens))
	}

	return errs
}

// checkModelRef validates a "provider/model" reference. Providers are only
// cross-checked when a providers section exists; a nil map means defaults
// only, which is valid on a fresh install.
func (c *Config) checkModelRef(key, ref string) []error {
	providerName, model, ok := strings.Cut(ref, "/")
	if !ok || providerName == "" || model == "" {
		return []error{invalid("%s must be in \"provider/model\" format, got %q", key, ref)}
	}
	if c.Providers == nil {
		return nil
	}
	if _, ok := c.Providers[providerName]; !ok {
		return []error{invalid("%s %q references provider %q which is not configured", key, ref, providerName)}
	}
	return nil
}

func (c *Config) validateAgent() []error {
	var errs []error

	if c.Agent.MaxIterations <= 0 {
		errs = append(errs, invalid("agent.max_iterations must be greater than 0, got %d", c.Agent.MaxIterations))
	}
	if c.Agent.StreamBuffer <= 0 {
		errs = append(errs, invalid("agent.stream_buffer must be greater than 0, got %d", c.Agent.StreamBuffer))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true, "badger": true, "memory": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, invalid("storage.backend must be one of [sqlite, badger, memory], got %q", c.Storage.Backend))
	}
	if c.Storage.Backend != "memory" && c.Storage.Path == "" {
		errs = append(errs, invalid("storage.path must not be empty for backend %q", c.Storage.Backend))
	}

	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, invalid("logging.level must be one of [debug, info, warn, error], got %q", c.Logging.Level))
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, invalid("logging.format must be one of [text, json], got %q", c.Logging.Format))
	}

	return errs
}
