// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for fabric components.
//
// Configuration is loaded from a single file specified by:
//   - FABRIC_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
//
// The config file may contain environment-specific sections
// (development, staging, production) that override base values when
// the environment matches.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the master configuration for a fabric server or client
// host binary.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Server configures the sequencer's listening endpoint.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured log output.
	Logging LoggingConfig `yaml:"logging"`

	// Channels configures per-channel policy, keyed by channel name.
	// The wildcard entry "*" applies to channels with no specific entry.
	Channels map[string]ChannelConfig `yaml:"channels"`

	// EnvironmentOverrides contains per-environment overrides, applied
	// after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Server  *ServerConfig  `yaml:"server,omitempty"`
	Logging *LoggingConfig `yaml:"logging,omitempty"`
}

// ServerConfig configures the sequencer's network endpoint.
type ServerConfig struct {
	// Listen is the TCP address the server binds, e.g. ":7891".
	Listen string `yaml:"listen"`

	// MaxSessions is loaded and validated (it must not be negative),
	// but the server does not read it: connected clients are not
	// capped.
	MaxSessions int `yaml:"max_sessions"`

	// DebugJournal, if set, names a file the server appends a
	// CBOR-encoded event journal to, for offline critic analysis.
	DebugJournal string `yaml:"debug_journal"`
}

// LoggingConfig configures structured log output.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	// Default: info (development), warn (production)
	Level string `yaml:"level"`

	// JSON selects JSON-formatted log records instead of text.
	// Default: false (development), true (production)
	JSON bool `yaml:"json"`
}

// ChannelConfig configures optional per-channel delivery policy. None
// of these fields influence sequencing decisions — they only transform
// payload bytes, which the sequencer never inspects when deciding what
// gets delivered to whom and in what order, so they cannot affect
// determinism.
type ChannelConfig struct {
	// CompressPayloadAbove, if nonzero, causes Publish payloads on this
	// channel larger than this many bytes to be zstd-compressed on the
	// wire and transparently decompressed by the client library.
	CompressPayloadAbove int `yaml:"compress_payload_above"`
}

// Default returns the default configuration. These defaults are used
// as a base before loading the config file. They exist primarily to
// ensure all fields have sensible zero-values, not as a fallback — the
// config file is required.
func Default() *Config {
	return &Config{
		Environment: Development,
		Server: ServerConfig{
			Listen:      ":7891",
			MaxSessions: 0,
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
		Channels: map[string]ChannelConfig{},
	}
}

// Load loads configuration from the FABRIC_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults — if FABRIC_CONFIG is not set,
// this fails. This ensures deterministic, auditable configuration with
// no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("FABRIC_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("FABRIC_CONFIG environment variable not set; " +
			"set it to the path of your fabric.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values — this ensures deterministic,
// auditable configuration. The only expansion performed is ${VAR} and
// ${VAR:-default} patterns within the server.debug_journal field.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &ConfigOverrides{
				Logging: &LoggingConfig{Level: "warn", JSON: true},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Server != nil {
		if overrides.Server.Listen != "" {
			c.Server.Listen = overrides.Server.Listen
		}
		if overrides.Server.MaxSessions != 0 {
			c.Server.MaxSessions = overrides.Server.MaxSessions
		}
		if overrides.Server.DebugJournal != "" {
			c.Server.DebugJournal = overrides.Server.DebugJournal
		}
	}

	if overrides.Logging != nil {
		if overrides.Logging.Level != "" {
			c.Logging.Level = overrides.Logging.Level
		}
		c.Logging.JSON = overrides.Logging.JSON
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in the
// one field an operator is likely to template: the debug journal path.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Server.DebugJournal = expandVars(c.Server.DebugJournal, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Server.Listen == "" {
		errs = append(errs, fmt.Errorf("server.listen is required"))
	}
	if c.Server.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("server.max_sessions must be >= 0"))
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of: %v", validLevels))
	}

	for name, channel := range c.Channels {
		if channel.CompressPayloadAbove < 0 {
			errs = append(errs, fmt.Errorf("channels[%q].compress_payload_above must be >= 0", name))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}

// ChannelConfigFor returns the configured policy for a channel, falling
// back to the "*" wildcard entry, then to the zero-value ChannelConfig.
func (c *Config) ChannelConfigFor(channel string) ChannelConfig {
	if cfg, ok := c.Channels[channel]; ok {
		return cfg
	}
	if cfg, ok := c.Channels["*"]; ok {
		return cfg
	}
	return ChannelConfig{}
}
