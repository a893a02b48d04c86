// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the daemon.
//
// Configuration is loaded from a single file specified by:
//   - BMM_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures deterministic,
// auditable configuration with no hidden overrides.
//
// The config file may contain environment-specific sections (development,
// staging, production) that override base values when the environment matches.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for the daemon.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Host identifies this instance within the fleet.
	Host HostConfig `yaml:"host"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Fleet configures the fleet-wide credential store.
	Fleet FleetConfig `yaml:"fleet"`

	// Delivery configures the front-end delivery relay.
	Delivery DeliveryConfig `yaml:"delivery"`

	// Timers configures the lifecycle timer table.
	Timers TimersConfig `yaml:"timers"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Host     *HostConfig     `yaml:"host,omitempty"`
	Paths    *PathsConfig    `yaml:"paths,omitempty"`
	Fleet    *FleetConfig    `yaml:"fleet,omitempty"`
	Delivery *DeliveryConfig `yaml:"delivery,omitempty"`
	Timers   *TimersConfig   `yaml:"timers,omitempty"`
}

// HostConfig identifies this instance.
type HostConfig struct {
	// ID is the stable fleet-unique identifier of this instance.
	// Sessions and credential records are claimed under this ID.
	ID string `yaml:"id"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for daemon data.
	Root string `yaml:"root"`

	// State is where runtime state is stored, including the
	// host-local credential database.
	State string `yaml:"state"`
}

// FleetConfig configures the fleet-wide credential store.
type FleetConfig struct {
	// PostgresURL is the connection string for the store of record.
	// When empty the daemon runs with the host-local store only,
	// which is acceptable for development but loses cross-host
	// migration.
	PostgresURL string `yaml:"postgres_url"`
}

// DeliveryConfig configures the front-end delivery relay.
type DeliveryConfig struct {
	// ListenAddr is the address the relay's websocket listener
	// binds. Default: 127.0.0.1:8077
	ListenAddr string `yaml:"listen_addr"`
}

// TimersConfig configures the lifecycle timer table. Values are
// duration strings ("60s", "15m"); empty values keep the defaults.
type TimersConfig struct {
	// PairingDeadline bounds how long an unregistered tenant may sit
	// in pairing before teardown. Default: 60s
	PairingDeadline string `yaml:"pairing_deadline"`

	// ReconnectDelay is the fixed delay before a transient-failure
	// reconnect attempt. Default: 5s
	ReconnectDelay string `yaml:"reconnect_delay"`

	// PostRegistrationRestart is the one-time delay before the
	// restart that follows a first registration. Default: 10s
	PostRegistrationRestart string `yaml:"post_registration_restart"`

	// ConfirmDeadline bounds how long a destructive-operation ticket
	// waits for confirmation. Default: 30s
	ConfirmDeadline string `yaml:"confirm_deadline"`

	// PresenceReset marks a session idle after this much inactivity.
	// Default: 5m
	PresenceReset string `yaml:"presence_reset"`

	// ReconcileInterval is the period of the credential reconcile
	// loop. Default: 15m
	ReconcileInterval string `yaml:"reconcile_interval"`
}

// Durations is the parsed form of TimersConfig.
type Durations struct {
	PairingDeadline         time.Duration
	ReconnectDelay          time.Duration
	PostRegistrationRestart time.Duration
	ConfirmDeadline         time.Duration
	PresenceReset           time.Duration
	ReconcileInterval       time.Duration
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "bmm")

	hostname, _ := os.Hostname()

	return &Config{
		Environment: Development,
		Host: HostConfig{
			ID: hostname,
		},
		Paths: PathsConfig{
			Root:  defaultRoot,
			State: filepath.Join(defaultRoot, "state"),
		},
		Fleet: FleetConfig{
			PostgresURL: "",
		},
		Delivery: DeliveryConfig{
			ListenAddr: "127.0.0.1:8077",
		},
		Timers: TimersConfig{
			PairingDeadline:         "60s",
			ReconnectDelay:          "5s",
			PostRegistrationRestart: "10s",
			ConfirmDeadline:         "30s",
			PresenceReset:           "5m",
			ReconcileInterval:       "15m",
		},
	}
}

// Load loads configuration from the BMM_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if BMM_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("BMM_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("BMM_CONFIG environment variable not set; " +
			"set it to the path of your bmm.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do not
// override config values. The only expansion performed is ${HOME} and similar
// path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Host != nil && overrides.Host.ID != "" {
		c.Host.ID = overrides.Host.ID
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.State != "" {
			c.Paths.State = overrides.Paths.State
		}
	}

	if overrides.Fleet != nil && overrides.Fleet.PostgresURL != "" {
		c.Fleet.PostgresURL = overrides.Fleet.PostgresURL
	}

	if overrides.Delivery != nil && overrides.Delivery.ListenAddr != "" {
		c.Delivery.ListenAddr = overrides.Delivery.ListenAddr
	}

	if overrides.Timers != nil {
		if overrides.Timers.PairingDeadline != "" {
			c.Timers.PairingDeadline = overrides.Timers.PairingDeadline
		}
		if overrides.Timers.ReconnectDelay != "" {
			c.Timers.ReconnectDelay = overrides.Timers.ReconnectDelay
		}
		if overrides.Timers.PostRegistrationRestart != "" {
			c.Timers.PostRegistrationRestart = overrides.Timers.PostRegistrationRestart
		}
		if overrides.Timers.ConfirmDeadline != "" {
			c.Timers.ConfirmDeadline = overrides.Timers.ConfirmDeadline
		}
		if overrides.Timers.PresenceReset != "" {
			c.Timers.PresenceReset = overrides.Timers.PresenceReset
		}
		if overrides.Timers.ReconcileInterval != "" {
			c.Timers.ReconcileInterval = overrides.Timers.ReconcileInterval
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"BMM_ROOT": c.Paths.Root,
		"HOME":     os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["BMM_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.State = expandVars(c.Paths.State, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
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

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// ParseTimers parses the timer table into durations. Every field must
// parse; Validate reports the same failures with field names.
func (c *Config) ParseTimers() (Durations, error) {
	var d Durations
	for _, field := range []struct {
		name  string
		value string
		out   *time.Duration
	}{
		{"timers.pairing_deadline", c.Timers.PairingDeadline, &d.PairingDeadline},
		{"timers.reconnect_delay", c.Timers.ReconnectDelay, &d.ReconnectDelay},
		{"timers.post_registration_restart", c.Timers.PostRegistrationRestart, &d.PostRegistrationRestart},
		{"timers.confirm_deadline", c.Timers.ConfirmDeadline, &d.ConfirmDeadline},
		{"timers.presence_reset", c.Timers.PresenceReset, &d.PresenceReset},
		{"timers.reconcile_interval", c.Timers.ReconcileInterval, &d.ReconcileInterval},
	} {
		parsed, err := time.ParseDuration(field.value)
		if err != nil {
			return Durations{}, fmt.Errorf("config: %s: %w", field.name, err)
		}
		if parsed <= 0 {
			return Durations{}, fmt.Errorf("config: %s must be positive, got %s", field.name, parsed)
		}
		*field.out = parsed
	}
	return d, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Host.ID == "" {
		errs = append(errs, fmt.Errorf("host.id is required"))
	}
	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.State == "" {
		errs = append(errs, fmt.Errorf("paths.state is required"))
	}
	if c.Delivery.ListenAddr == "" {
		errs = append(errs, fmt.Errorf("delivery.listen_addr is required"))
	}

	if _, err := c.ParseTimers(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// LocalStorePath is the location of the host-local credential database.
func (c *Config) LocalStorePath() string {
	return filepath.Join(c.Paths.State, "credentials.db")
}
