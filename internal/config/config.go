// Package config loads certgate configuration from yaml with environment
// overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all certgate configuration.
type Config struct {
	Providers []ProviderConfig `yaml:"providers"`
	Reviewers []ReviewerConfig `yaml:"reviewers"`
	Arbiter   ArbiterConfig    `yaml:"arbiter"`
	Pipeline  PipelineConfig   `yaml:"pipeline"`
	Store     StoreConfig      `yaml:"store"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// Load reads, defaults, overrides, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Providers {
		c.Providers[i].applyDefaults()
	}
	c.Pipeline.applyDefaults()
	c.Store.applyDefaults()
	c.Logging.applyDefaults()
	c.Arbiter.applyDefaults()
}

// applyEnvOverrides fills empty API keys from the conventional environment
// variables for each provider kind. Explicit config values win.
func (c *Config) applyEnvOverrides() {
	for i := range c.Providers {
		c.Providers[i].Client.applyEnvKey()
	}
	for i := range c.Reviewers {
		c.Reviewers[i].Client.applyEnvKey()
	}
	c.Arbiter.Client.applyEnvKey()

	if level := os.Getenv("CERTGATE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: at least one provider is required")
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("config: provider name is required")
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true
		if err := validKind(p.Client.Kind); err != nil {
			return fmt.Errorf("config: provider %s: %w", p.Name, err)
		}
	}
	if len(c.Reviewers) == 0 {
		return fmt.Errorf("config: at least one reviewer is required")
	}
	for _, r := range c.Reviewers {
		if r.ID == "" {
			return fmt.Errorf("config: reviewer id is required")
		}
		if err := validKind(r.Client.Kind); err != nil {
			return fmt.Errorf("config: reviewer %s: %w", r.ID, err)
		}
	}
	if c.Arbiter.ID == "" {
		return fmt.Errorf("config: arbiter id is required")
	}
	if err := validKind(c.Arbiter.Client.Kind); err != nil {
		return fmt.Errorf("config: arbiter %s: %w", c.Arbiter.ID, err)
	}
	return nil
}

func validKind(kind string) error {
	switch kind {
	case "openai", "openrouter", "anthropic", "gemini":
		return nil
	default:
		return fmt.Errorf("unknown client kind %q", kind)
	}
}

// parseDuration parses a yaml duration string, falling back to def when the
// field is empty or malformed.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
