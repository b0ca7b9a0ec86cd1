package config

import (
	"os"
	"time"

	"certgate/internal/health"
	"certgate/internal/provider"
)

// ClientConfig configures one capability client binding. Shared by
// providers, reviewers, and the arbiter.
type ClientConfig struct {
	Kind    string `yaml:"kind"` // openai, openrouter, anthropic, gemini
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// envKeyByKind maps a client kind to its conventional API key variable.
var envKeyByKind = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"gemini":     "GEMINI_API_KEY",
}

func (c *ClientConfig) applyEnvKey() {
	if c.APIKey != "" {
		return
	}
	if envVar, ok := envKeyByKind[c.Kind]; ok {
		c.APIKey = os.Getenv(envVar)
	}
}

// ToProvider converts to the provider package's client configuration.
func (c ClientConfig) ToProvider(name string) provider.ClientConfig {
	return provider.ClientConfig{
		Kind:    c.Kind,
		Name:    name,
		APIKey:  c.APIKey,
		BaseURL: c.BaseURL,
		Model:   c.Model,
		Timeout: parseDuration(c.Timeout, 120*time.Second),
	}
}

// ProviderConfig configures one generation provider, including its quota
// semantics. Different providers carry different window lengths (per-minute
// request quotas vs daily token budgets).
type ProviderConfig struct {
	Name           string       `yaml:"name"`
	Rank           int          `yaml:"rank"`
	Client         ClientConfig `yaml:",inline"`
	QuotaUnits     int          `yaml:"quota_units"`
	Window         string       `yaml:"window"`
	CostPerCall    int          `yaml:"cost_per_call"`
	ErrorThreshold int          `yaml:"error_threshold"`
	Cooldown       string       `yaml:"cooldown"`
}

func (p *ProviderConfig) applyDefaults() {
	if p.QuotaUnits <= 0 {
		p.QuotaUnits = 1000
	}
	if p.CostPerCall <= 0 {
		p.CostPerCall = 1
	}
	if p.ErrorThreshold <= 0 {
		p.ErrorThreshold = 3
	}
}

// Identity returns the failover identity for this provider.
func (p ProviderConfig) Identity() provider.Identity {
	return provider.Identity{Name: p.Name, Rank: p.Rank}
}

// Limits returns the health-store quota semantics for this provider.
func (p ProviderConfig) Limits() health.Limits {
	return health.Limits{
		QuotaUnits:     p.QuotaUnits,
		Window:         parseDuration(p.Window, 24*time.Hour),
		CostPerCall:    p.CostPerCall,
		ErrorThreshold: p.ErrorThreshold,
		Cooldown:       parseDuration(p.Cooldown, 30*time.Second),
	}
}

// ReviewerConfig configures one reviewer instance.
type ReviewerConfig struct {
	ID     string       `yaml:"id"`
	Client ClientConfig `yaml:",inline"`
}

// ArbiterConfig configures the final arbiter. The arbiter's `timeout` key is
// carried by the inlined ClientConfig: yaml.v3 rejects a second field with the
// same tag at this level.
type ArbiterConfig struct {
	ID     string       `yaml:"id"`
	Client ClientConfig `yaml:",inline"`
}

func (a *ArbiterConfig) applyDefaults() {
	if a.Client.Timeout == "" {
		a.Client.Timeout = "90s"
	}
}

// AdjudicationTimeout returns the arbiter call budget.
func (a ArbiterConfig) AdjudicationTimeout() time.Duration {
	return parseDuration(a.Client.Timeout, 90*time.Second)
}
