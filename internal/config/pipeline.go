package config

import "time"

// PipelineConfig tunes the certification pipeline and gateway.
type PipelineConfig struct {
	// TransientRetries bounds extra generation attempts after transient
	// provider failures.
	TransientRetries int `yaml:"transient_retries"`
	// CallTimeout bounds one provider invocation.
	CallTimeout string `yaml:"call_timeout"`
	// ReviewTimeout bounds one reviewer invocation.
	ReviewTimeout string `yaml:"review_timeout"`
	// Deadline bounds total pipeline latency. Empty disables it.
	Deadline string `yaml:"deadline"`
	// SkipArbiterOnFailedQuorum short-circuits to Rejected without the
	// arbiter call when quorum already failed. Default false: always
	// adjudicate, allowing overrides in both directions.
	SkipArbiterOnFailedQuorum bool `yaml:"skip_arbiter_on_failed_quorum"`
}

func (p *PipelineConfig) applyDefaults() {
	if p.TransientRetries <= 0 {
		p.TransientRetries = 2
	}
	if p.CallTimeout == "" {
		p.CallTimeout = "60s"
	}
	if p.ReviewTimeout == "" {
		p.ReviewTimeout = "90s"
	}
}

// CallTimeoutDuration returns the per-call budget.
func (p PipelineConfig) CallTimeoutDuration() time.Duration {
	return parseDuration(p.CallTimeout, 60*time.Second)
}

// ReviewTimeoutDuration returns the per-reviewer budget.
func (p PipelineConfig) ReviewTimeoutDuration() time.Duration {
	return parseDuration(p.ReviewTimeout, 90*time.Second)
}

// DeadlineDuration returns the whole-pipeline budget, zero when unset.
func (p PipelineConfig) DeadlineDuration() time.Duration {
	return parseDuration(p.Deadline, 0)
}

// StoreConfig configures the audit store.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func (s *StoreConfig) applyDefaults() {
	if s.Path == "" {
		s.Path = ".certgate/audit.db"
	}
}

// LoggingConfig configures process logging.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

func (l *LoggingConfig) applyDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
}
