package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certgate/internal/health"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "certgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const fullConfig = `
providers:
  - name: primary
    rank: 0
    kind: gemini
    model: gemini-2.5-pro
    api_key: key-primary
    quota_units: 500
    window: 24h
    cost_per_call: 2
    error_threshold: 5
    cooldown: 1m
  - name: fallback
    rank: 1
    kind: openrouter
    model: qwen/qwen3-coder
    api_key: key-fallback
reviewers:
  - id: reviewer-a
    kind: openai
    model: gpt-4o
    api_key: key-a
  - id: reviewer-b
    kind: anthropic
    model: claude-sonnet-4
    api_key: key-b
arbiter:
  id: arbiter
  kind: anthropic
  model: claude-opus-4
  api_key: key-arbiter
  timeout: 2m
pipeline:
  transient_retries: 4
  call_timeout: 45s
  deadline: 10m
  skip_arbiter_on_failed_quorum: true
store:
  enabled: true
  path: /tmp/audit.db
logging:
  level: debug
`

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, fullConfig))
	require.NoError(t, err)

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "primary", cfg.Providers[0].Name)
	assert.Equal(t, 0, cfg.Providers[0].Rank)
	assert.Equal(t, "gemini", cfg.Providers[0].Client.Kind)
	assert.Equal(t, "key-primary", cfg.Providers[0].Client.APIKey)

	wantLimits := health.Limits{
		QuotaUnits:     500,
		Window:         24 * time.Hour,
		CostPerCall:    2,
		ErrorThreshold: 5,
		Cooldown:       time.Minute,
	}
	if diff := cmp.Diff(wantLimits, cfg.Providers[0].Limits()); diff != "" {
		t.Errorf("primary limits mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, cfg.Reviewers, 2)
	assert.Equal(t, "reviewer-a", cfg.Reviewers[0].ID)
	assert.Equal(t, "arbiter", cfg.Arbiter.ID)
	assert.Equal(t, 2*time.Minute, cfg.Arbiter.AdjudicationTimeout())

	assert.Equal(t, 4, cfg.Pipeline.TransientRetries)
	assert.Equal(t, 45*time.Second, cfg.Pipeline.CallTimeoutDuration())
	assert.Equal(t, 10*time.Minute, cfg.Pipeline.DeadlineDuration())
	assert.True(t, cfg.Pipeline.SkipArbiterOnFailedQuorum)

	assert.True(t, cfg.Store.Enabled)
	assert.Equal(t, "/tmp/audit.db", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
providers:
  - name: only
    kind: openai
    model: gpt-4o
    api_key: k
reviewers:
  - id: r1
    kind: openai
    model: gpt-4o
    api_key: k
arbiter:
  id: arb
  kind: openai
  model: gpt-4o
  api_key: k
`))
	require.NoError(t, err)

	limits := cfg.Providers[0].Limits()
	assert.Equal(t, 1000, limits.QuotaUnits)
	assert.Equal(t, 24*time.Hour, limits.Window)
	assert.Equal(t, 1, limits.CostPerCall)
	assert.Equal(t, 3, limits.ErrorThreshold)
	assert.Equal(t, 30*time.Second, limits.Cooldown)

	assert.Equal(t, 2, cfg.Pipeline.TransientRetries)
	assert.Equal(t, 60*time.Second, cfg.Pipeline.CallTimeoutDuration())
	assert.Equal(t, 90*time.Second, cfg.Pipeline.ReviewTimeoutDuration())
	assert.Zero(t, cfg.Pipeline.DeadlineDuration(), "deadline disabled by default")
	assert.False(t, cfg.Pipeline.SkipArbiterOnFailedQuorum)

	assert.Equal(t, 90*time.Second, cfg.Arbiter.AdjudicationTimeout())
	assert.Equal(t, ".certgate/audit.db", cfg.Store.Path)
	assert.False(t, cfg.Store.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-gemini")
	t.Setenv("ANTHROPIC_API_KEY", "env-anthropic")
	t.Setenv("CERTGATE_LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, `
providers:
  - name: g
    kind: gemini
    model: gemini-2.5-pro
  - name: a
    kind: anthropic
    model: claude-sonnet-4
    api_key: explicit-wins
reviewers:
  - id: r1
    kind: anthropic
    model: claude-sonnet-4
arbiter:
  id: arb
  kind: gemini
  model: gemini-2.5-pro
`))
	require.NoError(t, err)

	assert.Equal(t, "env-gemini", cfg.Providers[0].Client.APIKey)
	assert.Equal(t, "explicit-wins", cfg.Providers[1].Client.APIKey,
		"explicit config value must beat the environment")
	assert.Equal(t, "env-anthropic", cfg.Reviewers[0].Client.APIKey)
	assert.Equal(t, "env-gemini", cfg.Arbiter.Client.APIKey)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no providers",
			yaml:    "reviewers:\n  - id: r1\n    kind: openai\narbiter:\n  id: arb\n  kind: openai\n",
			wantErr: "at least one provider",
		},
		{
			name: "duplicate provider names",
			yaml: `
providers:
  - name: dup
    kind: openai
  - name: dup
    kind: openai
reviewers:
  - id: r1
    kind: openai
arbiter:
  id: arb
  kind: openai
`,
			wantErr: "duplicate provider name",
		},
		{
			name: "unknown client kind",
			yaml: `
providers:
  - name: p
    kind: llamafile
reviewers:
  - id: r1
    kind: openai
arbiter:
  id: arb
  kind: openai
`,
			wantErr: "unknown client kind",
		},
		{
			name: "no reviewers",
			yaml: `
providers:
  - name: p
    kind: openai
arbiter:
  id: arb
  kind: openai
`,
			wantErr: "at least one reviewer",
		},
		{
			name: "missing arbiter id",
			yaml: `
providers:
  - name: p
    kind: openai
reviewers:
  - id: r1
    kind: openai
`,
			wantErr: "arbiter id is required",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "providers: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, parseDuration("5s", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("bogus", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("-3s", time.Minute))
}
