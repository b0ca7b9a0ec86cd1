package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"certgate/internal/health"
	"certgate/internal/logging"
	"certgate/internal/provider"
)

// ErrGenerationFailed is returned when a provider failed fatally or the
// transient retry budget ran out. Quota exhaustion on a single provider is
// never surfaced; the gateway fails over instead.
var ErrGenerationFailed = errors.New("generation failed")

// Attempt records one provider invocation for the audit trail.
type Attempt struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	Outcome   string `json:"outcome"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Result is a successful generation.
type Result struct {
	Artifact  string
	Provider  string
	UnitsUsed int
	Attempts  []Attempt
}

// Config tunes the gateway's retry behavior.
type Config struct {
	TransientRetries int           // extra attempts after a transient failure
	CallTimeout      time.Duration // per provider invocation
}

// Gateway invokes the selected provider and normalizes outcomes. Every
// invocation, whatever its result, is recorded against the health store.
type Gateway struct {
	selector *Selector
	health   *health.Store
	clients  map[string]provider.Client
	cfg      Config
	now      func() time.Time
}

// New creates a gateway. clients is keyed by provider name and must cover
// every identity the selector can return.
func New(selector *Selector, store *health.Store, clients map[string]provider.Client, cfg Config) *Gateway {
	if cfg.TransientRetries <= 0 {
		cfg.TransientRetries = 2
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	return &Gateway{
		selector: selector,
		health:   store,
		clients:  clients,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Generate runs the select-invoke-record loop until an artifact is produced
// or no recovery remains. Failover on quota exhaustion is invisible to the
// caller. The returned Result is non-nil even on error and carries the
// attempt log for auditing.
func (g *Gateway) Generate(ctx context.Context, req provider.Request) (*Result, error) {
	log := logging.Get(logging.CategoryGateway)
	result := &Result{}
	transientLeft := g.cfg.TransientRetries

	for {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("generation interrupted: %w", err)
		}

		id, err := g.selector.Select(g.now())
		if err != nil {
			log.Warn("no provider eligible", zap.Int("attempts", len(result.Attempts)))
			return result, fmt.Errorf("all providers exhausted: %w", ErrNoProviderAvailable)
		}

		client, ok := g.clients[id.Name]
		if !ok {
			return result, fmt.Errorf("no client bound for provider %q: %w", id.Name, ErrGenerationFailed)
		}

		callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
		start := g.now()
		completion, callErr := client.Invoke(callCtx, "", req.UserPrompt())
		cancel()
		if callErr == nil && completion == nil {
			callErr = &provider.FatalError{Provider: id.Name, Reason: "client returned no completion"}
		}

		kind := provider.Classify(callErr)
		units := 0
		if completion != nil {
			units = completion.TotalUnits
		}
		g.health.RecordOutcome(id.Name, kind, units, g.now())

		attempt := Attempt{
			ID:        uuid.NewString(),
			Provider:  id.Name,
			Outcome:   kind.String(),
			LatencyMs: g.now().Sub(start).Milliseconds(),
		}
		if callErr != nil {
			attempt.Error = callErr.Error()
		}
		result.Attempts = append(result.Attempts, attempt)

		switch kind {
		case provider.OutcomeSuccess:
			result.Artifact = completion.Content
			result.Provider = id.Name
			result.UnitsUsed = units
			log.Info("generation succeeded",
				zap.String("provider", id.Name),
				zap.Int("attempts", len(result.Attempts)),
				zap.Int("units", units))
			return result, nil

		case provider.OutcomeQuotaExhausted:
			// Transparent failover: loop back and select the next provider.
			log.Info("provider exhausted, failing over", zap.String("provider", id.Name))

		case provider.OutcomeTransientError:
			if transientLeft <= 0 {
				return result, fmt.Errorf("transient retries exhausted: %v: %w", callErr, ErrGenerationFailed)
			}
			transientLeft--
			log.Warn("transient provider error, retrying",
				zap.String("provider", id.Name),
				zap.Int("retries_left", transientLeft),
				zap.Error(callErr))

		case provider.OutcomeFatalError:
			return result, fmt.Errorf("provider %s failed: %v: %w", id.Name, callErr, ErrGenerationFailed)
		}
	}
}
