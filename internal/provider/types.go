// Package provider defines the capability interface for language-model
// providers and the normalized outcome taxonomy the gateway records against
// provider health. Concrete bindings share one interface; quota semantics
// (window length, unit cost) live in per-provider configuration, not in the
// bindings themselves.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Identity names a configured provider and its failover position.
// Lower Rank is tried first. Immutable after startup.
type Identity struct {
	Name string
	Rank int
}

// Request is the caller-supplied generation request. The payload is opaque
// to the routing layer; it is handed to the selected provider unchanged.
type Request struct {
	Instruction string
	Constraints []string
}

// UserPrompt renders the request as a single prompt string.
func (r Request) UserPrompt() string {
	if len(r.Constraints) == 0 {
		return r.Instruction
	}
	var b strings.Builder
	b.WriteString(r.Instruction)
	b.WriteString("\n\n## Constraints\n")
	for _, c := range r.Constraints {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	return b.String()
}

// Completion is a successful provider invocation.
type Completion struct {
	Content    string
	TotalUnits int // usage reported by the provider, 0 when not reported
}

// Client is implemented by every provider binding. Reviewer and arbiter
// capabilities use the same shape; only the routing layer cares about units.
type Client interface {
	Name() string
	Invoke(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error)
}

// OutcomeKind is the normalized result of one provider invocation.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeQuotaExhausted
	OutcomeTransientError
	OutcomeFatalError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeQuotaExhausted:
		return "quota_exhausted"
	case OutcomeTransientError:
		return "transient_error"
	case OutcomeFatalError:
		return "fatal_error"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ClientConfig configures one provider binding.
type ClientConfig struct {
	Kind    string // openai, anthropic, gemini
	Name    string
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}
