package provider

import (
	"context"
	"fmt"
)

// NewClient builds the binding matching cfg.Kind.
func NewClient(ctx context.Context, cfg ClientConfig) (Client, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	switch cfg.Kind {
	case "openai", "openrouter":
		return NewOpenAIClient(cfg), nil
	case "anthropic":
		return NewAnthropicClient(cfg), nil
	case "gemini":
		return NewGeminiClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown provider kind %q (want openai, openrouter, anthropic, or gemini)", cfg.Kind)
	}
}
