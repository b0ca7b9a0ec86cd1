package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"certgate/internal/logging"
)

// GeminiClient implements Client for the Gemini API via the genai SDK.
type GeminiClient struct {
	name    string
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiClient creates a Gemini binding.
func NewGeminiClient(ctx context.Context, cfg ClientConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiClient{
		name:    cfg.Name,
		client:  client,
		model:   model,
		timeout: timeout,
	}, nil
}

func (c *GeminiClient) Name() string { return c.name }

// Invoke sends a generate-content request and returns the completion.
func (c *GeminiClient) Invoke(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error) {
	log := logging.Get(logging.CategoryGateway)

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.1),
	}
	if systemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	start := time.Now()
	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(userPrompt), genCfg)
	if err != nil {
		return nil, c.classifyError(err)
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return nil, &FatalError{Provider: c.name, Reason: "no completion returned"}
	}

	units := 0
	if result.UsageMetadata != nil {
		units = int(result.UsageMetadata.TotalTokenCount)
	}

	log.Debug("completion received",
		zap.String("provider", c.name),
		zap.String("model", c.model),
		zap.Int("total_tokens", units),
		zap.Duration("elapsed", time.Since(start)))

	return &Completion{Content: text, TotalUnits: units}, nil
}

// classifyError maps genai SDK errors onto the signal taxonomy.
func (c *GeminiClient) classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Provider: c.name, Reason: "request timed out"}
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return statusError(c.name, apiErr.Code, apiErr.Message)
	}
	return &TransientError{Provider: c.name, Reason: fmt.Sprintf("request failed: %v", err)}
}
