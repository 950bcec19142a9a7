package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/orchestra-api/internal/config"
	"github.com/phrazzld/orchestra-api/internal/generation"
	"google.golang.org/genai"
)

// ErrEmptyPrompt is returned when Generate is called with no prompt text.
var ErrEmptyPrompt = errors.New("prompt cannot be empty")

// Generator implements generation.Generator using Google's Gemini API.
// It performs a single call per Generate invocation; all retrying is the
// worker loop's responsibility.
type Generator struct {
	logger  *slog.Logger
	client  *genai.Client
	model   string
	timeout time.Duration
}

// Ensure Generator satisfies the port it implements.
var _ generation.Generator = (*Generator)(nil)

// NewGenerator creates a Gemini-backed Generator from LLM configuration.
func NewGenerator(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Generator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}

	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	if cfg.RequestTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("%w: request timeout must be positive", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v",
			generation.ErrInvalidConfig, err)
	}

	return &Generator{
		logger:  logger,
		client:  client,
		model:   cfg.ModelName,
		timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
	}, nil
}

// Generate produces the model's text response for the given prompt.
// Transport errors, timeouts, safety blocks and empty responses all normalize
// to generation.ErrBackendFailure (or its wrapped variants) so callers see a
// single retryable error class.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", ErrEmptyPrompt
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	g.logger.DebugContext(ctx, "calling Gemini API",
		"model", g.model,
		"prompt_length", len(prompt))

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		g.logger.ErrorContext(ctx, "Gemini API call failed",
			"model", g.model,
			"elapsed", time.Since(start),
			"error", err)
		return "", fmt.Errorf("%w: %v", generation.ErrBackendFailure, err)
	}

	if blocked(resp) {
		g.logger.WarnContext(ctx, "Gemini blocked the prompt", "model", g.model)
		return "", generation.ErrContentBlocked
	}

	text := resp.Text()
	if text == "" {
		return "", generation.ErrInvalidResponse
	}

	g.logger.DebugContext(ctx, "Gemini API call succeeded",
		"model", g.model,
		"elapsed", time.Since(start),
		"response_length", len(text))

	return text, nil
}

func blocked(resp *genai.GenerateContentResponse) bool {
	if resp == nil {
		return false
	}
	for _, c := range resp.Candidates {
		if c != nil && c.FinishReason == genai.FinishReasonSafety {
			return true
		}
	}
	return false
}
