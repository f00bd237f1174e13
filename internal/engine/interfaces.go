package engine

import (
	"context"
	"fmt"
)

// ModelClient abstracts one chat call to a model provider: a fixed system
// instruction plus a user prompt, returning the raw reply text.
type ModelClient interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Verify at compile time that all clients implement ModelClient.
var (
	_ ModelClient = (*OpenAIClient)(nil)
	_ ModelClient = (*ClaudeClient)(nil)
	_ ModelClient = (*GeminiClient)(nil)
	_ ModelClient = (*OllamaClient)(nil)
	_ ModelClient = (*StubModelClient)(nil)
)

// Sampling holds the generation parameters sent with every call.
type Sampling struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// DefaultSampling keeps judgments short and near-deterministic.
var DefaultSampling = Sampling{Temperature: 0.1, TopP: 0.9, MaxTokens: 512}

// apiError is a non-200 reply from a provider.
type apiError struct {
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}
