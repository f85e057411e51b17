// Package ai talks to text generation providers.
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TextGenerator generates text from a system prompt and user prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const (
	ProviderGemini       = "gemini"
	ProviderOllama       = "ollama"
	ProviderOpenAICompat = "openai-compat"
)

// ProviderConfig selects and configures a generator.
type ProviderConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
	// JSONMode asks the provider for a JSON-only response where supported.
	JSONMode bool
}

// NewGenerator builds the TextGenerator named by cfg.Provider.
func NewGenerator(cfg ProviderConfig) (TextGenerator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderGemini:
		return NewGeminiGenerator(cfg)
	case ProviderOllama:
		return NewOllamaGenerator(cfg), nil
	case ProviderOpenAICompat, "openai":
		return NewOpenAICompatGenerator(cfg), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}
