package llm

import (
	"context"
	"fmt"
	"strings"
)

// New creates a provider client from the configuration. When Provider is
// empty the backend is detected from the model name.
func New(ctx context.Context, cfg Config) (Client, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = detectProvider(cfg.Model)
	}

	switch provider {
	case "gemini":
		return newGeminiClient(ctx, cfg)
	case "openai":
		return newOpenAIClient(cfg)
	case "ollama":
		return newOllamaClient(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider: %q", provider)
	}
}

func detectProvider(model string) string {
	switch {
	case strings.HasPrefix(model, "gemini"):
		return "gemini"
	case strings.HasPrefix(model, "gpt"), strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "chatgpt"):
		return "openai"
	default:
		return "ollama"
	}
}
