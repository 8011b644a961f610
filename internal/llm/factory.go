package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenthands/alignoracle/internal/config"
)

// NewBackend selects the provider named in cfg.
func NewBackend(ctx context.Context, cfg config.LLMConfig) (Backend, error) {
	provider := strings.ToLower(cfg.Provider)

	switch provider {
	case "openai":
		return NewOpenAIBackend("openai", cfg.APIKey, cfg.BaseURL), nil

	case "openrouter":
		return NewOpenRouterBackend(cfg.APIKey, cfg.BaseURL), nil

	case "ollama":
		return NewOllamaBackend(cfg.APIKey, cfg.BaseURL), nil

	case "claude":
		return NewClaudeBackend(cfg.APIKey, cfg.BaseURL), nil

	case "gemini":
		return NewGeminiBackend(ctx, cfg.APIKey)

	case "static":
		return NewStaticBackend(cfg.Script), nil

	default:
		return nil, &config.ConfigurationError{Field: "llm.provider", Reason: fmt.Sprintf("unsupported llm provider: %s", cfg.Provider)}
	}
}
