package llm

import (
	"strings"
)

// NewOllamaBackend routes Ollama through its OpenAI-compatible API, which
// also reports token usage.
func NewOllamaBackend(apiKey, baseURL string) *OpenAIBackend {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if !strings.HasSuffix(baseURL, "/v1") {
		baseURL = strings.TrimRight(baseURL, "/") + "/v1"
	}
	if apiKey == "" {
		// Ignored by Ollama but required by the client.
		apiKey = "ollama"
	}
	b := NewOpenAIBackend("ollama", apiKey, baseURL)
	b.legacyMaxTokens = true
	return b
}
