package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/alignoracle/internal/config"
	"github.com/agenthands/alignoracle/internal/core/model"
)

func TestStaticBackend(t *testing.T) {
	b := NewStaticBackend(map[string]string{
		"heart":          "true",
		"blood":          "false",
		DefaultScriptKey: "unsure",
	})

	ask := func(q string) (*Response, error) {
		return b.Submit(context.Background(), Request{Messages: []model.Message{
			{Role: model.RoleSystem, Content: "blood heart"},
			{Role: model.RoleUser, Content: q},
		}})
	}

	resp, err := ask(`Source class: "heart"`)
	require.NoError(t, err)
	assert.Equal(t, "true", resp.Text)
	assert.Equal(t, 5, resp.Usage.InputTokens)

	resp, err = ask("blood vessel")
	require.NoError(t, err)
	assert.Equal(t, "false", resp.Text, "system messages are not matched")

	resp, err = ask("lung")
	require.NoError(t, err)
	assert.Equal(t, "unsure", resp.Text)

	_, err = NewStaticBackend(nil).Submit(context.Background(), Request{})
	assert.True(t, errors.Is(err, ErrBadRequest))
}

func TestNewBackend(t *testing.T) {
	tests := []struct {
		provider string
		name     string
	}{
		{"openai", "openai"},
		{"OpenRouter", "openrouter"},
		{"ollama", "ollama"},
		{"claude", "claude"},
		{"static", "static"},
	}
	for _, tt := range tests {
		b, err := NewBackend(context.Background(), config.LLMConfig{Provider: tt.provider, APIKey: "k"})
		require.NoError(t, err, tt.provider)
		assert.Equal(t, tt.name, b.Name())
	}

	_, err := NewBackend(context.Background(), config.LLMConfig{Provider: "watson"})
	assert.True(t, config.IsConfigurationError(err))
}
