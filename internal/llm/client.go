// Package llm submits chat-style requests to LLM providers acting as the
// alignment oracle.
package llm

import (
	"context"

	"github.com/agenthands/alignoracle/internal/config"
	"github.com/agenthands/alignoracle/internal/core/model"
)

// Sampling holds the generation parameters sent with every request.
type Sampling struct {
	Temperature     float32 `json:"temperature"`
	TopP            float32 `json:"top_p"`
	MaxTokens       int     `json:"max_tokens"`
	Logprobs        bool    `json:"logprobs,omitempty"`
	ReasoningEffort string  `json:"reasoning_effort,omitempty"`
}

// Request is one chat-style oracle call: ordered messages, a model
// identifier and sampling parameters.
type Request struct {
	Model    string          `json:"model"`
	Messages []model.Message `json:"messages"`
	Sampling Sampling        `json:"sampling"`
	Format   OutputFormat    `json:"format,omitempty"`
}

// NewRequest fills model and sampling from the llm section.
func NewRequest(msgs []model.Message, cfg config.LLMConfig) Request {
	return Request{
		Model:    cfg.Model,
		Messages: msgs,
		Sampling: Sampling{
			Temperature:     cfg.Temperature,
			TopP:            cfg.TopP,
			MaxTokens:       cfg.MaxTokens,
			Logprobs:        cfg.Logprobs,
			ReasoningEffort: cfg.ReasoningEffort,
		},
		Format: OutputFormat(cfg.StructuredOutput),
	}
}

type Response struct {
	Text  string
	Model string
	Usage model.TokenUsage
	// LogprobConfidence is derived from the answer token's top logprobs
	// when the provider returns them.
	LogprobConfidence *float64
	Cached            bool
}

// Backend is one oracle provider. Each Submit makes at most one outbound
// call; retries live in Client.
type Backend interface {
	Name() string
	Submit(ctx context.Context, req Request) (*Response, error)
}

func splitMessages(msgs []model.Message) (system, user string) {
	var sys, usr []string
	for _, m := range msgs {
		if m.Role == model.RoleSystem {
			sys = append(sys, m.Content)
		} else {
			usr = append(usr, m.Content)
		}
	}
	return joinNonEmpty(sys), joinNonEmpty(usr)
}

func joinNonEmpty(parts []string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += p
	}
	return out
}
