package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/agenthands/alignoracle/internal/core/model"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenAIBackend talks to any OpenAI-compatible chat completions endpoint:
// OpenAI itself, OpenRouter and Ollama.
type OpenAIBackend struct {
	client *openai.Client
	name   string
	// legacyMaxTokens sends max_tokens instead of max_completion_tokens for
	// servers that predate the newer field.
	legacyMaxTokens bool
}

func NewOpenAIBackend(name, apiKey, baseURL string) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIBackend{
		client: openai.NewClientWithConfig(cfg),
		name:   name,
	}
}

func NewOpenRouterBackend(apiKey, baseURL string) *OpenAIBackend {
	if baseURL == "" {
		baseURL = openRouterBaseURL
	}
	return NewOpenAIBackend("openrouter", apiKey, baseURL)
}

func (b *OpenAIBackend) Name() string { return b.name }

func (b *OpenAIBackend) Submit(ctx context.Context, req Request) (*Response, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == model.RoleSystem {
			role = openai.ChatMessageRoleSystem
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	temperature := req.Sampling.Temperature
	if temperature == 0 {
		// go-openai drops a zero temperature from the payload.
		temperature = math.SmallestNonzeroFloat32
	}
	creq := openai.ChatCompletionRequest{
		Model:           req.Model,
		Messages:        msgs,
		Temperature:     temperature,
		TopP:            req.Sampling.TopP,
		ReasoningEffort: req.Sampling.ReasoningEffort,
	}
	if b.legacyMaxTokens {
		creq.MaxTokens = req.Sampling.MaxTokens
	} else {
		creq.MaxCompletionTokens = req.Sampling.MaxTokens
	}
	if req.Sampling.Logprobs {
		creq.LogProbs = true
		creq.TopLogProbs = 3
	}
	if req.Format.Structured() {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.Format.schemaName(),
				Schema: req.Format.jsonSchema(),
				Strict: true,
			},
		}
	}

	resp, err := b.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, b.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, newError(ErrTransport, b.name, 0, fmt.Errorf("no response choices"))
	}

	choice := resp.Choices[0]
	out := &Response{
		Text:  choice.Message.Content,
		Model: resp.Model,
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if choice.LogProbs != nil {
		out.LogprobConfidence = logprobConfidence(choice.LogProbs.Content)
	}
	return out, nil
}

func (b *OpenAIBackend) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(b.name, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(b.name, reqErr.HTTPStatusCode, err)
	}
	return classifyTransport(b.name, err)
}

// logprobConfidence looks for the first true/false answer token and returns
// max(P(true), P(false)) over its top alternatives.
func logprobConfidence(tokens []openai.LogProb) *float64 {
	for _, tok := range tokens {
		if !isAnswerToken(tok.Token) {
			continue
		}
		best := math.Inf(-1)
		for _, alt := range tok.TopLogProbs {
			if isAnswerToken(alt.Token) && alt.LogProb > best {
				best = alt.LogProb
			}
		}
		if math.IsInf(best, -1) {
			best = tok.LogProb
		}
		c := math.Exp(best)
		return &c
	}
	return nil
}

func isAnswerToken(tok string) bool {
	switch strings.ToLower(strings.Trim(tok, " \t\n.,:;*\"'")) {
	case "true", "false":
		return true
	}
	return false
}
