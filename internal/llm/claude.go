package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/liushuangls/go-anthropic/v2"
)

const defaultClaudeMaxTokens = 1000

type ClaudeBackend struct {
	client *anthropic.Client
}

func NewClaudeBackend(apiKey string, baseURL string) *ClaudeBackend {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &ClaudeBackend{client: anthropic.NewClient(apiKey, opts...)}
}

func (b *ClaudeBackend) Name() string { return "claude" }

func (b *ClaudeBackend) Submit(ctx context.Context, req Request) (*Response, error) {
	system, user := splitMessages(req.Messages)

	maxTokens := req.Sampling.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultClaudeMaxTokens
	}
	temperature := req.Sampling.Temperature
	mreq := anthropic.MessagesRequest{
		Model:  anthropic.Model(req.Model),
		System: system,
		Messages: []anthropic.Message{
			{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewTextMessageContent(user),
				},
			},
		},
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	}
	if req.Sampling.TopP > 0 && req.Sampling.TopP < 1 {
		topP := req.Sampling.TopP
		mreq.TopP = &topP
	}

	resp, err := b.client.CreateMessages(ctx, mreq)
	if err != nil {
		return nil, b.classify(err)
	}
	if len(resp.Content) == 0 || resp.Content[0].Text == nil {
		return nil, newError(ErrTransport, b.Name(), 0, fmt.Errorf("no response content"))
	}

	return &Response{
		Text:  *resp.Content[0].Text,
		Model: string(resp.Model),
		Usage: tokenUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens),
	}, nil
}

func (b *ClaudeBackend) classify(err error) error {
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Type {
		case anthropic.ErrTypeRateLimit:
			return newError(ErrRateLimit, b.Name(), 0, err)
		case anthropic.ErrTypeAuthentication, anthropic.ErrTypePermission:
			return newError(ErrAuthentication, b.Name(), 0, err)
		case anthropic.ErrTypeInvalidRequest, anthropic.ErrTypeNotFound:
			return newError(ErrBadRequest, b.Name(), 0, err)
		default:
			return newError(ErrTransport, b.Name(), 0, err)
		}
	}
	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(b.Name(), reqErr.StatusCode, err)
	}
	return classifyTransport(b.Name(), err)
}
